package repomanager

import (
	"context"
	"database/sql"

	"github.com/avkorolev/wallvault/internal/dbx"
	"github.com/avkorolev/wallvault/internal/server/repositories/uploads"
)

// RepositoryManager vends repositories bound to a DBTX (pool or
// transaction) and owns schema migrations.
type RepositoryManager interface {
	RunMigrations(ctx context.Context, db *sql.DB) error
	Uploads(db dbx.DBTX) uploads.Repository
}
