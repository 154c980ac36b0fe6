package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/avkorolev/wallvault/internal/dbx"
	"github.com/avkorolev/wallvault/internal/logging"
	"github.com/avkorolev/wallvault/internal/server/config"
	"github.com/avkorolev/wallvault/internal/server/models"
	"github.com/avkorolev/wallvault/internal/server/repositories/uploads"
)

// Shared fakes for the package tests.

type fakeRepo struct {
	uploads.Repository

	stuck     []*models.UploadRecord
	stale     []*models.UploadRecord
	initiated []*models.UploadRecord
	selectErr error

	stuckCalls     int
	staleCalls     int
	initiatedCalls int

	recovered   []string
	incremented []string
	failed      map[string]string
	processing  []string
	deleted     []string

	states map[string]models.UploadState
}

func popRecord(queue *[]*models.UploadRecord) *models.UploadRecord {
	if len(*queue) == 0 {
		return nil
	}
	rec := (*queue)[0]
	*queue = (*queue)[1:]
	return rec
}

func (f *fakeRepo) SelectStuckUploading(ctx context.Context, cutoff time.Time) (*models.UploadRecord, error) {
	f.stuckCalls++
	if f.selectErr != nil {
		return nil, f.selectErr
	}
	return popRecord(&f.stuck), nil
}

func (f *fakeRepo) SelectStaleStored(ctx context.Context, cutoff time.Time) (*models.UploadRecord, error) {
	f.staleCalls++
	if f.selectErr != nil {
		return nil, f.selectErr
	}
	return popRecord(&f.stale), nil
}

func (f *fakeRepo) SelectStaleInitiated(ctx context.Context, cutoff time.Time) (*models.UploadRecord, error) {
	f.initiatedCalls++
	if f.selectErr != nil {
		return nil, f.selectErr
	}
	return popRecord(&f.initiated), nil
}

func (f *fakeRepo) RecoverToStored(ctx context.Context, id string) error {
	f.recovered = append(f.recovered, id)
	return nil
}

func (f *fakeRepo) IncrementAttempts(ctx context.Context, id string) error {
	f.incremented = append(f.incremented, id)
	return nil
}

func (f *fakeRepo) TransitionToFailed(ctx context.Context, id, reason string) error {
	if f.failed == nil {
		f.failed = make(map[string]string)
	}
	f.failed[id] = reason
	return nil
}

func (f *fakeRepo) TransitionToProcessing(ctx context.Context, id string) error {
	f.processing = append(f.processing, id)
	return nil
}

func (f *fakeRepo) DeleteIntent(ctx context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeRepo) ListStatesByIDs(ctx context.Context, ids []string) (map[string]models.UploadState, error) {
	result := make(map[string]models.UploadState, len(ids))
	for _, id := range ids {
		if state, ok := f.states[id]; ok {
			result[id] = state
		}
	}
	return result, nil
}

type fakeManager struct {
	repo *fakeRepo
}

func (m *fakeManager) RunMigrations(ctx context.Context, db *sql.DB) error { return nil }

func (m *fakeManager) Uploads(db dbx.DBTX) uploads.Repository { return m.repo }

type fakeBus struct {
	subject  string
	payloads [][]byte
	err      error
}

func (f *fakeBus) Publish(ctx context.Context, subject string, payload []byte) error {
	if f.err != nil {
		return f.err
	}
	f.subject = subject
	f.payloads = append(f.payloads, payload)
	return nil
}

type fakeStore struct {
	head    map[string]bool
	headErr error

	pages   [][]string
	listErr error

	deleted   []string
	deleteErr map[string]error
}

func (f *fakeStore) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	return nil
}

func (f *fakeStore) HeadObject(ctx context.Context, key string) (bool, error) {
	if f.headErr != nil {
		return false, f.headErr
	}
	return f.head[key], nil
}

func (f *fakeStore) DeleteObject(ctx context.Context, key string) error {
	if err := f.deleteErr[key]; err != nil {
		return err
	}
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeStore) ListObjects(ctx context.Context, token string, maxKeys int32) ([]string, string, error) {
	if f.listErr != nil {
		return nil, "", f.listErr
	}
	if len(f.pages) == 0 {
		return nil, "", nil
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	next := ""
	if len(f.pages) > 0 {
		next = "more"
	}
	return page, next, nil
}

func (f *fakeStore) Bucket() string { return "walls" }

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	return cfg
}

// scriptedPolicy replays a canned sequence of ReconcileOne outcomes.

type policyStep struct {
	acted bool
	err   error
}

type scriptedPolicy struct {
	name  string
	steps []policyStep
	calls int
}

func (p *scriptedPolicy) Name() string { return p.name }

func (p *scriptedPolicy) ReconcileOne(ctx context.Context, repo uploads.Repository) (bool, error) {
	step := p.steps[p.calls]
	p.calls++
	return step.acted, step.err
}

func TestEngine_DrainsPolicyUntilEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	for i := 0; i < 3; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
	}

	p := &scriptedPolicy{name: "scripted", steps: []policyStep{{acted: true}, {acted: true}, {acted: false}}}
	e := NewEngine(db, &fakeManager{repo: &fakeRepo{}}, []RowPolicy{p}, testLogger())

	e.Run(context.Background())

	if p.calls != 3 {
		t.Fatalf("want 3 calls, got %d", p.calls)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestEngine_PolicyFailureDoesNotStopOthers(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectCommit()

	broken := &scriptedPolicy{name: "broken", steps: []policyStep{{err: errors.New("boom")}}}
	healthy := &scriptedPolicy{name: "healthy", steps: []policyStep{{acted: false}}}
	e := NewEngine(db, &fakeManager{repo: &fakeRepo{}}, []RowPolicy{broken, healthy}, testLogger())

	e.Run(context.Background())

	if healthy.calls != 1 {
		t.Fatal("second policy must still run after the first fails")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestEngine_ErrorRollsBackAndStopsPolicy(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	p := &scriptedPolicy{name: "poison", steps: []policyStep{{acted: true, err: errors.New("poison row")}, {acted: true}}}
	e := NewEngine(db, &fakeManager{repo: &fakeRepo{}}, []RowPolicy{p}, testLogger())

	e.Run(context.Background())

	if p.calls != 1 {
		t.Fatalf("policy must stop after the first error, got %d calls", p.calls)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

// A down event bus must not cause a retry storm: the cycle touches one
// candidate, fails, and leaves the rest for the next scheduled run.
func TestEngine_BusFailureLeavesRemainingRowsUntouched(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	repo := &fakeRepo{}
	for i := 0; i < 5; i++ {
		repo.stale = append(repo.stale, &models.UploadRecord{
			ID:          "wlpr_" + string(rune('a'+i)),
			UploadState: models.StateStored,
		})
	}

	policy := NewMissingEvents(&fakeBus{err: errors.New("stream unavailable")}, testConfig(), testLogger())
	e := NewEngine(db, &fakeManager{repo: repo}, []RowPolicy{policy}, testLogger())

	e.Run(context.Background())

	if repo.staleCalls != 1 {
		t.Fatalf("want a single candidate lookup, got %d", repo.staleCalls)
	}
	if len(repo.processing) != 0 {
		t.Fatalf("no row may advance when publish fails: %v", repo.processing)
	}
	if len(repo.stale) != 4 {
		t.Fatalf("remaining candidates must stay eligible, %d left", len(repo.stale))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
