package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/avkorolev/wallvault/internal/flagx"
	"github.com/avkorolev/wallvault/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON
// unmarshalling. It uses timex.Duration for interval fields, which allows
// parsing both string values such as "5m" and integer nanoseconds.
//
// This struct is an intermediate DTO used only for reading JSON
// configuration files; its fields are copied into the runtime Config.
// Zero values are skipped so the file can override settings selectively.
type JsonConfig struct {
	EndpointAddrHTTP string `json:"endpoint_addr_http"`
	DatabaseDSN      string `json:"database_dsn"`

	S3RootUser     string `json:"s3_root_user"`
	S3RootPassword string `json:"s3_root_password"`
	S3Bucket       string `json:"s3_bucket"`
	S3Region       string `json:"s3_region"`
	S3BaseEndpoint string `json:"s3_base_endpoint"`

	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	EventSubject  string `json:"event_subject"`

	StuckUploadThreshold    timex.Duration `json:"stuck_upload_threshold"`
	MissingEventThreshold   timex.Duration `json:"missing_event_threshold"`
	OrphanedIntentThreshold timex.Duration `json:"orphaned_intent_threshold"`
	MaxUploadRetries        int            `json:"max_upload_retries"`
	ReconcileInterval       timex.Duration `json:"reconcile_interval"`
	CleanupInterval         timex.Duration `json:"cleanup_interval"`
	ObjectListBatchSize     int            `json:"object_list_batch_size"`

	MaxSizeImageBytes int64    `json:"max_size_image_bytes"`
	MinWidth          int      `json:"min_width"`
	MinHeight         int      `json:"min_height"`
	MaxWidth          int      `json:"max_width"`
	MaxHeight         int      `json:"max_height"`
	AllowedFormats    []string `json:"allowed_formats"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance. The file path is taken from the -c or -config flags;
// when neither is set, no JSON file is loaded. An unreadable or invalid
// file panics: a half-applied config is worse than a crash at startup.
func parseJson(config *Config) {

	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.RedisAddr, c.RedisAddr)
	setString(&config.RedisPassword, c.RedisPassword)
	setString(&config.EventSubject, c.EventSubject)

	setDuration(&config.StuckUploadThreshold, c.StuckUploadThreshold)
	setDuration(&config.MissingEventThreshold, c.MissingEventThreshold)
	setDuration(&config.OrphanedIntentThreshold, c.OrphanedIntentThreshold)
	setDuration(&config.ReconcileInterval, c.ReconcileInterval)
	setDuration(&config.CleanupInterval, c.CleanupInterval)

	if c.MaxUploadRetries > 0 {
		config.MaxUploadRetries = c.MaxUploadRetries
	}
	if c.ObjectListBatchSize > 0 {
		config.ObjectListBatchSize = c.ObjectListBatchSize
	}
	if c.MaxSizeImageBytes > 0 {
		config.MaxSizeImageBytes = c.MaxSizeImageBytes
	}
	if c.MinWidth > 0 {
		config.MinWidth = c.MinWidth
	}
	if c.MinHeight > 0 {
		config.MinHeight = c.MinHeight
	}
	if c.MaxWidth > 0 {
		config.MaxWidth = c.MaxWidth
	}
	if c.MaxHeight > 0 {
		config.MaxHeight = c.MaxHeight
	}
	if len(c.AllowedFormats) > 0 {
		config.AllowedFormats = c.AllowedFormats
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration > 0 {
		*dst = v.Duration
	}
}
