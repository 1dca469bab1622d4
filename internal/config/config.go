// Package config provides the environment-backed configuration loader used
// by the auditd bootstrap (cmd/auditd/main.go).
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the runtime config values used by main.go. Keep this
// intentionally minimal.
type Config struct {
	DatabaseURL   string        // DATABASE_URL (empty -> in-memory store)
	ListenAddr    string        // LISTEN_ADDR (default :8080)
	KafkaBrokers  []string      // KAFKA_BROKERS (comma-separated)
	KafkaTopic    string        // KAFKA_TOPIC
	S3Bucket      string        // S3_BUCKET
	S3Prefix      string        // S3_PREFIX (optional)
	JWTSecret     string        // JWT_SECRET (empty disables token auth)
	SignerID      string        // SIGNER_ID
	SigningOn     bool          // SIGNING_ENABLED
	LockTimeout   time.Duration // LOCK_TIMEOUT_MS
	RequireReview bool          // REQUIRE_REVIEWER_ROLE (gate lifecycle endpoints)
}

// LoadFromEnv reads config values from environment variables.
func LoadFromEnv() *Config {
	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		ListenAddr:  os.Getenv("LISTEN_ADDR"),
		KafkaTopic:  strings.TrimSpace(os.Getenv("KAFKA_TOPIC")),
		S3Bucket:    strings.TrimSpace(os.Getenv("S3_BUCKET")),
		S3Prefix:    strings.TrimSpace(os.Getenv("S3_PREFIX")),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		SignerID:    os.Getenv("SIGNER_ID"),
	}

	if raw := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); raw != "" {
		for _, b := range strings.Split(raw, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	// sensible defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.SignerID == "" {
		cfg.SignerID = "audit-signer-1"
	}
	cfg.LockTimeout = 5 * time.Second
	if v := os.Getenv("LOCK_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.LockTimeout = time.Duration(n) * time.Millisecond
		}
	}

	// booleans parsed permissively; default false
	if v := os.Getenv("SIGNING_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.SigningOn = b
		}
	}
	if v := os.Getenv("REQUIRE_REVIEWER_ROLE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.RequireReview = b
		}
	}

	return cfg
}
