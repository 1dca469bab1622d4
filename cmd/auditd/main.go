package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/recordvault/audittrail/internal/audit"
	"github.com/recordvault/audittrail/internal/config"
	"github.com/recordvault/audittrail/internal/httpserver"
	"github.com/recordvault/audittrail/internal/keys"
	"github.com/recordvault/audittrail/internal/signer"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg := config.LoadFromEnv()

	// Database (optional): Postgres when configured, in-memory otherwise.
	var db *sql.DB
	if cfg.DatabaseURL != "" {
		var err error
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to open postgres: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			log.Fatalf("failed to ping postgres: %v", err)
		}
		log.Println("connected to postgres")
	}

	var store audit.Store
	if db != nil {
		store = audit.NewPGStore(db)
	} else {
		log.Println("no postgres configured; using in-memory store (dev only)")
		store = audit.NewMemoryStore()
	}

	// Notifier: Kafka when brokers+topic configured, no-op otherwise.
	var notifier audit.Notifier = audit.NopNotifier{}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaTopic != "" {
		kn, err := audit.NewKafkaNotifier(audit.KafkaNotifierConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		})
		if err != nil {
			log.Fatalf("failed to initialize kafka notifier: %v", err)
		}
		notifier = kn
		log.Printf("kafka notifier initialized (brokers=%v topic=%s)", cfg.KafkaBrokers, cfg.KafkaTopic)
	} else {
		log.Println("kafka notifier not configured; escalations will be dropped")
	}

	// Archiver: S3 export of archived entries when a bucket is configured.
	var archiver audit.Archiver
	if cfg.S3Bucket != "" {
		a, err := audit.NewS3Archiver(context.Background(), cfg.S3Bucket, cfg.S3Prefix)
		if err != nil {
			log.Fatalf("failed to initialize s3 archiver: %v", err)
		}
		archiver = a
		log.Printf("s3 archiver initialized (bucket=%s prefix=%s)", cfg.S3Bucket, cfg.S3Prefix)
	}

	workflow := audit.NewWorkflow(store, notifier, archiver)

	// Signing: optional Ed25519 countersignature of each entry hash, with
	// the public key published for auditors via the key registry.
	reg := keys.NewRegistry()
	recorderOpts := []audit.RecorderOption{audit.WithLockTimeout(cfg.LockTimeout)}
	if cfg.SigningOn {
		s := signer.NewLocalSigner(cfg.SignerID)
		reg.AddSigner(cfg.SignerID, s.PublicKey(), "Ed25519")
		recorderOpts = append(recorderOpts, audit.WithSigner(s))
		log.Printf("entry signing enabled (signer=%s)", cfg.SignerID)
	}
	recorder := audit.NewRecorder(store, workflow, recorderOpts...)

	var verifyReg *keys.Registry
	if cfg.SigningOn {
		verifyReg = reg
	}
	verifier := audit.NewVerifier(store, verifyReg)

	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: httpserver.New(httpserver.Options{
			Recorder:      recorder,
			Workflow:      workflow,
			Verifier:      verifier,
			Store:         store,
			Registry:      reg,
			JWTSecret:     cfg.JWTSecret,
			RequireReview: cfg.RequireReview,
		}).Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("starting auditd on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("shutdown error: %v", err)
	}

	if err := notifier.Close(); err != nil {
		log.Printf("notifier close error: %v", err)
	}
	if db != nil {
		_ = db.Close()
	}
	log.Println("server stopped")
}
