package audit

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/recordvault/audittrail/internal/canonical"
)

// Archiver exports the canonical envelope of an entry to long-term object
// storage when the entry is archived.
type Archiver interface {
	ArchiveEntry(ctx context.Context, e *AuditEntry) (objectKey string, err error)
}

// S3Archiver writes canonical audit envelopes to S3 paths like:
//
//	s3://<bucket>/<prefix>/audit/<tenant>/YYYY/MM/DD/<id>.json
type S3Archiver struct {
	bucket   string
	prefix   string
	client   *s3.Client
	uploader *manager.Uploader
}

// NewS3Archiver creates an S3Archiver. Region and credentials come from the
// environment (AWS_REGION, AWS_PROFILE, AWS_ACCESS_KEY_ID/SECRET, etc.).
func NewS3Archiver(ctx context.Context, bucket string, prefix string) (*S3Archiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket required")
	}
	cfg, err := awsConfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &S3Archiver{
		bucket:   bucket,
		prefix:   prefix,
		client:   client,
		uploader: manager.NewUploader(client),
	}, nil
}

// ArchiveEntry uploads the canonical envelope of the entry plus its
// lifecycle fields, so the exported object is self-contained for an
// external auditor.
func (s *S3Archiver) ArchiveEntry(ctx context.Context, e *AuditEntry) (string, error) {
	if e == nil {
		return "", fmt.Errorf("nil entry")
	}

	envelope := EntryEnvelope(e)
	envelope["id"] = e.ID
	envelope["severity"] = string(e.Severity)
	envelope["sequenceRef"] = e.SequenceRef
	envelope["contentHash"] = e.ContentHash
	envelope["signature"] = e.Signature
	envelope["signerId"] = e.SignerID
	envelope["state"] = string(e.State)

	canonBytes, err := canonical.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("canonicalize envelope: %w", err)
	}

	ts := time.Now().UTC()
	if !e.Timestamp.IsZero() {
		ts = e.Timestamp
	}
	year, month, day := ts.Date()
	objectKey := path.Join(s.prefix, "audit", e.TenantID,
		fmt.Sprintf("%04d", year),
		fmt.Sprintf("%02d", int(month)),
		fmt.Sprintf("%02d", day),
		fmt.Sprintf("%d.json", e.ID),
	)

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(canonBytes),
		ContentType: aws.String("application/json"),
		// Server-side encryption with S3-managed keys (SSE-S3).
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return "", fmt.Errorf("s3 upload failed: %w", err)
	}
	return objectKey, nil
}
