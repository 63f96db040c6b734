// Package audit archives a record of every tenant schema that is about to be
// dropped for a rebuild. Records are JSON objects written to an
// S3-compatible bucket.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/tenantry/internal/server/config"
	"github.com/dmitrijs2005/tenantry/internal/server/models"
	"github.com/google/uuid"
)

const ActionRebuild = "rebuild"

// Record describes one destructive operation on a tenant schema.
type Record struct {
	Action          string    `json:"action"`
	TenantID        string    `json:"tenant_id"`
	Slug            string    `json:"slug"`
	SchemaName      string    `json:"schema_name"`
	AppliedVersions []int64   `json:"applied_versions"`
	At              time.Time `json:"at"`
}

// ObjectPutter is the part of *s3.Client the archiver needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Archiver struct {
	client ObjectPutter
	bucket string
	now    func() time.Time
}

func NewArchiver(client ObjectPutter, bucket string) *Archiver {
	return &Archiver{client: client, bucket: bucket, now: time.Now}
}

var loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

// NewS3Archiver builds an Archiver on a static-credential S3 client for the
// bucket, region and endpoint in cfg. Path-style addressing is used so that
// MinIO and other self-hosted stores work.
func NewS3Archiver(ctx context.Context, cfg *config.Config) (*Archiver, error) {
	awsCfg, err := loadDefaultAWSConfig(ctx,
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.S3AccessKey,
			cfg.S3SecretKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3BaseEndpoint)
		}
		o.UsePathStyle = true
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})

	return NewArchiver(client, cfg.S3Bucket), nil
}

// Key returns the object key for r: rebuilds/<yyyy>/<mm>/<dd>/<slug>-<uuid>.json.
func Key(r Record) string {
	return fmt.Sprintf("%ss/%d/%02d/%02d/%s-%s.json", r.Action, r.At.Year(), r.At.Month(), r.At.Day(), r.Slug, uuid.New())
}

// Archive stores r and returns its object key.
func (a *Archiver) Archive(ctx context.Context, r Record) (string, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return "", err
	}

	key := Key(r)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("put %s/%s: %w", a.bucket, key, err)
	}
	return key, nil
}

// RecordRebuild archives the state of t's schema before it is dropped.
func (a *Archiver) RecordRebuild(ctx context.Context, t *models.Tenant, applied []int64) error {
	_, err := a.Archive(ctx, Record{
		Action:          ActionRebuild,
		TenantID:        t.ID,
		Slug:            t.Slug,
		SchemaName:      t.SchemaName,
		AppliedVersions: applied,
		At:              a.now().UTC(),
	})
	return err
}
