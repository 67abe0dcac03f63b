// Package archive stores finished verification reports in S3.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ignite/campaign-engine/internal/domain"
)

// S3API is the part of the S3 client used here.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Archiver is what the verification runner needs.
type Archiver interface {
	ArchiveJob(ctx context.Context, job *domain.VerificationJob) (string, error)
}

type S3Archive struct {
	client S3API
	bucket string
	prefix string
}

func NewS3Archive(client S3API, bucket, prefix string) *S3Archive {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Archive{client: client, bucket: bucket, prefix: prefix}
}

// Key returns the object key for a job: <prefix>verification/2026/01/02/<id>.json.
func (a *S3Archive) Key(job *domain.VerificationJob) string {
	ts := job.CreatedAt
	if job.CompletedAt != nil {
		ts = *job.CompletedAt
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	return fmt.Sprintf("%sverification/%s/%s.json", a.prefix, ts.UTC().Format("2006/01/02"), job.ID)
}

// ArchiveJob writes the job document and returns its key.
func (a *S3Archive) ArchiveJob(ctx context.Context, job *domain.VerificationJob) (string, error) {
	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}
	key := a.Key(job)

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"job_status":  string(job.Status),
			"archived_at": time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return "", fmt.Errorf("upload report to s3: %w", err)
	}
	return key, nil
}

// Ping checks the bucket is reachable; used by the readiness probe.
func (a *S3Archive) Ping(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)})
	return err
}
