package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	sc "github.com/okulov/vaultsync/internal/server/config"
)

// BlobStore keeps vault ciphertext outside the database row. The Postgres
// backend does not use one; the vault row carries the blob inline.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// GetRandomStorageKey produces a date-sharded object key for one revision.
func GetRandomStorageKey(userID string) string {
	d := time.Now()
	return fmt.Sprintf("vaults/%s/%d/%d/%d/%v", userID, d.Year(), d.Month(), d.Day(), uuid.New())
}

var (
	loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	s3PutObject = func(c *s3.Client, ctx context.Context, in *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
		return c.PutObject(ctx, in)
	}
	s3GetObject = func(c *s3.Client, ctx context.Context, in *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
		return c.GetObject(ctx, in)
	}
)

// S3BlobStore stores each revision as one immutable object. Works against
// AWS or a MinIO deployment via BaseEndpoint.
type S3BlobStore struct {
	config *sc.Config
	client *s3.Client
}

func NewS3BlobStore(cfg *sc.Config) (*S3BlobStore, error) {
	awsCfg, err := loadDefaultAWSConfig(context.Background(),
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.S3RootUser,
			cfg.S3RootPassword,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.S3BaseEndpoint)
		o.UsePathStyle = true
	})

	return &S3BlobStore{config: cfg, client: client}, nil
}

func (s *S3BlobStore) Put(ctx context.Context, key string, data []byte) error {
	_, err := s3PutObject(s.client, ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.config.S3Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("putting vault object: %w", err)
	}
	return nil
}

func (s *S3BlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s3GetObject(s.client, ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.config.S3Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("getting vault object: %w", err)
	}
	defer out.Body.Close()

	return io.ReadAll(out.Body)
}
