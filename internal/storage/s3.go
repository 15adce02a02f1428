package storage

import (
	"context"
	"fmt"
	"github.com/datagovtools/porter/internal/config"
	"github.com/datagovtools/porter/internal/core"
	"github.com/datagovtools/porter/pkg/fsx"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
	"io"
)

type s3Store struct {
	client       s3Client
	bucketConfig config.BucketConfig
	retryConfig  config.RetryConfig
	bucketExists map[string]bool
	log          zerolog.Logger
}

// s3Client is an interface that defines the methods for interacting with S3-compatible storage.
// It is used to abstract the MinIO client to expose limited functionalities, which also allows for mocking in tests.
type s3Client interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)

	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error

	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)

	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)

	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// minioClientWrapper is a wrapper around the MinIO client to implement the s3Client interface.
type minioClientWrapper struct {
	client *minio.Client
}

func (m *minioClientWrapper) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	return m.client.BucketExists(ctx, bucketName)
}

func (m *minioClientWrapper) MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error {
	return m.client.MakeBucket(ctx, bucketName, opts)
}

func (m *minioClientWrapper) StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
	return m.client.StatObject(ctx, bucketName, objectName, opts)
}

func (m *minioClientWrapper) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	return m.client.PutObject(ctx, bucketName, objectName, reader, objectSize, opts)
}

func (m *minioClientWrapper) FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	return m.client.FPutObject(ctx, bucketName, objectName, filePath, opts)
}

// EnsureBucket checks if the configured bucket exists in S3. If it doesn't
// exist, it creates the bucket.
func (s *s3Store) EnsureBucket(ctx context.Context) error {
	if _, exists := s.bucketExists[s.bucketConfig.Bucket]; exists {
		s.log.Trace().
			Str("bucket", s.bucketConfig.Bucket).
			Msg("Bucket existence confirmed from cache")
		return nil
	}

	s.log.Trace().
		Str("bucket", s.bucketConfig.Bucket).
		Msg("Checking if bucket exists")

	exists, err := s.client.BucketExists(ctx, s.bucketConfig.Bucket)
	if err != nil {
		return err
	}

	if !exists {
		s.log.Trace().
			Str("bucket", s.bucketConfig.Bucket).
			Msg("Bucket does not exist, creating it")
		if err := s.client.MakeBucket(ctx, s.bucketConfig.Bucket, minio.MakeBucketOptions{Region: s.bucketConfig.Region}); err != nil {
			s.log.Error().
				Str("bucket", s.bucketConfig.Bucket).
				Err(err).
				Msg("Failed to create bucket")
			return fmt.Errorf("failed to create bucket: %w", err)
		}
		s.log.Trace().
			Str("bucket", s.bucketConfig.Bucket).
			Msg("Bucket created successfully")
	}

	s.bucketExists[s.bucketConfig.Bucket] = true
	return nil
}

// Put streams an object into the bucket and returns its public URL.
func (s *s3Store) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	s.log.Debug().
		Str("object", key).
		Str("bucket", s.bucketConfig.Bucket).
		Int64("size", size).
		Str("content_type", contentType).
		Msg("Uploading object to bucket")

	info, err := s.client.PutObject(ctx, s.bucketConfig.Bucket, key, r, size, minio.PutObjectOptions{
		ContentType:    contentType,
		SendContentMd5: true,
	})
	if err != nil {
		s.log.Error().
			Str("object", key).
			Str("bucket", s.bucketConfig.Bucket).
			Err(err).
			Msg("Failed to upload object to bucket")
		return "", fmt.Errorf("failed to upload object to S3: %w", err)
	}

	s.log.Info().
		Str("object", key).
		Str("bucket", s.bucketConfig.Bucket).
		Str("etag", info.ETag).
		Str("size", fmt.Sprintf("%d bytes", info.Size)).
		Msg("Object uploaded successfully to the bucket")

	return s.ObjectURL(key), nil
}

// PutFile uploads a local file to the bucket and returns its public URL. The
// upload is skipped when the bucket already holds the file with the same
// checksum.
func (s *s3Store) PutFile(ctx context.Context, key string, path string, contentType string) (string, error) {
	s.log.Info().
		Str("src", path).
		Str("object", key).
		Str("bucket", s.bucketConfig.Bucket).
		Msg("Attempting to sync file with the bucket")

	localChecksum, err := fsx.FileMD5(path)
	if err != nil {
		s.log.Error().
			Str("src", path).
			Err(err).
			Msg("Failed to calculate local file checksum")
		return "", fmt.Errorf("failed to calculate local checksum: %w", err)
	}

	attr, err := s.client.StatObject(ctx, s.bucketConfig.Bucket, key, minio.StatObjectOptions{})
	if err == nil && localChecksum == attr.ETag {
		s.log.Info().
			Str("src", path).
			Str("object", key).
			Str("md5", attr.ETag).
			Str("bucket", s.bucketConfig.Bucket).
			Time("last_modified", attr.LastModified).
			Msg("File already exists in bucket, skipping upload")
		return s.ObjectURL(key), nil
	}

	s.log.Debug().
		Str("src", path).
		Str("object", key).
		Str("local_checksum", localChecksum).
		Str("bucket", s.bucketConfig.Bucket).
		Msg("Uploading file to bucket")

	info, err := s.client.FPutObject(ctx, s.bucketConfig.Bucket, key, path, minio.PutObjectOptions{
		ContentType:           contentType,
		SendContentMd5:        true,
		ConcurrentStreamParts: false,
	})
	if err != nil {
		s.log.Error().
			Str("src", path).
			Str("object", key).
			Str("bucket", s.bucketConfig.Bucket).
			Err(err).
			Msg("Failed to upload file to bucket")
		return "", fmt.Errorf("failed to upload file to S3: %w", err)
	}

	s.log.Info().
		Str("src", path).
		Str("object", key).
		Str("checksum", info.ETag).
		Str("bucket", s.bucketConfig.Bucket).
		Time("last_modified", info.LastModified).
		Str("size", fmt.Sprintf("%d bytes", info.Size)).
		Msg("File uploaded successfully to the bucket")

	return s.ObjectURL(key), nil
}

// ObjectURL returns the public URL of an object key in the configured bucket.
func (s *s3Store) ObjectURL(key string) string {
	scheme := "http"
	if s.bucketConfig.UseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, s.bucketConfig.Endpoint, s.bucketConfig.Bucket, key)
}

// NewS3 creates an object store backed by an S3-compatible bucket.
//
// Parameters:
//   - bucketConfig: The bucket settings, already holding resolved credentials.
//   - retryConfig: The retry limit applied to every S3 request.
//   - log: The logger for upload progress and failures.
//
// Returns:
//   - The object store, or an error if the configuration is invalid or the
//     client cannot be constructed.
func NewS3(bucketConfig config.BucketConfig, retryConfig config.RetryConfig, log zerolog.Logger) (core.ObjectStore, error) {
	if err := config.ValidateBucketConfig(bucketConfig); err != nil {
		log.Error().
			Err(err).
			Msg("Invalid bucket configuration")
		return nil, err
	}

	client, err := minio.New(bucketConfig.Endpoint, &minio.Options{
		Creds:      credentials.NewStaticV4(bucketConfig.AccessKey, bucketConfig.SecretKey, ""),
		Secure:     bucketConfig.UseSSL,
		MaxRetries: retryConfig.Limit,
	})
	if err != nil {
		log.Error().
			Err(err).
			Msg("Failed to create MinIO client")
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	log.Trace().
		Str("endpoint", bucketConfig.Endpoint).
		Str("bucket", bucketConfig.Bucket).
		Msg("MinIO client created successfully")

	return &s3Store{
		client:       &minioClientWrapper{client: client},
		bucketConfig: bucketConfig,
		retryConfig:  retryConfig,
		bucketExists: make(map[string]bool),
		log:          log,
	}, nil
}
