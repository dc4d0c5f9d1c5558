package media

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/mediakeep/upload-service/internal/config"
	"github.com/mediakeep/upload-service/internal/types"
	"github.com/mediakeep/upload-service/internal/upload"
)

// Service implements upload.ObjectStore against MinIO/S3. Only write grants
// and metadata lookups cross this boundary; file bytes go straight from the
// client to storage.
type Service struct {
	core       *minio.Core
	bucketName string
}

// NewService creates a new media service instance
func NewService(cfg *config.Config) (*Service, error) {
	core, err := minio.NewCore(cfg.MinIO.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinIO.AccessKeyID, cfg.MinIO.SecretAccessKey, ""),
		Secure: cfg.MinIO.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	service := &Service{
		core:       core,
		bucketName: cfg.MinIO.BucketName,
	}

	if err := service.ensureBucket(); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket exists: %w", err)
	}

	return service, nil
}

// ensureBucket creates the bucket if it doesn't exist
func (s *Service) ensureBucket() error {
	ctx := context.Background()

	exists, err := s.core.BucketExists(ctx, s.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check if bucket exists: %w", err)
	}

	if !exists {
		err = s.core.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

// PresignedPut returns a time-limited URL authorizing one PUT of the object.
// The content type is part of the signature, so the client must send the
// declared type or the PUT is rejected.
func (s *Service) PresignedPut(ctx context.Context, key, contentType string, expiry time.Duration) (string, error) {
	headers := http.Header{}
	if contentType != "" {
		headers.Set("Content-Type", contentType)
	}

	presignedURL, err := s.core.PresignHeader(ctx, http.MethodPut, s.bucketName, key, expiry, url.Values{}, headers)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return presignedURL.String(), nil
}

// CreateMultipartSession starts a multipart upload and returns its id.
func (s *Service) CreateMultipartSession(ctx context.Context, key, contentType string) (string, error) {
	uploadID, err := s.core.NewMultipartUpload(ctx, s.bucketName, key, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create multipart session: %w", err)
	}
	return uploadID, nil
}

// PresignPart returns a time-limited URL authorizing the PUT of one part of
// an open multipart session.
func (s *Service) PresignPart(ctx context.Context, key, uploadID string, partNumber int, expiry time.Duration) (string, error) {
	params := url.Values{}
	params.Set("uploadId", uploadID)
	params.Set("partNumber", strconv.Itoa(partNumber))

	presignedURL, err := s.core.Presign(ctx, "PUT", s.bucketName, key, expiry, params)
	if err != nil {
		return "", fmt.Errorf("failed to presign part %d: %w", partNumber, err)
	}
	return presignedURL.String(), nil
}

// CompleteMultipartSession finalizes a session from its part ETags.
func (s *Service) CompleteMultipartSession(ctx context.Context, key, uploadID string, parts []types.CompletedPart) (string, error) {
	sorted := make([]types.CompletedPart, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PartNumber < sorted[j].PartNumber })

	completeParts := make([]minio.CompletePart, len(sorted))
	for i, p := range sorted {
		completeParts[i] = minio.CompletePart{
			PartNumber: p.PartNumber,
			ETag:       p.ETag,
		}
	}

	info, err := s.core.CompleteMultipartUpload(ctx, s.bucketName, key, uploadID, completeParts, minio.PutObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to complete multipart session: %w", err)
	}
	return info.ETag, nil
}

// AbortMultipartSession abandons an in-flight session.
func (s *Service) AbortMultipartSession(ctx context.Context, key, uploadID string) error {
	if err := s.core.AbortMultipartUpload(ctx, s.bucketName, key, uploadID); err != nil {
		return fmt.Errorf("failed to abort multipart session: %w", err)
	}
	return nil
}

// Stat returns object metadata, mapping a missing key to upload.ErrNotFound.
func (s *Service) Stat(ctx context.Context, key string) (types.ObjectStat, error) {
	info, err := s.core.StatObject(ctx, s.bucketName, key, minio.StatObjectOptions{})
	if err != nil {
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
			return types.ObjectStat{}, fmt.Errorf("object %s: %w", key, upload.ErrNotFound)
		}
		return types.ObjectStat{}, fmt.Errorf("failed to stat object: %w", err)
	}

	return types.ObjectStat{
		Size:         info.Size,
		ETag:         info.ETag,
		ContentType:  info.ContentType,
		LastModified: info.LastModified,
	}, nil
}
