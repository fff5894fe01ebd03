// Package storage uploads synthesized audio to object storage and hands
// back time-limited retrieval links. The uploader is an optional
// collaborator: when unconfigured the gateway serves bytes inline.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"go.uber.org/zap"
)

const (
	keyPrefix   = "tts-cache/"
	presignTTL  = time.Hour
	uploadLimit = 30 * time.Second
)

// Uploader stores an audio file and returns a presigned retrieval URL.
// Callers treat any error as "no URL" and degrade to inline bytes.
type Uploader interface {
	Upload(ctx context.Context, filePath, cacheKey string) (string, error)
}

// S3Uploader stores audio under tts-cache/ in one bucket.
type S3Uploader struct {
	svc    *s3.S3
	bucket string
	logger *zap.Logger
}

// NewS3Uploader builds an uploader for bucket in region. Credentials come
// from the environment or an attached IAM role, same as the rest of the
// SDK's default chain.
func NewS3Uploader(bucket, region string, logger *zap.Logger) (*S3Uploader, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(region),
	})
	if err != nil {
		return nil, fmt.Errorf("aws session: %w", err)
	}

	return &S3Uploader{
		svc:    s3.New(sess),
		bucket: bucket,
		logger: logger.Named("s3"),
	}, nil
}

// Upload puts the file at filePath under tts-cache/<cacheKey> and returns
// a presigned GET URL valid for one hour.
func (u *S3Uploader) Upload(parentCtx context.Context, filePath, cacheKey string) (string, error) {
	ctx, cancel := context.WithTimeout(parentCtx, uploadLimit)
	defer cancel()

	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	key := keyPrefix + cacheKey
	contentType := contentTypeForExt(filepath.Ext(filePath))

	_, err = u.svc.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}

	req, _ := u.svc.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
	})
	url, err := req.Presign(presignTTL)
	if err != nil {
		return "", fmt.Errorf("presign: %w", err)
	}

	u.logger.Debug("audio uploaded",
		zap.String("key", key),
		zap.String("content_type", contentType),
	)

	return url, nil
}

func contentTypeForExt(ext string) string {
	switch ext {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".ogg":
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}
