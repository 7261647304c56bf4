package storage

import (
	"bytes"
	"context"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/supportstack/interfaces"
	"github.com/customeros/supportstack/internal/tracing"
	"github.com/customeros/supportstack/services/storage/aws_client"
)

// ObjectStorageService implements StorageService on any S3-compatible bucket.
type ObjectStorageService struct {
	client     aws_client.S3Client
	bucketName string
	isPublic   bool
	publicURL  string
}

type StorageConfig struct {
	BucketName string
	IsPublic   bool
	// PublicURL is the base URL objects are served from, e.g. an R2 public bucket domain.
	PublicURL string
}

func NewStorageService(client aws_client.S3Client, config StorageConfig) interfaces.StorageService {
	return &ObjectStorageService{
		client:     client,
		bucketName: config.BucketName,
		isPublic:   config.IsPublic,
		publicURL:  strings.TrimRight(config.PublicURL, "/"),
	}
}

func (s *ObjectStorageService) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ObjectStorageService.Upload")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("bucket", s.bucketName)
	span.SetTag("size", len(data))

	input := &s3manager.UploadInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	}
	if s.isPublic {
		input.ACL = aws.String("public-read")
	}

	if err := s.client.Upload(ctx, input); err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrapf(err, "upload %s", key)
	}
	return nil
}

func (s *ObjectStorageService) Download(ctx context.Context, key string) ([]byte, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ObjectStorageService.Download")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	content, err := s.client.Download(ctx, s.bucketName, key)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrapf(err, "download %s", key)
	}
	return content, nil
}

func (s *ObjectStorageService) Delete(ctx context.Context, key string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ObjectStorageService.Delete")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	if err := s.client.Delete(ctx, s.bucketName, key); err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrapf(err, "delete %s", key)
	}
	return nil
}

// GetPublicURL joins the configured base URL and key; without a base it returns the bare key path.
func (s *ObjectStorageService) GetPublicURL(key string) string {
	return s.publicURL + "/" + strings.TrimLeft(key, "/")
}
