package attachments

import (
	"context"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/opentracing/opentracing-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/customeros/supportstack/config"
	"github.com/customeros/supportstack/interfaces"
	"github.com/customeros/supportstack/internal/logger"
	"github.com/customeros/supportstack/internal/metrics"
	"github.com/customeros/supportstack/internal/models"
	"github.com/customeros/supportstack/internal/tracing"
	"github.com/customeros/supportstack/internal/utils"
	"github.com/customeros/supportstack/services/email_parser"
)

const (
	KeyPrefix         = "attachments/"
	maxFilenameLength = 255
)

var allowedContentTypes = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.ms-excel",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"text/plain",
	"text/csv",
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)
	repeatedUnderscores = regexp.MustCompile(`_{2,}`)
)

type StoredObject struct {
	Key string
	URL string
}

// StoreError wraps a storage failure for one attachment.
type StoreError struct {
	Filename string
	Err      error
}

func (e *StoreError) Error() string {
	return "store attachment " + e.Filename + ": " + e.Err.Error()
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

type AttachmentService struct {
	storage     interfaces.StorageService
	log         logger.Logger
	maxSize     int64
	concurrency int
}

func NewAttachmentService(storage interfaces.StorageService, log logger.Logger, cfg *config.AttachmentConfig) *AttachmentService {
	concurrency := cfg.UploadConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &AttachmentService{
		storage:     storage,
		log:         log,
		maxSize:     cfg.MaxSizeBytes(),
		concurrency: concurrency,
	}
}

// Accept applies the content-type allow-list and the size ceiling.
func (s *AttachmentService) Accept(contentType string, size int64) bool {
	return s.rejectReason(contentType, size) == ""
}

func (s *AttachmentService) rejectReason(contentType string, size int64) string {
	if !utils.IsStringInSlice(baseContentType(contentType), allowedContentTypes) {
		return metrics.ReasonContentType
	}
	if size < 0 || size > s.maxSize {
		return metrics.ReasonSize
	}
	return ""
}

func baseContentType(contentType string) string {
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}

// SanitizeName is idempotent: its output only contains [A-Za-z0-9._-] with no repeated underscores.
func SanitizeName(filename string) string {
	name := unsafeFilenameChars.ReplaceAllString(filename, "_")
	name = repeatedUnderscores.ReplaceAllString(name, "_")
	if len(name) > maxFilenameLength {
		name = name[:maxFilenameLength]
	}
	return name
}

// StorageKey returns attachments/<uuid><ext>, taking ext from the name or else the content type.
func StorageKey(filename, contentType string) string {
	ext := strings.ToLower(filepath.Ext(SanitizeName(filename)))
	if ext == "." {
		ext = ""
	}
	if ext == "" {
		ext = utils.ExtensionFromContentType(contentType)
	}
	return KeyPrefix + uuid.New().String() + ext
}

func (s *AttachmentService) Store(ctx context.Context, content []byte, safeName, contentType string) (*StoredObject, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "AttachmentService.Store")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("filename", safeName)
	span.SetTag("size", len(content))

	key := StorageKey(safeName, contentType)
	if err := s.storage.Upload(ctx, key, content, baseContentType(contentType)); err != nil {
		tracing.TraceErr(span, err)
		return nil, &StoreError{Filename: safeName, Err: err}
	}

	return &StoredObject{Key: key, URL: s.storage.GetPublicURL(key)}, nil
}

// StoreAll uploads every accepted attachment concurrently. Rejected or failed attachments are
// dropped; the rest keep their input order.
func (s *AttachmentService) StoreAll(ctx context.Context, parsed []email_parser.ParsedAttachment) []*models.Attachment {
	span, ctx := opentracing.StartSpanFromContext(ctx, "AttachmentService.StoreAll")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("input", len(parsed))

	stored := make([]*models.Attachment, len(parsed))

	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)
	for i := range parsed {
		i := i
		att := parsed[i]
		if reason := s.rejectReason(att.ContentType, att.Size); reason != "" {
			metrics.AttachmentsRejected.WithLabelValues(reason).Inc()
			s.log.Warn("attachment rejected",
				zap.String("reason", reason),
				zap.String("filename", att.Filename),
				zap.String("contentType", att.ContentType),
				zap.Int64("size", att.Size))
			continue
		}

		g.Go(func() error {
			object, err := s.Store(ctx, att.Content, SanitizeName(att.Filename), att.ContentType)
			if err != nil {
				metrics.AttachmentsRejected.WithLabelValues(metrics.ReasonStorage).Inc()
				s.log.Error("attachment upload failed",
					zap.String("filename", att.Filename),
					zap.Error(err))
				return nil
			}
			stored[i] = &models.Attachment{
				Filename:    att.Filename,
				StorageKey:  object.Key,
				ContentType: baseContentType(att.ContentType),
				Size:        att.Size,
				URL:         object.URL,
			}
			return nil
		})
	}
	_ = g.Wait()

	result := make([]*models.Attachment, 0, len(stored))
	for _, attachment := range stored {
		if attachment != nil {
			result = append(result, attachment)
		}
	}
	span.SetTag("stored", len(result))
	return result
}
