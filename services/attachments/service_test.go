package attachments

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/customeros/supportstack/config"
	"github.com/customeros/supportstack/internal/logger"
	"github.com/customeros/supportstack/services/email_parser"
)

type mockStorage struct {
	mock.Mock
}

func (m *mockStorage) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	args := m.Called(ctx, key, data, contentType)
	return args.Error(0)
}

func (m *mockStorage) Download(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	return nil, args.Error(1)
}

func (m *mockStorage) Delete(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *mockStorage) GetPublicURL(key string) string {
	return "https://files.example.com/" + key
}

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{DevMode: true})
	appLogger.InitLogger()
	return appLogger
}

func newService(storage *mockStorage) *AttachmentService {
	return NewAttachmentService(storage, getLogger(), &config.AttachmentConfig{MaxSizeMB: 10, UploadConcurrency: 2})
}

const mb = 1024 * 1024

func TestAccept(t *testing.T) {
	svc := newService(new(mockStorage))

	tests := []struct {
		contentType string
		size        int64
		expected    bool
	}{
		{"application/pdf", 1024, true},
		{"application/pdf; name=\"a.pdf\"", 1024, true},
		{"TEXT/PLAIN; charset=utf-8", 10, true},
		{"text/csv", 10, true},
		{"image/webp", 10, true},
		{"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", 10, true},
		{"application/x-msdownload", 10, false},
		{"image/svg+xml", 10, false},
		{"", 10, false},
		{"application/pdf", 10 * mb, true},
		{"application/pdf", 10*mb + 1, false},
		{"application/pdf", 15 * mb, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, svc.Accept(tt.contentType, tt.size), "%s/%d", tt.contentType, tt.size)
	}
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "my_report_final_.pdf", SanitizeName("my report (final).pdf"))
	assert.Equal(t, "a_b", SanitizeName("a___b"))
	assert.Equal(t, "_.pdf", SanitizeName("çã.pdf"))
	assert.Equal(t, "", SanitizeName(""))
	assert.Len(t, SanitizeName(strings.Repeat("a", 300)), 255)
}

func TestSanitizeName_Idempotent(t *testing.T) {
	inputs := []string{
		"my report (final).pdf",
		"../../etc/passwd",
		"a  b__c",
		"日本語ファイル.docx",
		strings.Repeat("x ", 200),
		"",
		"___",
	}

	for _, input := range inputs {
		once := SanitizeName(input)
		assert.Equal(t, once, SanitizeName(once), "input %q", input)
	}
}

func TestStorageKey(t *testing.T) {
	key := StorageKey("Invoice.PDF", "application/pdf")
	assert.True(t, strings.HasPrefix(key, KeyPrefix))
	assert.True(t, strings.HasSuffix(key, ".pdf"))
	assert.Len(t, key, len(KeyPrefix)+36+len(".pdf"))

	assert.True(t, strings.HasSuffix(StorageKey("noext", "image/png"), ".png"))
	assert.NotEqual(t, StorageKey("a.txt", "text/plain"), StorageKey("a.txt", "text/plain"))

	bare := StorageKey("noext", "application/x-unknown")
	assert.Len(t, bare, len(KeyPrefix)+36)
}

func TestStore_WrapsStorageError(t *testing.T) {
	// Arrange
	storage := new(mockStorage)
	storage.On("Upload", mock.Anything, mock.Anything, mock.Anything, "application/pdf").Return(assert.AnError)
	svc := newService(storage)

	// Act
	object, err := svc.Store(context.Background(), []byte("x"), "a.pdf", "application/pdf")

	// Assert
	assert.Nil(t, object)
	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "a.pdf", storeErr.Filename)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestStoreAll_FiltersAndIsolatesFailures(t *testing.T) {
	// Arrange
	storage := new(mockStorage)
	storage.On("Upload", mock.Anything, mock.Anything, mock.Anything, "application/pdf").Return(nil)
	storage.On("Upload", mock.Anything, mock.Anything, mock.Anything, "text/plain").Return(nil)
	storage.On("Upload", mock.Anything, mock.Anything, mock.Anything, "image/png").Return(assert.AnError)
	svc := newService(storage)

	parsed := []email_parser.ParsedAttachment{
		{Filename: "first.pdf", ContentType: "application/pdf", Size: 3, Content: []byte("pdf")},
		{Filename: "huge.pdf", ContentType: "application/pdf", Size: 15 * mb},
		{Filename: "virus.exe", ContentType: "application/x-msdownload", Size: 3, Content: []byte("exe")},
		{Filename: "broken.png", ContentType: "image/png", Size: 3, Content: []byte("png")},
		{Filename: "notes v2.txt", ContentType: "text/plain; charset=utf-8", Size: 5, Content: []byte("notes")},
	}

	// Act
	stored := svc.StoreAll(context.Background(), parsed)

	// Assert
	require.Len(t, stored, 2)
	assert.Equal(t, "first.pdf", stored[0].Filename)
	assert.Equal(t, "notes v2.txt", stored[1].Filename)
	assert.Equal(t, "text/plain", stored[1].ContentType)
	assert.Equal(t, int64(5), stored[1].Size)
	assert.True(t, strings.HasPrefix(stored[1].StorageKey, KeyPrefix))
	assert.Equal(t, "https://files.example.com/"+stored[1].StorageKey, stored[1].URL)
	storage.AssertNumberOfCalls(t, "Upload", 3)
}

func TestStoreAll_NothingAccepted(t *testing.T) {
	storage := new(mockStorage)
	svc := newService(storage)

	stored := svc.StoreAll(context.Background(), []email_parser.ParsedAttachment{
		{Filename: "big.pdf", ContentType: "application/pdf", Size: 15 * mb},
	})

	assert.Empty(t, stored)
	storage.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
