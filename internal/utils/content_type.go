package utils

import "strings"

// ExtensionFromContentType maps a MIME type to a file extension with the leading dot.
// Unknown types return an empty string.
func ExtensionFromContentType(contentType string) string {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}

	switch {
	case strings.Contains(contentType, "jpeg") || strings.Contains(contentType, "jpg"):
		return ".jpg"
	case strings.Contains(contentType, "png"):
		return ".png"
	case strings.Contains(contentType, "gif"):
		return ".gif"
	case strings.Contains(contentType, "webp"):
		return ".webp"
	case strings.Contains(contentType, "pdf"):
		return ".pdf"
	case strings.Contains(contentType, "wordprocessingml"):
		return ".docx"
	case strings.Contains(contentType, "msword"):
		return ".doc"
	case strings.Contains(contentType, "spreadsheetml"):
		return ".xlsx"
	case strings.Contains(contentType, "ms-excel"):
		return ".xls"
	case strings.Contains(contentType, "csv"):
		return ".csv"
	case strings.Contains(contentType, "text/plain"):
		return ".txt"
	default:
		return ""
	}
}
