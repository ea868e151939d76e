package storage

import (
	"path"
	"strings"
)

// DefaultContentType is returned for unmapped extensions.
const DefaultContentType = "application/octet-stream"

var mimeTypes = map[string]string{
	"pdf":  "application/pdf",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
	"txt":  "text/plain",
	"csv":  "text/csv",
	"doc":  "application/msword",
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// MimeTypeFor maps a filename or storage key to a MIME type using its
// lowercased extension. Unmapped or missing extensions yield
// application/octet-stream.
func MimeTypeFor(filenameOrKey string) string {
	return MimeTypeForFormat(extensionOf(filenameOrKey))
}

// MimeTypeForFormat maps a bare format string such as "pdf" to a MIME type.
func MimeTypeForFormat(format string) string {
	if ct, ok := mimeTypes[strings.ToLower(strings.TrimPrefix(format, "."))]; ok {
		return ct
	}
	return DefaultContentType
}

// extensionOf returns the lowercased extension of the last path element, without the dot.
func extensionOf(name string) string {
	ext := path.Ext(path.Base(strings.ReplaceAll(name, "\\", "/")))
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// resourceTypeFor classifies content the way CDN object stores group
// assets: image, video or raw.
func resourceTypeFor(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return "image"
	case strings.HasPrefix(contentType, "video/"):
		return "video"
	default:
		return "raw"
	}
}
