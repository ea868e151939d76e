package storage

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/legal-docstore/interfaces"
)

// cdnKeyPattern matches keys that look like CDN public ids: no path
// separators and no extension.
var cdnKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// looksLikeCDNKey reports whether key is worth a CDN round-trip during detection.
func looksLikeCDNKey(key string) bool {
	return cdnKeyPattern.MatchString(key)
}

// validateKey applies the rules shared by every backend.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", interfaces.ErrInvalidKey)
	}
	if strings.ContainsRune(key, 0) {
		return fmt.Errorf("%w: null byte in key", interfaces.ErrInvalidKey)
	}
	return nil
}

// validatePathKey rejects keys that could escape a directory-like namespace.
func validatePathKey(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if strings.Contains(key, "\\") {
		return fmt.Errorf("%w: backslash in key", interfaces.ErrInvalidKey)
	}
	if strings.HasPrefix(key, "/") || filepath.IsAbs(key) {
		return fmt.Errorf("%w: absolute path", interfaces.ErrInvalidKey)
	}
	for _, part := range strings.Split(key, "/") {
		switch part {
		case "":
			return fmt.Errorf("%w: empty path segment", interfaces.ErrInvalidKey)
		case ".", "..":
			return fmt.Errorf("%w: path traversal not allowed", interfaces.ErrInvalidKey)
		}
	}
	return nil
}

// escapeKey escapes each segment of key for use in a URL path.
func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// routeURL builds the application-route placeholder for backends without a public URL.
func routeURL(prefix, key string) string {
	if prefix == "" {
		prefix = DefaultRoutePrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + escapeKey(key)
}

// DefaultRoutePrefix is the application route serving files that have no direct URL.
const DefaultRoutePrefix = "/files/"

// caseIDPattern restricts case ids used as key prefixes.
var caseIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// NewKey generates an upload key of the form <unix-millis>-<8 hex>.<ext>,
// keeping the original file's extension. A valid caseID places the key
// under cases/<caseID>/.
func NewKey(originalName, caseID string, now time.Time) string {
	id := uuid.New().String()[:8]
	key := fmt.Sprintf("%d-%s", now.UnixMilli(), id)
	if ext := extensionOf(originalName); ext != "" {
		key += "." + ext
	}
	if caseIDPattern.MatchString(caseID) {
		key = "cases/" + caseID + "/" + key
	}
	return key
}
