package storage

import (
	"encoding/base64"
	"mime"
	"strings"
	"unicode"

	"github.com/ruteri/legal-docstore/interfaces"
)

// knownMetaKeys restores the spelling of well-known metadata keys after an
// S3-compatible store has canonicalized them into HTTP header form
// ("X-Amz-Meta-Originalname" comes back as "Originalname").
var knownMetaKeys = func() map[string]string {
	m := make(map[string]string)
	for _, k := range []string{
		interfaces.MetaContentType,
		interfaces.MetaOriginalName,
		interfaces.MetaUploadedBy,
		interfaces.MetaCaseID,
		interfaces.MetaMigratedFrom,
		interfaces.MetaMigratedAt,
		interfaces.MetaResourceType,
		interfaces.MetaFormat,
	} {
		m[strings.ToLower(k)] = k
	}
	return m
}()

// normalizeUserMetadata maps user metadata read back from an object store to
// the keys it was written with and decodes values written by
// headerSafeMetadata. Unknown keys are lowercased.
func normalizeUserMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	dec := new(mime.WordDecoder)
	out := make(map[string]string, len(in))
	for k, v := range in {
		if strings.Contains(v, "=?") {
			if decoded, err := dec.DecodeHeader(v); err == nil {
				v = decoded
			}
		}
		lk := strings.ToLower(k)
		if known, ok := knownMetaKeys[lk]; ok {
			out[known] = v
			continue
		}
		out[lk] = v
	}
	return out
}

// headerSafeMetadata prepares metadata for transport as HTTP headers.
// The content type travels separately; values that are not printable ASCII
// (accented client names are common) or that already look like an encoded
// word are RFC 2047 encoded, which normalizeUserMetadata reverses.
func headerSafeMetadata(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		if k == interfaces.MetaContentType || k == "" {
			continue
		}
		out[k] = encodeMetaValue(v)
	}
	return out
}

func encodeMetaValue(v string) string {
	switch {
	case !isPrintableASCII(v):
		return mime.QEncoding.Encode("utf-8", v)
	case strings.Contains(v, "=?"):
		// printable ASCII is left as is by the mime encoders
		return "=?utf-8?b?" + base64.StdEncoding.EncodeToString([]byte(v)) + "?="
	default:
		return v
	}
}

func isPrintableASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

// contentTypeFor picks the declared content type, falling back to the key's extension.
func contentTypeFor(key string, metadata map[string]string) string {
	if ct := strings.TrimSpace(metadata[interfaces.MetaContentType]); ct != "" {
		return ct
	}
	return MimeTypeFor(key)
}
