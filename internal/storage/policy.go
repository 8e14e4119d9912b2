package storage

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"
)

// FilePolicy represents the upload constraints of a file-upload step
type FilePolicy struct {
	MaxFileMB  *float64 `json:"maxFileMB,omitempty"`
	MimeTypes  []string `json:"mime,omitempty"`
	Extensions []string `json:"extensions,omitempty"`
}

// ParseAccept builds a policy from an HTML-style accept list
// (".pdf,image/*,application/zip") and a size limit in megabytes.
// It returns nil when the step sets no constraint at all.
func ParseAccept(accept string, maxSizeMB float64) *FilePolicy {
	fp := &FilePolicy{}
	if maxSizeMB > 0 {
		fp.MaxFileMB = &maxSizeMB
	}

	for _, raw := range strings.Split(accept, ",") {
		entry := strings.ToLower(strings.TrimSpace(raw))
		switch {
		case entry == "":
		case strings.HasPrefix(entry, "."):
			fp.Extensions = append(fp.Extensions, strings.TrimPrefix(entry, "."))
		case strings.Contains(entry, "/"):
			fp.MimeTypes = append(fp.MimeTypes, entry)
		default:
			fp.Extensions = append(fp.Extensions, entry)
		}
	}

	if fp.MaxFileMB == nil && len(fp.MimeTypes) == 0 && len(fp.Extensions) == 0 {
		return nil
	}
	return fp
}

// ValidateFile validates a file against the policy. A file is accepted when it
// matches any declared MIME pattern or extension, like the browser accept attribute.
func (fp *FilePolicy) ValidateFile(fileName, contentType string, fileSizeBytes int64) error {
	if fp == nil {
		return nil
	}

	if fp.MaxFileMB != nil {
		maxBytes := int64(*fp.MaxFileMB * 1024 * 1024)
		if fileSizeBytes > maxBytes {
			return fmt.Errorf("file is larger than %g MB", *fp.MaxFileMB)
		}
	}

	if len(fp.MimeTypes) == 0 && len(fp.Extensions) == 0 {
		return nil
	}
	if fp.matchesMimeType(contentType) || fp.matchesExtension(fileName) {
		return nil
	}

	allowed := append(append([]string{}, fp.MimeTypes...), prefixed(fp.Extensions)...)
	return fmt.Errorf("file type is not allowed (allowed: %s)", strings.Join(allowed, ", "))
}

// matchesMimeType checks if contentType matches any of the allowed MIME type patterns
func (fp *FilePolicy) matchesMimeType(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = contentType
	}
	mediaType = strings.ToLower(mediaType)

	for _, allowed := range fp.MimeTypes {
		if strings.HasSuffix(allowed, "/*") {
			prefix := strings.TrimSuffix(allowed, "/*")
			if strings.HasPrefix(mediaType, prefix+"/") {
				return true
			}
		} else if mediaType == allowed {
			return true
		}
	}
	return false
}

// matchesExtension checks if fileName has an allowed extension
func (fp *FilePolicy) matchesExtension(fileName string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(fileName)), ".")
	if ext == "" {
		return false
	}

	for _, allowed := range fp.Extensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

func prefixed(exts []string) []string {
	out := make([]string, len(exts))
	for i, e := range exts {
		out[i] = "." + e
	}
	return out
}
