package storage

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// FileAnswer is the answer shape of a file-upload step. Data holds the file
// content as a base64 string or data URL.
type FileAnswer struct {
	Name string `json:"name"`
	MIME string `json:"mime"`
	Size int64  `json:"size"`
	Data string `json:"data,omitempty"`
}

// NormalizeFileAnswer reads a loosely typed file answer coming from JSON
func NormalizeFileAnswer(file map[string]interface{}) FileAnswer {
	meta := FileAnswer{}

	if name, ok := file["name"].(string); ok {
		meta.Name = name
	}
	switch size := file["size"].(type) {
	case float64:
		meta.Size = int64(size)
	case int64:
		meta.Size = size
	case int:
		meta.Size = int64(size)
	}
	if mime, ok := file["mime"].(string); ok {
		meta.MIME = mime
	} else if contentType, ok := file["type"].(string); ok {
		meta.MIME = contentType
	}
	if data, ok := file["data"].(string); ok {
		meta.Data = data
	}

	// A data URL carries the MIME type when the client omitted it.
	if meta.MIME == "" && strings.HasPrefix(meta.Data, "data:") {
		if semi := strings.Index(meta.Data, ";"); semi > len("data:") {
			meta.MIME = meta.Data[len("data:"):semi]
		}
	}
	if meta.Size == 0 && meta.Data != "" {
		meta.Size = decodedSize(meta.Data)
	}

	return meta
}

// ValidateFileAnswer checks that a file answer is complete and within policy
func ValidateFileAnswer(meta FileAnswer, policy *FilePolicy) error {
	if meta.Name == "" {
		return fmt.Errorf("file name is required")
	}
	if meta.Size < 0 {
		return fmt.Errorf("file size must be non-negative")
	}
	return policy.ValidateFile(meta.Name, meta.MIME, meta.Size)
}

// decodedSize estimates the byte length of base64 content without decoding it.
func decodedSize(data string) int64 {
	if i := strings.Index(data, ","); strings.HasPrefix(data, "data:") && i >= 0 {
		data = data[i+1:]
	}
	data = strings.TrimRight(data, "=")
	return int64(base64.RawStdEncoding.DecodedLen(len(data)))
}
