package dataset

import (
	"bytes"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

var allowedContentTypes = map[string]bool{
	"text/csv":                 true,
	"application/csv":          true,
	"text/plain":               true,
	"application/vnd.ms-excel": true,
	"application/octet-stream": true,
}

// ValidateUpload checks the upload metadata before any bytes are read.
func ValidateUpload(filename string, size int64, contentType string) error {
	if !strings.EqualFold(filepath.Ext(filename), ".csv") {
		return fmt.Errorf("%w: %q is not a .csv file", ErrInvalidFileType, filename)
	}
	if size <= 0 {
		return fmt.Errorf("%w: file is empty", ErrInvalidFileType)
	}
	if contentType == "" {
		return nil
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || !allowedContentTypes[mediaType] {
		return fmt.Errorf("%w: unsupported content type %q", ErrInvalidFileType, contentType)
	}
	return nil
}

// ValidateContent rejects payloads that are clearly not CSV text.
func ValidateContent(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: file is empty", ErrInvalidFileType)
	}
	if bytes.IndexByte(data, 0) >= 0 || !utf8.Valid(data) {
		return fmt.Errorf("%w: file is not UTF-8 text", ErrInvalidFileType)
	}
	return nil
}
