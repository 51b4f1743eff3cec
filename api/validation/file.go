package validation

import (
	"encoding/base64"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var allowedTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
	"video/mp4":  true,
}

// DecodeInput decodes a base64 upload and checks its size and sniffed type.
// The returned MIME type is the sniffed one.
func DecodeInput(encoded, declared string, maxSize int64) ([]byte, string, error) {
	if int64(base64.StdEncoding.DecodedLen(len(encoded))) > maxSize+2 {
		return nil, "", ErrFileTooLarge
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, "", ErrInvalidEncoding
	}
	if len(data) == 0 {
		return nil, "", ErrEmptyFile
	}
	if int64(len(data)) > maxSize {
		return nil, "", ErrFileTooLarge
	}

	detected := mimetype.Detect(data)
	if !IsAllowedType(detected.String()) {
		return nil, "", ErrUnsupportedType
	}
	if declared != "" && !detected.Is(normalize(declared)) {
		return nil, "", ErrTypeMismatch
	}
	return data, detected.String(), nil
}

func IsAllowedType(mimeType string) bool {
	return allowedTypes[normalize(mimeType)]
}

func normalize(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}
