package validation

import "errors"

var (
	ErrEmptyFile       = errors.New("file is empty")
	ErrFileTooLarge    = errors.New("file size exceeds limit")
	ErrTypeMismatch    = errors.New("declared mime type does not match content")
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrInvalidEncoding = errors.New("file data is not valid base64")
)
