package validation

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/png"
	"testing"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestDecodeInput(t *testing.T) {
	img := base64.StdEncoding.EncodeToString(pngBytes(t))
	text := base64.StdEncoding.EncodeToString([]byte("hello, plain text"))

	tests := []struct {
		name     string
		encoded  string
		declared string
		maxSize  int64
		wantMIME string
		wantErr  error
	}{
		{name: "png without declared type", encoded: img, maxSize: 1 << 20, wantMIME: "image/png"},
		{name: "png with declared type", encoded: img, declared: "image/png", maxSize: 1 << 20, wantMIME: "image/png"},
		{name: "declared type with parameters", encoded: img, declared: "Image/PNG; q=1", maxSize: 1 << 20, wantMIME: "image/png"},
		{name: "declared mismatch", encoded: img, declared: "image/jpeg", maxSize: 1 << 20, wantErr: ErrTypeMismatch},
		{name: "unsupported content", encoded: text, maxSize: 1 << 20, wantErr: ErrUnsupportedType},
		{name: "empty", encoded: "", maxSize: 1 << 20, wantErr: ErrEmptyFile},
		{name: "bad base64", encoded: "***", maxSize: 1 << 20, wantErr: ErrInvalidEncoding},
		{name: "too large", encoded: img, maxSize: 8, wantErr: ErrFileTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, mime, err := DecodeInput(tt.encoded, tt.declared, tt.maxSize)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("DecodeInput() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeInput() unexpected error = %v", err)
			}
			if mime != tt.wantMIME {
				t.Errorf("DecodeInput() mime = %q, want %q", mime, tt.wantMIME)
			}
			if len(data) == 0 {
				t.Error("DecodeInput() returned no data")
			}
		})
	}
}

func TestIsAllowedType(t *testing.T) {
	if !IsAllowedType("video/mp4") {
		t.Error("video/mp4 should be allowed")
	}
	if IsAllowedType("application/pdf") {
		t.Error("application/pdf should not be allowed")
	}
}
