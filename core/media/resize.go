package media

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
)

// Fit shrinks an image so its longer edge is at most maxEdge, re-encoding it
// in the same format. Non-images, undecodable data and images already within
// bounds are returned unchanged with resized=false.
func (i *Inspector) Fit(data []byte, mimeType string, maxEdge int) (out []byte, resized bool, err error) {
	format, ok := encodeFormat(mimeType)
	if !ok || maxEdge <= 0 {
		return data, false, nil
	}

	src, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return data, false, nil
	}
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	if w <= maxEdge && h <= maxEdge {
		return data, false, nil
	}

	dst := imaging.Fit(src, maxEdge, maxEdge, imaging.Lanczos)
	i.logger.Info("Resizing image input",
		zap.Int("width", w),
		zap.Int("height", h),
		zap.Int("new_width", dst.Bounds().Dx()),
		zap.Int("new_height", dst.Bounds().Dy()),
	)

	var buf bytes.Buffer
	opts := []imaging.EncodeOption{}
	if format == imaging.JPEG {
		opts = append(opts, imaging.JPEGQuality(85))
	}
	if err := imaging.Encode(&buf, dst, format, opts...); err != nil {
		i.logger.Error("Failed to encode resized image", zap.Error(err))
		return nil, false, fmt.Errorf("failed to encode resized image: %w", err)
	}
	return buf.Bytes(), true, nil
}

func encodeFormat(mimeType string) (imaging.Format, bool) {
	switch mimeType {
	case "image/jpeg":
		return imaging.JPEG, true
	case "image/png":
		return imaging.PNG, true
	case "image/gif":
		return imaging.GIF, true
	}
	return 0, false
}
