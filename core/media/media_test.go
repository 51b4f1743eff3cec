package media

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/disintegration/imaging"
	"go.uber.org/zap/zaptest"
)

func createTestImage(t *testing.T, width, height int, format string) []byte {
	img := image.NewRGBA(image.Rect(0, 0, width, height))

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r := uint8((x * 255) / width)
			g := uint8((y * 255) / height)
			b := uint8(128)
			img.Set(x, y, color.RGBA{r, g, b, 255})
		}
	}

	var buf bytes.Buffer
	var err error
	if format == "png" {
		err = png.Encode(&buf, img)
	} else {
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	}
	if err != nil {
		t.Fatalf("Failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

func TestInspector_Inspect_SniffsAndTagsAspect(t *testing.T) {
	inspector := NewInspector(zaptest.NewLogger(t))

	info := inspector.Inspect(createTestImage(t, 800, 450, "jpeg"), "")

	if info.MIMEType != "image/jpeg" {
		t.Errorf("Expected image/jpeg, got %s", info.MIMEType)
	}
	if info.Width != 800 || info.Height != 450 {
		t.Errorf("Expected 800x450, got %dx%d", info.Width, info.Height)
	}
	if info.AspectRatio != "16:9" {
		t.Errorf("Expected 16:9, got %s", info.AspectRatio)
	}
}

func TestInspector_Inspect_KeepsDeclaredType(t *testing.T) {
	inspector := NewInspector(zaptest.NewLogger(t))

	info := inspector.Inspect([]byte("not really a video"), "video/mp4")

	if info.MIMEType != "video/mp4" {
		t.Errorf("Expected declared type to be kept, got %s", info.MIMEType)
	}
	if info.AspectRatio != "" {
		t.Errorf("Expected no aspect ratio for non-image, got %s", info.AspectRatio)
	}
}

func TestInspector_Inspect_UndecodableImage(t *testing.T) {
	inspector := NewInspector(zaptest.NewLogger(t))

	info := inspector.Inspect([]byte{0x89, 'P', 'N', 'G', 0, 0}, "image/png")

	if info.Width != 0 || info.AspectRatio != "" {
		t.Errorf("Expected no dimensions for truncated image, got %+v", info)
	}
}

func TestAspectRatio(t *testing.T) {
	cases := []struct {
		w, h int
		want string
	}{
		{1024, 1024, "1:1"},
		{1920, 1080, "16:9"},
		{1080, 1920, "9:16"},
		{1366, 768, "16:9"},
		{1200, 900, "4:3"},
		{500, 300, "5:3"},
		{0, 10, ""},
	}
	for _, tc := range cases {
		if got := AspectRatio(tc.w, tc.h); got != tc.want {
			t.Errorf("AspectRatio(%d, %d) = %q, want %q", tc.w, tc.h, got, tc.want)
		}
	}
}

func TestInspector_Fit_ShrinksLargeImage(t *testing.T) {
	inspector := NewInspector(zaptest.NewLogger(t))

	out, resized, err := inspector.Fit(createTestImage(t, 800, 600, "jpeg"), "image/jpeg", 400)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	if !resized {
		t.Fatal("Expected image to be resized")
	}

	img, err := imaging.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("Failed to decode output: %v", err)
	}
	if img.Bounds().Dx() != 400 || img.Bounds().Dy() != 300 {
		t.Errorf("Expected 400x300, got %dx%d", img.Bounds().Dx(), img.Bounds().Dy())
	}
}

func TestInspector_Fit_PreservesFormat(t *testing.T) {
	inspector := NewInspector(zaptest.NewLogger(t))

	out, resized, err := inspector.Fit(createTestImage(t, 300, 600, "png"), "image/png", 200)
	if err != nil || !resized {
		t.Fatalf("Fit failed: resized=%v err=%v", resized, err)
	}
	if !bytes.HasPrefix(out, []byte{0x89, 'P', 'N', 'G'}) {
		t.Error("Expected PNG output")
	}
}

func TestInspector_Fit_LeavesSmallAndNonImages(t *testing.T) {
	inspector := NewInspector(zaptest.NewLogger(t))
	small := createTestImage(t, 100, 100, "jpeg")

	out, resized, err := inspector.Fit(small, "image/jpeg", 400)
	if err != nil || resized || !bytes.Equal(out, small) {
		t.Errorf("Expected small image unchanged, resized=%v err=%v", resized, err)
	}

	video := []byte("mp4 bytes")
	out, resized, err = inspector.Fit(video, "video/mp4", 400)
	if err != nil || resized || !bytes.Equal(out, video) {
		t.Errorf("Expected non-image unchanged, resized=%v err=%v", resized, err)
	}
}
