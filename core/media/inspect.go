package media

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
)

type Info struct {
	MIMEType    string
	Width       int
	Height      int
	AspectRatio string
}

var commonRatios = []struct {
	label string
	value float64
}{
	{"1:1", 1},
	{"4:3", 4.0 / 3},
	{"3:4", 3.0 / 4},
	{"3:2", 3.0 / 2},
	{"2:3", 2.0 / 3},
	{"16:9", 16.0 / 9},
	{"9:16", 9.0 / 16},
	{"21:9", 21.0 / 9},
}

type Inspector struct {
	logger *zap.Logger
}

func NewInspector(logger *zap.Logger) *Inspector {
	return &Inspector{logger: logger}
}

// Inspect fills in the MIME type (sniffed when declared is empty) and, for
// decodable images, the pixel size and aspect-ratio tag.
func (i *Inspector) Inspect(data []byte, declared string) Info {
	info := Info{MIMEType: declared}
	if info.MIMEType == "" {
		info.MIMEType = mimetype.Detect(data).String()
	}
	if !strings.HasPrefix(info.MIMEType, "image/") {
		return info
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		i.logger.Debug("Image not decodable, skipping aspect ratio",
			zap.String("mime_type", info.MIMEType),
			zap.Error(err),
		)
		return info
	}

	bounds := img.Bounds()
	info.Width = bounds.Dx()
	info.Height = bounds.Dy()
	info.AspectRatio = AspectRatio(info.Width, info.Height)
	return info
}

// AspectRatio labels w x h with the nearest common ratio when within 1%,
// otherwise with the reduced fraction.
func AspectRatio(width, height int) string {
	if width <= 0 || height <= 0 {
		return ""
	}
	actual := float64(width) / float64(height)
	for _, r := range commonRatios {
		if math.Abs(actual-r.value)/r.value <= 0.01 {
			return r.label
		}
	}
	g := gcd(width, height)
	return fmt.Sprintf("%d:%d", width/g, height/g)
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
