package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"mediaGen/core/apperr"
)

type Family string

const (
	FamilyImage Family = "image"
	FamilyVideo Family = "video"
)

// Params is the tagged union of per-family generation parameters.
type Params interface {
	Family() Family
}

type ImageParams struct {
	AspectRatio    string `json:"aspect_ratio,omitempty" validate:"omitempty,oneof=1:1 2:3 3:2 3:4 4:3 9:16 16:9 21:9"`
	NumberOfImages int    `json:"number_of_images,omitempty" validate:"omitempty,min=1,max=4"`
}

func (ImageParams) Family() Family { return FamilyImage }

type VideoParams struct {
	AspectRatio     string `json:"aspect_ratio,omitempty" validate:"omitempty,oneof=16:9 9:16"`
	DurationSeconds int    `json:"duration_seconds,omitempty" validate:"omitempty,min=4,max=8"`
	NumberOfVideos  int    `json:"number_of_videos,omitempty" validate:"omitempty,min=1,max=4"`
}

func (VideoParams) Family() Family { return FamilyVideo }

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// DecodeParams decodes raw into the params struct of family, rejecting
// unknown keys and out-of-range values. Empty raw yields the zero params.
func DecodeParams(family Family, raw json.RawMessage) (Params, error) {
	var target Params
	switch family {
	case FamilyImage:
		target = &ImageParams{}
	case FamilyVideo:
		target = &VideoParams{}
	default:
		return nil, apperr.Validation("model", fmt.Sprintf("unknown model family %q", family))
	}

	if len(bytes.TrimSpace(raw)) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(target); err != nil {
			return nil, apperr.Validation("params", err.Error())
		}
		if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
			return nil, apperr.Validation("params", "trailing data after params object")
		}
	}

	if err := validate.Struct(target); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, apperr.Validation("params."+verrs[0].Field(), fmt.Sprintf("failed %q constraint", verrs[0].Tag()))
		}
		return nil, apperr.Validation("params", err.Error())
	}

	switch p := target.(type) {
	case *ImageParams:
		return *p, nil
	case *VideoParams:
		return *p, nil
	}
	return target, nil
}
