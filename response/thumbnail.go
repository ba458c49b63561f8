package response

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
)

// Thumbnail resamples an image Reply to the given target width, preserving
// aspect ratio, using golang.org/x/image/draw's CatmullRom scaling. This is
// purely additive to the base response contract: it only runs when the
// transport layer sees a "?w=" query parameter on a request whose resolved
// Content-Type is image/png or image/jpeg.
func Thumbnail(in Reply, targetWidth int) (Reply, error) {
	if targetWidth <= 0 {
		return in, nil
	}

	var (
		img image.Image
		err error
	)
	switch in.ContentType {
	case "image/png":
		img, err = png.Decode(bytes.NewReader(in.Body))
	case "image/jpeg":
		img, err = jpeg.Decode(bytes.NewReader(in.Body))
	default:
		return in, nil
	}
	if err != nil {
		return Reply{}, fmt.Errorf("response: decode image for thumbnail: %w", err)
	}

	bounds := img.Bounds()
	srcWidth, srcHeight := bounds.Dx(), bounds.Dy()
	if targetWidth >= srcWidth || srcWidth == 0 {
		return in, nil
	}
	ratio := float64(targetWidth) / float64(srcWidth)
	targetHeight := int(float64(srcHeight) * ratio)

	dst := image.NewRGBA(image.Rect(0, 0, targetWidth, targetHeight))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)

	var out bytes.Buffer
	switch in.ContentType {
	case "image/png":
		if err := png.Encode(&out, dst); err != nil {
			return Reply{}, fmt.Errorf("response: encode thumbnail: %w", err)
		}
	case "image/jpeg":
		if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: 85}); err != nil {
			return Reply{}, fmt.Errorf("response: encode thumbnail: %w", err)
		}
	}
	return Reply{Body: out.Bytes(), ContentType: in.ContentType}, nil
}
