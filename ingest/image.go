package ingest

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"math"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"
)

const (
	formatJPEG = "jpeg"
	formatPNG  = "png"
)

// scaledSize returns the dimensions of an h x w image scaled so its longest side is maxSide
// ok is false if the image already fits
func scaledSize(h, w, maxSide int) (newH, newW int, ok bool) {
	longest := max(h, w)
	if maxSide <= 0 || longest <= maxSide {
		return h, w, false
	}
	scale := float64(maxSide) / float64(longest)
	newH = max(1, int(math.Round(float64(h)*scale)))
	newW = max(1, int(math.Round(float64(w)*scale)))
	return newH, newW, true
}

// resizeImage resamples img to h x w with bilinear interpolation
func resizeImage(img image.Image, h, w int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

func encodeImage(img image.Image, format string, jpegQuality int) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case formatJPEG:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return nil, err
		}
	case formatPNG:
		if err := png.Encode(&buf, img); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported image format '%s'", format)
	}
	return buf.Bytes(), nil
}

// formatFromPath guesses the image format from a file extension, defaulting to jpeg
func formatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return formatPNG
	default:
		return formatJPEG
	}
}
