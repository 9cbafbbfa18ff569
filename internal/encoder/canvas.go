package encoder

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"
)

// Canvas is the output frame size. Both sides are even.
type Canvas struct {
	Width  int
	Height int
}

// CanvasFor sizes the canvas to width, keeping the aspect ratio of the image
// at path. When the image cannot be decoded a 9:16 portrait canvas is used.
func CanvasFor(path string, width int) Canvas {
	if width <= 0 {
		width = 1080
	}
	width = even(width)

	w, h, err := imageSize(path)
	if err != nil || w <= 0 || h <= 0 {
		return Canvas{Width: width, Height: even(width * 16 / 9)}
	}
	return Canvas{Width: width, Height: even(int(math.Round(float64(width) * float64(h) / float64(w))))}
}

func imageSize(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("decode %s: %w", path, err)
	}
	return cfg.Width, cfg.Height, nil
}

func even(v int) int {
	if v < 2 {
		return 2
	}
	if v%2 != 0 {
		return v + 1
	}
	return v
}
