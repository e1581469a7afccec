package camera

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"scenesense/internal/domain"
)

// LoadImage decodes a picked image file into a frame, so files chosen from
// disk flow through the same subject path as live captures.
func LoadImage(path string) (*domain.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	pixels := make([]byte, width*height*3)
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			pixels[i+0] = byte(r >> 8)
			pixels[i+1] = byte(g >> 8)
			pixels[i+2] = byte(b >> 8)
			i += 3
		}
	}
	return &domain.Frame{Pixels: pixels, Width: width, Height: height}, nil
}
