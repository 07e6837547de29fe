package render

import (
	"fmt"
	"image/png"
	"io"
	"os"

	"github.com/fogleman/gg"
	"github.com/mdouchement/hdr/codec/rgbe"
)

func WritePNG(w io.Writer, f *Frame) error {
	return png.Encode(w, f.pix)
}

// WriteAnnotatedPNG draws a caption (the title, the frame size and the
// range of the data) in the top left corner.
func WriteAnnotatedPNG(w io.Writer, f *Frame, title string) error {
	dc := gg.NewContextForImage(f.pix)

	lines := []string{
		title,
		fmt.Sprintf("width/height: %dx%d", f.width, f.height),
	}
	if !f.placeholder {
		lines = append(lines, fmt.Sprintf("min/max: %g/%g", f.stats.Min, f.stats.Max))
	}

	for i, line := range lines {
		y := 16 + float64(i)*14
		dc.SetRGB(0, 0, 0)
		dc.DrawString(line, 9, y+1)
		dc.SetRGB(1, 1, 1)
		dc.DrawString(line, 8, y)
	}
	return dc.EncodePNG(w)
}

// WriteHDR writes the image as a Radiance RGBE file.
func WriteHDR(w io.Writer, img *HDRImage) error {
	return rgbe.Encode(w, img)
}

// SaveFile creates filename and hands it to write.
func SaveFile(filename string, write func(io.Writer) error) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("open+w '%s': %w", filename, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write '%s': %w", filename, err)
	}
	return f.Close()
}
