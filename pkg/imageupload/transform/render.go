package transform

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"math"

	"github.com/nfnt/resize"
)

// Apply renders t against img.
func Apply(img image.Image, t Transformation) image.Image {
	b := img.Bounds()
	srcW, srcH := b.Dx(), b.Dy()
	if srcW == 0 || srcH == 0 {
		return img
	}
	w, h := t.Width, t.Height

	switch t.Crop {
	case CropCrop:
		w, h = orDefault(w, srcW), orDefault(h, srcH)
		return cropCenter(img, min(w, srcW), min(h, srcH))

	case CropFit, CropLimit:
		f := fitFactor(srcW, srcH, w, h)
		if t.Crop == CropLimit && f >= 1 {
			return img
		}
		return scale(img, f)

	case CropFill:
		w, h = boxFor(srcW, srcH, w, h)
		f := math.Max(float64(w)/float64(srcW), float64(h)/float64(srcH))
		return cropCenter(scale(img, f), w, h)

	case CropPad:
		w, h = boxFor(srcW, srcH, w, h)
		resized := scale(img, fitFactor(srcW, srcH, w, h))
		bg := t.Background
		if bg == nil {
			bg = color.White
		}
		canvas := image.NewNRGBA(image.Rect(0, 0, w, h))
		draw.Draw(canvas, canvas.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)
		rb := resized.Bounds()
		offset := image.Pt((w-rb.Dx())/2, (h-rb.Dy())/2)
		draw.Draw(canvas, rb.Sub(rb.Min).Add(offset), resized, rb.Min, draw.Over)
		return canvas

	default:
		w, h = boxFor(srcW, srcH, w, h)
		return resize.Resize(uint(w), uint(h), img, resize.Lanczos3)
	}
}

// boxFor fills in a missing dimension from the source aspect ratio. The box
// is shrunk to keep both sides within MaxDimension.
func boxFor(srcW, srcH, w, h int) (int, int) {
	switch {
	case w == 0:
		w = max(1, int(math.Round(float64(h)*float64(srcW)/float64(srcH))))
	case h == 0:
		h = max(1, int(math.Round(float64(w)*float64(srcH)/float64(srcW))))
	}
	if longest := max(w, h); longest > MaxDimension {
		w = max(1, w*MaxDimension/longest)
		h = max(1, h*MaxDimension/longest)
	}
	return w, h
}

func fitFactor(srcW, srcH, w, h int) float64 {
	fw, fh := math.Inf(1), math.Inf(1)
	if w > 0 {
		fw = float64(w) / float64(srcW)
	}
	if h > 0 {
		fh = float64(h) / float64(srcH)
	}
	return math.Min(fw, fh)
}

func scale(img image.Image, f float64) image.Image {
	b := img.Bounds()
	f = math.Min(f, float64(MaxDimension)/float64(max(b.Dx(), b.Dy())))
	w := max(1, int(math.Round(float64(b.Dx())*f)))
	h := max(1, int(math.Round(float64(b.Dy())*f)))
	if w == b.Dx() && h == b.Dy() {
		return img
	}
	return resize.Resize(uint(w), uint(h), img, resize.Lanczos3)
}

func cropCenter(img image.Image, w, h int) image.Image {
	b := img.Bounds()
	w, h = min(w, b.Dx()), min(h, b.Dy())
	x0 := b.Min.X + (b.Dx()-w)/2
	y0 := b.Min.Y + (b.Dy()-h)/2
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), img, image.Pt(x0, y0), draw.Src)
	return dst
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Encode writes img in format, one of "png", "jpg", "jpeg" or "gif".
func Encode(w io.Writer, img image.Image, format string) error {
	switch format {
	case "png":
		return png.Encode(w, img)
	case "jpg", "jpeg":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 90})
	case "gif":
		return gif.Encode(w, img, nil)
	}
	return fmt.Errorf("unsupported format %q", format)
}

// Format maps a content type to the format name used in delivery URLs.
func Format(contentType string) string {
	switch contentType {
	case "image/png":
		return "png"
	case "image/jpeg":
		return "jpg"
	case "image/gif":
		return "gif"
	}
	return ""
}
