package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Layout is the dimension order a classifier expects for its input tensor.
type Layout string

const (
	// LayoutNHWC is [batch, height, width, channels], the Keras default.
	LayoutNHWC Layout = "nhwc"
	// LayoutNCHW is [batch, channels, height, width].
	LayoutNCHW Layout = "nchw"
)

const channels = 3

// Tensor is a dense float32 input batch.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// Limits bounds what the normalizer is willing to decode.
type Limits struct {
	MaxBytes  int64
	MaxPixels int64
}

// Normalizer turns encoded images into classifier input tensors.
type Normalizer struct {
	limits Limits
	layout Layout
}

// NewNormalizer returns a normalizer producing tensors in the given layout.
func NewNormalizer(limits Limits, layout Layout) *Normalizer {
	if layout == "" {
		layout = LayoutNHWC
	}
	return &Normalizer{limits: limits, layout: layout}
}

// Layout reports the tensor layout this normalizer produces.
func (n *Normalizer) Layout() Layout {
	return n.layout
}

// WithLayout returns a copy of n producing tensors in layout.
func (n *Normalizer) WithLayout(layout Layout) *Normalizer {
	if layout == "" || layout == n.layout {
		return n
	}
	return &Normalizer{limits: n.limits, layout: layout}
}

// Decode checks the payload against the configured limits and decodes it.
func (n *Normalizer) Decode(raw []byte) (image.Image, string, error) {
	if len(raw) == 0 {
		return nil, "", invalid("empty image payload", nil)
	}
	if n.limits.MaxBytes > 0 && int64(len(raw)) > n.limits.MaxBytes {
		return nil, "", invalid(fmt.Sprintf("image is %d bytes, limit is %d", len(raw), n.limits.MaxBytes), nil)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, "", invalid("cannot decode image header", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, "", invalid(fmt.Sprintf("invalid dimensions %dx%d", cfg.Width, cfg.Height), nil)
	}
	if n.limits.MaxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > n.limits.MaxPixels {
		return nil, "", invalid(fmt.Sprintf("image is %dx%d, pixel limit is %d", cfg.Width, cfg.Height, n.limits.MaxPixels), nil)
	}

	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, "", invalid("cannot decode image", err)
	}
	return img, format, nil
}

// Normalize decodes raw and converts it into a [1,H,W,3] (or [1,3,H,W])
// tensor with channel values scaled into [0,1]. The image is stretched to
// width x height without preserving its aspect ratio.
func (n *Normalizer) Normalize(raw []byte, width, height int) (*Tensor, error) {
	img, _, err := n.Decode(raw)
	if err != nil {
		return nil, err
	}
	return n.FromImage(img, width, height)
}

// FromImage is Normalize for an already decoded image.
func (n *Normalizer) FromImage(img image.Image, width, height int) (*Tensor, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid target size %dx%d", width, height)
	}

	bounds := img.Bounds()
	if bounds.Dx() != width || bounds.Dy() != height {
		img = resize.Resize(uint(width), uint(height), img, resize.Bilinear)
		bounds = img.Bounds()
	}

	plane := width * height
	data := make([]float32, channels*plane)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			px := color.NRGBAModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)

			r := float32(px.R) / 255.0
			g := float32(px.G) / 255.0
			b := float32(px.B) / 255.0

			pixelIndex := y*width + x
			switch n.layout {
			case LayoutNCHW:
				data[pixelIndex] = r
				data[plane+pixelIndex] = g
				data[2*plane+pixelIndex] = b
			default:
				data[pixelIndex*channels] = r
				data[pixelIndex*channels+1] = g
				data[pixelIndex*channels+2] = b
			}
		}
	}

	shape := []int64{1, int64(height), int64(width), channels}
	if n.layout == LayoutNCHW {
		shape = []int64{1, channels, int64(height), int64(width)}
	}

	return &Tensor{Shape: shape, Data: data}, nil
}
