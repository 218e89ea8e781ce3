package transforms

import (
	"fmt"
	"image"

	"github.com/chewxy/math32"
	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Box is an axis-aligned box in pixel coordinates, (X1, Y1) inclusive top-left and
// (X2, Y2) exclusive bottom-right.
type Box struct {
	X1, Y1, X2, Y2 float32
}

// Width returns the box width, zero for inverted boxes.
func (b Box) Width() float32 { return math32.Max(0, b.X2-b.X1) }

// Height returns the box height, zero for inverted boxes.
func (b Box) Height() float32 { return math32.Max(0, b.Y2-b.Y1) }

// Area returns the box area.
func (b Box) Area() float32 { return b.Width() * b.Height() }

// Empty reports whether the box covers no pixels.
func (b Box) Empty() bool { return b.Area() == 0 }

// Scale multiplies x coordinates by sx and y coordinates by sy.
func (b Box) Scale(sx, sy float32) Box {
	return Box{X1: b.X1 * sx, Y1: b.Y1 * sy, X2: b.X2 * sx, Y2: b.Y2 * sy}
}

// Translate shifts the box by (dx, dy).
func (b Box) Translate(dx, dy float32) Box {
	return Box{X1: b.X1 + dx, Y1: b.Y1 + dy, X2: b.X2 + dx, Y2: b.Y2 + dy}
}

// Clip clamps the box to [0, w] x [0, h].
func (b Box) Clip(w, h float32) Box {
	clamp := func(v, hi float32) float32 { return math32.Min(math32.Max(v, 0), hi) }
	return Box{X1: clamp(b.X1, w), Y1: clamp(b.Y1, h), X2: clamp(b.X2, w), Y2: clamp(b.Y2, h)}
}

// Annotation is one labelled object of an image.
type Annotation struct {
	Box      Box    `json:"box" yaml:"box"`
	Category int    `json:"category" yaml:"category"`
	Label    string `json:"label,omitempty" yaml:"label,omitempty"`
}

// ImageTransform is a Transform over an image and its annotations.
type ImageTransform = Transform[image.Image, []Annotation]

// mapBoxes returns a new annotation slice with fn applied to every box, dropping
// annotations whose box ends up empty.
func mapBoxes(anns []Annotation, fn func(Box) Box) []Annotation {
	out := make([]Annotation, 0, len(anns))
	for _, a := range anns {
		a.Box = fn(a.Box)
		if !a.Box.Empty() {
			out = append(out, a)
		}
	}
	return out
}

// Resize scales the image bilinearly to Width x Height and the boxes with it.
type Resize struct {
	Width, Height int
}

// Apply implements Transform.
func (r Resize) Apply(img image.Image, anns []Annotation) (image.Image, []Annotation, error) {
	if r.Width <= 0 || r.Height <= 0 {
		return nil, nil, errors.Errorf("resize: invalid size %dx%d", r.Width, r.Height)
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, nil, errors.New("resize: empty image")
	}
	out := resize.Resize(uint(r.Width), uint(r.Height), img, resize.Bilinear)
	sx := float32(r.Width) / float32(b.Dx())
	sy := float32(r.Height) / float32(b.Dy())
	return out, mapBoxes(anns, func(bx Box) Box { return bx.Scale(sx, sy) }), nil
}

// String implements fmt.Stringer.
func (r Resize) String() string { return fmt.Sprintf("Resize(%dx%d)", r.Width, r.Height) }

// HFlip mirrors the image and its boxes left to right.
type HFlip struct{}

// Apply implements Transform.
func (HFlip) Apply(img image.Image, anns []Annotation) (image.Image, []Annotation, error) {
	w := float32(img.Bounds().Dx())
	out := imaging.FlipH(img)
	return out, mapBoxes(anns, func(b Box) Box {
		return Box{X1: w - b.X2, Y1: b.Y1, X2: w - b.X1, Y2: b.Y2}
	}), nil
}

// String implements fmt.Stringer.
func (HFlip) String() string { return "HFlip()" }

// Crop cuts Rect out of the image. Boxes are shifted into the crop, clipped to it,
// and dropped when nothing of them remains.
type Crop struct {
	Rect image.Rectangle
}

// Apply implements Transform.
func (c Crop) Apply(img image.Image, anns []Annotation) (image.Image, []Annotation, error) {
	bounds := img.Bounds()
	rect := c.Rect.Add(bounds.Min).Intersect(bounds)
	if rect.Empty() {
		return nil, nil, errors.Errorf("crop: %v does not overlap image %v", c.Rect, bounds)
	}
	out := imaging.Crop(img, rect)
	origin := rect.Min.Sub(bounds.Min)
	dx, dy := float32(-origin.X), float32(-origin.Y)
	w, h := float32(rect.Dx()), float32(rect.Dy())
	return out, mapBoxes(anns, func(b Box) Box { return b.Translate(dx, dy).Clip(w, h) }), nil
}

// String implements fmt.Stringer.
func (c Crop) String() string { return fmt.Sprintf("Crop(%v)", c.Rect) }

// ToTensor converts an image to a (3, H, W) float32 tensor with values in [0, 1].
func ToTensor(img image.Image) *tensor.Dense {
	src := imaging.Clone(img)
	w, h := src.Rect.Dx(), src.Rect.Dy()
	plane := w * h
	data := make([]float32, 3*plane)
	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride:]
		for x := 0; x < w; x++ {
			px := row[x*4 : x*4+3]
			i := y*w + x
			data[i] = float32(px[0]) / 255
			data[plane+i] = float32(px[1]) / 255
			data[2*plane+i] = float32(px[2]) / 255
		}
	}
	return tensor.New(tensor.WithShape(3, h, w), tensor.WithBacking(data))
}

// Normalize standardizes each channel of a (C, H, W) or (N, C, H, W) float32 tensor.
type Normalize struct {
	Mean, Std []float32
}

// ImageNet holds the channel statistics most pretrained backbones expect.
var ImageNet = Normalize{
	Mean: []float32{0.485, 0.456, 0.406},
	Std:  []float32{0.229, 0.224, 0.225},
}

// Apply implements Transform. The input tensor is left untouched.
func (n Normalize) Apply(t *tensor.Dense, anns []Annotation) (*tensor.Dense, []Annotation, error) {
	shp := t.Shape()
	if shp.Dims() != 3 && shp.Dims() != 4 {
		return nil, nil, errors.Errorf("normalize: want CHW or NCHW, got %v", shp)
	}
	c := shp[shp.Dims()-3]
	if len(n.Mean) != c || len(n.Std) != c {
		return nil, nil, errors.Errorf("normalize: %d channels, %d means, %d stds", c, len(n.Mean), len(n.Std))
	}
	for _, s := range n.Std {
		if s == 0 {
			return nil, nil, errors.New("normalize: zero standard deviation")
		}
	}
	src, ok := t.Data().([]float32)
	if !ok {
		return nil, nil, errors.Errorf("normalize: want float32 data, got %v", t.Dtype())
	}

	plane := shp[shp.Dims()-2] * shp[shp.Dims()-1]
	data := make([]float32, len(src))
	for i, v := range src {
		ch := (i / plane) % c
		data[i] = (v - n.Mean[ch]) / n.Std[ch]
	}
	return tensor.New(tensor.WithShape(shp.Clone()...), tensor.WithBacking(data)), anns, nil
}

// String implements fmt.Stringer.
func (n Normalize) String() string { return fmt.Sprintf("Normalize(mean=%v, std=%v)", n.Mean, n.Std) }

// IoU returns the intersection over union of two boxes.
func (b Box) IoU(o Box) float32 {
	inter := Box{
		X1: math32.Max(b.X1, o.X1),
		Y1: math32.Max(b.Y1, o.Y1),
		X2: math32.Min(b.X2, o.X2),
		Y2: math32.Min(b.Y2, o.Y2),
	}.Area()
	if inter == 0 {
		return 0
	}
	return inter / (b.Area() + o.Area() - inter)
}
