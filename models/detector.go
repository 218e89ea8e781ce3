// Package models - Detector assembly from a configuration.
package models

import (
	"context"
	"fmt"
	"image"
	"io"
	"sync"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-ssdlite/config"
	"github.com/nvr-ai/go-ssdlite/models/backbone"
	"github.com/nvr-ai/go-ssdlite/models/model"
	"github.com/nvr-ai/go-ssdlite/models/postprocess"
	"github.com/nvr-ai/go-ssdlite/models/ssdlite"
	"github.com/nvr-ai/go-ssdlite/nn"
	"github.com/nvr-ai/go-ssdlite/transforms"
)

// Detector is a compiled backbone and SSDLite head with a single-image input. Run
// and Detect serialize on the underlying machine.
type Detector struct {
	cfg      config.Config
	backbone *backbone.Backbone
	head     *ssdlite.SSDLite
	input    *G.Node
	loc, cls *G.Node
	priors   []postprocess.Prior
	pipeline transforms.ImageTransform

	mu sync.Mutex
	vm G.VM

	// Decode and NMS control Detect. They default from the configuration.
	Decode postprocess.DecodeConfig
	NMS    postprocess.NMSConfig
}

// NewDetector creates a detector from cfg.
//
// Arguments:
//   - ctx: Bounds the download of pretrained weights.
//   - cfg: A configuration; it is validated here.
//
// Returns:
//   - *Detector: A detector ready to run, to be closed by the caller.
//   - error: ErrConfiguration, ErrNotFound, download or graph errors.
func NewDetector(ctx context.Context, cfg config.Config) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g := G.NewGraph()
	b, err := backbone.NewContext(ctx, g, cfg.Backbone)
	if err != nil {
		return nil, err
	}
	head, err := ssdlite.New(b, cfg.Head)
	if err != nil {
		return nil, err
	}

	h, w := cfg.Input.Height, cfg.Input.Width
	x := G.NewTensor(g, b.Dtype(), 4, G.WithShape(1, backbone.InputChannels, h, w), G.WithName("input"))
	loc, cls, err := head.Forward(x)
	if err != nil {
		return nil, errors.Wrap(err, "build forward graph")
	}
	priors, err := postprocess.Priors(head.Grids(h, w), postprocess.DefaultPriorConfig())
	if err != nil {
		return nil, err
	}

	decode := postprocess.DefaultDecodeConfig()
	decode.Labels = cfg.Labels
	d := &Detector{
		cfg:      cfg,
		backbone: b,
		head:     head,
		input:    x,
		loc:      loc,
		cls:      cls,
		priors:   priors,
		pipeline: transforms.Resize{Width: w, Height: h},
		vm:       G.NewTapeMachine(g),
		Decode:   decode,
		NMS:      postprocess.DefaultNMSConfig(),
	}
	return d, nil
}

// Run executes the graph on one preprocessed image.
//
// Arguments:
//   - x: A (3, H, W) or (1, 3, H, W) tensor of the configured size and precision.
//
// Returns:
//   - loc: (1, T, 4) box offsets.
//   - cls: (1, T, Classes) class scores.
//   - err: Shape, dtype or execution errors.
func (d *Detector) Run(x *tensor.Dense) (loc, cls *tensor.Dense, err error) {
	want := d.input.Shape()
	in := x
	if x.Shape().Dims() == 3 {
		in = x.Clone().(*tensor.Dense)
		if err := in.Reshape(want...); err != nil {
			return nil, nil, errors.Wrapf(err, "input %v", x.Shape())
		}
	}
	if !in.Shape().Eq(want) {
		return nil, nil, errors.Errorf("input shape %v, want %v", x.Shape(), want)
	}
	if in.Dtype() != d.input.Dtype() {
		return nil, nil, errors.Errorf("input dtype %v, want %v", in.Dtype(), d.input.Dtype())
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	defer d.vm.Reset()
	if err := G.Let(d.input, in); err != nil {
		return nil, nil, errors.Wrap(err, "bind input")
	}
	if err := d.vm.RunAll(); err != nil {
		return nil, nil, errors.Wrap(err, "run graph")
	}
	if loc, err = nn.Materialize(d.loc.Value()); err != nil {
		return nil, nil, err
	}
	if cls, err = nn.Materialize(d.cls.Value()); err != nil {
		return nil, nil, err
	}
	return loc, cls, nil
}

// Detect resizes and normalizes img, runs the graph, then decodes and suppresses the
// predictions. Boxes are in pixels of img.
func (d *Detector) Detect(img image.Image) ([]postprocess.Result, error) {
	resized, _, err := d.pipeline.Apply(img, nil)
	if err != nil {
		return nil, err
	}
	x := transforms.ToTensor(resized)
	if len(d.cfg.Input.Mean) > 0 {
		norm := transforms.Normalize{Mean: d.cfg.Input.Mean, Std: d.cfg.Input.Std}
		if x, _, err = norm.Apply(x, nil); err != nil {
			return nil, err
		}
	}
	if d.input.Dtype() == tensor.Float64 {
		src := x.Data().([]float32)
		wide := make([]float64, len(src))
		for i, v := range src {
			wide[i] = float64(v)
		}
		x = tensor.New(tensor.WithShape(x.Shape().Clone()...), tensor.WithBacking(wide))
	}

	loc, cls, err := d.Run(x)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	dets, err := postprocess.Decode(float32s(loc), float32s(cls), d.priors, b.Dx(), b.Dy(), d.Decode)
	if err != nil {
		return nil, err
	}
	return postprocess.ApplyNMS(dets, d.NMS), nil
}

func float32s(t *tensor.Dense) []float32 {
	switch data := t.Data().(type) {
	case []float32:
		return data
	case []float64:
		out := make([]float32, len(data))
		for i, v := range data {
			out[i] = float32(v)
		}
		return out
	}
	return nil
}

// Backbone returns the backbone.
func (d *Detector) Backbone() *backbone.Backbone { return d.backbone }

// Head returns the detection head.
func (d *Detector) Head() *ssdlite.SSDLite { return d.head }

// Config returns the validated configuration the detector was built from.
func (d *Detector) Config() config.Config { return d.cfg }

// PriorCount returns the number of predictions per image.
func (d *Detector) PriorCount() int { return len(d.priors) }

// Describe writes the stage layout and prediction grids.
func (d *Detector) Describe(w io.Writer) {
	b := d.backbone
	fmt.Fprintf(w, "backbone %s (%s), norm=%q, params=%d\n", b.Name(), b.Family(), b.Norm(), b.Params().Size())
	for _, s := range b.Stages() {
		mark := " "
		if model.Contains(b.Levels(), s.Level()) {
			mark = "*"
		}
		fmt.Fprintf(w, "  %s %s %s: %d -> %d channels\n", mark, s.Name(), s.Level(), s.InChannels(), s.OutChannels())
	}
	fmt.Fprintf(w, "head: classes=%d anchors=%v params=%d\n", d.head.Classes(), d.head.NumAnchors(), d.head.Params().Size())
	for _, g := range d.head.Grids(d.cfg.Input.Height, d.cfg.Input.Width) {
		fmt.Fprintf(w, "  %s: %dx%d x %d anchors\n", g.Level, g.Height, g.Width, g.Anchors)
	}
	fmt.Fprintf(w, "priors: %d\n", len(d.priors))
}

// Close releases the machine.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.vm.Close()
}
