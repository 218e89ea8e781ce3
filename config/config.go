// Package config loads detector descriptions from YAML.
package config

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-ssdlite/models/backbone"
	"github.com/nvr-ai/go-ssdlite/models/model"
	"github.com/nvr-ai/go-ssdlite/models/ssdlite"
)

// maxFileSize caps the size of a configuration file.
const maxFileSize = 1 << 20

// Input describes the images fed to the detector.
type Input struct {
	Height int       `json:"height" yaml:"height"`
	Width  int       `json:"width" yaml:"width"`
	Mean   []float32 `json:"mean,omitempty" yaml:"mean,omitempty"`
	Std    []float32 `json:"std,omitempty" yaml:"std,omitempty"`
}

// Config is a complete detector description.
type Config struct {
	Backbone backbone.Config `json:"backbone" yaml:"backbone"`
	Head     ssdlite.Config  `json:"head" yaml:"head"`
	// Labels names the class set. When Head.Classes is zero it is taken from here.
	Labels model.LabelSet `json:"labels,omitempty" yaml:"labels,omitempty"`
	Input  Input          `json:"input" yaml:"input"`
}

// Default returns a ShuffleNetV2 x1.0 detector over VOC at 320x320. The class count
// follows the label set.
func Default() Config {
	head := ssdlite.DefaultConfig()
	head.Classes = 0
	return Config{
		Backbone: backbone.Config{
			Family: model.FamilyShuffleNetV2,
			Mult:   1.0,
			Levels: []model.Level{3, 4, 5},
		},
		Head:   head,
		Labels: model.LabelSetVOC,
		Input: Input{
			Height: 320,
			Width:  320,
			Mean:   []float32{0.485, 0.456, 0.406},
			Std:    []float32{0.229, 0.224, 0.225},
		},
	}
}

// Load reads a YAML configuration. Fields omitted from the file keep the values of
// Default. The file must have a .yaml or .yml extension and be at most 1MB.
func Load(path string) (Config, error) {
	clean := filepath.Clean(path)
	if ext := filepath.Ext(clean); ext != ".yaml" && ext != ".yml" {
		return Config{}, errors.Errorf("config file must have .yaml or .yml extension, got %q", ext)
	}
	info, err := os.Stat(clean)
	if err != nil {
		return Config{}, errors.Wrap(err, "stat config file")
	}
	if info.Size() > maxFileSize {
		return Config{}, errors.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}
	data, err := os.ReadFile(clean)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config file")
	}
	return Parse(data)
}

// Parse decodes YAML over Default and validates the result. Unknown keys are errors.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, errors.Wrap(err, "parse config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

// Marshal encodes cfg as YAML.
func Marshal(cfg Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, errors.Wrap(err, "encode config")
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Validate checks the fields that can be checked without building a graph. It fills
// Head.Classes from Labels when unset.
func (c *Config) Validate() error {
	f, err := model.ParseFamily(string(c.Backbone.Family))
	if err != nil {
		return err
	}
	c.Backbone.Family = f
	if c.Labels != "" {
		ls, err := model.ParseLabelSet(string(c.Labels))
		if err != nil {
			return err
		}
		c.Labels = ls
		switch {
		case c.Head.Classes == 0:
			c.Head.Classes = ls.Len()
		case c.Head.Classes != ls.Len():
			return model.Configurationf("head has %d classes but label set %s has %d", c.Head.Classes, ls, ls.Len())
		}
	}
	if c.Input.Height <= 0 || c.Input.Width <= 0 {
		return model.Configurationf("input size must be positive, got %dx%d", c.Input.Width, c.Input.Height)
	}
	if len(c.Input.Mean) != len(c.Input.Std) {
		return model.Configurationf("input mean and std differ in length: %d vs %d", len(c.Input.Mean), len(c.Input.Std))
	}
	if n := len(c.Input.Mean); n != 0 && n != backbone.InputChannels {
		return model.Configurationf("input mean needs %d values, got %d", backbone.InputChannels, n)
	}
	for _, s := range c.Input.Std {
		if s <= 0 {
			return model.Configurationf("input std must be positive, got %v", c.Input.Std)
		}
	}
	return nil
}
