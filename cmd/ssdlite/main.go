package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-ssdlite/config"
	"github.com/nvr-ai/go-ssdlite/models"
	"github.com/nvr-ai/go-ssdlite/models/backbone"
	"github.com/nvr-ai/go-ssdlite/models/ssdlite"
	"github.com/nvr-ai/go-ssdlite/models/zoo"
	"github.com/nvr-ai/go-ssdlite/profiler"
	"github.com/nvr-ai/go-ssdlite/util"
)

const usage = `usage: ssdlite <command> [flags]

commands:
  describe -config file          build the detector and print its layout
  search [-n 5] name             suggest registry names close to name
  run -config file -image path   detect objects in an image or a directory of images
`

func main() {
	log.SetFlags(0)
	log.SetPrefix("ssdlite: ")
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "describe":
		err = describe(ctx, args, os.Stdout)
	case "search":
		err = search(args, os.Stdout)
	case "run":
		err = run(ctx, args, os.Stdout)
	case "help", "-h", "-help", "--help":
		fmt.Fprint(os.Stdout, usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

// common registers the flags shared by the commands that build a detector.
func common(fs *flag.FlagSet) (configFile *string, verbose *bool) {
	configFile = fs.String("config", "", "Path to a YAML detector configuration (defaults when empty)")
	verbose = fs.Bool("v", false, "Log construction details to stderr")
	return configFile, verbose
}

func loadConfig(path string, verbose bool) (config.Config, error) {
	if verbose {
		l := log.New(os.Stderr, "", log.LstdFlags)
		backbone.SetLogger(l)
		ssdlite.SetLogger(l)
		zoo.SetLogger(l)
	}
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func describe(ctx context.Context, args []string, w io.Writer) error {
	fs := flag.NewFlagSet("describe", flag.ContinueOnError)
	configFile, verbose := common(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*configFile, *verbose)
	if err != nil {
		return err
	}
	d, err := models.NewDetector(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.Close()
	d.Describe(w)
	return nil
}

func search(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	n := fs.Int("n", 5, "Maximum number of suggestions")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.Errorf("search needs exactly one name, got %d", fs.NArg())
	}
	name := fs.Arg(0)
	if e, err := zoo.Lookup(name); err == nil {
		fmt.Fprintf(w, "%s: %s\n", e.Name, e.Family)
		return nil
	}
	matches := zoo.Search(name, *n)
	if len(matches) == 0 {
		return errors.Errorf("no registry name resembles %q", name)
	}
	for _, m := range matches {
		fmt.Fprintln(w, m)
	}
	return nil
}

func run(ctx context.Context, args []string, w io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configFile, verbose := common(fs)
	imagePath := fs.String("image", "", "Path to an image file or a directory of images")
	threshold := fs.Float64("threshold", 0.5, "Minimum class score")
	repeat := fs.Int("repeat", 1, "Forward passes per image, for timing")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *imagePath == "" {
		return errors.Errorf("run needs -image")
	}
	files, err := util.ImageFiles(*imagePath)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(*configFile, *verbose)
	if err != nil {
		return err
	}

	prof := profiler.New(0)
	done := prof.StartOperation("build")
	d, err := models.NewDetector(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.Close()
	done()
	d.Decode.ScoreThreshold = float32(*threshold)

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		img, err := f.Open()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s (%dx%d)\n", f.Path, img.Bounds().Dx(), img.Bounds().Dy())
		for i := 0; i < *repeat; i++ {
			start := time.Now()
			dets, err := d.Detect(img)
			if err != nil {
				return err
			}
			prof.Record("detect", time.Since(start))
			if i > 0 {
				continue
			}
			for _, r := range dets {
				fmt.Fprintf(w, "  %s\n", r)
			}
			if len(dets) == 0 {
				fmt.Fprintln(w, "  no detections")
			}
		}
	}
	prof.Report(w)
	return nil
}
