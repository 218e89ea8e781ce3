// Package util - Image file discovery and decoding for the command line tools.
package util

import (
	"image"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	// Registers the WebP decoder with image.Decode.
	_ "golang.org/x/image/webp"
)

// imageExts are the extensions ImageFiles picks up.
var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".bmp": true,
	".gif": true, ".tif": true, ".tiff": true, ".webp": true,
}

// ImageFile represents an image file.
type ImageFile struct {
	// Path is the path to the image file.
	Path string
	// Frame is the frame number parsed from a "frame-N" name, or -1.
	Frame int
}

// ImageFiles lists the image files under path. A file path yields itself. Files
// named frame-N are ordered by N ahead of the rest, which are ordered by name.
//
// Arguments:
// - path: An image file or a directory containing image files.
//
// Returns:
// - []ImageFile: The images found.
// - error: Error if listing fails or path is a file that is not an image.
func ImageFiles(path string) ([]ImageFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		if !isImage(path) {
			return nil, errors.Errorf("%s: unsupported image extension", path)
		}
		return []ImageFile{{Path: path, Frame: frameNumber(path)}}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var files []ImageFile
	for _, e := range entries {
		if e.IsDir() || !isImage(e.Name()) {
			continue
		}
		files = append(files, ImageFile{Path: filepath.Join(path, e.Name()), Frame: frameNumber(e.Name())})
	}

	sort.Slice(files, func(i, j int) bool {
		a, b := files[i], files[j]
		switch {
		case a.Frame >= 0 && b.Frame >= 0:
			return a.Frame < b.Frame
		case a.Frame >= 0 || b.Frame >= 0:
			return a.Frame >= 0
		}
		return a.Path < b.Path
	})
	return files, nil
}

// Open decodes the image, applying its EXIF orientation.
func (f ImageFile) Open() (image.Image, error) {
	img, err := imaging.Open(f.Path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", f.Path)
	}
	return img, nil
}

func isImage(name string) bool {
	return imageExts[strings.ToLower(filepath.Ext(name))]
}

func frameNumber(name string) int {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if !strings.HasPrefix(base, "frame-") {
		return -1
	}
	n, err := strconv.Atoi(strings.TrimPrefix(base, "frame-"))
	if err != nil || n < 0 {
		return -1
	}
	return n
}
