package zoo

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-ssdlite/nn"
)

// ArchiveExt is the file extension of weight archives.
const ArchiveExt = ".npz"

// Store locates weight archives on disk, downloading missing ones from BaseURL.
type Store struct {
	// Dir holds <name>.npz archives.
	Dir string `json:"dir" yaml:"dir"`
	// BaseURL serves <name>.npz. Empty disables downloads.
	BaseURL string `json:"base_url" yaml:"base_url"`
	// Client performs downloads; nil uses http.DefaultClient.
	Client *http.Client `json:"-" yaml:"-"`
}

// Path returns where the archive for name lives in the store.
func (s Store) Path(name string) string {
	return filepath.Join(s.Dir, name+ArchiveExt)
}

// Fetch returns the local path of the archive for a registry name, downloading it
// first when it is missing and BaseURL is set.
//
// Arguments:
//   - ctx: Bounds the download.
//   - name: A registry name (see Names).
//
// Returns:
//   - string: The archive path.
//   - error: *model.NotFoundError for unknown names, or the I/O failure.
func (s Store) Fetch(ctx context.Context, name string) (string, error) {
	if _, err := Lookup(name); err != nil {
		return "", err
	}
	path := s.Path(name)
	if _, err := os.Stat(path); err == nil {
		logf("using cached weights %s", path)
		return path, nil
	}
	if s.BaseURL == "" {
		return "", errors.Errorf("weights for %s not found in %s and no base URL configured", name, s.Dir)
	}
	if err := s.download(ctx, name, path); err != nil {
		return "", errors.Wrapf(err, "download %s", name)
	}
	return path, nil
}

func (s Store) download(ctx context.Context, name, path string) error {
	url := strings.TrimRight(s.BaseURL, "/") + "/" + name + ArchiveExt
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", url, resp.Status)
	}

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.Dir, name+".*.part")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	logf("downloaded %s (%d bytes) to %s", url, n, path)
	return nil
}

// Archive holds the arrays of a weight archive by name, ".npy" stripped.
type Archive struct {
	path   string
	arrays map[string]*tensor.Dense
}

// ReadArchive reads every array of the .npz archive at path.
func ReadArchive(path string) (Archive, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return Archive{}, errors.Wrap(err, "open weights")
	}
	defer zr.Close()

	a := Archive{path: path, arrays: make(map[string]*tensor.Dense, len(zr.File))}
	for _, f := range zr.File {
		key := strings.TrimSuffix(f.Name, ".npy")
		d, err := readArray(f)
		if err != nil {
			return Archive{}, errors.Wrapf(err, "%s: %s", path, key)
		}
		a.arrays[key] = d
	}
	return a, nil
}

// Len returns the number of arrays.
func (a Archive) Len() int { return len(a.arrays) }

// Check verifies that the archive covers the parameters under prefix exactly: missing
// arrays, arrays without a parameter, and shape or dtype mismatches are all errors.
// Array names are parameter names with prefix stripped.
func (a Archive) Check(params *nn.Params, prefix string) error {
	_, err := a.match(params, prefix)
	return err
}

// Bind checks the archive against params and then binds every array to its
// parameter. Nothing is bound unless everything matches.
func (a Archive) Bind(params *nn.Params, prefix string) error {
	values, err := a.match(params, prefix)
	if err != nil {
		return err
	}
	for node, d := range values {
		if err := G.Let(node, d); err != nil {
			return errors.Wrapf(err, "bind %s", node.Name())
		}
	}
	logf("loaded %d arrays from %s", len(values), a.path)
	return nil
}

func (a Archive) match(params *nn.Params, prefix string) (map[*G.Node]*tensor.Dense, error) {
	want := make(map[string]*G.Node)
	for _, name := range params.Names() {
		if strings.HasPrefix(name, prefix) {
			n, _ := params.Get(name)
			want[strings.TrimPrefix(name, prefix)] = n
		}
	}

	keys := make([]string, 0, len(a.arrays))
	for key := range a.arrays {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	values := make(map[*G.Node]*tensor.Dense, len(want))
	for _, key := range keys {
		d := a.arrays[key]
		node, ok := want[key]
		if !ok {
			return nil, errors.Errorf("%s: array %q has no matching parameter", a.path, key)
		}
		if !d.Shape().Eq(node.Shape()) {
			return nil, errors.Errorf("%s: %s has shape %v, parameter wants %v", a.path, key, d.Shape(), node.Shape())
		}
		if d.Dtype() != node.Dtype() {
			return nil, errors.Errorf("%s: %s has dtype %v, parameter wants %v", a.path, key, d.Dtype(), node.Dtype())
		}
		values[node] = d
	}

	if len(values) != len(want) {
		var missing []string
		for key, node := range want {
			if _, ok := values[node]; !ok {
				missing = append(missing, key)
			}
		}
		sort.Strings(missing)
		return nil, errors.Errorf("%s: %d parameters missing (first: %s)", a.path, len(missing), missing[0])
	}
	return values, nil
}

// Load binds every parameter under prefix to the array of the same name (prefix
// stripped) in the archive at path. See Archive.Bind.
func Load(path string, params *nn.Params, prefix string) error {
	a, err := ReadArchive(path)
	if err != nil {
		return err
	}
	return a.Bind(params, prefix)
}

// Save writes every parameter under prefix to an archive at path, the inverse of Load.
// Parameters must hold values, which they do once the graph has been initialized.
func Save(path string, params *nn.Params, prefix string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(f)
	for _, name := range params.Names() {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		node, _ := params.Get(name)
		d, ok := node.Value().(*tensor.Dense)
		if !ok {
			zw.Close()
			f.Close()
			return errors.Errorf("parameter %s has no dense value", name)
		}
		w, err := zw.Create(strings.TrimPrefix(name, prefix) + ".npy")
		if err != nil {
			zw.Close()
			f.Close()
			return err
		}
		if err := d.WriteNpy(w); err != nil {
			zw.Close()
			f.Close()
			return errors.Wrapf(err, "write %s", name)
		}
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func readArray(f *zip.File) (*tensor.Dense, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	d := new(tensor.Dense)
	if err := d.ReadNpy(rc); err != nil {
		return nil, err
	}
	return d, nil
}
