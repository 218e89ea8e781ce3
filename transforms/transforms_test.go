package transforms

import (
	"errors"
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

type pair = Transform[int, string]

func add(n int) pair {
	return NewInputTransform[int, string]("add", func(x int) (int, error) { return x + n, nil })
}

func suffix(s string) pair {
	return NewTargetTransform[int, string]("suffix", func(t string) (string, error) { return t + s, nil })
}

func TestComposeAppliesInOrder(t *testing.T) {
	var double pair = NewInputTransform[int, string]("double", func(x int) (int, error) { return 2 * x, nil })

	x, y, err := NewCompose[int, string](add(1), double, suffix("a"), suffix("b")).Apply(3, "")
	require.NoError(t, err)
	assert.Equal(t, 8, x)
	assert.Equal(t, "ab", y)

	// Compose(f, g) behaves as g after f.
	x1, y1, _ := NewCompose[int, string](add(1), double).Apply(5, "t")
	mid, midT, _ := add(1).Apply(5, "t")
	x2, y2, _ := double.Apply(mid, midT)
	assert.Equal(t, x2, x1)
	assert.Equal(t, y2, y1)

	x, y, err = NewCompose[int, string]().Apply(7, "z")
	require.NoError(t, err)
	assert.Equal(t, 7, x)
	assert.Equal(t, "z", y)
}

func TestComposeStopsAtFirstError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	fail := Func[int, string](func(x int, y string) (int, string, error) { return x, y, boom })
	count := Func[int, string](func(x int, y string) (int, string, error) { calls++; return x, y, nil })

	_, _, err := NewCompose[int, string](count, fail, count).Apply(0, "")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestRandomChoice(t *testing.T) {
	t.Run("single origin is identity", func(t *testing.T) {
		x, y, err := NewRandomChoice[int, string](UseOrigin[int, string]{}).Apply(4, "k")
		require.NoError(t, err)
		assert.Equal(t, 4, x)
		assert.Equal(t, "k", y)
	})

	t.Run("empty", func(t *testing.T) {
		_, _, err := NewRandomChoice[int, string]().Apply(0, "")
		assert.ErrorIs(t, err, ErrNoChoices)
	})

	t.Run("seeded", func(t *testing.T) {
		base := NewRandomChoice[int, string](add(1), add(10), add(100))
		run := func() []int {
			rc := base.WithRand(rand.New(rand.NewSource(42)))
			var got []int
			for i := 0; i < 20; i++ {
				x, _, err := rc.Apply(0, "")
				require.NoError(t, err)
				got = append(got, x)
			}
			return got
		}
		first := run()
		assert.Equal(t, first, run())
		seen := map[int]bool{}
		for _, x := range first {
			assert.Contains(t, []int{1, 10, 100}, x)
			seen[x] = true
		}
		assert.Greater(t, len(seen), 1)
	})
}

func TestJointTransform(t *testing.T) {
	j := NewJointTransform("swap", func(x int, y string) (int, string, error) { return len(y), string(rune('a' + x)), nil })
	x, y, err := j.Apply(2, "abcd")
	require.NoError(t, err)
	assert.Equal(t, 4, x)
	assert.Equal(t, "c", y)
}

func TestString(t *testing.T) {
	c := NewCompose[int, string](add(1), NewRandomChoice[int, string](UseOrigin[int, string]{}, suffix("x")))
	assert.Equal(t, "Compose(\n"+
		"    InputTransform(add)\n"+
		"    RandomChoice(\n"+
		"        UseOrigin()\n"+
		"        TargetTransform(suffix)\n"+
		"    )\n"+
		")", c.String())
	assert.Equal(t, "Compose()", NewCompose[int, string]().String())
}

func checker(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	return img
}

func TestResize(t *testing.T) {
	anns := []Annotation{{Box: Box{X1: 10, Y1: 20, X2: 30, Y2: 40}, Category: 3}}
	img, out, err := Resize{Width: 50, Height: 200}.Apply(checker(100, 100), anns)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 50, 200), img.Bounds())
	if diff := cmp.Diff([]Annotation{{Box: Box{X1: 5, Y1: 40, X2: 15, Y2: 80}, Category: 3}}, out); diff != "" {
		t.Errorf("boxes (-want +got):\n%s", diff)
	}
	assert.Equal(t, float32(10), anns[0].Box.X1, "input annotations must not change")

	_, _, err = Resize{}.Apply(checker(4, 4), nil)
	assert.Error(t, err)
}

func TestHFlip(t *testing.T) {
	src := checker(10, 4)
	img, out, err := HFlip{}.Apply(src, []Annotation{{Box: Box{X1: 1, Y1: 0, X2: 4, Y2: 2}}})
	require.NoError(t, err)
	if diff := cmp.Diff([]Annotation{{Box: Box{X1: 6, Y1: 0, X2: 9, Y2: 2}}}, out); diff != "" {
		t.Errorf("boxes (-want +got):\n%s", diff)
	}
	r, _, _, _ := img.At(0, 0).RGBA()
	assert.Equal(t, uint32(9)*0x101, r)

	// Flipping twice restores the boxes.
	_, back, err := NewCompose[image.Image, []Annotation](HFlip{}, HFlip{}).Apply(src, []Annotation{{Box: Box{X1: 1, Y1: 0, X2: 4, Y2: 2}}})
	require.NoError(t, err)
	assert.Equal(t, Box{X1: 1, Y1: 0, X2: 4, Y2: 2}, back[0].Box)
}

func TestCrop(t *testing.T) {
	anns := []Annotation{
		{Box: Box{X1: 2, Y1: 2, X2: 6, Y2: 6}, Category: 1},
		{Box: Box{X1: 8, Y1: 8, X2: 10, Y2: 10}, Category: 2},
		{Box: Box{X1: 20, Y1: 20, X2: 30, Y2: 30}, Category: 3},
	}
	img, out, err := Crop{Rect: image.Rect(4, 4, 12, 12)}.Apply(checker(16, 16), anns)
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())
	want := []Annotation{
		{Box: Box{X1: 0, Y1: 0, X2: 2, Y2: 2}, Category: 1},
		{Box: Box{X1: 4, Y1: 4, X2: 6, Y2: 6}, Category: 2},
	}
	if diff := cmp.Diff(want, out); diff != "" {
		t.Errorf("boxes (-want +got):\n%s", diff)
	}

	_, _, err = Crop{Rect: image.Rect(40, 40, 50, 50)}.Apply(checker(16, 16), nil)
	assert.Error(t, err)
}

func TestToTensorAndNormalize(t *testing.T) {
	x := ToTensor(checker(3, 2))
	require.True(t, tensor.Shape{3, 2, 3}.Eq(x.Shape()))
	data := x.Data().([]float32)
	assert.InDelta(t, 2.0/255, data[2], 1e-6)      // R at (2, 0)
	assert.InDelta(t, 1.0/255, data[6+3], 1e-6)    // G at (0, 1)
	assert.InDelta(t, 200.0/255, data[12+5], 1e-6) // B at (2, 1)

	norm := Normalize{Mean: []float32{0, 0, 1}, Std: []float32{1, 0.5, 1}}
	y, _, err := norm.Apply(x, nil)
	require.NoError(t, err)
	ydata := y.Data().([]float32)
	assert.InDelta(t, 2*1.0/255, ydata[6+3], 1e-6)
	assert.InDelta(t, 200.0/255-1, ydata[12+5], 1e-6)
	assert.InDelta(t, 1.0/255, data[6+3], 1e-6, "source tensor must not change")

	_, _, err = Normalize{Mean: []float32{0, 0, 0}, Std: []float32{1, 0, 1}}.Apply(x, nil)
	assert.Error(t, err)
	_, _, err = Normalize{Mean: []float32{0}, Std: []float32{1}}.Apply(x, nil)
	assert.Error(t, err)
}

func TestBoxIoU(t *testing.T) {
	a := Box{X1: 0, Y1: 0, X2: 10, Y2: 10}
	assert.Equal(t, float32(1), a.IoU(a))
	assert.Equal(t, float32(0), a.IoU(Box{X1: 10, Y1: 0, X2: 20, Y2: 10}))
	assert.InDelta(t, 25.0/175, a.IoU(Box{X1: 5, Y1: 5, X2: 15, Y2: 15}), 1e-6)
	assert.Equal(t, float32(0), a.IoU(Box{X1: 3, Y1: 3, X2: 2, Y2: 2}))
}
