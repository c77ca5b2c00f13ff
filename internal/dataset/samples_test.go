package dataset

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoverBasic(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "3", "10.png"))
	mustWrite(t, filepath.Join(dir, "3", "2.png"))
	mustWrite(t, filepath.Join(dir, "3", "007.png"))
	mustWrite(t, filepath.Join(dir, "3", "8.PNG"))
	mustWrite(t, filepath.Join(dir, "0", "1.png"))
	mustWrite(t, filepath.Join(dir, "0", "2.jpg"))
	mustWrite(t, filepath.Join(dir, "0", "3.jpeg"))
	mustWrite(t, filepath.Join(dir, "0", "a1.png"))
	mustWrite(t, filepath.Join(dir, "0", "1_rot.png"))
	mustWrite(t, filepath.Join(dir, "0", "notes.txt"))
	mustWrite(t, filepath.Join(dir, "0", "nested", "5.png"))
	mustWrite(t, filepath.Join(dir, "letters", "4.png"))
	mustWrite(t, filepath.Join(dir, "12", "4.png"))

	samples, err := Discover(dir)
	require.NoError(t, err)

	want := []Sample{
		{Path: filepath.Join(dir, "0", "1.png"), Label: 0},
		{Path: filepath.Join(dir, "3", "2.png"), Label: 3},
		{Path: filepath.Join(dir, "3", "007.png"), Label: 3},
		{Path: filepath.Join(dir, "3", "10.png"), Label: 3},
	}
	if diff := cmp.Diff(want, samples); diff != "" {
		t.Fatalf("Discover mismatch (-want +got):\n%s", diff)
	}
}

func TestDiscoverEmpty(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "5", "readme.md"))

	_, err := Discover(dir)
	assert.ErrorIs(t, err, ErrNoSamples)

	_, err = Discover(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, ErrNoSamples)
}

func TestLoadDistinguishesFailures(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "nope.png"))
	assert.ErrorIs(t, err, ErrNotFound)

	junk := filepath.Join(dir, "1.png")
	require.NoError(t, os.WriteFile(junk, []byte{0x00, 0x01, 0x02}, 0o644))
	_, err = Load(junk)
	assert.ErrorIs(t, err, ErrBadFormat)
	assert.NotErrorIs(t, err, ErrNotFound)

	good := filepath.Join(dir, "2.png")
	writePNG(t, good, 8)
	img, err := Load(good)
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())
}

func TestSplitDeterministic(t *testing.T) {
	samples := make([]Sample, 50)
	for i := range samples {
		samples[i] = Sample{Path: filepath.Join("d", string(rune('a'+i%26)), "x"), Label: i % 10}
	}
	train1, val1, err := Split(samples, 0.2, 42)
	require.NoError(t, err)
	train2, val2, err := Split(samples, 0.2, 42)
	require.NoError(t, err)

	assert.Len(t, train1, 40)
	assert.Len(t, val1, 10)
	assert.Equal(t, train1, train2)
	assert.Equal(t, val1, val2)

	train3, _, err := Split(samples, 0.2, 7)
	require.NoError(t, err)
	assert.NotEqual(t, train1, train3)
}

func TestSplitTooSmall(t *testing.T) {
	_, _, err := Split([]Sample{{Path: "a"}}, 0.2, 42)
	assert.ErrorIs(t, err, ErrTooSmall)

	train, val, err := Split([]Sample{{Path: "a"}, {Path: "b"}}, 0.2, 42)
	require.NoError(t, err)
	assert.Len(t, train, 1)
	assert.Len(t, val, 1)
}

func TestShuffleKeepsInput(t *testing.T) {
	in := []Sample{{Path: "a"}, {Path: "b"}, {Path: "c"}, {Path: "d"}}
	orig := append([]Sample(nil), in...)
	out := Shuffle(in, 1)
	assert.Equal(t, orig, in)
	assert.ElementsMatch(t, in, out)
	assert.Equal(t, out, Shuffle(in, 1))
}

func mustWrite(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(""), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func writePNG(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	img := image.NewGray(image.Rect(0, 0, size, size))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	img.SetGray(size/2, size/2, color.Gray{Y: 0})
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}
