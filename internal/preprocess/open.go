package preprocess

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"os"
)

var (
	// ErrNotFound marks a path that does not exist.
	ErrNotFound = errors.New("image not found")
	// ErrBadFormat marks data that is not a recognisable image.
	ErrBadFormat = errors.New("unrecognized image format")
)

// Open decodes the image at path. Missing files wrap ErrNotFound, undecodable
// content wraps ErrBadFormat and anything else is returned as an I/O error.
func Open(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadFormat, path, err)
	}
	return img, nil
}
