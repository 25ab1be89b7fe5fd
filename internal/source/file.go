package source

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
)

func openFile(u *url.URL) (Input, error) {
	path := u.Path
	if u.Scheme == "" {
		path = u.String()
	}
	f, err := os.Open(path)
	if err != nil {
		return Input{}, classifyFileError(err)
	}
	if st, err := f.Stat(); err == nil && st.IsDir() {
		f.Close()
		return Input{}, fmt.Errorf("%w: %s is a directory", ErrInvalidData, path)
	}
	return Input{URL: u, Reader: f, Path: path}, nil
}

func classifyFileError(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %w", ErrAccessDenied, err)
	}
	return err
}
