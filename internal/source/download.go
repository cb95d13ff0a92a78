package source

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/e2b-dev/infra/packages/ramdump/pkg/logger"
)

var ErrUnsafeLocation = errors.New("capture location escapes the download directory")

// localPath is where loc is kept under dir. Object keys that would resolve
// outside dir are rejected.
func localPath(dir string, loc Location) (string, error) {
	dst := filepath.Join(dir, loc.Bucket, filepath.FromSlash(loc.Path))

	rel, err := filepath.Rel(dir, dst)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("%s: %w", loc, ErrUnsafeLocation)
	}

	return dst, nil
}

// cached reports whether dst already holds a complete copy of size bytes.
func cached(dst string, size int64) bool {
	info, err := os.Stat(dst)
	if err != nil || info.Size() != size {
		return false
	}

	zap.L().Debug("reusing downloaded capture", logger.WithImage(dst))

	return true
}

func downloaded(loc Location, dst string, size int64) {
	zap.L().Info("downloaded capture",
		zap.String("location", loc.String()),
		logger.WithImage(dst),
		zap.Int64("size", size),
	)
}

// store copies r into dst, see storeWith.
func store(dst string, r io.Reader, bufferSize int) error {
	return storeWith(dst, func(f *os.File) error {
		_, err := io.CopyBuffer(f, r, make([]byte, bufferSize))

		return err
	})
}

// storeWith lets fill write a file next to dst and renames it into place, so
// an interrupted download is never mistaken for a complete capture.
func storeWith(dst string, fill func(f *os.File) error) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("error creating download dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".*.part")
	if err != nil {
		return err
	}

	err = fill(tmp)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("failed to copy capture to file: %w", err)
	}

	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())

		return err
	}

	return nil
}
