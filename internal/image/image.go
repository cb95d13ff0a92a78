// Package image maps a captured kernel RAM image into memory and serves reads
// by kernel virtual address.
package image

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/e2b-dev/infra/packages/ramdump/pkg/logger"
)

var (
	ErrEmptyImage = errors.New("image is empty")
	ErrTruncated  = errors.New("region extends past the end of the image")
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

var _ io.Closer = (*Image)(nil)

// Image is a read-only view of a RAM capture. Reads are served straight from
// the mapped file, so an Image is safe for concurrent use until Close.
type Image struct {
	path    string
	file    *os.File
	data    mmap.MMap
	mapping *Mapping

	// scratch is the decompressed copy removed on Close.
	scratch string
}

// Open maps the capture at path. A zstd compressed capture is first
// decompressed into a scratch file under cacheDir.
func Open(path string, mapping *Mapping, cacheDir string) (*Image, error) {
	compressed, err := isZstd(path)
	if err != nil {
		return nil, err
	}

	img := &Image{path: path, mapping: mapping}

	mapPath := path
	if compressed {
		mapPath, err = decompress(path, cacheDir)
		if err != nil {
			return nil, err
		}

		img.scratch = mapPath
	}

	if err := img.mmap(mapPath); err != nil {
		img.removeScratch()

		return nil, err
	}

	if size := mapping.Size(); size > int64(len(img.data)) {
		zap.L().Warn("image is shorter than its regions",
			logger.WithImage(path),
			zap.Int64("image.size", int64(len(img.data))),
			zap.Int64("regions.size", size),
		)
	}

	return img, nil
}

func (i *Image) mmap(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("error opening image: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()

		return fmt.Errorf("error reading image size: %w", err)
	}

	if info.Size() == 0 {
		f.Close()

		return fmt.Errorf("%s: %w", path, ErrEmptyImage)
	}

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()

		return fmt.Errorf("error mapping image: %w", err)
	}

	// Lookups chase pointers across the whole image, readahead only wastes
	// page cache.
	if err := unix.Madvise(data, unix.MADV_RANDOM); err != nil {
		zap.L().Warn("failed to advise random access on image", logger.WithImage(path), zap.Error(err))
	}

	i.file = f
	i.data = data

	return nil
}

func isZstd(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("error opening image: %w", err)
	}
	defer f.Close()

	magic := make([]byte, len(zstdMagic))
	if _, err := io.ReadFull(f, magic); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return false, nil
		}

		return false, fmt.Errorf("error reading image header: %w", err)
	}

	return bytes.Equal(magic, zstdMagic), nil
}

func decompress(path, cacheDir string) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("error opening image: %w", err)
	}
	defer src.Close()

	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("error creating cache dir: %w", err)
	}

	dst, err := os.CreateTemp(cacheDir, "ramdump-*.img")
	if err != nil {
		return "", fmt.Errorf("error creating scratch image: %w", err)
	}

	dec, err := zstd.NewReader(src)
	if err != nil {
		dst.Close()
		os.Remove(dst.Name())

		return "", fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	defer dec.Close()

	n, err := io.Copy(dst, dec)
	closeErr := dst.Close()

	if err = errors.Join(err, closeErr); err != nil {
		os.Remove(dst.Name())

		return "", fmt.Errorf("failed to decompress image: %w", err)
	}

	zap.L().Debug("decompressed image",
		logger.WithImage(path),
		zap.String("scratch", dst.Name()),
		zap.Int64("size", n),
	)

	return dst.Name(), nil
}

func (i *Image) Path() string {
	return i.path
}

// Size returns the size of the mapped (decompressed) image in bytes.
func (i *Image) Size() int64 {
	return int64(len(i.data))
}

func (i *Image) Mapping() *Mapping {
	return i.mapping
}

// ReadAt fills p with the bytes at kernel virtual address addr. A read may
// span adjacent regions but fails if any byte is unmapped.
func (i *Image) ReadAt(p []byte, addr uint64) (int, error) {
	n := 0
	for n < len(p) {
		cur := addr + uint64(n)

		off, remain, err := i.mapping.GetOffset(cur)
		if err != nil {
			return n, err
		}

		chunk := int64(min(remain, uint64(len(p)-n)))
		if off+chunk > int64(len(i.data)) {
			return n, fmt.Errorf("address %#x at file offset %#x: %w", cur, off, ErrTruncated)
		}

		n += copy(p[n:], i.data[off:off+chunk])
	}

	return n, nil
}

func (i *Image) removeScratch() {
	if i.scratch == "" {
		return
	}

	if err := os.Remove(i.scratch); err != nil && !os.IsNotExist(err) {
		zap.L().Warn("failed to remove scratch image", zap.String("scratch", i.scratch), zap.Error(err))
	}
}

func (i *Image) Close() error {
	var errs []error

	if i.data != nil {
		errs = append(errs, i.data.Unmap())
	}

	if i.file != nil {
		errs = append(errs, i.file.Close())
	}

	i.removeScratch()

	return errors.Join(errs...)
}
