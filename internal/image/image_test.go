package image

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContent(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}

	return data
}

func writeImage(t *testing.T, data []byte, compressed bool) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ram.img")

	if compressed {
		enc, err := zstd.NewWriter(nil)
		require.NoError(t, err)

		data = enc.EncodeAll(data, nil)
		require.NoError(t, enc.Close())
	}

	require.NoError(t, os.WriteFile(path, data, 0o644))

	return path
}

func testMapping(t *testing.T) *Mapping {
	t.Helper()

	mapping, err := NewMapping([]Region{
		{BaseVirtAddr: 0xc0000000, Size: 0x1000, Offset: 0},
		{BaseVirtAddr: 0xc0001000, Size: 0x1000, Offset: 0x2000},
	})
	require.NoError(t, err)

	return mapping
}

func TestImage_ReadAt(t *testing.T) {
	for _, compressed := range []bool{false, true} {
		name := "raw"
		if compressed {
			name = "zstd"
		}

		t.Run(name, func(t *testing.T) {
			data := testContent(0x3000)
			cacheDir := t.TempDir()

			img, err := Open(writeImage(t, data, compressed), testMapping(t), cacheDir)
			require.NoError(t, err)
			t.Cleanup(func() { img.Close() })

			assert.Equal(t, int64(0x3000), img.Size())

			buf := make([]byte, 8)
			n, err := img.ReadAt(buf, 0xc0000010)
			require.NoError(t, err)
			assert.Equal(t, 8, n)
			assert.Equal(t, data[0x10:0x18], buf)

			// Crosses into the second region, which lives at file offset 0x2000.
			n, err = img.ReadAt(buf, 0xc0000ffc)
			require.NoError(t, err)
			assert.Equal(t, 8, n)
			assert.Equal(t, data[0xffc:0x1000], buf[:4])
			assert.Equal(t, data[0x2000:0x2004], buf[4:])
		})
	}
}

func TestImage_ScratchRemovedOnClose(t *testing.T) {
	cacheDir := t.TempDir()

	img, err := Open(writeImage(t, testContent(0x3000), true), testMapping(t), cacheDir)
	require.NoError(t, err)

	entries, err := os.ReadDir(cacheDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, img.Close())

	entries, err = os.ReadDir(cacheDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestImage_ReadErrors(t *testing.T) {
	mapping, err := NewMapping([]Region{
		{BaseVirtAddr: 0xc0000000, Size: 0x2000, Offset: 0},
	})
	require.NoError(t, err)

	img, err := Open(writeImage(t, testContent(0x1000), false), mapping, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { img.Close() })

	buf := make([]byte, 4)

	_, err = img.ReadAt(buf, 0xbffffffc)
	require.ErrorIs(t, err, AddressNotMappedError{addr: 0xbffffffc})

	_, err = img.ReadAt(buf, 0xc0001000)
	require.ErrorIs(t, err, ErrTruncated)

	n, err := img.ReadAt(buf, 0xc0000ffe)
	require.ErrorIs(t, err, ErrTruncated)
	assert.Equal(t, 0, n)
}

func TestOpen_Empty(t *testing.T) {
	_, err := Open(writeImage(t, nil, false), testMapping(t), t.TempDir())
	require.ErrorIs(t, err, ErrEmptyImage)
}
