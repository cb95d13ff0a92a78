package mm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e2b-dev/infra/packages/ramdump/internal/oracle/oracletest"
)

func TestHash32(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint32(0), Hash32(0, 7))
	assert.Equal(t, uint32(79), Hash32(1, 7))
	assert.Equal(t, Hash32(0xc1000040, 7), Hash32(0xc1000040, 7))
	// only the low 32 bits of the product count
	assert.Equal(t, Hash32(0xc1000040, 7), Hash32(0x1_c1000040, 7))
}

func TestHash32_Bounded(t *testing.T) {
	t.Parallel()

	for _, x := range []uint64{0, 1, 2, 0x7f, 0x80, 0xdeadbeef, 0xc0000000, 0xfffffff0, math.MaxUint32} {
		assert.Less(t, Hash32(x, 7), uint32(128), "x=%#x", x)
	}

	for x := uint64(0); x < 1<<32; x += 0x10001 {
		require.Less(t, Hash32(x, 7), uint32(128))
	}
}

func newTestHighmemResolver(f *oracletest.Fake, maxSteps int) *highmemResolver {
	layout := DefaultLayout()
	layout.MaxListSteps = maxSteps

	return newHighmemResolver(layoutReader{Oracle: f}, layout)
}

// sameBucketPage returns another descriptor address of the flat mem_map that
// hashes to the bucket of page.
func sameBucketPage(page, pageSize uint64) uint64 {
	want := Hash32(page, DefaultHashBits)

	for candidate := page + pageSize; ; candidate += pageSize {
		if Hash32(candidate, DefaultHashBits) == want {
			return candidate
		}
	}
}

func TestHighmemResolver_Found(t *testing.T) {
	t.Parallel()

	f := newHighmemFake()
	page := uint64(testMemMap + 0x100)
	other := sameBucketPage(page, f.PageStructSize())
	bucket := uint64(Hash32(page, DefaultHashBits))

	f.AddKmap(testHTable, bucket, testKmapEntries, page, 0xffe01000)
	f.AddKmap(testHTable, bucket, testKmapEntries+0x20, other, 0xffe02000)

	h := newTestHighmemResolver(f, DefaultMaxListSteps)

	virt, err := h.virtual(page)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xffe01000), virt)

	virt, err = h.virtual(other)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xffe02000), virt)
}

func TestHighmemResolver_EmptyBucket(t *testing.T) {
	t.Parallel()

	h := newTestHighmemResolver(newHighmemFake(), DefaultMaxListSteps)

	_, err := h.virtual(testMemMap + 0x100)
	require.ErrorIs(t, err, ErrNoMatchFound)
	assert.True(t, IsUnresolved(err))
}

func TestHighmemResolver_NotInBucket(t *testing.T) {
	t.Parallel()

	f := newHighmemFake()
	page := uint64(testMemMap + 0x100)
	other := sameBucketPage(page, f.PageStructSize())
	f.AddKmap(testHTable, uint64(Hash32(other, DefaultHashBits)), testKmapEntries, other, 0xffe02000)

	_, err := newTestHighmemResolver(f, DefaultMaxListSteps).virtual(page)
	require.ErrorIs(t, err, ErrNoMatchFound)
}

func TestHighmemResolver_CyclicList(t *testing.T) {
	t.Parallel()

	f := newHighmemFake()
	page := uint64(testMemMap + 0x100)
	bucket := uint64(Hash32(page, DefaultHashBits))
	head := testHTable + bucket*f.SlotStructSize()

	// a self-linked entry that never leads back to the sentinel
	node := uint64(testKmapEntries + 8)
	f.WriteWord(testKmapEntries, testMemMap).
		WriteWord(node, node).
		WriteWord(head, node)

	_, err := newTestHighmemResolver(f, 16).virtual(page)
	require.ErrorIs(t, err, ErrTraversalLimit)
	assert.True(t, IsUnresolved(err))
}

func TestHighmemResolver_BrokenLinks(t *testing.T) {
	t.Parallel()

	t.Run("null next", func(t *testing.T) {
		t.Parallel()

		f := newHighmemFake()
		page := uint64(testMemMap + 0x100)
		head := testHTable + uint64(Hash32(page, DefaultHashBits))*f.SlotStructSize()
		f.WriteWord(head, 0)

		_, err := newTestHighmemResolver(f, DefaultMaxListSteps).virtual(page)
		require.ErrorIs(t, err, ErrUnreadableMemory)
	})

	t.Run("entry outside image", func(t *testing.T) {
		t.Parallel()

		f := newHighmemFake()
		page := uint64(testMemMap + 0x100)
		head := testHTable + uint64(Hash32(page, DefaultHashBits))*f.SlotStructSize()
		f.WriteWord(head, 0xd0000008)

		_, err := newTestHighmemResolver(f, DefaultMaxListSteps).virtual(page)
		require.ErrorIs(t, err, ErrUnreadableMemory)
	})

	t.Run("missing table symbol", func(t *testing.T) {
		t.Parallel()

		_, err := newTestHighmemResolver(oracletest.NewKernel(4), DefaultMaxListSteps).virtual(testMemMap)
		require.ErrorIs(t, err, ErrMissingSymbol)
	})
}
