package mm

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/e2b-dev/infra/packages/ramdump/internal/oracle/oracletest"
)

func newTestResolver(t *testing.T, f *oracletest.Fake, target Target, opts ...Option) *Resolver {
	t.Helper()

	r, err := NewResolver(f, target, append([]Option{WithLogger(zap.NewNop())}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(r.Close)

	return r
}

func TestNewResolver_Selection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		fake    *oracletest.Fake
		target  Target
		model   Model
		variant LowmemVariant
	}{
		{
			name:    "32-bit flat",
			fake:    oracletest.NewKernel(4),
			target:  target32,
			model:   ModelFlat,
			variant: LowmemPlain,
		},
		{
			name:    "32-bit sparse",
			fake:    oracletest.NewKernel(4).SetConfig(ConfigSparseMem, true),
			target:  target32,
			model:   ModelSparse,
			variant: LowmemBankAware,
		},
		{
			name:    "32-bit flat with memory hole",
			fake:    oracletest.NewKernel(4).SetConfig(ConfigDontMapHoleAfter, true),
			target:  target32,
			model:   ModelFlat,
			variant: LowmemHoleSkipping,
		},
		{
			name:    "64-bit sparse",
			fake:    oracletest.NewKernel(8).SetConfig(ConfigSparseMem, true),
			target:  Target{Is64Bit: true},
			model:   ModelDirectMap,
			variant: LowmemPlain,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := newTestResolver(t, tt.fake, tt.target)
			assert.Equal(t, tt.model, r.Model())
			assert.Equal(t, tt.variant, r.LowmemVariant())
		})
	}
}

func TestNewResolver_Invalid(t *testing.T) {
	t.Parallel()

	_, err := NewResolver(nil, target32)
	require.Error(t, err)

	layout := DefaultLayout()
	layout.HashBits = 0

	_, err = NewResolver(oracletest.NewKernel(4), target32, WithLayout(layout))
	require.ErrorIs(t, err, ErrUnsupportedConfiguration)
}

func TestResolver_LowmemVirtualAddress(t *testing.T) {
	t.Parallel()

	f := newFlatFake()
	r := newTestResolver(t, f, target32)

	page, err := r.PFNToPage(0x80123)
	require.NoError(t, err)

	pfn, err := r.PageToPFN(page)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x80123), pfn)

	virt, err := r.VirtualAddress(page)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xc0123000), virt)

	assert.False(t, r.IsHighMemory(page))
}

func TestResolver_BankAwareVirtualAddress(t *testing.T) {
	t.Parallel()

	f := newSparseFake().
		SetSymbol("membank1_start", 0xc0003000).
		SetSymbol("membank0_size", 0xc0003004).
		WriteWord(0xc0003000, 0x90000000).
		WriteWord(0xc0003004, 0x40000000)

	// section 9 (pfn 0x90000-0x9ffff) lives in bank 1
	section9Map := uint64(0xc3100000)
	f.SetSection(testSectionRoot, 9, encodedSectionMap(section9Map, 0x90000, f.PageStructSize()), 0b11)

	r := newTestResolver(t, f, target32)
	require.Equal(t, LowmemBankAware, r.LowmemVariant())

	low, err := r.PFNToPage(0x85000)
	require.NoError(t, err)
	f.SetPageFlags(low, 8<<28)

	high, err := r.PFNToPage(0x95000)
	require.NoError(t, err)
	f.SetPageFlags(high, 9<<28)

	virt, err := r.VirtualAddress(low)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xc5000000), virt)

	virt, err = r.VirtualAddress(high)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x105000000), virt)
}

func TestResolver_HighmemVirtualAddress(t *testing.T) {
	t.Parallel()

	f := newHighmemFake()
	r := newTestResolver(t, f, target32)

	highPage := pageInZone(f, 0x30, testHighMemZone)
	lowPage := pageInZone(f, 0x31, testNormalZone)

	f.AddKmap(testHTable, uint64(Hash32(highPage, DefaultHashBits)), testKmapEntries, highPage, 0xffe05000)

	assert.True(t, r.IsHighMemory(highPage))
	assert.False(t, r.IsHighMemory(lowPage))

	virt, err := r.VirtualAddress(highPage)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xffe05000), virt)

	virt, err = r.VirtualAddress(lowPage)
	require.NoError(t, err)
	assert.Equal(t, uint64(testPageOffset+0x31<<12), virt)

	name, err := r.ZoneName(highPage)
	require.NoError(t, err)
	assert.Equal(t, "HighMem", name)
}

func TestResolver_HighmemUnmapped(t *testing.T) {
	t.Parallel()

	f := newHighmemFake()
	r := newTestResolver(t, f, target32)

	page := pageInZone(f, 0x40, testHighMemZone)

	_, err := r.VirtualAddress(page)
	require.ErrorIs(t, err, ErrNoMatchFound)
	assert.True(t, IsUnresolved(err))
}

func TestResolver_UnreadableFlagsUnresolved(t *testing.T) {
	t.Parallel()

	r := newTestResolver(t, newHighmemFake(), target32)
	page := uint64(testMemMap + 0x50*16)

	_, err := r.VirtualAddress(page)
	require.ErrorIs(t, err, ErrUnreadableMemory)
	assert.False(t, r.IsHighMemory(page))
}

func TestResolver_HighMemNotConfiguredIgnoresZone(t *testing.T) {
	t.Parallel()

	f := newHighmemFake().SetConfig(ConfigHighMem, false)
	r := newTestResolver(t, f, target32)

	page := pageInZone(f, 0x30, testHighMemZone)
	assert.False(t, r.IsHighMemory(page))

	// no flags needed for lowmem pages when highmem is off
	virt, err := r.VirtualAddress(testMemMap + 0x32*16)
	require.NoError(t, err)
	assert.Equal(t, uint64(testPageOffset+0x32<<12), virt)
}

func TestResolver_DirectMap(t *testing.T) {
	t.Parallel()

	target := Target{Is64Bit: true, PhysOffset: 0x80000000, PageOffset: 0xffffffc000000000}
	r := newTestResolver(t, oracletest.NewKernel(8), target)

	page, err := r.PFNToPage(0x80042)
	require.NoError(t, err)
	assert.Equal(t, uint64(DefaultDirectMapBase+0x80042*32), page)

	virt, err := r.VirtualAddress(page)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xffffffc000042000), virt)
}

func TestResolver_BuddyAndDebugFlags(t *testing.T) {
	t.Parallel()

	f := newFlatFake()
	r := newTestResolver(t, f, target32)

	free := uint64(testMemMap + 0x10*16)
	used := uint64(testMemMap + 0x11*16)
	f.SetMapcount(free, 0xffffff80).SetDebugFlags(free, 0x5)
	f.SetMapcount(used, 0xffffffff)

	buddy, err := r.IsBuddy(free)
	require.NoError(t, err)
	assert.True(t, buddy)

	buddy, err = r.IsBuddy(used)
	require.NoError(t, err)
	assert.False(t, buddy)

	_, err = r.IsBuddy(testMemMap + 0x12*16)
	require.ErrorIs(t, err, ErrUnreadableMemory)

	flags, err := r.DebugFlags(free)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x5), flags)

	_, err = r.DebugFlags(used)
	require.ErrorIs(t, err, ErrUnreadableMemory)
}

func TestResolver_Concurrent(t *testing.T) {
	t.Parallel()

	f := newSparseFake()
	r := newTestResolver(t, f, target32)

	var wg sync.WaitGroup
	for w := uint64(0); w < 8; w++ {
		wg.Add(1)

		go func(w uint64) {
			defer wg.Done()

			for pfn := 0x80000 + w; pfn < 0x80400; pfn += 8 {
				page, err := r.PFNToPage(pfn)
				assert.NoError(t, err)
				assert.Equal(t, testSection8Map+(pfn-0x80000)*16, page)
			}
		}(w)
	}

	wg.Wait()
}

func TestResolver_MissingAddressSymbolsUnresolved(t *testing.T) {
	t.Parallel()

	t.Run("kmap table", func(t *testing.T) {
		t.Parallel()

		f := newFlatFake().
			SetConfig(ConfigHighMem, true).
			SetSymbol("contig_page_data", testContigPageData).
			AddZone(testContigPageData, testNormalZone, testZoneNames, "Normal").
			AddZone(testContigPageData, testHighMemZone, testZoneNames+0x10, "HighMem")
		r := newTestResolver(t, f, target32)

		highPage := pageInZone(f, 0x40, testHighMemZone)
		lowPage := pageInZone(f, 0x10, testNormalZone)

		_, err := r.VirtualAddress(highPage)
		require.ErrorIs(t, err, ErrMissingSymbol)
		require.ErrorIs(t, err, ErrAddressMetadata)
		assert.True(t, IsUnresolved(err))

		virt, err := r.VirtualAddress(lowPage)
		require.NoError(t, err)
		assert.Equal(t, uint64(testPageOffset+0x10<<12), virt)
	})

	t.Run("zone table", func(t *testing.T) {
		t.Parallel()

		f := newFlatFake().SetConfig(ConfigHighMem, true)
		r := newTestResolver(t, f, target32)

		_, err := r.VirtualAddress(pageInZone(f, 0x10, testNormalZone))
		require.ErrorIs(t, err, ErrMissingSymbol)
		assert.True(t, IsUnresolved(err))
	})

	t.Run("bank symbols", func(t *testing.T) {
		t.Parallel()

		f := newSparseFake()
		r := newTestResolver(t, f, target32)
		require.Equal(t, LowmemBankAware, r.LowmemVariant())

		page, err := r.PFNToPage(0x85000)
		require.NoError(t, err)
		f.SetPageFlags(page, 8<<28)

		_, err = r.VirtualAddress(page)
		require.ErrorIs(t, err, ErrMissingSymbol)
		assert.True(t, IsUnresolved(err))
	})
}

func TestResolver_MissingMemMapStillAborts(t *testing.T) {
	t.Parallel()

	r := newTestResolver(t, oracletest.NewKernel(4), target32)

	_, err := r.VirtualAddress(testMemMap)
	require.ErrorIs(t, err, ErrMissingSymbol)
	assert.False(t, IsUnresolved(err))
}
