package mm

import "fmt"

const (
	DefaultPageShift         = 12
	DefaultSectionSizeBits   = 28
	DefaultSectionRootSize   = 4096
	DefaultDirectMapBase     = 0xffffffbc00000000
	DefaultHashBits          = 7
	DefaultMaxListSteps      = 4096
	DefaultZoneNameMaxLength = 48
)

// Target holds the session properties of the captured kernel.
type Target struct {
	Is64Bit bool
	// PhysOffset is the physical address where RAM starts.
	PhysOffset uint64
	// PageOffset is the kernel virtual address RAM is linearly mapped at.
	PageOffset uint64
}

// Layout holds the constants that differ between kernel builds. None of these
// can be discovered from struct metadata alone, so they are inputs of the
// session instead of literals in the translators.
type Layout struct {
	Flags FlagsLayout

	PageShift uint
	// SectionSizeBits is log2 of the sparse section size in bytes.
	SectionSizeBits uint
	// SectionRootSize is the byte granularity of one mem_section root.
	SectionRootSize uint64
	// DirectMapBase is the fixed virtual address of the vmemmap page array.
	// Any change to the kernel's vmemmap placement invalidates it.
	DirectMapBase uint64
	// HashBits is the output width of the page_address_htable hash.
	HashBits uint
	// MaxListSteps bounds the hashed-list walk of a damaged image.
	MaxListSteps int
	// ZoneNameMaxLength bounds the zone name read.
	ZoneNameMaxLength int
}

func DefaultLayout() Layout {
	return Layout{
		Flags:             DefaultFlagsLayout(),
		PageShift:         DefaultPageShift,
		SectionSizeBits:   DefaultSectionSizeBits,
		SectionRootSize:   DefaultSectionRootSize,
		DirectMapBase:     DefaultDirectMapBase,
		HashBits:          DefaultHashBits,
		MaxListSteps:      DefaultMaxListSteps,
		ZoneNameMaxLength: DefaultZoneNameMaxLength,
	}
}

func (l Layout) Validate() error {
	if err := l.Flags.Validate(); err != nil {
		return err
	}

	if l.PageShift == 0 || l.PageShift >= 64 {
		return fmt.Errorf("page shift %d out of range: %w", l.PageShift, ErrUnsupportedConfiguration)
	}

	if l.SectionSizeBits < l.PageShift || l.SectionSizeBits >= 64 {
		return fmt.Errorf("section size bits %d must be between page shift %d and 63: %w", l.SectionSizeBits, l.PageShift, ErrUnsupportedConfiguration)
	}

	if l.SectionRootSize == 0 {
		return fmt.Errorf("section root size is zero: %w", ErrUnsupportedConfiguration)
	}

	if l.HashBits == 0 || l.HashBits > 32 {
		return fmt.Errorf("hash bits %d out of range (1-32): %w", l.HashBits, ErrUnsupportedConfiguration)
	}

	if l.MaxListSteps <= 0 {
		return fmt.Errorf("max list steps must be positive, got %d: %w", l.MaxListSteps, ErrUnsupportedConfiguration)
	}

	if l.ZoneNameMaxLength <= 0 {
		return fmt.Errorf("zone name max length must be positive, got %d: %w", l.ZoneNameMaxLength, ErrUnsupportedConfiguration)
	}

	return nil
}

// pfnToPhys returns the physical address of the first byte of pfn.
func (l Layout) pfnToPhys(pfn uint64) uint64 {
	return pfn << l.PageShift
}

// pfnToSectionNr returns the sparse section number holding pfn.
func (l Layout) pfnToSectionNr(pfn uint64) uint64 {
	return pfn >> (l.SectionSizeBits - l.PageShift)
}
