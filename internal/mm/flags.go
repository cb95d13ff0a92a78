package mm

import "fmt"

// FlagsLayout describes where the zone and section numbers sit in the
// page->flags word. The positions depend on the build's config (NODES_SHIFT,
// SECTIONS_WIDTH, ...), so they must be confirmed for each image.
type FlagsLayout struct {
	ZoneShift    uint
	ZoneBits     uint
	SectionShift uint
	SectionBits  uint
}

func DefaultFlagsLayout() FlagsLayout {
	return FlagsLayout{
		ZoneShift:    26,
		ZoneBits:     2,
		SectionShift: 28,
		SectionBits:  4,
	}
}

func (f FlagsLayout) Validate() error {
	if f.ZoneBits == 0 || f.ZoneShift+f.ZoneBits > 64 {
		return fmt.Errorf("zone field [%d,%d) does not fit the flags word: %w", f.ZoneShift, f.ZoneShift+f.ZoneBits, ErrUnsupportedConfiguration)
	}

	if f.SectionBits == 0 || f.SectionShift+f.SectionBits > 64 {
		return fmt.Errorf("section field [%d,%d) does not fit the flags word: %w", f.SectionShift, f.SectionShift+f.SectionBits, ErrUnsupportedConfiguration)
	}

	return nil
}

// ZoneIndex extracts the zone number from a page flags word.
func (f FlagsLayout) ZoneIndex(flags uint64) uint64 {
	return (flags >> f.ZoneShift) & mask(f.ZoneBits)
}

// SectionIndex extracts the sparse section number from a page flags word.
func (f FlagsLayout) SectionIndex(flags uint64) uint64 {
	return (flags >> f.SectionShift) & mask(f.SectionBits)
}

func mask(bits uint) uint64 {
	if bits >= 64 {
		return ^uint64(0)
	}

	return (uint64(1) << bits) - 1
}
