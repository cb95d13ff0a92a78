package image

import (
	"fmt"
	"sort"
)

type AddressNotMappedError struct {
	addr uint64
}

func (e AddressNotMappedError) Error() string {
	return fmt.Sprintf("address %#x not found in any region", e.addr)
}

// Mapping translates kernel virtual addresses to file offsets. Regions are
// kept sorted and never overlap.
type Mapping struct {
	Regions []Region
}

func NewMapping(regions []Region) (*Mapping, error) {
	sorted := make([]Region, len(regions))
	copy(sorted, regions)

	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].BaseVirtAddr < sorted[j].BaseVirtAddr
	})

	for i, r := range sorted {
		if r.Offset < 0 {
			return nil, fmt.Errorf("region at %#x has negative file offset %d", r.BaseVirtAddr, r.Offset)
		}

		if r.endVirtAddr() < r.BaseVirtAddr {
			return nil, fmt.Errorf("region at %#x overflows the address space", r.BaseVirtAddr)
		}

		if i > 0 && sorted[i-1].endVirtAddr() > r.BaseVirtAddr {
			return nil, fmt.Errorf("region at %#x overlaps region at %#x", r.BaseVirtAddr, sorted[i-1].BaseVirtAddr)
		}
	}

	return &Mapping{Regions: sorted}, nil
}

// GetOffset returns the file offset of addr and the number of bytes left in
// its region.
func (m *Mapping) GetOffset(addr uint64) (int64, uint64, error) {
	i := sort.Search(len(m.Regions), func(i int) bool {
		return m.Regions[i].endVirtAddr() > addr
	})

	if i < len(m.Regions) && m.Regions[i].contains(addr) {
		r := &m.Regions[i]

		return r.shiftedOffset(addr), r.endVirtAddr() - addr, nil
	}

	return 0, 0, AddressNotMappedError{addr: addr}
}

// Size returns the file size the regions require.
func (m *Mapping) Size() int64 {
	var end int64
	for i := range m.Regions {
		end = max(end, m.Regions[i].endOffset())
	}

	return end
}
