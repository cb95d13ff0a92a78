package mm

import (
	"fmt"
	"sync"
)

const highMemZoneName = "HighMem"

// Zone is a struct zone inside contig_page_data. Only single node layouts are
// modeled.
type Zone struct {
	Addr  uint64
	Index uint64
}

type zoneMeta struct {
	pageFlagsOffset uint64
	nodeData        uint64
	nodeZonesOffset uint64
	zoneSize        uint64
}

type zoneResolver struct {
	oracle  layoutReader
	flags   FlagsLayout
	highmem bool
	nameMax int

	meta       func() (zoneMeta, error)
	nameOffset func() (uint64, error)
}

func newZoneResolver(o layoutReader, layout Layout) *zoneResolver {
	z := &zoneResolver{
		oracle:  o,
		flags:   layout.Flags,
		highmem: o.ConfigDefined(ConfigHighMem),
		nameMax: layout.ZoneNameMaxLength,
	}

	z.meta = sync.OnceValues(z.loadMeta)
	z.nameOffset = sync.OnceValues(func() (uint64, error) {
		return o.fieldOffset(structZone, "name")
	})

	return z
}

func (z *zoneResolver) loadMeta() (zoneMeta, error) {
	var (
		m   zoneMeta
		err error
	)

	if m.pageFlagsOffset, err = z.oracle.fieldOffset(structPage, "flags"); err != nil {
		return m, err
	}

	if m.nodeData, err = z.oracle.symbol(symContigPageData); err != nil {
		return m, err
	}

	if m.nodeZonesOffset, err = z.oracle.fieldOffset(structPglistData, "node_zones"); err != nil {
		return m, err
	}

	if m.zoneSize, err = z.oracle.sizeOf(structZone); err != nil {
		return m, err
	}

	return m, nil
}

// pageFlags reads page->flags.
func (z *zoneResolver) pageFlags(page uint64) (uint64, error) {
	m, err := z.meta()
	if err != nil {
		return 0, err
	}

	flags, err := z.oracle.word(page + m.pageFlagsOffset)
	if err != nil {
		return 0, fmt.Errorf("page %#x flags: %w", page, err)
	}

	return flags, nil
}

func (z *zoneResolver) zone(page uint64) (Zone, error) {
	m, err := z.meta()
	if err != nil {
		return Zone{}, err
	}

	flags, err := z.pageFlags(page)
	if err != nil {
		return Zone{}, err
	}

	idx := z.flags.ZoneIndex(flags)

	return Zone{
		Addr:  m.nodeData + m.nodeZonesOffset + idx*m.zoneSize,
		Index: idx,
	}, nil
}

func (z *zoneResolver) name(zone Zone) (string, error) {
	if zone.Addr == 0 {
		return "", fmt.Errorf("zone: %w", UnreadableMemoryError{Addr: 0, Err: errNullPointer})
	}

	off, err := z.nameOffset()
	if err != nil {
		return "", err
	}

	nameAddr, err := z.oracle.word(zone.Addr + off)
	if err != nil {
		return "", fmt.Errorf("zone %#x name pointer: %w", zone.Addr, err)
	}

	name, err := z.oracle.ReadCString(nameAddr, z.nameMax)
	if err != nil {
		return "", fmt.Errorf("zone %#x name: %w", zone.Addr, unreadable(nameAddr, err))
	}

	return name, nil
}

// isHighMem classifies a zone by its name. Kernels do not store a highmem
// flag in struct zone, so this follows the zone naming of the build and
// breaks if a kernel renames or renumbers its zones.
func (z *zoneResolver) isHighMem(zone Zone) bool {
	if !z.highmem {
		return false
	}

	name, err := z.name(zone)
	if err != nil {
		return false
	}

	return name == highMemZoneName
}
