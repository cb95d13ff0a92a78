package mm

import (
	"fmt"
	"sync"

	"github.com/e2b-dev/infra/packages/ramdump/internal/cache"
)

// The low bits of section_mem_map carry SECTION_MARKED_PRESENT and
// SECTION_HAS_MEM_MAP.
const sectionMapFlagsMask = (1 << 2) - 1

type sparseMeta struct {
	pageSize        uint64
	flagsOffset     uint64
	sectionSize     uint64
	mapOffset       uint64
	sectionsPerRoot uint64
	root            uint64
}

// sparseTranslator resolves pages through the mem_section table. Each section
// holds an encoded pointer to the descriptor array of its pfn range.
type sparseTranslator struct {
	oracle layoutReader
	layout Layout
	meta   func() (sparseMeta, error)
	bases  *cache.Cache[uint64, uint64]
}

func newSparseTranslator(o layoutReader, layout Layout, opts ...sparseOption) *sparseTranslator {
	t := &sparseTranslator{
		oracle: o,
		layout: layout,
	}

	for _, opt := range opts {
		opt(t)
	}

	if t.bases == nil {
		t.bases = cache.NewCache[uint64, uint64](cache.Config{})
	}

	t.meta = sync.OnceValues(t.loadMeta)

	return t
}

type sparseOption func(*sparseTranslator)

func withSectionCache(c *cache.Cache[uint64, uint64]) sparseOption {
	return func(t *sparseTranslator) {
		t.bases = c
	}
}

func (t *sparseTranslator) Model() Model {
	return ModelSparse
}

func (t *sparseTranslator) Close() {
	t.bases.Close()
}

func (t *sparseTranslator) loadMeta() (sparseMeta, error) {
	var (
		m   sparseMeta
		err error
	)

	if m.pageSize, err = t.oracle.sizeOf(structPage); err != nil {
		return m, err
	}

	if m.flagsOffset, err = t.oracle.fieldOffset(structPage, "flags"); err != nil {
		return m, err
	}

	if m.sectionSize, err = t.oracle.sizeOf(structMemSection); err != nil {
		return m, err
	}

	if m.mapOffset, err = t.oracle.fieldOffset(structMemSection, "section_mem_map"); err != nil {
		return m, err
	}

	m.sectionsPerRoot = t.layout.SectionRootSize / m.sectionSize
	if m.sectionsPerRoot == 0 {
		return m, fmt.Errorf("mem_section size %d exceeds root size %d: %w", m.sectionSize, t.layout.SectionRootSize, ErrUnsupportedConfiguration)
	}

	if m.root, err = t.oracle.symbolWord(symMemSection); err != nil {
		return m, fmt.Errorf("mem_section root: %w", err)
	}

	if m.root == 0 {
		return m, fmt.Errorf("mem_section root: %w", UnreadableMemoryError{Addr: 0, Err: errNullPointer})
	}

	return m, nil
}

// sectionAddr returns the address of the mem_section descriptor for nr.
func (t *sparseTranslator) sectionAddr(m sparseMeta, nr uint64) uint64 {
	rootIdx := nr / m.sectionsPerRoot
	offInRoot := nr % m.sectionsPerRoot

	return m.root + m.sectionSize*(rootIdx*m.sectionsPerRoot+offInRoot)
}

// sectionMapBase returns the decoded section_mem_map of section nr.
func (t *sparseTranslator) sectionMapBase(m sparseMeta, nr uint64) (uint64, error) {
	return t.bases.GetOrSet(nr, func(nr uint64) (uint64, error) {
		section := t.sectionAddr(m, nr)

		raw, err := t.oracle.word(section + m.mapOffset)
		if err != nil {
			return 0, fmt.Errorf("section %d map: %w", nr, err)
		}

		base := raw &^ sectionMapFlagsMask
		if base == 0 {
			return 0, fmt.Errorf("section %d at %#x has no mem_map: %w", nr, section, UnreadableMemoryError{Addr: section + m.mapOffset, Err: errNullPointer})
		}

		return base, nil
	})
}

func (t *sparseTranslator) PFNToPage(pfn uint64) (uint64, error) {
	m, err := t.meta()
	if err != nil {
		return 0, err
	}

	base, err := t.sectionMapBase(m, t.layout.pfnToSectionNr(pfn))
	if err != nil {
		return 0, err
	}

	return base + pfn*m.pageSize, nil
}

func (t *sparseTranslator) PageToPFN(page uint64) (uint64, error) {
	m, err := t.meta()
	if err != nil {
		return 0, err
	}

	flags, err := t.oracle.word(page + m.flagsOffset)
	if err != nil {
		return 0, fmt.Errorf("page %#x flags: %w", page, err)
	}

	base, err := t.sectionMapBase(m, t.layout.Flags.SectionIndex(flags))
	if err != nil {
		return 0, err
	}

	return pageIndex(page, base, m.pageSize)
}
