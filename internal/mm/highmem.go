package mm

import (
	"fmt"
	"sync"
)

// goldenRatioPrime32 is the multiplier of the kernel's hash_32.
const goldenRatioPrime32 = 0x9e370001

// Hash32 is the kernel's multiplicative hash_32: the 32-bit product of val
// and the golden ratio prime, keeping the top bits bits.
func Hash32(val uint64, bits uint) uint32 {
	product := uint32(val * goldenRatioPrime32)

	return product >> (32 - bits)
}

type htableMeta struct {
	table      uint64
	slotSize   uint64
	slotHead   uint64
	nextOffset uint64
	listOffset uint64
	pageOffset uint64
	virtOffset uint64
}

// highmemResolver finds the kmap of a highmem page in page_address_htable.
// Each bucket is a page_address_slot whose list head is the sentinel of a
// circular list of page_address_map entries.
type highmemResolver struct {
	oracle   layoutReader
	bits     uint
	maxSteps int
	meta     func() (htableMeta, error)
}

func newHighmemResolver(o layoutReader, layout Layout) *highmemResolver {
	h := &highmemResolver{
		oracle:   o,
		bits:     layout.HashBits,
		maxSteps: layout.MaxListSteps,
	}

	h.meta = sync.OnceValues(h.loadMeta)

	return h
}

func (h *highmemResolver) loadMeta() (htableMeta, error) {
	var (
		m   htableMeta
		err error
	)

	if m.table, err = h.oracle.symbol(symPageAddressHtable); err != nil {
		return m, err
	}

	if m.slotSize, err = h.oracle.sizeOf(structPageAddressSlot); err != nil {
		return m, err
	}

	if m.slotHead, err = h.oracle.fieldOffset(structPageAddressSlot, "lh"); err != nil {
		return m, err
	}

	if m.nextOffset, err = h.oracle.fieldOffset(structListHead, "next"); err != nil {
		return m, err
	}

	if m.listOffset, err = h.oracle.fieldOffset(structPageAddressMap, "list"); err != nil {
		return m, err
	}

	if m.pageOffset, err = h.oracle.fieldOffset(structPageAddressMap, "page"); err != nil {
		return m, err
	}

	if m.virtOffset, err = h.oracle.fieldOffset(structPageAddressMap, "virtual"); err != nil {
		return m, err
	}

	return m, nil
}

// slot returns the address of the bucket page hashes to.
func (h *highmemResolver) slot(m htableMeta, page uint64) uint64 {
	return m.table + m.slotSize*uint64(Hash32(page, h.bits))
}

// virtual walks the bucket of page. Coming back to the sentinel without a
// match means the page is not kmapped and returns ErrNoMatchFound.
func (h *highmemResolver) virtual(page uint64) (uint64, error) {
	m, err := h.meta()
	if err != nil {
		return 0, err
	}

	head := h.slot(m, page) + m.slotHead

	node, err := h.oracle.word(head + m.nextOffset)
	if err != nil {
		return 0, fmt.Errorf("page_address_htable bucket %#x: %w", head, err)
	}

	for steps := 0; node != head; steps++ {
		if steps >= h.maxSteps {
			return 0, fmt.Errorf("bucket %#x not closed after %d entries: %w", head, h.maxSteps, ErrTraversalLimit)
		}

		if node == 0 {
			return 0, fmt.Errorf("bucket %#x: %w", head, UnreadableMemoryError{Addr: 0, Err: errNullPointer})
		}

		entry := node - m.listOffset

		entryPage, err := h.oracle.word(entry + m.pageOffset)
		if err != nil {
			return 0, fmt.Errorf("page_address_map %#x: %w", entry, err)
		}

		if entryPage == page {
			virt, err := h.oracle.word(entry + m.virtOffset)
			if err != nil {
				return 0, fmt.Errorf("page_address_map %#x virtual: %w", entry, err)
			}

			return virt, nil
		}

		if node, err = h.oracle.word(node + m.nextOffset); err != nil {
			return 0, fmt.Errorf("page_address_map %#x next: %w", entry, err)
		}
	}

	return 0, fmt.Errorf("page %#x in bucket %#x: %w", page, head, ErrNoMatchFound)
}
