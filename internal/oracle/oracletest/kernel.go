package oracletest

// Struct layouts registered by NewKernel, in units of the word size where the
// real kernel uses pointers.
const (
	ZoneStructSize  = 0x80
	ZoneNameOffset  = 0x40
	NodeZonesOffset = 0x10
)

// NewKernel returns a Fake with the struct layouts the resolver reads.
func NewKernel(wordSize int) *Fake {
	f := NewFake(wordSize)
	w := uint64(wordSize)

	f.SetSize("struct page", f.PageStructSize()).
		SetOffset("struct page", "flags", 0).
		SetOffset("struct page", "_mapcount", 2*w).
		SetOffset("struct page", "debug_flags", 3*w).
		SetSize("struct zone", ZoneStructSize).
		SetOffset("struct zone", "name", ZoneNameOffset).
		SetOffset("struct pglist_data", "node_zones", NodeZonesOffset).
		SetSize("struct mem_section", f.SectionStructSize()).
		SetOffset("struct mem_section", "section_mem_map", 0).
		SetSize("struct page_address_slot", f.SlotStructSize()).
		SetOffset("struct page_address_slot", "lh", 0).
		SetOffset("struct page_address_map", "page", 0).
		SetOffset("struct page_address_map", "virtual", w).
		SetOffset("struct page_address_map", "list", 2*w).
		SetOffset("struct list_head", "next", 0).
		SetOffset("struct list_head", "prev", w)

	return f
}

func (f *Fake) PageStructSize() uint64 {
	return 4 * uint64(f.wordSize)
}

func (f *Fake) SectionStructSize() uint64 {
	return 2 * uint64(f.wordSize)
}

// SlotStructSize is a list head plus a lock word.
func (f *Fake) SlotStructSize() uint64 {
	return 3 * uint64(f.wordSize)
}

func (f *Fake) SetPageFlags(page, flags uint64) *Fake {
	return f.WriteWord(page, flags)
}

func (f *Fake) SetMapcount(page uint64, v uint32) *Fake {
	return f.WriteInt(page+2*uint64(f.wordSize), v)
}

func (f *Fake) SetDebugFlags(page, v uint64) *Fake {
	return f.WriteWord(page+3*uint64(f.wordSize), v)
}

// AddZone writes zone idx of the node at nodeData with its name stored at
// nameAddr.
func (f *Fake) AddZone(nodeData, idx, nameAddr uint64, name string) *Fake {
	zone := nodeData + NodeZonesOffset + idx*ZoneStructSize

	return f.WriteWord(zone+ZoneNameOffset, nameAddr).WriteCString(nameAddr, name)
}

// SetSection writes the section_mem_map of section nr, with the marker bits
// in flags, into a flat mem_section table at root.
func (f *Fake) SetSection(root, nr, mapBase, flags uint64) *Fake {
	return f.WriteWord(root+nr*f.SectionStructSize(), mapBase|flags)
}

// InitHTable writes buckets empty page_address_slots at table.
func (f *Fake) InitHTable(table uint64, buckets int) *Fake {
	w := uint64(f.wordSize)

	for i := uint64(0); i < uint64(buckets); i++ {
		head := table + i*f.SlotStructSize()
		f.WriteWord(head, head).WriteWord(head+w, head)
	}

	return f
}

// AddKmap links a page_address_map at entry for page -> virt at the front of
// the bucket's list.
func (f *Fake) AddKmap(table, bucket, entry, page, virt uint64) *Fake {
	w := uint64(f.wordSize)
	head := table + bucket*f.SlotStructSize()
	node := entry + 2*w

	first, err := f.ReadWord(head)
	if err != nil {
		panic(err)
	}

	f.WriteWord(entry, page).WriteWord(entry+w, virt)
	f.WriteWord(node, first).WriteWord(node+w, head)
	f.WriteWord(first+w, node)
	f.WriteWord(head, node)

	return f
}
