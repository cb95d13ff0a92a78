package mm

// Oracle supplies struct layouts, symbols and raw reads for the captured
// image. Implementations must be safe for concurrent read-only use when the
// resolver is shared between goroutines.
type Oracle interface {
	// FieldOffset returns the byte offset of field within structName,
	// e.g. FieldOffset("struct page", "flags").
	FieldOffset(structName, field string) (uint64, error)
	// SizeOf returns the size in bytes of the named type.
	SizeOf(typeName string) (uint64, error)
	// SymbolAddress returns the address of a kernel symbol.
	SymbolAddress(name string) (uint64, error)
	// ReadWord reads one pointer-sized word.
	ReadWord(addr uint64) (uint64, error)
	// ReadInt reads one 32-bit integer.
	ReadInt(addr uint64) (uint32, error)
	// ReadCString reads a NUL terminated string of at most maxLen bytes.
	ReadCString(addr uint64, maxLen int) (string, error)
	// ConfigDefined reports whether a kernel config option was set for the
	// build that produced the image.
	ConfigDefined(name string) bool
}

const (
	ConfigSparseMem        = "CONFIG_SPARSEMEM"
	ConfigHighMem          = "CONFIG_HIGHMEM"
	ConfigDontMapHoleAfter = "CONFIG_DONT_MAP_HOLE_AFTER_MEMBANK0"
)

const (
	structPage            = "struct page"
	structZone            = "struct zone"
	structPglistData      = "struct pglist_data"
	structMemSection      = "struct mem_section"
	structPageAddressSlot = "struct page_address_slot"
	structPageAddressMap  = "struct page_address_map"
	structListHead        = "struct list_head"
)

const (
	symMemMap            = "mem_map"
	symMemSection        = "mem_section"
	symContigPageData    = "contig_page_data"
	symPageAddressHtable = "page_address_htable"
	symMembank1Start     = "membank1_start"
	symMembank0Size      = "membank0_size"
	symMemoryHoleEnd     = "memory_hole_end"
	symMemoryHoleOffset  = "memory_hole_offset"
)

// layoutReader narrows the oracle calls used across the resolver so every
// strategy reports missing layouts the same way.
type layoutReader struct {
	Oracle
}

func (l layoutReader) fieldOffset(structName, field string) (uint64, error) {
	off, err := l.FieldOffset(structName, field)
	if err != nil {
		return 0, wrapLayout(err, "%s.%s", structName, field)
	}

	return off, nil
}

func (l layoutReader) sizeOf(typeName string) (uint64, error) {
	size, err := l.SizeOf(typeName)
	if err != nil {
		return 0, wrapLayout(err, "sizeof(%s)", typeName)
	}

	if size == 0 {
		return 0, wrapLayout(ErrMissingStructLayout, "sizeof(%s) is zero", typeName)
	}

	return size, nil
}

func (l layoutReader) symbol(name string) (uint64, error) {
	addr, err := l.SymbolAddress(name)
	if err != nil {
		return 0, wrapSymbol(err, name)
	}

	return addr, nil
}

func (l layoutReader) word(addr uint64) (uint64, error) {
	v, err := l.ReadWord(addr)
	if err != nil {
		return 0, unreadable(addr, err)
	}

	return v, nil
}

// symbolWord reads the word stored at a symbol's address.
func (l layoutReader) symbolWord(name string) (uint64, error) {
	addr, err := l.symbol(name)
	if err != nil {
		return 0, err
	}

	return l.word(addr)
}
