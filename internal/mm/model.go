package mm

import "fmt"

// Model is the memory model the page descriptor array is laid out with.
type Model int

const (
	ModelFlat Model = iota
	ModelSparse
	ModelDirectMap
)

func (m Model) String() string {
	switch m {
	case ModelFlat:
		return "flat"
	case ModelSparse:
		return "sparse"
	case ModelDirectMap:
		return "directmap"
	default:
		return fmt.Sprintf("Model(%d)", int(m))
	}
}

// SelectModel picks the memory model of a build. 64-bit builds always use the
// vmemmap array, even when CONFIG_SPARSEMEM is set as well.
func SelectModel(is64Bit, sparse bool) Model {
	switch {
	case is64Bit:
		return ModelDirectMap
	case sparse:
		return ModelSparse
	default:
		return ModelFlat
	}
}

// LowmemVariant is the transform from a lowmem physical address to its kernel
// virtual address.
type LowmemVariant int

const (
	LowmemPlain LowmemVariant = iota
	LowmemBankAware
	LowmemHoleSkipping
)

func (v LowmemVariant) String() string {
	switch v {
	case LowmemPlain:
		return "plain"
	case LowmemBankAware:
		return "bank-aware"
	case LowmemHoleSkipping:
		return "hole-skipping"
	default:
		return fmt.Sprintf("LowmemVariant(%d)", int(v))
	}
}

// SelectLowmemVariant picks the lowmem transform of a build. A 32-bit sparse
// build splits RAM in two banks; otherwise a build that leaves the gap after
// bank 0 unmapped skips it; everything else is a single linear mapping.
func SelectLowmemVariant(is64Bit, sparse, dontMapHole bool) LowmemVariant {
	switch {
	case sparse && !is64Bit:
		return LowmemBankAware
	case dontMapHole:
		return LowmemHoleSkipping
	default:
		return LowmemPlain
	}
}
