package mm

import (
	"errors"
	"fmt"
	"sync"
)

// Banks describes a RAM split into two banks, each linearly mapped after the
// other starting at PageOffset.
type Banks struct {
	Bank1Start uint64
	Bank0Size  uint64
}

// Virtual returns the lowmem virtual address of phys.
func (b Banks) Virtual(t Target, phys uint64) uint64 {
	if phys >= b.Bank1Start {
		return phys - b.Bank1Start + t.PageOffset + b.Bank0Size
	}

	return plainVirtual(t, phys)
}

// Hole describes a physical gap after bank 0 that is not mapped. Memory past
// End is mapped at PageOffset+Offset.
type Hole struct {
	End    uint64
	Offset uint64
}

// Virtual returns the lowmem virtual address of phys. A zero End means the
// build has no hole.
func (h Hole) Virtual(t Target, phys uint64) uint64 {
	if h.End != 0 && phys >= h.End {
		return phys - h.End + h.Offset + t.PageOffset
	}

	return plainVirtual(t, phys)
}

func plainVirtual(t Target, phys uint64) uint64 {
	return phys - t.PhysOffset + t.PageOffset
}

type lowmemResolver struct {
	variant LowmemVariant
	target  Target
	banks   func() (Banks, error)
	hole    func() (Hole, error)
}

func newLowmemResolver(o layoutReader, variant LowmemVariant, target Target) *lowmemResolver {
	return &lowmemResolver{
		variant: variant,
		target:  target,
		banks: sync.OnceValues(func() (Banks, error) {
			return loadBanks(o)
		}),
		hole: sync.OnceValues(func() (Hole, error) {
			return loadHole(o)
		}),
	}
}

func (l *lowmemResolver) virtual(phys uint64) (uint64, error) {
	switch l.variant {
	case LowmemPlain:
		return plainVirtual(l.target, phys), nil
	case LowmemBankAware:
		b, err := l.banks()
		if err != nil {
			return 0, err
		}

		return b.Virtual(l.target, phys), nil
	case LowmemHoleSkipping:
		h, err := l.hole()
		if err != nil {
			return 0, err
		}

		return h.Virtual(l.target, phys), nil
	default:
		return 0, fmt.Errorf("lowmem variant %s: %w", l.variant, ErrUnsupportedConfiguration)
	}
}

func loadBanks(o layoutReader) (Banks, error) {
	start, err := o.symbolWord(symMembank1Start)
	if err != nil {
		return Banks{}, fmt.Errorf("bank 1 start: %w", err)
	}

	size, err := o.symbolWord(symMembank0Size)
	if err != nil {
		return Banks{}, fmt.Errorf("bank 0 size: %w", err)
	}

	return Banks{Bank1Start: start, Bank0Size: size}, nil
}

func loadHole(o layoutReader) (Hole, error) {
	end, err := symbolWordFallback(o, symMemoryHoleEnd, symMembank1Start)
	if err != nil {
		return Hole{}, fmt.Errorf("memory hole end: %w", err)
	}

	offset, err := symbolWordFallback(o, symMemoryHoleOffset, symMembank0Size)
	if err != nil {
		return Hole{}, fmt.Errorf("memory hole offset: %w", err)
	}

	return Hole{End: end, Offset: offset}, nil
}

// symbolWordFallback reads the word at primary, or at secondary when the
// image's kernel predates the rename and has no primary symbol.
func symbolWordFallback(o layoutReader, primary, secondary string) (uint64, error) {
	addr, err := o.symbol(primary)
	if errors.Is(err, ErrMissingSymbol) {
		addr, err = o.symbol(secondary)
	}

	if err != nil {
		return 0, err
	}

	return o.word(addr)
}
