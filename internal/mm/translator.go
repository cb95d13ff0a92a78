package mm

import (
	"fmt"
	"sync"
)

// Translator converts between page frame numbers and page descriptor
// addresses for one memory model.
type Translator interface {
	PFNToPage(pfn uint64) (uint64, error)
	PageToPFN(page uint64) (uint64, error)
	Model() Model
}

var (
	_ Translator = (*flatTranslator)(nil)
	_ Translator = (*sparseTranslator)(nil)
	_ Translator = (*directMapTranslator)(nil)
)

// NewTranslator returns the translator for model. Nothing is read from the
// image until the first translation.
func NewTranslator(model Model, oracle Oracle, target Target, layout Layout) (Translator, error) {
	o := layoutReader{Oracle: oracle}

	switch model {
	case ModelFlat:
		return newFlatTranslator(o, target, layout), nil
	case ModelSparse:
		return newSparseTranslator(o, layout), nil
	case ModelDirectMap:
		return newDirectMapTranslator(o, layout), nil
	default:
		return nil, fmt.Errorf("memory model %s: %w", model, ErrUnsupportedConfiguration)
	}
}

// pageIndex returns the index of page in the descriptor array starting at
// base.
func pageIndex(page, base, pageSize uint64) (uint64, error) {
	if page < base {
		return 0, fmt.Errorf("page %#x below array base %#x: %w", page, base, ErrInvalidPage)
	}

	delta := page - base
	if delta%pageSize != 0 {
		return 0, fmt.Errorf("page %#x not aligned to descriptor size %d from base %#x: %w", page, pageSize, base, ErrInvalidPage)
	}

	return delta / pageSize, nil
}

type flatBase struct {
	memMap   uint64
	pageSize uint64
}

// flatTranslator indexes the single mem_map array, which starts at the first
// pfn of RAM.
type flatTranslator struct {
	pfnOffset uint64
	base      func() (flatBase, error)
}

func newFlatTranslator(o layoutReader, target Target, layout Layout) *flatTranslator {
	return &flatTranslator{
		pfnOffset: target.PhysOffset >> layout.PageShift,
		base: sync.OnceValues(func() (flatBase, error) {
			pageSize, err := o.sizeOf(structPage)
			if err != nil {
				return flatBase{}, err
			}

			memMap, err := o.symbolWord(symMemMap)
			if err != nil {
				return flatBase{}, fmt.Errorf("mem_map base: %w", err)
			}

			return flatBase{memMap: memMap, pageSize: pageSize}, nil
		}),
	}
}

func (t *flatTranslator) Model() Model {
	return ModelFlat
}

func (t *flatTranslator) PFNToPage(pfn uint64) (uint64, error) {
	b, err := t.base()
	if err != nil {
		return 0, err
	}

	if pfn < t.pfnOffset {
		return 0, fmt.Errorf("pfn %#x below first pfn %#x: %w", pfn, t.pfnOffset, ErrInvalidPage)
	}

	return b.memMap + (pfn-t.pfnOffset)*b.pageSize, nil
}

func (t *flatTranslator) PageToPFN(page uint64) (uint64, error) {
	b, err := t.base()
	if err != nil {
		return 0, err
	}

	idx, err := pageIndex(page, b.memMap, b.pageSize)
	if err != nil {
		return 0, err
	}

	return idx + t.pfnOffset, nil
}

// directMapTranslator indexes the vmemmap array at a fixed virtual base.
type directMapTranslator struct {
	base     uint64
	pageSize func() (uint64, error)
}

func newDirectMapTranslator(o layoutReader, layout Layout) *directMapTranslator {
	return &directMapTranslator{
		base: layout.DirectMapBase,
		pageSize: sync.OnceValues(func() (uint64, error) {
			return o.sizeOf(structPage)
		}),
	}
}

func (t *directMapTranslator) Model() Model {
	return ModelDirectMap
}

func (t *directMapTranslator) PFNToPage(pfn uint64) (uint64, error) {
	pageSize, err := t.pageSize()
	if err != nil {
		return 0, err
	}

	return t.base + pfn*pageSize, nil
}

func (t *directMapTranslator) PageToPFN(page uint64) (uint64, error) {
	pageSize, err := t.pageSize()
	if err != nil {
		return 0, err
	}

	return pageIndex(page, t.base, pageSize)
}
