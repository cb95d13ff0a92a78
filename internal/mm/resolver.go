package mm

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/e2b-dev/infra/packages/ramdump/internal/cache"
	"github.com/e2b-dev/infra/packages/ramdump/pkg/logger"
)

// buddyMapcount is the _mapcount value (PAGE_BUDDY_MAPCOUNT_VALUE, -128) of a
// page owned by the buddy allocator.
const buddyMapcount = 0xffffff80

// Resolver answers page, pfn and virtual address queries for one captured
// image. It holds no mutable state besides memoized reads of the immutable
// image, so it is safe for concurrent use when its Oracle is.
type Resolver struct {
	oracle layoutReader
	target Target
	layout Layout

	model   Model
	variant LowmemVariant

	translator Translator
	zones      *zoneResolver
	lowmem     *lowmemResolver
	highmem    *highmemResolver

	mapcountOffset   func() (uint64, error)
	debugFlagsOffset func() (uint64, error)

	logger *zap.Logger
}

type Option func(*resolverOptions)

type resolverOptions struct {
	layout          Layout
	sectionCacheTTL time.Duration
	logger          *zap.Logger
}

// WithLayout overrides the build constants, see DefaultLayout.
func WithLayout(layout Layout) Option {
	return func(o *resolverOptions) {
		o.layout = layout
	}
}

// WithSectionCacheTTL bounds how long decoded sparse sections are kept.
func WithSectionCacheTTL(ttl time.Duration) Option {
	return func(o *resolverOptions) {
		o.sectionCacheTTL = ttl
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(o *resolverOptions) {
		o.logger = l
	}
}

func NewResolver(oracle Oracle, target Target, opts ...Option) (*Resolver, error) {
	if oracle == nil {
		return nil, errors.New("resolver requires an oracle")
	}

	o := resolverOptions{
		layout: DefaultLayout(),
		logger: zap.L(),
	}

	for _, opt := range opts {
		opt(&o)
	}

	if err := o.layout.Validate(); err != nil {
		return nil, fmt.Errorf("invalid layout: %w", err)
	}

	lr := layoutReader{Oracle: oracle}
	sparse := oracle.ConfigDefined(ConfigSparseMem)

	r := &Resolver{
		oracle:  lr,
		target:  target,
		layout:  o.layout,
		model:   SelectModel(target.Is64Bit, sparse),
		variant: SelectLowmemVariant(target.Is64Bit, sparse, oracle.ConfigDefined(ConfigDontMapHoleAfter)),
		zones:   newZoneResolver(lr, o.layout),
		highmem: newHighmemResolver(lr, o.layout),
		logger:  o.logger,
	}

	r.lowmem = newLowmemResolver(lr, r.variant, target)

	switch r.model {
	case ModelSparse:
		sections := cache.NewCache[uint64, uint64](cache.Config{TTL: o.sectionCacheTTL})
		r.translator = newSparseTranslator(lr, o.layout, withSectionCache(sections))
	default:
		t, err := NewTranslator(r.model, oracle, target, o.layout)
		if err != nil {
			return nil, err
		}

		r.translator = t
	}

	r.mapcountOffset = sync.OnceValues(func() (uint64, error) {
		return lr.fieldOffset(structPage, "_mapcount")
	})
	r.debugFlagsOffset = sync.OnceValues(func() (uint64, error) {
		return lr.fieldOffset(structPage, "debug_flags")
	})

	r.logger.Debug("page resolver ready",
		zap.Stringer("model", r.model),
		zap.Stringer("lowmem", r.variant),
		zap.Bool("highmem", r.zones.highmem),
		logger.WithAddress("phys_offset", target.PhysOffset),
		logger.WithAddress("page_offset", target.PageOffset),
	)

	return r, nil
}

func (r *Resolver) Model() Model {
	return r.model
}

func (r *Resolver) LowmemVariant() LowmemVariant {
	return r.variant
}

func (r *Resolver) Target() Target {
	return r.target
}

func (r *Resolver) Layout() Layout {
	return r.layout
}

// Close releases the caches of the resolver.
func (r *Resolver) Close() {
	if c, ok := r.translator.(interface{ Close() }); ok {
		c.Close()
	}
}

// PageToPFN returns the pfn described by the page descriptor at page.
func (r *Resolver) PageToPFN(page uint64) (uint64, error) {
	pfn, err := r.translator.PageToPFN(page)
	if err != nil {
		r.unresolved("page to pfn", err, logger.WithPage(page))

		return 0, err
	}

	return pfn, nil
}

// PFNToPage returns the address of the page descriptor of pfn.
func (r *Resolver) PFNToPage(pfn uint64) (uint64, error) {
	page, err := r.translator.PFNToPage(pfn)
	if err != nil {
		r.unresolved("pfn to page", err, logger.WithPFN(pfn))

		return 0, err
	}

	return page, nil
}

// Zone returns the zone the page belongs to.
func (r *Resolver) Zone(page uint64) (Zone, error) {
	return r.zones.zone(page)
}

// ZoneName returns the name of the zone the page belongs to.
func (r *Resolver) ZoneName(page uint64) (string, error) {
	zone, err := r.zones.zone(page)
	if err != nil {
		return "", err
	}

	return r.zones.name(zone)
}

// IsHighMemory reports whether the page is in the HighMem zone. Any failure
// to classify the page reports false.
func (r *Resolver) IsHighMemory(page uint64) bool {
	if !r.zones.highmem {
		return false
	}

	zone, err := r.zones.zone(page)
	if err != nil {
		return false
	}

	return r.zones.isHighMem(zone)
}

// VirtualAddress returns the kernel virtual address the page's frame is
// mapped at. Lowmem frames are computed from their physical address; highmem
// frames are looked up in the kmap hash table and return ErrNoMatchFound when
// not currently mapped.
func (r *Resolver) VirtualAddress(page uint64) (uint64, error) {
	virt, err := r.virtualAddress(page)
	if err != nil {
		r.unresolved("page address", err, logger.WithPage(page))

		return 0, err
	}

	return virt, nil
}

func (r *Resolver) virtualAddress(page uint64) (uint64, error) {
	if r.zones.highmem {
		zone, err := r.zones.zone(page)
		if err != nil {
			return 0, addressMetadata(err)
		}

		if r.zones.isHighMem(zone) {
			virt, err := r.highmem.virtual(page)

			return virt, addressMetadata(err)
		}
	}

	pfn, err := r.translator.PageToPFN(page)
	if err != nil {
		return 0, err
	}

	virt, err := r.lowmem.virtual(r.layout.pfnToPhys(pfn))

	return virt, addressMetadata(err)
}

// IsBuddy reports whether the page is free and owned by the buddy allocator.
func (r *Resolver) IsBuddy(page uint64) (bool, error) {
	off, err := r.mapcountOffset()
	if err != nil {
		return false, err
	}

	v, err := r.oracle.ReadInt(page + off)
	if err != nil {
		return false, fmt.Errorf("page %#x _mapcount: %w", page, unreadable(page+off, err))
	}

	return v == buddyMapcount, nil
}

// DebugFlags returns page->debug_flags.
func (r *Resolver) DebugFlags(page uint64) (uint64, error) {
	off, err := r.debugFlagsOffset()
	if err != nil {
		return 0, err
	}

	v, err := r.oracle.word(page + off)
	if err != nil {
		return 0, fmt.Errorf("page %#x debug_flags: %w", page, err)
	}

	return v, nil
}

func (r *Resolver) unresolved(op string, err error, fields ...zap.Field) {
	if !IsUnresolved(err) {
		return
	}

	r.logger.Debug(op+" unresolved", append(fields, zap.Error(err))...)
}
