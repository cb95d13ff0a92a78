// Package scan resolves every pfn of a range in parallel.
package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bits-and-blooms/bitset"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/e2b-dev/infra/packages/ramdump/internal/mm"
	"github.com/e2b-dev/infra/packages/ramdump/pkg/telemetry"
)

const (
	instrumentationName = "github.com/e2b-dev/infra/packages/ramdump/internal/scan"

	DefaultWorkers   = 8
	DefaultBatchSize = 1024
	// DefaultMaxPFNs covers 64GiB of 4KiB frames in one scan.
	DefaultMaxPFNs = 1 << 24
)

var ErrRangeTooLarge = errors.New("scan range too large")

// Resolver is the part of mm.Resolver a scan uses.
type Resolver interface {
	PFNToPage(pfn uint64) (uint64, error)
	VirtualAddress(page uint64) (uint64, error)
	IsHighMemory(page uint64) bool
	IsBuddy(page uint64) (bool, error)
}

var _ Resolver = (*mm.Resolver)(nil)

// Page is one pfn whose page descriptor was found.
type Page struct {
	PFN  uint64
	Page uint64
	// Virtual is valid only when Mapped.
	Virtual uint64
	Mapped  bool
	HighMem bool
	Buddy   bool
}

type Result struct {
	Start uint64
	End   uint64
	// Pages are ordered by pfn.
	Pages []Page
	// Unresolved has bit i set when pfn Start+i has no page descriptor or
	// no virtual address.
	Unresolved *bitset.BitSet
}

// UnresolvedPFNs lists the unresolved pfns in ascending order.
func (r *Result) UnresolvedPFNs() []uint64 {
	pfns := make([]uint64, 0, r.Unresolved.Count())
	for i, ok := r.Unresolved.NextSet(0); ok; i, ok = r.Unresolved.NextSet(i + 1) {
		pfns = append(pfns, r.Start+uint64(i))
	}

	return pfns
}

type Scanner struct {
	resolver  Resolver
	workers   int
	batchSize uint64
	maxPFNs   uint64
	tracer    trace.Tracer

	resolved   metric.Int64Counter
	unresolved metric.Int64Counter
	highmem    metric.Int64Counter
	duration   metric.Int64Histogram
}

type Option func(*Scanner)

func WithWorkers(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.workers = n
		}
	}
}

func WithBatchSize(n uint64) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithMaxPFNs bounds the number of pfns a single Scan accepts.
func WithMaxPFNs(n uint64) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.maxPFNs = n
		}
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Scanner) {
		s.tracer = tp.Tracer(instrumentationName)
	}
}

// NewScanner uses the global otel providers unless overridden; with none
// installed the instruments are no-ops.
func NewScanner(r Resolver, meterProvider metric.MeterProvider, opts ...Option) (*Scanner, error) {
	if meterProvider == nil {
		meterProvider = otel.GetMeterProvider()
	}

	s := &Scanner{
		resolver:  r,
		workers:   DefaultWorkers,
		batchSize: DefaultBatchSize,
		maxPFNs:   DefaultMaxPFNs,
		tracer:    otel.Tracer(instrumentationName),
	}

	for _, opt := range opts {
		opt(s)
	}

	meter := meterProvider.Meter(instrumentationName)

	var err error
	if s.resolved, err = telemetry.GetCounter(meter, telemetry.PagesResolvedCounterName); err != nil {
		return nil, fmt.Errorf("failed to create resolved counter: %w", err)
	}

	if s.unresolved, err = telemetry.GetCounter(meter, telemetry.PagesUnresolvedCounterName); err != nil {
		return nil, fmt.Errorf("failed to create unresolved counter: %w", err)
	}

	if s.highmem, err = telemetry.GetCounter(meter, telemetry.HighmemLookupsCounterName); err != nil {
		return nil, fmt.Errorf("failed to create highmem counter: %w", err)
	}

	if s.duration, err = telemetry.GetHistogram(meter, telemetry.ScanDurationHistogramName); err != nil {
		return nil, fmt.Errorf("failed to create scan duration histogram: %w", err)
	}

	return s, nil
}

type batch struct {
	pages      []Page
	unresolved []uint64
}

// Scan resolves pfns in [start, end). Unresolved pfns are recorded in the
// result; any other failure is a broken session and aborts the scan.
func (s *Scanner) Scan(ctx context.Context, start, end uint64) (*Result, error) {
	if end < start {
		return nil, fmt.Errorf("scan range [%#x, %#x) is inverted", start, end)
	}

	count := end - start
	if count > s.maxPFNs {
		return nil, fmt.Errorf("scan range [%#x, %#x) has %d pfns, limit is %d: %w", start, end, count, s.maxPFNs, ErrRangeTooLarge)
	}

	ctx, span := s.tracer.Start(ctx, "scan-pfn-range", trace.WithAttributes(
		telemetry.Address("pfn.start", start),
		telemetry.Address("pfn.end", end),
	))
	defer span.End()

	begin := time.Now()

	n := count / s.batchSize
	if count%s.batchSize != 0 {
		n++
	}

	batches := make([]batch, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for i := range batches {
		lo := start + uint64(i)*s.batchSize
		hi := lo + min(s.batchSize, end-lo)

		g.Go(func() error {
			b, err := s.scanBatch(gctx, lo, hi)
			if err != nil {
				return err
			}

			batches[i] = b

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		telemetry.ReportCriticalError(ctx, "scan aborted", err)

		return nil, err
	}

	found := 0
	for _, b := range batches {
		found += len(b.pages)
	}

	result := &Result{
		Start:      start,
		End:        end,
		Pages:      make([]Page, 0, found),
		Unresolved: bitset.New(uint(count)),
	}

	var highmem int64
	for _, b := range batches {
		result.Pages = append(result.Pages, b.pages...)

		for _, pfn := range b.unresolved {
			result.Unresolved.Set(uint(pfn - start))
		}
	}

	for _, p := range result.Pages {
		if p.HighMem {
			highmem++
		}
	}

	unresolved := int64(result.Unresolved.Count())

	s.resolved.Add(ctx, int64(count)-unresolved)
	s.unresolved.Add(ctx, unresolved)
	s.highmem.Add(ctx, highmem)
	s.duration.Record(ctx, time.Since(begin).Milliseconds())

	telemetry.SetAttributes(ctx,
		attribute.Int64("pfn.count", int64(count)),
		attribute.Int64("pfn.unresolved", unresolved),
	)

	zap.L().Debug("scan finished",
		zap.Uint64("pfn.count", count),
		zap.Int64("pfn.unresolved", unresolved),
		zap.Duration("duration", time.Since(begin)),
	)

	return result, nil
}

func (s *Scanner) scanBatch(ctx context.Context, lo, hi uint64) (batch, error) {
	b := batch{pages: make([]Page, 0, hi-lo)}

	for pfn := lo; pfn < hi; pfn++ {
		if err := ctx.Err(); err != nil {
			return b, err
		}

		p, err := s.scanPFN(pfn)
		if mm.IsUnresolved(err) {
			b.unresolved = append(b.unresolved, pfn)
			if p == nil {
				continue
			}
		} else if err != nil {
			return b, fmt.Errorf("pfn %#x: %w", pfn, err)
		}

		b.pages = append(b.pages, *p)
	}

	return b, nil
}

// scanPFN returns the page found for pfn along with any unresolved virtual
// address error.
func (s *Scanner) scanPFN(pfn uint64) (*Page, error) {
	page, err := s.resolver.PFNToPage(pfn)
	if err != nil {
		return nil, err
	}

	p := &Page{
		PFN:     pfn,
		Page:    page,
		HighMem: s.resolver.IsHighMemory(page),
	}

	// Buddy state is informational, a profile without _mapcount still scans.
	if buddy, err := s.resolver.IsBuddy(page); err == nil {
		p.Buddy = buddy
	}

	virt, err := s.resolver.VirtualAddress(page)
	if err != nil {
		if !mm.IsUnresolved(err) {
			return nil, err
		}

		return p, err
	}

	p.Virtual = virt
	p.Mapped = true

	return p, nil
}

// IsAborted reports whether err came from a cancelled scan.
func IsAborted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
