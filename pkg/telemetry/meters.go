package telemetry

import "go.opentelemetry.io/otel/metric"

type (
	CounterType   string
	HistogramType string
)

const (
	PagesResolvedCounterName   CounterType = "ramdump.pages.resolved"
	PagesUnresolvedCounterName CounterType = "ramdump.pages.unresolved"
	HighmemLookupsCounterName  CounterType = "ramdump.highmem.lookups"
)

const (
	ScanDurationHistogramName HistogramType = "ramdump.scan.duration"
)

var counterDesc = map[CounterType]string{
	PagesResolvedCounterName:   "Number of pfns resolved to a page and a virtual address.",
	PagesUnresolvedCounterName: "Number of pfns left unresolved by a scan.",
	HighmemLookupsCounterName:  "Number of page_address_htable lookups for highmem pages.",
}

var counterUnits = map[CounterType]string{
	PagesResolvedCounterName:   "{page}",
	PagesUnresolvedCounterName: "{page}",
	HighmemLookupsCounterName:  "{lookup}",
}

var histogramDesc = map[HistogramType]string{
	ScanDurationHistogramName: "Wall time of a pfn range scan.",
}

var histogramUnits = map[HistogramType]string{
	ScanDurationHistogramName: "ms",
}

func GetCounter(meter metric.Meter, name CounterType) (metric.Int64Counter, error) {
	desc := counterDesc[name]
	unit := counterUnits[name]
	return meter.Int64Counter(string(name),
		metric.WithDescription(desc),
		metric.WithUnit(unit),
	)
}

func GetHistogram(meter metric.Meter, name HistogramType) (metric.Int64Histogram, error) {
	desc := histogramDesc[name]
	unit := histogramUnits[name]
	return meter.Int64Histogram(string(name),
		metric.WithDescription(desc),
		metric.WithUnit(unit),
	)
}
