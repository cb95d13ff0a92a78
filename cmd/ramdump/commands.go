package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"
	"go.opentelemetry.io/otel"

	"github.com/e2b-dev/infra/packages/ramdump/internal/mm"
	"github.com/e2b-dev/infra/packages/ramdump/pkg/telemetry"
)

// run parses want addresses from the command line, opens the session and
// maps the outcome of fn to an exit status. An unresolved answer is reported
// on stdout and exits with ExitFailure.
func run(ctx context.Context, f *flag.FlagSet, args []any, want int, fn func(s *session, vals []uint64) error) subcommands.ExitStatus {
	vals, err := parseArgs(f, want)
	if err != nil {
		fmt.Fprintln(f.Output(), err)
		f.Usage()

		return subcommands.ExitUsageError
	}

	ctx, span := otel.Tracer(instrumentationName).Start(ctx, f.Name())
	defer span.End()

	open := args[0].(sessionOpener)

	s, err := open(ctx)
	if err != nil {
		telemetry.ReportCriticalError(ctx, "failed to open session", err)

		return subcommands.ExitFailure
	}

	defer func() {
		if err := s.Close(); err != nil {
			telemetry.ReportError(ctx, "failed to close session", err)
		}
	}()

	if err := fn(s, vals); err != nil {
		if mm.IsUnresolved(err) {
			fmt.Fprintf(s.out, "unresolved: %v\n", err)

			return subcommands.ExitFailure
		}

		fmt.Fprintf(s.errOut, "error: %v\n", err)

		return subcommands.ExitFailure
	}

	return subcommands.ExitSuccess
}

type pfnToPageCmd struct{}

func (*pfnToPageCmd) Name() string     { return "pfn-to-page" }
func (*pfnToPageCmd) Synopsis() string { return "prints the page descriptor address of a pfn" }
func (*pfnToPageCmd) Usage() string    { return "pfn-to-page <pfn>\n" }

func (*pfnToPageCmd) SetFlags(*flag.FlagSet) {}

func (*pfnToPageCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	return run(ctx, f, args, 1, func(s *session, vals []uint64) error {
		page, err := s.resolver.PFNToPage(vals[0])
		if err != nil {
			return err
		}

		fmt.Fprintf(s.out, "%#x\n", page)

		return nil
	})
}

type pageToPFNCmd struct{}

func (*pageToPFNCmd) Name() string     { return "page-to-pfn" }
func (*pageToPFNCmd) Synopsis() string { return "prints the pfn a page descriptor describes" }
func (*pageToPFNCmd) Usage() string    { return "page-to-pfn <page>\n" }

func (*pageToPFNCmd) SetFlags(*flag.FlagSet) {}

func (*pageToPFNCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	return run(ctx, f, args, 1, func(s *session, vals []uint64) error {
		pfn, err := s.resolver.PageToPFN(vals[0])
		if err != nil {
			return err
		}

		fmt.Fprintf(s.out, "%#x\n", pfn)

		return nil
	})
}

type pageAddressCmd struct{}

func (*pageAddressCmd) Name() string { return "page-address" }
func (*pageAddressCmd) Synopsis() string {
	return "prints the kernel virtual address of a page descriptor's frame"
}
func (*pageAddressCmd) Usage() string { return "page-address <page>\n" }

func (*pageAddressCmd) SetFlags(*flag.FlagSet) {}

func (*pageAddressCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	return run(ctx, f, args, 1, func(s *session, vals []uint64) error {
		virt, err := s.resolver.VirtualAddress(vals[0])
		if err != nil {
			return err
		}

		fmt.Fprintf(s.out, "%#x\n", virt)

		return nil
	})
}

type pageInfoCmd struct{}

func (*pageInfoCmd) Name() string     { return "page-info" }
func (*pageInfoCmd) Synopsis() string { return "prints what is known about a page descriptor" }
func (*pageInfoCmd) Usage() string    { return "page-info <page>\n" }

func (*pageInfoCmd) SetFlags(*flag.FlagSet) {}

// Execute fails only when the page cannot be translated to a pfn. The other
// properties depend on optional profile entries and print as unknown.
func (*pageInfoCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	return run(ctx, f, args, 1, func(s *session, vals []uint64) error {
		page := vals[0]
		r := s.resolver

		pfn, err := r.PageToPFN(page)
		if err != nil {
			return err
		}

		row := func(name, format string, v any, err error) {
			if err != nil {
				fmt.Fprintf(s.out, "%-12s unknown (%v)\n", name, err)

				return
			}

			fmt.Fprintf(s.out, "%-12s "+format+"\n", name, v)
		}

		row("page", "%#x", page, nil)
		row("pfn", "%#x", pfn, nil)

		zone, err := r.ZoneName(page)
		row("zone", "%s", zone, err)
		row("highmem", "%t", r.IsHighMemory(page), nil)

		virt, err := r.VirtualAddress(page)
		row("virtual", "%#x", virt, err)

		buddy, err := r.IsBuddy(page)
		row("buddy", "%t", buddy, err)

		debug, err := r.DebugFlags(page)
		row("debug_flags", "%#x", debug, err)

		return nil
	})
}
