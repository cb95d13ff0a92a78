package main

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/google/subcommands"

	"github.com/e2b-dev/infra/packages/ramdump/internal/scan"
)

type scanCmd struct {
	start      string
	end        string
	pages      bool
	unresolved bool
	maxPFNs    uint64
}

func (*scanCmd) Name() string     { return "scan" }
func (*scanCmd) Synopsis() string { return "resolves every pfn of a range and prints a summary" }
func (*scanCmd) Usage() string {
	return "scan -start <pfn> -end <pfn> [-pages] [-unresolved] [-max-pfns <n>]\n"
}

func (c *scanCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.start, "start", "", "first pfn of the range.")
	f.StringVar(&c.end, "end", "", "pfn after the last one of the range.")
	f.BoolVar(&c.pages, "pages", false, "print every resolved pfn.")
	f.BoolVar(&c.unresolved, "unresolved", false, "print every unresolved pfn.")
	f.Uint64Var(&c.maxPFNs, "max-pfns", scan.DefaultMaxPFNs, "largest range accepted.")
}

func (c *scanCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	start, err := parseAddress(c.start)
	if err != nil {
		fmt.Fprintln(f.Output(), err)

		return subcommands.ExitUsageError
	}

	end, err := parseAddress(c.end)
	if err != nil {
		fmt.Fprintln(f.Output(), err)

		return subcommands.ExitUsageError
	}

	return run(ctx, f, args, 0, func(s *session, _ []uint64) error {
		scanner, err := scan.NewScanner(s.resolver, nil, scan.WithWorkers(s.workers), scan.WithMaxPFNs(c.maxPFNs))
		if err != nil {
			return err
		}

		result, err := scanner.Scan(ctx, start, end)
		if err != nil {
			if scan.IsAborted(err) {
				return errors.New("scan interrupted")
			}

			return err
		}

		c.report(s, result)

		return nil
	})
}

func (c *scanCmd) report(s *session, result *scan.Result) {
	pageSize := uint64(1) << s.resolver.Layout().PageShift

	var highmem, buddy, mapped uint64
	for _, p := range result.Pages {
		if p.HighMem {
			highmem++
		}

		if p.Buddy {
			buddy++
		}

		if p.Mapped {
			mapped++
		}

		if c.pages {
			virt := "-"
			if p.Mapped {
				virt = fmt.Sprintf("%#x", p.Virtual)
			}

			fmt.Fprintf(s.out, "%#x %#x %s highmem=%t buddy=%t\n", p.PFN, p.Page, virt, p.HighMem, p.Buddy)
		}
	}

	if c.unresolved {
		for _, pfn := range result.UnresolvedPFNs() {
			fmt.Fprintf(s.out, "%#x unresolved\n", pfn)
		}
	}

	total := result.End - result.Start

	fmt.Fprintf(s.out, "pfns        %s (%s)\n", humanize.Comma(int64(total)), humanize.IBytes(total*pageSize))
	fmt.Fprintf(s.out, "described   %s\n", humanize.Comma(int64(len(result.Pages))))
	fmt.Fprintf(s.out, "mapped      %s\n", humanize.Comma(int64(mapped)))
	fmt.Fprintf(s.out, "unresolved  %s\n", humanize.Comma(int64(result.Unresolved.Count())))
	fmt.Fprintf(s.out, "highmem     %s\n", humanize.Comma(int64(highmem)))
	fmt.Fprintf(s.out, "free        %s (%s)\n", humanize.Comma(int64(buddy)), humanize.IBytes(buddy*pageSize))
}
