package main

import (
	"flag"
	"fmt"
	"strconv"
)

// parseAddress accepts an address or pfn in any base strconv understands,
// "0x" prefixed hex being the usual form.
func parseAddress(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}

	return v, nil
}

func parseArgs(f *flag.FlagSet, want int) ([]uint64, error) {
	if f.NArg() != want {
		return nil, fmt.Errorf("expected %d argument(s), got %d", want, f.NArg())
	}

	vals := make([]uint64, 0, want)
	for _, arg := range f.Args() {
		v, err := parseAddress(arg)
		if err != nil {
			return nil, err
		}

		vals = append(vals, v)
	}

	return vals, nil
}
