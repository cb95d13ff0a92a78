package mm

import (
	"errors"
	"fmt"
)

var (
	ErrMissingSymbol            = errors.New("missing symbol")
	ErrMissingStructLayout      = errors.New("missing struct layout")
	ErrUnreadableMemory         = errors.New("unreadable memory")
	ErrNoMatchFound             = errors.New("no match found")
	ErrUnsupportedConfiguration = errors.New("unsupported configuration")

	// ErrInvalidPage is returned for a page descriptor address that does not
	// index the page array it is being translated through.
	ErrInvalidPage = errors.New("invalid page descriptor address")
	// ErrTraversalLimit is returned when a hashed-list walk does not come back
	// to its sentinel within the configured number of steps.
	ErrTraversalLimit = errors.New("list traversal limit exceeded")
	// ErrAddressMetadata is returned when the bank, hole, zone or kmap table
	// symbols a virtual address lookup needs are missing. It wraps the
	// underlying ErrMissingSymbol.
	ErrAddressMetadata = errors.New("virtual address metadata unavailable")

	errNullPointer = errors.New("null pointer")
)

// IsUnresolved reports whether err marks a single page as unknown rather than
// a broken session setup. Missing symbols and layouts for the selected memory
// model are configuration problems and abort the query instead.
func IsUnresolved(err error) bool {
	return errors.Is(err, ErrUnreadableMemory) ||
		errors.Is(err, ErrAddressMetadata) ||
		errors.Is(err, ErrNoMatchFound) ||
		errors.Is(err, ErrInvalidPage) ||
		errors.Is(err, ErrTraversalLimit)
}

type UnreadableMemoryError struct {
	Addr uint64
	Err  error
}

func (e UnreadableMemoryError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("unreadable memory at %#x", e.Addr)
	}

	return fmt.Sprintf("unreadable memory at %#x: %s", e.Addr, e.Err)
}

func (e UnreadableMemoryError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrUnreadableMemory}
	}

	return []error{ErrUnreadableMemory, e.Err}
}

// unreadable attributes a failed read to addr unless the oracle already did.
func unreadable(addr uint64, err error) error {
	var u UnreadableMemoryError
	if errors.As(err, &u) {
		return err
	}

	return UnreadableMemoryError{Addr: addr, Err: err}
}

// addressMetadata marks a missing symbol met while computing a virtual
// address as unresolved for that page.
func addressMetadata(err error) error {
	if errors.Is(err, ErrMissingSymbol) && !errors.Is(err, ErrAddressMetadata) {
		return fmt.Errorf("%w: %w", ErrAddressMetadata, err)
	}

	return err
}

func wrapLayout(err error, format string, args ...any) error {
	what := fmt.Sprintf(format, args...)
	if errors.Is(err, ErrMissingStructLayout) {
		return fmt.Errorf("%s: %w", what, err)
	}

	return fmt.Errorf("%s: %w", what, errors.Join(ErrMissingStructLayout, err))
}

func wrapSymbol(err error, name string) error {
	if errors.Is(err, ErrMissingSymbol) {
		return fmt.Errorf("symbol %s: %w", name, err)
	}

	return fmt.Errorf("symbol %s: %w", name, errors.Join(ErrMissingSymbol, err))
}
