// Package oracle answers layout, symbol and memory queries for a captured
// image from its kernel profile.
package oracle

import (
	"encoding/binary"
	"fmt"

	"github.com/e2b-dev/infra/packages/ramdump/internal/mm"
	"github.com/e2b-dev/infra/packages/ramdump/internal/profile"
)

// Memory reads the image by kernel virtual address.
type Memory interface {
	ReadAt(p []byte, addr uint64) (int, error)
}

var _ mm.Oracle = (*Static)(nil)

// Static serves struct layouts from a profile and memory from an image. It
// holds no mutable state.
type Static struct {
	profile  *profile.Profile
	mem      Memory
	order    binary.ByteOrder
	wordSize int
}

func New(p *profile.Profile, mem Memory) *Static {
	var order binary.ByteOrder = binary.LittleEndian
	if p.BigEndian {
		order = binary.BigEndian
	}

	return &Static{
		profile:  p,
		mem:      mem,
		order:    order,
		wordSize: p.WordSize(),
	}
}

func (s *Static) FieldOffset(structName, field string) (uint64, error) {
	fields, ok := s.profile.Fields[structName]
	if !ok {
		return 0, fmt.Errorf("profile has no layout for %s: %w", structName, mm.ErrMissingStructLayout)
	}

	off, ok := fields[field]
	if !ok {
		return 0, fmt.Errorf("profile has no field %s in %s: %w", field, structName, mm.ErrMissingStructLayout)
	}

	return uint64(off), nil
}

func (s *Static) SizeOf(typeName string) (uint64, error) {
	size, ok := s.profile.Sizes[typeName]
	if !ok {
		return 0, fmt.Errorf("profile has no size for %s: %w", typeName, mm.ErrMissingStructLayout)
	}

	return uint64(size), nil
}

func (s *Static) SymbolAddress(name string) (uint64, error) {
	addr, ok := s.profile.Symbols[name]
	if !ok {
		return 0, fmt.Errorf("profile has no symbol %s: %w", name, mm.ErrMissingSymbol)
	}

	return uint64(addr), nil
}

func (s *Static) read(addr uint64, n int) ([]byte, error) {
	buf := make([]byte, n)

	if _, err := s.mem.ReadAt(buf, addr); err != nil {
		return nil, mm.UnreadableMemoryError{Addr: addr, Err: err}
	}

	return buf, nil
}

// ReadWord reads a pointer-sized word in the byte order of the profile.
func (s *Static) ReadWord(addr uint64) (uint64, error) {
	buf, err := s.read(addr, s.wordSize)
	if err != nil {
		return 0, err
	}

	if s.wordSize == 4 {
		return uint64(s.order.Uint32(buf)), nil
	}

	return s.order.Uint64(buf), nil
}

func (s *Static) ReadInt(addr uint64) (uint32, error) {
	buf, err := s.read(addr, 4)
	if err != nil {
		return 0, err
	}

	return s.order.Uint32(buf), nil
}

// ReadCString reads byte by byte so a string ending just before an unmapped
// address is still returned.
func (s *Static) ReadCString(addr uint64, maxLen int) (string, error) {
	out := make([]byte, 0, maxLen)
	b := make([]byte, 1)

	for i := 0; i < maxLen; i++ {
		if _, err := s.mem.ReadAt(b, addr+uint64(i)); err != nil {
			return "", mm.UnreadableMemoryError{Addr: addr + uint64(i), Err: err}
		}

		if b[0] == 0 {
			break
		}

		out = append(out, b[0])
	}

	return string(out), nil
}

func (s *Static) ConfigDefined(name string) bool {
	return s.profile.Config[name]
}
