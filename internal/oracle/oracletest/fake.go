// Package oracletest provides an in-memory layout oracle for tests.
package oracletest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrNotFound = errors.New("not found")
	ErrUnmapped = errors.New("address not mapped")
)

// Fake is a sparse little-endian memory plus symbol and struct tables.
type Fake struct {
	mu sync.RWMutex

	wordSize int
	mem      map[uint64]byte
	symbols  map[string]uint64
	sizes    map[string]uint64
	offsets  map[string]uint64
	config   map[string]bool

	reads int
}

func NewFake(wordSize int) *Fake {
	if wordSize != 4 && wordSize != 8 {
		panic(fmt.Sprintf("unsupported word size %d", wordSize))
	}

	return &Fake{
		wordSize: wordSize,
		mem:      make(map[uint64]byte),
		symbols:  make(map[string]uint64),
		sizes:    make(map[string]uint64),
		offsets:  make(map[string]uint64),
		config:   make(map[string]bool),
	}
}

func (f *Fake) WordSize() int {
	return f.wordSize
}

// Reads returns the number of memory reads served so far.
func (f *Fake) Reads() int {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.reads
}

func (f *Fake) SetSymbol(name string, addr uint64) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.symbols[name] = addr

	return f
}

func (f *Fake) SetSize(typeName string, size uint64) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sizes[typeName] = size

	return f
}

func (f *Fake) SetOffset(structName, field string, off uint64) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.offsets[structName+"."+field] = off

	return f
}

func (f *Fake) SetConfig(name string, defined bool) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.config[name] = defined

	return f
}

func (f *Fake) write(addr uint64, b []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, v := range b {
		f.mem[addr+uint64(i)] = v
	}
}

func (f *Fake) WriteWord(addr, v uint64) *Fake {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	f.write(addr, b[:f.wordSize])

	return f
}

func (f *Fake) WriteInt(addr uint64, v uint32) *Fake {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	f.write(addr, b)

	return f
}

func (f *Fake) WriteCString(addr uint64, s string) *Fake {
	f.write(addr, append([]byte(s), 0))

	return f
}

func (f *Fake) FieldOffset(structName, field string) (uint64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	off, ok := f.offsets[structName+"."+field]
	if !ok {
		return 0, fmt.Errorf("%s.%s: %w", structName, field, ErrNotFound)
	}

	return off, nil
}

func (f *Fake) SizeOf(typeName string) (uint64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	size, ok := f.sizes[typeName]
	if !ok {
		return 0, fmt.Errorf("sizeof(%s): %w", typeName, ErrNotFound)
	}

	return size, nil
}

func (f *Fake) SymbolAddress(name string) (uint64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	addr, ok := f.symbols[name]
	if !ok {
		return 0, fmt.Errorf("%s: %w", name, ErrNotFound)
	}

	return addr, nil
}

func (f *Fake) read(addr uint64, n int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.reads++

	b := make([]byte, 8)
	for i := 0; i < n; i++ {
		v, ok := f.mem[addr+uint64(i)]
		if !ok {
			return nil, fmt.Errorf("%#x: %w", addr+uint64(i), ErrUnmapped)
		}

		b[i] = v
	}

	return b, nil
}

func (f *Fake) ReadWord(addr uint64) (uint64, error) {
	b, err := f.read(addr, f.wordSize)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint64(b), nil
}

func (f *Fake) ReadInt(addr uint64) (uint32, error) {
	b, err := f.read(addr, 4)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(b), nil
}

func (f *Fake) ReadCString(addr uint64, maxLen int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.reads++

	var out []byte
	for i := 0; i < maxLen; i++ {
		v, ok := f.mem[addr+uint64(i)]
		if !ok {
			return "", fmt.Errorf("%#x: %w", addr+uint64(i), ErrUnmapped)
		}

		if v == 0 {
			return string(out), nil
		}

		out = append(out, v)
	}

	return string(out), nil
}

func (f *Fake) ConfigDefined(name string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.config[name]
}
