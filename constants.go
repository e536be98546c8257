package vkpace

import (
	"bytes"
	"encoding/binary"
)

// SpecializationEntry locates one constant in a SpecializationInfo blob.
type SpecializationEntry struct {
	ID     uint32
	Offset uint32
	Size   uint32
}

// SpecializationInfo is a frozen constant table, ready to be handed to
// pipeline creation. Data is the concatenation of every entry's payload in
// insertion order.
type SpecializationInfo struct {
	Entries []SpecializationEntry
	Data    []byte
}

// Len returns the number of entries.
func (s SpecializationInfo) Len() int { return len(s.Entries) }

// SpecializationConstants builds a constant table incrementally. Each id
// may be added once; entries are laid out back to back in insertion order.
type SpecializationConstants struct {
	entries []SpecializationEntry
	ids     map[uint32]struct{}
	data    bytes.Buffer
}

// AddEntry appends value under id. value must have a fixed memory layout
// (booleans, sized integers, floats, arrays and structs of those); it is
// encoded in native byte order.
func (s *SpecializationConstants) AddEntry(id uint32, value any) *SpecializationConstants {
	if _, dup := s.ids[id]; dup {
		violation("duplicate specialization constant id %d", id)
	}
	size := binary.Size(value)
	if size < 0 {
		violation("specialization constant %d: %T has no fixed layout", id, value)
	}
	if s.ids == nil {
		s.ids = make(map[uint32]struct{})
	}
	offset := s.data.Len()
	if err := binary.Write(&s.data, binary.NativeEndian, value); err != nil {
		violation("encode specialization constant %d: %v", id, err)
	}
	s.ids[id] = struct{}{}
	s.entries = append(s.entries, SpecializationEntry{
		ID:     id,
		Offset: uint32(offset),
		Size:   uint32(size),
	})
	return s
}

func (s *SpecializationConstants) AddUint32(id uint32, v uint32) *SpecializationConstants {
	return s.AddEntry(id, v)
}

func (s *SpecializationConstants) AddInt32(id uint32, v int32) *SpecializationConstants {
	return s.AddEntry(id, v)
}

func (s *SpecializationConstants) AddFloat32(id uint32, v float32) *SpecializationConstants {
	return s.AddEntry(id, v)
}

// AddBool adds a 32-bit boolean, the layout shaders expect.
func (s *SpecializationConstants) AddBool(id uint32, v bool) *SpecializationConstants {
	var b uint32
	if v {
		b = 1
	}
	return s.AddEntry(id, b)
}

// Len returns the number of entries added so far.
func (s *SpecializationConstants) Len() int { return len(s.entries) }

// Size returns the current blob size in bytes.
func (s *SpecializationConstants) Size() int { return s.data.Len() }

// Freeze returns an immutable copy of the table.
func (s *SpecializationConstants) Freeze() SpecializationInfo {
	return SpecializationInfo{
		Entries: append([]SpecializationEntry(nil), s.entries...),
		Data:    bytes.Clone(s.data.Bytes()),
	}
}
