// Package layout describes the memory layout of data shared with shaders.
//
// Uniform and storage blocks follow the std140 or std430 rules, vertex
// buffers a stride and a list of attributes. Descriptions are written out
// explicitly and checked at run time.
package layout

import (
	"reflect"

	"github.com/cockroachdb/errors"
)

type Rules int

const (
	Std140 Rules = iota
	Std430
)

func (r Rules) String() string {
	if r == Std430 {
		return "std430"
	}
	return "std140"
}

type Type int

const (
	Float Type = iota
	Int
	Uint
	Vec2
	Vec3
	Vec4
	Mat3
	Mat4
)

// base returns the base alignment and size of a type outside of arrays.
func (t Type) base() (align, size int) {
	switch t {
	case Float, Int, Uint:
		return 4, 4
	case Vec2:
		return 8, 8
	case Vec3:
		return 16, 12
	case Vec4:
		return 16, 16
	case Mat3:
		return 16, 48
	case Mat4:
		return 16, 64
	}
	return 0, 0
}

// Field is one member of a block. Count is the array length, 0 for a member
// that is not an array.
type Field struct {
	Name   string
	Type   Type
	Count  int
	Offset int
}

// Struct is a block layout.
type Struct struct {
	Rules  Rules
	Fields []Field
	Size   int
	Align  int
}

func roundUp(n, align int) int {
	return (n + align - 1) / align * align
}

// placement returns the alignment and the size a field occupies.
func placement(rules Rules, f Field) (align, size int) {
	align, size = f.Type.base()
	if f.Count == 0 {
		return align, size
	}
	stride := roundUp(size, align)
	if rules == Std140 {
		align = roundUp(align, 16)
		stride = roundUp(size, 16)
	}
	return align, stride * f.Count
}

func compute(rules Rules, fields []Field) (offsets []int, size, align int) {
	offsets = make([]int, len(fields))
	align = 4
	offset := 0
	for i, f := range fields {
		a, s := placement(rules, f)
		offset = roundUp(offset, a)
		offsets[i] = offset
		offset += s
		align = max(align, a)
	}
	if rules == Std140 {
		align = roundUp(align, 16)
	}
	return offsets, roundUp(offset, align), align
}

// New lays out fields in order following rules.
func New(rules Rules, fields ...Field) *Struct {
	offsets, size, align := compute(rules, fields)
	s := &Struct{Rules: rules, Fields: append([]Field(nil), fields...), Size: size, Align: align}
	for i := range s.Fields {
		s.Fields[i].Offset = offsets[i]
	}
	return s
}

// Validate checks hand written offsets and size against the layout rules.
func (s *Struct) Validate() error {
	offsets, size, _ := compute(s.Rules, s.Fields)
	for i, f := range s.Fields {
		if _, sz := f.Type.base(); sz == 0 {
			return errors.Newf("layout: field %s has unknown type %d", f.Name, f.Type)
		}
		if f.Count < 0 {
			return errors.Newf("layout: field %s has array length %d", f.Name, f.Count)
		}
		if f.Offset != offsets[i] {
			return errors.Newf("layout: %s field %s at offset %d, want %d", s.Rules, f.Name, f.Offset, offsets[i])
		}
	}
	if s.Size != size {
		return errors.Newf("layout: %s block size %d, want %d", s.Rules, s.Size, size)
	}
	return nil
}

// Field returns the field with the given name.
func (s *Struct) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Check verifies that the binary encoding of v places every named field of
// the block at its offset and spans the whole block. Padding is expressed with
// blank fields, which encoding/binary writes as zeros.
func (s *Struct) Check(v any) error {
	t := reflect.TypeOf(v)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return errors.Newf("layout: %s is not a struct", t)
	}
	offset := 0
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		size := binarySize(sf.Type)
		if size < 0 {
			return errors.Newf("layout: field %s of %s has no fixed size", sf.Name, t)
		}
		if f, ok := s.Field(sf.Name); ok && f.Offset != offset {
			return errors.Newf("layout: field %s of %s encodes at offset %d, block places it at %d",
				sf.Name, t, offset, f.Offset)
		}
		offset += size
	}
	if offset != s.Size {
		return errors.Newf("layout: %s encodes to %d bytes, block is %d bytes", t, offset, s.Size)
	}
	return nil
}

func binarySize(t reflect.Type) int {
	switch t.Kind() {
	case reflect.Bool, reflect.Int8, reflect.Uint8:
		return 1
	case reflect.Int16, reflect.Uint16:
		return 2
	case reflect.Int32, reflect.Uint32, reflect.Float32:
		return 4
	case reflect.Int64, reflect.Uint64, reflect.Float64:
		return 8
	case reflect.Array:
		n := binarySize(t.Elem())
		if n < 0 {
			return -1
		}
		return n * t.Len()
	case reflect.Struct:
		total := 0
		for i := 0; i < t.NumField(); i++ {
			n := binarySize(t.Field(i).Type)
			if n < 0 {
				return -1
			}
			total += n
		}
		return total
	}
	return -1
}
