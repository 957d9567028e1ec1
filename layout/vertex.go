package layout

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/renderer/driver"
)

type Attribute struct {
	Location int
	Format   driver.Format
	Offset   int
}

// Vertex is the layout of one interleaved vertex buffer.
type Vertex struct {
	Stride     int
	Attributes []Attribute
}

// Packed lays out one attribute per format, in location order, without
// padding.
func Packed(formats ...driver.Format) Vertex {
	var v Vertex
	for i, f := range formats {
		v.Attributes = append(v.Attributes, Attribute{Location: i, Format: f, Offset: v.Stride})
		v.Stride += f.Size()
	}
	return v
}

func (v Vertex) Validate() error {
	if v.Stride <= 0 {
		return errors.Newf("layout: vertex stride %d", v.Stride)
	}
	seen := make(map[int]bool)
	for i, a := range v.Attributes {
		size := a.Format.Size()
		if size == 0 {
			return errors.Newf("layout: attribute %d has unsupported format %d", a.Location, a.Format)
		}
		if seen[a.Location] {
			return errors.Newf("layout: location %d declared twice", a.Location)
		}
		seen[a.Location] = true
		if a.Offset < 0 || a.Offset+size > v.Stride {
			return errors.Newf("layout: attribute %d at offset %d does not fit in stride %d", a.Location, a.Offset, v.Stride)
		}
		for _, b := range v.Attributes[:i] {
			if a.Offset < b.Offset+b.Format.Size() && b.Offset < a.Offset+size {
				return errors.Newf("layout: attributes %d and %d overlap", b.Location, a.Location)
			}
		}
	}
	return nil
}

// Position returns the attribute at location 0.
func (v Vertex) Position() (Attribute, error) {
	for _, a := range v.Attributes {
		if a.Location == 0 {
			return a, nil
		}
	}
	return Attribute{}, errors.New("layout: vertex has no attribute at location 0")
}
