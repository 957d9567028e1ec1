package main

import (
	"encoding/binary"
	"math"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/g3n/engine/loader/obj"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/renderer"
	"github.com/vkngwrapper/renderer/driver"
	"github.com/vkngwrapper/renderer/layout"
)

// vertexLayout is a position followed by a texture coordinate.
var vertexLayout = layout.Packed(driver.FormatR32G32B32Sfloat, driver.FormatR32G32Sfloat)

type meshBuilder struct {
	decoder  *obj.Decoder
	vertices []byte
	indices  []uint32
	unique   map[[2]int]uint32
}

func (b *meshBuilder) addVertex(face obj.Face, i int) {
	key := [2]int{face.Vertices[i], -1}
	if i < len(face.Uvs) {
		key[1] = face.Uvs[i]
	}
	index, ok := b.unique[key]
	if !ok {
		v := key[0]
		values := []float32{b.decoder.Vertices[v*3], b.decoder.Vertices[v*3+1], b.decoder.Vertices[v*3+2], 0, 0}
		if uv := key[1]; uv >= 0 {
			values[3] = b.decoder.Uvs[uv*2]
			values[4] = 1 - b.decoder.Uvs[uv*2+1]
		}
		for _, f := range values {
			b.vertices = binary.LittleEndian.AppendUint32(b.vertices, math.Float32bits(f))
		}
		index = uint32(len(b.unique))
		b.unique[key] = index
	}
	b.indices = append(b.indices, index)
}

// loadOBJ reads a Wavefront mesh and the material library next to it. Every
// object becomes one mesh with its faces triangulated as fans.
func loadOBJ(path string) ([]renderer.Mesh, error) {
	meshFile, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open mesh")
	}
	defer meshFile.Close()

	matFile, err := os.Open(strings.TrimSuffix(path, ".obj") + ".mtl")
	if err != nil {
		return nil, errors.Wrap(err, "open material library")
	}
	defer matFile.Close()

	decoder, err := obj.DecodeReader(meshFile, matFile)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}

	var meshes []renderer.Mesh
	for _, object := range decoder.Objects {
		b := &meshBuilder{decoder: decoder, unique: make(map[[2]int]uint32)}
		for _, face := range object.Faces {
			for i := 2; i < len(face.Vertices); i++ {
				b.addVertex(face, 0)
				b.addVertex(face, i-1)
				b.addVertex(face, i)
			}
		}
		if len(b.indices) == 0 {
			continue
		}
		meshes = append(meshes, renderer.Mesh{
			Name:      object.Name,
			Vertices:  b.vertices,
			Layout:    vertexLayout,
			Indices:   b.indices,
			Transform: mgl32.Ident4(),
		})
	}
	if len(meshes) == 0 {
		return nil, errors.Newf("%s has no faces", path)
	}
	return meshes, nil
}
