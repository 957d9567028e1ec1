// Package shader loads compiled SPIR-V modules. A module named "raster/mesh"
// lives in the file "raster/mesh.spv".
package shader

import (
	"context"
	"encoding/binary"
	"io/fs"
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

// Magic is the first word of every SPIR-V module.
const Magic = 0x07230203

// Path returns the file holding the module name.
func Path(name string) string {
	return name + ".spv"
}

// Decode converts a SPIR-V file into its words.
func Decode(b []byte) ([]uint32, error) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, errors.Newf("shader: %d bytes is not a whole number of words", len(b))
	}
	code := make([]uint32, len(b)/4)
	for i := range code {
		code[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	if code[0] != Magic {
		return nil, errors.Newf("shader: bad magic number %#08x", code[0])
	}
	return code, nil
}

// Load reads the given modules from fsys concurrently. Any unreadable or
// malformed module fails the whole load.
func Load(ctx context.Context, fsys fs.FS, names ...string) (map[string][]uint32, error) {
	var mu sync.Mutex
	modules := make(map[string][]uint32, len(names))

	group, ctx := errgroup.WithContext(ctx)
	for _, name := range names {
		name := name
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			b, err := fs.ReadFile(fsys, Path(name))
			if err != nil {
				return errors.Wrapf(err, "read shader %s", name)
			}
			code, err := Decode(b)
			if err != nil {
				return errors.Wrapf(err, "load shader %s", name)
			}
			mu.Lock()
			modules[name] = code
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return modules, nil
}
