package fake

import (
	"time"

	"github.com/vkngwrapper/renderer/driver"
)

var (
	_ driver.GPU       = (*Faults)(nil)
	_ driver.RayTracer = (*Faults)(nil)
)

// Faults wraps a GPU and makes selected calls fail with Err. Everything it
// does not fail is passed to the wrapped GPU unchanged.
type Faults struct {
	*GPU
	// Err is returned by failing calls. Nil selects driver.ErrDeviceLost.
	Err error
	// Buffers is the number of NewBuffer calls that still succeed. Once it
	// reaches zero every further call fails. Negative never fails.
	Buffers int
	// FailWaits makes WaitFences complete every queued submission and then
	// fail, the way a device lost after finishing its work reports.
	FailWaits bool
}

func NewFaults(g *GPU) *Faults {
	return &Faults{GPU: g, Buffers: -1}
}

func (f *Faults) err() error {
	if f.Err != nil {
		return f.Err
	}
	return driver.ErrDeviceLost
}

func (f *Faults) NewBuffer(info driver.BufferInfo) (driver.Buffer, error) {
	if f.Buffers == 0 {
		return nil, f.err()
	}
	if f.Buffers > 0 {
		f.Buffers--
	}
	return f.GPU.NewBuffer(info)
}

func (f *Faults) WaitFences(timeout time.Duration, fences ...driver.Fence) error {
	if !f.FailWaits {
		return f.GPU.WaitFences(timeout, fences...)
	}
	f.GPU.Flush()
	return f.err()
}
