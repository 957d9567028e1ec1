// Package fake implements driver.GPU in memory.
//
// Submitted work stays queued until something waits for it: a fence wait
// completes every submission up to and including the one carrying the fence,
// WaitIdle and Flush complete everything. Fences therefore stay unsignaled
// until the test decides the device made progress, which makes ordering bugs
// visible. Misuse that a real device would turn into undefined behavior, such
// as recording a destroyed buffer or resetting a fence that is still pending,
// is recorded as a violation.
package fake

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/vkngwrapper/renderer/driver"
)

var (
	_ driver.GPU            = (*GPU)(nil)
	_ driver.RayTracer      = (*GPU)(nil)
	_ driver.Presenter      = (*GPU)(nil)
	_ driver.PipelineCacher = (*GPU)(nil)
)

// Stats counts the work the device executed.
type Stats struct {
	Submits       int
	Presents      int
	Copies        []int64
	Fills         int
	Clears        int
	Builds        int
	CompactCopies int
	Flushes       int
	Barriers      []Barrier
}

// Barrier is an executed pipeline barrier.
type Barrier struct {
	Src, Dst driver.Stage
	Buffers  []driver.BufferBarrier
	Images   []driver.ImageBarrier
}

type GPU struct {
	// AutoComplete executes every submission as soon as it is queued.
	AutoComplete bool
	// CacheData is returned by PipelineCache.
	CacheData []byte

	limits     driver.Limits
	identity   driver.CacheIdentity
	queue      []*submission
	stats      Stats
	violations []string
	live       map[any]string
	nextAddr   uint64
	accels     map[uint64]*Accel
	buffers    map[uint64]*Buffer
	stale      bool
	suboptimal bool
	destroyed  bool
}

type submission struct {
	cmds    []*CmdBuffer
	waits   []driver.SemaphoreWait
	signals []driver.Semaphore
	fence   *Fence
	present func()
}

func New() *GPU {
	return &GPU{
		limits: driver.Limits{
			MinUniformBufferOffsetAlignment: 256,
			MinStorageBufferOffsetAlignment: 64,
			NonCoherentAtomSize:             64,
			ScratchOffsetAlignment:          128,
			MaxBoundDescriptorSets:          8,
		},
		identity: driver.CacheIdentity{
			VendorID: 0x10de,
			DeviceID: 0x2204,
			UUID:     uuid.MustParse("6c1d3a7e-2f0b-4f4e-9a55-0d9e8b6f1c22"),
		},
		live:     make(map[any]string),
		nextAddr: 0x10000,
		accels:   make(map[uint64]*Accel),
		buffers:  make(map[uint64]*Buffer),
	}
}

func (g *GPU) violate(format string, args ...any) {
	g.violations = append(g.violations, fmt.Sprintf(format, args...))
}

// Violations returns every misuse recorded so far.
func (g *GPU) Violations() []string { return g.violations }

// Stats returns the counters of executed work.
func (g *GPU) Stats() Stats { return g.stats }

// Live returns the number of objects created and not destroyed.
func (g *GPU) Live() int { return len(g.live) }

// LiveKinds returns the number of live objects per kind.
func (g *GPU) LiveKinds() map[string]int {
	kinds := make(map[string]int)
	for _, kind := range g.live {
		kinds[kind]++
	}
	return kinds
}

// Pending returns the number of queued submissions that did not execute yet.
func (g *GPU) Pending() int { return len(g.queue) }

// Step executes the oldest queued submission. It reports false if nothing
// was queued.
func (g *GPU) Step() bool {
	if len(g.queue) == 0 {
		return false
	}
	sub := g.queue[0]
	g.queue = g.queue[1:]
	g.execute(sub)
	return true
}

// Flush executes every queued submission.
func (g *GPU) Flush() {
	for g.Step() {
	}
}

// SetOutOfDate makes swapchain acquire and present report driver.ErrOutOfDate.
func (g *GPU) SetOutOfDate(stale bool) { g.stale = stale }

// SetSuboptimal makes swapchain present report driver.ErrSuboptimal.
func (g *GPU) SetSuboptimal(suboptimal bool) { g.suboptimal = suboptimal }

func (g *GPU) track(obj any, kind string) {
	g.live[obj] = kind
}

func (g *GPU) untrack(obj any, kind string) {
	if _, ok := g.live[obj]; !ok {
		g.violate("%s destroyed twice", kind)
		return
	}
	delete(g.live, obj)
}

func (g *GPU) allocAddress(size int64) uint64 {
	addr := g.nextAddr
	g.nextAddr += uint64((size+0xff)&^0xff) + 0x1000
	return addr
}

func (g *GPU) Limits() driver.Limits { return g.limits }

func (g *GPU) CacheIdentity() driver.CacheIdentity { return g.identity }

func (g *GPU) PipelineCache() ([]byte, error) { return g.CacheData, nil }

func (g *GPU) Submit(info driver.SubmitInfo) error {
	sub := &submission{waits: info.Wait, signals: info.Signal}
	for _, c := range info.CmdBuffers {
		cmd, ok := c.(*CmdBuffer)
		if !ok {
			return errors.AssertionFailedf("fake: foreign command buffer %T", c)
		}
		if cmd.destroyed {
			g.violate("submit of destroyed command buffer")
		}
		if cmd.state != cmdExecutable {
			return errors.Newf("fake: submit of command buffer in state %s", cmd.state)
		}
		cmd.state = cmdPending
		sub.cmds = append(sub.cmds, cmd)
	}
	if info.Fence != nil {
		fence := info.Fence.(*Fence)
		if fence.destroyed {
			g.violate("submit with destroyed fence")
		}
		if fence.signaled {
			g.violate("submit with signaled fence")
		}
		if g.fenceQueued(fence) {
			g.violate("fence submitted twice")
		}
		sub.fence = fence
	}
	g.stats.Submits++
	g.queue = append(g.queue, sub)
	if g.AutoComplete {
		g.Flush()
	}
	return nil
}

func (g *GPU) fenceQueued(fence *Fence) bool {
	for _, sub := range g.queue {
		if sub.fence == fence {
			return true
		}
	}
	return false
}

func (g *GPU) execute(sub *submission) {
	for _, wait := range sub.waits {
		sem := wait.Semaphore.(*Semaphore)
		if sem.destroyed {
			g.violate("wait on destroyed semaphore")
		}
		if sem.signals == 0 {
			g.violate("wait on semaphore that was never signaled")
			continue
		}
		sem.signals--
	}
	for _, cmd := range sub.cmds {
		for _, op := range cmd.ops {
			op()
		}
		cmd.state = cmdExecutable
	}
	if sub.present != nil {
		sub.present()
	}
	for _, s := range sub.signals {
		s.(*Semaphore).signals++
	}
	if sub.fence != nil {
		sub.fence.signaled = true
	}
}

func (g *GPU) WaitFences(timeout time.Duration, fences ...driver.Fence) error {
	for _, f := range fences {
		fence := f.(*Fence)
		if fence.destroyed {
			return errors.AssertionFailedf("fake: wait on destroyed fence")
		}
		for !fence.signaled {
			if !g.Step() {
				if timeout == driver.NoTimeout {
					return errors.AssertionFailedf("fake: fence is never signaled, wait would block forever")
				}
				return driver.ErrTimeout
			}
		}
	}
	return nil
}

func (g *GPU) ResetFences(fences ...driver.Fence) error {
	for _, f := range fences {
		fence := f.(*Fence)
		if g.fenceQueued(fence) {
			g.violate("reset of fence with pending submission")
		}
		fence.signaled = false
	}
	return nil
}

func (g *GPU) WaitIdle() error {
	g.Flush()
	return nil
}

func (g *GPU) Destroy() {
	g.Flush()
	g.destroyed = true
}

type Fence struct {
	g         *GPU
	signaled  bool
	destroyed bool
}

func (g *GPU) NewFence(signaled bool) (driver.Fence, error) {
	f := &Fence{g: g, signaled: signaled}
	g.track(f, "fence")
	return f, nil
}

func (f *Fence) Status() (bool, error) {
	if f.destroyed {
		return false, errors.AssertionFailedf("fake: status of destroyed fence")
	}
	return f.signaled, nil
}

func (f *Fence) Destroy() {
	if f.g.fenceQueued(f) {
		f.g.violate("fence destroyed while its submission is pending")
	}
	f.destroyed = true
	f.g.untrack(f, "fence")
}

type Semaphore struct {
	g         *GPU
	signals   int
	destroyed bool
}

func (g *GPU) NewSemaphore() (driver.Semaphore, error) {
	s := &Semaphore{g: g}
	g.track(s, "semaphore")
	return s, nil
}

func (s *Semaphore) Destroy() {
	s.destroyed = true
	s.g.untrack(s, "semaphore")
}
