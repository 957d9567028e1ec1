// Package accel builds ray tracing acceleration structures.
//
// Builds are submitted without blocking and every structure is compacted
// afterwards. A Structure walks through Building, Compactable, Compacting,
// Cleanable and Compacted; Compact and Cleanup advance it and are no-ops
// whenever the device did not finish the step they depend on, so callers can
// sweep many structures and only block once. The structure can only be bound
// once it reached Compacted.
package accel

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/renderer/driver"
	"github.com/vkngwrapper/renderer/internal/logger"
	"github.com/vkngwrapper/renderer/resource"
)

type State int

const (
	// Building means the build was submitted.
	Building State = iota
	// Compactable means the build completed and its compacted size is known.
	Compactable
	// Compacting means the compaction copy was submitted.
	Compacting
	// Cleanable means the compaction copy completed.
	Cleanable
	// Compacted means only the compacted structure is left.
	Compacted
)

func (s State) String() string {
	switch s {
	case Building:
		return "building"
	case Compactable:
		return "compactable"
	case Compacting:
		return "compacting"
	case Cleanable:
		return "cleanable"
	case Compacted:
		return "compacted"
	}
	return "unknown"
}

// Builder creates acceleration structures on a device that supports them.
type Builder struct {
	alloc *resource.Allocator
	gpu   driver.GPU
	rt    driver.RayTracer
}

func NewBuilder(alloc *resource.Allocator) (*Builder, error) {
	rt, ok := alloc.GPU().(driver.RayTracer)
	if !ok {
		return nil, errors.Wrap(driver.ErrUnsupported, "acceleration structures")
	}
	return &Builder{alloc: alloc, gpu: alloc.GPU(), rt: rt}, nil
}

type Structure struct {
	b     *Builder
	kind  driver.AccelKind
	state State

	scratch   driver.Buffer
	instances driver.Buffer
	query     driver.QueryPool

	buildBuf   driver.Buffer
	build      driver.Accel
	buildCmd   driver.CmdBuffer
	buildFence driver.Fence

	compactBuf   driver.Buffer
	compact      driver.Accel
	compactCmd   driver.CmdBuffer
	compactFence driver.Fence

	// inFlight is the fence of the submitted work not known to be complete.
	inFlight driver.Fence
}

func (s *Structure) Kind() driver.AccelKind { return s.kind }

func (s *Structure) State() State { return s.state }

// build allocates the structure and its scratch memory, then submits the
// build together with the compacted size query. The query is recorded in the
// same command buffer as the build so its result is available once the build
// fence signals. The structure takes ownership of instances.
func (b *Builder) build(kind driver.AccelKind, geometries []driver.AccelGeometry, instances driver.Buffer, wait bool) (*Structure, error) {
	sizes, err := b.rt.AccelBuildSizes(kind, geometries)
	if err != nil {
		if instances != nil {
			instances.Destroy()
		}
		return nil, errors.Wrapf(err, "query %s build sizes", kind)
	}

	s := &Structure{b: b, kind: kind, instances: instances}
	if err := s.allocateBuild(sizes); err != nil {
		s.Destroy()
		return nil, err
	}

	align := max(b.gpu.Limits().ScratchOffsetAlignment, 1)
	scratchAddr := b.rt.BufferAddress(s.scratch)
	scratchAddr = (scratchAddr + uint64(align) - 1) / uint64(align) * uint64(align)

	cmd := s.buildCmd
	if err := cmd.Begin(); err != nil {
		s.Destroy()
		return nil, errors.Wrap(err, "begin build command buffer")
	}
	b.rt.CmdResetQueries(cmd, s.query, 0, 1)
	b.rt.CmdBuildAccel(cmd, driver.AccelBuild{
		Kind:            kind,
		Dst:             s.build,
		Geometries:      geometries,
		ScratchAddress:  scratchAddr,
		AllowCompaction: true,
		PreferFastTrace: true,
	})
	cmd.Barrier(driver.StageAccelBuild, driver.StageAccelBuild, []driver.BufferBarrier{{
		Buffer:    s.buildBuf,
		SrcAccess: driver.AccessAccelWrite,
		DstAccess: driver.AccessAccelRead,
	}}, nil)
	b.rt.CmdWriteCompactedSize(cmd, s.build, s.query, 0)
	if err := cmd.End(); err != nil {
		s.Destroy()
		return nil, errors.Wrap(err, "end build command buffer")
	}
	if err := b.gpu.Submit(driver.SubmitInfo{CmdBuffers: []driver.CmdBuffer{cmd}, Fence: s.buildFence}); err != nil {
		s.Destroy()
		return nil, errors.Wrapf(err, "submit %s build", kind)
	}
	s.state = Building
	s.inFlight = s.buildFence
	logger.Logger().Debug("acceleration structure build submitted", "kind", kind.String(),
		"size", sizes.AccelSize, "scratch", sizes.ScratchSize)

	if wait {
		if _, err := s.signaled(s.buildFence, true); err != nil {
			s.Destroy()
			return nil, err
		}
		s.transition(Compactable)
	}
	return s, nil
}

func (s *Structure) allocateBuild(sizes driver.AccelSizes) error {
	b := s.b
	var err error
	s.buildBuf, err = b.alloc.CreateBuffer(driver.BufferInfo{
		Size:  sizes.AccelSize,
		Usage: driver.BufferAccelStorage | driver.BufferDeviceAddress,
	})
	if err != nil {
		return err
	}
	s.build, err = b.rt.NewAccel(s.kind, s.buildBuf)
	if err != nil {
		return errors.Wrapf(err, "create %s", s.kind)
	}
	s.scratch, err = b.alloc.CreateBuffer(driver.BufferInfo{
		Size:  sizes.ScratchSize + max(b.gpu.Limits().ScratchOffsetAlignment, 1),
		Usage: driver.BufferStorage | driver.BufferDeviceAddress,
	})
	if err != nil {
		return err
	}
	s.query, err = b.rt.NewQueryPool(1)
	if err != nil {
		return errors.Wrap(err, "create compacted size query pool")
	}
	s.buildCmd, err = b.gpu.NewCmdBuffer()
	if err != nil {
		return errors.Wrap(err, "allocate build command buffer")
	}
	s.buildFence, err = b.gpu.NewFence(false)
	if err != nil {
		return errors.Wrap(err, "create build fence")
	}
	return nil
}

func (s *Structure) signaled(fence driver.Fence, wait bool) (bool, error) {
	if wait {
		if err := s.b.gpu.WaitFences(driver.NoTimeout, fence); err != nil {
			return false, errors.Wrapf(err, "wait for %s", s.kind)
		}
		return true, nil
	}
	ok, err := fence.Status()
	if err != nil {
		return false, errors.Wrapf(err, "query %s fence", s.kind)
	}
	return ok, nil
}

// Compact starts the compaction copy once the build completed. Before that it
// does nothing unless wait is set, in which case it blocks on the build
// first. Calls after the copy was submitted do nothing.
func (s *Structure) Compact(wait bool) error {
	switch s.state {
	case Building:
		done, err := s.signaled(s.buildFence, wait)
		if err != nil || !done {
			return err
		}
		s.transition(Compactable)
		fallthrough
	case Compactable:
		return s.startCompaction()
	}
	return nil
}

// startCompaction submits the copy into a structure of the compacted size.
// The build side is only freed once the copy was submitted, so a failure
// leaves the structure Compactable and the call can be repeated.
func (s *Structure) startCompaction() error {
	size, err := s.query.Result(0)
	if err != nil {
		return errors.Wrapf(err, "read %s compacted size", s.kind)
	}
	if size == 0 {
		return errors.AssertionFailedf("accel: %s reported a compacted size of 0", s.kind)
	}
	if err := s.submitCompaction(int64(size)); err != nil {
		s.releaseCompaction()
		return err
	}

	s.scratch.Destroy()
	s.scratch = nil
	if s.instances != nil {
		s.instances.Destroy()
		s.instances = nil
	}
	s.query.Destroy()
	s.query = nil
	s.buildCmd.Destroy()
	s.buildCmd = nil
	s.buildFence.Destroy()
	s.buildFence = nil

	s.inFlight = s.compactFence
	logger.Logger().Debug("acceleration structure compaction submitted", "kind", s.kind.String(),
		"from", s.buildBuf.Size(), "to", size)
	s.transition(Compacting)
	return nil
}

func (s *Structure) submitCompaction(size int64) error {
	b := s.b
	var err error
	s.compactBuf, err = b.alloc.CreateBuffer(driver.BufferInfo{
		Size:  size,
		Usage: driver.BufferAccelStorage | driver.BufferDeviceAddress,
	})
	if err != nil {
		return err
	}
	s.compact, err = b.rt.NewAccel(s.kind, s.compactBuf)
	if err != nil {
		return errors.Wrapf(err, "create compacted %s", s.kind)
	}
	s.compactCmd, err = b.gpu.NewCmdBuffer()
	if err != nil {
		return errors.Wrap(err, "allocate compaction command buffer")
	}
	s.compactFence, err = b.gpu.NewFence(false)
	if err != nil {
		return errors.Wrap(err, "create compaction fence")
	}

	cmd := s.compactCmd
	if err := cmd.Begin(); err != nil {
		return errors.Wrap(err, "begin compaction command buffer")
	}
	b.rt.CmdCopyAccel(cmd, s.build, s.compact, true)
	if err := cmd.End(); err != nil {
		return errors.Wrap(err, "end compaction command buffer")
	}
	if err := b.gpu.Submit(driver.SubmitInfo{CmdBuffers: []driver.CmdBuffer{cmd}, Fence: s.compactFence}); err != nil {
		return errors.Wrapf(err, "submit %s compaction", s.kind)
	}
	return nil
}

// releaseCompaction frees whatever a failed submitCompaction allocated.
func (s *Structure) releaseCompaction() {
	if s.compactFence != nil {
		s.compactFence.Destroy()
		s.compactFence = nil
	}
	if s.compactCmd != nil {
		s.compactCmd.Destroy()
		s.compactCmd = nil
	}
	if s.compact != nil {
		s.compact.Destroy()
		s.compact = nil
	}
	if s.compactBuf != nil {
		s.compactBuf.Destroy()
		s.compactBuf = nil
	}
}

// Cleanup frees the full size structure once the compaction copy completed.
// It does nothing before Compact submitted the copy, and nothing until the
// copy completed unless wait is set.
func (s *Structure) Cleanup(wait bool) error {
	switch s.state {
	case Compacting:
		done, err := s.signaled(s.compactFence, wait)
		if err != nil || !done {
			return err
		}
		s.transition(Cleanable)
		fallthrough
	case Cleanable:
		s.build.Destroy()
		s.build = nil
		s.buildBuf.Destroy()
		s.buildBuf = nil
		s.compactCmd.Destroy()
		s.compactCmd = nil
		s.compactFence.Destroy()
		s.compactFence = nil
		s.transition(Compacted)
	}
	return nil
}

func (s *Structure) transition(to State) {
	if to == Compactable || to == Cleanable {
		s.inFlight = nil
	}
	logger.Logger().Debug("acceleration structure state", "kind", s.kind.String(), "from", s.state.String(), "to", to.String())
	s.state = to
}

// Accel returns the compacted structure. Calling it before the structure
// reached Compacted is a programming error.
func (s *Structure) Accel() (driver.Accel, error) {
	if s.state != Compacted {
		return nil, errors.AssertionFailedf("accel: %s used while %s", s.kind, s.state)
	}
	return s.compact, nil
}

// Address returns the device address of the compacted structure.
func (s *Structure) Address() (uint64, error) {
	a, err := s.Accel()
	if err != nil {
		return 0, err
	}
	return a.Address(), nil
}

// Finalize compacts and cleans up every structure, blocking where needed.
// Compaction is started for every finished build before the first wait, and
// a wait usually finds the structures submitted before it complete too.
func Finalize(structures ...*Structure) error {
	for _, s := range structures {
		if err := s.Compact(false); err != nil {
			return err
		}
	}
	for _, s := range structures {
		if err := s.Compact(true); err != nil {
			return err
		}
	}
	for _, s := range structures {
		if err := s.Cleanup(true); err != nil {
			return err
		}
	}
	return nil
}

// Destroy waits for outstanding build or compaction work of the structure and
// frees everything it still owns. The caller must make sure no frame still
// traces against it.
func (s *Structure) Destroy() {
	if s.inFlight != nil {
		if err := s.b.gpu.WaitFences(driver.NoTimeout, s.inFlight); err != nil {
			logger.Logger().Error("acceleration structure work never completed", "kind", s.kind.String(), "err", err)
		}
	}
	for _, fence := range []driver.Fence{s.buildFence, s.compactFence} {
		if fence != nil {
			fence.Destroy()
		}
	}
	if s.compact != nil {
		s.compact.Destroy()
	}
	if s.build != nil {
		s.build.Destroy()
	}
	for _, cmd := range []driver.CmdBuffer{s.buildCmd, s.compactCmd} {
		if cmd != nil {
			cmd.Destroy()
		}
	}
	if s.query != nil {
		s.query.Destroy()
	}
	for _, buf := range []driver.Buffer{s.scratch, s.instances, s.buildBuf, s.compactBuf} {
		if buf != nil {
			buf.Destroy()
		}
	}
	*s = Structure{b: s.b, kind: s.kind, state: s.state}
}
