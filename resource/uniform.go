package resource

import (
	"bytes"
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/renderer/driver"
)

// UniformBuffer keeps a host copy of a uniform block and uploads it on
// demand. Host visible buffers are written in place, device local ones are
// refreshed through a staging copy submitted ahead of the frame that reads
// them.
type UniformBuffer struct {
	alloc  *Allocator
	buf    driver.Buffer
	shadow []byte
	dirty  bool
}

func (a *Allocator) CreateUniformBuffer(size int64, visible bool) (*UniformBuffer, error) {
	usage := driver.BufferUniform
	if !visible {
		usage |= driver.BufferTransferDst
	}
	buf, err := a.CreateBuffer(driver.BufferInfo{Size: size, Usage: usage, Visible: visible})
	if err != nil {
		return nil, err
	}
	return &UniformBuffer{alloc: a, buf: buf, shadow: make([]byte, size)}, nil
}

func (u *UniformBuffer) Buffer() driver.Buffer { return u.buf }

func (u *UniformBuffer) Size() int64 { return int64(len(u.shadow)) }

// Bytes returns the host copy. Changes made through it are only uploaded
// after MarkDirty.
func (u *UniformBuffer) Bytes() []byte { return u.shadow }

func (u *UniformBuffer) MarkDirty() { u.dirty = true }

func (u *UniformBuffer) Dirty() bool { return u.dirty }

func (u *UniformBuffer) Write(offset int64, data []byte) error {
	if offset < 0 || offset+int64(len(data)) > int64(len(u.shadow)) {
		return errors.Newf("resource: write of %d bytes at %d into uniform buffer of %d bytes",
			len(data), offset, len(u.shadow))
	}
	copy(u.shadow[offset:], data)
	u.dirty = true
	return nil
}

// Encode writes the little endian encoding of v at the start of the buffer.
// v must be a fixed size value accepted by encoding/binary.
func (u *UniformBuffer) Encode(v any) error {
	var b bytes.Buffer
	if err := binary.Write(&b, binary.LittleEndian, v); err != nil {
		return errors.Wrap(err, "encode uniform data")
	}
	return u.Write(0, b.Bytes())
}

// Upload makes the host copy visible to the device if it changed since the
// last upload.
func (u *UniformBuffer) Upload() error {
	if !u.dirty {
		return nil
	}
	if u.buf.Visible() {
		copy(u.buf.Bytes(), u.shadow)
		if err := u.buf.Flush(0, u.buf.Size()); err != nil {
			return errors.Wrap(err, "flush uniform buffer")
		}
		u.dirty = false
		return nil
	}

	staging, err := u.alloc.CreateStagingBuffer(u.Size())
	if err != nil {
		return err
	}
	copy(staging.Bytes(), u.shadow)
	cmd := staging.Cmd()
	cmd.CopyBuffer(staging.Buffer(), u.buf, driver.BufferCopy{Size: u.Size()})
	cmd.Barrier(driver.StageTransfer, driver.StageAllCommands, []driver.BufferBarrier{{
		Buffer:    u.buf,
		SrcAccess: driver.AccessTransferWrite,
		DstAccess: driver.AccessUniformRead,
	}}, nil)
	if err := staging.Submit(); err != nil {
		return err
	}
	u.dirty = false
	return nil
}

func (u *UniformBuffer) Destroy() {
	u.buf.Destroy()
}
