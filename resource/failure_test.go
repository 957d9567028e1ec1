package resource

import (
	"bytes"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/renderer/driver"
	"github.com/vkngwrapper/renderer/driver/fake"
)

var errRead = errors.New("payload source went away")

func newFaultyAllocator(t *testing.T, opts Options) (*fake.Faults, *Allocator) {
	t.Helper()
	f := fake.NewFaults(fake.New())
	a, err := NewAllocator(f, opts)
	if err != nil {
		t.Fatalf("NewAllocator: %+v", err)
	}
	t.Cleanup(func() {
		if v := f.Violations(); len(v) != 0 {
			t.Errorf("device violations: %v", v)
		}
	})
	return f, a
}

// failAt returns a reader over data that fails for the chunk at offset.
func failAt(data []byte, offset int64) ReadFunc {
	read := BytesReader(data)
	return func(off int64, dst []byte) error {
		if off == offset {
			return errRead
		}
		return read(off, dst)
	}
}

func TestUploaderReusableAfterReadError(t *testing.T) {
	g, a := newAllocator(t, Options{})
	up, err := NewUploader(a, 16)
	if err != nil {
		t.Fatal(err)
	}
	dst, err := a.CreateBuffer(driver.BufferInfo{Size: 64, Usage: driver.BufferTransferDst | driver.BufferVertex})
	if err != nil {
		t.Fatal(err)
	}
	data := payload(64)

	for _, offset := range []int64{0, 16, 32} {
		err := up.Upload(dst, 64, failAt(data, offset), vertexTarget)
		if !errors.Is(err, errRead) {
			t.Fatalf("failing chunk at %d: err = %v, want the read error", offset, err)
		}
		if err := up.Upload(dst, 64, BytesReader(data), vertexTarget); err != nil {
			t.Fatalf("upload after failing chunk at %d: %+v", offset, err)
		}
		if got := dst.(*fake.Buffer).Contents(); !bytes.Equal(got, data) {
			t.Errorf("after failing chunk at %d: destination differs from payload", offset)
		}
	}

	// A failed upload leaves slots without a submission, Destroy must not wait
	// on them.
	if err := up.Upload(dst, 64, failAt(data, 0), vertexTarget); err == nil {
		t.Fatal("failing read accepted")
	}
	up.Destroy()
	dst.Destroy()
	if g.Pending() != 0 {
		t.Errorf("%d submissions queued after Destroy", g.Pending())
	}
	if g.Live() != 0 {
		t.Errorf("live objects %v", g.LiveKinds())
	}
}

func TestUploadBufferReadError(t *testing.T) {
	tests := []struct {
		name   string
		size   int64
		offset int64
	}{
		{"immediate", 12, 0},
		{"first chunk", 40, 0},
		{"later chunk", 40, 16},
		{"last chunk", 40, 32},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, a := newAllocator(t, Options{StagingWindow: 8, ImmediateUploadLimit: 16})
			buf, err := a.UploadBuffer(driver.BufferInfo{Size: tt.size, Usage: driver.BufferVertex},
				failAt(payload(tt.size), tt.offset), vertexTarget)
			if !errors.Is(err, errRead) {
				t.Fatalf("err = %v, want the read error", err)
			}
			if buf != nil {
				t.Error("buffer returned with error")
			}
			if err := a.Destroy(); err != nil {
				t.Fatalf("Destroy: %+v", err)
			}
			if g.Live() != 0 {
				t.Errorf("live objects %v", g.LiveKinds())
			}
		})
	}
}

func TestUploadEmptyPayload(t *testing.T) {
	g, a := newAllocator(t, Options{})
	if _, err := a.UploadBytes(driver.BufferInfo{Usage: driver.BufferVertex}, nil, vertexTarget); err == nil {
		t.Error("empty payload accepted")
	}
	if _, err := a.UploadBuffer(driver.BufferInfo{Usage: driver.BufferVertex}, BytesReader(nil), vertexTarget); err == nil {
		t.Error("zero size upload accepted")
	}
	if g.Live() != 0 || g.Stats().Submits != 0 {
		t.Errorf("empty upload touched the device: live %v, %d submits", g.LiveKinds(), g.Stats().Submits)
	}
}

func TestAllocatorDestroyReportsWaitError(t *testing.T) {
	f, a := newFaultyAllocator(t, Options{})
	s, err := a.CreateStagingBuffer(32)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Submit(); err != nil {
		t.Fatal(err)
	}
	f.FailWaits = true
	if err := a.Destroy(); !errors.Is(err, driver.ErrDeviceLost) {
		t.Errorf("Destroy = %v, want device lost", err)
	}
}

func TestUploadImageWaitError(t *testing.T) {
	f, a := newFaultyAllocator(t, Options{})
	f.FailWaits = true
	img, err := a.UploadImage(driver.ImageInfo{
		Format: driver.FormatR8G8B8A8Unorm,
		Extent: driver.Extent3D{Width: 2, Height: 2, Depth: 1},
	}, payload(2*2*4), driver.StageFragmentShader)
	if !errors.Is(err, driver.ErrDeviceLost) {
		t.Fatalf("UploadImage = %v, want device lost", err)
	}
	if img != nil {
		t.Error("image returned with error")
	}
	kinds := f.LiveKinds()
	if kinds["image"] != 0 || kinds["image view"] != 0 {
		t.Errorf("image leaked: live %v", kinds)
	}
}

func TestUploadBufferAllocationError(t *testing.T) {
	f, a := newFaultyAllocator(t, Options{StagingWindow: 8, ImmediateUploadLimit: 16})
	// The destination succeeds, the staging buffer does not.
	f.Buffers = 1
	if _, err := a.UploadBytes(driver.BufferInfo{Usage: driver.BufferVertex}, payload(12), vertexTarget); !errors.Is(err, driver.ErrDeviceLost) {
		t.Fatalf("UploadBytes = %v, want device lost", err)
	}
	if f.Live() != 0 {
		t.Errorf("live objects %v", f.LiveKinds())
	}
}
