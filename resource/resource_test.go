package resource

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/vkngwrapper/renderer/driver"
	"github.com/vkngwrapper/renderer/driver/fake"
)

func newAllocator(t *testing.T, opts Options) (*fake.GPU, *Allocator) {
	t.Helper()
	g := fake.New()
	a, err := NewAllocator(g, opts)
	if err != nil {
		t.Fatalf("NewAllocator: %+v", err)
	}
	t.Cleanup(func() {
		if v := g.Violations(); len(v) != 0 {
			t.Errorf("device violations: %v", v)
		}
	})
	return g, a
}

func payload(n int64) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*7 + 3)
	}
	return data
}

var vertexTarget = Target{Stage: driver.StageVertexInput, Access: driver.AccessVertexAttributeRead}

func TestStagingBufferPendingOnce(t *testing.T) {
	_, a := newAllocator(t, Options{})

	s, err := a.CreateStagingBuffer(16)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Submit(); err != nil {
		t.Fatalf("Submit: %+v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close after Submit: %+v", err)
	}
	if err := s.Submit(); err == nil {
		t.Error("second Submit succeeded")
	}
	if got := a.Pending(); got != 1 {
		t.Errorf("pending = %d, want 1", got)
	}
}

func TestStagingBufferCloseWithoutSubmit(t *testing.T) {
	_, a := newAllocator(t, Options{})

	s, err := a.CreateStagingBuffer(16)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %+v", err)
	}
	if got := a.Pending(); got != 1 {
		t.Errorf("pending = %d, want 1", got)
	}
	if err := s.Wait(); err != nil {
		t.Errorf("Wait: %+v", err)
	}
}

func TestCleanupKeepsUnsignaled(t *testing.T) {
	g, a := newAllocator(t, Options{})

	first, _ := a.CreateStagingBuffer(16)
	second, _ := a.CreateStagingBuffer(16)
	first.Submit()
	second.Submit()

	if err := a.CleanupStagingBuffers(); err != nil {
		t.Fatal(err)
	}
	if got := a.Pending(); got != 2 {
		t.Fatalf("pending after cleanup with nothing executed = %d, want 2", got)
	}

	g.Step()
	if err := a.CleanupStagingBuffers(); err != nil {
		t.Fatal(err)
	}
	if got := a.Pending(); got != 1 {
		t.Fatalf("pending after one submission executed = %d, want 1", got)
	}
	if !first.Buffer().(*fake.Buffer).Destroyed() {
		t.Error("retired staging buffer was not destroyed")
	}
	if second.Buffer().(*fake.Buffer).Destroyed() {
		t.Error("staging buffer destroyed before its fence signaled")
	}
}

func TestCreateStagingBufferSweepsRetired(t *testing.T) {
	g, a := newAllocator(t, Options{})

	s, _ := a.CreateStagingBuffer(16)
	s.Submit()
	g.Flush()
	if _, err := a.CreateStagingBuffer(16); err != nil {
		t.Fatal(err)
	}
	if got := a.Pending(); got != 0 {
		t.Errorf("pending = %d, want 0", got)
	}
}

func TestAllocatorDestroyDrains(t *testing.T) {
	g, a := newAllocator(t, Options{})

	for i := 0; i < 3; i++ {
		s, err := a.CreateStagingBuffer(32)
		if err != nil {
			t.Fatal(err)
		}
		if err := s.Submit(); err != nil {
			t.Fatal(err)
		}
	}
	if err := a.Destroy(); err != nil {
		t.Fatalf("Destroy: %+v", err)
	}
	if a.Pending() != 0 {
		t.Errorf("pending = %d after Destroy", a.Pending())
	}
	if g.Pending() != 0 {
		t.Errorf("%d submissions still queued after Destroy", g.Pending())
	}
	if g.Live() != 0 {
		t.Errorf("live objects after Destroy: %v", g.LiveKinds())
	}
}

func TestChunkedUploadRoundTrip(t *testing.T) {
	const window = 64
	for _, size := range []int64{0, 1, window - 1, window, window + 1, 3*window + 7} {
		g, a := newAllocator(t, Options{})
		up, err := NewUploader(a, window)
		if err != nil {
			t.Fatal(err)
		}
		dst, err := a.CreateBuffer(driver.BufferInfo{Size: max(size, 1), Usage: driver.BufferTransferDst | driver.BufferVertex})
		if err != nil {
			t.Fatal(err)
		}
		data := payload(size)
		if err := up.Upload(dst, size, BytesReader(data), vertexTarget); err != nil {
			t.Fatalf("size %d: Upload: %+v", size, err)
		}

		if got := dst.(*fake.Buffer).Contents()[:size]; !bytes.Equal(got, data) {
			t.Errorf("size %d: destination differs from payload", size)
		}
		stats := g.Stats()
		if want := int((size + window - 1) / window); len(stats.Copies) != want {
			t.Errorf("size %d: %d copies, want %d", size, len(stats.Copies), want)
		}
		barriers := len(stats.Barriers)
		if size == 0 && barriers != 0 || size > 0 && barriers != 1 {
			t.Errorf("size %d: %d barriers", size, barriers)
		}
		if g.Pending() != 0 {
			t.Errorf("size %d: Upload returned with %d submissions queued", size, g.Pending())
		}
		up.Destroy()
		dst.Destroy()
		if g.Live() != 0 {
			t.Errorf("size %d: live objects %v", size, g.LiveKinds())
		}
	}
}

func TestChunkedUploadTenBytes(t *testing.T) {
	g, a := newAllocator(t, Options{})
	up, err := NewUploader(a, 4)
	if err != nil {
		t.Fatal(err)
	}
	defer up.Destroy()
	dst, _ := a.CreateBuffer(driver.BufferInfo{Size: 10, Usage: driver.BufferTransferDst | driver.BufferStorage})

	data := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	target := Target{Stage: driver.StageComputeShader, Access: driver.AccessShaderRead}
	if err := up.Upload(dst, int64(len(data)), BytesReader(data), target); err != nil {
		t.Fatalf("Upload: %+v", err)
	}

	stats := g.Stats()
	if stats.Submits != 3 {
		t.Errorf("submits = %d, want 3", stats.Submits)
	}
	want := []int64{4, 4, 2}
	if len(stats.Copies) != len(want) {
		t.Fatalf("copies = %v, want %v", stats.Copies, want)
	}
	for i := range want {
		if stats.Copies[i] != want[i] {
			t.Errorf("copies = %v, want %v", stats.Copies, want)
			break
		}
	}
	if got := dst.(*fake.Buffer).Contents(); !bytes.Equal(got, data) {
		t.Errorf("destination = %v", got)
	}
	if len(stats.Barriers) != 1 {
		t.Fatalf("barriers = %d, want 1", len(stats.Barriers))
	}
	b := stats.Barriers[0]
	if b.Dst != target.Stage || len(b.Buffers) != 1 || b.Buffers[0].DstAccess != target.Access {
		t.Errorf("final barrier = %+v", b)
	}
}

func TestUploadBufferPaths(t *testing.T) {
	g, a := newAllocator(t, Options{StagingWindow: 8, ImmediateUploadLimit: 16})

	small := payload(12)
	buf, err := a.UploadBytes(driver.BufferInfo{Usage: driver.BufferIndex}, small, vertexTarget)
	if err != nil {
		t.Fatalf("immediate upload: %+v", err)
	}
	if got := buf.(*fake.Buffer).Contents(); !bytes.Equal(got, small) {
		t.Errorf("immediate upload contents = %v", got)
	}
	if g.Stats().Submits != 1 || a.Pending() != 0 {
		t.Errorf("immediate upload: %d submits, %d pending", g.Stats().Submits, a.Pending())
	}

	large := payload(40)
	buf2, err := a.UploadBytes(driver.BufferInfo{Usage: driver.BufferVertex}, large, vertexTarget)
	if err != nil {
		t.Fatalf("chunked upload: %+v", err)
	}
	if got := buf2.(*fake.Buffer).Contents(); !bytes.Equal(got, large) {
		t.Errorf("chunked upload contents = %v", got)
	}
	if got := g.Stats().Submits; got != 6 {
		t.Errorf("submits = %d, want 1 immediate and 5 chunks", got)
	}
	if buf2.Usage()&driver.BufferTransferDst == 0 {
		t.Error("uploaded buffer lacks transfer destination usage")
	}

	buf.Destroy()
	buf2.Destroy()
	if g.Live() != 0 {
		t.Errorf("live objects %v", g.LiveKinds())
	}
}

func TestZeroedBuffer(t *testing.T) {
	g, a := newAllocator(t, Options{})
	buf, err := a.CreateZeroedBuffer(driver.BufferInfo{Size: 64, Usage: driver.BufferStorage},
		Target{Stage: driver.StageComputeShader, Access: driver.AccessShaderRead | driver.AccessShaderWrite})
	if err != nil {
		t.Fatalf("CreateZeroedBuffer: %+v", err)
	}
	defer buf.Destroy()
	if g.Stats().Fills != 1 {
		t.Errorf("fills = %d, want 1", g.Stats().Fills)
	}
	if g.Pending() != 0 {
		t.Error("CreateZeroedBuffer returned before the fill completed")
	}
}

func TestUploadImage(t *testing.T) {
	g, a := newAllocator(t, Options{})
	texels := payload(4 * 4 * 4)
	img, err := a.UploadImage(driver.ImageInfo{
		Format: driver.FormatR8G8B8A8Unorm,
		Extent: driver.Extent3D{Width: 4, Height: 4, Depth: 1},
	}, texels, driver.StageFragmentShader)
	if err != nil {
		t.Fatalf("UploadImage: %+v", err)
	}
	if got := img.Image.(*fake.Image).Contents(); !bytes.Equal(got, texels) {
		t.Error("image contents differ from texels")
	}
	if len(g.Stats().Barriers) != 2 {
		t.Errorf("barriers = %d, want 2 layout transitions", len(g.Stats().Barriers))
	}
	img.Destroy()

	if _, err := a.UploadImage(driver.ImageInfo{
		Format: driver.FormatR8G8B8A8Unorm,
		Extent: driver.Extent3D{Width: 4, Height: 4},
	}, texels[:7], driver.StageFragmentShader); err == nil {
		t.Error("texel size mismatch accepted")
	}
}

type cameraBlock struct {
	Exposure float32
	Frame    uint32
}

func TestUniformBufferUpload(t *testing.T) {
	want := make([]byte, 8)
	binary.LittleEndian.PutUint32(want, math.Float32bits(1.5))
	binary.LittleEndian.PutUint32(want[4:], 7)

	t.Run("host visible", func(t *testing.T) {
		g, a := newAllocator(t, Options{})
		u, err := a.CreateUniformBuffer(8, true)
		if err != nil {
			t.Fatal(err)
		}
		defer u.Destroy()
		if err := u.Encode(cameraBlock{Exposure: 1.5, Frame: 7}); err != nil {
			t.Fatal(err)
		}
		if err := u.Upload(); err != nil {
			t.Fatal(err)
		}
		if got := u.Buffer().Bytes(); !bytes.Equal(got, want) {
			t.Errorf("mapped contents = %v, want %v", got, want)
		}
		if g.Stats().Flushes != 1 || g.Stats().Submits != 0 {
			t.Errorf("stats = %+v", g.Stats())
		}
	})

	t.Run("device local", func(t *testing.T) {
		g, a := newAllocator(t, Options{})
		u, err := a.CreateUniformBuffer(8, false)
		if err != nil {
			t.Fatal(err)
		}
		defer u.Destroy()
		if err := u.Encode(cameraBlock{Exposure: 1.5, Frame: 7}); err != nil {
			t.Fatal(err)
		}
		if err := u.Upload(); err != nil {
			t.Fatal(err)
		}
		if err := u.Upload(); err != nil {
			t.Fatal(err)
		}
		if a.Pending() != 1 {
			t.Errorf("pending = %d, want a single staging copy", a.Pending())
		}
		g.Flush()
		if got := u.Buffer().(*fake.Buffer).Contents(); !bytes.Equal(got, want) {
			t.Errorf("device contents = %v, want %v", got, want)
		}
		if err := a.Destroy(); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("out of range", func(t *testing.T) {
		_, a := newAllocator(t, Options{})
		u, _ := a.CreateUniformBuffer(8, true)
		defer u.Destroy()
		if err := u.Write(4, make([]byte, 8)); err == nil {
			t.Error("write past the end accepted")
		}
	})
}
