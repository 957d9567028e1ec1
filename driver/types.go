package driver

import "github.com/google/uuid"

// Enumerations carry the numeric values of the matching Vulkan enums.

type Stage uint32

const (
	StageTopOfPipe             Stage = 0x00000001
	StageDrawIndirect          Stage = 0x00000002
	StageVertexInput           Stage = 0x00000004
	StageVertexShader          Stage = 0x00000008
	StageFragmentShader        Stage = 0x00000080
	StageEarlyFragmentTests    Stage = 0x00000100
	StageLateFragmentTests     Stage = 0x00000200
	StageColorAttachmentOutput Stage = 0x00000400
	StageComputeShader         Stage = 0x00000800
	StageTransfer              Stage = 0x00001000
	StageBottomOfPipe          Stage = 0x00002000
	StageHost                  Stage = 0x00004000
	StageAllGraphics           Stage = 0x00008000
	StageAllCommands           Stage = 0x00010000
	StageRayTracingShader      Stage = 0x00200000
	StageAccelBuild            Stage = 0x02000000
)

type Access uint32

const (
	AccessIndirectCommandRead  Access = 0x00000001
	AccessIndexRead            Access = 0x00000002
	AccessVertexAttributeRead  Access = 0x00000004
	AccessUniformRead          Access = 0x00000008
	AccessShaderRead           Access = 0x00000020
	AccessShaderWrite          Access = 0x00000040
	AccessColorAttachmentRead  Access = 0x00000080
	AccessColorAttachmentWrite Access = 0x00000100
	AccessTransferRead         Access = 0x00000800
	AccessTransferWrite        Access = 0x00001000
	AccessHostRead             Access = 0x00002000
	AccessHostWrite            Access = 0x00004000
	AccessMemoryRead           Access = 0x00008000
	AccessMemoryWrite          Access = 0x00010000
	AccessAccelRead            Access = 0x00200000
	AccessAccelWrite           Access = 0x00400000
)

type BufferUsage uint32

const (
	BufferTransferSrc     BufferUsage = 0x00000001
	BufferTransferDst     BufferUsage = 0x00000002
	BufferUniform         BufferUsage = 0x00000010
	BufferStorage         BufferUsage = 0x00000020
	BufferIndex           BufferUsage = 0x00000040
	BufferVertex          BufferUsage = 0x00000080
	BufferIndirect        BufferUsage = 0x00000100
	BufferDeviceAddress   BufferUsage = 0x00020000
	BufferAccelBuildInput BufferUsage = 0x00080000
	BufferAccelStorage    BufferUsage = 0x00100000
)

type ImageUsage uint32

const (
	ImageTransferSrc     ImageUsage = 0x00000001
	ImageTransferDst     ImageUsage = 0x00000002
	ImageSampled         ImageUsage = 0x00000004
	ImageStorage         ImageUsage = 0x00000008
	ImageColorAttachment ImageUsage = 0x00000010
	ImageDepthStencil    ImageUsage = 0x00000020
)

type Layout int32

const (
	LayoutUndefined              Layout = 0
	LayoutGeneral                Layout = 1
	LayoutColorAttachment        Layout = 2
	LayoutDepthStencilAttachment Layout = 3
	LayoutShaderReadOnly         Layout = 5
	LayoutTransferSrc            Layout = 6
	LayoutTransferDst            Layout = 7
	LayoutPresentSrc             Layout = 1000001002
)

type Format int32

const (
	FormatUndefined          Format = 0
	FormatR8G8B8A8Unorm      Format = 37
	FormatR8G8B8A8SRGB       Format = 43
	FormatB8G8R8A8Unorm      Format = 44
	FormatB8G8R8A8SRGB       Format = 50
	FormatR16G16B16A16Sfloat Format = 97
	FormatR32Sfloat          Format = 100
	FormatR32G32Sfloat       Format = 103
	FormatR32G32B32Sfloat    Format = 106
	FormatR32G32B32A32Sfloat Format = 109
	FormatD32Sfloat          Format = 126
	FormatD24UnormS8Uint     Format = 129
	FormatD32SfloatS8Uint    Format = 130
)

// Size returns the size in bytes of one texel or vertex attribute of the
// format, or 0 for formats this package does not describe.
func (f Format) Size() int {
	switch f {
	case FormatR8G8B8A8Unorm, FormatR8G8B8A8SRGB, FormatB8G8R8A8Unorm, FormatB8G8R8A8SRGB,
		FormatR32Sfloat, FormatD32Sfloat, FormatD24UnormS8Uint:
		return 4
	case FormatR16G16B16A16Sfloat, FormatR32G32Sfloat, FormatD32SfloatS8Uint:
		return 8
	case FormatR32G32B32Sfloat:
		return 12
	case FormatR32G32B32A32Sfloat:
		return 16
	}
	return 0
}

type Aspect uint32

const (
	AspectColor   Aspect = 0x1
	AspectDepth   Aspect = 0x2
	AspectStencil Aspect = 0x4
)

type DescType int32

const (
	DescSampler              DescType = 0
	DescCombinedImageSampler DescType = 1
	DescSampledImage         DescType = 2
	DescStorageImage         DescType = 3
	DescUniformBuffer        DescType = 6
	DescStorageBuffer        DescType = 7
	DescAccel                DescType = 1000150000
)

type ShaderStage uint32

const (
	ShaderVertex      ShaderStage = 0x00000001
	ShaderFragment    ShaderStage = 0x00000010
	ShaderCompute     ShaderStage = 0x00000020
	ShaderRaygen      ShaderStage = 0x00000100
	ShaderAnyHit      ShaderStage = 0x00000200
	ShaderClosestHit  ShaderStage = 0x00000400
	ShaderMiss        ShaderStage = 0x00000800
	ShaderAllGraphics ShaderStage = 0x0000001F
)

type IndexType int32

const (
	IndexUint16 IndexType = 0
	IndexUint32 IndexType = 1
	IndexNone   IndexType = 1000165000
)

// Size returns the size in bytes of one index.
func (t IndexType) Size() int {
	switch t {
	case IndexUint16:
		return 2
	case IndexUint32:
		return 4
	}
	return 0
}

type AccelKind int32

const (
	AccelTopLevel    AccelKind = 0
	AccelBottomLevel AccelKind = 1
)

func (k AccelKind) String() string {
	if k == AccelTopLevel {
		return "TLAS"
	}
	return "BLAS"
}

type Extent2D struct {
	Width, Height int
}

type Extent3D struct {
	Width, Height, Depth int
}

type BufferInfo struct {
	Size    int64
	Usage   BufferUsage
	Visible bool
}

type ImageInfo struct {
	Format    Format
	Extent    Extent3D
	MipLevels int
	Usage     ImageUsage
}

type SamplerInfo struct {
	Linear bool
	Repeat bool
	MaxLod float32
}

type BufferCopy struct {
	SrcOffset, DstOffset, Size int64
}

type BufferImageCopy struct {
	BufferOffset int64
	MipLevel     int
	Extent       Extent3D
}

type BufferBarrier struct {
	Buffer    Buffer
	SrcAccess Access
	DstAccess Access
	Offset    int64
	// Size of 0 covers the rest of the buffer.
	Size int64
}

type ImageBarrier struct {
	Image     Image
	SrcAccess Access
	DstAccess Access
	OldLayout Layout
	NewLayout Layout
	Aspect    Aspect
}

type SemaphoreWait struct {
	Semaphore Semaphore
	Stage     Stage
}

type SubmitInfo struct {
	CmdBuffers []CmdBuffer
	Wait       []SemaphoreWait
	Signal     []Semaphore
	// Fence is signaled once every command buffer completed. It may be nil.
	Fence Fence
}

type DescBinding struct {
	Binding int
	Type    DescType
	Count   int
	Stages  ShaderStage
}

type DescPoolSize struct {
	Type  DescType
	Count int
}

type DescBufferInfo struct {
	Buffer Buffer
	Offset int64
	// Range of 0 covers the rest of the buffer.
	Range int64
}

type DescImageInfo struct {
	View    ImageView
	Sampler Sampler
	Layout  Layout
}

// DescWrite updates consecutive array elements of one binding. Exactly one of
// Buffers, Images or Accels is set, matching Type.
type DescWrite struct {
	Binding      int
	ArrayElement int
	Type         DescType
	Buffers      []DescBufferInfo
	Images       []DescImageInfo
	Accels       []Accel
}

// AccelGeometry describes one geometry of a build. Triangle geometries are
// used for bottom level builds, a single instance geometry for top level builds.
type AccelGeometry struct {
	VertexAddress uint64
	VertexFormat  Format
	VertexStride  int
	MaxVertex     int
	IndexAddress  uint64
	IndexType     IndexType

	InstanceAddress uint64

	// PrimitiveCount is the triangle count, or the instance count.
	PrimitiveCount int
	Opaque         bool
}

type AccelSizes struct {
	AccelSize   int64
	ScratchSize int64
}

type AccelBuild struct {
	Kind            AccelKind
	Dst             Accel
	Geometries      []AccelGeometry
	ScratchAddress  uint64
	AllowCompaction bool
	PreferFastTrace bool
}

type Limits struct {
	MinUniformBufferOffsetAlignment int64
	MinStorageBufferOffsetAlignment int64
	NonCoherentAtomSize             int64
	ScratchOffsetAlignment          int64
	MaxBoundDescriptorSets          int
}

// CacheIdentity is the device identity a pipeline cache blob is valid for.
type CacheIdentity struct {
	VendorID uint32
	DeviceID uint32
	UUID     uuid.UUID
}
