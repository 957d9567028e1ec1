package main

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/renderer"
	"github.com/vkngwrapper/renderer/descriptor"
	"github.com/vkngwrapper/renderer/driver"
	"github.com/vkngwrapper/renderer/layout"
	"github.com/vkngwrapper/renderer/resource"
	"github.com/vkngwrapper/renderer/swapchain"
)

var cameraLayout = layout.New(layout.Std140,
	layout.Field{Name: "View", Type: layout.Mat4},
	layout.Field{Name: "Proj", Type: layout.Mat4},
	layout.Field{Name: "Time", Type: layout.Float},
)

type camera struct {
	View mgl32.Mat4
	Proj mgl32.Mat4
	Time float32
	_    [12]byte
}

// clearPass pulses the clear color over time and keeps a camera uniform per
// frame for the shaders bound to the same descriptor set.
type clearPass struct {
	color  [4]float32
	set    *descriptor.Set
	aspect float32
}

func (p *clearPass) NewFrame(_ *resource.Allocator, slot int) (driver.DescSet, error) {
	return p.set.Frame(slot), nil
}

func (p *clearPass) DestroyFrame(driver.DescSet) {}

func (p *clearPass) Resize(sc *swapchain.Swapchain) error {
	e := sc.Extent()
	p.aspect = float32(e.Width) / float32(e.Height)
	return nil
}

func (p *clearPass) Record(f *renderer.Frame[driver.DescSet]) error {
	t := f.Time.Seconds()
	cam := camera{
		View: mgl32.LookAtV(mgl32.Vec3{2, 2, 2}, mgl32.Vec3{}, mgl32.Vec3{0, 0, 1}).
			Mul4(mgl32.HomogRotate3DZ(float32(math.Mod(t, 4) * math.Pi / 2))),
		Proj: mgl32.Perspective(mgl32.DegToRad(45), p.aspect, 0.1, 10),
		Time: float32(t),
	}
	cam.Proj[5] *= -1
	if err := p.set.Uniform(f.Slot.Index, 0, 0).Encode(&cam); err != nil {
		return err
	}

	pulse := float32(0.5 + 0.5*math.Sin(t))
	color := p.color
	for i := 0; i < 3; i++ {
		color[i] *= pulse
	}

	cmd, img := f.Cmd(), f.Image.Image
	cmd.Barrier(driver.StageTopOfPipe, driver.StageTransfer, nil, []driver.ImageBarrier{{
		Image:     img,
		DstAccess: driver.AccessTransferWrite,
		OldLayout: driver.LayoutUndefined,
		NewLayout: driver.LayoutTransferDst,
		Aspect:    driver.AspectColor,
	}})
	cmd.ClearColorImage(img, driver.LayoutTransferDst, color)
	cmd.Barrier(driver.StageTransfer, driver.StageBottomOfPipe, nil, []driver.ImageBarrier{{
		Image:     img,
		SrcAccess: driver.AccessTransferWrite,
		OldLayout: driver.LayoutTransferDst,
		NewLayout: driver.LayoutPresentSrc,
		Aspect:    driver.AspectColor,
	}})
	return nil
}
