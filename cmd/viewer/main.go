// Command viewer opens a window, uploads an optional OBJ mesh and clears the
// screen every frame through the renderer.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/core/v3"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	vkng_sdl2 "github.com/vkngwrapper/integrations/sdl2/v3"
	"github.com/vkngwrapper/renderer"
	"github.com/vkngwrapper/renderer/descriptor"
	"github.com/vkngwrapper/renderer/driver"
	"github.com/vkngwrapper/renderer/driver/vk"
	"github.com/vkngwrapper/renderer/shader"
)

type options struct {
	cfg     renderer.Config
	mesh    string
	shaders string
	debug   bool
}

func parseFlags() options {
	opts := options{cfg: renderer.DefaultConfig()}
	flag.IntVar(&opts.cfg.FramesInFlight, "frames", opts.cfg.FramesInFlight, "frames recorded ahead of the device")
	flag.Int64Var(&opts.cfg.StagingWindow, "staging-window", opts.cfg.StagingWindow, "chunk size of large uploads in bytes")
	flag.Int64Var(&opts.cfg.ImmediateUploadLimit, "immediate-limit", opts.cfg.ImmediateUploadLimit, "largest upload done in one staging buffer")
	flag.StringVar(&opts.cfg.PipelineCachePath, "pipeline-cache", opts.cfg.PipelineCachePath, "pipeline cache file, empty to disable")
	flag.StringVar(&opts.cfg.ShaderRoot, "shader-root", opts.cfg.ShaderRoot, "directory of compiled shaders")
	flag.BoolVar(&opts.cfg.Validation, "validation", false, "enable the Vulkan validation layer")
	flag.StringVar(&opts.mesh, "mesh", "", "OBJ file to upload")
	flag.StringVar(&opts.shaders, "shaders", "", "comma separated shader modules to preload")
	flag.BoolVar(&opts.debug, "debug", false, "log at debug level")
	opts.cfg.ClearColor = [4]float32{0.2, 0.4, 0.8, 1}
	flag.Func("clear", "clear color as r,g,b (default 0.2,0.4,0.8)", func(v string) error {
		parts := strings.Split(v, ",")
		if len(parts) != 3 {
			return errors.Newf("want r,g,b, got %q", v)
		}
		for i, part := range parts {
			c, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
			if err != nil {
				return errors.Wrapf(err, "clear color component %d", i)
			}
			opts.cfg.ClearColor[i] = float32(c)
		}
		return nil
	})
	flag.Parse()
	return opts
}

type app struct {
	opts   options
	window *sdl.Window

	instance *vk.Instance
	gpu      *vk.GPU
	modules  []core1_0.ShaderModule

	r     *renderer.Renderer[driver.DescSet]
	set   *descriptor.Set
	scene *renderer.Scene
}

func (a *app) initWindow() error {
	if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
		return errors.Wrap(err, "init sdl")
	}
	window, err := sdl.CreateWindow("Vulkan", sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED, 800, 600,
		sdl.WINDOW_SHOWN|sdl.WINDOW_VULKAN|sdl.WINDOW_RESIZABLE)
	if err != nil {
		return errors.Wrap(err, "create window")
	}
	a.window = window
	return nil
}

func (a *app) initDevice() error {
	global, err := core.CreateDriverFromProcAddr(sdl.VulkanGetVkGetInstanceProcAddr())
	if err != nil {
		return errors.Wrap(err, "load vulkan")
	}
	a.instance, err = vk.CreateInstance(global, vk.InstanceOptions{
		ApplicationName: "viewer",
		Extensions:      a.window.VulkanGetInstanceExtensions(),
		Validation:      a.opts.cfg.Validation,
	})
	if err != nil {
		return err
	}
	err = a.instance.AttachSurface(func(instance core1_0.Instance, surfaces khr_surface.ExtensionDriver) (khr_surface.Surface, error) {
		return vkng_sdl2.CreateSurface(instance, surfaces, a.window)
	})
	if err != nil {
		return err
	}
	a.gpu, err = vk.Open(a.instance, vk.Options{PipelineCachePath: a.opts.cfg.PipelineCachePath})
	return err
}

func (a *app) loadShaders() error {
	if a.opts.shaders == "" {
		return nil
	}
	names := strings.Split(a.opts.shaders, ",")
	modules, err := shader.Load(context.Background(), os.DirFS(a.opts.cfg.ShaderRoot), names...)
	if err != nil {
		return err
	}
	for _, name := range names {
		module, _, err := a.gpu.Driver().CreateShaderModule(nil, core1_0.ShaderModuleCreateInfo{Code: modules[name]})
		if err != nil {
			return errors.Wrapf(err, "create shader module %s", name)
		}
		a.modules = append(a.modules, module)
	}
	slog.Info("shaders loaded", "count", len(a.modules))
	return nil
}

func (a *app) initRenderer() error {
	pass := &clearPass{color: a.opts.cfg.ClearColor}
	var err error
	a.r, err = renderer.New[driver.DescSet](a.gpu, a.opts.cfg, pass)
	if err != nil {
		return err
	}
	alloc := a.r.Allocator()

	bindings := []descriptor.Binding{{
		Type:    driver.DescUniformBuffer,
		Stages:  driver.ShaderAllGraphics,
		Payload: descriptor.Uniform{Layout: cameraLayout, Visible: true},
	}}
	if a.opts.mesh != "" {
		meshes, err := loadOBJ(a.opts.mesh)
		if err != nil {
			return err
		}
		if a.scene, err = renderer.LoadScene(alloc, meshes); err != nil {
			return err
		}
		var vertices descriptor.Buffers
		for _, m := range a.scene.Meshes {
			vertices = append(vertices, driver.DescBufferInfo{Buffer: m.Vertices})
		}
		if len(vertices) > 0 {
			bindings = append(bindings, descriptor.Binding{
				Type:    driver.DescStorageBuffer,
				Count:   len(vertices),
				Stages:  driver.ShaderVertex,
				Payload: vertices,
			})
		}
	}
	if a.set, err = descriptor.New(alloc, a.opts.cfg.FramesInFlight, bindings...); err != nil {
		return err
	}
	pass.set = a.set
	a.r.Track(a.set)

	w, h := a.window.VulkanGetDrawableSize()
	return a.r.Init(a.gpu, driver.Extent2D{Width: int(w), Height: int(h)})
}

func (a *app) mainLoop() error {
	for {
		for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
			switch e := event.(type) {
			case *sdl.QuitEvent:
				return nil
			case *sdl.WindowEvent:
				switch e.Event {
				case sdl.WINDOWEVENT_MINIMIZED:
					a.r.OnResized(driver.Extent2D{})
				case sdl.WINDOWEVENT_RESTORED, sdl.WINDOWEVENT_RESIZED, sdl.WINDOWEVENT_SIZE_CHANGED:
					w, h := a.window.VulkanGetDrawableSize()
					a.r.OnResized(driver.Extent2D{Width: int(w), Height: int(h)})
				}
			}
		}
		if err := a.r.DrawFrame(); err != nil {
			return err
		}
	}
}

func (a *app) cleanup() {
	if a.gpu != nil {
		if err := a.gpu.WaitIdle(); err != nil {
			slog.Error("wait for device", "err", err)
		}
	}
	if a.scene != nil {
		a.scene.Destroy()
	}
	if a.set != nil {
		a.set.Destroy()
	}
	if a.r != nil {
		if err := a.r.Close(); err != nil {
			slog.Error("renderer shutdown", "err", err)
		}
	}
	for _, module := range a.modules {
		a.gpu.Driver().DestroyShaderModule(module, nil)
	}
	if a.gpu != nil {
		a.gpu.Destroy()
	}
	if a.instance != nil {
		a.instance.Destroy()
	}
	if a.window != nil {
		a.window.Destroy()
	}
	sdl.Quit()
}

func (a *app) run() error {
	if err := a.initWindow(); err != nil {
		return err
	}
	defer a.cleanup()
	if err := a.initDevice(); err != nil {
		return err
	}
	if err := a.loadShaders(); err != nil {
		return err
	}
	if err := a.initRenderer(); err != nil {
		return err
	}
	return a.mainLoop()
}

func main() {
	runtime.LockOSThread()
	opts := parseFlags()

	level := slog.LevelInfo
	if opts.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	renderer.SetLogger(logger)

	a := &app{opts: opts}
	if err := a.run(); err != nil {
		log.Fatalf("%+v\n", err)
	}
}
