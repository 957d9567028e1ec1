package renderer

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/renderer/internal/logger"
	"github.com/vkngwrapper/renderer/resource"
)

type Config struct {
	// FramesInFlight is the number of frames the host records ahead of the
	// device.
	FramesInFlight int
	// StagingWindow is the chunk size of large uploads.
	StagingWindow int64
	// ImmediateUploadLimit is the largest upload done through a single
	// staging buffer.
	ImmediateUploadLimit int64
	// PipelineCachePath is where the pipeline cache is saved on Close. Empty
	// disables saving.
	PipelineCachePath string
	// ShaderRoot is the directory compiled shader modules are loaded from.
	ShaderRoot string
	Validation bool
	ClearColor [4]float32
}

func DefaultConfig() Config {
	return Config{
		FramesInFlight:       2,
		StagingWindow:        resource.DefaultStagingWindow,
		ImmediateUploadLimit: resource.DefaultStagingWindow,
		PipelineCachePath:    "pipeline_cache.bin",
		ShaderRoot:           "shaders",
		ClearColor:           [4]float32{0, 0, 0, 1},
	}
}

func (c Config) Validate() error {
	if c.FramesInFlight <= 0 {
		return errors.Newf("renderer: %d frames in flight", c.FramesInFlight)
	}
	if c.StagingWindow <= 0 {
		return errors.Newf("renderer: staging window of %d bytes", c.StagingWindow)
	}
	if c.ImmediateUploadLimit <= 0 {
		return errors.Newf("renderer: immediate upload limit of %d bytes", c.ImmediateUploadLimit)
	}
	return nil
}

// SetLogger sets the logger used by every package of the renderer. Logging
// is disabled until it is called.
func SetLogger(l *slog.Logger) {
	logger.SetLogger(l)
}
