package driver

import "github.com/cockroachdb/errors"

var (
	// ErrTimeout is returned by a fence wait whose timeout elapsed.
	ErrTimeout = errors.New("driver: wait timed out")
	// ErrOutOfDate is returned when a swapchain no longer matches its surface.
	ErrOutOfDate = errors.New("driver: swapchain out of date")
	// ErrSuboptimal is returned when a present succeeded but the swapchain
	// should be recreated.
	ErrSuboptimal = errors.New("driver: swapchain suboptimal")
	// ErrDeviceLost is returned once the device stopped executing work.
	ErrDeviceLost = errors.New("driver: device lost")
	// ErrUnsupported is returned for features the device does not offer.
	ErrUnsupported = errors.New("driver: unsupported")
)

// IsStale reports whether err asks for swapchain recreation.
func IsStale(err error) bool {
	return errors.Is(err, ErrOutOfDate) || errors.Is(err, ErrSuboptimal)
}
