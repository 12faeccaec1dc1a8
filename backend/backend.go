package backend

import (
	"errors"

	"github.com/gogpu/terra/internal/gpucore"
)

// Backend name constants.
const (
	// BackendSoftware is the name of the CPU backend that runs shader kernels.
	BackendSoftware = "software"
	// BackendNative is the name of the Pure Go GPU backend (gogpu/wgpu).
	BackendNative = "native"
)

var (
	// ErrNotFound is returned when a requested backend is not registered.
	ErrNotFound = errors.New("backend: not registered")

	// ErrBackendNotAvailable is returned when no registered backend could
	// create a device.
	ErrBackendNotAvailable = errors.New("backend: not available")
)

// Factory opens a new device. Factories of GPU backends return an error
// when no suitable adapter is present.
type Factory func() (gpucore.Device, error)
