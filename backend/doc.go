// Package backend selects the GPU device the tile cache runs on.
//
// # Backend Registration
//
// Backends are registered via init() functions and selected at runtime.
// Import the backends you want to make available:
//
//	import _ "github.com/gogpu/terra/backend/software"
//	import _ "github.com/gogpu/terra/backend/native"
//
// # Backend Selection
//
// Use Default() to open the best available device, or Get() to request a
// specific backend by name:
//
//	dev, err := backend.Default()
//
//	dev, err := backend.Get("software")
//
// The native backend needs a Vulkan adapter; when none is found its
// factory fails and Default() falls back to the software backend.
package backend
