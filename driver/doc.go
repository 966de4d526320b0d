// Package driver defines the device interface the nodegraph runtime executes on.
//
// A Device exposes memory types, places buffers and images inside memory
// pages, compiles programs and executes ordered command lists. Two drivers
// are provided:
//
//   - software: a CPU reference device executing Go kernels (always available)
//   - wgpu: a GPU device built on gogpu/wgpu (Vulkan, Metal, DX12, GLES)
//
// The validation subpackage wraps any Device and reports usage-flag
// violations without blocking execution.
//
// # Driver Selection
//
// Drivers register from init() and are selected by name or by priority:
//
//	import _ "github.com/gogpu/nodegraph/driver/software"
//
//	dev, err := driver.OpenDefault()
package driver
