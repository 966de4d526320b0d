// Package wgpu implements a nodegraph device on top of gogpu/wgpu/hal.
//
// Importing the package registers the "wgpu" driver, which takes priority
// over the software driver when an adapter is available:
//
//	import _ "github.com/gogpu/nodegraph/driver/wgpu"
//
// # Resources
//
// WebGPU has no memory suballocation. Memory pages are bookkeeping records:
// every buffer and image placed inside a page gets its own hal object, and
// placement is only checked against the page bounds. Buffers always carry
// CopySrc and CopyDst so that host transfers work on any memory type.
//
// Images are 2D textures (3D when Depth > 1) in the texel format matching
// their channel type and count. Three-channel images are not supported.
//
// # Bindings
//
// Storage buffers, uniform buffers and storage images bind at their port
// index. A sampled image binds its texture at the port index and its
// sampler at the port index plus SamplerBindingOffset.
//
// # Submission
//
// Dispatches run in one compute pass each, so writes are visible to later
// passes and Barrier commands need no encoding. Copies involving images go
// through the host with tightly packed rows. Timestamps flush the pending
// work and record wall-clock time.
package wgpu
