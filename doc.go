// Package nodegraph is a GPU compute-graph runtime.
//
// # Overview
//
// A host program describes a graph of compute kernels (nodes), binds
// buffers and images to the nodes' ports and runs the graph on a compute
// queue. Nodes are built by name from a registry of builders; builders are
// written in Go or loaded from HCL scripts at run time.
//
// # Quick Start
//
//	import (
//		"github.com/gogpu/nodegraph"
//		_ "github.com/gogpu/nodegraph/nodes/imgproc"
//	)
//
//	s, err := nodegraph.NewSession()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer s.Close()
//
//	mem, _ := s.CreateMemory(nodegraph.MemoryDeviceLocal, 0)
//	img, _ := mem.CreateImage(nodegraph.NewImageDescriptor(1, 480, 640, 1, nodegraph.ChannelUint8),
//		nodegraph.ImageUsageAll)
//	view, _ := img.DefaultView()
//
//	pyramid, _ := s.CreateContainerNode("lluvia/imgproc/ImagePyramid_r8ui")
//	pyramid.SetParameter("levels", nodegraph.IntParameter(3))
//	pyramid.Bind("in_gray", view)
//	if err := pyramid.Init(); err != nil {
//		log.Fatal(err)
//	}
//	err = s.Run(ctx, pyramid)
//
// # Architecture
//
// The package is organized into:
//   - Session: device, program table, builder registry, debug channel
//   - Memory and resources: page-based allocation of Buffer and Image
//   - Nodes: ComputeNode dispatches a program, ContainerNode composes children
//   - CommandBuffer: recorded node runs, copies, barriers and durations
//
// Devices live behind driver.Device. The software driver is always linked;
// import driver/wgpu to run on a GPU.
//
// # Node lifecycle
//
// A node starts in NodeCreated. Bind and SetParameter are valid only there.
// Init allocates node-owned outputs, resolves the dispatch grid and, for
// containers, builds the children; it moves the node to NodeInit. A failed
// Init or a failed submission moves the node to NodeRunError, which is
// terminal.
//
// # Debugging
//
// WithDebug(true) wraps the device in a validation layer. Usage violations
// do not fail operations; they are reported through
// Session.HasReceivedWarningMessages, which resets on read, and logged at
// warning level.
//
// # Logging
//
// The package is silent by default. Use SetLogger to enable logging:
//
//	nodegraph.SetLogger(slog.Default())
package nodegraph
