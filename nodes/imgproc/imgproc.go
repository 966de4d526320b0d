package imgproc

import (
	_ "embed"

	"github.com/gogpu/nodegraph"
	"github.com/gogpu/nodegraph/driver/software"
)

// Builder names.
const (
	DownsampleX = "lluvia/imgproc/ImageDownsampleX_r8ui"
	DownsampleY = "lluvia/imgproc/ImageDownsampleY_r8ui"
	RGBA2Gray   = "lluvia/color/RGBA2Gray"
	Pyramid     = "lluvia/imgproc/ImagePyramid_r8ui"
)

// Program names.
const (
	downsampleXProgram = "lluvia/imgproc/ImageDownsampleX_r8ui.comp"
	downsampleYProgram = "lluvia/imgproc/ImageDownsampleY_r8ui.comp"
	rgba2GrayProgram   = "lluvia/color/RGBA2Gray.comp"
)

//go:embed shaders/downsample_x_r8ui.wgsl
var downsampleXWGSL string

//go:embed shaders/downsample_y_r8ui.wgsl
var downsampleYWGSL string

//go:embed shaders/rgba2gray.wgsl
var rgba2GrayWGSL string

//go:embed pyramid.hcl
var pyramidScript []byte

var localSize = [3]uint32{32, 32, 1}

func init() {
	software.RegisterKernel(downsampleXProgram, downsampleXKernel)
	software.RegisterKernel(downsampleYProgram, downsampleYKernel)
	software.RegisterKernel(rgba2GrayProgram, rgba2GrayKernel)

	nodegraph.RegisterBuiltinProgram(downsampleXProgram, downsampleXWGSL)
	nodegraph.RegisterBuiltinProgram(downsampleYProgram, downsampleYWGSL)
	nodegraph.RegisterBuiltinProgram(rgba2GrayProgram, rgba2GrayWGSL)

	nodegraph.RegisterBuiltinBuilder(nodegraph.NewBuilder(downsampleDescriptor(
		DownsampleX, downsampleXProgram, "Halves the image width.", nodegraph.HalfWidth("in_gray"))))
	nodegraph.RegisterBuiltinBuilder(nodegraph.NewBuilder(downsampleDescriptor(
		DownsampleY, downsampleYProgram, "Halves the image height.", nodegraph.HalfHeight("in_gray"))))
	nodegraph.RegisterBuiltinBuilder(nodegraph.NewBuilder(rgba2GrayDescriptor()))

	for _, b := range nodegraph.MustParseBuilderScript("imgproc/pyramid.hcl", pyramidScript) {
		nodegraph.RegisterBuiltinBuilder(b)
	}
}
