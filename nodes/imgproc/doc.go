// Package imgproc registers image processing nodes with nodegraph.
//
// Importing the package for its side effects makes the builders available
// to every Session created afterwards:
//
//	import _ "github.com/gogpu/nodegraph/nodes/imgproc"
//
// Registered builders:
//   - lluvia/imgproc/ImageDownsampleX_r8ui: halves the width of a gray image
//   - lluvia/imgproc/ImageDownsampleY_r8ui: halves the height of a gray image
//   - lluvia/color/RGBA2Gray: converts rgba8 to gray
//   - lluvia/imgproc/ImagePyramid_r8ui: container producing out_gray_0..levels-1
//
// Every program ships as WGSL for GPU devices and as a Go kernel for the
// software device.
package imgproc
