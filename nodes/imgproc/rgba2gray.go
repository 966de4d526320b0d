package imgproc

import (
	"github.com/gogpu/nodegraph"
	"github.com/gogpu/nodegraph/driver/software"
)

func rgba2GrayDescriptor() nodegraph.NodeDescriptor {
	return nodegraph.NodeDescriptor{
		Builder:   RGBA2Gray,
		Kind:      nodegraph.KindCompute,
		Summary:   "Converts an RGBA image to gray using BT.601 weights.",
		Program:   rgba2GrayProgram,
		LocalSize: localSize,
		Ports: []nodegraph.PortDescriptor{
			{Binding: 0, Name: "in_rgba", Direction: nodegraph.PortIn, Type: nodegraph.PortImageView,
				ChannelTypes: []nodegraph.ChannelType{nodegraph.ChannelUint8}, Channels: 4},
			{Binding: 1, Name: "out_gray", Direction: nodegraph.PortOut, Type: nodegraph.PortImageView,
				Output: &nodegraph.OutputRule{Image: nodegraph.ScaledShape("in_rgba",
					func(d nodegraph.ImageDescriptor) nodegraph.ImageDescriptor {
						d.Channels = 1
						return d
					})}},
		},
	}
}

// luma returns the rounded BT.601 luma of an 8-bit RGB triple.
func luma(r, g, b uint32) uint32 {
	return (299*r + 587*g + 114*b + 500) / 1000
}

func rgba2GrayKernel(d *software.Dispatch) error {
	in, err := d.Image(0)
	if err != nil {
		return err
	}
	out, err := d.Image(1)
	if err != nil {
		return err
	}
	d.ForEachInvocation(func(x, y, z uint32) {
		if !out.Contains(x, y, z) {
			return
		}
		out.SetUint(x, y, z, 0, luma(in.Uint(x, y, z, 0), in.Uint(x, y, z, 1), in.Uint(x, y, z, 2)))
	})
	return nil
}
