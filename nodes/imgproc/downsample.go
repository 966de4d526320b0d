package imgproc

import (
	"github.com/gogpu/nodegraph"
	"github.com/gogpu/nodegraph/driver/software"
)

func downsampleDescriptor(name, program, summary string,
	shape func(*nodegraph.ComputeNode) (nodegraph.ImageDescriptor, error)) nodegraph.NodeDescriptor {
	return nodegraph.NodeDescriptor{
		Builder:   name,
		Kind:      nodegraph.KindCompute,
		Summary:   summary,
		Program:   program,
		LocalSize: localSize,
		Ports: []nodegraph.PortDescriptor{
			{Binding: 0, Name: "in_gray", Direction: nodegraph.PortIn, Type: nodegraph.PortImageView,
				ChannelTypes: []nodegraph.ChannelType{nodegraph.ChannelUint8}, Channels: 1},
			{Binding: 1, Name: "out_gray", Direction: nodegraph.PortOut, Type: nodegraph.PortImageView,
				Output: &nodegraph.OutputRule{Image: shape}},
		},
	}
}

// filter121 applies the [1 2 1]/4 tap around center with clamped edges.
func filter121(at func(i uint32) uint32, center, last uint32) uint32 {
	prev := center
	if center > 0 {
		prev = center - 1
	}
	next := min(center+1, last)
	return (at(prev) + 2*at(center) + at(next) + 2) / 4
}

func downsampleXKernel(d *software.Dispatch) error {
	in, out, err := grayPair(d)
	if err != nil {
		return err
	}
	d.ForEachInvocation(func(x, y, z uint32) {
		if !out.Contains(x, y, z) {
			return
		}
		v := filter121(func(i uint32) uint32 { return in.Uint(i, y, z, 0) }, 2*x, in.Width-1)
		out.SetUint(x, y, z, 0, v)
	})
	return nil
}

func downsampleYKernel(d *software.Dispatch) error {
	in, out, err := grayPair(d)
	if err != nil {
		return err
	}
	d.ForEachInvocation(func(x, y, z uint32) {
		if !out.Contains(x, y, z) {
			return
		}
		v := filter121(func(i uint32) uint32 { return in.Uint(x, i, z, 0) }, 2*y, in.Height-1)
		out.SetUint(x, y, z, 0, v)
	})
	return nil
}

func grayPair(d *software.Dispatch) (in, out *software.Image, err error) {
	if in, err = d.Image(0); err != nil {
		return nil, nil, err
	}
	if out, err = d.Image(1); err != nil {
		return nil, nil, err
	}
	return in, out, nil
}
