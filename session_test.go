package nodegraph

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/gogpu/nodegraph/driver"
	"github.com/gogpu/nodegraph/driver/software"
)

// Programs and builders shared by the package tests. The kernels run on the
// software device; the WGSL is what a GPU device would compile.
const (
	testHalveProgram = "nodegraph_test/halve_x"
	testAddProgram   = "nodegraph_test/add_u32"
)

const testHalveWGSL = `
@group(0) @binding(0) var in_gray: texture_storage_2d<r8uint, read>;
@group(0) @binding(1) var out_gray: texture_storage_2d<r8uint, write>;

@compute @workgroup_size(16, 16)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    let size = textureDimensions(out_gray);
    if (id.x >= size.x || id.y >= size.y) {
        return;
    }
    textureStore(out_gray, id.xy, textureLoad(in_gray, vec2<u32>(id.x * 2u, id.y)));
}
`

const testAddWGSL = `
struct Push { value: u32 }
var<push_constant> push: Push;
@group(0) @binding(0) var<storage, read> in_data: array<u32>;
@group(0) @binding(1) var<storage, read_write> out_data: array<u32>;

@compute @workgroup_size(64)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    if (id.x < arrayLength(&out_data)) {
        out_data[id.x] = in_data[id.x] + push.value;
    }
}
`

func init() {
	software.RegisterKernel(testHalveProgram, halveKernel)
	software.RegisterKernel(testAddProgram, addKernel)
	RegisterBuiltinProgram(testHalveProgram, testHalveWGSL)
	RegisterBuiltinProgram(testAddProgram, testAddWGSL)

	RegisterBuiltinBuilder(NewBuilder(NodeDescriptor{
		Builder:   "nodegraph_test/HalveX",
		Kind:      KindCompute,
		Summary:   "Keeps every second column.",
		Program:   testHalveProgram,
		LocalSize: [3]uint32{16, 16, 1},
		Ports: []PortDescriptor{
			{Binding: 0, Name: "in_gray", Direction: PortIn, Type: PortImageView,
				ChannelTypes: []ChannelType{ChannelUint8}, Channels: 1},
			{Binding: 1, Name: "out_gray", Direction: PortOut, Type: PortImageView,
				Output: &OutputRule{Image: HalfWidth("in_gray")}},
		},
	}))

	RegisterBuiltinBuilder(NewBuilder(addDescriptor()))

	RegisterBuiltinBuilder(NewBuilder(NodeDescriptor{
		Builder: "nodegraph_test/AddTwice",
		Kind:    KindContainer,
		Ports: []PortDescriptor{
			{Binding: 0, Name: "in", Direction: PortIn, Type: PortBuffer},
			{Binding: 1, Name: "out", Direction: PortOut, Type: PortBuffer},
		},
		Parameters: []ParameterSpec{{Name: "value", Default: IntParameter(1)}},
		Compose: func(c *ContainerNode) error {
			in, err := c.Port("in")
			if err != nil {
				return err
			}
			value, err := c.Parameter("value")
			if err != nil {
				return err
			}
			first, err := c.CreateNode("first", "nodegraph_test/Add")
			if err != nil {
				return err
			}
			if err := first.SetParameter("value", value); err != nil {
				return err
			}
			if err := first.Bind("in", in.Resource()); err != nil {
				return err
			}
			if err := first.Init(); err != nil {
				return err
			}
			mid, err := first.Port("out")
			if err != nil {
				return err
			}
			second, err := c.CreateNode("second", "nodegraph_test/Add")
			if err != nil {
				return err
			}
			if err := second.SetParameter("value", value); err != nil {
				return err
			}
			if err := second.Bind("in", mid.Resource()); err != nil {
				return err
			}
			return c.ExposeChildPort("out", "second", "out")
		},
	}, "nodegraph_test/Add"))

	RegisterBuiltinBuilder(NewBuilder(NodeDescriptor{
		Builder: "nodegraph_test/AddFanOut",
		Kind:    KindContainer,
		Ports: []PortDescriptor{
			{Binding: 0, Name: "in", Direction: PortIn, Type: PortBuffer},
		},
		Compose: func(c *ContainerNode) error {
			in, err := c.Port("in")
			if err != nil {
				return err
			}
			for _, name := range []string{"a", "b"} {
				n, err := c.CreateNode(name, "nodegraph_test/Add")
				if err != nil {
					return err
				}
				if err := n.Bind("in", in.Resource()); err != nil {
					return err
				}
				if err := c.ExposeChildPort("out_"+name, name, "out"); err != nil {
					return err
				}
			}
			return nil
		},
	}, "nodegraph_test/Add"))
}

func addDescriptor() NodeDescriptor {
	return NodeDescriptor{
		Builder:         "nodegraph_test/Add",
		Kind:            KindCompute,
		Summary:         "Adds a constant to every uint32.",
		Program:         testAddProgram,
		LocalSize:       [3]uint32{64, 1, 1},
		GridElementSize: 4,
		Ports: []PortDescriptor{
			{Binding: 0, Name: "in", Direction: PortIn, Type: PortBuffer},
			{Binding: 1, Name: "out", Direction: PortOut, Type: PortBuffer,
				Output: &OutputRule{BufferSize: func(n *ComputeNode) (uint64, error) {
					return n.PortBufferSize("in")
				}}},
		},
		Parameters: []ParameterSpec{{Name: "value", Default: IntParameter(1), Summary: "added value"}},
		PushConstants: []PushConstant{
			{Name: "value", Type: PushUint32, Value: ParameterPush("value")},
		},
	}
}

func halveKernel(d *software.Dispatch) error {
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
		out.SetUint(x, y, z, 0, in.Uint(2*x, y, z, 0))
	})
	return nil
}

func addKernel(d *software.Dispatch) error {
	in, err := d.Buffer(0)
	if err != nil {
		return err
	}
	out, err := d.Buffer(1)
	if err != nil {
		return err
	}
	value := d.PushUint32(0)
	d.ForEachInvocation(func(x, _, _ uint32) {
		off := int(x) * 4
		if off+4 > len(out) || off+4 > len(in) {
			return
		}
		binary.LittleEndian.PutUint32(out[off:], binary.LittleEndian.Uint32(in[off:])+value)
	})
	return nil
}

func newTestSession(t testing.TB, opts ...Option) *Session {
	t.Helper()
	s, err := NewSession(append([]Option{WithDevice(software.New())}, opts...)...)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestBuffer(t testing.TB, s *Session, words []uint32) *Buffer {
	t.Helper()
	mem, err := s.CreateMemory(MemoryDeviceLocal, 0)
	if err != nil {
		t.Fatalf("CreateMemory() error = %v", err)
	}
	buf, err := mem.CreateBuffer(uint64(4*len(words)),
		BufferUsageStorage|BufferUsageTransferSrc|BufferUsageTransferDst)
	if err != nil {
		t.Fatalf("CreateBuffer() error = %v", err)
	}
	data := make([]byte, 0, 4*len(words))
	for _, w := range words {
		data = binary.LittleEndian.AppendUint32(data, w)
	}
	if err := buf.FromHost(context.Background(), data); err != nil {
		t.Fatalf("FromHost() error = %v", err)
	}
	return buf
}

func readWords(t testing.TB, b *Buffer) []uint32 {
	t.Helper()
	data, err := b.ToHost(context.Background())
	if err != nil {
		t.Fatalf("ToHost() error = %v", err)
	}
	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return words
}

func newTestGrayView(t testing.TB, s *Session, width, height uint32) *ImageView {
	t.Helper()
	mem, err := s.CreateMemory(MemoryDeviceLocal, 0)
	if err != nil {
		t.Fatalf("CreateMemory() error = %v", err)
	}
	img, err := mem.CreateImage(NewImageDescriptor(1, height, width, 1, ChannelUint8), ImageUsageAll)
	if err != nil {
		t.Fatalf("CreateImage() error = %v", err)
	}
	view, err := img.DefaultView()
	if err != nil {
		t.Fatalf("DefaultView() error = %v", err)
	}
	return view
}

func TestNewSession_SoftwareDevice(t *testing.T) {
	s := newTestSession(t)

	if got := s.Info().Driver; got != driver.NameSoftware {
		t.Errorf("Info().Driver = %q, want %q", got, driver.NameSoftware)
	}
	if s.IsDebugEnabled() {
		t.Error("IsDebugEnabled() = true without WithDebug")
	}
	if len(s.MemoryTypes()) == 0 {
		t.Error("MemoryTypes() is empty")
	}
}

func TestNewSession_ByDriverName(t *testing.T) {
	s, err := NewSession(WithDriver(driver.NameSoftware))
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	defer s.Close()

	if got := s.Info().Driver; got != driver.NameSoftware {
		t.Errorf("Info().Driver = %q, want %q", got, driver.NameSoftware)
	}
}

func TestNewSession_UnknownDriver(t *testing.T) {
	_, err := NewSession(WithDriver("does-not-exist"))
	if !errors.Is(err, driver.ErrDriverNotAvailable) {
		t.Errorf("NewSession() error = %v, want ErrDriverNotAvailable", err)
	}
}

func TestSession_BuiltinsCopied(t *testing.T) {
	s := newTestSession(t)

	for _, name := range []string{"nodegraph_test/HalveX", "nodegraph_test/Add"} {
		if !s.HasBuilder(name) {
			t.Errorf("HasBuilder(%q) = false", name)
		}
	}
	if !s.HasProgram(testAddProgram) {
		t.Errorf("HasProgram(%q) = false", testAddProgram)
	}
}

func TestSession_Close(t *testing.T) {
	s := newTestSession(t)
	mem, err := s.CreateMemory(MemoryHostVisible, 0)
	if err != nil {
		t.Fatalf("CreateMemory() error = %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v, want nil", err)
	}

	if _, err := mem.CreateBuffer(16, BufferUsageStorage); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("CreateBuffer() after Close error = %v, want ErrSessionClosed", err)
	}
	if _, err := s.CreateComputeNode("nodegraph_test/Add"); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("CreateComputeNode() after Close error = %v, want ErrSessionClosed", err)
	}
}

func TestSession_GoodComputeLocalShape(t *testing.T) {
	s := newTestSession(t)
	tests := []struct {
		dims int
		want [3]uint32
	}{
		{1, [3]uint32{256, 1, 1}},
		{2, [3]uint32{32, 32, 1}},
		{3, [3]uint32{8, 8, 8}},
	}
	for _, tt := range tests {
		if got := s.GoodComputeLocalShape(tt.dims); got != tt.want {
			t.Errorf("GoodComputeLocalShape(%d) = %v, want %v", tt.dims, got, tt.want)
		}
	}
}
