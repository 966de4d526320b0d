package validation

import (
	"context"
	"strings"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/nodegraph/driver"
	"github.com/gogpu/nodegraph/driver/software"
)

type recorder struct {
	messages []Message
}

func (r *recorder) sink(m Message) { r.messages = append(r.messages, m) }

func createBuffer(t *testing.T, dev driver.Device, label string, usage gputypes.BufferUsage) driver.BufferID {
	t.Helper()
	mem, err := dev.AllocateMemory(software.MemoryTypeHostCoherent, 8)
	if err != nil {
		t.Fatal(err)
	}
	id, err := dev.CreateBuffer(&driver.BufferDescriptor{Label: label, Memory: mem, Size: 8, Usage: usage})
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestLayer_CopyWithoutTransferSrcWarnsAndExecutes(t *testing.T) {
	rec := &recorder{}
	dev := Wrap(software.New(), rec.sink)

	src := createBuffer(t, dev, "src", gputypes.BufferUsageStorage)
	dst := createBuffer(t, dev, "dst", gputypes.BufferUsageCopyDst)
	if err := dev.WriteBuffer(src, 0, []byte{1, 2, 3, 4, 5, 6, 7, 8}); err != nil {
		t.Fatal(err)
	}

	_, err := dev.Submit(context.Background(), []driver.Command{
		&driver.CopyBuffer{Src: src, Dst: dst, Size: 8},
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if len(rec.messages) != 1 {
		t.Fatalf("got %d messages, want 1: %v", len(rec.messages), rec.messages)
	}
	if m := rec.messages[0]; m.Severity != SeverityWarning || !strings.Contains(m.Text, `"src"`) {
		t.Errorf("message = %v, want warning naming src", m)
	}

	got := make([]byte, 8)
	if err := dev.ReadBuffer(dst, 0, got); err != nil {
		t.Fatal(err)
	}
	if got[7] != 8 {
		t.Errorf("copy did not complete: dst = %v", got)
	}
}

func TestLayer_ValidCopyIsSilent(t *testing.T) {
	rec := &recorder{}
	dev := Wrap(software.New(), rec.sink)

	src := createBuffer(t, dev, "src", gputypes.BufferUsageCopySrc)
	dst := createBuffer(t, dev, "dst", gputypes.BufferUsageCopyDst)
	if _, err := dev.Submit(context.Background(), []driver.Command{
		&driver.CopyBuffer{Src: src, Dst: dst, Size: 8},
	}); err != nil {
		t.Fatal(err)
	}
	if len(rec.messages) != 0 {
		t.Errorf("messages = %v, want none", rec.messages)
	}
}

func TestLayer_DispatchBindingUsage(t *testing.T) {
	rec := &recorder{}
	dev := Wrap(software.New(), rec.sink)

	mem, err := dev.AllocateMemory(software.MemoryTypeDeviceLocal, 64)
	if err != nil {
		t.Fatal(err)
	}
	img, err := dev.CreateImage(&driver.ImageDescriptor{
		Label: "img", Memory: mem, Width: 4, Height: 4, Depth: 1, Channels: 1,
		ChannelType: driver.ChannelUint8, Usage: gputypes.TextureUsageCopyDst,
	})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		cmd  driver.Command
		want int
	}{
		{
			name: "storage image without StorageBinding",
			cmd: &driver.Dispatch{Bindings: []driver.Binding{
				{Index: 0, Kind: driver.BindingStorageImage, Image: img},
			}},
			want: 1,
		},
		{
			name: "copy image to unknown buffer",
			cmd:  &driver.CopyImageToBuffer{Src: img, Dst: 9999},
			want: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec.messages = nil
			dev.mu.Lock()
			dev.check(0, tt.cmd)
			dev.mu.Unlock()
			if len(rec.messages) != tt.want {
				t.Errorf("got %d messages, want %d: %v", len(rec.messages), tt.want, rec.messages)
			}
		})
	}
}

func TestLayer_NilSink(t *testing.T) {
	dev := Wrap(software.New(), nil)
	createBuffer(t, dev, "no-usage", gputypes.BufferUsageNone)
	if dev.Unwrap() == nil {
		t.Error("Unwrap() = nil")
	}
}
