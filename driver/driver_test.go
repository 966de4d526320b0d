package driver

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/gogpu/gputypes"
)

type fakeDriver struct {
	name string
	err  error
}

func (d fakeDriver) Name() string { return d.name }

func (d fakeDriver) Open() (Device, error) {
	if d.err != nil {
		return nil, d.err
	}
	return nil, nil
}

func TestRegistry_OpenUnknown(t *testing.T) {
	if _, err := Open("does-not-exist"); !errors.Is(err, ErrDriverNotAvailable) {
		t.Errorf("Open(unknown) error = %v, want ErrDriverNotAvailable", err)
	}
}

func TestRegistry_RegisterUnregister(t *testing.T) {
	const name = "test-fake"
	Register(name, func() Driver { return fakeDriver{name: name} })
	t.Cleanup(func() { Unregister(name) })

	if !IsRegistered(name) {
		t.Fatalf("IsRegistered(%q) = false after Register", name)
	}
	found := false
	for _, n := range Available() {
		if n == name {
			found = true
		}
	}
	if !found {
		t.Errorf("Available() = %v, missing %q", Available(), name)
	}

	Unregister(name)
	if IsRegistered(name) {
		t.Errorf("IsRegistered(%q) = true after Unregister", name)
	}
}

func TestRegistry_OpenWrapsDriverError(t *testing.T) {
	const name = "test-failing"
	cause := errors.New("no adapter")
	Register(name, func() Driver { return fakeDriver{name: name, err: cause} })
	t.Cleanup(func() { Unregister(name) })

	if _, err := Open(name); !errors.Is(err, cause) {
		t.Errorf("Open() error = %v, want wrapped %v", err, cause)
	}
}

func TestMemoryFlags(t *testing.T) {
	f := MemoryHostVisible | MemoryHostCoherent
	if !f.Contains(MemoryHostVisible) {
		t.Error("Contains(HostVisible) = false")
	}
	if f.Contains(MemoryDeviceLocal) {
		t.Error("Contains(DeviceLocal) = true")
	}
	if got, want := f.String(), "HostVisible|HostCoherent"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if got := MemoryFlags(0).String(); got != "None" {
		t.Errorf("String() = %q, want None", got)
	}
}

func TestChannelType(t *testing.T) {
	tests := []struct {
		c     ChannelType
		size  uint32
		float bool
	}{
		{ChannelUint8, 1, false},
		{ChannelUint16, 2, false},
		{ChannelUint32, 4, false},
		{ChannelFloat16, 2, true},
		{ChannelFloat32, 4, true},
	}
	for _, tt := range tests {
		t.Run(tt.c.String(), func(t *testing.T) {
			if got := tt.c.Size(); got != tt.size {
				t.Errorf("Size() = %d, want %d", got, tt.size)
			}
			if got := tt.c.IsFloat(); got != tt.float {
				t.Errorf("IsFloat() = %v, want %v", got, tt.float)
			}
			parsed, err := ParseChannelType(tt.c.String())
			if err != nil || parsed != tt.c {
				t.Errorf("ParseChannelType(%q) = %v, %v", tt.c.String(), parsed, err)
			}
		})
	}
	if ChannelType(0).Valid() {
		t.Error("ChannelType(0).Valid() = true")
	}
	if _, err := ParseChannelType("int8"); err == nil {
		t.Error("ParseChannelType(int8) error = nil")
	}
}

func TestTextureFormat(t *testing.T) {
	if got := TextureFormat(ChannelUint8, 1); got != gputypes.TextureFormatR8Uint {
		t.Errorf("TextureFormat(uint8, 1) = %v, want R8Uint", got)
	}
	if got := TextureFormat(ChannelFloat32, 4); got != gputypes.TextureFormatRGBA32Float {
		t.Errorf("TextureFormat(float32, 4) = %v, want RGBA32Float", got)
	}
	if got := TextureFormat(ChannelUint8, 3); got != gputypes.TextureFormatUndefined {
		t.Errorf("TextureFormat(uint8, 3) = %v, want Undefined", got)
	}
}

func TestGridSize(t *testing.T) {
	got := GridSize([3]uint32{641, 480, 1}, [3]uint32{32, 32, 1})
	want := [3]uint32{21, 15, 1}
	if got != want {
		t.Errorf("GridSize() = %v, want %v", got, want)
	}
}

func TestNopHandler(t *testing.T) {
	h := nopHandler{}
	ctx := context.Background()
	for _, level := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError} {
		if h.Enabled(ctx, level) {
			t.Errorf("nopHandler.Enabled(%v) = true, want false", level)
		}
	}
	if err := h.Handle(ctx, slog.Record{}); err != nil {
		t.Errorf("nopHandler.Handle() = %v, want nil", err)
	}
	if _, ok := h.WithAttrs([]slog.Attr{slog.String("device", "cpu")}).(nopHandler); !ok {
		t.Error("nopHandler.WithAttrs() did not return a nopHandler")
	}
	if _, ok := h.WithGroup("driver").(nopHandler); !ok {
		t.Error("nopHandler.WithGroup() did not return a nopHandler")
	}
}

func TestSetLogger_Nil(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	SetLogger(slog.Default())
	if Logger() != slog.Default() {
		t.Error("Logger() did not return the logger set via SetLogger")
	}
	SetLogger(nil)
	if Logger().Enabled(context.Background(), slog.LevelError) {
		t.Error("SetLogger(nil) left an enabled logger")
	}
}
