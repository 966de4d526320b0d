package alloc

import (
	"errors"
	"reflect"
	"testing"
)

func TestFreeSpace_AllocateSequential(t *testing.T) {
	fs := NewFreeSpace(1024)

	a, err := fs.Allocate(100, 1)
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	b, err := fs.Allocate(200, 1)
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}

	if a.Offset != 0 || a.Size != 100 {
		t.Errorf("first allocation = %+v, want offset 0 size 100", a)
	}
	if b.Offset != 100 || b.Size != 200 {
		t.Errorf("second allocation = %+v, want offset 100 size 200", b)
	}
	if got := fs.FreeBytes(); got != 724 {
		t.Errorf("FreeBytes() = %d, want 724", got)
	}
}

func TestFreeSpace_Alignment(t *testing.T) {
	fs := NewFreeSpace(1024)

	if _, err := fs.Allocate(10, 1); err != nil {
		t.Fatal(err)
	}
	a, err := fs.Allocate(64, 256)
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	if a.Offset != 256 {
		t.Errorf("Offset = %d, want 256", a.Offset)
	}
	if a.LeftPadding != 246 {
		t.Errorf("LeftPadding = %d, want 246", a.LeftPadding)
	}

	if err := fs.Release(a); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	want := [][2]uint64{{10, 1014}}
	if got := fs.Intervals(); !reflect.DeepEqual(got, want) {
		t.Errorf("Intervals() = %v, want %v", got, want)
	}
}

func TestFreeSpace_NoSpace(t *testing.T) {
	fs := NewFreeSpace(128)
	if _, err := fs.Allocate(129, 1); !errors.Is(err, ErrNoSpace) {
		t.Errorf("Allocate(129) error = %v, want ErrNoSpace", err)
	}
	if _, err := fs.Allocate(10, 1); err != nil {
		t.Fatal(err)
	}
	// Padding to the next 64-byte boundary leaves only 64 bytes.
	if _, err := fs.Allocate(100, 64); !errors.Is(err, ErrNoSpace) {
		t.Errorf("Allocate(100, align 64) error = %v, want ErrNoSpace", err)
	}
}

func TestFreeSpace_ReleaseCoalesces(t *testing.T) {
	tests := []struct {
		name  string
		order []int
	}{
		{"forward", []int{0, 1, 2}},
		{"backward", []int{2, 1, 0}},
		{"middle last", []int{0, 2, 1}},
		{"middle first", []int{1, 0, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := NewFreeSpace(300)
			allocs := make([]Allocation, 3)
			for i := range allocs {
				a, err := fs.Allocate(100, 1)
				if err != nil {
					t.Fatal(err)
				}
				allocs[i] = a
			}
			if fs.IntervalCount() != 0 {
				t.Fatalf("IntervalCount() = %d, want 0", fs.IntervalCount())
			}

			for _, k := range tt.order {
				if err := fs.Release(allocs[k]); err != nil {
					t.Fatalf("Release(%d) error = %v", k, err)
				}
			}

			want := [][2]uint64{{0, 300}}
			if got := fs.Intervals(); !reflect.DeepEqual(got, want) {
				t.Errorf("Intervals() = %v, want %v", got, want)
			}
		})
	}
}

func TestFreeSpace_ReuseHole(t *testing.T) {
	fs := NewFreeSpace(300)
	a, _ := fs.Allocate(100, 1)
	_, _ = fs.Allocate(100, 1)

	if err := fs.Release(a); err != nil {
		t.Fatal(err)
	}
	c, err := fs.Allocate(50, 1)
	if err != nil {
		t.Fatal(err)
	}
	if c.Offset != 0 {
		t.Errorf("Offset = %d, want 0 (first fit)", c.Offset)
	}
}

func TestFreeSpace_InvalidRelease(t *testing.T) {
	fs := NewFreeSpace(100)
	if err := fs.Release(Allocation{Offset: 0, Size: 10}); !errors.Is(err, ErrInvalidRelease) {
		t.Errorf("Release(free range) error = %v, want ErrInvalidRelease", err)
	}
	if err := fs.Release(Allocation{Offset: 90, Size: 20}); !errors.Is(err, ErrInvalidRelease) {
		t.Errorf("Release(out of range) error = %v, want ErrInvalidRelease", err)
	}
}
