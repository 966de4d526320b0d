package nodegraph

import (
	"context"
	"errors"
	"testing"
)

func initAddNode(t *testing.T, s *Session, words []uint32) *ComputeNode {
	t.Helper()
	n, err := s.CreateComputeNode("nodegraph_test/Add")
	if err != nil {
		t.Fatalf("CreateComputeNode() error = %v", err)
	}
	if err := n.Bind("in", newTestBuffer(t, s, words)); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if err := n.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	return n
}

func TestCommandBuffer_States(t *testing.T) {
	s := newTestSession(t)
	n := initAddNode(t, s, []uint32{1})

	cb, err := s.CreateCommandBuffer()
	if err != nil {
		t.Fatalf("CreateCommandBuffer() error = %v", err)
	}
	if err := cb.Run(n); !errors.Is(err, ErrNotRecording) {
		t.Errorf("Run() before Begin error = %v, want ErrNotRecording", err)
	}
	if err := cb.End(); !errors.Is(err, ErrNotRecording) {
		t.Errorf("End() before Begin error = %v, want ErrNotRecording", err)
	}
	if err := s.RunCommandBuffer(context.Background(), cb); !errors.Is(err, ErrNotRecorded) {
		t.Errorf("RunCommandBuffer() before End error = %v, want ErrNotRecorded", err)
	}

	if err := cb.Begin(); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := cb.Begin(); !errors.Is(err, ErrNotRecording) {
		t.Errorf("second Begin() error = %v, want ErrNotRecording", err)
	}
	if err := cb.Run(n); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if err := cb.End(); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if !cb.IsExecutable() {
		t.Error("IsExecutable() = false after End")
	}
	if err := cb.MemoryBarrier(); !errors.Is(err, ErrNotRecording) {
		t.Errorf("MemoryBarrier() after End error = %v, want ErrNotRecording", err)
	}
}

func TestCommandBuffer_RunUninitialized(t *testing.T) {
	s := newTestSession(t)
	n, err := s.CreateComputeNode("nodegraph_test/Add")
	if err != nil {
		t.Fatalf("CreateComputeNode() error = %v", err)
	}
	cb, _ := s.CreateCommandBuffer()
	if err := cb.Begin(); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := cb.Run(n); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Run() error = %v, want ErrNotInitialized", err)
	}
	if err := s.Run(context.Background(), n); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Session.Run() error = %v, want ErrNotInitialized", err)
	}
}

func TestCommandBuffer_Resubmit(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()
	in := newTestBuffer(t, s, []uint32{0, 0})

	n, err := s.CreateComputeNode("nodegraph_test/Add")
	if err != nil {
		t.Fatalf("CreateComputeNode() error = %v", err)
	}
	if err := n.Bind("in", in); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if err := n.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	out, _ := n.Port("out")

	// Add into out, then copy out back into in: every submission adds 1.
	cb, _ := s.CreateCommandBuffer()
	if err := cb.Begin(); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := n.Run(cb); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if err := cb.MemoryBarrier(); err != nil {
		t.Fatalf("MemoryBarrier() error = %v", err)
	}
	if err := cb.CopyBuffer(out.Buffer(), in); err != nil {
		t.Fatalf("CopyBuffer() error = %v", err)
	}
	if err := cb.End(); err != nil {
		t.Fatalf("End() error = %v", err)
	}

	for range 3 {
		if err := s.RunCommandBuffer(ctx, cb); err != nil {
			t.Fatalf("RunCommandBuffer() error = %v", err)
		}
	}
	if got := readWords(t, in); got[0] != 3 || got[1] != 3 {
		t.Errorf("in = %v after 3 submissions, want [3 3]", got)
	}
}

func TestCommandBuffer_Durations(t *testing.T) {
	s := newTestSession(t)
	n := initAddNode(t, s, []uint32{1, 2, 3})

	d, err := s.CreateDuration()
	if err != nil {
		t.Fatalf("CreateDuration() error = %v", err)
	}
	if _, ok := d.Elapsed(); ok {
		t.Error("Elapsed() reports a measurement before any submission")
	}

	cb, _ := s.CreateCommandBuffer()
	if err := cb.Begin(); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := cb.DurationEnd(d); !errors.Is(err, ErrInvalidDurationScope) {
		t.Errorf("DurationEnd() without start error = %v, want ErrInvalidDurationScope", err)
	}
	if err := cb.DurationStart(d); err != nil {
		t.Fatalf("DurationStart() error = %v", err)
	}
	if err := cb.DurationStart(d); !errors.Is(err, ErrInvalidDurationScope) {
		t.Errorf("nested DurationStart() error = %v, want ErrInvalidDurationScope", err)
	}
	if err := cb.Run(n); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if err := cb.DurationEnd(d); err != nil {
		t.Fatalf("DurationEnd() error = %v", err)
	}
	if err := cb.End(); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if err := s.RunCommandBuffer(context.Background(), cb); err != nil {
		t.Fatalf("RunCommandBuffer() error = %v", err)
	}

	elapsed, ok := d.Elapsed()
	if !ok {
		t.Fatal("Elapsed() not measured after submission")
	}
	if elapsed < 0 {
		t.Errorf("Elapsed() = %v, want >= 0", elapsed)
	}
}

func TestCommandBuffer_UnclosedDuration(t *testing.T) {
	s := newTestSession(t)
	d, _ := s.CreateDuration()
	cb, _ := s.CreateCommandBuffer()
	if err := cb.Begin(); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := cb.DurationStart(d); err != nil {
		t.Fatalf("DurationStart() error = %v", err)
	}
	if err := cb.End(); !errors.Is(err, ErrInvalidDurationScope) {
		t.Errorf("End() with open duration error = %v, want ErrInvalidDurationScope", err)
	}
}

func TestCommandBuffer_OtherSession(t *testing.T) {
	s1 := newTestSession(t)
	s2 := newTestSession(t)
	n := initAddNode(t, s1, []uint32{1})

	cb, _ := s2.CreateCommandBuffer()
	if err := cb.Begin(); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := cb.Run(n); err == nil {
		t.Error("Run() of a node from another session succeeded")
	}
}

func TestCommandBuffer_ForeignResource(t *testing.T) {
	s1 := newTestSession(t)
	s2 := newTestSession(t)
	local := newTestBuffer(t, s1, []uint32{7, 7})
	foreign := newTestBuffer(t, s2, []uint32{1, 2})

	n, err := s1.CreateComputeNode("nodegraph_test/Add")
	if err != nil {
		t.Fatalf("CreateComputeNode() error = %v", err)
	}
	if err := n.Bind("in", foreign); !errors.Is(err, ErrForeignResource) {
		t.Errorf("Bind() of another session's buffer error = %v, want ErrForeignResource", err)
	}

	cb, _ := s1.CreateCommandBuffer()
	if err := cb.Begin(); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := cb.CopyBuffer(foreign, local); !errors.Is(err, ErrForeignResource) {
		t.Errorf("CopyBuffer() from another session error = %v, want ErrForeignResource", err)
	}
	if got := readWords(t, local); got[0] != 7 || got[1] != 7 {
		t.Errorf("local buffer = %v, want [7 7]", got)
	}
}

func TestSession_Debug(t *testing.T) {
	s := newTestSession(t, WithDebug(true))
	ctx := context.Background()
	if !s.IsDebugEnabled() {
		t.Fatal("IsDebugEnabled() = false")
	}

	mem, err := s.CreateMemory(MemoryDeviceLocal, 0)
	if err != nil {
		t.Fatalf("CreateMemory() error = %v", err)
	}
	// No TransferSrc: the copy is flagged but still executes.
	src, err := mem.CreateBuffer(8, BufferUsageStorage|BufferUsageTransferDst)
	if err != nil {
		t.Fatalf("CreateBuffer() error = %v", err)
	}
	if err := src.FromHost(ctx, []byte{1, 2, 3, 4, 5, 6, 7, 8}); err != nil {
		t.Fatalf("FromHost() error = %v", err)
	}
	if s.HasReceivedWarningMessages() {
		t.Fatal("HasReceivedWarningMessages() = true after a valid upload")
	}

	dst := newTestBuffer(t, s, []uint32{0, 0})
	if err := src.CopyTo(ctx, dst); err != nil {
		t.Fatalf("CopyTo() error = %v", err)
	}
	if !s.HasReceivedWarningMessages() {
		t.Error("HasReceivedWarningMessages() = false after copy from a buffer without TransferSrc")
	}
	if s.HasReceivedWarningMessages() {
		t.Error("HasReceivedWarningMessages() did not reset on read")
	}
	if got := readWords(t, dst); got[0] != 0x04030201 {
		t.Errorf("dst[0] = %#x, want 0x04030201", got[0])
	}
	if msgs := s.WarningMessages(); len(msgs) == 0 {
		t.Error("WarningMessages() is empty")
	}
}

func TestSession_DebugDisabled(t *testing.T) {
	s := newTestSession(t)
	mem, err := s.CreateMemory(MemoryDeviceLocal, 0)
	if err != nil {
		t.Fatalf("CreateMemory() error = %v", err)
	}
	src, err := mem.CreateBuffer(8, BufferUsageStorage)
	if err != nil {
		t.Fatalf("CreateBuffer() error = %v", err)
	}
	dst := newTestBuffer(t, s, []uint32{0, 0})
	if err := src.CopyTo(context.Background(), dst); !errors.Is(err, ErrInvalidUsage) {
		t.Errorf("CopyTo() error = %v, want ErrInvalidUsage", err)
	}
	if s.HasReceivedWarningMessages() {
		t.Error("HasReceivedWarningMessages() = true without debug")
	}
}
