package nodegraph

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/gogpu/nodegraph/driver"
	"github.com/gogpu/nodegraph/internal/alloc"
)

// MemoryFlags is a set of memory property flags.
type MemoryFlags = driver.MemoryFlags

// Memory property flags.
const (
	MemoryDeviceLocal  = driver.MemoryDeviceLocal
	MemoryHostVisible  = driver.MemoryHostVisible
	MemoryHostCoherent = driver.MemoryHostCoherent
	MemoryHostCached   = driver.MemoryHostCached
)

// MemoryStats contains usage statistics of one Memory.
type MemoryStats struct {
	// Pages is the number of device pages.
	Pages int

	// AllocatedBytes is the total size of all pages.
	AllocatedBytes uint64

	// UsedBytes is the size of live resources, alignment padding included.
	UsedBytes uint64

	// Resources is the number of live buffers and images.
	Resources int
}

// String returns a human-readable string of memory stats.
func (s MemoryStats) String() string {
	return fmt.Sprintf("Memory[%d pages, %s used of %s, %d resources]",
		s.Pages,
		humanize.IBytes(s.UsedBytes),
		humanize.IBytes(s.AllocatedBytes),
		s.Resources)
}

type memoryPage struct {
	id   driver.MemoryID
	size uint64
	free *alloc.FreeSpace
}

// allocation is an interval of a page held by one resource.
type allocation struct {
	page *memoryPage
	alloc.Allocation
}

// Memory is a pool of device pages sharing one set of property flags.
// Buffers and images are carved from its pages.
//
// When no page can hold a request a new page of max(PageSize, request)
// bytes is allocated; a page size of 0 gives every resource a page of its
// own size.
type Memory struct {
	session   *Session
	flags     MemoryFlags
	typeIndex int
	pageSize  uint64
	alignment uint64

	mu        sync.Mutex
	pages     []*memoryPage
	resources int
	released  bool
}

// CreateMemory creates a Memory from the first device memory type whose
// flags contain flags.
func (s *Session) CreateMemory(flags MemoryFlags, pageSize uint64) (*Memory, error) {
	s.memMu.Lock()
	defer s.memMu.Unlock()
	return s.createMemoryLocked(flags, pageSize, false)
}

// CreateMemoryExact is like CreateMemory but requires a memory type whose
// flags equal flags.
func (s *Session) CreateMemoryExact(flags MemoryFlags, pageSize uint64) (*Memory, error) {
	s.memMu.Lock()
	defer s.memMu.Unlock()
	return s.createMemoryLocked(flags, pageSize, true)
}

func (s *Session) createMemoryLocked(flags MemoryFlags, pageSize uint64, exact bool) (*Memory, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	typeIndex := -1
	for i, t := range s.dev.MemoryTypes() {
		if (exact && t.Flags == flags) || (!exact && t.Flags.Contains(flags)) {
			typeIndex = i
			break
		}
	}
	if typeIndex < 0 || flags == 0 {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedMemoryFlags, flags)
	}

	alignment := s.info.Limits.MinBufferAlignment
	if alignment == 0 {
		alignment = 1
	}
	m := &Memory{
		session:   s,
		flags:     flags,
		typeIndex: typeIndex,
		pageSize:  pageSize,
		alignment: alignment,
	}
	s.memories = append(s.memories, m)
	Logger().Debug("nodegraph: memory created", "flags", flags, "pageSize", pageSize, "type", typeIndex)
	return m, nil
}

// Session returns the owning session.
func (m *Memory) Session() *Session { return m.session }

// Flags returns the requested property flags.
func (m *Memory) Flags() MemoryFlags { return m.flags }

// PageSize returns the configured page size (0 for dynamically sized pages).
func (m *Memory) PageSize() uint64 { return m.pageSize }

// PageCount returns the number of device pages.
func (m *Memory) PageCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pages)
}

// IsHostVisible reports whether resources of this memory can be written
// directly by the host.
func (m *Memory) IsHostVisible() bool {
	return m.session.dev.MemoryTypes()[m.typeIndex].Flags.Contains(MemoryHostVisible)
}

// IsDeviceLocal reports whether the memory is device local.
func (m *Memory) IsDeviceLocal() bool {
	return m.session.dev.MemoryTypes()[m.typeIndex].Flags.Contains(MemoryDeviceLocal)
}

// Stats returns current usage statistics.
func (m *Memory) Stats() MemoryStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := MemoryStats{Pages: len(m.pages), Resources: m.resources}
	for _, p := range m.pages {
		st.AllocatedBytes += p.size
		st.UsedBytes += p.size - p.free.FreeBytes()
	}
	return st
}

func (m *Memory) String() string {
	return fmt.Sprintf("%v %v", m.flags, m.Stats())
}

// allocate reserves size bytes from an existing page or a new one.
func (m *Memory) allocate(size uint64) (allocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		return allocation{}, ErrReleased
	}

	for _, p := range m.pages {
		a, err := p.free.Allocate(size, m.alignment)
		if err == nil {
			m.resources++
			return allocation{page: p, Allocation: a}, nil
		}
		if !errors.Is(err, alloc.ErrNoSpace) {
			return allocation{}, err
		}
	}

	pageSize := max(m.pageSize, size)
	id, err := m.session.dev.AllocateMemory(m.typeIndex, pageSize)
	if err != nil {
		return allocation{}, fmt.Errorf("nodegraph: allocate %s page: %w", humanize.IBytes(pageSize), err)
	}
	p := &memoryPage{id: id, size: pageSize, free: alloc.NewFreeSpace(pageSize)}
	m.pages = append(m.pages, p)
	Logger().Debug("nodegraph: page allocated", "flags", m.flags, "size", pageSize, "pages", len(m.pages))

	a, err := p.free.Allocate(size, m.alignment)
	if err != nil {
		return allocation{}, err
	}
	m.resources++
	return allocation{page: p, Allocation: a}, nil
}

// free returns an allocation to its page.
func (m *Memory) free(a allocation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released || a.page == nil {
		return
	}
	if err := a.page.free.Release(a.Allocation); err != nil {
		Logger().Warn("nodegraph: release allocation", "err", err)
		return
	}
	m.resources--
}

// release frees every page. Resources still placed in them become invalid.
func (m *Memory) release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		return
	}
	m.released = true
	for _, p := range m.pages {
		m.session.dev.FreeMemory(p.id)
	}
	m.pages = nil
}
