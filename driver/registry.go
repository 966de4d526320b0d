package driver

import (
	"fmt"
	"sort"

	"github.com/gogpu/gpucontext"
)

// Driver names.
const (
	NameWGPU     = "wgpu"
	NameSoftware = "software"
)

// Driver opens devices. Drivers register themselves from init() functions
// in their packages, for example:
//
//	import _ "github.com/gogpu/nodegraph/driver/software"
type Driver interface {
	// Name returns the registry name (e.g., "software", "wgpu").
	Name() string

	// Open creates a new device.
	Open() (Device, error)
}

// Priority order for driver selection (first that opens wins).
var priority = []string{NameWGPU, NameSoftware}

var registry = gpucontext.NewRegistry[Driver](gpucontext.WithPriority(priority...))

// Register registers a driver factory with the given name.
// If a driver with the same name is already registered, it is replaced.
func Register(name string, factory func() Driver) {
	registry.Register(name, factory)
}

// Unregister removes a driver from the registry.
// This is useful for testing.
func Unregister(name string) {
	registry.Unregister(name)
}

// Available returns the registered driver names, sorted.
func Available() []string {
	names := registry.Available()
	sort.Strings(names)
	return names
}

// IsRegistered checks if a driver with the given name is registered.
func IsRegistered(name string) bool {
	return registry.Has(name)
}

// Open opens a device from the named driver.
func Open(name string) (Device, error) {
	if !registry.Has(name) {
		return nil, fmt.Errorf("%w: %q", ErrDriverNotAvailable, name)
	}
	d := registry.Get(name)
	if d == nil {
		return nil, fmt.Errorf("%w: %q", ErrDriverNotAvailable, name)
	}
	dev, err := d.Open()
	if err != nil {
		return nil, fmt.Errorf("driver %q: %w", name, err)
	}
	return dev, nil
}

// OpenDefault opens the best available device.
// Priority order: wgpu > software, then any other registered driver.
// A driver that fails to open is skipped.
func OpenDefault() (Device, error) {
	names := make([]string, 0, registry.Count())
	seen := make(map[string]bool)
	for _, name := range priority {
		if registry.Has(name) {
			names = append(names, name)
			seen[name] = true
		}
	}
	for _, name := range Available() {
		if !seen[name] {
			names = append(names, name)
		}
	}

	for _, name := range names {
		dev, err := Open(name)
		if err == nil {
			return dev, nil
		}
		Logger().Debug("driver unavailable", "driver", name, "err", err)
	}
	return nil, ErrDriverNotAvailable
}
