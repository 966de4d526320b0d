package nodegraph

import "errors"

// Configuration errors.
var (
	// ErrUnsupportedMemoryFlags is returned when no device memory type
	// satisfies the requested property flags.
	ErrUnsupportedMemoryFlags = errors.New("nodegraph: unsupported memory flags")

	// ErrUnknownBuilder is returned when a builder name is not registered.
	ErrUnknownBuilder = errors.New("nodegraph: unknown node builder")

	// ErrBuilderTypeMismatch is returned when a builder name resolves to a
	// node kind other than the one requested.
	ErrBuilderTypeMismatch = errors.New("nodegraph: node builder type mismatch")

	// ErrCyclicBuilderDependency is returned when container builders
	// reference each other in a cycle.
	ErrCyclicBuilderDependency = errors.New("nodegraph: cyclic node builder dependency")

	// ErrUnknownProgram is returned when a program name is not in the
	// program table.
	ErrUnknownProgram = errors.New("nodegraph: unknown program")

	// ErrInvalidScript is returned for malformed builder scripts or libraries.
	ErrInvalidScript = errors.New("nodegraph: invalid builder script")

	// ErrSessionClosed is returned when using a closed session.
	ErrSessionClosed = errors.New("nodegraph: session closed")
)

// Resource errors.
var (
	// ErrInvalidSize is returned for zero-sized buffers.
	ErrInvalidSize = errors.New("nodegraph: invalid size")

	// ErrInvalidShape is returned for images with a zero dimension, a
	// channel count outside [1,4] or an unknown channel type.
	ErrInvalidShape = errors.New("nodegraph: invalid shape")

	// ErrSizeMismatch is returned when host data or a copy destination does
	// not match the size of a resource.
	ErrSizeMismatch = errors.New("nodegraph: size mismatch")

	// ErrInvalidUsage is returned when a resource lacks the usage flag an
	// operation requires and validation is disabled.
	ErrInvalidUsage = errors.New("nodegraph: invalid resource usage")

	// ErrReleased is returned when using a released resource.
	ErrReleased = errors.New("nodegraph: resource released")

	// ErrForeignResource is returned when a resource from another session
	// is bound to a port or recorded into a command buffer.
	ErrForeignResource = errors.New("nodegraph: resource belongs to another session")
)

// Binding errors.
var (
	// ErrPortTypeMismatch is returned when a resource does not match the
	// declared port type.
	ErrPortTypeMismatch = errors.New("nodegraph: port type mismatch")

	// ErrUnknownPort is returned for an unrecognized port name.
	ErrUnknownPort = errors.New("nodegraph: unknown port")

	// ErrPortCheckFailed is returned when a resource fails one of the
	// optional port checks (channel count, channel type, coordinates).
	ErrPortCheckFailed = errors.New("nodegraph: port check failed")

	// ErrUnknownParameter is returned for an undeclared parameter.
	ErrUnknownParameter = errors.New("nodegraph: unknown parameter")

	// ErrParameterTypeMismatch is returned when a value's type differs from
	// the declared parameter type.
	ErrParameterTypeMismatch = errors.New("nodegraph: parameter type mismatch")

	// ErrInvalidParameter is returned when a parameter value is outside the
	// range a builder accepts.
	ErrInvalidParameter = errors.New("nodegraph: invalid parameter value")

	// ErrMissingBinding is returned by Init when a mandatory port is unbound.
	ErrMissingBinding = errors.New("nodegraph: missing port binding")

	// ErrUnresolvedOutputShape is returned by Init when an output shape
	// cannot be derived.
	ErrUnresolvedOutputShape = errors.New("nodegraph: unresolved output shape")

	// ErrInvalidGridShape is returned when a dispatch grid or local shape is
	// zero or exceeds device limits.
	ErrInvalidGridShape = errors.New("nodegraph: invalid grid shape")
)

// Lifecycle errors.
var (
	// ErrNotInitialized is returned when running a node before Init.
	ErrNotInitialized = errors.New("nodegraph: node not initialized")

	// ErrAlreadyInitialized is returned by Init on an initialized node and by
	// Bind/SetParameter after Init.
	ErrAlreadyInitialized = errors.New("nodegraph: node already initialized")

	// ErrNodeFailed is returned when using a node in the RunError state.
	ErrNodeFailed = errors.New("nodegraph: node in error state")

	// ErrNotRecording is returned when recording outside Begin/End.
	ErrNotRecording = errors.New("nodegraph: command buffer not recording")

	// ErrNotRecorded is returned when submitting a command buffer that was
	// never ended.
	ErrNotRecorded = errors.New("nodegraph: command buffer not recorded")

	// ErrInvalidDurationScope is returned for nested or unbalanced duration
	// brackets.
	ErrInvalidDurationScope = errors.New("nodegraph: invalid duration scope")
)
