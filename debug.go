package nodegraph

import (
	"sync"

	"github.com/gogpu/nodegraph/driver/validation"
)

// debugChannel collects validation messages for a Session.
//
// The warning flag is set by every warning or error message and cleared by
// hasWarnings, so each query reports what happened since the previous one.
type debugChannel struct {
	mu       sync.Mutex
	warned   bool
	messages []validation.Message
}

func (c *debugChannel) receive(m validation.Message) {
	c.mu.Lock()
	c.messages = append(c.messages, m)
	if m.Severity >= validation.SeverityWarning {
		c.warned = true
	}
	c.mu.Unlock()

	if m.Severity >= validation.SeverityWarning {
		Logger().Warn("nodegraph: validation", "message", m.Text)
	} else {
		Logger().Debug("nodegraph: validation", "message", m.Text)
	}
}

func (c *debugChannel) hasWarnings() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := c.warned
	c.warned = false
	return w
}

func (c *debugChannel) drain() []validation.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.messages
	c.messages = nil
	return out
}

// HasReceivedWarningMessages reports whether the validation layer recorded
// a warning since the previous call. Reading the flag clears it.
//
// It always returns false for sessions created without WithDebug(true).
func (s *Session) HasReceivedWarningMessages() bool {
	return s.debug.hasWarnings()
}

// WarningMessages returns and clears the validation messages recorded so
// far. It does not affect HasReceivedWarningMessages.
func (s *Session) WarningMessages() []validation.Message {
	return s.debug.drain()
}

// IsDebugEnabled reports whether the session runs with validation.
func (s *Session) IsDebugEnabled() bool { return s.debugEnabled }
