package nodegraph

import (
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/nodegraph/driver"
)

// Duration measures the device time between DurationStart and DurationEnd
// of a command buffer. Elapsed holds the value of the latest submission.
type Duration struct {
	session *Session
	id      uint32

	mu      sync.Mutex
	elapsed time.Duration
	valid   bool
}

// CreateDuration returns a new Duration.
func (s *Session) CreateDuration() (*Duration, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return &Duration{session: s, id: s.durations.Add(1)}, nil
}

// Elapsed returns the measured time and whether a submission has measured
// it yet.
func (d *Duration) Elapsed() (time.Duration, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.elapsed, d.valid
}

func (d *Duration) String() string {
	e, ok := d.Elapsed()
	if !ok {
		return fmt.Sprintf("Duration#%d[unmeasured]", d.id)
	}
	return fmt.Sprintf("Duration#%d[%v]", d.id, e)
}

// durationSpan is a bracket recorded in one command buffer.
type durationSpan struct {
	d          *Duration
	start, end uint32
}

func (s durationSpan) update(res *driver.SubmitResult) {
	start, ok1 := res.Timestamps[s.start]
	end, ok2 := res.Timestamps[s.end]
	if !ok1 || !ok2 {
		return
	}
	s.d.mu.Lock()
	s.d.elapsed = end - start
	s.d.valid = true
	s.d.mu.Unlock()
}
