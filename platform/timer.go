package platform

import (
	"sync"
	"time"

	"github.com/joeycumines/go-microkern/interrupt"
	"github.com/joeycumines/go-microkern/oserror"
)

// PIT is the real-time timer source: a goroutine paced by a time.Ticker
// posts the scheduler timer vector at the armed frequency. The posting
// goroutine never touches kernel state; delivery happens on the CPU at the
// next instruction boundary.
type PIT struct {
	mu    sync.Mutex
	table *interrupt.Table
	hz    uint32
	stop  chan struct{}
	done  chan struct{}
}

// NewPIT returns an unarmed real-time timer source.
func NewPIT() *PIT {
	return &PIT{}
}

// Arm binds the timer to table, programs it at hz, and registers h on the
// timer vector.
func (p *PIT) Arm(table *interrupt.Table, hz uint32, h interrupt.Handler) error {
	if table == nil {
		return oserror.NullPointer
	}
	if hz < MinTimerHz || hz > MaxTimerHz {
		return oserror.OutOfBound
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.hz != 0 {
		return oserror.UnauthorizedAction
	}
	if err := table.Register(interrupt.SchedTimerLine, h); err != nil {
		return err
	}

	p.table = table
	p.hz = hz
	p.stop = make(chan struct{})
	p.done = make(chan struct{})

	period := time.Second / time.Duration(hz)
	go func(stop, done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = table.Post(interrupt.SchedTimerLine)
			case <-stop:
				return
			}
		}
	}(p.stop, p.done)

	return nil
}

// Stop disarms the timer and removes its handler.
func (p *PIT) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.hz == 0 {
		return oserror.UnauthorizedAction
	}

	close(p.stop)
	<-p.done
	p.hz = 0

	return p.table.Remove(interrupt.SchedTimerLine)
}

// Hz returns the armed frequency, or zero.
func (p *PIT) Hz() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hz
}

// ManualTimer is the deterministic timer source used by tests: ticks only
// happen when Tick is called.
type ManualTimer struct {
	mu    sync.Mutex
	table *interrupt.Table
	hz    uint32
}

// NewManualTimer returns an unarmed manual source.
func NewManualTimer() *ManualTimer {
	return &ManualTimer{}
}

// Arm binds the source to table and registers h on the timer vector; the
// frequency only scales tick durations, no goroutine is started.
func (m *ManualTimer) Arm(table *interrupt.Table, hz uint32, h interrupt.Handler) error {
	if table == nil {
		return oserror.NullPointer
	}
	if hz < MinTimerHz || hz > MaxTimerHz {
		return oserror.OutOfBound
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.hz != 0 {
		return oserror.UnauthorizedAction
	}
	if err := table.Register(interrupt.SchedTimerLine, h); err != nil {
		return err
	}
	m.table = table
	m.hz = hz
	return nil
}

// Stop disarms the source.
func (m *ManualTimer) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.hz == 0 {
		return oserror.UnauthorizedAction
	}
	m.hz = 0
	return m.table.Remove(interrupt.SchedTimerLine)
}

// Hz returns the armed frequency, or zero.
func (m *ManualTimer) Hz() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hz
}

// Tick posts n timer interrupts. Each is delivered at the CPU's next
// instruction boundary; posting while unarmed is a no-op.
func (m *ManualTimer) Tick(n int) {
	m.mu.Lock()
	table := m.table
	armed := m.hz != 0
	m.mu.Unlock()
	if table == nil || !armed {
		return
	}
	for i := 0; i < n; i++ {
		_ = table.Post(interrupt.SchedTimerLine)
	}
}
