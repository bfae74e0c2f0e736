package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Evictor is anything holding finished work that can be dropped after a
// retention period.
type Evictor interface {
	Evict(cutoff time.Time) int
}

// Janitor periodically evicts finished jobs (and imports) from memory.
type Janitor struct {
	cron      *cron.Cron
	retention time.Duration
	targets   []Evictor
}

// NewJanitor creates a Janitor that runs on schedule (a cron expression such as
// "@every 1m") and drops entries finished more than retention ago.
func NewJanitor(schedule string, retention time.Duration, targets ...Evictor) (*Janitor, error) {
	j := &Janitor{
		cron:      cron.New(),
		retention: retention,
		targets:   targets,
	}
	if _, err := j.cron.AddFunc(schedule, j.Sweep); err != nil {
		return nil, fmt.Errorf("janitor schedule %q: %w", schedule, err)
	}
	return j, nil
}

func (j *Janitor) Start() { j.cron.Start() }

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// Sweep evicts everything older than the retention period once.
func (j *Janitor) Sweep() {
	cutoff := time.Now().Add(-j.retention)
	total := 0
	for _, t := range j.targets {
		total += t.Evict(cutoff)
	}
	if total > 0 {
		slog.Info("janitor evicted finished entries", "count", total)
	}
}
