package certs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/josystem/webhost/internal/logging"
)

// DefaultCheckSchedule runs the certificate check once a day.
const DefaultCheckSchedule = "@daily"

// Maintainer re-runs Provision on a cron schedule and reports a changed
// leaf to OnChange, so a running listener can swap certificates without a
// restart.
type Maintainer struct {
	prov     *Provisioner
	onChange func(*Leaf)
	timeout  time.Duration

	cron    *cron.Cron
	entryID cron.EntryID

	mu      sync.Mutex
	current string
}

// NewMaintainer schedules checks on schedule (empty = daily). current is
// the leaf already in use.
func NewMaintainer(prov *Provisioner, schedule string, current *Leaf, onChange func(*Leaf)) (*Maintainer, error) {
	if schedule == "" {
		schedule = DefaultCheckSchedule
	}

	m := &Maintainer{
		prov:     prov,
		onChange: onChange,
		timeout:  time.Minute,
		cron:     cron.New(),
	}
	if current != nil && current.Identity != nil {
		m.current = current.Identity.Thumbprint()
	}

	id, err := m.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		if _, err := m.Check(ctx); err != nil {
			logging.Warn("Scheduled certificate check failed", zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid certificate check schedule %q: %w", schedule, err)
	}
	m.entryID = id
	return m, nil
}

// Start begins the schedule.
func (m *Maintainer) Start() {
	m.cron.Start()
}

// Stop halts the schedule and waits for a running check to finish.
func (m *Maintainer) Stop() {
	<-m.cron.Stop().Done()
}

// Next returns the next scheduled run, zero before Start.
func (m *Maintainer) Next() time.Time {
	return m.cron.Entry(m.entryID).Next
}

// Check provisions once and calls OnChange when the leaf differs from the
// one in use. It reports whether a change was delivered.
func (m *Maintainer) Check(ctx context.Context) (bool, error) {
	leaf, err := m.prov.Provision(ctx)
	if err != nil {
		return false, err
	}

	thumb := leaf.Identity.Thumbprint()
	m.mu.Lock()
	changed := thumb != m.current
	m.current = thumb
	m.mu.Unlock()

	if !changed {
		logging.Debug("Certificate check: leaf unchanged", zap.String("thumbprint", thumb))
		return false, nil
	}

	logging.Info("Certificate check: leaf replaced", zap.String("thumbprint", thumb))
	if m.onChange != nil {
		m.onChange(leaf)
	}
	return true, nil
}
