package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/beevik/ntp"

	"github.com/rippleFCL/meshmon/internal/check"
)

const (
	defaultNTPPool      = "pool.ntp.org"
	defaultNTPInterval  = 60 * time.Second
	defaultNTPThreshold = 500 * time.Millisecond
)

// NTPPhase is the health of the local node's wall clock against an
// external NTP pool, independent of the peer-to-peer clock sync
// pulse/delta mechanism in ClockTableHandler. A node whose own clock
// has drifted can still compute consistent deltas relative to its
// peers, but an operator needs to know the mesh's absolute notion of
// "now" may itself be off.
type NTPPhase uint8

const (
	NTPUnchecked NTPPhase = iota + 1
	NTPHealthy
	NTPUnhealthyOffset
	NTPError
)

func (p NTPPhase) String() string {
	switch p {
	case NTPUnchecked:
		return "unchecked"
	case NTPHealthy:
		return "healthy"
	case NTPUnhealthyOffset:
		return "unhealthy_offset"
	case NTPError:
		return "error"
	default:
		return "unknown"
	}
}

func (p NTPPhase) transition(to NTPPhase) NTPPhase {
	ok := false
	switch p {
	case NTPUnchecked:
		ok = to == NTPHealthy || to == NTPUnhealthyOffset || to == NTPError
	case NTPHealthy:
		ok = to == NTPUnhealthyOffset || to == NTPError
	case NTPUnhealthyOffset:
		ok = to == NTPHealthy || to == NTPError
	case NTPError:
		ok = to == NTPHealthy || to == NTPUnhealthyOffset || to == NTPError
	}
	check.Assertf(ok, "ntp transition: %s -> %s", p, to)
	if !ok {
		return p
	}
	return to
}

// NTPStatus is the outcome of the most recent sanity check.
type NTPStatus struct {
	Offset    time.Duration
	Phase     NTPPhase
	Error     string
	CheckedAt time.Time
}

// NTPSanityChecker periodically queries an external NTP pool and
// records whether the local wall clock is within tolerance. It runs
// independently of the update dispatch engine (there is no path in the
// store for it to watch) and is driven by its own ticker via Run.
type NTPSanityChecker struct {
	mu        sync.RWMutex
	status    NTPStatus
	pool      string
	interval  time.Duration
	threshold time.Duration

	queryFunc func(pool string) (*ntp.Response, error)
}

func NewNTPSanityChecker() *NTPSanityChecker {
	return &NTPSanityChecker{
		pool:      defaultNTPPool,
		interval:  defaultNTPInterval,
		threshold: defaultNTPThreshold,
		status:    NTPStatus{Phase: NTPUnchecked},
		queryFunc: ntp.Query,
	}
}

func (n *NTPSanityChecker) Run(ctx context.Context) {
	n.check()

	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.check()
		}
	}
}

func (n *NTPSanityChecker) check() {
	resp, err := n.queryFunc(n.pool)

	n.mu.Lock()
	defer n.mu.Unlock()

	now := time.Now().UTC()
	if err != nil {
		n.status = NTPStatus{Error: err.Error(), Phase: n.status.Phase.transition(NTPError), CheckedAt: now}
		return
	}

	phase := n.status.Phase.transition(NTPUnhealthyOffset)
	if resp.ClockOffset.Abs() < n.threshold {
		phase = n.status.Phase.transition(NTPHealthy)
	}
	n.status = NTPStatus{Offset: resp.ClockOffset, Phase: phase, CheckedAt: now}
}

func (n *NTPSanityChecker) Status() NTPStatus {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.status
}
