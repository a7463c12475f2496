// Package discovery is the abstract device-discovery collaborator the AR
// Manager's resilient-connect policy consults to re-identify a station by
// name (spec §4.1, §1 "Device discovery (DCP)... out of scope"). DCP itself
// (broadcast identify/set over raw Ethernet) is not implemented; this
// package only holds and serves the discovered-IP table a DCP listener (or
// an operator tool, or a static site survey) would populate.
package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/watertreat/scada-core/internal/model"
)

// DefaultTimeout is the Table's stored timeout when Options.Timeout is zero.
// Identify is an immediate lookup and does not consult it; the AR manager
// wraps calls with its own deadline (spec §4.1 "discovery timeout + 200ms").
const DefaultTimeout = 2 * time.Second

// Table is a static, updatable station-name -> IP lookup implementing
// armanager.DiscoveryHandle. One lock covers the map, matching the
// one-lock-per-collaborator discipline used throughout the rest of the core.
type Table struct {
	mu      sync.RWMutex
	byName  map[string]model.IPv4
	timeout time.Duration
	log     *logrus.Entry
}

// Options bundles Table's construction parameters.
type Options struct {
	Timeout time.Duration // 0 defaults to DefaultTimeout
	Logger  *logrus.Logger
}

func New(opts Options) *Table {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Table{
		byName:  make(map[string]model.IPv4),
		timeout: timeout,
		log:     logger.WithField("component", "discovery"),
	}
}

// Seed bulk-loads an initial station -> IP table, e.g. from the static site
// survey in a loaded configuration file.
func (t *Table) Seed(entries map[string]model.IPv4) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for name, ip := range entries {
		t.byName[name] = ip
	}
}

// Update records a freshly discovered (or re-discovered) station's IP. A
// real DCP listener calls this whenever an Identify Response or Hello frame
// names a station; this package does not itself listen for those frames.
func (t *Table) Update(stationName string, ip model.IPv4) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byName[stationName] = ip
	t.log.WithFields(logrus.Fields{"station": stationName, "ip": ip.String()}).Debug("discovery table updated")
}

// Forget removes a station from the table, e.g. after an operator confirms
// it has been decommissioned.
func (t *Table) Forget(stationName string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byName, stationName)
}

// Identify implements armanager.DiscoveryHandle: an immediate table lookup.
// t.timeout is not consulted here (a static table has nothing to wait on);
// it documents the bound a networked DCP-backed implementation would honor,
// and Update/Seed are how such an implementation would keep this table
// fresh.
func (t *Table) Identify(ctx context.Context, stationName string) (model.IPv4, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.IPv4{}, false, err
	}
	t.mu.RLock()
	ip, ok := t.byName[stationName]
	t.mu.RUnlock()
	return ip, ok, nil
}
