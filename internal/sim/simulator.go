// Package sim is simulation mode: a virtual RTU that populates the same
// Registry the live Cyclic Exchange writes to, so the Modbus gateway and any
// downstream consumer cannot tell a simulated sensor from a live one (spec
// §4.6 "interchangeable with the live Cyclic Exchange behind the registry
// interface").
package sim

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/watertreat/scada-core/internal/model"
	"github.com/watertreat/scada-core/internal/registry"
	"github.com/watertreat/scada-core/internal/scadaerr"
)

// DefaultTickPeriod is how often the simulator recomputes every configured
// signal and writes it to the registry.
const DefaultTickPeriod = 500 * time.Millisecond

// Simulator owns the signal set and the ticker goroutine. One lock covers
// the generator map, matching the single-lock-per-collaborator discipline
// used throughout the rest of the core.
type Simulator struct {
	mu         sync.Mutex
	generators map[model.StationSlot]*generator

	reg    registry.Registry
	period time.Duration
	log    *logrus.Entry

	stopCh chan struct{}
	doneCh chan struct{}
	wg     sync.WaitGroup
}

// Options bundles Simulator's collaborators at construction.
type Options struct {
	Registry   registry.Registry
	TickPeriod time.Duration // 0 defaults to DefaultTickPeriod
	Logger     *logrus.Logger
}

func New(opts Options) *Simulator {
	period := opts.TickPeriod
	if period <= 0 {
		period = DefaultTickPeriod
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Simulator{
		generators: make(map[model.StationSlot]*generator),
		reg:        opts.Registry,
		period:     period,
		log:        logger.WithField("component", "sim"),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// AddSignal registers cfg as a new simulated sensor, seeded from seed so two
// simulators started with the same seed set produce identical traces.
func (s *Simulator) AddSignal(cfg SignalConfig, seed int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generators[cfg.Key] = newGenerator(cfg, time.Now(), seed)
}

// Start launches the tick goroutine, mirroring the cyclic engine's
// stopCh/doneCh/ticker shape (internal/cyclic's Engine.outputLoop).
func (s *Simulator) Start() {
	s.wg.Add(1)
	go s.run()
}

// Stop signals the tick goroutine to exit and waits for it.
func (s *Simulator) Stop() {
	close(s.stopCh)
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		s.log.Warn("timeout waiting for simulator goroutine to stop")
	}
}

func (s *Simulator) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.Tick(now)
		}
	}
}

// Tick recomputes every configured signal at `now` and writes it to the
// registry. Exported so callers (and tests) can drive the simulator
// deterministically instead of waiting on the ticker.
func (s *Simulator) Tick(now time.Time) {
	s.mu.Lock()
	gens := make([]*generator, 0, len(s.generators))
	for _, g := range s.generators {
		gens = append(gens, g)
	}
	s.mu.Unlock()

	for _, g := range gens {
		boost := s.actuatorBoost(g.cfg)
		v := g.sample(now, boost)
		err := s.reg.UpdateSensor(g.cfg.Key, model.SensorRecord{
			Value:   v,
			Quality: g.quality(v),
			IOPS:    IOPSGood,
		})
		if err != nil {
			s.log.WithField("station", g.cfg.Key.Station).WithError(err).Warn("simulated sensor update failed")
		}
	}
}

// actuatorBoost reads the linked actuator's current command (if any) and
// turns it into the trend-rate addend sample() expects (spec §4.6
// "responds to update_actuator calls").
func (s *Simulator) actuatorBoost(cfg SignalConfig) float64 {
	if cfg.ActuatorKey == nil {
		return 0
	}
	rec, err := s.reg.GetActuator(*cfg.ActuatorKey)
	if err != nil {
		if !scadaerr.Is(err, scadaerr.NotFound) {
			s.log.WithError(err).Warn("actuator lookup failed for linked signal")
		}
		return 0
	}
	if rec.Command == model.ActuatorOff {
		return 0
	}
	return cfg.ActuatorEffect
}
