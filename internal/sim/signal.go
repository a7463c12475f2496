package sim

import (
	"math"
	"math/rand"
	"time"

	"github.com/watertreat/scada-core/internal/model"
)

// IOPSGood mirrors the cyclic engine's IOxS "good" status byte (spec §4.3);
// the simulator sets it on every sample since it never models a degraded
// submodule.
const IOPSGood = 0x80

// SignalConfig describes one synthesized sensor signal: a sinusoid plus a
// linear trend plus Gaussian noise, clamped to [Min, Max], with alarm bands
// that downgrade the record's quality (spec §4.6 "sinusoid+noise+trend
// signal per sensor with configurable limits and alarm bands").
type SignalConfig struct {
	Key model.StationSlot

	Bias           float64
	Amplitude      float64
	Period         time.Duration
	NoiseStdDev    float64
	TrendPerSecond float64

	Min, Max           float64
	AlarmLow, AlarmHigh float64

	// ActuatorKey, when non-nil, names an actuator slot whose commanded
	// ON/PWM state adds ActuatorEffect (per second) to the trend term, so a
	// simulated tank level responds to a simulated pump the same way a real
	// process would (spec §4.6 "responds to update_actuator calls").
	ActuatorKey    *model.StationSlot
	ActuatorEffect float64
}

// generator is one running instance of a SignalConfig: the config plus the
// per-signal PRNG and time origin.
type generator struct {
	cfg   SignalConfig
	start time.Time
	rng   *rand.Rand
}

func newGenerator(cfg SignalConfig, start time.Time, seed int64) *generator {
	return &generator{cfg: cfg, start: start, rng: rand.New(rand.NewSource(seed))}
}

// sample computes the signal's value at `now`, folding in actuatorBoost (an
// additional per-second trend term derived from a linked actuator's current
// command), and clamps to [Min, Max].
func (g *generator) sample(now time.Time, actuatorBoost float64) float64 {
	t := now.Sub(g.start).Seconds()
	cfg := g.cfg

	v := cfg.Bias
	if cfg.Period > 0 {
		v += cfg.Amplitude * math.Sin(2*math.Pi*t/cfg.Period.Seconds())
	}
	v += (cfg.TrendPerSecond + actuatorBoost) * t
	if cfg.NoiseStdDev > 0 {
		v += g.rng.NormFloat64() * cfg.NoiseStdDev
	}

	if cfg.Max > cfg.Min {
		if v > cfg.Max {
			v = cfg.Max
		}
		if v < cfg.Min {
			v = cfg.Min
		}
	}
	return v
}

// quality classifies v against the configured alarm band (spec §4.6
// "configurable limits and alarm bands"): outside the band reports
// UNCERTAIN rather than failing the read outright, since the signal is
// still being produced, just out of normal range.
func (g *generator) quality(v float64) model.Quality {
	cfg := g.cfg
	if cfg.AlarmHigh > cfg.AlarmLow && (v <= cfg.AlarmLow || v >= cfg.AlarmHigh) {
		return model.QualityUncertain
	}
	return model.QualityGood
}
