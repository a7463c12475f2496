package gateway

import (
	"github.com/watertreat/scada-core/internal/model"
	"github.com/watertreat/scada-core/internal/regmap"
	"github.com/watertreat/scada-core/internal/scadaerr"
)

// readRaw fetches the raw (pre-scaling) value a register or coil mapping's
// data source currently holds (spec §4.4 "Read path per register").
func (g *Gateway) readRaw(src regmap.DataSource, lk regmap.Linkage) (float64, error) {
	switch src {
	case regmap.ProfinetSensor:
		rec, err := g.reg.GetSensor(model.StationSlot{Station: lk.Station, Slot: lk.Slot})
		if err != nil {
			return 0, err
		}
		return rec.Value, nil

	case regmap.ProfinetActuator:
		rec, err := g.reg.GetActuator(model.StationSlot{Station: lk.Station, Slot: lk.Slot})
		if err != nil {
			return 0, err
		}
		return float64(rec.PWMDuty), nil

	case regmap.PIDSetpoint:
		if g.pid == nil {
			return 0, scadaerr.New(scadaerr.NotConnected, "no PID subsystem wired")
		}
		return g.pid.GetSetpoint(lk.PIDLoopID)

	case regmap.PIDPV:
		if g.pid == nil {
			return 0, scadaerr.New(scadaerr.NotConnected, "no PID subsystem wired")
		}
		return g.pid.GetPV(lk.PIDLoopID)

	case regmap.PIDCV:
		if g.pid == nil {
			return 0, scadaerr.New(scadaerr.NotConnected, "no PID subsystem wired")
		}
		return g.pid.GetCV(lk.PIDLoopID)

	case regmap.ModbusClient:
		dc := g.downstreamFor(lk.DownstreamSlave)
		if dc == nil {
			return 0, scadaerr.New(scadaerr.NotFound, "unknown downstream slave "+lk.DownstreamSlave)
		}
		return dc.CachedValue(lk.RemoteAddr)

	default:
		return 0, scadaerr.New(scadaerr.InvalidParam, "unknown data source")
	}
}

// writeRaw routes a reverse-scaled raw value to a register or coil
// mapping's data source (spec §4.4 "Write path per register").
func (g *Gateway) writeRaw(src regmap.DataSource, lk regmap.Linkage, raw float64) error {
	switch src {
	case regmap.ProfinetActuator:
		cmd := model.ActuatorOff
		if raw > 0 {
			cmd = model.ActuatorOn
		}
		return g.reg.UpdateActuator(model.StationSlot{Station: lk.Station, Slot: lk.Slot}, model.ActuatorRecord{
			Command: cmd,
			PWMDuty: uint8(raw),
		})

	case regmap.PIDSetpoint:
		if g.pid == nil {
			return scadaerr.New(scadaerr.NotConnected, "no PID subsystem wired")
		}
		return g.pid.SetSetpoint(lk.PIDLoopID, raw)

	case regmap.ModbusClient:
		dc := g.downstreamFor(lk.DownstreamSlave)
		if dc == nil {
			return scadaerr.New(scadaerr.NotFound, "unknown downstream slave "+lk.DownstreamSlave)
		}
		return dc.WriteRemote(lk.RemoteAddr, raw)

	default:
		return scadaerr.New(scadaerr.InvalidParam, "data source is not writable")
	}
}

func (g *Gateway) downstreamFor(name string) *DownstreamClient {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.downstream[name]
}
