package config

import "fmt"

// Validate checks structural invariants Load cannot catch on its own:
// duplicate station names, colliding slot addresses within one station, and
// a controller identity sufficient to bring the AR manager up. Register-map
// level duplicates ((modbus_addr, register_type) collisions) are instead
// caught by regmap.RegisterMap.AddRegister at load/generate time, which already rejects
// them with scadaerr.AlreadyExists.
func Validate(cfg *Config) []error {
	var errs []error

	if cfg.ControllerMAC == "" {
		errs = append(errs, fmt.Errorf("controller_mac is required"))
	} else if _, err := ParseMAC(cfg.ControllerMAC); err != nil {
		errs = append(errs, err)
	}
	if cfg.ControllerIP != "" {
		if _, err := ParseIPv4(cfg.ControllerIP); err != nil {
			errs = append(errs, err)
		}
	}

	stationSeen := make(map[string]bool, len(cfg.RTUs))
	for _, rtu := range cfg.RTUs {
		if rtu.StationName == "" {
			errs = append(errs, fmt.Errorf("a configured RTU has an empty station_name"))
			continue
		}
		if stationSeen[rtu.StationName] {
			errs = append(errs, fmt.Errorf("duplicate station_name %q", rtu.StationName))
		}
		stationSeen[rtu.StationName] = true

		if _, err := ParseMAC(rtu.DeviceMAC); err != nil {
			errs = append(errs, fmt.Errorf("station %s: %w", rtu.StationName, err))
		}
		if _, err := ParseIPv4(rtu.DeviceIP); err != nil {
			errs = append(errs, fmt.Errorf("station %s: %w", rtu.StationName, err))
		}

		slotSeen := make(map[[2]uint16]bool, len(rtu.Slots))
		for _, slot := range rtu.Slots {
			key := [2]uint16{slot.Slot, slot.Subslot}
			if slotSeen[key] {
				errs = append(errs, fmt.Errorf("station %s: duplicate slot %d/%d", rtu.StationName, slot.Slot, slot.Subslot))
			}
			slotSeen[key] = true
			if _, err := parseDirection(slot.Direction); err != nil {
				errs = append(errs, fmt.Errorf("station %s slot %d/%d: %w", rtu.StationName, slot.Slot, slot.Subslot, err))
			}
		}
	}

	downstreamSeen := make(map[string]bool, len(cfg.Downstream))
	for _, ds := range cfg.Downstream {
		if ds.Name == "" {
			errs = append(errs, fmt.Errorf("a configured downstream client has an empty name"))
			continue
		}
		if downstreamSeen[ds.Name] {
			errs = append(errs, fmt.Errorf("duplicate downstream client name %q", ds.Name))
		}
		downstreamSeen[ds.Name] = true
		if ds.Transport != "tcp" && ds.Transport != "rtu" {
			errs = append(errs, fmt.Errorf("downstream %s: transport must be \"tcp\" or \"rtu\", got %q", ds.Name, ds.Transport))
		}
		if ds.Quantity == 0 {
			errs = append(errs, fmt.Errorf("downstream %s: quantity must be > 0", ds.Name))
		}
	}

	if !cfg.RegisterMap.AutoGenerate && cfg.RegisterMap.Path == "" {
		errs = append(errs, fmt.Errorf("register_map.path is required when auto_generate is false"))
	}

	if cfg.Simulation.Enabled {
		for i, sig := range cfg.Simulation.Signals {
			if sig.Station == "" {
				errs = append(errs, fmt.Errorf("simulation.signals[%d]: station is required", i))
			}
			if sig.Max <= sig.Min {
				errs = append(errs, fmt.Errorf("simulation.signals[%d]: max (%v) must be > min (%v)", i, sig.Max, sig.Min))
			}
		}
	}

	return errs
}
