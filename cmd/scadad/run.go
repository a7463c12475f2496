package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/watertreat/scada-core/internal/armanager"
	"github.com/watertreat/scada-core/internal/config"
	"github.com/watertreat/scada-core/internal/cyclic"
	"github.com/watertreat/scada-core/internal/discovery"
	"github.com/watertreat/scada-core/internal/ether"
	"github.com/watertreat/scada-core/internal/gateway"
	"github.com/watertreat/scada-core/internal/modbus"
	"github.com/watertreat/scada-core/internal/model"
	"github.com/watertreat/scada-core/internal/regmap"
	"github.com/watertreat/scada-core/internal/registry"
	"github.com/watertreat/scada-core/internal/sim"
)

const downstreamTickPeriod = 100 * time.Millisecond
const arProcessTickPeriod = 100 * time.Millisecond

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "start the gateway core against a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCore(*configPath)
		},
	}
}

func runCore(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		return fmt.Errorf("config: %d error(s), first: %w", len(errs), errs[0])
	}

	log := newLogger(cfg.LogLevel)
	reg := registry.NewStore()

	devices, err := cfg.ToDeviceConfigs()
	if err != nil {
		return err
	}

	rm, err := loadOrGenerateRegisterMap(cfg, devices)
	if err != nil {
		return err
	}
	rm.SetStrictAddressing(cfg.RegisterMap.Strict)

	gw := gateway.New(gateway.Options{RegisterMap: rm, Registry: reg, Logger: log})
	if err := wireDownstream(gw, cfg, log); err != nil {
		return err
	}

	tcpSrv := modbus.NewTCPServer(cfg.ModbusTCP.ToTCPConfig(), gw.HandlerFor(gateway.TransportTCP), log)
	if err := tcpSrv.Start(); err != nil {
		return fmt.Errorf("modbus TCP server: %w", err)
	}

	var rtuSrv *modbus.RTUServer
	if cfg.ModbusRTU.Device != "" {
		rtuSrv = modbus.NewRTUServer(cfg.ModbusRTU.ToRTUConfig(), gw.HandlerFor(gateway.TransportRTU), log)
		if err := rtuSrv.Open(); err != nil {
			return fmt.Errorf("modbus RTU server: %w", err)
		}
		go rtuSrv.Serve()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	downstreamDone := make(chan struct{})
	go runDownstreamTicker(ctx, gw, downstreamDone)

	var simulator *sim.Simulator
	var mgr *armanager.Manager
	var transport *armanager.UDPTransport
	var etherDev *ether.Device
	var engine *cyclic.Engine
	var arProcessDone chan struct{}

	if cfg.Simulation.Enabled {
		simulator = wireSimulator(cfg, reg, log)
		simulator.Start()
	} else {
		mgr, transport, etherDev, engine, err = wireLive(ctx, cfg, devices, reg, log)
		if err != nil {
			return err
		}
		arProcessDone = make(chan struct{})
		go runARProcessTicker(ctx, mgr, arProcessDone)
	}

	log.Info("scadad started")
	<-ctx.Done()
	log.Info("shutdown requested, draining in order")

	tcpSrv.Stop()
	if rtuSrv != nil {
		rtuSrv.Stop()
	}
	<-downstreamDone

	if simulator != nil {
		simulator.Stop()
	}
	if engine != nil {
		engine.Stop()
	}
	if mgr != nil {
		<-arProcessDone
		for _, dev := range devices {
			_ = mgr.Release(dev.StationName)
		}
		mgr.Stop()
	}
	if transport != nil {
		_ = transport.Close()
	}
	if etherDev != nil {
		_ = etherDev.Close()
	}

	log.Info("scadad stopped")
	return nil
}

func loadOrGenerateRegisterMap(cfg *config.Config, devices []model.DeviceConfig) (*regmap.RegisterMap, error) {
	if !cfg.RegisterMap.AutoGenerate {
		return regmap.LoadFile(cfg.RegisterMap.Path)
	}
	rm := regmap.GenerateAll(devices, cfg.RegisterMap.ToGenerateOptions())
	if cfg.RegisterMap.Path != "" {
		if err := rm.SaveFile(cfg.RegisterMap.Path); err != nil {
			return nil, fmt.Errorf("register map: writing generated map: %w", err)
		}
	}
	return rm, nil
}

func wireDownstream(gw *gateway.Gateway, cfg *config.Config, log *logrus.Logger) error {
	for _, dsCfg := range cfg.Downstream {
		var client *modbus.Client
		switch dsCfg.Transport {
		case "tcp":
			client = modbus.NewTCPClient(dsCfg.Address, dsCfg.UnitID)
		case "rtu":
			client = modbus.NewRTUClient(modbus.RTUConfig{Device: dsCfg.Address, Baud: 19200, Parity: "N", DataBits: 8, StopBits: 1, SlaveID: dsCfg.UnitID}, dsCfg.UnitID)
		default:
			return fmt.Errorf("downstream %s: unknown transport %q", dsCfg.Name, dsCfg.Transport)
		}
		dc := gateway.NewDownstreamClient(dsCfg.ToDownstreamConfig(), client)
		gw.AddDownstream(dsCfg.Name, dc)
		log.WithField("downstream", dsCfg.Name).Info("downstream client wired")
	}
	return nil
}

func runDownstreamTicker(ctx context.Context, gw *gateway.Gateway, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(downstreamTickPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			gw.Tick(now)
		}
	}
}

// runARProcessTicker drives the AR housekeeping thread spec §5 requires:
// a 100ms tick calling Manager.Process, advancing CONNECT_CNF->PRMSRV->READY
// and checking the RUN-state watchdog. Without it a live AR can never
// progress past CONNECT_CNF and a dead RTU is never detected.
func runARProcessTicker(ctx context.Context, mgr *armanager.Manager, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(arProcessTickPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			mgr.Process(now)
		}
	}
}

func wireSimulator(cfg *config.Config, reg registry.Registry, log *logrus.Logger) *sim.Simulator {
	period := sim.DefaultTickPeriod
	if cfg.Simulation.TickMs > 0 {
		period = time.Duration(cfg.Simulation.TickMs) * time.Millisecond
	}
	simulator := sim.New(sim.Options{Registry: reg, TickPeriod: period, Logger: log})
	for i, s := range cfg.Simulation.Signals {
		key := model.StationSlot{Station: s.Station, Slot: model.SlotAddress{Slot: s.Slot, Subslot: s.Subslot}}
		simulator.AddSignal(sim.SignalConfig{
			Key:            key,
			Bias:           s.Bias,
			Amplitude:      s.Amplitude,
			Period:         time.Duration(s.PeriodSeconds * float64(time.Second)),
			NoiseStdDev:    s.NoiseStdDev,
			TrendPerSecond: s.TrendPerSecond,
			Min:            s.Min,
			Max:            s.Max,
			AlarmLow:       s.AlarmLow,
			AlarmHigh:      s.AlarmHigh,
		}, int64(i))
	}
	return simulator
}

func wireLive(ctx context.Context, cfg *config.Config, devices []model.DeviceConfig, reg registry.Registry, log *logrus.Logger) (*armanager.Manager, *armanager.UDPTransport, *ether.Device, *cyclic.Engine, error) {
	mac, err := config.ParseMAC(cfg.ControllerMAC)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	controllerIP, err := cfg.ResolvedControllerIP(devices)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	etherDev, err := ether.Open(cfg.Interface, cfg.InterfaceIndex)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("raw ethernet: %w", err)
	}

	transport, err := armanager.NewUDPTransport(controllerIP.String())
	if err != nil {
		_ = etherDev.Close()
		return nil, nil, nil, nil, err
	}

	disc := discovery.New(discovery.Options{Logger: log})
	seed := make(map[string]model.IPv4, len(devices))
	for _, dev := range devices {
		seed[dev.StationName] = dev.IP
	}
	disc.Seed(seed)

	policy := cfg.ResilientConnect.ToPolicy()
	mgr := armanager.NewManager(armanager.Options{
		Transport:     transport,
		Discovery:     disc,
		Registry:      reg,
		ControllerMAC: mac,
		ControllerIP:  controllerIP,
		ConnectPolicy: &policy,
		Logger:        log,
	})
	go mgr.ServeRPC(ctx)

	cyclePeriod := cyclic.DefaultCyclePeriod
	if cfg.CyclePeriodMs > 0 {
		cyclePeriod = time.Duration(cfg.CyclePeriodMs) * time.Millisecond
	}
	engine := cyclic.New(cyclic.Options{
		Manager:       mgr,
		Registry:      reg,
		Transport:     etherDev,
		ControllerMAC: mac,
		CyclePeriod:   cyclePeriod,
		Logger:        log,
	})
	engine.Start()

	for _, dev := range devices {
		if _, err := mgr.CreateAR(dev); err != nil {
			log.WithField("station", dev.StationName).WithError(err).Warn("could not create AR")
			continue
		}
		go func(station string) {
			if err := mgr.Connect(ctx, station); err != nil {
				log.WithField("station", station).WithError(err).Warn("resilient connect exhausted")
			}
		}(dev.StationName)
	}

	return mgr, transport, etherDev, engine, nil
}
