package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	. "nyiyui.ca/hato/fmu"
	"nyiyui.ca/hato/fmu/blackbox"
	"nyiyui.ca/hato/fmu/control"
	"nyiyui.ca/hato/fmu/kujo"
	"nyiyui.ca/hato/fmu/param"
	"nyiyui.ca/hato/fmu/sakuragi"
	"nyiyui.ca/hato/fmu/sim"
	"nyiyui.ca/hato/fmu/status"
	"nyiyui.ca/hato/fmu/vehicle"
)

// drop is a sensor outage given on the command line as sensor:after:duration.
type drop struct {
	sensor        SensorID
	after, length time.Duration
}

type drops []drop

func (d *drops) String() string { return fmt.Sprint(*d) }

func (d *drops) Set(s string) error {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return errors.New("want sensor:after:duration")
	}
	var dr drop
	err := dr.sensor.UnmarshalText([]byte(parts[0]))
	if err != nil {
		return err
	}
	dr.after, err = time.ParseDuration(parts[1])
	if err != nil {
		return err
	}
	dr.length, err = time.ParseDuration(parts[2])
	if err != nil {
		return err
	}
	*d = append(*d, dr)
	return nil
}

var (
	paramsPath   string
	dbPath       string
	logPath      string
	tracePath    string
	consoleLog   string
	kujoAddr     string
	sakuragiAddr string
	seed         uint64
	duration     time.Duration
	realtime     bool
	tui          bool
	buzzer       bool
	battery      float64
	drain        float64
	faults       drops
)

func main() {
	level := zap.LevelFlag("log-level", zap.InfoLevel, "set log level")
	flag.StringVar(&paramsPath, "params", "", "airframe file overlaid on the defaults")
	flag.StringVar(&dbPath, "db", "", "parameter database holding runtime overrides")
	flag.StringVar(&logPath, "blackbox", "", "write the flight log here")
	flag.StringVar(&tracePath, "trace", "", "write task overruns and panics here")
	flag.StringVar(&consoleLog, "console-log", "fmu-sim.log", "where logs go while -tui is on")
	flag.StringVar(&kujoAddr, "kujo", "0.0.0.0:8001", "telemetry and command listen address, empty to disable")
	flag.StringVar(&sakuragiAddr, "sakuragi", "0.0.0.0:8080", "status page listen address, empty to disable")
	flag.Uint64Var(&seed, "seed", 1, "sensor noise seed")
	flag.DurationVar(&duration, "duration", 0, "stop after this much simulated time, 0 to run until interrupted")
	flag.BoolVar(&realtime, "realtime", true, "pace the simulation to the wall clock")
	flag.BoolVar(&tui, "tui", false, "show the terminal console")
	flag.BoolVar(&buzzer, "buzzer", false, "play status changes on the speaker")
	flag.Float64Var(&battery, "battery", 1, "initial battery charge")
	flag.Float64Var(&drain, "drain", 1, "battery drain multiplier")
	flag.Var(&faults, "drop", "silence a sensor, as sensor:after:duration (repeatable)")
	flag.Parse()

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(*level)
	if tui {
		cfg.OutputPaths = []string{consoleLog}
		cfg.ErrorOutputPaths = []string{consoleLog}
	}
	boot := blackbox.NewBootLog(cfg.Level, 1000)
	dev, err := cfg.Build(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, boot)
	}))
	if err != nil {
		panic(err)
	}
	zap.ReplaceGlobals(dev)
	defer zap.S().Sync()

	err = run(boot)
	if err != nil {
		zap.S().Fatalf("%s", err)
	}
}

func run(boot *blackbox.BootLog) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var err error
	p := param.Default()
	if paramsPath != "" {
		p, err = param.Load(paramsPath)
		if err != nil {
			return err
		}
	}
	var store *param.Store
	if dbPath != "" {
		store, err = param.Open(dbPath, p)
		if err != nil {
			return fmt.Errorf("param db: %w", err)
		}
		defer store.Close()
		p = store.Snapshot()
	}

	conf := sim.DefaultConfig()
	conf.Seed = seed
	conf.Geometry, err = control.GeometryByName(p.Control.Geometry)
	if err != nil {
		return err
	}
	plant, err := sim.New(conf, nil)
	if err != nil {
		return fmt.Errorf("sim: %w", err)
	}
	plant.DegradeBattery(battery, drain)
	v, err := vehicle.New(p, plant)
	if err != nil {
		return fmt.Errorf("vehicle: %w", err)
	}
	plant.Attach(v)
	if store != nil {
		go v.Follow(ctx, store)
	}

	if tracePath != "" {
		f, err := os.Create(tracePath)
		if err != nil {
			return err
		}
		defer f.Close()
		v.Instance().SetTrace(f)
	}

	var clock atomic.Int64
	start := time.Now()
	clock.Store(start.UnixNano())
	now := func() time.Time { return time.Unix(0, clock.Load()) }

	if kujoAddr != "" {
		k := kujo.NewServer(kujo.Conf{
			Topics:   &v.Topics,
			Store:    store,
			Boot:     boot,
			Interval: 50 * time.Millisecond,
			Now:      now,
		})
		go k.Run(ctx)
		zap.S().Infof("starting kujo on %s…", kujoAddr)
		go serve(ctx, kujoAddr, k)
	}
	if sakuragiAddr != "" {
		s := sakuragi.New(sakuragi.Conf{Topics: &v.Topics, Now: now})
		zap.S().Infof("starting sakuragi on %s…", sakuragiAddr)
		go serve(ctx, sakuragiAddr, s)
	}

	if buzzer {
		err := startBuzzer(ctx, &v.Topics)
		if err != nil {
			return fmt.Errorf("buzzer: %w", err)
		}
	}

	recorded := make(chan error, 1)
	if logPath != "" {
		f, err := os.Create(logPath)
		if err != nil {
			return err
		}
		defer f.Close()
		r := blackbox.NewRecorder(f, boot)
		blackbox.Watch(r, v.Topics.State)
		blackbox.Watch(r, v.Topics.Setpoint)
		blackbox.Watch(r, v.Topics.Actuator)
		blackbox.Watch(r, v.Topics.Health)
		blackbox.Watch(r, v.Topics.Mode)
		blackbox.Watch(r, v.Topics.Land)
		zap.S().Infow("recording", "path", logPath, "session", r.Session)
		go func() { recorded <- r.Run(ctx) }()
	} else {
		boot.Seal()
		close(recorded)
	}

	var console *status.Console
	if tui {
		console, err = status.NewConsole()
		if err != nil {
			return err
		}
		defer console.Close()
		go func() {
			for e := range console.Events() {
				if e.ID == "q" || e.ID == "<C-c>" {
					cancel()
					return
				}
			}
		}()
	}

	fly(ctx, v, plant, start, clock.Store, console)
	cancel()
	err = <-recorded
	for _, st := range v.Instance().Stats() {
		zap.S().Infow("task", "stats", st)
	}
	zap.S().Infow("done", "dropped_samples", v.Dropped(), "truth", plant.Truth())
	return err
}

func serve(ctx context.Context, addr string, h http.Handler) {
	srv := &http.Server{Addr: addr, Handler: h}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	err := srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		zap.S().Errorw("listen", "addr", addr, "err", err)
	}
}
