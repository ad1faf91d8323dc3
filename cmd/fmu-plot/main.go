package main

import (
	"flag"
	"os"

	"go.uber.org/zap"
	"nyiyui.ca/hato/fmu/blackbox"
)

func main() {
	level := zap.LevelFlag("log-level", zap.InfoLevel, "set log level")
	out := flag.String("o", "flight.png", "output PNG")
	flag.Parse()
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(*level)
	dev, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	zap.ReplaceGlobals(dev)
	defer zap.S().Sync()

	if flag.NArg() != 1 {
		zap.S().Fatalf("usage: fmu-plot [-o flight.png] flight.log")
	}
	recs, err := blackbox.ReadLogFile(flag.Arg(0))
	if err != nil {
		zap.S().Fatalf("read %s: %s", flag.Arg(0), err)
	}
	sessions := map[string]int{}
	for _, rec := range recs {
		sessions[rec.Session.String()]++
	}
	if len(sessions) > 1 {
		zap.S().Warnw("log holds more than one session", "sessions", sessions)
	}
	for _, rec := range blackbox.Filter(recs, blackbox.BootTopic) {
		be, err := blackbox.Decode[blackbox.BootEntry](rec)
		if err == nil {
			zap.S().Debugf("boot: %s", be)
		}
	}

	f, err := os.Create(*out)
	if err != nil {
		zap.S().Fatalf("create: %s", err)
	}
	defer f.Close()
	err = blackbox.Plot(recs, f)
	if err != nil {
		zap.S().Fatalf("plot: %s", err)
	}
	zap.S().Infow("plotted", "records", len(recs), "out", *out)
}
