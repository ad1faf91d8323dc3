package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"sort"

	"go.uber.org/zap"
	"nyiyui.ca/hato/fmu/param"
)

var dbPath string
var paramsPath string

const usage = `usage: fmu-param [flags] command

commands:
  list              every parameter with its current value
  overrides         parameters that differ from the airframe file
  get name          one parameter
  set name value    override one parameter
  reset name        drop an override
`

func main() {
	flag.StringVar(&dbPath, "db", "./fmu.db", "path to parameter database")
	flag.StringVar(&paramsPath, "params", "", "airframe file the overrides apply to")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	dev, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	zap.ReplaceGlobals(dev)
	defer zap.S().Sync()

	err = main2(flag.Args())
	if err != nil {
		log.Fatal(err)
	}
}

func main2(args []string) error {
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}
	base := param.Default()
	if paramsPath != "" {
		var err error
		base, err = param.Load(paramsPath)
		if err != nil {
			return err
		}
	}
	store, err := param.Open(dbPath, base)
	if err != nil {
		return err
	}
	defer store.Close()

	need := func(n int) error {
		if len(args) != n+1 {
			return fmt.Errorf("%s takes %d arguments", args[0], n)
		}
		return nil
	}
	switch args[0] {
	case "list":
		snap := store.Snapshot()
		for _, name := range param.Names() {
			v, err := snap.Get(name)
			if err != nil {
				return err
			}
			fmt.Printf("%s\t%s\n", name, v)
		}
	case "overrides":
		o, err := store.Overrides()
		if err != nil {
			return err
		}
		names := make([]string, 0, len(o))
		for name := range o {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("%s\t%s\n", name, o[name])
		}
	case "get":
		if err := need(1); err != nil {
			return err
		}
		v, err := store.Get(args[1])
		if err != nil {
			return err
		}
		fmt.Println(v)
	case "set":
		if err := need(2); err != nil {
			return err
		}
		err := store.Set(args[1], args[2])
		if err != nil {
			return err
		}
		log.Printf("%s = %s", args[1], args[2])
	case "reset":
		if err := need(1); err != nil {
			return err
		}
		return store.Reset(args[1])
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
	return nil
}
