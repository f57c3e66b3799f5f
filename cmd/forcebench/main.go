package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/nasa-jpl/forcebench/bench"
	"github.com/nasa-jpl/forcebench/comm"
	"github.com/theckman/yacspin"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "forcebench.yml"

	// EnvPrefix prefixes environment variables which override the config file
	EnvPrefix = "FORCEBENCH_"

	k = koanf.New(".")
)

func setupconfig() {
	k.Load(structs.Provider(bench.DefaultConfig(), "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
	// FORCEBENCH_AXIS_COMMANDRATE -> axis.commandRate
	keys := map[string]string{}
	for _, key := range k.Keys() {
		keys[strings.ToLower(strings.ReplaceAll(key, ".", "_"))] = key
	}
	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return keys[strings.ToLower(strings.TrimPrefix(s, EnvPrefix))]
	}), nil)
	if err != nil {
		log.Fatalf("error loading environment: %v", err)
	}
}

func loadconfig() bench.Config {
	c := bench.Config{}
	if err := k.Unmarshal("", &c); err != nil {
		log.Fatal(err)
	}
	return c
}

func root() {
	str := `forcebench runs a force measurement bench: one servo axis and one load cell,
exposed over HTTP so that test scripts in any language can drive it.

Usage:
	forcebench <command>

Commands:
	run
	provision
	ports
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `forcebench is configured through forcebench.yml in the working directory.
For a primer on YAML, see https://yaml.org/start.html

"forcebench mkconf" writes the defaults to forcebench.yml as a starting point.
Any key may also be set from the environment, upper case with FORCEBENCH_ in
front and _ between levels, e.g. FORCEBENCH_AXIS_COMMANDRATE=10.

If axis.port.addr is empty, the drive is found by its USB vendor and product
IDs, optionally narrowed by axis.port.serialNumber.  "forcebench ports" lists
what is plugged in.

mock: true replaces the drive and the load cell with simulators.

Routes, under the listen address:
	/axis       connect, calibrate, home, pos, setpoint, release, state, ...
	/loadcell   connect, automatic, calibrate, tare, force, latest
	/telemetry  latest sample, history, history.fits, clear, compact
	/sequence   start (POST a list of {target, dwell}), status, stop
	/lock       GET or POST {"bool": true} to lock out commands
	/metrics    Prometheus
	/endpoints  every route above as JSON`
	fmt.Println(str)
}

func mkconf() {
	c := loadconfig()
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := loadconfig()
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("forcebench version %v\n", Version)
}

func spinner(suffix string) *yacspin.Spinner {
	spin, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " " + suffix,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		log.Fatal(err)
	}
	return spin
}

func ports() {
	list, err := comm.ListPorts()
	if err != nil {
		log.Fatal(err)
	}
	if len(list) == 0 {
		fmt.Println("no serial ports found")
		return
	}
	for _, p := range list {
		if p.IsUSB {
			fmt.Printf("%s\tUSB %s:%s\t%s\n", p.Name, p.VID, p.PID, p.SerialNumber)
		} else {
			fmt.Println(p.Name)
		}
	}
}

func provision() {
	c := loadconfig()
	c.Axis.ProvisionOnConnect = false
	s, err := bench.NewSession(c)
	if err != nil {
		log.Fatal(err)
	}
	defer s.Close()

	spin := spinner("connecting to drive")
	spin.Start()
	if err := s.Axis.Connect(); err != nil {
		spin.StopFailMessage(err.Error())
		spin.StopFail()
		return
	}
	spin.Message("writing configuration, the drive will reset")
	if err := s.Axis.Provision(); err != nil {
		spin.StopFailMessage(err.Error())
		spin.StopFail()
		return
	}
	spin.StopMessage("drive provisioned")
	spin.Stop()
}

func run() {
	c := loadconfig()
	s, err := bench.NewSession(c)
	if err != nil {
		log.Fatal(err)
	}
	if err := s.Start(); err != nil {
		log.Fatal(err)
	}
	srv := &http.Server{Addr: c.Addr, Handler: bench.BuildMux(s)}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	go func() {
		<-ctx.Done()
		log.Println("shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Println("now listening for requests at ", c.Addr)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Println(err)
	}
	if err := s.Close(); err != nil {
		log.Println(err)
	}
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "provision":
		provision()
		return
	case "ports":
		ports()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
