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
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/theckman/yacspin"

	"github.com/oplab/spectro/spectrum"
	"github.com/oplab/spectro/sweep"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "spectro.yml"
	k              = koanf.New(".")
)

func setupconfig() {
	k.Load(structs.Provider(Config{
		Addr:      ":8000",
		Simulated: true,
		Seed:      1,
		Sweep: sweep.Config{
			Start: 400,
			End:   800,
			Step:  5,
			Tau:   0.3,
		},
		Output: OutputSetup{CSV: "spectrum.csv"}}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `spectro drives a monochromator and lock-in amplifier through wavelength
sweeps, either interactively over HTTP or as a one-shot acquisition to a file.

Usage:
	spectro <command>

Commands:
	run
	serve
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `spectro is amenable to configuration via its .yaml file.  For a primer on
YAML, see https://yaml.org/start.html

With no configuration, "run" sweeps a simulated bench from 400 to 800 nm in
5 nm steps and writes spectrum.csv to the working directory.  Set Simulated
to false and fill in the instrument addresses to drive hardware.

Hardware supported:
- Bentham
	> TMc300 monochromator, ASCII bridge over TCP or RS232
- Signal Recovery
	> 7265 DSP lock-in amplifier over TCP or RS232

"run" executes one sweep and writes the dataset to Output.CSV (and
Output.FITS when nonempty).  Ctrl-C stops the sweep at the next step; the
partial dataset is still written.

"serve" exposes the bench over HTTP.  Sweeps are started with
POST /sweep/start and polled at GET /sweep/status; the raw instrument routes
under /mono and /lockin return 423 while a sweep owns the hardware.
GET /endpoints lists the full route graph.`
	fmt.Println(str)
}

func mkconf() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
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
	c := Config{}
	k.Unmarshal("", &c)
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("spectro version %v\n", Version)
}

func run() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	mono, lockin := makeBench(c)
	ctrl := sweep.New(mono, lockin, c.Sweep)

	spinner, err := yacspin.New(yacspin.Config{
		Frequency:     100 * time.Millisecond,
		CharSet:       yacspin.CharSets[11],
		Suffix:        " sweep",
		StopCharacter: "✓",
		StopColors:    []string{"fgGreen"},
	})
	if err != nil {
		log.Fatal(err)
	}
	steps := c.Sweep.Steps()
	n := 0
	ctrl.OnRecord(func(rec sweep.Record) {
		n++
		spinner.Message(fmt.Sprintf("%d/%d  %.1f nm  R=%.3e V", n, steps, rec.Wavelength, rec.R))
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	spinner.Start()
	records, runErr := ctrl.Run(ctx)
	if runErr != nil {
		spinner.StopFail()
	} else {
		spinner.Stop()
	}

	// a partial dataset is still worth keeping
	if len(records) > 0 {
		f, err := os.Create(c.Output.CSV)
		if err != nil {
			log.Fatal(err)
		}
		err = spectrum.WriteCSV(f, records)
		f.Close()
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("wrote %d records to %s", len(records), c.Output.CSV)
		if c.Output.FITS != "" {
			f, err := os.Create(c.Output.FITS)
			if err != nil {
				log.Fatal(err)
			}
			err = spectrum.WriteFITS(f, records)
			f.Close()
			if err != nil {
				log.Fatal(err)
			}
			log.Printf("wrote %d records to %s", len(records), c.Output.FITS)
		}
	}
	if runErr != nil {
		log.Fatal(runErr)
	}
}

func serve() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	mono, lockin := makeBench(c)
	ctrl := sweep.New(mono, lockin, c.Sweep)
	mux := BuildMux(c, ctrl, mono, lockin)
	log.Println("now listening for requests at ", c.Addr)
	log.Fatal(http.ListenAndServe(c.Addr, mux))
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
	case "serve":
		serve()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
