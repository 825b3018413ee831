package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	goji "goji.io"

	"github.com/oplab/spectro/bentham"
	"github.com/oplab/spectro/server"
	"github.com/oplab/spectro/server/middleware/locker"
	"github.com/oplab/spectro/sim"
	"github.com/oplab/spectro/spectrum"
	"github.com/oplab/spectro/sr7265"
	"github.com/oplab/spectro/sweep"
)

// InstrumentSetup holds the connection parameters for one instrument
type InstrumentSetup struct {
	// Addr holds the network or filesystem address of the remote device,
	// e.g. 192.168.100.123:2006 for a device connected to port 6
	// on a digi portserver, or /dev/ttyS4 for an RS232 device on a serial cable
	Addr string `yaml:"Addr"`

	// Serial determines if the connection is serial/RS232 (True) or TCP (False)
	Serial bool `yaml:"Serial"`
}

// OutputSetup holds the file destinations for a one-shot sweep
type OutputSetup struct {
	// CSV is the path the dataset is written to as CSV
	CSV string `yaml:"CSV"`

	// FITS, if nonempty, is the path the dataset is additionally written
	// to as a FITS binary table
	FITS string `yaml:"FITS"`
}

// Config holds the initialization parameters for the bench and the server.
// It is to be populated by a yaml/unmarshal call.
type Config struct {
	// Addr is the address to listen at in serve mode
	Addr string `yaml:"Addr"`

	// Simulated swaps the hardware for the software bench
	Simulated bool `yaml:"Simulated"`

	// Seed is the RNG seed of the simulated bench
	Seed int64 `yaml:"Seed"`

	Monochromator InstrumentSetup `yaml:"Monochromator"`

	LockIn InstrumentSetup `yaml:"LockIn"`

	Sweep sweep.Config `yaml:"Sweep"`

	Output OutputSetup `yaml:"Output"`
}

// makeBench builds the instrument pair the config describes
func makeBench(c Config) (sweep.Monochromator, sweep.LockIn) {
	if c.Simulated {
		mono, li := sim.NewBench(c.Seed)
		return mono, li
	}
	mono := bentham.NewMonochromator(c.Monochromator.Addr, c.Monochromator.Serial)
	li := sr7265.NewLockIn(c.LockIn.Addr, c.LockIn.Serial)
	return mono, li
}

// mount binds an HTTPer's routes to a goji submux and hangs it off the root
// router at stem, recording its endpoints in the supergraph
func mount(root chi.Router, supergraph map[string][]string, stem string, h server.HTTPer, mw ...func(http.Handler) http.Handler) {
	m := goji.NewMux()
	for _, f := range mw {
		m.Use(f)
	}
	h.RT().Bind(m)
	stem = server.SubMuxSanitize(stem)
	supergraph[stem] = h.RT().ListEndpoints()
	root.Mount(stem, http.StripPrefix(stem, m))
}

// BuildMux constructs the serve-mode router.  Raw instrument routes are
// fenced with lockers which engage for the duration of any sweep started
// over HTTP.  The mux serves a special route, /endpoints, which returns
// the full route graph as JSON.
func BuildMux(c Config, ctrl *sweep.Controller, mono sweep.Monochromator, lockin sweep.LockIn) chi.Router {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	supergraph := map[string][]string{}

	monoLock := locker.New()
	lockinLock := locker.New()

	hs := sweep.NewHTTPSweep(ctrl)
	hs.OnStart = func() {
		monoLock.Lock()
		lockinLock.Lock()
	}
	hs.OnFinish = func() {
		monoLock.Unlock()
		lockinLock.Unlock()
	}

	hm := sweep.NewHTTPMonochromator(mono)
	locker.Inject(hm, monoLock)

	hl := sweep.NewHTTPLockIn(lockin)
	locker.Inject(hl, lockinLock)

	mount(root, supergraph, "/sweep", hs)
	mount(root, supergraph, "/mono", hm, monoLock.Check)
	mount(root, supergraph, "/lockin", hl, lockinLock.Check)
	mount(root, supergraph, "/spectrum", spectrum.NewExporter(ctrl.Records))

	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(supergraph)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return root
}
