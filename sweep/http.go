package sweep

import (
	"context"
	"encoding/json"
	"go/types"
	"net/http"
	"sync"

	"github.com/oplab/spectro/generichttp"
	"github.com/oplab/spectro/server"
	"goji.io/pat"
)

// HTTPSweep wraps a Controller with an HTTP interface.  Sweeps started over
// HTTP run in the background; status and records are polled.
type HTTPSweep struct {
	ctrl *Controller

	// OnStart and OnFinish, when non-nil, bracket each background sweep.
	// The server uses them to fence raw instrument routes while a sweep
	// owns the hardware.
	OnStart  func()
	OnFinish func()

	routeTable server.RouteTable

	mu      sync.Mutex
	cancel  context.CancelFunc
	lastErr error
}

// NewHTTPSweep returns an HTTP wrapper with the route table pre-configured
func NewHTTPSweep(c *Controller) *HTTPSweep {
	h := &HTTPSweep{ctrl: c}
	h.routeTable = server.RouteTable{
		pat.Post("/start"):  h.Start,
		pat.Post("/abort"):  h.Abort,
		pat.Get("/status"):  h.Status,
		pat.Get("/records"): h.Records,
		pat.Get("/config"):  h.GetConfig,
		pat.Post("/config"): h.SetConfig,
		pat.Get("/error"):   h.LastError,
	}
	return h
}

// RT satisfies server.HTTPer
func (h *HTTPSweep) RT() server.RouteTable {
	return h.routeTable
}

// Start kicks off a sweep in the background.  409 if one is running.
func (h *HTTPSweep) Start(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		http.Error(w, ErrSweepInProgress.Error(), http.StatusConflict)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.lastErr = nil
	if h.OnStart != nil {
		h.OnStart()
	}
	go func() {
		_, err := h.ctrl.Run(ctx)
		h.mu.Lock()
		h.lastErr = err
		h.cancel = nil
		h.mu.Unlock()
		cancel()
		if h.OnFinish != nil {
			h.OnFinish()
		}
	}()
	w.WriteHeader(http.StatusAccepted)
}

// Abort cancels a running sweep; the cancellation lands between steps
func (h *HTTPSweep) Abort(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	cancel := h.cancel
	h.mu.Unlock()
	if cancel == nil {
		http.Error(w, "no sweep in progress", http.StatusConflict)
		return
	}
	cancel()
	w.WriteHeader(http.StatusOK)
}

// Status returns a snapshot of the controller as JSON
func (h *HTTPSweep) Status(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.ctrl.Status()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Records returns the dataset collected so far as a JSON array
func (h *HTTPSweep) Records(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.ctrl.Records()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// GetConfig returns the sweep parameters as JSON
func (h *HTTPSweep) GetConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.ctrl.Config()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// SetConfig replaces the sweep parameters; 409 while a sweep is running
func (h *HTTPSweep) SetConfig(w http.ResponseWriter, r *http.Request) {
	var cfg Config
	err := json.NewDecoder(r.Body).Decode(&cfg)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.ctrl.SetConfig(cfg); err != nil {
		code := http.StatusBadRequest
		if err == ErrSweepInProgress {
			code = http.StatusConflict
		}
		http.Error(w, err.Error(), code)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// LastError returns the error from the most recent sweep, empty if none
func (h *HTTPSweep) LastError(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	err := h.lastErr
	h.mu.Unlock()
	str := ""
	if err != nil {
		str = err.Error()
	}
	hp := server.HumanPayload{T: types.String, String: str}
	hp.EncodeAndRespond(w, r)
}

// HTTPMonochromator exposes raw monochromator motion over HTTP
type HTTPMonochromator struct {
	Mono Monochromator

	routeTable server.RouteTable
}

// NewHTTPMonochromator returns an HTTP wrapper around a monochromator
func NewHTTPMonochromator(m Monochromator) *HTTPMonochromator {
	h := &HTTPMonochromator{Mono: m}
	h.routeTable = server.RouteTable{
		pat.Post("/wavelength"): h.MoveTo,
		pat.Post("/init"):       generichttp.Trigger(m.Initialize),
		pat.Post("/park"):       generichttp.Trigger(m.Shutdown),
	}
	return h
}

// RT satisfies server.HTTPer
func (h *HTTPMonochromator) RT() server.RouteTable {
	return h.routeTable
}

// MoveTo commands a move from json {'f64': target} and replies with the
// achieved wavelength as {'f64': achieved}
func (h *HTTPMonochromator) MoveTo(w http.ResponseWriter, r *http.Request) {
	f := server.FloatT{}
	err := json.NewDecoder(r.Body).Decode(&f)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	achieved, err := h.Mono.MoveTo(f.F64)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	hp := server.HumanPayload{T: types.Float64, Float: achieved}
	hp.EncodeAndRespond(w, r)
}

// XYT is a json pair of lock-in outputs
type XYT struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// HTTPLockIn exposes raw lock-in queries over HTTP
type HTTPLockIn struct {
	LockIn LockIn

	routeTable server.RouteTable
}

// NewHTTPLockIn returns an HTTP wrapper around a lock-in
func NewHTTPLockIn(li LockIn) *HTTPLockIn {
	h := &HTTPLockIn{LockIn: li}
	h.routeTable = server.RouteTable{
		pat.Get("/xy"):                h.ReadXY,
		pat.Get("/overload"):          generichttp.GetBool(li.Overloaded),
		pat.Post("/auto-sensitivity"): generichttp.Trigger(li.AutoSensitivity),
		pat.Post("/time-constant"):    generichttp.SetFloat(li.Configure),
	}
	return h
}

// RT satisfies server.HTTPer
func (h *HTTPLockIn) RT() server.RouteTable {
	return h.routeTable
}

// ReadXY returns one in-phase, quadrature pair as json {'x': .., 'y': ..}
func (h *HTTPLockIn) ReadXY(w http.ResponseWriter, r *http.Request) {
	x, y, err := h.LockIn.ReadXY()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(XYT{X: x, Y: y}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
