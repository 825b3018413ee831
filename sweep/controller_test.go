package sweep

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/oplab/spectro/sim"
)

// opLog records every instrument command and settling wait in the order the
// controller issued them
type opLog struct {
	ops []string
}

func (l *opLog) add(format string, args ...interface{}) {
	l.ops = append(l.ops, fmt.Sprintf(format, args...))
}

type scriptMono struct {
	log      *opLog
	initErr  error
	moveErr  map[float64]error
	inits    int
	shutdown int
}

func (m *scriptMono) Initialize() error {
	m.inits++
	m.log.add("init")
	return m.initErr
}

func (m *scriptMono) MoveTo(wl float64) (float64, error) {
	m.log.add("move %g", wl)
	if err := m.moveErr[wl]; err != nil {
		return 0, err
	}
	return wl, nil
}

func (m *scriptMono) Shutdown() error {
	m.shutdown++
	m.log.add("park")
	return nil
}

type scriptLockIn struct {
	log         *opLog
	connectErr  error
	readErr     map[float64]error
	overloadAt  map[float64]bool
	current     float64
	rescales    int
	disconnects int
}

func (li *scriptLockIn) Connect() error {
	li.log.add("connect")
	return li.connectErr
}

func (li *scriptLockIn) Configure(tau float64) error {
	li.log.add("configure %g", tau)
	return nil
}

func (li *scriptLockIn) ReadXY() (float64, float64, error) {
	li.log.add("read %g", li.current)
	if err := li.readErr[li.current]; err != nil {
		return 0, 0, err
	}
	return 3, 4, nil
}

func (li *scriptLockIn) Overloaded() (bool, error) {
	li.log.add("status %g", li.current)
	return li.overloadAt[li.current], nil
}

func (li *scriptLockIn) AutoSensitivity() error {
	li.rescales++
	li.log.add("rescale %g", li.current)
	return nil
}

func (li *scriptLockIn) Disconnect() error {
	li.disconnects++
	li.log.add("disconnect")
	return nil
}

// rig builds a controller over scripted instruments whose settling waits are
// recorded instead of slept
func rig(cfg Config) (*Controller, *scriptMono, *scriptLockIn, *opLog) {
	log := &opLog{}
	mono := &scriptMono{log: log, moveErr: map[float64]error{}}
	li := &scriptLockIn{log: log, readErr: map[float64]error{}, overloadAt: map[float64]bool{}}
	c := New(&trackingMono{mono, li}, li, cfg)
	c.sleep = func(d time.Duration) { log.add("sleep %s", d) }
	return c, mono, li, log
}

// trackingMono forwards moves and tells the lock-in script where the
// grating is, the way the light path does
type trackingMono struct {
	*scriptMono
	li *scriptLockIn
}

func (t *trackingMono) MoveTo(wl float64) (float64, error) {
	achieved, err := t.scriptMono.MoveTo(wl)
	t.li.current = achieved
	return achieved, err
}

func TestRecordCountMatchesRange(t *testing.T) {
	cases := []struct {
		cfg  Config
		want int
	}{
		{Config{Start: 400, End: 800, Step: 5, Tau: 0.3}, 81},
		{Config{Start: 400, End: 800, Step: 100, Tau: 0.3}, 5},
		{Config{Start: 400, End: 404, Step: 5, Tau: 0.3}, 1},
		{Config{Start: 400, End: 400, Step: 5, Tau: 0.3}, 1},
		{Config{Start: 500, End: 501, Step: 0.5, Tau: 0.1}, 3},
	}
	for _, tc := range cases {
		c, _, _, _ := rig(tc.cfg)
		recs, err := c.Run(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if len(recs) != tc.want {
			t.Errorf("%+v: expected %d records, got %d", tc.cfg, tc.want, len(recs))
		}
	}
}

func TestSettleBeforeStatusAndRead(t *testing.T) {
	cfg := Config{Start: 500, End: 510, Step: 5, Tau: 0.2}
	c, _, _, log := rig(cfg)
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	// every status query and read must be preceded, within its step, by a
	// settling wait; a step starts at its move
	settled := false
	for _, op := range log.ops {
		var f float64
		switch {
		case scan(op, "move %g", &f):
			settled = false
		case scan(op, "sleep %s", nil):
			settled = true
		case scan(op, "status %g", &f), scan(op, "read %g", &f):
			if !settled {
				t.Fatalf("op %q before the settling wait; log: %v", op, log.ops)
			}
		}
	}
}

func scan(op, format string, f *float64) bool {
	if f == nil {
		var s string
		n, _ := fmt.Sscanf(op, format, &s)
		return n == 1
	}
	n, _ := fmt.Sscanf(op, format, f)
	return n == 1
}

func TestSettlingWaitIsFiveTau(t *testing.T) {
	cfg := Config{Start: 500, End: 500, Step: 5, Tau: 0.3}
	c, _, _, log := rig(cfg)
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	want := fmt.Sprintf("sleep %s", 1500*time.Millisecond)
	found := false
	for _, op := range log.ops {
		if op == want {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a %q op, log: %v", want, log.ops)
	}
}

func TestOverloadRescalesExactlyOnce(t *testing.T) {
	cfg := Config{Start: 640, End: 660, Step: 10, Tau: 0.1}
	c, _, li, log := rig(cfg)
	li.overloadAt[650] = true
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if li.rescales != 1 {
		t.Fatalf("expected exactly one auto-sensitivity call, got %d", li.rescales)
	}
	// the saturated step gets two settling waits, the others one
	wants := []string{
		"move 640", "sleep 500ms", "status 640", "read 640",
		"move 650", "sleep 500ms", "status 650", "rescale 650", "sleep 500ms", "read 650",
		"move 660", "sleep 500ms", "status 660", "read 660",
	}
	got := without(log.ops, "init", "connect", "configure 0.1", "disconnect", "park")
	if len(got) != len(wants) {
		t.Fatalf("op log mismatch:\nwant %v\ngot  %v", wants, got)
	}
	for i := range wants {
		if got[i] != wants[i] {
			t.Errorf("op %d: expected %q, got %q", i, wants[i], got[i])
		}
	}
}

func without(ops []string, drop ...string) []string {
	skip := map[string]bool{}
	for _, d := range drop {
		skip[d] = true
	}
	var out []string
	for _, op := range ops {
		if !skip[op] {
			out = append(out, op)
		}
	}
	return out
}

func TestNoOverloadNoRescale(t *testing.T) {
	cfg := Config{Start: 400, End: 420, Step: 5, Tau: 0.1}
	c, _, li, _ := rig(cfg)
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if li.rescales != 0 {
		t.Errorf("expected zero auto-sensitivity calls, got %d", li.rescales)
	}
}

func TestMagnitudeAndPhaseDerivation(t *testing.T) {
	rec := NewRecord(500, 3, 4)
	if rec.R != 5 {
		t.Errorf("expected magnitude 5, got %v", rec.R)
	}
	want := math.Atan2(4, 3) * 180 / math.Pi
	if math.Abs(rec.Phase-want) > 1e-12 {
		t.Errorf("expected phase %v, got %v", want, rec.Phase)
	}
	if math.Abs(rec.Phase-53.13) > 0.01 {
		t.Errorf("expected phase near 53.13 degrees, got %v", rec.Phase)
	}
}

func TestAcquisitionErrorPreservesPartialsAndCleansUp(t *testing.T) {
	cfg := Config{Start: 400, End: 440, Step: 10, Tau: 0.1}
	c, mono, li, _ := rig(cfg)
	li.readErr[420] = errors.New("the instrument went out to lunch")
	recs, err := c.Run(context.Background())
	if err == nil {
		t.Fatal("expected the sweep to fail")
	}
	var aerr *AcquisitionError
	if !errors.As(err, &aerr) {
		t.Fatalf("expected an AcquisitionError, got %T: %v", err, err)
	}
	if aerr.Wavelength != 420 {
		t.Errorf("expected the error tagged at 420 nm, got %v", aerr.Wavelength)
	}
	if len(recs) != 2 {
		t.Errorf("expected the 400 and 410 nm records preserved, got %d", len(recs))
	}
	if mono.shutdown != 1 {
		t.Errorf("expected exactly one monochromator shutdown, got %d", mono.shutdown)
	}
	if li.disconnects != 1 {
		t.Errorf("expected exactly one lock-in disconnect, got %d", li.disconnects)
	}
	if got := c.Status().State; got != "aborted" {
		t.Errorf("expected state aborted, got %s", got)
	}
}

func TestInitFailureAbortsBeforeSteps(t *testing.T) {
	cfg := Config{Start: 400, End: 440, Step: 10, Tau: 0.1}
	c, mono, li, _ := rig(cfg)
	mono.initErr = errors.New("driver load failure")
	recs, err := c.Run(context.Background())
	var ierr *InitError
	if !errors.As(err, &ierr) {
		t.Fatalf("expected an InitError, got %T: %v", err, err)
	}
	if len(recs) != 0 {
		t.Errorf("expected no records, got %d", len(recs))
	}
	if li.disconnects != 0 {
		t.Errorf("lock-in was never connected, got %d disconnects", li.disconnects)
	}
	if mono.shutdown != 0 {
		t.Errorf("monochromator session never opened, got %d shutdowns", mono.shutdown)
	}
}

func TestConnectFailureStillParksMonochromator(t *testing.T) {
	cfg := Config{Start: 400, End: 440, Step: 10, Tau: 0.1}
	c, mono, li, _ := rig(cfg)
	li.connectErr = errors.New("gateway unreachable")
	_, err := c.Run(context.Background())
	var cerr *ConnectError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected a ConnectError, got %T: %v", err, err)
	}
	if mono.shutdown != 1 {
		t.Errorf("expected the open monochromator session released, got %d shutdowns", mono.shutdown)
	}
}

func TestCancellationLandsBetweenSteps(t *testing.T) {
	cfg := Config{Start: 400, End: 800, Step: 5, Tau: 0.1}
	c, mono, li, _ := rig(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	n := 0
	c.OnRecord(func(Record) {
		n++
		if n == 3 {
			cancel()
		}
	})
	recs, err := c.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(recs) != 3 {
		t.Errorf("expected the 3 completed records, got %d", len(recs))
	}
	if mono.shutdown != 1 || li.disconnects != 1 {
		t.Error("expected cleanup to run after cancellation")
	}
}

func TestRunRejectsBadConfig(t *testing.T) {
	cases := []Config{
		{Start: 400, End: 800, Step: 0, Tau: 0.3},
		{Start: 400, End: 800, Step: -5, Tau: 0.3},
		{Start: 400, End: 800, Step: 5, Tau: 0},
		{Start: 800, End: 400, Step: 5, Tau: 0.3},
	}
	for _, cfg := range cases {
		c, mono, _, _ := rig(cfg)
		if _, err := c.Run(context.Background()); err == nil {
			t.Errorf("%+v: expected a validation error", cfg)
		}
		if mono.inits != 0 {
			t.Errorf("%+v: instruments must not be touched for a bad config", cfg)
		}
	}
}

func TestEndToEndSimulatedSweep(t *testing.T) {
	mono, li := sim.NewBench(1234)
	cfg := Config{Start: 400, End: 800, Step: 5, Tau: 0.3}
	c := New(mono, li, cfg)
	c.sleep = func(time.Duration) {} // the models settle instantly
	recs, err := c.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 81 {
		t.Fatalf("expected 81 records, got %d", len(recs))
	}
	for i, rec := range recs {
		want := 400 + 5*float64(i)
		if math.Abs(rec.Wavelength-want) > sim.Resolution {
			t.Errorf("record %d: expected wavelength near %v, got %v", i, want, rec.Wavelength)
		}
		if rec.R < 0 {
			t.Errorf("record %d: negative magnitude %v", i, rec.R)
		}
		if rec.Phase <= -180 || rec.Phase > 180 {
			t.Errorf("record %d: phase %v outside (-180, 180]", i, rec.Phase)
		}
	}
	if got := c.Status().State; got != "done" {
		t.Errorf("expected state done, got %s", got)
	}
}
