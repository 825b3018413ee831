package sweep

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	goji "goji.io"

	"github.com/oplab/spectro/sim"
)

func sweepServer(t *testing.T) (*httptest.Server, *Controller) {
	t.Helper()
	mono, li := sim.NewBench(99)
	c := New(mono, li, Config{Start: 400, End: 420, Step: 5, Tau: 0.001})
	mux := goji.NewMux()
	NewHTTPSweep(c).RT().Bind(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, c
}

func TestHTTPSweepRoundTrip(t *testing.T) {
	srv, _ := sweepServer(t)

	resp, err := http.Post(srv.URL+"/start", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202 from start, got %d", resp.StatusCode)
	}

	// poll until the sweep lands
	deadline := time.Now().Add(5 * time.Second)
	var st Status
	for {
		resp, err = http.Get(srv.URL + "/status")
		if err != nil {
			t.Fatal(err)
		}
		err = json.NewDecoder(resp.Body).Decode(&st)
		resp.Body.Close()
		if err != nil {
			t.Fatal(err)
		}
		if st.State == "done" || st.State == "aborted" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("sweep did not finish, state %s", st.State)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if st.State != "done" {
		t.Fatalf("expected done, got %s", st.State)
	}

	resp, err = http.Get(srv.URL + "/records")
	if err != nil {
		t.Fatal(err)
	}
	var recs []Record
	err = json.NewDecoder(resp.Body).Decode(&recs)
	resp.Body.Close()
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 5 {
		t.Errorf("expected 5 records, got %d", len(recs))
	}
}

func TestHTTPSetConfigValidates(t *testing.T) {
	srv, _ := sweepServer(t)
	body, _ := json.Marshal(Config{Start: 800, End: 400, Step: 5, Tau: 0.3})
	resp, err := http.Post(srv.URL+"/config", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for a reversed range, got %d", resp.StatusCode)
	}

	body, _ = json.Marshal(Config{Start: 400, End: 500, Step: 10, Tau: 0.2})
	resp, err = http.Post(srv.URL+"/config", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 for a sane config, got %d", resp.StatusCode)
	}
}
