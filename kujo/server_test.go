package kujo

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	. "nyiyui.ca/hato/fmu"
	"nyiyui.ca/hato/fmu/bus"
	"nyiyui.ca/hato/fmu/param"
	"nyiyui.ca/hato/fmu/vehicle"
)

var t0 = time.Unix(1700000000, 0)

type rig struct {
	t      *testing.T
	topics vehicle.Topics
	store  *param.Store
	s      *Server
}

func newRig(t *testing.T) *rig {
	store, err := param.Open(":memory:", param.Default())
	if err != nil {
		t.Fatalf("Open: %s", err)
	}
	t.Cleanup(func() { store.Close() })
	r := &rig{t: t, topics: vehicle.NewTopics(bus.New()), store: store}
	r.s = NewServer(Conf{
		Topics: &r.topics,
		Store:  store,
		Now:    func() time.Time { return t0 },
	})
	return r
}

func (r *rig) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	r.s.ServeHTTP(w, req)
	return w
}

func TestCommand(t *testing.T) {
	r := newRig(t)
	w := r.do("POST", "/command", `{"kind":"mode","mode":"position-hold"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("code %d: %s", w.Code, w.Body)
	}
	var resp commandResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	if err != nil {
		t.Fatalf("response: %s", err)
	}
	cmd, _, ok := r.topics.Command.Latest()
	if !ok {
		t.Fatal("nothing published")
	}
	want := OperatorCommand{ID: resp.ID, Time: t0, Kind: CommandMode, Mode: ModePositionHold}
	if diff := cmp.Diff(want, cmd); diff != "" {
		t.Fatalf("command (-want +got):\n%s", diff)
	}

	// Two identical requests are two commands.
	r.do("POST", "/command", `{"kind":"arm"}`)
	first, _, _ := r.topics.Command.Latest()
	r.do("POST", "/command", `{"kind":"arm"}`)
	second, _, _ := r.topics.Command.Latest()
	if first.ID == second.ID || first.ID == (uuid.UUID{}) {
		t.Fatalf("ids %s %s", first.ID, second.ID)
	}

	for i, tc := range []struct {
		method, body string
		code         int
	}{
		{"POST", `{"kind":"jump"}`, http.StatusBadRequest},
		{"POST", `{"kind":"mode","mode":"sport"}`, http.StatusBadRequest},
		{"POST", `{"kind":"arm","force":true}`, http.StatusBadRequest},
		{"GET", ``, http.StatusMethodNotAllowed},
	} {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			if w := r.do(tc.method, "/command", tc.body); w.Code != tc.code {
				t.Fatalf("code %d: %s", w.Code, w.Body)
			}
		})
	}
}

func TestPilot(t *testing.T) {
	r := newRig(t)
	if w := r.do("POST", "/pilot", `{"roll":0.2,"throttle":0.6}`); w.Code != http.StatusNoContent {
		t.Fatalf("code %d: %s", w.Code, w.Body)
	}
	p, st, _ := r.topics.Pilot.Latest()
	if diff := cmp.Diff(PilotInput{Time: t0, Roll: 0.2, Throttle: 0.6}, p); diff != "" {
		t.Fatalf("pilot (-want +got):\n%s", diff)
	}
	if !st.Time.Equal(t0) {
		t.Fatalf("stamped %s", st.Time)
	}
	for _, body := range []string{`{"roll":1.5}`, `{"throttle":-0.1}`} {
		if w := r.do("POST", "/pilot", body); w.Code != http.StatusBadRequest {
			t.Fatalf("%s: code %d", body, w.Code)
		}
	}
}

func TestMission(t *testing.T) {
	r := newRig(t)
	w := r.do("POST", "/mission", `{"waypoints":[{"north":10,"down":-5,"accept_radius":2,"hold":"3s"},{"east":4,"down":-5}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("code %d: %s", w.Code, w.Body)
	}
	m, _, _ := r.topics.Mission.Latest()
	want := []Waypoint{
		{Position: Vec3{X: 10, Z: -5}, AcceptRadius: 2, Hold: 3 * time.Second},
		{Position: Vec3{Y: 4, Z: -5}},
	}
	if diff := cmp.Diff(want, m.Waypoints); diff != "" {
		t.Fatalf("waypoints (-want +got):\n%s", diff)
	}
	for _, body := range []string{`{"waypoints":[]}`, `{"waypoints":[{"hold":"soon"}]}`, `{"waypoints":[{"accept_radius":-1}]}`} {
		if w := r.do("POST", "/mission", body); w.Code != http.StatusBadRequest {
			t.Fatalf("%s: code %d", body, w.Code)
		}
	}
}

func TestParams(t *testing.T) {
	r := newRig(t)
	w := r.do("POST", "/params/fms.land_speed", `{"value":"1.2"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("code %d: %s", w.Code, w.Body)
	}
	if got := r.store.Snapshot().FMS.LandSpeed; got != 1.2 {
		t.Fatalf("land speed %g", got)
	}

	w = r.do("GET", "/params", "")
	var resp paramsResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	if err != nil {
		t.Fatalf("response: %s", err)
	}
	if len(resp.Values) != len(param.Names()) {
		t.Fatalf("got %d values", len(resp.Values))
	}
	if _, ok := resp.Overrides["fms.land_speed"]; !ok || len(resp.Overrides) != 1 {
		t.Fatalf("overrides %v", resp.Overrides)
	}

	if w := r.do("GET", "/params/fms.land_speed", ""); !strings.Contains(w.Body.String(), "1.2") {
		t.Fatalf("get: %s", w.Body)
	}
	if w := r.do("POST", "/params/fms.warp_speed", `{"value":"9"}`); w.Code != http.StatusNotFound {
		t.Fatalf("unknown: code %d", w.Code)
	}
	if w := r.do("POST", "/params/fms.land_speed", `{"value":"fast"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("bad value: code %d", w.Code)
	}
}

func TestCORS(t *testing.T) {
	r := newRig(t)
	req := httptest.NewRequest("OPTIONS", "/command", nil)
	req.Header.Set("Origin", "http://ground.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	r.s.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("allow origin %q", got)
	}
}

func TestEvents(t *testing.T) {
	r := newRig(t)
	srv := httptest.NewServer(r.s)
	defer srv.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.s.Run(ctx)

	req, err := http.NewRequestWithContext(ctx, "GET", srv.URL+"/events?stream=mode", nil)
	if err != nil {
		t.Fatalf("request: %s", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %s", err)
	}
	defer resp.Body.Close()

	// The subscription may not be live yet, so keep publishing.
	go func() {
		tick := time.NewTicker(10 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				r.topics.Mode.Publish(ModeStatus{Mode: ModeLand, Armed: true, Reason: "test"}, t0)
			}
		}
	}()

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		data, ok := strings.CutPrefix(sc.Text(), "data: ")
		if !ok {
			continue
		}
		var ms ModeStatus
		err := json.Unmarshal([]byte(data), &ms)
		if err != nil {
			t.Fatalf("event %q: %s", data, err)
		}
		if ms.Mode != ModeLand || !ms.Armed {
			t.Fatalf("got %s", ms)
		}
		return
	}
	t.Fatalf("stream ended: %v", sc.Err())
}
