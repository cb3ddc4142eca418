package webservice

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ohowland/cgc_nodal/internal/pkg/config"
	"github.com/ohowland/cgc_nodal/internal/pkg/datastreams"
	"github.com/ohowland/cgc_nodal/internal/pkg/lp"
	"github.com/ohowland/cgc_nodal/internal/pkg/msg"
	"github.com/ohowland/cgc_nodal/internal/pkg/network"
	"gotest.tools/v3/assert"
	"gotest.tools/v3/poll"
)

const delta = 1e-6

const twoBusJSON = `{
	"name": "two_bus",
	"timesteps": [0, 1],
	"buses": [
		{
			"name": "A",
			"generators": [{"name": "genA", "generator_type": "wind", "capacities": [12, 20], "costs": [0, 0]}],
			"loads": [{"name": "loadA", "consumptions": [10, 10]}]
		},
		{
			"name": "B",
			"generators": [{"name": "genB", "generator_type": "gas", "capacities": [20, 20], "costs": [5, 5]}],
			"loads": [{"name": "loadB", "consumptions": [10, 10]}]
		}
	],
	"transmission_lines": [{"start_bus": "A", "end_bus": "B", "capacities": [5, 5]}]
}`

const infeasibleJSON = `{
	"name": "short",
	"timesteps": ["t0"],
	"buses": [{
		"name": "A",
		"generators": [{"name": "gen", "capacities": [10], "costs": [1]}],
		"loads": [{"name": "load", "consumptions": [100]}]
	}]
}`

func newApp() *App {
	return New(config.Default(), nil, nil)
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	w := httptest.NewRecorder()
	r := httptest.NewRequest(method, "http://example.com"+target, reader)
	h.ServeHTTP(w, r)
	return w
}

func solve(t *testing.T, h http.Handler, body string) network.SolveResult {
	t.Helper()
	w := do(t, h, "POST", "/solve", body)
	assert.Equal(t, w.Code, http.StatusCreated, w.Body.String())
	assert.Equal(t, w.Result().Header.Get("Content-Type"), contentJSON)

	var result network.SolveResult
	assert.NilError(t, json.Unmarshal(w.Body.Bytes(), &result))
	return result
}

func nearAll(t *testing.T, got, want []float64) {
	t.Helper()
	assert.Equal(t, len(got), len(want))
	for i := range want {
		assert.Assert(t, got[i] > want[i]-delta && got[i] < want[i]+delta,
			"entry %d: got %v, want %v", i, got[i], want[i])
	}
}

func TestBaseHandler(t *testing.T) {
	router := newApp().Router()
	w := do(t, router, "GET", "/", "")
	assert.Equal(t, w.Code, http.StatusOK)
	assert.Equal(t, w.Result().Header.Get("Content-Type"), contentJSON)
}

func TestSolveAndFetchPrices(t *testing.T) {
	app := newApp()
	router := app.Router()

	result := solve(t, router, twoBusJSON)
	assert.Equal(t, result.Status, lp.Optimal)
	assert.Assert(t, result.Objective > 65-delta && result.Objective < 65+delta)
	nearAll(t, result.Lines["A_to_B"].Flows, []float64{2, 5})

	w := do(t, router, "GET", "/runs/"+result.RunID.String(), "")
	assert.Equal(t, w.Code, http.StatusOK)

	w = do(t, router, "GET", "/runs/"+result.RunID.String()+"/prices/A", "")
	assert.Equal(t, w.Code, http.StatusOK)
	var prices pricesBody
	assert.NilError(t, json.Unmarshal(w.Body.Bytes(), &prices))
	assert.Equal(t, prices.Bus, "A")
	assert.DeepEqual(t, prices.Timesteps, []string{"0", "1"})
	nearAll(t, prices.NodalPrices, []float64{5, 0})

	w = do(t, router, "GET", "/runs/"+result.RunID.String()+"/prices/B", "")
	assert.NilError(t, json.Unmarshal(w.Body.Bytes(), &prices))
	nearAll(t, prices.NodalPrices, []float64{5, 5})

	w = do(t, router, "GET", "/runs/"+result.RunID.String()+"/prices/C", "")
	assert.Equal(t, w.Code, http.StatusNotFound)
}

func TestRunLookupErrors(t *testing.T) {
	router := newApp().Router()

	w := do(t, router, "GET", "/runs/"+uuid.New().String(), "")
	assert.Equal(t, w.Code, http.StatusNotFound)

	w = do(t, router, "GET", "/runs/not-a-uuid", "")
	assert.Equal(t, w.Code, http.StatusBadRequest)
}

func TestRunsNewestFirst(t *testing.T) {
	router := newApp().Router()
	first := solve(t, router, twoBusJSON)
	second := solve(t, router, infeasibleJSON)

	w := do(t, router, "GET", "/runs", "")
	assert.Equal(t, w.Code, http.StatusOK)
	var runs []RunSummary
	assert.NilError(t, json.Unmarshal(w.Body.Bytes(), &runs))
	assert.Equal(t, len(runs), 2)
	assert.Equal(t, runs[0].RunID, second.RunID)
	assert.Equal(t, runs[1].RunID, first.RunID)
	assert.Equal(t, runs[0].Status, lp.Infeasible)
}

func TestSolveRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		code int
	}{
		{"malformed", `{"name": `, http.StatusBadRequest},
		{"unknown field", `{"name": "x", "timesteps": [0], "colour": "red"}`, http.StatusBadRequest},
		{"no timesteps", `{"name": "x", "timesteps": []}`, http.StatusUnprocessableEntity},
		{"duplicate bus", `{"name": "x", "timesteps": [0], "buses": [{"name": "A"}, {"name": "A"}]}`, http.StatusUnprocessableEntity},
		{"length mismatch", `{"name": "x", "timesteps": [0, 1], "buses": [{"name": "A", "loads": [{"name": "l", "consumptions": [1]}]}]}`, http.StatusUnprocessableEntity},
		{"negative capacity", `{"name": "x", "timesteps": [0], "buses": [{"name": "A", "generators": [{"name": "g", "capacities": [-1], "costs": [1]}]}]}`, http.StatusUnprocessableEntity},
	}

	app := newApp()
	router := app.Router()
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, router, "POST", "/solve", tc.body)
			assert.Equal(t, w.Code, tc.code, w.Body.String())
			assert.Equal(t, w.Result().Header.Get("Content-Type"), contentJSON)
		})
	}
	assert.Equal(t, app.Store.Len(), 0)
}

func TestInfeasibleRunHasNoPrices(t *testing.T) {
	router := newApp().Router()
	result := solve(t, router, infeasibleJSON)
	assert.Equal(t, result.Status, lp.Infeasible)
	assert.Equal(t, result.Objective, 0.0)

	w := do(t, router, "GET", "/runs/"+result.RunID.String()+"/prices/A", "")
	assert.Equal(t, w.Code, http.StatusConflict)
}

func TestExportCSV(t *testing.T) {
	router := newApp().Router()
	result := solve(t, router, twoBusJSON)

	w := do(t, router, "GET", "/runs/"+result.RunID.String()+"/export.csv", "")
	assert.Equal(t, w.Code, http.StatusOK)
	assert.Equal(t, w.Result().Header.Get("Content-Type"), contentCSV)
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	assert.Equal(t, lines[0], "timestep_index,timestep,bus,kind,entity,quantity,value")
	assert.Assert(t, len(lines) > 1)
}

func TestMetrics(t *testing.T) {
	app := newApp()
	router := app.Router()
	solve(t, router, twoBusJSON)
	do(t, router, "POST", "/solve", `{"name": `)

	w := do(t, router, "GET", "/metrics", "")
	assert.Equal(t, w.Code, http.StatusOK)
	body := w.Body.String()
	assert.Assert(t, strings.Contains(body, `cgc_solves_total{status="Optimal"} 1`), body)
	assert.Assert(t, strings.Contains(body, `cgc_solves_total{status="rejected"} 1`), body)
	assert.Assert(t, strings.Contains(body, "cgc_runs_stored 1"), body)
	assert.Assert(t, strings.Contains(body, "cgc_solve_duration_seconds_count 1"), body)
}

func TestSolveTurnsAwayWhenSlotsAreTaken(t *testing.T) {
	cfg := config.Default()
	cfg.Solver.MaxConcurrent = 1
	app := New(cfg, nil, nil)
	router := app.Router()

	app.slots <- struct{}{}
	w := do(t, router, "POST", "/solve", twoBusJSON)
	assert.Equal(t, w.Code, http.StatusServiceUnavailable, w.Body.String())
	assert.Equal(t, w.Result().Header.Get("Retry-After"), "1")
	assert.Equal(t, app.Store.Len(), 0)

	<-app.slots
	solve(t, router, twoBusJSON)
	assert.Equal(t, len(app.slots), 0)

	w = do(t, router, "GET", "/metrics", "")
	assert.Assert(t, strings.Contains(w.Body.String(), `cgc_solves_total{status="busy"} 1`), w.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	h := newApp().Handler()
	w := httptest.NewRecorder()
	r := httptest.NewRequest("OPTIONS", "http://example.com/solve", nil)
	r.Header.Set("Origin", "http://dashboard.local")
	r.Header.Set("Access-Control-Request-Method", "POST")
	h.ServeHTTP(w, r)
	assert.Equal(t, w.Result().Header.Get("Access-Control-Allow-Origin"), "*")
}

func TestSolveForwardsToPublisher(t *testing.T) {
	app := newApp()
	pid := uuid.New()
	inbox, err := datastreams.Subscribe(app.Publisher, pid)
	assert.NilError(t, err)

	result := solve(t, app.Router(), twoBusJSON)

	var events []string
	var got *network.SolveResult
	inbox.Drain(func(m msg.Msg) {
		if r, ok := datastreams.Result(m); ok {
			got = r
			return
		}
		if ev, ok := m.Payload().(network.StatusEvent); ok {
			events = append(events, ev.Event)
		}
	})
	assert.Assert(t, got != nil)
	assert.Equal(t, got.RunID, result.RunID)
	assert.DeepEqual(t, events, []string{"build", "solve_optimal"})
}

func TestWebsocketBroadcastsRuns(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app := newApp()
	assert.NilError(t, app.Start(ctx))
	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	assert.NilError(t, err)
	defer conn.Close()

	poll.WaitOn(t, func(poll.LogT) poll.Result {
		if app.Hub.ClientCount() == 1 {
			return poll.Success()
		}
		return poll.Continue("waiting for websocket client")
	}, poll.WithTimeout(2*time.Second))

	resp, err := http.Post(srv.URL+"/solve", "application/json", strings.NewReader(twoBusJSON))
	assert.NilError(t, err)
	resp.Body.Close()
	assert.Equal(t, resp.StatusCode, http.StatusCreated)

	assert.NilError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var m struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		assert.NilError(t, conn.ReadJSON(&m))
		if m.Type != MsgTypeRun {
			continue
		}
		var summary datastreams.PriceSummary
		assert.NilError(t, json.Unmarshal(m.Data, &summary))
		assert.Equal(t, summary.Network, "two_bus")
		assert.Equal(t, summary.Status, lp.Optimal)
		nearAll(t, summary.NodalPrices["B"], []float64{5, 5})
		return
	}
}
