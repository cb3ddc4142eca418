package webservice

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/ohowland/cgc_nodal/internal/pkg/config"
	"github.com/ohowland/cgc_nodal/internal/pkg/datastreams"
	"github.com/ohowland/cgc_nodal/internal/pkg/export"
	"github.com/ohowland/cgc_nodal/internal/pkg/lp"
	"github.com/ohowland/cgc_nodal/internal/pkg/msg"
	"github.com/ohowland/cgc_nodal/internal/pkg/network"
	"github.com/ohowland/cgc_nodal/internal/pkg/scenario"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

var errSolverBusy = errors.New("every solver slot is in use")

const (
	contentJSON  = "application/json; charset=UTF-8"
	contentCSV   = "text/csv; charset=UTF-8"
	maxBodyBytes = 8 << 20
)

// App serves scenario solves over HTTP. Every stored result is forwarded to
// Publisher, which feeds the websocket hub and any datastream sinks.
type App struct {
	Solver    lp.Solver
	Store     *Store
	Publisher *msg.PubSub
	Metrics   *Metrics
	Hub       *Hub
	Logger    *zap.Logger
	Origins   []string

	pid   uuid.UUID
	slots chan struct{}
}

// New wires an App from cfg. A nil publisher gets a private one.
func New(cfg config.Config, publisher *msg.PubSub, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	pid := uuid.New()
	if publisher == nil {
		publisher = msg.NewPublisher(pid)
	}
	logger = logger.Named("webservice")
	slots := cfg.Solver.MaxConcurrent
	if slots < 1 {
		slots = 1
	}
	return &App{
		Solver: lp.NewSimplex(
			lp.WithTolerance(cfg.Solver.Tolerance),
			lp.WithTimeout(cfg.Solver.Timeout.Duration),
			lp.WithLogger(logger),
		),
		Store:     NewStore(DefaultCapacity),
		Publisher: publisher,
		Metrics:   NewMetrics(),
		Hub:       NewHub(logger),
		Logger:    logger,
		Origins:   cfg.Server.AllowedOrigins,
		pid:       pid,
		slots:     make(chan struct{}, slots),
	}
}

// Start runs the websocket hub and relays published results and status
// events to it until ctx ends.
func (a *App) Start(ctx context.Context) error {
	inbox, err := datastreams.Subscribe(a.Publisher, a.pid)
	if err != nil {
		return err
	}
	go a.Hub.Run(ctx)
	go func() {
		defer a.Publisher.Unsubscribe(a.pid)
		inbox.Loop(ctx, nil, func(m msg.Msg) {
			if r, ok := datastreams.Result(m); ok {
				a.Hub.BroadcastMessage(MsgTypeRun, datastreams.Summarize(r))
				return
			}
			if ev, ok := m.Payload().(network.StatusEvent); ok {
				a.Hub.BroadcastMessage(MsgTypeStatus, ev)
			}
		})
	}()
	return nil
}

func (a *App) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", a.BaseHandler).Methods("GET")
	r.HandleFunc("/solve", a.SolveHandler).Methods("POST")
	r.HandleFunc("/runs", a.RunsHandler).Methods("GET")
	r.HandleFunc("/runs/{rid}", a.RunHandler).Methods("GET")
	r.HandleFunc("/runs/{rid}/prices/{bus}", a.PricesHandler).Methods("GET")
	r.HandleFunc("/runs/{rid}/export.csv", a.ExportHandler).Methods("GET")
	r.Handle("/ws", a.Hub)
	r.Handle("/metrics", a.Metrics.Handler())
	return r
}

// Handler is the router wrapped with the configured CORS policy.
func (a *App) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: a.Origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(a.Router())
}

type errorBody struct {
	Error string `json:"error"`
}

func (a *App) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", contentJSON)
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.Logger.Warn("[Webservice] unable to write response", zap.Error(err))
	}
}

func (a *App) writeError(w http.ResponseWriter, code int, err error) {
	a.writeJSON(w, code, errorBody{Error: err.Error()})
}

func (a *App) BaseHandler(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
		Runs   int    `json:"runs"`
	}{"ok", a.Store.Len()})
}

// SolveHandler builds a network from a JSON scenario, solves it and stores
// the result. Infeasible and unbounded programs are still stored and
// returned with 201; only malformed or invalid scenarios are rejected. At
// most cfg.Solver.MaxConcurrent solves run at once and requests beyond that
// get 503.
func (a *App) SolveHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		a.Metrics.rejected()
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	s, err := scenario.Parse(body, scenario.JSON)
	if err != nil {
		a.Metrics.rejected()
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	n, err := scenario.Build(s, network.WithSolver(a.Solver), network.WithLogger(a.Logger))
	if err != nil {
		a.Metrics.rejected()
		a.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	defer n.Close()

	select {
	case a.slots <- struct{}{}:
		defer func() { <-a.slots }()
	default:
		a.Metrics.busy()
		w.Header().Set("Retry-After", "1")
		a.writeError(w, http.StatusServiceUnavailable, errSolverBusy)
		return
	}

	events, err := n.Subscribe(a.pid, msg.Status)
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}

	_, err = n.Solve(r.Context())
	a.relay(events)
	if err != nil {
		a.Metrics.rejected()
		code := http.StatusInternalServerError
		if isValidation(err) {
			code = http.StatusUnprocessableEntity
		}
		a.writeError(w, code, err)
		return
	}

	result := n.Result()
	a.Store.Put(result)
	a.Metrics.observe(result, a.Store.Len())
	a.Publisher.Forward(msg.New(n.PID(), msg.Result, result))

	a.Logger.Info("[Webservice] run stored",
		zap.Stringer("run", result.RunID),
		zap.String("network", result.Network),
		zap.Stringer("status", result.Status))
	a.writeJSON(w, http.StatusCreated, result)
}

// relay forwards the lifecycle events already queued on events.
func (a *App) relay(events <-chan msg.Msg) {
	for {
		select {
		case m, ok := <-events:
			if !ok {
				return
			}
			a.Publisher.Forward(m)
		default:
			return
		}
	}
}

func isValidation(err error) bool {
	var mismatch *network.TimestepLengthMismatch
	var invalid *network.InvalidParameterError
	return errors.As(err, &mismatch) || errors.As(err, &invalid)
}

func (a *App) RunsHandler(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.Store.List())
}

// lookup resolves the {rid} route variable, writing the error response
// itself when the run cannot be found.
func (a *App) lookup(w http.ResponseWriter, r *http.Request) (*network.SolveResult, bool) {
	rid, err := uuid.Parse(mux.Vars(r)["rid"])
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return nil, false
	}
	result, ok := a.Store.Get(rid)
	if !ok {
		a.writeError(w, http.StatusNotFound, errors.New("run "+rid.String()+" not found"))
		return nil, false
	}
	return result, true
}

func (a *App) RunHandler(w http.ResponseWriter, r *http.Request) {
	result, ok := a.lookup(w, r)
	if !ok {
		return
	}
	a.writeJSON(w, http.StatusOK, result)
}

type pricesBody struct {
	RunID       uuid.UUID `json:"run_id"`
	Bus         string    `json:"bus"`
	Timesteps   []string  `json:"timesteps"`
	NodalPrices []float64 `json:"nodal_prices"`
}

func (a *App) PricesHandler(w http.ResponseWriter, r *http.Request) {
	result, ok := a.lookup(w, r)
	if !ok {
		return
	}
	bus := mux.Vars(r)["bus"]
	prices, err := result.NodalPrices(bus)
	switch {
	case errors.Is(err, network.ErrUnknownBus):
		a.writeError(w, http.StatusNotFound, err)
		return
	case errors.Is(err, network.ErrNotOptimal):
		a.writeError(w, http.StatusConflict, err)
		return
	case err != nil:
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	a.writeJSON(w, http.StatusOK, pricesBody{
		RunID:       result.RunID,
		Bus:         bus,
		Timesteps:   result.Timesteps,
		NodalPrices: prices,
	})
}

func (a *App) ExportHandler(w http.ResponseWriter, r *http.Request) {
	result, ok := a.lookup(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", contentCSV)
	w.Header().Set("Content-Disposition", `attachment; filename="`+result.RunID.String()+`.csv"`)
	w.WriteHeader(http.StatusOK)
	if err := export.WriteCSV(w, result); err != nil {
		a.Logger.Warn("[Webservice] csv export failed", zap.Stringer("run", result.RunID), zap.Error(err))
	}
}
