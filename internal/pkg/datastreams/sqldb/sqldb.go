package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ohowland/cgc_nodal/internal/pkg/config"
	"github.com/ohowland/cgc_nodal/internal/pkg/datastreams"
	"github.com/ohowland/cgc_nodal/internal/pkg/msg"
	"github.com/ohowland/cgc_nodal/internal/pkg/network"
	"go.uber.org/zap"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)

const writeTimeout = 5 * time.Second

// Handler records every solve run and its nodal prices in a MySQL or
// Postgres database.
type Handler struct {
	pid    uuid.UUID
	inbox  datastreams.Inbox
	config config.SQL
	logger *zap.Logger
	stop   chan struct{}
	once   *sync.Once
}

func New(cfg config.SQL, system msg.Publisher, logger *zap.Logger) (*Handler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := dsn(cfg); err != nil {
		return nil, err
	}
	pid, err := uuid.NewUUID()
	if err != nil {
		return nil, err
	}
	inbox, err := datastreams.Subscribe(system, pid)
	if err != nil {
		return nil, err
	}
	return &Handler{
		pid:    pid,
		inbox:  inbox,
		config: cfg,
		logger: logger.Named("sqldb"),
		stop:   make(chan struct{}),
		once:   &sync.Once{},
	}, nil
}

func (h *Handler) PID() uuid.UUID {
	return h.pid
}

func (h *Handler) Stop() {
	h.once.Do(func() { close(h.stop) })
}

func dsn(cfg config.SQL) (string, error) {
	switch cfg.Driver {
	case "mysql":
		return fmt.Sprintf("%v:%v@tcp(%v:%v)/%v?parseTime=true",
			cfg.Username, cfg.Password, cfg.Server, cfg.Port, cfg.Database), nil
	case "postgres":
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(cfg.Username, cfg.Password),
			Host:     fmt.Sprintf("%v:%v", cfg.Server, cfg.Port),
			Path:     "/" + cfg.Database,
			RawQuery: "sslmode=disable",
		}
		return u.String(), nil
	default:
		return "", fmt.Errorf("unknown sql driver %q", cfg.Driver)
	}
}

// DB opens the configured database.
func (h *Handler) DB() (*sql.DB, error) {
	uri, err := dsn(h.config)
	if err != nil {
		return nil, err
	}
	return sql.Open(h.config.Driver, uri)
}

// rebind rewrites ? placeholders as $n for postgres.
func rebind(driver, query string) string {
	if driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS solve_runs(
		run_id VARCHAR(36) PRIMARY KEY,
		network VARCHAR(255) NOT NULL,
		network_pid VARCHAR(36) NOT NULL,
		status VARCHAR(16) NOT NULL,
		objective DOUBLE PRECISION NOT NULL,
		solved_at TIMESTAMP NOT NULL,
		duration_ms BIGINT NOT NULL,
		result TEXT NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS nodal_prices(
		run_id VARCHAR(36) NOT NULL,
		bus VARCHAR(255) NOT NULL,
		timestep_index INTEGER NOT NULL,
		timestep VARCHAR(255) NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (run_id, bus, timestep_index))`,
}

func initDBTables(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

const (
	insertRun   = `INSERT INTO solve_runs (run_id, network, network_pid, status, objective, solved_at, duration_ms, result) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	insertPrice = `INSERT INTO nodal_prices (run_id, bus, timestep_index, timestep, price) VALUES (?, ?, ?, ?, ?)`
)

type priceRow struct {
	bus   string
	index int
	label string
	price float64
}

// priceRows flattens the nodal prices of r, one row per bus and timestep.
func priceRows(r *network.SolveResult) []priceRow {
	rows := make([]priceRow, 0)
	for bus, b := range r.Buses {
		for i, p := range b.NodalPrices {
			rows = append(rows, priceRow{bus: bus, index: i, label: r.Timesteps[i], price: p})
		}
	}
	return rows
}

// insertResult writes the run row and its price rows in one transaction.
func insertResult(ctx context.Context, db *sql.DB, driver string, r *network.SolveResult) error {
	body, err := json.Marshal(r)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, rebind(driver, insertRun),
		r.RunID.String(), r.Network, r.NetworkPID.String(), r.Status.String(),
		r.Objective, r.SolvedAt.UTC(), r.Duration.Milliseconds(), string(body)); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, rebind(driver, insertPrice))
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, row := range priceRows(r) {
		if _, err := stmt.ExecContext(ctx, r.RunID.String(), row.bus, row.index, row.label, row.price); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Process opens the database, creates the tables and writes results until
// ctx ends or Stop is called. Status messages are ignored.
func (h *Handler) Process(ctx context.Context) error {
	db, err := h.DB()
	if err != nil {
		return err
	}
	defer db.Close()

	initCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	err = initDBTables(initCtx, db)
	cancel()
	if err != nil {
		return fmt.Errorf("sqldb init tables: %w", err)
	}
	h.logger.Info("[SQL] Process Started", zap.String("driver", h.config.Driver))

	h.inbox.Loop(ctx, h.stop, func(m msg.Msg) {
		r, ok := datastreams.Result(m)
		if !ok {
			return
		}
		wctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := insertResult(wctx, db, h.config.Driver, r); err != nil {
			h.logger.Warn("[SQL] error updating db",
				zap.Stringer("run", r.RunID),
				zap.Error(err))
		}
	})
	h.logger.Info("[SQL] Process Shutdown")
	return nil
}
