package sqldb

import (
	"sort"
	"testing"

	"github.com/google/uuid"
	"github.com/ohowland/cgc_nodal/internal/pkg/config"
	"github.com/ohowland/cgc_nodal/internal/pkg/msg"
	"github.com/ohowland/cgc_nodal/internal/pkg/network"
	"gotest.tools/v3/assert"
)

func TestDSN(t *testing.T) {
	cfg := config.SQL{Driver: "mysql", Server: "localhost", Port: 3306, Username: "cgc", Password: "pw", Database: "grid"}
	uri, err := dsn(cfg)
	assert.NilError(t, err)
	assert.Equal(t, uri, "cgc:pw@tcp(localhost:3306)/grid?parseTime=true")

	cfg.Driver = "postgres"
	cfg.Port = 5432
	uri, err = dsn(cfg)
	assert.NilError(t, err)
	assert.Equal(t, uri, "postgres://cgc:pw@localhost:5432/grid?sslmode=disable")

	cfg.Driver = "sqlite"
	_, err = dsn(cfg)
	assert.ErrorContains(t, err, "unknown sql driver")
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	pub := msg.NewPublisher(uuid.New())
	_, err := New(config.SQL{Driver: "oracle"}, pub, nil)
	assert.ErrorContains(t, err, "oracle")
}

func TestRebind(t *testing.T) {
	assert.Equal(t, rebind("mysql", insertPrice), insertPrice)
	assert.Equal(t, rebind("postgres", insertPrice),
		`INSERT INTO nodal_prices (run_id, bus, timestep_index, timestep, price) VALUES ($1, $2, $3, $4, $5)`)
}

func TestPriceRows(t *testing.T) {
	r := &network.SolveResult{
		Timesteps: []string{"t0", "t1"},
		Buses: map[string]*network.BusResult{
			"A": {NodalPrices: []float64{5, 0}},
			"B": {NodalPrices: []float64{5, 5}},
			"C": {},
		},
	}
	rows := priceRows(r)
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].bus != rows[j].bus {
			return rows[i].bus < rows[j].bus
		}
		return rows[i].index < rows[j].index
	})
	assert.Equal(t, len(rows), 4)
	assert.Equal(t, rows[1], priceRow{bus: "A", index: 1, label: "t1", price: 0})
	assert.Equal(t, rows[3], priceRow{bus: "B", index: 1, label: "t1", price: 5})
}
