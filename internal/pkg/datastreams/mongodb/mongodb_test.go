package mongodb

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ohowland/cgc_nodal/internal/pkg/lp"
	"github.com/ohowland/cgc_nodal/internal/pkg/network"
	"go.mongodb.org/mongo-driver/bson"
	"gotest.tools/v3/assert"
)

func TestResultToBSON(t *testing.T) {
	r := &network.SolveResult{
		RunID:     uuid.New(),
		Network:   "grid",
		Timesteps: []string{"t0"},
		Status:    lp.Optimal,
		Objective: 45,
		Duration:  1500 * time.Millisecond,
		Buses: map[string]*network.BusResult{
			"A": {NodalPrices: []float64{5}},
		},
	}

	update, err := resultToBSON(r)
	assert.NilError(t, err)
	assert.Equal(t, len(update), 1)
	assert.Equal(t, update[0].Key, "$set")

	set := update[0].Value.(bson.M)
	assert.Equal(t, set["run_id"], r.RunID.String())
	assert.Equal(t, set["status"], "Optimal")
	assert.Equal(t, set["duration_ms"], int64(1500))
	assert.DeepEqual(t, set["nodal_prices"], map[string][]float64{"A": {5}})

	full := set["result"].(bson.M)
	assert.Equal(t, full["network"], "grid")
	assert.Equal(t, full["status"], "Optimal")

	assert.DeepEqual(t, runFilter(r), bson.M{"run_id": r.RunID.String()})
}
