package mongodb

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ohowland/cgc_nodal/internal/pkg/config"
	"github.com/ohowland/cgc_nodal/internal/pkg/datastreams"
	"github.com/ohowland/cgc_nodal/internal/pkg/msg"
	"github.com/ohowland/cgc_nodal/internal/pkg/network"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const writeTimeout = 5 * time.Second

// Handler upserts one document per solve run, keyed by run_id.
type Handler struct {
	pid    uuid.UUID
	inbox  datastreams.Inbox
	config config.Mongo
	logger *zap.Logger
	stop   chan struct{}
	once   *sync.Once
}

func New(cfg config.Mongo, system msg.Publisher, logger *zap.Logger) (*Handler, error) {
	if logger == nil {
		logger = zap.NewNop()
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
		logger: logger.Named("mongodb"),
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

func runFilter(r *network.SolveResult) bson.M {
	return bson.M{"run_id": r.RunID.String()}
}

// resultToBSON builds the $set update for r. The full result is stored
// under "result" with the same field names as its JSON form.
func resultToBSON(r *network.SolveResult) (bson.D, error) {
	//TODO: run_id and network_pid should be written as binary subtype 0x04
	// (UUID standard). currently written as strings.
	body, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	var full bson.M
	if err := bson.UnmarshalExtJSON(body, false, &full); err != nil {
		return nil, err
	}
	summary := datastreams.Summarize(r)
	return bson.D{
		{Key: "$set", Value: bson.M{
			"run_id":       r.RunID.String(),
			"network":      r.Network,
			"network_pid":  r.NetworkPID.String(),
			"status":       r.Status.String(),
			"objective":    r.Objective,
			"solved_at":    r.SolvedAt,
			"duration_ms":  r.Duration.Milliseconds(),
			"timesteps":    r.Timesteps,
			"nodal_prices": summary.NodalPrices,
			"result":       full,
		}},
	}, nil
}

// Process connects and writes results until ctx ends or Stop is called.
func (h *Handler) Process(ctx context.Context) error {
	connectCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(h.config.URI))
	cancel()
	if err != nil {
		return fmt.Errorf("mongo connect: %w", err)
	}
	defer client.Disconnect(context.Background())

	coll := client.Database(h.config.Database).Collection(h.config.Collection)
	h.logger.Info("[Mongo] Process Started",
		zap.String("database", h.config.Database),
		zap.String("collection", h.config.Collection))

	h.inbox.Loop(ctx, h.stop, func(m msg.Msg) {
		r, ok := datastreams.Result(m)
		if !ok {
			return
		}
		update, err := resultToBSON(r)
		if err != nil {
			h.logger.Warn("[Mongo] unable to encode result", zap.Error(err))
			return
		}
		wctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		opts := options.Update().SetUpsert(true)
		if _, err := coll.UpdateOne(wctx, runFilter(r), update, opts); err != nil {
			h.logger.Warn("[Mongo] upsert failed",
				zap.Stringer("run", r.RunID),
				zap.Error(err))
		}
	})
	h.logger.Info("[Mongo] Process Shutdown")
	return nil
}
