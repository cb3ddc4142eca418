package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/ohowland/cgc_nodal/internal/pkg/config"
	"github.com/ohowland/cgc_nodal/internal/pkg/datastreams"
	"github.com/ohowland/cgc_nodal/internal/pkg/msg"
	"go.uber.org/zap"
)

// Handler posts the price summary of every solve to an HTTP endpoint.
type Handler struct {
	pid    uuid.UUID
	inbox  datastreams.Inbox
	config config.Webhook
	client *http.Client
	logger *zap.Logger
	stop   chan struct{}
	once   *sync.Once
}

func New(cfg config.Webhook, system msg.Publisher, logger *zap.Logger) (*Handler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("webhook url: %w", err)
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
		client: &http.Client{Timeout: cfg.Timeout.Duration},
		logger: logger.Named("webhook"),
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

// target returns "{base}/networks/{network}/prices".
func target(base, networkName string) string {
	return strings.TrimSuffix(base, "/") + "/networks/" + url.PathEscape(networkName) + "/prices"
}

func (h *Handler) post(ctx context.Context, summary datastreams.PriceSummary) error {
	body, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target(h.config.URL, summary.Network), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s: %s", req.URL, resp.Status)
	}
	return nil
}

// Process posts results until ctx ends or Stop is called. Failed posts are
// logged and not retried.
func (h *Handler) Process(ctx context.Context) error {
	h.logger.Info("[Webhook] Process Started", zap.String("url", h.config.URL))
	h.inbox.Loop(ctx, h.stop, func(m msg.Msg) {
		r, ok := datastreams.Result(m)
		if !ok {
			return
		}
		// ctx may already be done while the inbox drains
		if err := h.post(context.WithoutCancel(ctx), datastreams.Summarize(r)); err != nil {
			h.logger.Warn("[Webhook] post failed", zap.Stringer("run", r.RunID), zap.Error(err))
		}
	})
	h.logger.Info("[Webhook] Process Shutdown")
	return nil
}
