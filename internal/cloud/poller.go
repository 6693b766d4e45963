package cloud

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"vitalguard/internal/config"
	"vitalguard/internal/model"
)

// Poller fetches the latest cloud analysis over REST on a fixed
// interval. It covers deployments without an MQTT push path and doubles
// as a safety net when the broker is unreachable.
type Poller struct {
	cfg    config.CloudRESTConfig
	client *resty.Client
	out    chan model.CloudMLResponse
	logger *slog.Logger

	lastRequestID string
}

func NewPoller(cfg config.CloudRESTConfig, logger *slog.Logger) *Poller {
	client := resty.New().
		SetBaseURL(cfg.URL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(1)
	return &Poller{
		cfg:    cfg,
		client: client,
		out:    make(chan model.CloudMLResponse, 16),
		logger: logger,
	}
}

func (p *Poller) Responses() <-chan model.CloudMLResponse {
	return p.out
}

// Run polls until the context is cancelled, then closes the output
// channel.
func (p *Poller) Run(ctx context.Context) {
	defer close(p.out)
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			resp, err := p.fetch(ctx)
			if err != nil {
				if p.logger != nil {
					p.logger.Warn("cloud poll failed", "err", err)
				}
				continue
			}
			// Re-delivery of the same analysis between pushes is normal.
			if resp.RequestID != "" && resp.RequestID == p.lastRequestID {
				continue
			}
			p.lastRequestID = resp.RequestID
			select {
			case p.out <- resp:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (p *Poller) fetch(ctx context.Context) (model.CloudMLResponse, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		Get("/analysis/latest")
	if err != nil {
		return model.CloudMLResponse{}, fmt.Errorf("cloud: poll: %w", err)
	}
	if resp.IsError() {
		return model.CloudMLResponse{}, fmt.Errorf("cloud: poll: status %d", resp.StatusCode())
	}
	return decodeResponse(resp.Body())
}
