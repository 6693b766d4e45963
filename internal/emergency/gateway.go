package emergency

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"vitalguard/internal/config"
	"vitalguard/internal/model"
)

// HTTPGateway talks to the companion-app bridge that fronts the phone's
// telephony, SMS and location services. It implements LocationProvider,
// CallDispatcher and VitalsStreamer.
type HTTPGateway struct {
	client *resty.Client
	logger *slog.Logger

	mu       sync.Mutex
	streamID string
}

func NewHTTPGateway(cfg config.EmergencyConfig, logger *slog.Logger) *HTTPGateway {
	client := resty.New().
		SetBaseURL(cfg.GatewayURL).
		SetTimeout(cfg.RequestTimeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)
	return &HTTPGateway{client: client, logger: logger}
}

func (g *HTTPGateway) CurrentLocation(ctx context.Context) (model.Location, error) {
	var loc model.Location
	resp, err := g.client.R().
		SetContext(ctx).
		SetResult(&loc).
		Get("/location")
	if err != nil {
		return model.Location{}, fmt.Errorf("gateway location: %w", err)
	}
	if resp.IsError() {
		return model.Location{}, fmt.Errorf("gateway location: status %d", resp.StatusCode())
	}
	return loc, nil
}

type callRequest struct {
	Number string `json:"number"`
}

func (g *HTTPGateway) PlaceCall(ctx context.Context, number string) error {
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(callRequest{Number: number}).
		Post("/calls")
	if err != nil {
		return fmt.Errorf("gateway call: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("gateway call: status %d", resp.StatusCode())
	}
	return nil
}

type smsRequest struct {
	Recipients []string `json:"recipients"`
	Body       string   `json:"body"`
}

func (g *HTTPGateway) SendSMS(ctx context.Context, recipients []string, body string) error {
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(smsRequest{Recipients: recipients, Body: body}).
		Post("/sms")
	if err != nil {
		return fmt.Errorf("gateway sms: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("gateway sms: status %d", resp.StatusCode())
	}
	return nil
}

type streamResponse struct {
	StreamID string `json:"stream_id"`
}

func (g *HTTPGateway) OpenStream(ctx context.Context, trigger model.EmergencyTrigger) error {
	var out streamResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(trigger).
		SetResult(&out).
		Post("/streams")
	if err != nil {
		return fmt.Errorf("gateway stream: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("gateway stream: status %d", resp.StatusCode())
	}
	g.mu.Lock()
	g.streamID = out.StreamID
	g.mu.Unlock()
	return nil
}

func (g *HTTPGateway) CloseStream() {
	g.mu.Lock()
	id := g.streamID
	g.streamID = ""
	g.mu.Unlock()
	if id == "" {
		return
	}
	resp, err := g.client.R().Delete("/streams/" + id)
	if err != nil {
		if g.logger != nil {
			g.logger.Warn("stream close failed", "stream_id", id, "err", err)
		}
		return
	}
	if resp.IsError() && g.logger != nil {
		g.logger.Warn("stream close failed", "stream_id", id, "status", resp.StatusCode())
	}
}
