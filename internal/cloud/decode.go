// Package cloud receives remote ML analysis results over MQTT push and
// REST polling and hands them to the fusion layer. Both transports
// deliver the same JSON document; validation of the contents happens
// downstream in fusion.
package cloud

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"vitalguard/internal/model"
)

type wireResponse struct {
	RequestID    string                  `json:"request_id"`
	Timestamp    json.RawMessage         `json:"timestamp"`
	Predictions  []model.CloudPrediction `json:"predictions"`
	Confidence   float64                 `json:"confidence"`
	HealthScore  float64                 `json:"health_score"`
	ModelVersion string                  `json:"model_version"`
}

// decodeResponse parses a cloud analysis document. Backend deployments
// have shipped timestamps as RFC3339 strings, unix seconds and unix
// milliseconds; all three are accepted.
func decodeResponse(payload []byte) (model.CloudMLResponse, error) {
	var w wireResponse
	if err := json.Unmarshal(payload, &w); err != nil {
		return model.CloudMLResponse{}, fmt.Errorf("cloud: decode response: %w", err)
	}
	ts, err := parseTimestamp(w.Timestamp)
	if err != nil {
		return model.CloudMLResponse{}, err
	}
	return model.CloudMLResponse{
		RequestID:    w.RequestID,
		Timestamp:    ts,
		Predictions:  w.Predictions,
		Confidence:   w.Confidence,
		HealthScore:  w.HealthScore,
		ModelVersion: w.ModelVersion,
	}, nil
}

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, nil
	}
	s := strings.Trim(string(raw), `"`)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("cloud: unsupported timestamp %q", s)
	}
	// Values this large are unix milliseconds.
	if n > 1e12 {
		return time.UnixMilli(int64(n)).UTC(), nil
	}
	return time.Unix(int64(n), 0).UTC(), nil
}
