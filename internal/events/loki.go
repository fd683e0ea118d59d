package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// lokiJob is the job label on every pushed stream.
const lokiJob = "leadflow"

type pushRequest struct {
	Streams []stream `json:"streams"`
}

type stream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"` // [timestamp_ns, line]
}

// labelSanitize replaces characters that are invalid in Loki label values.
var labelSanitize = regexp.MustCompile(`[^a-zA-Z0-9_\-:]`)

// LokiClient pushes log lines to the Loki push API.
type LokiClient struct {
	baseURL string
	client  *http.Client
}

// NewLokiClient returns a client for baseURL (e.g. http://localhost:3100).
func NewLokiClient(baseURL string, client *http.Client) *LokiClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &LokiClient{baseURL: strings.TrimSuffix(baseURL, "/"), client: client}
}

// PushEventJSON pushes a raw AuthEvent payload, labelled by event type, purpose and outcome.
// Payloads that do not parse are pushed as-is with the current time.
func (c *LokiClient) PushEventJSON(ctx context.Context, raw []byte) error {
	labels := map[string]string{}
	ts := time.Now().UTC()
	var ev AuthEvent
	if err := json.Unmarshal(raw, &ev); err == nil {
		labels["event_type"] = string(ev.Type)
		labels["purpose"] = ev.Purpose
		labels["outcome"] = ev.Outcome
		labels["source"] = ev.Source
		if !ev.CreatedAt.IsZero() {
			ts = ev.CreatedAt
		}
	}
	return c.PushEvent(ctx, ts, string(raw), labels)
}

// PushEvent sends a single line. Empty label values are dropped.
func (c *LokiClient) PushEvent(ctx context.Context, timestamp time.Time, line string, labels map[string]string) error {
	if c.baseURL == "" {
		return fmt.Errorf("loki: base URL is empty")
	}
	streamLabels := map[string]string{"job": lokiJob}
	for k, v := range labels {
		if sanitized := labelSanitize.ReplaceAllString(strings.TrimSpace(v), "_"); sanitized != "" {
			streamLabels[k] = sanitized
		}
	}
	payload, err := json.Marshal(pushRequest{Streams: []stream{{
		Stream: streamLabels,
		Values: [][]string{{strconv.FormatInt(timestamp.UnixNano(), 10), line}},
	}}})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/loki/api/v1/push", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("loki: push returned %s", resp.Status)
	}
	return nil
}
