package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type HTTPClientConfig struct {
	BaseURL     string
	PredictPath string
	ReadyPath   string
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// HTTPClient talks to an out-of-process model server. One bounded attempt
// per call; retry across calls is the next evaluation pass's job.
type HTTPClient struct {
	baseURL     string
	predictPath string
	readyPath   string
	client      *http.Client
	timeout     time.Duration
}

func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("predictor base url required")
	}
	predictPath := cfg.PredictPath
	if predictPath == "" {
		predictPath = "/predict"
	}
	readyPath := cfg.ReadyPath
	if readyPath == "" {
		readyPath = "/ready"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		predictPath: predictPath,
		readyPath:   readyPath,
		client:      client,
		timeout:     timeout,
	}, nil
}

func (c *HTTPClient) Ready(ctx context.Context) bool {
	reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+c.readyPath, nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *HTTPClient) Predict(ctx context.Context, features Features) (Prediction, error) {
	payload := map[string]interface{}{
		"schemaVersion": SchemaVersion,
		"features":      features,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Prediction{}, fmt.Errorf("predictor marshal request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+c.predictPath, bytes.NewReader(body))
	if err != nil {
		return Prediction{}, fmt.Errorf("predictor build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Prediction{}, fmt.Errorf("predictor call failed: %w", err)
	}
	defer resp.Body.Close()
	return decodePrediction(resp)
}

func decodePrediction(resp *http.Response) (Prediction, error) {
	if resp.StatusCode >= 500 {
		return Prediction{}, fmt.Errorf("predictor unavailable: %s", resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		return Prediction{}, fmt.Errorf("predictor rejected request: %s", resp.Status)
	}
	var prediction Prediction
	if err := json.NewDecoder(resp.Body).Decode(&prediction); err != nil {
		return Prediction{}, fmt.Errorf("predictor decode response: %w", err)
	}
	return prediction, nil
}
