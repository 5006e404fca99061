// Package generation talks to a hosted prediction API that turns a prompt
// into a short video.
package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aiprojectops/youtube-shorts-generator/internal/config"
	"github.com/aiprojectops/youtube-shorts-generator/internal/logging"
	"github.com/aiprojectops/youtube-shorts-generator/pkg/models"
)

// Generation errors. Both wrap models.ErrGenerationFailure.
var (
	ErrGenerationFailed  = fmt.Errorf("%w: prediction failed", models.ErrGenerationFailure)
	ErrGenerationTimeout = fmt.Errorf("%w: prediction timed out", models.ErrGenerationFailure)
)

// Prediction statuses reported by the API
const (
	StatusStarting   = "starting"
	StatusProcessing = "processing"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
)

// Prediction is the API representation of one generation run
type Prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  interface{}     `json:"error,omitempty"`
}

type predictionInput struct {
	Prompt      string `json:"prompt"`
	Duration    int    `json:"duration,omitempty"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
	Image       string `json:"image,omitempty"`
}

type predictionRequest struct {
	Version string          `json:"version,omitempty"`
	Model   string          `json:"model,omitempty"`
	Input   predictionInput `json:"input"`
}

// Client creates predictions, polls them to completion and downloads the
// produced video
type Client struct {
	baseURL      string
	token        string
	model        string
	pollInterval time.Duration
	timeout      time.Duration
	outputDir    string
	http         *http.Client
	logger       *logging.Logger
}

// NewClient creates a generation client
func NewClient(cfg config.GenerationConfig, logger *logging.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("generation base URL is required")
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		token:        cfg.APIToken,
		model:        cfg.Model,
		pollInterval: cfg.PollInterval,
		timeout:      cfg.Timeout,
		outputDir:    cfg.OutputDir,
		http:         &http.Client{Timeout: 60 * time.Second},
		logger:       logger.WithComponent("generation"),
	}, nil
}

// GenerateVideo runs one prediction and stores the result under the output
// directory as <job id>.mp4
func (c *Client) GenerateVideo(ctx context.Context, req models.GenerationRequest) (models.GenerationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	pred, err := c.create(ctx, req)
	if err != nil {
		return models.GenerationResult{}, c.mapErr(ctx, err)
	}
	c.logger.WithJobID(req.JobID).WithField("prediction_id", pred.ID).Info("Prediction created")

	pred, err = c.await(ctx, pred)
	if err != nil {
		return models.GenerationResult{}, c.mapErr(ctx, err)
	}

	url, err := outputURL(pred.Output)
	if err != nil {
		return models.GenerationResult{}, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	name := req.JobID
	if name == "" {
		name = pred.ID
	}
	path := filepath.Join(c.outputDir, name+".mp4")
	if err := c.download(ctx, url, path); err != nil {
		return models.GenerationResult{}, c.mapErr(ctx, err)
	}

	return models.GenerationResult{LocalPath: path, SourceURL: url}, nil
}

// mapErr turns our own deadline into ErrGenerationTimeout. Cancellation by
// the caller is passed through untouched.
func (c *Client) mapErr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrGenerationTimeout, c.timeout)
	}
	return err
}

func (c *Client) create(ctx context.Context, req models.GenerationRequest) (*Prediction, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	body := predictionRequest{
		Input: predictionInput{
			Prompt:      req.Prompt,
			Duration:    req.Duration,
			AspectRatio: req.AspectRatio,
			Image:       req.ImageURL,
		},
	}
	// A bare hash is a version id, owner/name is a model
	if strings.Contains(model, "/") {
		body.Model = model
	} else {
		body.Version = model
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal prediction: %w", err)
	}

	var pred Prediction
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/predictions", payload, &pred); err != nil {
		return nil, err
	}
	return &pred, nil
}

// await polls the prediction until it reaches a final status
func (c *Client) await(ctx context.Context, pred *Prediction) (*Prediction, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		switch pred.Status {
		case StatusSucceeded:
			return pred, nil
		case StatusFailed, StatusCanceled:
			return nil, fmt.Errorf("%w: %s: %v", ErrGenerationFailed, pred.Status, pred.Error)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		var next Prediction
		if err := c.do(ctx, http.MethodGet, c.baseURL+"/predictions/"+pred.ID, nil, &next); err != nil {
			return nil, err
		}
		pred = &next
	}
}

func (c *Client) do(ctx context.Context, method, url string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrGenerationFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: %s %s returned %d: %s", models.ErrGenerationFailure, method, url, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: failed to decode response: %v", models.ErrGenerationFailure, err)
	}
	return nil
}

func (c *Client) download(ctx context.Context, url, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: download: %v", models.ErrGenerationFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: download returned %d", models.ErrGenerationFailure, resp.StatusCode)
	}

	tmp := path + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("%w: download: %v", models.ErrGenerationFailure, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// outputURL accepts either a single URL or a list of URLs
func outputURL(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("prediction has no output")
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return single, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return list[len(list)-1], nil
	}
	return "", fmt.Errorf("unrecognised prediction output %s", string(raw))
}
