package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// UnknownCard is the label returned when a card crop cannot be classified.
// The bot treats unknown slots as unplayable but keeps their hand position.
const UnknownCard = "Unknown"

// ClientConfig identifies the detection service and the two workflows the bot
// depends on: one for field units, one for card classification.
type ClientConfig struct {
	BaseURL       string
	APIKey        string
	UnitWorkspace string
	UnitWorkflow  string
	CardWorkspace string
	CardWorkflow  string
}

// Client calls a Roboflow-style workflow inference service over HTTP.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a detection client. Inference on a busy host can be slow,
// so the HTTP timeout is generous.
func NewClient(cfg ClientConfig, logger zerolog.Logger) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger.With().Str("component", "vision").Logger(),
	}
}

type workflowRequest struct {
	APIKey string                   `json:"api_key"`
	Inputs map[string]workflowImage `json:"inputs"`
}

type workflowImage struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// workflowResponse unwraps the service envelope. The prediction list lives at
// outputs[0].predictions.predictions.
type workflowResponse struct {
	Outputs []struct {
		Predictions struct {
			Predictions []prediction `json:"predictions"`
		} `json:"predictions"`
	} `json:"outputs"`
}

type prediction struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
}

// DetectUnits runs the unit detection workflow against a field screenshot and
// returns the valid detections. An empty slice means the model saw nothing;
// callers decide whether that is an error.
func (c *Client) DetectUnits(ctx context.Context, image []byte) ([]Detection, error) {
	preds, err := c.runWorkflow(ctx, c.cfg.UnitWorkspace, c.cfg.UnitWorkflow, image)
	if err != nil {
		return nil, fmt.Errorf("detect units: %w", err)
	}

	detections := make([]Detection, 0, len(preds))
	skipped := 0
	for _, p := range preds {
		d := Detection{Class: p.Class, X: p.X, Y: p.Y}
		if !d.Valid() {
			skipped++
			continue
		}
		detections = append(detections, d)
	}
	if skipped > 0 {
		c.logger.Warn().
			Int("skipped", skipped).
			Int("kept", len(detections)).
			Msg("Dropped malformed detections")
	}
	return detections, nil
}

// ClassifyCard runs the card classification workflow against a single card
// crop. A response with no prediction yields UnknownCard rather than an
// error; only transport and decode failures are errors.
func (c *Client) ClassifyCard(ctx context.Context, image []byte) (string, error) {
	preds, err := c.runWorkflow(ctx, c.cfg.CardWorkspace, c.cfg.CardWorkflow, image)
	if err != nil {
		return "", fmt.Errorf("classify card: %w", err)
	}
	if len(preds) == 0 {
		return UnknownCard, nil
	}
	return preds[0].Class, nil
}

// Ping verifies the inference service is reachable. Any HTTP response
// counts; only transport failures are errors.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("detection service unreachable: %w", err)
	}
	resp.Body.Close()
	return nil
}

func (c *Client) runWorkflow(ctx context.Context, workspace, workflow string, image []byte) ([]prediction, error) {
	payload := workflowRequest{
		APIKey: c.cfg.APIKey,
		Inputs: map[string]workflowImage{
			"image": {
				Type:  "base64",
				Value: base64.StdEncoding.EncodeToString(image),
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/infer/workflows/%s/%s", c.cfg.BaseURL, workspace, workflow)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call workflow %s/%s: %w", workspace, workflow, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("workflow %s/%s returned status %d: %s", workspace, workflow, resp.StatusCode, msg)
	}

	var decoded workflowResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	var preds []prediction
	if len(decoded.Outputs) > 0 {
		preds = decoded.Outputs[0].Predictions.Predictions
	}

	c.logger.Debug().
		Str("workspace", workspace).
		Str("workflow", workflow).
		Int("predictions", len(preds)).
		Dur("elapsed", time.Since(start)).
		Msg("Workflow completed")

	return preds, nil
}
