package catalog

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/goccy/go-json"

	"dinner-roulette/internal/dish"
	"dinner-roulette/internal/llm"
	"dinner-roulette/internal/metrics"
)

//go:embed classifier_prompt.md
var classifierPrompt string

var classifierTemplate = template.Must(template.New("classifier").
	Funcs(template.FuncMap{"join": strings.Join}).
	Parse(classifierPrompt))

// MetricsRecorder persists execution metrics.
type MetricsRecorder interface {
	Record(ctx context.Context, m metrics.ExecutionMetric) error
}

// Classification is what the model reports about a dish.
type Classification struct {
	Tags      []string `json:"tags"`
	Allergens []string `json:"allergens"`
	CostBand  int      `json:"cost_band"`
	TimeBand  int      `json:"time_band"`
	IsHealthy *bool    `json:"is_healthy"`
}

// Classifier fills in missing dish attributes with a text generator.
type Classifier struct {
	textGen  llm.TextGenerator
	recorder MetricsRecorder
}

// NewClassifier creates a new Classifier. recorder may be nil.
func NewClassifier(textGen llm.TextGenerator, recorder MetricsRecorder) *Classifier {
	return &Classifier{textGen: textGen, recorder: recorder}
}

// NeedsClassification reports whether a dish is missing tags or bands.
func NeedsClassification(d dish.Dish) bool {
	return len(d.Tags) == 0 || d.CostBand == 0 || d.TimeBand == 0
}

// Classify returns d with its missing fields filled from the model's answer.
// Fields already set on d are kept.
func (c *Classifier) Classify(ctx context.Context, d dish.Dish) (dish.Dish, error) {
	start := time.Now()

	var buf bytes.Buffer
	if err := classifierTemplate.Execute(&buf, d); err != nil {
		return d, fmt.Errorf("failed to build classifier prompt: %w", err)
	}

	resp, err := c.textGen.GenerateContent(ctx, buf.String())
	if err != nil {
		return d, fmt.Errorf("failed to get LLM response: %w", err)
	}
	c.record(ctx, resp.Usage, time.Since(start))

	var cl Classification
	if err := json.Unmarshal([]byte(stripFences(resp.Content)), &cl); err != nil {
		return d, fmt.Errorf("failed to unmarshal LLM response: %w", err)
	}
	return apply(d, cl), nil
}

func (c *Classifier) record(ctx context.Context, usage llm.TokenUsage, latency time.Duration) {
	if c.recorder == nil {
		return
	}
	_ = c.recorder.Record(ctx, metrics.ExecutionMetric{
		Operation:        metrics.OperationClassify,
		Model:            usage.Model,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		LatencyMS:        latency.Milliseconds(),
		Timestamp:        time.Now(),
	})
}

func apply(d dish.Dish, cl Classification) dish.Dish {
	if len(d.Tags) == 0 {
		d.Tags = normalizeList(cl.Tags)
	}
	if len(d.Allergens) == 0 {
		d.Allergens = normalizeList(cl.Allergens)
	}
	if d.CostBand == 0 && validBand(cl.CostBand) {
		d.CostBand = cl.CostBand
	}
	if d.TimeBand == 0 && validBand(cl.TimeBand) {
		d.TimeBand = cl.TimeBand
	}
	if !d.IsHealthy && cl.IsHealthy != nil {
		d.IsHealthy = *cl.IsHealthy
	}
	return d
}

func validBand(b int) bool {
	return b >= dish.MinBand && b <= dish.MaxBand
}

// stripFences removes a markdown code fence some models wrap JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
