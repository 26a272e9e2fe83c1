package generation

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/kazz187/storyguild/internal/agent"
	"github.com/kazz187/storyguild/internal/task"
	"github.com/kazz187/storyguild/pkg/storage"
)

const (
	DefaultTextModel  = "gemini-2.0-flash"
	DefaultImageModel = "imagen-3.0-generate-002"
)

var _ agent.Executor = (*Gemini)(nil)

// Gemini generates text with GenerateContent and images with GenerateImages.
// The underlying client is safe for concurrent use, so one Gemini can back
// every agent of a pool.
type Gemini struct {
	client   *genai.Client
	store    storage.Storage
	defaults agent.Config

	mu  sync.RWMutex
	cfg agent.Config
}

func NewGemini(ctx context.Context, apiKey string, store storage.Storage, defaults agent.Config) (*Gemini, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	g := &Gemini{
		client:   client,
		store:    store,
		defaults: defaults,
	}
	g.cfg = g.merge(agent.Config{})
	return g, nil
}

func (g *Gemini) Shareable() bool {
	return true
}

func (g *Gemini) merge(cfg agent.Config) agent.Config {
	if cfg.TextModel == "" {
		cfg.TextModel = g.defaults.TextModel
	}
	if cfg.TextModel == "" {
		cfg.TextModel = DefaultTextModel
	}
	if cfg.ImageModel == "" {
		cfg.ImageModel = g.defaults.ImageModel
	}
	if cfg.ImageModel == "" {
		cfg.ImageModel = DefaultImageModel
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = g.defaults.Temperature
	}
	if cfg.SystemInstruction == "" {
		cfg.SystemInstruction = g.defaults.SystemInstruction
	}
	return cfg
}

func (g *Gemini) Init(_ context.Context, cfg agent.Config) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cfg = g.merge(cfg)
	return nil
}

func (g *Gemini) config() agent.Config {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cfg
}

func (g *Gemini) Generate(ctx context.Context, job agent.Job) (task.Result, error) {
	cfg := g.config()
	if job.Type.Class() == task.ClassImage {
		return g.generateImage(ctx, cfg, job)
	}
	return g.generateText(ctx, cfg, job)
}

func (g *Gemini) generateText(ctx context.Context, cfg agent.Config, job agent.Job) (task.Result, error) {
	gc := &genai.GenerateContentConfig{}
	if cfg.Temperature > 0 {
		temp := cfg.Temperature
		gc.Temperature = &temp
	}
	if cfg.SystemInstruction != "" {
		gc.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: cfg.SystemInstruction}}}
	}

	resp, err := g.client.Models.GenerateContent(ctx, cfg.TextModel, genai.Text(job.Prompt), gc)
	if err != nil {
		return task.Result{}, fmt.Errorf("generate content: %w", err)
	}
	out, err := responseText(resp)
	if err != nil {
		return task.Result{}, err
	}
	return task.Result{Text: out, MIMEType: "text/plain"}, nil
}

// responseText joins the non-thought text parts of the first candidate.
// A safety block is reported even when the candidate has no content.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", ErrEmptyResponse
	}
	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return "", ErrContentBlocked
		}
		return "", ErrEmptyResponse
	}
	cand := resp.Candidates[0]
	if cand.FinishReason == genai.FinishReasonSafety {
		return "", ErrContentBlocked
	}
	if cand.Content == nil {
		return "", ErrEmptyResponse
	}

	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		if part != nil && !part.Thought {
			sb.WriteString(part.Text)
		}
	}
	out := strings.TrimSpace(sb.String())
	if out == "" {
		return "", ErrEmptyResponse
	}
	return out, nil
}

func (g *Gemini) generateImage(ctx context.Context, cfg agent.Config, job agent.Job) (task.Result, error) {
	resp, err := g.client.Models.GenerateImages(ctx, cfg.ImageModel, job.Prompt, &genai.GenerateImagesConfig{})
	if err != nil {
		return task.Result{}, fmt.Errorf("generate images: %w", err)
	}
	for _, gen := range resp.GeneratedImages {
		if gen == nil || gen.Image == nil || len(gen.Image.ImageBytes) == 0 {
			continue
		}
		mimeType := gen.Image.MIMEType
		if mimeType == "" {
			mimeType = "image/png"
		}
		return saveArtifact(ctx, g.store, job, gen.Image.ImageBytes, mimeType)
	}
	return task.Result{}, ErrNoImage
}
