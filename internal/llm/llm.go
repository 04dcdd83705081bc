// Package llm wraps the two-endpoint language-model RPC: a strong
// model for strategic/critic decisions and a fast model for reactive/chat
// decisions. The core is model-agnostic; only the text contract matters.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/anthropic"
	"github.com/firebase/genkit/go/plugins/compat_oai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
)

// ErrDisabled is returned when no API key was configured for the selected
// provider; callers treat this as a model-RPC-timeout-equivalent failure
// and fall back to a safe-idle decision.
var ErrDisabled = errors.New("llm: no provider configured")

// Role mirrors the role field of the RPC's message shape.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the request's messages array.
type Message struct {
	Role    Role
	Content string
}

// Options mirrors the request's options object.
type Options struct {
	Temperature float64
	NumPredict  int
}

// Tier selects which of the two endpoints answers a Complete call.
type Tier int

const (
	TierFast Tier = iota
	TierStrong
)

// Config configures the genkit-backed client.
type Config struct {
	// Provider: "google", "anthropic", "openai", "openai_compatible", "openrouter".
	Provider string
	APIKey   string

	StrongModel string
	FastModel   string

	OpenAICompatibleProvider string
	OpenAICompatibleBaseURL  string
}

// Client addresses the strong/fast endpoints through genkit.
type Client struct {
	g           *genkit.Genkit
	enabled     bool
	strongModel string
	fastModel   string
}

// New initializes genkit with the configured provider. Returns a Client
// that answers ErrDisabled on Complete when no API key is available.
func New(ctx context.Context, cfg Config) *Client {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "google"
	}
	apiKey := strings.TrimSpace(cfg.APIKey)

	var g *genkit.Genkit
	enabled := false

	switch provider {
	case "anthropic":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&anthropic.Anthropic{
				APIKey:  apiKey,
				BaseURL: os.Getenv("ANTHROPIC_BASE_URL"),
			}))
			enabled = true
		}
	case "openai":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{
				Provider: "openai",
				APIKey:   apiKey,
				BaseURL:  os.Getenv("OPENAI_BASE_URL"),
			}))
			enabled = true
		}
	case "openai_compatible":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{
				Provider: cfg.OpenAICompatibleProvider,
				APIKey:   apiKey,
				BaseURL:  cfg.OpenAICompatibleBaseURL,
			}))
			enabled = true
		}
	case "openrouter":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{
				Provider: "openrouter",
				APIKey:   apiKey,
				BaseURL:  "https://openrouter.ai/api/v1",
			}))
			enabled = true
		}
	case "google":
		if apiKey != "" {
			_ = os.Setenv("GEMINI_API_KEY", apiKey)
			g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
			enabled = true
		}
	default:
		slog.Warn("llm: unknown provider, requests will be disabled", "provider", provider)
	}

	if g == nil {
		g = genkit.Init(ctx)
	}
	if !enabled {
		slog.Warn("llm: no API key configured; Complete will return ErrDisabled", "provider", provider)
	}

	return &Client{
		g:           g,
		enabled:     enabled,
		strongModel: modelName(provider, cfg.StrongModel),
		fastModel:   modelName(provider, cfg.FastModel),
	}
}

func modelName(provider, model string) string {
	if provider == "google" {
		return "googleai/" + model
	}
	return model
}

// completeTimeout bounds a single model call. On expiry the handler logs
// and falls back to its safe decision rather than stalling the brain.
const completeTimeout = 60 * time.Second

// Complete sends messages to the tier's model and returns its text reply.
// think is always false per the RPC contract; no streaming variant is
// exposed since nothing in the core consumes partial output.
func (c *Client) Complete(ctx context.Context, tier Tier, messages []Message, opts Options) (string, error) {
	if !c.enabled {
		return "", ErrDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, completeTimeout)
	defer cancel()

	modelName := c.fastModel
	if tier == TierStrong {
		modelName = c.strongModel
	}

	var system string
	var history []*ai.Message
	var prompt string
	for i, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = m.Content
		case RoleUser:
			if i == len(messages)-1 {
				prompt = m.Content
				continue
			}
			history = append(history, &ai.Message{Role: ai.RoleUser, Content: []*ai.Part{ai.NewTextPart(m.Content)}})
		case RoleAssistant:
			history = append(history, &ai.Message{Role: ai.RoleModel, Content: []*ai.Part{ai.NewTextPart(m.Content)}})
		}
	}

	genOpts := []ai.GenerateOption{ai.WithModelName(modelName)}
	if system != "" {
		genOpts = append(genOpts, ai.WithSystem(system))
	}
	if prompt != "" {
		genOpts = append(genOpts, ai.WithPrompt(prompt))
	}
	if len(history) > 0 {
		genOpts = append(genOpts, ai.WithMessages(history...))
	}
	_ = opts // temperature/num_predict: no generic config struct observed to wire through genkit

	resp, err := genkit.Generate(ctx, c.g, genOpts...)
	if err != nil {
		return "", fmt.Errorf("llm: generate: %w", err)
	}
	return resp.Text(), nil
}
