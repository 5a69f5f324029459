// Package upstream owns the provider-facing call handle. The gateway speaks
// to every upstream through the OpenAI-compatible wire format; per-provider
// differences are limited to base URL and credentials.
package upstream

import (
	"context"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/akiho/torii/internal/config"
	toriiErrors "github.com/akiho/torii/internal/errors"
)

// Caller is the single upstream call handle: one complete response, or an
// ordered chunk stream.
type Caller interface {
	Complete(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	Stream(ctx context.Context, req openai.ChatCompletionRequest) (ChunkStream, error)
}

// ChunkStream yields provider chunks in arrival order and reports io.EOF
// after the terminal sentinel.
type ChunkStream interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
	Close() error
}

// Client routes each model to the registry entry that claims it; unclaimed
// models go to the default entry.
type Client struct {
	clients     map[string]*openai.Client
	modelOwner  map[string]string
	defaultName string
}

func New(cfg config.UpstreamConfig) (*Client, error) {
	if len(cfg.Registry) == 0 {
		return nil, toriiErrors.InvalidInput("no upstream providers configured")
	}

	c := &Client{
		clients:     make(map[string]*openai.Client, len(cfg.Registry)),
		modelOwner:  make(map[string]string),
		defaultName: cfg.Default,
	}

	for _, entry := range cfg.Registry {
		c.clients[entry.Name] = newWireClient(entry.APIKey, entry.BaseURL)
		for _, model := range entry.Models {
			c.modelOwner[model] = entry.Name
		}
	}

	if _, ok := c.clients[c.defaultName]; !ok {
		c.defaultName = cfg.Registry[0].Name
	}

	return c, nil
}

// NewSingle builds a caller pinned to one endpoint; the trust evaluator uses
// this for its checker model.
func NewSingle(apiKey, baseURL string) *Client {
	const name = "checker"
	return &Client{
		clients:     map[string]*openai.Client{name: newWireClient(apiKey, baseURL)},
		modelOwner:  map[string]string{},
		defaultName: name,
	}
}

func newWireClient(apiKey, baseURL string) *openai.Client {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}

	return openai.NewClientWithConfig(cfg)
}

func (c *Client) clientFor(model string) *openai.Client {
	if owner, ok := c.modelOwner[model]; ok {
		if client, ok := c.clients[owner]; ok {
			return client
		}
	}
	return c.clients[c.defaultName]
}

func (c *Client) Complete(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	resp, err := c.clientFor(req.Model).CreateChatCompletion(ctx, req)
	if err != nil {
		return openai.ChatCompletionResponse{}, toriiErrors.MapUpstream(err)
	}
	return resp, nil
}

func (c *Client) Stream(ctx context.Context, req openai.ChatCompletionRequest) (ChunkStream, error) {
	stream, err := c.clientFor(req.Model).CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, toriiErrors.MapUpstream(err)
	}
	return stream, nil
}
