package api

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
)

const defaultModel = anthropic.ModelClaudeSonnet4_20250514

// Client wraps the Anthropic SDK client and accumulates token usage for the
// lifetime of one process.
type Client struct {
	inner anthropic.Client
	model anthropic.Model
	usage *TokenTracker
}

// ClientConfig selects the transport (direct API or AWS Bedrock) and model.
type ClientConfig struct {
	// Model is the model identifier; empty selects the default.
	Model anthropic.Model
	// APIKey overrides the ANTHROPIC_API_KEY environment variable.
	APIKey string
	// UseAWSBedrock routes requests through AWS Bedrock instead of the API.
	UseAWSBedrock bool
	// AWSRegion and AWSProfile narrow the Bedrock credential lookup.
	AWSRegion  string
	AWSProfile string
}

// NewClient builds a client for the configured transport.
func NewClient(cfg ClientConfig) (*Client, error) {
	opts, err := transportOptions(cfg)
	if err != nil {
		return nil, err
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	if cfg.UseAWSBedrock {
		model = bedrockModelID(model)
	}

	return &Client{
		inner: anthropic.NewClient(opts...),
		model: model,
		usage: &TokenTracker{},
	}, nil
}

func transportOptions(cfg ClientConfig) ([]option.RequestOption, error) {
	if cfg.UseAWSBedrock {
		var loadOpts []func(*awsconfig.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(cfg.AWSProfile))
		}
		return []option.RequestOption{bedrock.WithLoadDefaultConfig(context.Background(), loadOpts...)}, nil
	}

	key := cfg.APIKey
	if key == "" {
		key = os.Getenv("ANTHROPIC_API_KEY")
	}
	if key == "" {
		return nil, fmt.Errorf("no API key: set ANTHROPIC_API_KEY or configure anthropic.api_key")
	}
	return []option.RequestOption{option.WithAPIKey(key)}, nil
}

const bedrockPrefix = "us.anthropic."

// bedrockModelID maps a model name onto Bedrock's cross-region inference
// profile naming, us.anthropic.<model>-v1:0. Identifiers already in that form
// pass through unchanged.
func bedrockModelID(model anthropic.Model) anthropic.Model {
	if strings.HasPrefix(string(model), bedrockPrefix) {
		return model
	}
	return anthropic.Model(bedrockPrefix + string(model) + "-v1:0")
}

// sdk exposes the underlying SDK client within the package.
func (c *Client) sdk() *anthropic.Client { return &c.inner }

// Model returns the model identifier requests are sent with.
func (c *Client) Model() anthropic.Model { return c.model }

// IsBedrock reports whether requests route through AWS Bedrock.
func (c *Client) IsBedrock() bool {
	return strings.HasPrefix(string(c.model), bedrockPrefix)
}

// Usage holds accumulated token counts.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	Calls        int
}

// TokenTracker accumulates token usage across API calls. Safe for concurrent
// use.
type TokenTracker struct {
	mu    sync.Mutex
	total Usage
}

// Add records the usage of one API call.
func (t *TokenTracker) Add(input, output int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total.InputTokens += input
	t.total.OutputTokens += output
	t.total.Calls++
}

// Snapshot returns the usage accumulated so far.
func (t *TokenTracker) Snapshot() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}
