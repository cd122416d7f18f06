package describe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"beanpos/backend/internal/cache"
	"beanpos/backend/internal/domain"
)

const defaultModel = "gemini-2.5-flash"

// Placeholder is returned whenever no generator is configured or generation
// fails. Menu rendering must never break on a missing description.
const Placeholder = "A delicious choice from our menu, made fresh for you."

// Generator produces a marketing description for a product name.
type Generator interface {
	Generate(ctx context.Context, productName string) (string, error)
	Close() error
}

// GeminiGenerator calls the Gemini API for menu copy.
type GeminiGenerator struct {
	client *genai.Client
	model  string
}

func NewGeminiGenerator(ctx context.Context, apiKey string) (*GeminiGenerator, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return &GeminiGenerator{client: client, model: defaultModel}, nil
}

func (g *GeminiGenerator) Generate(ctx context.Context, productName string) (string, error) {
	prompt := fmt.Sprintf("Generate a short, catchy, and creative marketing description for a product called %q. Make it sound delicious and appealing for a cafe menu. Maximum 30 words.", productName)

	model := g.client.GenerativeModel(g.model)
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", err
	}

	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if txt, ok := part.(genai.Text); ok && strings.TrimSpace(string(txt)) != "" {
				return strings.TrimSpace(string(txt)), nil
			}
		}
	}
	return "", fmt.Errorf("gemini returned no text for %q", productName)
}

func (g *GeminiGenerator) Close() error {
	return g.client.Close()
}

// Engine fronts the generator with a cache and a placeholder fallback.
// Describe never returns an error to its caller: a failed or absent
// generator yields the placeholder copy instead.
type Engine struct {
	generator Generator
	cache     cache.DescriptionCache
	ttl       time.Duration
	timeout   time.Duration
	onError   func(productName string, err error)
}

func NewEngine(generator Generator, descCache cache.DescriptionCache, ttl time.Duration, onError func(productName string, err error)) *Engine {
	if descCache == nil {
		descCache = cache.NoopDescriptionCache{}
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if onError == nil {
		onError = func(string, error) {}
	}
	return &Engine{
		generator: generator,
		cache:     descCache,
		ttl:       ttl,
		timeout:   10 * time.Second,
		onError:   onError,
	}
}

func (e *Engine) Describe(ctx context.Context, product domain.Product) domain.DescribeResponse {
	resp := domain.DescribeResponse{ProductID: product.ID, ProductName: product.Name}
	key := cacheKey(product)

	if cached, ok, err := e.cache.Get(ctx, key); err == nil && ok {
		resp.Description = cached
		resp.Cached = true
		return resp
	} else if err != nil {
		e.onError(product.Name, err)
	}

	if e.generator == nil {
		resp.Description = Placeholder
		return resp
	}

	genCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	description, err := e.generator.Generate(genCtx, product.Name)
	if err != nil {
		e.onError(product.Name, err)
		resp.Description = Placeholder
		return resp
	}

	if err := e.cache.Set(ctx, key, description, e.ttl); err != nil {
		e.onError(product.Name, err)
	}
	resp.Description = description
	return resp
}

func cacheKey(product domain.Product) string {
	return "describe:" + product.ID + ":" + strings.ToLower(product.Name)
}
