// Package insight answers questions about a company using a generative
// language model.
package insight

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ashureev/connectwise-ai/internal/domain"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = "gemini-2.5-flash"

	// UnavailableMessage is returned when no API key is configured.
	UnavailableMessage = "The AI assistant is currently unavailable. Please configure the API key."

	// ErrorMessage is returned when the model call fails for any reason.
	ErrorMessage = "Sorry, I encountered an error while processing your request. Please try again later."
)

var (
	errEmptyResponse = errors.New("model returned an empty response")
	errNoCompany     = errors.New("no company selected")
)

// Generator sends a single prompt to a model and returns its text.
type Generator interface {
	GenerateText(ctx context.Context, model, prompt string) (string, error)
}

// Config holds insight client settings.
type Config struct {
	APIKey string
	Model  string
}

// Client wraps the outbound model call. Ask never fails from the caller's
// point of view; every failure is converted to a user-facing message.
type Client struct {
	gen    Generator
	model  string
	logger *slog.Logger
}

// NewClient creates a client backed by the Gemini API. Without an API key the
// client is still usable but answers every question with UnavailableMessage.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.APIKey == "" {
		logger.Warn("Gemini API key not set, AI features will not work")
		return NewClientWithGenerator(nil, cfg.Model, logger), nil
	}

	gen, err := NewGenAIGenerator(ctx, cfg.APIKey)
	if err != nil {
		return nil, err
	}
	return NewClientWithGenerator(gen, cfg.Model, logger), nil
}

// NewClientWithGenerator creates a client using a custom generator. A nil
// generator behaves like a missing API key.
func NewClientWithGenerator(gen Generator, model string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if model == "" {
		model = DefaultModel
	}
	return &Client{gen: gen, model: model, logger: logger}
}

// Enabled reports whether questions will reach the model.
func (c *Client) Enabled() bool {
	return c.gen != nil
}

// Model returns the configured model id.
func (c *Client) Model() string {
	return c.model
}

// Ask answers question using only the facts known about company.
func (c *Client) Ask(ctx context.Context, company *domain.Company, question string) string {
	if c.gen == nil {
		return UnavailableMessage
	}
	if company == nil {
		c.logger.Error("Insight request rejected", "error", errNoCompany)
		return ErrorMessage
	}

	start := time.Now()
	text, err := c.gen.GenerateText(ctx, c.model, BuildPrompt(company, question))
	if err == nil && text == "" {
		err = errEmptyResponse
	}
	if err != nil {
		c.logger.Error("Error generating content from Gemini API",
			"error", err,
			"model", c.model,
			"company_id", company.ID,
			"duration", time.Since(start),
		)
		return ErrorMessage
	}

	c.logger.Debug("Insight generated",
		"model", c.model,
		"company_id", company.ID,
		"response_length", len(text),
		"duration", time.Since(start),
	)
	return text
}
