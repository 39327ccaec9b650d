package gemini

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/spigell/grant-interviewer/internal/ai"
	"github.com/spigell/grant-interviewer/internal/logger"
	"github.com/spigell/grant-interviewer/internal/utils"
)

const (
	defaultModel        = "gemini-2.5-flash"
	defaultMaxLogLength = 200
	baseRetryDelay      = time.Second
	// Quota errors asking to wait longer than this are not retried.
	maxRetryDelay = 30 * time.Second
)

var wait = utils.WaitFor

var retryAfterPattern = regexp.MustCompile(`(?i)retry (?:after|in) (\d+(?:\.\d+)?)\s*s`)

type contentModels interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Options configures the Gemini client.
type Options struct {
	APIKey            string
	Model             string
	MaxRetries        int
	RequestsPerMinute int
	Temperature       float64
	MaxLogLength      int
}

// Client implements ai.Completer on top of the Google GenAI SDK.
type Client struct {
	models      contentModels
	model       string
	maxRetries  int
	temperature float32
	limiter     *rate.Limiter
	logger      *zap.Logger
	maxLogLen   int
}

// New creates a client for the Gemini API backend.
func New(ctx context.Context, opts Options, log *zap.Logger) (*Client, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	genClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return newClient(genClient.Models, opts, log), nil
}

func newClient(models contentModels, opts Options, log *zap.Logger) *Client {
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultModel
	}

	retries := opts.MaxRetries
	if retries <= 0 {
		retries = 1
	}

	maxLogLen := opts.MaxLogLength
	if maxLogLen <= 0 {
		maxLogLen = defaultMaxLogLength
	}

	var limiter *rate.Limiter
	if opts.RequestsPerMinute > 0 {
		burst := max(1, opts.RequestsPerMinute/5)
		limiter = rate.NewLimiter(rate.Limit(float64(opts.RequestsPerMinute)/60.0), burst)
	}

	return &Client{
		models:      models,
		model:       model,
		maxRetries:  retries,
		temperature: float32(opts.Temperature),
		limiter:     limiter,
		logger:      logger.WithCommonFields(log, "gemini", model),
		maxLogLen:   maxLogLen,
	}
}

func (c *Client) Model() string {
	if c == nil {
		return ""
	}
	return c.model
}

// Complete asks the model for a JSON object matching schema.
func (c *Client) Complete(ctx context.Context, prompt string, schema ai.Schema) (map[string]any, error) {
	temperature := c.temperature
	cfg := &genai.GenerateContentConfig{
		Temperature:      &temperature,
		ResponseMIMEType: "application/json",
		ResponseSchema:   toSchema(schema),
	}

	raw, err := c.generate(ctx, prompt, cfg)
	if err != nil {
		return nil, ai.Classify(err)
	}

	return ai.ParseObject(raw, schema)
}

func (c *Client) generate(ctx context.Context, prompt string, cfg *genai.GenerateContentConfig) (string, error) {
	if c == nil || c.models == nil {
		return "", fmt.Errorf("%w: gemini client is not initialized", ai.ErrUnavailable)
	}

	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", errors.New("prompt must not be empty")
	}

	c.logger.Debug("gemini generate content request",
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", utils.TruncateForLog(prompt, c.maxLogLen)),
	)

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return "", fmt.Errorf("rate limiter wait: %w", err)
			}
		}

		resp, err := c.models.GenerateContent(ctx, c.model, genai.Text(prompt), cfg)
		if err == nil {
			output := responseText(resp)
			if output == "" {
				return "", fmt.Errorf("%w: gemini api returned empty response", ai.ErrMalformedResponse)
			}

			c.logger.Debug("gemini generate content response",
				zap.Int("response_length", utf8.RuneCountInString(output)),
				zap.String("response_preview", utils.TruncateForLog(output, c.maxLogLen)),
			)
			return output, nil
		}

		if refused(err) {
			return "", fmt.Errorf("%w: gemini refused the request: %w", ai.ErrUnavailable, err)
		}

		lastErr = fmt.Errorf("generate content: %w", err)

		delay, retryable := retryDelay(err, attempt)
		if !retryable || attempt == c.maxRetries {
			break
		}

		c.logger.Warn("retrying gemini request",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", c.maxRetries),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)

		if err := wait(ctx, delay); err != nil {
			return "", err
		}
	}

	return "", lastErr
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}

	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if builder.Len() > 0 {
				builder.WriteString("\n")
			}
			builder.WriteString(text)
		}
	}

	return strings.TrimSpace(builder.String())
}

// retryDelay returns the backoff before the next attempt and whether err is worth retrying.
func retryDelay(err error, attempt int) (time.Duration, bool) {
	backoff := time.Duration(math.Pow(2, float64(attempt-1))) * baseRetryDelay

	if errors.Is(err, context.Canceled) {
		return 0, false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return backoff, true
	}

	apiErr, ok := asAPIError(err)
	if !ok {
		return 0, false
	}

	switch apiErr.Code {
	case http.StatusTooManyRequests:
		if d, found := parseRetryAfter(apiErr.Message); found {
			if d > maxRetryDelay {
				return 0, false
			}
			return d, true
		}
		return backoff, true
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return backoff, true
	default:
		return 0, false
	}
}

// refused reports whether the API rejected the key or the project's access.
func refused(err error) bool {
	apiErr, ok := asAPIError(err)
	return ok && (apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden)
}

func asAPIError(err error) (genai.APIError, bool) {
	var value genai.APIError
	if errors.As(err, &value) {
		return value, true
	}
	var ptr *genai.APIError
	if errors.As(err, &ptr) && ptr != nil {
		return *ptr, true
	}
	return genai.APIError{}, false
}

func parseRetryAfter(message string) (time.Duration, bool) {
	m := retryAfterPattern.FindStringSubmatch(message)
	if len(m) < 2 {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return time.Duration(seconds * float64(time.Second)), true
}

func toSchema(schema ai.Schema) *genai.Schema {
	if len(schema.Properties) == 0 {
		return nil
	}

	props := make(map[string]*genai.Schema, len(schema.Properties))
	for name, p := range schema.Properties {
		props[name] = &genai.Schema{
			Type:        toType(p.Type),
			Description: p.Description,
		}
	}

	return &genai.Schema{
		Type:       genai.TypeObject,
		Properties: props,
		Required:   append([]string(nil), schema.Required...),
	}
}

func toType(t ai.PropertyType) genai.Type {
	switch t {
	case ai.TypeInteger:
		return genai.TypeInteger
	case ai.TypeNumber:
		return genai.TypeNumber
	case ai.TypeBoolean:
		return genai.TypeBoolean
	default:
		return genai.TypeString
	}
}
