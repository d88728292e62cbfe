package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"toonify/internal/domain"
	"toonify/internal/infra"
)

// Options controls how the Gemini client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client calls the Gemini generateContent endpoint with an inlined source
// image and returns the first image part of the response. It performs a
// single attempt; retries belong to the caller.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	timeout    time.Duration
	httpClient *http.Client
	logger     *infra.Logger
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts,omitempty"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type,omitempty"`
	Data     string `json:"data,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature        float64  `json:"temperature"`
	TopP               float64  `json:"topP"`
	TopK               int      `json:"topK"`
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

type geminiGenerateContentRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generation_config"`
}

// The API answers in camelCase; snake_case is accepted as well.
type responsePart struct {
	Text        string          `json:"text,omitempty"`
	InlineData  *responseInline `json:"inlineData,omitempty"`
	InlineData2 *responseInline `json:"inline_data,omitempty"`
}

type responseInline struct {
	MimeType  string `json:"mimeType,omitempty"`
	MimeType2 string `json:"mime_type,omitempty"`
	Data      string `json:"data,omitempty"`
}

type geminiCandidate struct {
	Content struct {
		Parts []responsePart `json:"parts"`
	} `json:"content"`
	FinishReason string `json:"finishReason,omitempty"`
}

type geminiGenerateContentResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
		Status  string `json:"status,omitempty"`
	} `json:"error"`
}

// NewClient constructs a Gemini client with sane defaults. Callers may provide
// a nil HTTP client; a reusable one will be created.
func NewClient(opts Options) (*Client, error) {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("genai: invalid base url: %w", err)
	}

	model := opts.Model
	if model == "" {
		model = "gemini-2.0-flash-exp-image-generation"
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}

	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		logger = &discard
	}

	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		timeout:    timeout,
		httpClient: client,
		logger:     logger,
	}, nil
}

// Model returns the configured Gemini model identifier.
func (c *Client) Model() string {
	return c.model
}

// GenerateImage sends the instruction and source image and returns the output
// image bytes and mime type. Errors are classified as domain.ErrThrottled,
// domain.ErrUpstreamUnreachable, domain.ErrNoImageInResponse or
// domain.ErrGenerationFailed.
func (c *Client) GenerateImage(ctx context.Context, source []byte, mimeType, instruction string) ([]byte, string, error) {
	if c.apiKey == "" {
		return nil, "", fmt.Errorf("%w: GEMINI_API_KEY", domain.ErrConfigMissing)
	}
	if len(source) == 0 {
		return nil, "", fmt.Errorf("%w: empty source image", domain.ErrGenerationFailed)
	}
	if strings.TrimSpace(mimeType) == "" {
		mimeType = "image/jpeg"
	}

	payload := geminiGenerateContentRequest{
		Contents: []geminiContent{{
			Role: "user",
			Parts: []geminiPart{
				{Text: instruction},
				{InlineData: &geminiInlineData{
					MimeType: mimeType,
					Data:     base64.StdEncoding.EncodeToString(source),
				}},
			},
		}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:        0.2,
			TopP:               0.95,
			TopK:               32,
			ResponseModalities: []string{"TEXT", "IMAGE"},
		},
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var response geminiGenerateContentResponse
	path := fmt.Sprintf("/models/%s:generateContent", url.PathEscape(c.model))
	if err := c.invokeGemini(ctx, path, payload, &response); err != nil {
		return nil, "", err
	}

	data, outMIME, err := firstImage(response)
	if err != nil {
		c.logger.Warn().
			Str("model", c.model).
			Int("candidates", len(response.Candidates)).
			Msg("genai: response carried no image part")
		return nil, "", err
	}

	c.logger.Debug().
		Str("model", c.model).
		Str("mime_type", outMIME).
		Int("bytes", len(data)).
		Msg("genai: generated image")
	return data, outMIME, nil
}

func (c *Client) invokeGemini(ctx context.Context, path string, payload any, out any) error {
	endpoint := c.baseURL + path
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: marshal request: %v", domain.ErrGenerationFailed, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: create request: %v", domain.ErrGenerationFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: invoke gemini: %v", domain.ErrUpstreamUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return classifyStatus(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode gemini response: %v", domain.ErrGenerationFailed, err)
	}
	return nil
}

func classifyStatus(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var apiErr geminiErrorResponse
	_ = json.Unmarshal(raw, &apiErr)

	msg := apiErr.Error.Message
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	if msg == "" {
		msg = resp.Status
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || apiErr.Error.Status == "RESOURCE_EXHAUSTED":
		return fmt.Errorf("%w: gemini status %d: %s", domain.ErrThrottled, resp.StatusCode, msg)
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: gemini status %d: %s", domain.ErrUpstreamUnreachable, resp.StatusCode, msg)
	default:
		return fmt.Errorf("%w: gemini status %d: %s", domain.ErrGenerationFailed, resp.StatusCode, msg)
	}
}

func firstImage(resp geminiGenerateContentResponse) ([]byte, string, error) {
	for _, candidate := range resp.Candidates {
		for _, part := range candidate.Content.Parts {
			inline := part.InlineData
			if inline == nil {
				inline = part.InlineData2
			}
			if inline == nil || inline.Data == "" {
				continue
			}
			mimeType := firstNonEmpty(inline.MimeType, inline.MimeType2)
			if !strings.HasPrefix(mimeType, "image/") {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(inline.Data)
			if err != nil {
				return nil, "", fmt.Errorf("%w: decode inline data: %v", domain.ErrGenerationFailed, err)
			}
			return data, mimeType, nil
		}
	}
	return nil, "", domain.ErrNoImageInResponse
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
