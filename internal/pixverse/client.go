// Package pixverse is the HTTP client for the remote generation service:
// template catalog, generation submission and generation status.
package pixverse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pixverse/internal/domain"
	"pixverse/internal/infra"
)

const defaultBaseURL = "https://testingerapp.site/api"

// Options controls how the service client is configured.
type Options struct {
	BaseURL    string
	APIToken   string
	AppID      string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client talks to the generation service. Every endpoint answers with the
// {error, messages, data} envelope; an envelope-level error is reported as
// RemoteGenerationError.
type Client struct {
	baseURL    string
	apiToken   string
	appID      string
	httpClient *http.Client
	logger     *infra.Logger
}

// GenerateRequest describes one submission. ImagePath may be empty when the
// chosen effect needs no source photo.
type GenerateRequest struct {
	TemplateID string
	UserID     string
	ImagePath  string
}

// Generation is the service's acknowledgment of an accepted submission.
type Generation struct {
	ID                   string
	TotalWeekGenerations int
	MaxGenerations       int
}

// Status states reported by the generation status endpoint.
const (
	StatusProcessing = "processing"
	StatusFinished   = "finished"
	StatusError      = "error"
)

// Status is one reconciliation sample for a pending generation.
type Status struct {
	State     string
	ResultURL string
	Progress  int
}

type templatesResponse struct {
	Error    bool                      `json:"error"`
	Messages []string                  `json:"messages"`
	Data     []domain.TemplateCategory `json:"data"`
}

type generateResponse struct {
	Error    bool     `json:"error"`
	Messages []string `json:"messages"`
	Data     struct {
		GenerationID         string `json:"generationId"`
		TotalWeekGenerations int    `json:"totalWeekGenerations"`
		MaxGenerations       int    `json:"maxGenerations"`
	} `json:"data"`
}

type statusResponse struct {
	Error    bool     `json:"error"`
	Messages []string `json:"messages"`
	Data     struct {
		Status    string  `json:"status"`
		ResultURL *string `json:"resultUrl"`
		Progress  *int    `json:"progress"`
	} `json:"data"`
}

// NewClient constructs a service client with sane defaults. Callers may
// provide a nil HTTP client; a reusable one with a timeout is created.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIToken) == "" {
		return nil, fmt.Errorf("pixverse: api token is required")
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}

	return &Client{
		baseURL:    baseURL,
		apiToken:   strings.TrimSpace(opts.APIToken),
		appID:      opts.AppID,
		httpClient: client,
		logger:     logger,
	}, nil
}

// FetchTemplates retrieves the effect catalog for the given app name.
func (c *Client) FetchTemplates(ctx context.Context, appName string) ([]domain.TemplateCategory, error) {
	query := url.Values{}
	query.Set("appName", appName)
	query.Add("ai[]", "pv")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/templates?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var out templatesResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	if out.Error {
		return nil, &domain.RemoteGenerationError{Messages: out.Messages}
	}
	if len(out.Data) == 0 {
		c.logger.Warn().Str("app_name", appName).Msg("pixverse: received empty template list")
	}
	return out.Data, nil
}

// Generate submits a generation job. The image file is streamed into a
// multipart body alongside the template, user and app identifiers.
func (c *Client) Generate(ctx context.Context, genReq GenerateRequest) (Generation, error) {
	body, contentType, err := c.buildGenerateBody(genReq)
	if err != nil {
		return Generation{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate?format=json", body)
	if err != nil {
		return Generation{}, err
	}
	req.Header.Set("Content-Type", contentType)

	var out generateResponse
	if err := c.do(req, &out); err != nil {
		return Generation{}, err
	}
	if out.Error {
		return Generation{}, &domain.RemoteGenerationError{Messages: out.Messages}
	}

	c.logger.Info().
		Str("generation_id", out.Data.GenerationID).
		Int("week_generations", out.Data.TotalWeekGenerations).
		Msg("pixverse: generation accepted")

	return Generation{
		ID:                   out.Data.GenerationID,
		TotalWeekGenerations: out.Data.TotalWeekGenerations,
		MaxGenerations:       out.Data.MaxGenerations,
	}, nil
}

// GenerationStatus fetches one status sample for a pending generation.
func (c *Client) GenerationStatus(ctx context.Context, generationID string) (Status, error) {
	query := url.Values{}
	query.Set("format", "json")
	query.Set("generationId", generationID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/generationStatus?"+query.Encode(), nil)
	if err != nil {
		return Status{}, err
	}

	var out statusResponse
	if err := c.do(req, &out); err != nil {
		return Status{}, err
	}
	if out.Error {
		return Status{}, &domain.RemoteGenerationError{Messages: out.Messages}
	}

	status := Status{State: out.Data.Status}
	if out.Data.ResultURL != nil {
		status.ResultURL = *out.Data.ResultURL
	}
	if out.Data.Progress != nil {
		status.Progress = *out.Data.Progress
	}
	return status, nil
}

func (c *Client) buildGenerateBody(genReq GenerateRequest) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if genReq.TemplateID != "" {
		if err := writer.WriteField("templateId", genReq.TemplateID); err != nil {
			return nil, "", err
		}
	}
	if err := writer.WriteField("userId", genReq.UserID); err != nil {
		return nil, "", err
	}
	if err := writer.WriteField("appId", c.appID); err != nil {
		return nil, "", err
	}

	if genReq.ImagePath != "" {
		file, err := os.Open(genReq.ImagePath)
		if err != nil {
			return nil, "", &domain.InvalidInputError{Field: "image", Reason: err.Error()}
		}
		defer file.Close()

		part, err := writer.CreateFormFile("image", filepath.Base(genReq.ImagePath))
		if err != nil {
			return nil, "", err
		}
		if _, err := io.Copy(part, file); err != nil {
			return nil, "", err
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return body, writer.FormDataContentType(), nil
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.apiToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		c.logger.Warn().Int("status", resp.StatusCode).Str("url", req.URL.Path).Msg("pixverse: request failed")
		return &domain.TransportError{StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.DecodeError{Err: err}
	}
	return nil
}
