package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"hearth/internal/domain"
)

const fetchBodyLimit = 256 * 1024

var titlePattern = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

// FetchTitleTool retrieves a web page and returns its title. It reads at
// most fetchBodyLimit bytes, which is enough for any sane <head>.
type FetchTitleTool struct {
	client *http.Client
}

// NewFetchTitleTool creates the builtin page-title tool with the given
// request timeout.
func NewFetchTitleTool(timeout time.Duration) *FetchTitleTool {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &FetchTitleTool{
		client: &http.Client{Timeout: timeout},
	}
}

func (t *FetchTitleTool) Name() string { return "fetch_title" }

func (t *FetchTitleTool) Description() string {
	return "Fetch a web page over HTTP(S) and return its title."
}

func (t *FetchTitleTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"url": {
					"type": "string",
					"description": "Absolute http or https URL of the page"
				}
			},
			"required": ["url"]
		}`),
	}
}

func (t *FetchTitleTool) Execute(ctx context.Context, args json.RawMessage) (*domain.ToolResult, error) {
	var params struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return &domain.ToolResult{
			IsError: true,
			Content: fmt.Sprintf("invalid arguments: %v", err),
		}, nil
	}
	if err := validateFetchURL(params.URL); err != nil {
		return &domain.ToolResult{IsError: true, Content: err.Error()}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, params.URL, nil)
	if err != nil {
		return &domain.ToolResult{
			IsError: true,
			Content: fmt.Sprintf("build request: %v", err),
		}, nil
	}
	req.Header.Set("User-Agent", "hearth/1.0")

	resp, err := t.client.Do(req)
	if err != nil {
		return &domain.ToolResult{
			IsError:     true,
			IsRetryable: true,
			Content:     fmt.Sprintf("fetch failed: %v", err),
		}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &domain.ToolResult{
			IsError:     true,
			IsRetryable: resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
			Content:     fmt.Sprintf("fetch failed: HTTP %d", resp.StatusCode),
		}, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchBodyLimit))
	if err != nil {
		return &domain.ToolResult{
			IsError:     true,
			IsRetryable: true,
			Content:     fmt.Sprintf("read body: %v", err),
		}, nil
	}

	m := titlePattern.FindSubmatch(body)
	if m == nil {
		return &domain.ToolResult{Content: "page has no title"}, nil
	}
	title := strings.Join(strings.Fields(string(m[1])), " ")
	return &domain.ToolResult{Content: title}, nil
}

func validateFetchURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("'url' is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid url: scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("invalid url: missing host")
	}
	return nil
}
