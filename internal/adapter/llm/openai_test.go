package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"hearth/internal/domain"
	"hearth/internal/infra/config"
)

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func testProvider(baseURL string) *OpenAIProvider {
	return NewOpenAIProvider(domain.Profile{
		ID:      "test",
		Model:   "test-model",
		BaseURL: baseURL,
		APIKey:  "sk-test",
	}, config.ProviderConfig{}, testLogger())
}

func TestOpenAIChat(t *testing.T) {
	var gotReq oaiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("Authorization = %q", auth)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotReq); err != nil {
			t.Fatalf("unmarshal request: %v", err)
		}

		fmt.Fprint(w, `{
			"id": "cmpl-1",
			"model": "test-model",
			"choices": [{"message": {"role": "assistant", "content": "hi there"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 3, "total_tokens": 13}
		}`)
	}))
	defer srv.Close()

	p := testProvider(srv.URL)
	resp, err := p.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: "be nice"},
			{Role: domain.RoleUser, Content: "hello"},
		},
		MaxTokens: 64,
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if resp.Content != "hi there" {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 13 {
		t.Errorf("TotalTokens = %d", resp.Usage.TotalTokens)
	}
	if gotReq.Model != "test-model" {
		t.Errorf("request model = %q", gotReq.Model)
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" {
		t.Errorf("request messages = %+v", gotReq.Messages)
	}
	if gotReq.MaxTokens != 64 {
		t.Errorf("request max_tokens = %d", gotReq.MaxTokens)
	}
}

func TestOpenAIChatToolCallResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"choices": [{
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{"id": "call_1", "type": "function",
						"function": {"name": "clock", "arguments": "{}"}}]
				},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7}
		}`)
	}))
	defer srv.Close()

	p := testProvider(srv.URL)
	resp, err := p.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "time?"}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("ToolCalls = %d, want 1", len(resp.ToolCalls))
	}
	if resp.ToolCalls[0].ID != "call_1" || resp.ToolCalls[0].Name != "clock" {
		t.Errorf("tool call = %+v", resp.ToolCalls[0])
	}
}

func TestOpenAIChatRequestCarriesToolHistory(t *testing.T) {
	var gotReq oaiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &gotReq)
		fmt.Fprint(w, `{"choices": [{"message": {"role": "assistant", "content": "noon"}}], "usage": {}}`)
	}))
	defer srv.Close()

	p := testProvider(srv.URL)
	_, err := p.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{
			{Role: domain.RoleUser, Content: "time?"},
			{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCallRecord{
				{CallID: "call_1", Name: "clock", Arguments: json.RawMessage(`{}`)},
			}},
			{Role: domain.RoleTool, Content: "12:00", ToolCallID: "call_1"},
		},
		Tools: []domain.ToolSchema{
			{Name: "clock", Description: "time", Parameters: json.RawMessage(`{"type":"object"}`)},
		},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if len(gotReq.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(gotReq.Messages))
	}
	asst := gotReq.Messages[1]
	if len(asst.ToolCalls) != 1 || asst.ToolCalls[0].ID != "call_1" {
		t.Errorf("assistant tool_calls = %+v", asst.ToolCalls)
	}
	toolMsg := gotReq.Messages[2]
	if toolMsg.Role != "tool" || toolMsg.ToolCallID != "call_1" {
		t.Errorf("tool message = %+v", toolMsg)
	}
	if len(gotReq.Tools) != 1 || gotReq.Tools[0].Function.Name != "clock" {
		t.Errorf("tools = %+v", gotReq.Tools)
	}
}

func TestOpenAIChatStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var gotReq oaiRequest
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotReq); err != nil {
			t.Errorf("unmarshal request: %v", err)
		}
		if !gotReq.Stream {
			t.Error("request should set stream=true")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}],\"usage\":{\"prompt_tokens\":4,\"completion_tokens\":2,\"total_tokens\":6}}\n\n")
	}))
	defer srv.Close()

	p := testProvider(srv.URL)
	ch, err := p.ChatStream(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}

	var text strings.Builder
	var sawDone bool
	var usage *domain.Usage
	for delta := range ch {
		text.WriteString(delta.Text)
		if delta.Usage != nil {
			usage = delta.Usage
		}
		if delta.Done {
			sawDone = true
		}
		if delta.Err != nil {
			t.Fatalf("unexpected delta error: %v", delta.Err)
		}
	}

	if text.String() != "Hello" {
		t.Errorf("text = %q", text.String())
	}
	if !sawDone {
		t.Error("stream never signalled Done")
	}
	if usage == nil || usage.TotalTokens != 6 {
		t.Errorf("usage = %+v", usage)
	}
}

func TestOpenAIChatStreamToolCallFragments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"id\":\"call_1\",\"function\":{\"name\":\"clock\",\"arguments\":\"{\\\"tz\\\":\"}}]}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"function\":{\"arguments\":\"\\\"UTC\\\"}\"}}]}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"tool_calls\"}]}\n\n")
	}))
	defer srv.Close()

	p := testProvider(srv.URL)
	ch, err := p.ChatStream(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "time?"}},
	})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}

	var frags []domain.ToolCall
	for delta := range ch {
		frags = append(frags, delta.ToolCalls...)
	}

	if len(frags) != 2 {
		t.Fatalf("fragments = %d, want 2", len(frags))
	}
	if frags[0].ID != "call_1" || frags[0].Name != "clock" {
		t.Errorf("first fragment = %+v", frags[0])
	}
	if frags[1].ID != "" || string(frags[1].Arguments) != `"UTC"}` {
		t.Errorf("second fragment = %+v", frags[1])
	}
}

func TestOpenAIErrorMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, domain.ErrRateLimit},
		{http.StatusUnauthorized, domain.ErrAuth},
		{http.StatusForbidden, domain.ErrAuth},
		{http.StatusRequestTimeout, domain.ErrTimeout},
		{http.StatusBadGateway, domain.ErrNetwork},
		{http.StatusBadRequest, domain.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"error": {"message": "nope"}}`)
			}))
			defer srv.Close()

			p := testProvider(srv.URL)
			_, err := p.Chat(context.Background(), domain.ChatRequest{
				Messages: []domain.Message{{Role: domain.RoleUser, Content: "x"}},
			})
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			if !strings.Contains(err.Error(), fmt.Sprintf("API error %d:", tt.status)) {
				t.Errorf("err = %q, missing status detail", err.Error())
			}
		})
	}
}

func TestOpenAIStreamErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := testProvider(srv.URL)
	_, err := p.ChatStream(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "x"}},
	})
	if !errors.Is(err, domain.ErrNetwork) {
		t.Errorf("err = %v, want ErrNetwork", err)
	}
}

func TestOpenAIDefaultBaseURL(t *testing.T) {
	p := NewOpenAIProvider(domain.Profile{ID: "p", Model: "m"}, config.ProviderConfig{}, testLogger())
	if p.baseURL != "https://api.openai.com/v1" {
		t.Errorf("baseURL = %q", p.baseURL)
	}
}
