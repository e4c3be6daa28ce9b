package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/voxlens/voxlens/internal/common"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(common.LLMConfig{
		BaseURL: srv.URL, APIKey: "key-1",
		Model: "big", FastModel: "fast",
		Timeout: 5 * time.Second,
	}, nil)
	return c, srv
}

func TestChatCompleteSendsMessagesAndTrims(t *testing.T) {
	var got struct {
		Model       string  `json:"model"`
		Temperature float32 `json:"temperature"`
		Messages    []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer key-1" {
			t.Errorf("authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  refined text \n"}}]}`))
	})

	out, err := c.ChatComplete(context.Background(), "big", "system prompt", "user prompt", 0.3)
	if err != nil {
		t.Fatalf("ChatComplete: %v", err)
	}
	if out != "refined text" {
		t.Errorf("content = %q, want trimmed", out)
	}
	if got.Model != "big" || got.Temperature != 0.3 {
		t.Errorf("request model=%q temperature=%v", got.Model, got.Temperature)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Role != "user" {
		t.Errorf("messages = %+v", got.Messages)
	}
}

func TestChatCompleteDefaultsModel(t *testing.T) {
	var gotModel string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotModel = body.Model
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	})

	if _, err := c.ChatComplete(context.Background(), "", "s", "u", 0); err != nil {
		t.Fatalf("ChatComplete: %v", err)
	}
	if gotModel != "big" {
		t.Errorf("model = %q, want configured default", gotModel)
	}
}

func TestChatCompleteErrors(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"provider error status", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
		}},
		{"empty choices", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"choices":[]}`))
		}},
		{"malformed body", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"choices":`))
		}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			client, _ := newTestClient(t, c.handler)
			if _, err := client.ChatComplete(context.Background(), "big", "s", "u", 0); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestModelAccessors(t *testing.T) {
	c := NewClient(common.LLMConfig{Model: "big", FastModel: "fast"}, nil)
	if c.Model() != "big" || c.FastModel() != "fast" {
		t.Errorf("accessors = %q/%q", c.Model(), c.FastModel())
	}
}
