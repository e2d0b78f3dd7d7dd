package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestOpenAI_NoKey(t *testing.T) {
	c := NewOpenAIClient("", "")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.Generate(ctx, "hi"); err == nil {
		t.Fatalf("expected error with missing key")
	}
}

func TestOpenAI_DefaultsModel(t *testing.T) {
	if c := NewOpenAIClient("key", ""); c.Model != "gpt-3.5-turbo" {
		t.Fatalf("default model = %q", c.Model)
	}
}

func TestOpenAI_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key" {
			w.WriteHeader(401)
			return
		}
		var req chatCompletionsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) != 2 {
			w.WriteHeader(400)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Lead with impact."}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient("key", "")
	c.HTTPClient = redirectTo(srv)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := c.Generate(ctx, "resume tips?")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "Lead with impact." {
		t.Fatalf("answer = %q", got)
	}
}

func TestOpenAI_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient("key", "")
	c.HTTPClient = redirectTo(srv)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := c.Generate(ctx, "hi"); err == nil {
		t.Fatalf("expected error; got nil")
	}
}
