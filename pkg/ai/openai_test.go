package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"lumosai/pkg/domain"
)

func newOpenAITestClient(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/v1", Defaults: Defaults{Model: "gpt-test", Temperature: 0.7}})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestOpenAIChatTranslatesTurns(t *testing.T) {
	var captured struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string          `json:"role"`
			Content json.RawMessage `json:"content"`
		} `json:"messages"`
	}
	client := newOpenAITestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"gpt-test-0","choices":[{"index":0,"message":{"role":"assistant","content":"Arr!"}}],"usage":{"prompt_tokens":10,"completion_tokens":3,"total_tokens":13}}`))
	})

	turns := []domain.Turn{
		domain.TextTurn(domain.RoleSystem, "You are a pirate"),
		domain.TextTurn(domain.RoleAssistant, "earlier"),
		{Role: domain.RoleUser, Parts: []domain.Part{
			domain.DocumentPart{MediaType: "text/plain", Data: "aGVsbG8gd29ybGQ=", FileName: "notes.txt"},
			domain.ImagePart{URL: "data:image/png;base64,AAAA"},
			domain.TextPart{Text: "Hello"},
		}},
	}
	res, err := client.Chat(context.Background(), turns, ChatOptions{WebSearch: true})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if res.Text != "Arr!" || res.Model != "gpt-test-0" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Usage.PromptTokens != 10 || res.Usage.CompletionTokens != 3 || res.Usage.TotalTokens != 13 {
		t.Fatalf("unexpected usage: %+v", res.Usage)
	}
	if captured.Model != "gpt-test" || len(captured.Messages) != 3 {
		t.Fatalf("unexpected request: %+v", captured)
	}
	if captured.Messages[0].Role != "system" || captured.Messages[1].Role != "assistant" {
		t.Fatalf("unexpected roles: %+v", captured.Messages)
	}
	var parts []struct {
		Type     string `json:"type"`
		Text     string `json:"text"`
		ImageURL struct {
			URL string `json:"url"`
		} `json:"image_url"`
	}
	if err := json.Unmarshal(captured.Messages[2].Content, &parts); err != nil {
		t.Fatalf("multi content: %v", err)
	}
	if len(parts) != 3 || parts[0].Text != "[notes.txt]\nhello world" || parts[1].ImageURL.URL != "data:image/png;base64,AAAA" || parts[2].Text != "Hello" {
		t.Fatalf("unexpected parts: %+v", parts)
	}
}

func TestOpenAIChatErrorIsTyped(t *testing.T) {
	client := newOpenAITestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	})
	_, err := client.Chat(context.Background(), []domain.Turn{domain.TextTurn(domain.RoleUser, "hi")}, ChatOptions{})
	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if perr.StatusCode != http.StatusUnauthorized || perr.Message != "bad key" {
		t.Fatalf("unexpected error: %+v", perr)
	}
}

func TestOpenAIGenerateImageInline(t *testing.T) {
	client := newOpenAITestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["model"] != "gpt-image-1" || req["size"] != "1024x1024" {
			t.Errorf("unexpected image request: %v", req)
		}
		_, _ = w.Write([]byte(`{"created":1,"data":[{"b64_json":"UE5H"}]}`))
	})
	img, err := client.GenerateImage(context.Background(), "a ship")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if img.MimeType != "image/png" || img.Data != "UE5H" || img.Model != "gpt-image-1" {
		t.Fatalf("unexpected image: %+v", img)
	}
}

func TestOpenAIGenerateImageFetchesURL(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/v1/images/generations", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"created":1,"data":[{"url":"` + srv.URL + `/asset.jpg"}]}`))
	})
	mux.HandleFunc("/asset.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg"))
	})
	mux.HandleFunc("/missing.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	client, err := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/v1"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	img, err := client.GenerateImage(context.Background(), "a ship")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if img.MimeType != "image/jpeg" || img.Data != "anBlZw==" {
		t.Fatalf("unexpected image: %+v", img)
	}
	if _, _, err := client.fetchImage(context.Background(), srv.URL+"/missing.jpg"); err == nil {
		t.Fatalf("expected error for a failed fetch")
	}
}

func TestOpenAIFetchImageRejectsOversizedBodies(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/declared.png", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("0123456789"))
	})
	mux.HandleFunc("/streamed.png", func(w http.ResponseWriter, r *http.Request) {
		// flushing first drops Content-Length, so only the read bound applies
		w.(http.Flusher).Flush()
		_, _ = w.Write([]byte("0123456789"))
	})
	mux.HandleFunc("/exact.png", func(w http.ResponseWriter, r *http.Request) {
		w.(http.Flusher).Flush()
		_, _ = w.Write([]byte("01234567"))
	})

	client, err := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/v1"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	client.fetchLimit = 8

	for _, path := range []string{"/declared.png", "/streamed.png"} {
		_, _, err := client.fetchImage(context.Background(), srv.URL+path)
		var perr *ProviderError
		if !errors.As(err, &perr) {
			t.Fatalf("%s: expected ProviderError, got %v", path, err)
		}
		if !strings.Contains(perr.Message, "image exceeds 8 bytes") {
			t.Fatalf("%s: unexpected message %q", path, perr.Message)
		}
	}

	_, data, err := client.fetchImage(context.Background(), srv.URL+"/exact.png")
	if err != nil {
		t.Fatalf("image at the limit: %v", err)
	}
	if data != "MDEyMzQ1Njc=" {
		t.Fatalf("unexpected data %q", data)
	}
}

func TestOpenAIGenerateImageWithoutData(t *testing.T) {
	client := newOpenAITestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"created":1,"data":[{}]}`))
	})
	if _, err := client.GenerateImage(context.Background(), "a ship"); !errors.Is(err, ErrNoImageData) {
		t.Fatalf("expected ErrNoImageData, got %v", err)
	}
}
