package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"lumosai/pkg/ai"
	"lumosai/pkg/domain"
	"lumosai/pkg/memory"
	"lumosai/pkg/prompt"
	"lumosai/pkg/store"
)

func TestSendMessageFirstTurn(t *testing.T) {
	f := newFixture(t)
	a := f.assistant(t, "Pirate", "You are a pirate", nil)
	f.chat.replies = []ai.ChatResult{{Text: "Arr!", Model: "claude-test", Usage: ai.Usage{PromptTokens: 10, CompletionTokens: 3, TotalTokens: 13}}}

	res, err := f.app.SendMessage(context.Background(), a.ID, SendRequest{Message: "Hello", Temperature: ptr(0.2)})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Reply != "Arr!" || res.Assistant != (domain.AssistantRef{ID: a.ID, Title: "Pirate"}) {
		t.Fatalf("unexpected result: %+v", res)
	}

	if len(f.chat.calls) != 1 {
		t.Fatalf("chat calls = %d, want 1", len(f.chat.calls))
	}
	call := f.chat.calls[0]
	if len(call.turns) != 2 {
		t.Fatalf("prompt turns = %d, want 2", len(call.turns))
	}
	if call.turns[0].Role != domain.RoleSystem || !strings.HasPrefix(call.turns[0].Text(), "You are a pirate") {
		t.Fatalf("unexpected system turn: %+v", call.turns[0])
	}
	if call.turns[1].Role != domain.RoleUser || call.turns[1].Text() != "Hello" {
		t.Fatalf("unexpected user turn: %+v", call.turns[1])
	}
	if *call.opts.Temperature != 0.2 || !call.opts.WebSearch || call.opts.MaxTokens != 4096 {
		t.Fatalf("unexpected options: %+v", call.opts)
	}

	msgs := f.messages(t, a.ID)
	if len(msgs) != 2 || msgs[0].Role != domain.RoleUser || msgs[0].Content != "Hello" ||
		msgs[1].Role != domain.RoleAssistant || msgs[1].Content != "Arr!" {
		t.Fatalf("unexpected history: %+v", msgs)
	}
	if totals := f.usage(t); totals.PromptTokens != 10 || totals.CompletionTokens != 3 || totals.ImageCount != 0 {
		t.Fatalf("unexpected usage: %+v", totals)
	}
	calls := f.calls(t)
	if len(calls) != 1 || calls[0].StatusCode != 200 || calls[0].Model != "claude-test" || calls[0].InputTokens != 10 || calls[0].Provider != "fake-chat" {
		t.Fatalf("unexpected api calls: %+v", calls)
	}
}

func TestSendMessageUsesRecentHistory(t *testing.T) {
	f := newFixture(t)
	a := f.assistant(t, "Pirate", "You are a pirate", nil)
	ctx := context.Background()
	if _, err := f.app.SendMessage(ctx, a.ID, SendRequest{Message: "first"}); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if _, err := f.app.SendMessage(ctx, a.ID, SendRequest{Message: "second"}); err != nil {
		t.Fatalf("second send: %v", err)
	}
	turns := f.chat.calls[1].turns
	if len(turns) != 4 || turns[1].Text() != "first" || turns[2].Role != domain.RoleAssistant || turns[3].Text() != "second" {
		t.Fatalf("unexpected prompt: %+v", turns)
	}
}

func TestSendMessageImageOnlyUsesDefaultText(t *testing.T) {
	f := newFixture(t)
	a := f.assistant(t, "Vision", "You describe pictures", nil)

	_, err := f.app.SendMessage(context.Background(), a.ID, SendRequest{
		Attachments: []domain.Attachment{{Kind: domain.AttachmentImage, MimeType: "image/png", Data: "aGVsbG8="}},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	last := f.chat.calls[0].turns[len(f.chat.calls[0].turns)-1]
	if len(last.Parts) != 2 {
		t.Fatalf("parts = %d, want 2", len(last.Parts))
	}
	if img, ok := last.Parts[0].(domain.ImagePart); !ok || img.URL != "data:image/png;base64,aGVsbG8=" {
		t.Fatalf("first part should be the image, got %#v", last.Parts[0])
	}
	if txt, ok := last.Parts[1].(domain.TextPart); !ok || txt.Text != prompt.DefaultImageText {
		t.Fatalf("second part should be the default text, got %#v", last.Parts[1])
	}
	if msgs := f.messages(t, a.ID); msgs[0].Content != "[Image attached]" {
		t.Fatalf("user note = %q", msgs[0].Content)
	}
}

func TestSendMessageStoresDocumentNote(t *testing.T) {
	f := newFixture(t)
	a := f.assistant(t, "Reader", "You read documents", nil)
	_, err := f.app.SendMessage(context.Background(), a.ID, SendRequest{
		Message: "Summarize",
		Attachments: []domain.Attachment{
			{Kind: domain.AttachmentPDF, MimeType: "application/pdf", Data: "JVBERi0=", FileName: "report.pdf"},
			{Kind: domain.AttachmentImage, MimeType: "image/jpeg", Data: "aGVsbG8="},
		},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	parts := f.chat.calls[0].turns[1].Parts
	if _, ok := parts[0].(domain.DocumentPart); !ok {
		t.Fatalf("documents must come first: %#v", parts)
	}
	if _, ok := parts[1].(domain.ImagePart); !ok {
		t.Fatalf("images must follow documents: %#v", parts)
	}
	if msgs := f.messages(t, a.ID); msgs[0].Content != "Summarize\n\n[Document attached: report.pdf]" {
		t.Fatalf("user note = %q", msgs[0].Content)
	}
}

func TestSendMessageRejectsBeforeIO(t *testing.T) {
	f := newFixture(t)
	a := f.assistant(t, "Pirate", "You are a pirate", nil)
	ctx := context.Background()

	cases := []SendRequest{
		{Message: "   "},
		{Attachments: []domain.Attachment{{Kind: domain.AttachmentAudio, MimeType: "audio/ogg", Data: "AAAA"}}},
		{Attachments: []domain.Attachment{{Kind: domain.AttachmentImage, Data: "AAAA"}}},
		{Message: "hi", Temperature: ptr(1.5)},
	}
	for i, req := range cases {
		if _, err := f.app.SendMessage(ctx, a.ID, req); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("case %d: expected ErrInvalidInput, got %v", i, err)
		}
	}
	if _, err := f.app.SendMessage(ctx, a.ID+100, SendRequest{Message: "hi"}); !errors.Is(err, ErrAssistantNotFound) {
		t.Fatalf("expected ErrAssistantNotFound, got %v", err)
	}
	if len(f.chat.calls) != 0 || len(f.calls(t)) != 0 {
		t.Fatalf("rejected turns must not reach the provider or telemetry")
	}
}

func TestSendMessageProviderFailure(t *testing.T) {
	f := newFixture(t)
	a := f.assistant(t, "Pirate", "You are a pirate", nil)
	f.chat.err = &ai.ProviderError{Provider: "fake-chat", StatusCode: 529, Message: "overloaded"}

	_, err := f.app.SendMessage(context.Background(), a.ID, SendRequest{Message: "Hello"})
	if !errors.Is(err, ErrProcessing) {
		t.Fatalf("expected ErrProcessing, got %v", err)
	}
	var perr *ai.ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("provider error should stay inspectable: %v", err)
	}
	if msgs := f.messages(t, a.ID); len(msgs) != 0 {
		t.Fatalf("no messages may be persisted, got %d", len(msgs))
	}
	calls := f.calls(t)
	if len(calls) != 1 || calls[0].StatusCode != 500 || calls[0].Model != "fake-model" || !strings.Contains(calls[0].ErrorMessage, "overloaded") {
		t.Fatalf("unexpected api calls: %+v", calls)
	}
	if totals := f.usage(t); totals.TotalTokens != 0 {
		t.Fatalf("failed calls must not record usage: %+v", totals)
	}
}

// replyFailingStore rejects every exchange the way a transaction that fails
// on the reply insert does: nothing is committed.
type replyFailingStore struct {
	*store.GormStore
}

var errReplyInsert = errors.New("insert reply: disk full")

func (replyFailingStore) AppendExchange(context.Context, int64, string, string, []domain.Attachment) (domain.Message, domain.Message, error) {
	return domain.Message{}, domain.Message{}, errReplyInsert
}

func TestSendMessagePersistFailureLeavesNoOrphanTurn(t *testing.T) {
	f := newFixture(t)
	a := f.assistant(t, "Pirate", "You are a pirate", nil)
	mem, err := memory.New(replyFailingStore{GormStore: f.store}, nil, memory.WithWindow(20))
	if err != nil {
		t.Fatalf("new memory: %v", err)
	}
	f.app.memory = mem
	f.chat.replies = []ai.ChatResult{{Text: "Arr", Model: "fake-model", Usage: ai.Usage{PromptTokens: 10, CompletionTokens: 2, TotalTokens: 12}}}

	_, err = f.app.SendMessage(context.Background(), a.ID, SendRequest{Message: "Hello"})
	if !errors.Is(err, ErrProcessing) || !errors.Is(err, errReplyInsert) {
		t.Fatalf("expected wrapped persistence error, got %v", err)
	}
	if msgs := f.messages(t, a.ID); len(msgs) != 0 {
		t.Fatalf("history must stay empty, got %+v", msgs)
	}
	calls := f.calls(t)
	if len(calls) != 1 || calls[0].StatusCode != 200 || calls[0].InputTokens != 10 {
		t.Fatalf("provider call must still be recorded: %+v", calls)
	}
}

func TestSendMessageEmptyReplyIsProviderFailure(t *testing.T) {
	f := newFixture(t)
	a := f.assistant(t, "Pirate", "You are a pirate", nil)
	f.chat.replies = []ai.ChatResult{{Text: "  \n", Model: "fake-model-2", Usage: ai.Usage{PromptTokens: 7, TotalTokens: 7}}}

	_, err := f.app.SendMessage(context.Background(), a.ID, SendRequest{Message: "Hello"})
	if !errors.Is(err, ErrProcessing) {
		t.Fatalf("expected ErrProcessing, got %v", err)
	}
	var perr *ai.ProviderError
	if !errors.As(err, &perr) || perr.Message != "empty reply" {
		t.Fatalf("expected empty reply provider error, got %v", err)
	}
	if msgs := f.messages(t, a.ID); len(msgs) != 0 {
		t.Fatalf("an empty reply must not be persisted, got %+v", msgs)
	}
	calls := f.calls(t)
	if len(calls) != 1 || calls[0].StatusCode != 500 || calls[0].Model != "fake-model-2" || !strings.Contains(calls[0].ErrorMessage, "empty reply") {
		t.Fatalf("unexpected api calls: %+v", calls)
	}
}

func TestTemperatureResolution(t *testing.T) {
	f := newFixture(t)
	stored := f.assistant(t, "Cool", "You are calm", ptr(0.4))
	unset := f.assistant(t, "Plain", "You are plain", nil)
	ctx := context.Background()

	for _, tc := range []struct {
		id       int64
		override *float64
		want     float64
	}{
		{stored.ID, nil, 0.4},
		{stored.ID, ptr(0.0), 0.0},
		{unset.ID, nil, 0.7},
	} {
		before := len(f.chat.calls)
		if _, err := f.app.SendMessage(ctx, tc.id, SendRequest{Message: "hi", Temperature: tc.override}); err != nil {
			t.Fatalf("send: %v", err)
		}
		if got := *f.chat.calls[before].opts.Temperature; got != tc.want {
			t.Fatalf("temperature = %v, want %v", got, tc.want)
		}
	}
}

func TestClearHistoryCountsRemoved(t *testing.T) {
	f := newFixture(t)
	a := f.assistant(t, "Pirate", "You are a pirate", nil)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := f.app.memory.Append(ctx, a.ID, domain.RoleUser, "msg", nil); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	removed, err := f.app.ClearHistory(ctx, a.ID)
	if err != nil || removed != 5 {
		t.Fatalf("removed = %d err=%v, want 5", removed, err)
	}
	h, err := f.app.History(ctx, a.ID)
	if err != nil || h.Total != 0 || len(h.Messages) != 0 {
		t.Fatalf("history after clear: %+v err=%v", h, err)
	}
	if _, err := f.app.ClearHistory(ctx, a.ID+100); !errors.Is(err, ErrAssistantNotFound) {
		t.Fatalf("expected ErrAssistantNotFound, got %v", err)
	}
}
