package app

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"lumosai/pkg/auth"
)

func TestAssistantValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, in := range []AssistantInput{
		{Title: " ", Context: "ctx"},
		{Title: "t", Context: ""},
		{Title: "t", Context: "ctx", Temperature: ptr(-0.1)},
		{Title: "t", Context: "ctx", Temperature: ptr(1.01)},
	} {
		if _, err := f.app.CreateAssistant(ctx, in); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("create %+v: expected ErrInvalidInput, got %v", in, err)
		}
	}

	a := f.assistant(t, "  Tutor ", " You teach Go ", ptr(1.0))
	if a.Title != "Tutor" || a.Context != "You teach Go" {
		t.Fatalf("fields should be trimmed: %+v", a)
	}
	if _, err := f.app.UpdateAssistant(ctx, a.ID, AssistantPatch{Title: ptr("")}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty title, got %v", err)
	}
	if _, err := f.app.UpdateAssistant(ctx, a.ID+100, AssistantPatch{Title: ptr("x")}); !errors.Is(err, ErrAssistantNotFound) {
		t.Fatalf("expected ErrAssistantNotFound, got %v", err)
	}
}

func TestUpdateAssistantIsPartial(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.assistant(t, "Tutor", "You teach Go", ptr(0.3))

	updated, err := f.app.UpdateAssistant(ctx, a.ID, AssistantPatch{Context: ptr("You teach Rust")})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Title != "Tutor" || updated.Context != "You teach Rust" || updated.Temperature == nil || *updated.Temperature != 0.3 {
		t.Fatalf("unexpected update: %+v", updated)
	}
}

func TestDeleteAssistantDropsHistoryKeepsTelemetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.assistant(t, "Pirate", "You are a pirate", nil)
	if _, err := f.app.SendMessage(ctx, a.ID, SendRequest{Message: "Hello"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := f.app.memory.GetRecentHistory(ctx, a.ID); err != nil {
		t.Fatalf("warm cache: %v", err)
	}
	key := "chat:" + itoa(a.ID)
	if !f.redis.Exists(key) {
		t.Fatalf("expected cached window before delete")
	}

	if err := f.app.DeleteAssistant(ctx, a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if f.redis.Exists(key) {
		t.Fatalf("cache key must be dropped")
	}
	if msgs := f.messages(t, a.ID); len(msgs) != 0 {
		t.Fatalf("messages must be deleted, got %d", len(msgs))
	}
	calls := f.calls(t)
	if len(calls) != 1 || calls[0].AssistantID != nil {
		t.Fatalf("telemetry must survive detached: %+v", calls)
	}
	if err := f.app.DeleteAssistant(ctx, a.ID); !errors.Is(err, ErrAssistantNotFound) {
		t.Fatalf("expected ErrAssistantNotFound, got %v", err)
	}
}

func TestUpdateProfileMergesSettings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u, err := f.app.UpdateProfile(ctx, ProfilePatch{Name: ptr("Ana"), Settings: map[string]any{"language": "pt"}})
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if u.Name != "Ana" || u.Settings["language"] != "pt" || u.Settings["theme"] != "dark" {
		t.Fatalf("unexpected profile: %+v", u)
	}
	if _, err := f.app.UpdateProfile(ctx, ProfilePatch{Email: ptr("not-an-email")}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestLoginLogout(t *testing.T) {
	const password = "Correct-Horse-42"
	hash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	f := newFixture(t, func(c *Config) {
		c.LoginEmail = "operator@lumos.local"
		c.LoginPasswordHash = hash
	})
	sessions, err := auth.NewSessionIssuer(auth.SessionConfig{Secret: "0123456789abcdef0123456789abcdef", TTL: time.Hour}, auth.NewRedisTokenRevoker(f.client))
	if err != nil {
		t.Fatalf("session issuer: %v", err)
	}
	f.app.sessions = sessions
	ctx := context.Background()

	if _, _, err := f.app.Login(ctx, "operator@lumos.local", "wrong"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	token, expiresAt, err := f.app.Login(ctx, "Operator@Lumos.local", password)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Fatalf("token already expired")
	}
	profile, err := f.app.Profile(ctx)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	subject, err := f.app.Authenticate(ctx, token)
	if err != nil || subject != itoa(profile.ID) {
		t.Fatalf("authenticate: subject=%q err=%v", subject, err)
	}
	if err := f.app.Logout(ctx, token); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := f.app.Authenticate(ctx, token); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("revoked token must be rejected, got %v", err)
	}
}

func TestMonitoringRejectsUnknownWindow(t *testing.T) {
	f := newFixture(t)
	if _, err := f.app.MonitoringStats(context.Background(), "2w"); !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("expected ErrInvalidWindow, got %v", err)
	}
	stats, err := f.app.MonitoringStats(context.Background(), "")
	if err != nil || stats.Window != "24h" {
		t.Fatalf("default window: %+v err=%v", stats, err)
	}
	recent, err := f.app.MonitoringRecent(context.Background(), 0)
	if err != nil || recent == nil {
		t.Fatalf("recent should be an empty list: %v err=%v", recent, err)
	}
	summary, err := f.app.UsageSummary(context.Background())
	if err != nil || !summary.MissingPricing || summary.Cost != nil {
		t.Fatalf("summary without pricing: %+v err=%v", summary, err)
	}
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }
