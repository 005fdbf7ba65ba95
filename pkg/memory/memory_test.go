package memory

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"lumosai/pkg/cache"
	"lumosai/pkg/domain"
	"lumosai/pkg/store"
)

type fixture struct {
	store  *store.GormStore
	cache  *cache.RedisHistoryCache
	redis  *miniredis.Miniredis
	memory *Memory
	id     int64
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	st, err := store.NewGormStore("sqlite://" + filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	hc, err := cache.NewRedisHistoryCache(client, cache.Config{TTL: time.Hour, Window: 20})
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	mem, err := New(st, hc, WithWindow(20))
	if err != nil {
		t.Fatalf("new memory: %v", err)
	}
	a, err := st.CreateAssistant(context.Background(), domain.Assistant{Title: "pirate", Context: "You are a pirate"})
	if err != nil {
		t.Fatalf("create assistant: %v", err)
	}
	return fixture{store: st, cache: hc, redis: mr, memory: mem, id: a.ID}
}

func appendN(t *testing.T, m *Memory, id int64, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		role := domain.RoleUser
		if i%2 == 0 {
			role = domain.RoleAssistant
		}
		if _, err := m.Append(context.Background(), id, role, fmt.Sprintf("#%d", i), nil); err != nil {
			t.Fatalf("append #%d: %v", i, err)
		}
	}
}

func TestAppendKeepsCacheBounded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 1; i <= 25; i++ {
		if _, err := f.memory.Append(ctx, f.id, domain.RoleUser, fmt.Sprintf("#%d", i), nil); err != nil {
			t.Fatalf("append #%d: %v", i, err)
		}
		cached, ok, err := f.cache.Get(ctx, f.id)
		if err != nil || !ok {
			t.Fatalf("cache after #%d: ok=%v err=%v", i, ok, err)
		}
		want := i
		if want > 20 {
			want = 20
		}
		if len(cached) != want {
			t.Fatalf("cache len after #%d = %d, want %d", i, len(cached), want)
		}
	}

	cached, _, err := f.cache.Get(ctx, f.id)
	if err != nil {
		t.Fatalf("get cache: %v", err)
	}
	for i, msg := range cached {
		if want := fmt.Sprintf("#%d", i+6); msg.Content != want {
			t.Fatalf("cache[%d] = %q, want %q", i, msg.Content, want)
		}
	}
}

func TestRecentHistoryMissPopulatesIdempotently(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appendN(t, f.memory, f.id, 23)
	f.redis.FlushAll()

	first, err := f.memory.GetRecentHistory(ctx, f.id)
	if err != nil {
		t.Fatalf("first read: %v", err)
	}
	cached, ok, err := f.cache.Get(ctx, f.id)
	if err != nil || !ok {
		t.Fatalf("cache not populated: ok=%v err=%v", ok, err)
	}
	second, err := f.memory.GetRecentHistory(ctx, f.id)
	if err != nil {
		t.Fatalf("second read: %v", err)
	}
	if len(first) != 20 || len(second) != 20 || len(cached) != 20 {
		t.Fatalf("lens = %d/%d/%d, want 20", len(first), len(second), len(cached))
	}
	for i := range first {
		if first[i].ID != second[i].ID || first[i].ID != cached[i].ID {
			t.Fatalf("reads diverge at %d: %+v %+v %+v", i, first[i], second[i], cached[i])
		}
	}
	if first[0].Content != "#4" || first[19].Content != "#23" {
		t.Fatalf("window = %q..%q, want #4..#23", first[0].Content, first[19].Content)
	}
}

func TestAppendIsLastInFullHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appendN(t, f.memory, f.id, 3)
	if _, err := f.memory.Append(ctx, f.id, domain.RoleAssistant, "Arr!", nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	full, err := f.memory.GetFullHistory(ctx, f.id)
	if err != nil {
		t.Fatalf("full history: %v", err)
	}
	last := full[len(full)-1]
	if last.Role != domain.RoleAssistant || last.Content != "Arr!" {
		t.Fatalf("unexpected last message: %+v", last)
	}
}

func TestAppendExchangeMirrorsBothTurnsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// cold cache: the first exchange rebuilds the window from the store
	if _, _, err := f.memory.AppendExchange(ctx, f.id, "q1", "a1", nil); err != nil {
		t.Fatalf("first exchange: %v", err)
	}
	// warm cache: the second exchange appends both projections
	if _, _, err := f.memory.AppendExchange(ctx, f.id, "q2", "a2", nil); err != nil {
		t.Fatalf("second exchange: %v", err)
	}

	cached, ok, err := f.cache.Get(ctx, f.id)
	if err != nil || !ok {
		t.Fatalf("cache not populated: ok=%v err=%v", ok, err)
	}
	want := []string{"q1", "a1", "q2", "a2"}
	if len(cached) != len(want) {
		t.Fatalf("cache = %+v, want %v", cached, want)
	}
	for i, msg := range cached {
		if msg.Content != want[i] {
			t.Fatalf("cache[%d] = %q, want %q", i, msg.Content, want[i])
		}
	}
	if cached[0].Role != domain.RoleUser || cached[1].Role != domain.RoleAssistant {
		t.Fatalf("unexpected roles: %+v", cached[:2])
	}
}

func TestClearHistoryEmptiesBothTiers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appendN(t, f.memory, f.id, 5)

	removed, err := f.memory.ClearHistory(ctx, f.id)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if removed != 5 {
		t.Fatalf("removed = %d, want 5", removed)
	}
	full, err := f.memory.GetFullHistory(ctx, f.id)
	if err != nil || len(full) != 0 {
		t.Fatalf("full after clear: %+v err=%v", full, err)
	}
	recent, err := f.memory.GetRecentHistory(ctx, f.id)
	if err != nil || len(recent) != 0 {
		t.Fatalf("recent after clear: %+v err=%v", recent, err)
	}
	if f.redis.Exists(f.cache.Key(f.id)) {
		t.Fatalf("empty history must not be cached")
	}
}

type brokenCache struct{}

var errCacheDown = errors.New("cache down")

func (brokenCache) Get(context.Context, int64) ([]domain.CachedMessage, bool, error) {
	return nil, false, errCacheDown
}
func (brokenCache) Set(context.Context, int64, []domain.CachedMessage) error { return errCacheDown }
func (brokenCache) Append(context.Context, int64, domain.CachedMessage) (bool, error) {
	return false, errCacheDown
}
func (brokenCache) Delete(context.Context, int64) error { return errCacheDown }

func TestCacheOutageIsAbsorbed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mem, err := New(f.store, brokenCache{}, WithWindow(20))
	if err != nil {
		t.Fatalf("new memory: %v", err)
	}

	for i := 1; i <= 3; i++ {
		if _, err := mem.Append(ctx, f.id, domain.RoleUser, fmt.Sprintf("m%d", i), nil); err != nil {
			t.Fatalf("append with broken cache: %v", err)
		}
	}
	recent, err := mem.GetRecentHistory(ctx, f.id)
	if err != nil {
		t.Fatalf("recent with broken cache: %v", err)
	}
	if len(recent) != 3 || recent[2].Content != "m3" {
		t.Fatalf("unexpected recent: %+v", recent)
	}
	removed, err := mem.ClearHistory(ctx, f.id)
	if err != nil || removed != 3 {
		t.Fatalf("clear with broken cache: removed=%d err=%v", removed, err)
	}
}

func TestStaleCacheSelfHealsAfterRedisRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appendN(t, f.memory, f.id, 2)

	f.redis.FlushAll()
	if _, err := f.memory.Append(ctx, f.id, domain.RoleUser, "after flush", nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	cached, ok, err := f.cache.Get(ctx, f.id)
	if err != nil || !ok {
		t.Fatalf("cache not rebuilt: ok=%v err=%v", ok, err)
	}
	if len(cached) != 3 || cached[2].Content != "after flush" {
		t.Fatalf("rebuilt cache = %+v", cached)
	}
}
