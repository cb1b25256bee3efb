package threads

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/SalesPipe/internal/models"
	"github.com/BTreeMap/SalesPipe/internal/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// countingLeads wraps a LeadRepo and counts calls.
type countingLeads struct {
	store.LeadRepo
	mu      sync.Mutex
	reads   int
	writes   []models.Lead
	readErr  error
	writeErr error
}

func (c *countingLeads) GetLead(ctx context.Context, remoteJID string) (models.Lead, error) {
	c.mu.Lock()
	c.reads++
	err := c.readErr
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return c.LeadRepo.GetLead(ctx, remoteJID)
}

func (c *countingLeads) UpsertLead(ctx context.Context, remoteJID string, fields models.Lead) error {
	c.mu.Lock()
	c.writes = append(c.writes, fields)
	err := c.writeErr
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.LeadRepo.UpsertLead(ctx, remoteJID, fields)
}

func syncSpawn(fn func()) { fn() }

const jid = "5511999999999@s.whatsapp.net"

func TestGetOrCreate_NewLead(t *testing.T) {
	ctx := context.Background()
	mem := store.NewInMemoryStore()
	leads := &countingLeads{LeadRepo: mem}
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reg := NewRegistry(leads, mem, WithSpawner(syncSpawn), WithClock(func() time.Time { return fixed }))

	id, err := reg.GetOrCreate(ctx, jid, "Maria")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if id == "" {
		t.Fatal("expected a thread handle")
	}
	lead, _ := mem.GetLead(ctx, jid)
	if lead.ThreadID() != id {
		t.Errorf("lead thread_id = %q, want %q", lead.ThreadID(), id)
	}
	if lead.Get(models.LeadPhone) != "5511999999999" {
		t.Errorf("telefone = %q", lead.Get(models.LeadPhone))
	}
	if lead.Get(models.LeadCustomerName) != "Maria" || lead.Get(models.LeadPushName) != "Maria" {
		t.Errorf("unexpected names in %v", lead)
	}
	if lead.Get(models.LeadCreatedAt) != "2026-03-01T12:00:00Z" {
		t.Errorf("data_cadastro = %q", lead.Get(models.LeadCreatedAt))
	}
}

func TestGetOrCreate_Idempotent(t *testing.T) {
	ctx := context.Background()
	mem := store.NewInMemoryStore()
	leads := &countingLeads{LeadRepo: mem}
	reg := NewRegistry(leads, mem, WithSpawner(syncSpawn))

	first, err := reg.GetOrCreate(ctx, jid, "Maria")
	if err != nil {
		t.Fatalf("first GetOrCreate: %v", err)
	}
	readsAfterFirst, writesAfterFirst := leads.reads, len(leads.writes)

	second, err := reg.GetOrCreate(ctx, jid, "Maria")
	if err != nil {
		t.Fatalf("second GetOrCreate: %v", err)
	}
	if first != second {
		t.Errorf("handles differ: %q vs %q", first, second)
	}
	if leads.reads != readsAfterFirst || len(leads.writes) != writesAfterFirst {
		t.Errorf("second call touched the store: reads %d->%d writes %d->%d",
			readsAfterFirst, leads.reads, writesAfterFirst, len(leads.writes))
	}
	if len(mem.ThreadIDs()) != 1 {
		t.Errorf("expected exactly one thread, got %d", len(mem.ThreadIDs()))
	}
}

func TestGetOrCreate_StoredThread(t *testing.T) {
	ctx := context.Background()
	mem := store.NewInMemoryStore()
	if err := mem.UpsertLead(ctx, jid, models.Lead{models.LeadThreadID: "thread_existing", models.LeadCity: "recife"}); err != nil {
		t.Fatal(err)
	}
	leads := &countingLeads{LeadRepo: mem}
	reg := NewRegistry(leads, mem, WithSpawner(syncSpawn))

	id, err := reg.GetOrCreate(ctx, jid, "Maria")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if id != "thread_existing" {
		t.Errorf("id = %q, want thread_existing", id)
	}
	if len(leads.writes) != 1 {
		t.Fatalf("expected one name update, got %d writes", len(leads.writes))
	}
	lead, _ := mem.GetLead(ctx, jid)
	if lead.Get(models.LeadPushName) != "Maria" || lead.Get(models.LeadCity) != "recife" {
		t.Errorf("update should merge names and keep other fields: %v", lead)
	}

	// Same name again on a fresh registry: no write.
	reg2 := NewRegistry(leads, mem, WithSpawner(syncSpawn))
	if _, err := reg2.GetOrCreate(ctx, jid, "Maria"); err != nil {
		t.Fatal(err)
	}
	if len(leads.writes) != 1 {
		t.Errorf("unchanged name should not write, got %d writes", len(leads.writes))
	}
}

func TestGetOrCreate_ReadErrorCreatesThread(t *testing.T) {
	ctx := context.Background()
	mem := store.NewInMemoryStore()
	leads := &countingLeads{LeadRepo: mem, readErr: errors.New("db down")}
	reg := NewRegistry(leads, mem, WithSpawner(syncSpawn))

	id, err := reg.GetOrCreate(ctx, jid, "")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if id == "" {
		t.Error("expected a new handle when the lead read fails")
	}
}

func TestGetOrCreate_FailedLeadWriteIsRetried(t *testing.T) {
	ctx := context.Background()
	mem := store.NewInMemoryStore()
	leads := &countingLeads{LeadRepo: mem, writeErr: errors.New("db down")}
	cache := NewMemoryCache()
	reg := NewRegistry(leads, mem, WithCache(cache), WithSpawner(syncSpawn))

	first, err := reg.GetOrCreate(ctx, jid, "Maria")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if _, ok := cache.Get(ctx, jid); ok {
		t.Error("handle must not be cached before its lead is written")
	}

	leads.mu.Lock()
	leads.writeErr = nil
	leads.mu.Unlock()
	second, err := reg.GetOrCreate(ctx, jid, "Maria")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if second != first {
		t.Errorf("retry returned a new handle: %q vs %q", second, first)
	}
	if len(mem.ThreadIDs()) != 1 {
		t.Errorf("expected exactly one thread, got %v", mem.ThreadIDs())
	}
	lead, _ := mem.GetLead(ctx, jid)
	if lead.ThreadID() != first {
		t.Errorf("stored thread_id = %q, want %q", lead.ThreadID(), first)
	}
	if id, ok := cache.Get(ctx, jid); !ok || id != first {
		t.Errorf("handle should be cached after the write, got %q %v", id, ok)
	}
}

// blockingLeads never completes an upsert before its context ends.
type blockingLeads struct {
	store.LeadRepo
	err chan error
}

func (b *blockingLeads) UpsertLead(ctx context.Context, _ string, _ models.Lead) error {
	<-ctx.Done()
	b.err <- ctx.Err()
	return ctx.Err()
}

func TestGetOrCreate_NameUpdateIsBounded(t *testing.T) {
	ctx := context.Background()
	mem := store.NewInMemoryStore()
	if err := mem.UpsertLead(ctx, jid, models.Lead{models.LeadThreadID: "thread_existing"}); err != nil {
		t.Fatal(err)
	}
	leads := &blockingLeads{LeadRepo: mem, err: make(chan error, 1)}
	reg := NewRegistry(leads, mem, WithUpdateTimeout(20*time.Millisecond))

	if _, err := reg.GetOrCreate(ctx, jid, "Maria"); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	select {
	case err := <-leads.err:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("background name update was not bounded")
	}
}

func TestGetOrCreate_EmptyJID(t *testing.T) {
	mem := store.NewInMemoryStore()
	reg := NewRegistry(mem, mem)
	if _, err := reg.GetOrCreate(context.Background(), "", ""); !errors.Is(err, models.ErrEmptyRemoteJID) {
		t.Errorf("expected ErrEmptyRemoteJID, got %v", err)
	}
}

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	cache := NewRedisCache(client, time.Hour)
	if _, ok := cache.Get(ctx, jid); ok {
		t.Fatal("expected miss on empty cache")
	}
	cache.Set(ctx, jid, "thread_abc")
	got, ok := cache.Get(ctx, jid)
	if !ok || got != "thread_abc" {
		t.Fatalf("Get = %q, %v", got, ok)
	}
	if v, _ := mr.Get(RedisKeyPrefix + jid); v != "thread_abc" {
		t.Errorf("unexpected redis value %q", v)
	}
	if ttl := mr.TTL(RedisKeyPrefix + jid); ttl != time.Hour {
		t.Errorf("ttl = %v, want 1h", ttl)
	}

	mr.Close()
	if _, ok := cache.Get(ctx, jid); ok {
		t.Error("expected miss when redis is down")
	}
}

func TestRegistry_RedisCacheSharedAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()
	mem := store.NewInMemoryStore()

	a := NewRegistry(mem, mem, WithCache(NewRedisCache(client, 0)), WithSpawner(syncSpawn))
	b := NewRegistry(&countingLeads{LeadRepo: mem, readErr: errors.New("must not be read")}, mem,
		WithCache(NewRedisCache(client, 0)), WithSpawner(syncSpawn))

	first, err := a.GetOrCreate(ctx, jid, "")
	if err != nil {
		t.Fatal(err)
	}
	second, err := b.GetOrCreate(ctx, jid, "")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("replicas disagree: %q vs %q", first, second)
	}
}

func TestRenderHistory(t *testing.T) {
	ctx := context.Background()
	mem := store.NewInMemoryStore()
	id, _ := mem.CreateThread(ctx)

	if got := RenderHistory(ctx, mem, id, 10); got != NoHistoryText {
		t.Errorf("empty history = %q", got)
	}

	_ = mem.AppendMessage(ctx, id, models.RoleUser, "Tem tênis Nike?")
	_ = mem.AppendMessage(ctx, id, models.RoleAssistant, "Temos sim!")
	want := "User: Tem tênis Nike?\nAssistant: Temos sim!"
	if got := RenderHistory(ctx, mem, id, 0); got != want {
		t.Errorf("RenderHistory = %q, want %q", got, want)
	}
	if got := RenderHistory(ctx, mem, id, 1); got != "Assistant: Temos sim!" {
		t.Errorf("limited history = %q", got)
	}
}

type failingThreads struct{ store.ThreadRepo }

func (failingThreads) ListMessages(ctx context.Context, threadID string, limit int) ([]models.ThreadMessage, error) {
	return nil, errors.New("boom")
}

func TestRenderHistory_Error(t *testing.T) {
	if got := RenderHistory(context.Background(), failingThreads{}, "thread_x", 10); got != HistoryErrorText {
		t.Errorf("RenderHistory = %q, want error sentinel", got)
	}
}
