package history_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rhernandezbas/Betelgeus-Backend/internal/history"
	"github.com/rhernandezbas/Betelgeus-Backend/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mock cache ---

type mockCache struct {
	data   map[string][]byte
	getErr error
	setErr error
}

func newMockCache() *mockCache { return &mockCache{data: map[string][]byte{}} }

func (c *mockCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	if c.setErr != nil {
		return c.setErr
	}
	c.data[key] = value
	return nil
}
func (c *mockCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	v, ok := c.data[key]
	return v, ok, nil
}
func (c *mockCache) Ping(_ context.Context) error { return nil }
func (c *mockCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 0, nil
}

func result(ip, model string) *models.AnalysisResult {
	return &models.AnalysisResult{
		IP:              ip,
		IdentifiedModel: model,
		Status:          models.AnalysisStatusSuccess,
		LLMAnalysis:     &models.LLMAnalysis{Summary: "ok"},
	}
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestLoadAll_EmptySlot(t *testing.T) {
	s := history.NewStore(&history.MemorySlot{})
	entries := s.LoadAll(context.Background())
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestAppend_MostRecentFirst(t *testing.T) {
	ctx := context.Background()
	s := history.NewStore(&history.MemorySlot{})

	require.NoError(t, s.Append(ctx, s.NewEntry(result("10.0.0.1", "m2"), t0)))
	require.NoError(t, s.Append(ctx, s.NewEntry(result("10.0.0.2", "m5"), t0.Add(time.Second))))

	entries := s.LoadAll(ctx)
	require.Len(t, entries, 2)
	assert.Equal(t, "10.0.0.2", entries[0].IP)
	assert.Equal(t, "10.0.0.1", entries[1].IP)
}

func TestAppend_CapsAtMaxEntries(t *testing.T) {
	ctx := context.Background()
	s := history.NewStore(&history.MemorySlot{})

	for i := 0; i < history.MaxEntries+1; i++ {
		ip := fmt.Sprintf("10.0.0.%d", i)
		require.NoError(t, s.Append(ctx, s.NewEntry(result(ip, "m5"), t0.Add(time.Duration(i)*time.Second))))
	}

	entries := s.LoadAll(ctx)
	require.Len(t, entries, history.MaxEntries)
	assert.Equal(t, fmt.Sprintf("10.0.0.%d", history.MaxEntries), entries[0].IP, "newest present")
	for _, e := range entries {
		assert.NotEqual(t, "10.0.0.0", e.IP, "oldest evicted")
	}
}

func TestNewEntry_Fields(t *testing.T) {
	s := history.NewStore(&history.MemorySlot{})
	r := result("192.168.1.50", "m5")
	r.Status = models.AnalysisStatusFailure

	e := s.NewEntry(r, t0)
	assert.Equal(t, t0.UnixMilli(), e.ID)
	assert.Equal(t, "2026-03-01T12:00:00Z", e.Timestamp)
	assert.Equal(t, "192.168.1.50", e.IP)
	assert.Equal(t, "m5", e.Model)
	assert.Equal(t, models.AnalysisStatusFailure, e.Status)
	assert.Equal(t, "ok", e.LLMAnalysis.Summary)
}

func TestNewEntry_MonotonicIDs(t *testing.T) {
	s := history.NewStore(&history.MemorySlot{})
	r := result("10.0.0.1", "m5")

	a := s.NewEntry(r, t0)
	b := s.NewEntry(r, t0)
	c := s.NewEntry(r, t0.Add(-time.Hour))

	assert.Less(t, a.ID, b.ID)
	assert.Less(t, b.ID, c.ID)
}

func TestLoadAll_CorruptData(t *testing.T) {
	mc := newMockCache()
	slot := history.NewCacheSlot(mc, "default")
	require.NoError(t, slot.Store(context.Background(), []byte("{not-json")))

	s := history.NewStore(slot)
	entries := s.LoadAll(context.Background())
	assert.Empty(t, entries)

	// Appending over corrupt data starts a fresh log.
	require.NoError(t, s.Append(context.Background(), s.NewEntry(result("10.0.0.1", "m5"), t0)))
	assert.Len(t, s.LoadAll(context.Background()), 1)
}

func TestLoadAll_SlotError(t *testing.T) {
	mc := newMockCache()
	mc.getErr = errors.New("redis down")

	s := history.NewStore(history.NewCacheSlot(mc, "default"))
	assert.Empty(t, s.LoadAll(context.Background()))
}

// flakySlot fails the next Load when failNext is set.
type flakySlot struct {
	history.MemorySlot
	failNext bool
	stores   int
}

func (s *flakySlot) Load(ctx context.Context) ([]byte, bool, error) {
	if s.failNext {
		s.failNext = false
		return nil, false, errors.New("read timeout")
	}
	return s.MemorySlot.Load(ctx)
}

func (s *flakySlot) Store(ctx context.Context, data []byte) error {
	s.stores++
	return s.MemorySlot.Store(ctx, data)
}

func TestAppend_LoadErrorKeepsHistory(t *testing.T) {
	ctx := context.Background()
	slot := &flakySlot{}
	s := history.NewStore(slot)

	for i := 0; i < 10; i++ {
		require.NoError(t, s.Append(ctx, s.NewEntry(result(fmt.Sprintf("10.0.0.%d", i), "m5"), t0.Add(time.Duration(i)*time.Second))))
	}
	require.Equal(t, 10, slot.stores)

	slot.failNext = true
	err := s.Append(ctx, s.NewEntry(result("10.0.1.1", "m5"), t0.Add(time.Minute)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading history")
	assert.Equal(t, 10, slot.stores, "nothing written after a failed read")
	assert.Len(t, s.LoadAll(ctx), 10)

	require.NoError(t, s.Append(ctx, s.NewEntry(result("10.0.1.2", "m5"), t0.Add(2*time.Minute))))
	entries := s.LoadAll(ctx)
	require.Len(t, entries, 11)
	assert.Equal(t, "10.0.1.2", entries[0].IP)
	assert.Equal(t, "10.0.0.0", entries[10].IP)
}

func TestAppend_PersistError(t *testing.T) {
	mc := newMockCache()
	mc.setErr = errors.New("redis down")

	s := history.NewStore(history.NewCacheSlot(mc, "default"))
	err := s.Append(context.Background(), s.NewEntry(result("10.0.0.1", "m5"), t0))
	assert.Error(t, err)
}

func TestPersistsAcrossStores(t *testing.T) {
	ctx := context.Background()
	mc := newMockCache()

	first := history.NewStore(history.NewCacheSlot(mc, "noc"))
	require.NoError(t, first.Append(ctx, first.NewEntry(result("10.0.0.1", "m5"), t0)))

	_, ok := mc.data["station:history:noc"]
	assert.True(t, ok, "history written under the namespaced key")

	restarted := history.NewStore(history.NewCacheSlot(mc, "noc"))
	entries := restarted.LoadAll(ctx)
	require.Len(t, entries, 1)
	assert.Equal(t, "m5", entries[0].Model)

	other := history.NewStore(history.NewCacheSlot(mc, "lab"))
	assert.Empty(t, other.LoadAll(ctx))
}

func TestMemorySlot_CopiesData(t *testing.T) {
	ctx := context.Background()
	slot := &history.MemorySlot{}
	data := []byte("abc")
	require.NoError(t, slot.Store(ctx, data))
	data[0] = 'x'

	got, found, err := slot.Load(ctx)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("abc"), got)
}
