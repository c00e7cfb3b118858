package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mcowger/plexus/internal/trace"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSaveAndAggregateUsage(t *testing.T) {
	st := openTestStore(t)

	cost := 0.012
	require.NoError(t, st.SaveUsage(&UsageRecord{
		RequestID: "req-1", Timestamp: time.Now(), Dialect: "openai-chat",
		RequestModel: "fast", Provider: "alpha", ProviderModel: "gpt-4o-mini",
		InputTokens: 100, OutputTokens: 50, TotalTokens: 150,
		CostUSD: &cost, Status: "success",
	}))
	require.NoError(t, st.SaveUsage(&UsageRecord{
		RequestID: "req-2", Timestamp: time.Now(), Dialect: "anthropic",
		RequestModel: "fast", Provider: "alpha", ProviderModel: "gpt-4o-mini",
		InputTokens: 10, OutputTokens: 5, TotalTokens: 15,
		Status: "error", ErrorClass: "upstream_transient",
	}))
	require.NoError(t, st.SaveUsage(&UsageRecord{
		RequestID: "req-3", Timestamp: time.Now(), Dialect: "openai-chat",
		RequestModel: "smart", Provider: "beta", ProviderModel: "claude-sonnet",
		InputTokens: 200, OutputTokens: 100, TotalTokens: 300,
		Status: "success",
	}))

	rows, err := st.AggregateUsage(time.Time{})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	// Ordered by total tokens, descending.
	require.Equal(t, "beta", rows[0].Provider)
	require.Equal(t, int64(300), rows[0].TotalTokens)

	alpha := rows[1]
	require.Equal(t, int64(2), alpha.RequestCount)
	require.Equal(t, int64(165), alpha.TotalTokens)
	require.Equal(t, int64(1), alpha.ErrorCount)
	require.InDelta(t, 0.012, alpha.CostUSD, 1e-9)
}

func TestAggregateUsageWindow(t *testing.T) {
	st := openTestStore(t)

	require.NoError(t, st.SaveUsage(&UsageRecord{
		RequestID: "old", Timestamp: time.Now().Add(-48 * time.Hour),
		Dialect: "openai-chat", RequestModel: "fast",
		Provider: "alpha", ProviderModel: "m", TotalTokens: 10, Status: "success",
	}))
	require.NoError(t, st.SaveUsage(&UsageRecord{
		RequestID: "new", Timestamp: time.Now(),
		Dialect: "openai-chat", RequestModel: "fast",
		Provider: "alpha", ProviderModel: "m", TotalTokens: 20, Status: "success",
	}))

	rows, err := st.AggregateUsage(time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, int64(1), rows[0].RequestCount)
	require.Equal(t, int64(20), rows[0].TotalTokens)
}

func TestTraceRoundTrip(t *testing.T) {
	st := openTestStore(t)

	require.NoError(t, st.SaveTrace(&trace.Trace{
		RequestID: "req-1",
		Dialect:   "anthropic",
		Provider:  "alpha",
		StartedAt: time.Now(),
	}))

	list, err := st.ListTraces(10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "req-1", list[0].RequestID)
	// Listing omits the body payload.
	require.Empty(t, list[0].Body)

	got, err := st.GetTrace("req-1")
	require.NoError(t, err)
	require.Contains(t, got.Body, `"request_id":"req-1"`)

	require.NoError(t, st.DeleteTrace("req-1"))
	_, err = st.GetTrace("req-1")
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestConfigSnapshotHistory(t *testing.T) {
	st := openTestStore(t)

	require.NoError(t, st.SaveConfigSnapshot("startup", []byte("a: 1")))
	require.NoError(t, st.SaveConfigSnapshot("admin-update", []byte("a: 2")))

	snaps, err := st.ListConfigSnapshots(10)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	require.Equal(t, "admin-update", snaps[0].Source)
	require.Equal(t, "a: 2", snaps[0].Raw)
}

func TestClassifierLogList(t *testing.T) {
	st := openTestStore(t)

	require.NoError(t, st.SaveClassifierLog(&ClassifierLog{
		RequestID: "req-1", Timestamp: time.Now(),
		Tier: "SIMPLE", Score: -0.6, Confidence: 0.9, Method: "rules",
		ResolvedAlias: "fast",
	}))

	logs, err := st.ListClassifierLogs(10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, "SIMPLE", logs[0].Tier)
}
