package ingest

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PratikDhanave/event-processing-service/internal/models"
	"github.com/PratikDhanave/event-processing-service/internal/observability"
	"github.com/PratikDhanave/event-processing-service/internal/queue"
	"github.com/PratikDhanave/event-processing-service/internal/store"
)

type fakeDispatcher struct {
	down    bool
	singles []string
	batches [][]string
}

func (f *fakeDispatcher) Dispatch(_ context.Context, id string) *queue.TaskRef {
	f.singles = append(f.singles, id)
	if f.down {
		return nil
	}
	return &queue.TaskRef{ID: "task-" + id, Queue: "events"}
}

func (f *fakeDispatcher) DispatchBatch(_ context.Context, ids []string) *queue.TaskRef {
	f.batches = append(f.batches, ids)
	if f.down {
		return nil
	}
	return &queue.TaskRef{ID: "batch-task", Queue: "events"}
}

func newService(t *testing.T) (*Service, *store.SQLiteStore, *fakeDispatcher) {
	t.Helper()
	st, err := store.NewSQLiteStore(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(st.Close)

	d := &fakeDispatcher{}
	return NewService(st, d, observability.Discard()), st, d
}

func fixedTime() time.Time {
	return time.Date(2026, 2, 25, 12, 0, 0, 0, time.UTC)
}

func pageView() models.EventIngestRequest {
	return models.EventIngestRequest{
		EventName: "page_view",
		EventType: "engagement",
		Payload:   map[string]any{"page": "/home", "duration": "45"},
	}
}

func TestSubmit_Enqueued(t *testing.T) {
	svc, st, d := newService(t)
	ctx := context.Background()

	resp, err := svc.Submit(ctx, "tenant1", pageView(), Client{IP: "203.0.113.7", UserAgent: "curl/8.0"})
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionEnqueued, resp.Status)
	assert.Equal(t, "task-"+resp.EventID, resp.TaskID)
	assert.Equal(t, []string{resp.EventID}, d.singles)

	ev, err := st.Get(ctx, resp.EventID)
	require.NoError(t, err)
	assert.False(t, ev.Processed)
	require.NotNil(t, ev.IPAddress)
	assert.Equal(t, "203.0.113.7", *ev.IPAddress)
	require.NotNil(t, ev.UserAgent)
	assert.Equal(t, "curl/8.0", *ev.UserAgent)
}

func TestSubmit_QueueDownStillStores(t *testing.T) {
	svc, st, d := newService(t)
	d.down = true
	ctx := context.Background()

	resp, err := svc.Submit(ctx, "tenant1", pageView(), Client{})
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionStored, resp.Status)
	assert.Equal(t, models.NoTask, resp.TaskID)
	assert.Contains(t, resp.Message, "stored")

	ev, err := st.Get(ctx, resp.EventID)
	require.NoError(t, err)
	assert.Equal(t, "page_view", ev.EventName)
	assert.Nil(t, ev.IPAddress)
}

func TestSubmit_ClientSuppliedMetadataWins(t *testing.T) {
	svc, st, _ := newService(t)
	req := pageView()
	ip := "198.51.100.1"
	req.IPAddress = &ip

	resp, err := svc.Submit(context.Background(), "tenant1", req, Client{IP: "10.0.0.1"})
	require.NoError(t, err)

	ev, err := st.Get(context.Background(), resp.EventID)
	require.NoError(t, err)
	assert.Equal(t, ip, *ev.IPAddress)
}

func TestSubmit_LongClientIPTruncatedByCharacter(t *testing.T) {
	svc, st, _ := newService(t)
	ip := strings.Repeat("a", 44) + "é" + "tail"

	resp, err := svc.Submit(context.Background(), "tenant1", pageView(), Client{IP: ip})
	require.NoError(t, err)

	ev, err := st.Get(context.Background(), resp.EventID)
	require.NoError(t, err)
	require.NotNil(t, ev.IPAddress)
	assert.True(t, utf8.ValidString(*ev.IPAddress))
	assert.Equal(t, strings.Repeat("a", 44)+"é", *ev.IPAddress)
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "short", truncateRunes("short", 45))
	assert.Equal(t, "ab", truncateRunes("abc", 2))
	assert.Equal(t, "日本", truncateRunes("日本語", 2))
}

func TestSubmitBatch(t *testing.T) {
	svc, st, d := newService(t)
	ctx := context.Background()

	resp, err := svc.SubmitBatch(ctx, "tenant1", []models.EventIngestRequest{pageView(), pageView(), pageView()}, Client{})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.EventCount)
	assert.Len(t, resp.EventIDs, 3)
	assert.Equal(t, models.SubmissionEnqueued, resp.Status)
	assert.Equal(t, "batch-task", resp.TaskID)
	require.Len(t, d.batches, 1)
	assert.Equal(t, resp.EventIDs, d.batches[0])

	n, err := st.CountByOwner(ctx, "tenant1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestSubmitBatchForProcessing_QueueDown(t *testing.T) {
	svc, _, d := newService(t)
	d.down = true

	sub := svc.SubmitBatchForProcessing(context.Background(), []string{"a"})
	assert.Equal(t, models.Submission{Status: models.SubmissionStored, TaskRef: models.NoTask}, sub)
	assert.False(t, sub.Enqueued())
}

func TestGet_OwnerScoped(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	resp, err := svc.Submit(ctx, "tenant1", pageView(), Client{})
	require.NoError(t, err)

	_, err = svc.Get(ctx, "tenant2", resp.EventID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.Get(ctx, "tenant1", "missing")
	assert.True(t, IsNotFound(err))

	ev, err := svc.Get(ctx, "tenant1", resp.EventID)
	require.NoError(t, err)
	assert.Equal(t, resp.EventID, ev.ID)
}

func TestReprocess(t *testing.T) {
	svc, st, d := newService(t)
	ctx := context.Background()
	resp, err := svc.Submit(ctx, "tenant1", pageView(), Client{})
	require.NoError(t, err)

	again, err := svc.Reprocess(ctx, "tenant1", resp.EventID)
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionEnqueued, again.Status)
	assert.Equal(t, []string{resp.EventID, resp.EventID}, d.singles)

	_, err = st.MarkProcessed(ctx, resp.EventID, map[string]any{}, fixedTime())
	require.NoError(t, err)

	_, err = svc.Reprocess(ctx, "tenant1", resp.EventID)
	assert.ErrorIs(t, err, ErrAlreadyProcessed)

	_, err = svc.Reprocess(ctx, "tenant2", resp.EventID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestStatus(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()

	a, err := svc.Submit(ctx, "tenant1", pageView(), Client{})
	require.NoError(t, err)
	_, err = svc.Submit(ctx, "tenant1", pageView(), Client{})
	require.NoError(t, err)
	_, err = svc.Submit(ctx, "tenant2", pageView(), Client{})
	require.NoError(t, err)

	_, err = st.MarkProcessed(ctx, a.EventID, map[string]any{}, fixedTime())
	require.NoError(t, err)

	status, err := svc.Status(ctx, "tenant1")
	require.NoError(t, err)
	assert.Equal(t, Status{UnprocessedCount: 2, TotalCount: 2}, status)
}
