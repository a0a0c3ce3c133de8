package tasks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDispatchDueDeliversTask(t *testing.T) {
	var gotSecret atomic.Value
	var gotBody atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSecret.Store(r.Header.Get("X-Task-Secret"))
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotBody.Store(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	q, _ := setupQueue(t, 0)
	d := NewDispatcher(q, server.URL, "s3cret", time.Second, 3, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, q.EnqueueDoseVerification(ctx, "dev-1", "p1"))
	require.NoError(t, d.DispatchDue(ctx))

	assert.Equal(t, "s3cret", gotSecret.Load())
	body, ok := gotBody.Load().(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "dev-1", body["deviceId"])
	assert.Equal(t, "p1", body["userID"])

	// delivered task does not come back
	due, err := q.PopDue(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestDispatchDueRequeuesOnServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	q, _ := setupQueue(t, 0)
	d := NewDispatcher(q, server.URL, "", time.Second, 3, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, q.EnqueueDoseVerification(ctx, "dev-1", "p1"))
	require.NoError(t, d.DispatchDue(ctx))

	due, err := q.PopDue(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 1, due[0].Attempts)
}

func TestDispatchDueDropsAfterMaxAttempts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	q, _ := setupQueue(t, 0)
	d := NewDispatcher(q, server.URL, "", time.Second, 2, zap.NewNop())
	ctx := context.Background()

	// already failed once; next failure exhausts the budget
	require.NoError(t, q.Requeue(ctx, Payload{DeviceID: "dev-1", PatientID: "p1"}, 0))
	require.NoError(t, d.DispatchDue(ctx))

	due, err := q.PopDue(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestDispatchDueDropsRejectedTask(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	q, _ := setupQueue(t, 0)
	d := NewDispatcher(q, server.URL, "wrong", time.Second, 3, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, q.EnqueueDoseVerification(ctx, "dev-1", "p1"))
	require.NoError(t, d.DispatchDue(ctx))

	// 4xx is terminal: no requeue, no retry
	assert.Equal(t, int32(1), calls.Load())
	due, err := q.PopDue(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, due)
}
