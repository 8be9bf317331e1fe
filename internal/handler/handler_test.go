package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/maaaruch/tg-pod-poll-bot/internal/domain"
	"github.com/maaaruch/tg-pod-poll-bot/internal/engine"
	"github.com/maaaruch/tg-pod-poll-bot/internal/service"
	"github.com/maaaruch/tg-pod-poll-bot/internal/storage"
)

type stubPolls struct {
	rec storage.Record
	err error
}

func (s stubPolls) Current(context.Context) (storage.Record, error) { return s.rec, s.err }

func serve(t *testing.T, polls Current, path string) *httptest.ResponseRecorder {
	t.Helper()
	h := New(polls, slog.New(slog.NewTextHandler(io.Discard, nil)))
	rr := httptest.NewRecorder()
	h.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestIndex(t *testing.T) {
	rr := serve(t, stubPolls{}, "/")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "poll bot is running", rr.Body.String())
}

func TestHealth(t *testing.T) {
	rr := serve(t, stubPolls{}, "/health")
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestPoll_NoActivePoll(t *testing.T) {
	rr := serve(t, stubPolls{err: service.ErrNoPoll}, "/poll")
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.JSONEq(t, `{"error":"no active poll"}`, rr.Body.String())
}

func TestPoll_StoreFailure(t *testing.T) {
	rr := serve(t, stubPolls{err: errors.New("disk on fire")}, "/poll")
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.NotContains(t, rr.Body.String(), "disk")
}

func TestPoll_ReturnsViews(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	p, err := engine.NewPoll("abc", 1, []string{"Monday", "Tuesday"}, now)
	require.NoError(t, err)
	out, err := engine.Toggle(p, p.Slots[0].ID, "1")
	require.NoError(t, err)

	rr := serve(t, stubPolls{rec: storage.Record{Key: "-1:42", Poll: out.Poll, Version: 2, UpdatedAt: now}}, "/poll")
	require.Equal(t, http.StatusOK, rr.Code)

	var body PollResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "-1:42", body.Key)
	require.Equal(t, "abc", body.PollID)
	require.Equal(t, 1, body.Capacity)
	require.Len(t, body.Slots, 3)
	require.Equal(t, "Monday", body.Slots[0].Label)
	require.True(t, body.Slots[0].Locked)
	require.Equal(t, "Monday 2nd pod", body.Slots[1].Label)
	require.True(t, body.Slots[1].Overflow)
	require.True(t, now.Equal(body.UpdatedAt))
}

func TestPoll_WithMemoryService(t *testing.T) {
	svc := service.New(storage.NewMemory(), service.Options{Capacity: 4, Categories: []string{"Monday"}}, nil)
	rr := serve(t, svc, "/poll")
	require.Equal(t, http.StatusNotFound, rr.Code)

	_, err := svc.CreatePoll(context.Background(), func(context.Context, domain.Poll) (string, error) { return "-1:7", nil })
	require.NoError(t, err)

	rr = serve(t, svc, "/poll")
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestUnknownRoute(t *testing.T) {
	rr := serve(t, stubPolls{}, "/nope")
	require.Equal(t, http.StatusNotFound, rr.Code)
}
