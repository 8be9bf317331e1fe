package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/maaaruch/tg-pod-poll-bot/internal/domain"
	"github.com/maaaruch/tg-pod-poll-bot/internal/engine"
	"github.com/maaaruch/tg-pod-poll-bot/internal/storage"
)

var errBoom = errors.New("boom")

// flakyStore wraps a MemoryStore and lets tests inject failures.
type flakyStore struct {
	*storage.MemoryStore

	mu        sync.Mutex
	putErrs   []error
	deleteErr error
	beforePut func()
	putCalls  int
}

func (f *flakyStore) Put(ctx context.Context, key string, p domain.Poll, version int64) (int64, error) {
	f.mu.Lock()
	f.putCalls++
	hook := f.beforePut
	f.beforePut = nil
	var err error
	if len(f.putErrs) > 0 {
		err, f.putErrs = f.putErrs[0], f.putErrs[1:]
	}
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return 0, err
	}
	return f.MemoryStore.Put(ctx, key, p, version)
}

func (f *flakyStore) DeleteAll(ctx context.Context) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.MemoryStore.DeleteAll(ctx)
}

func newTestService(t *testing.T, capacity int, categories ...string) (*Service, *flakyStore) {
	t.Helper()
	store := &flakyStore{MemoryStore: storage.NewMemory()}
	svc := New(store, Options{Capacity: capacity, Categories: categories}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.now = func() time.Time { return time.Date(2026, 10, 11, 10, 0, 0, 0, time.UTC) }

	n := 0
	svc.newID = func() string {
		n++
		return fmt.Sprintf("round%d", n)
	}
	return svc, store
}

func publishAs(key string) PublishFunc {
	return func(context.Context, domain.Poll) (string, error) { return key, nil }
}

func TestCreatePoll_ReplacesPreviousRound(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, 4, "Monday", "Tuesday")

	first, err := svc.CreatePoll(ctx, publishAs("1:10"))
	require.NoError(t, err)
	require.Equal(t, "round1", first.Poll.ID)
	require.Len(t, first.Poll.Slots, 2)

	second, err := svc.CreatePoll(ctx, publishAs("1:11"))
	require.NoError(t, err)
	require.Equal(t, "round2", second.Poll.ID)

	_, err = store.Get(ctx, "1:10")
	require.ErrorIs(t, err, storage.ErrNotFound)

	cur, err := svc.Current(ctx)
	require.NoError(t, err)
	require.Equal(t, "1:11", cur.Key)
	require.Equal(t, "round2", cur.Poll.ID)
}

func TestCreatePoll_Failures(t *testing.T) {
	ctx := context.Background()

	svc, store := newTestService(t, 4, "Monday")
	store.deleteErr = errBoom
	_, err := svc.CreatePoll(ctx, publishAs("1:10"))
	require.ErrorIs(t, err, errBoom)

	svc, store = newTestService(t, 4, "Monday")
	_, err = svc.CreatePoll(ctx, func(context.Context, domain.Poll) (string, error) { return "", errBoom })
	require.ErrorIs(t, err, errBoom)
	_, err = store.Latest(ctx)
	require.ErrorIs(t, err, storage.ErrNotFound)

	svc, _ = newTestService(t, 4)
	_, err = svc.CreatePoll(ctx, publishAs("1:10"))
	require.ErrorIs(t, err, engine.ErrNoCategories)
}

func TestCreatePoll_ConcurrentCallsLeaveOneRound(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, 4, "Monday")

	entered := make(chan string, 2)
	release := make(chan struct{})
	var keys atomic.Int32
	publish := func(context.Context, domain.Poll) (string, error) {
		key := fmt.Sprintf("1:%d", 10+keys.Add(1))
		entered <- key
		<-release
		return key, nil
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreatePoll(ctx, publish)
			errs <- err
		}()
	}

	first := <-entered
	// the second creation must wait until the first one is stored
	require.Never(t, func() bool { return len(entered) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	second := <-entered

	_, err := store.Get(ctx, first)
	require.ErrorIs(t, err, storage.ErrNotFound)
	cur, err := svc.Current(ctx)
	require.NoError(t, err)
	require.Equal(t, second, cur.Key)
	require.Equal(t, "round2", cur.Poll.ID)
}

func TestNewPollID_FitsCallbackData(t *testing.T) {
	id := newPollID()
	require.Len(t, id, 32)
	require.NotEqual(t, id, newPollID())
}

func TestToggle_PersistsAndTracksNames(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, 2, "Monday")
	rec, err := svc.CreatePoll(ctx, publishAs("1:10"))
	require.NoError(t, err)
	monday := rec.Poll.Slots[0].ID

	res, err := svc.Toggle(ctx, "1:10", "round1", monday, Voter{ID: "7", Name: "Alice"})
	require.NoError(t, err)
	require.True(t, res.Added)
	require.True(t, res.Changed)
	require.Equal(t, "Alice", res.Poll.DisplayName("7"))

	res, err = svc.Toggle(ctx, "1:10", "round1", monday, Voter{ID: "8", Name: "Bob"})
	require.NoError(t, err)
	require.NotEmpty(t, res.Spawned)

	stored, err := store.Get(ctx, "1:10")
	require.NoError(t, err)
	require.EqualValues(t, 3, stored.Version)
	require.Equal(t, []string{"7", "8"}, stored.Poll.Slots[0].Votes)
	require.Len(t, stored.Poll.Slots, 2)

	res, err = svc.Toggle(ctx, "1:10", "round1", monday, Voter{ID: "7", Name: "Alice"})
	require.NoError(t, err)
	require.True(t, res.Removed)
	require.NotContains(t, res.Poll.Names, "7")
	require.Len(t, res.Poll.Slots, 1)
}

func TestToggle_EngineRejectionsLeaveStoreUntouched(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, 1, "Monday")
	rec, err := svc.CreatePoll(ctx, publishAs("1:10"))
	require.NoError(t, err)
	monday := rec.Poll.Slots[0].ID

	_, err = svc.Toggle(ctx, "1:10", "round1", monday, Voter{ID: "a"})
	require.NoError(t, err)

	res, err := svc.Toggle(ctx, "1:10", "round1", monday, Voter{ID: "b"})
	require.ErrorIs(t, err, engine.ErrCapacityExceeded)
	require.Equal(t, []string{"a"}, res.Poll.Slots[0].Votes)

	_, err = svc.Toggle(ctx, "1:10", "round1", "gone", Voter{ID: "b"})
	require.ErrorIs(t, err, engine.ErrUnknownSlot)

	stored, err := store.Get(ctx, "1:10")
	require.NoError(t, err)
	require.EqualValues(t, 2, stored.Version)
}

func TestToggle_StaleAndMissingRounds(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, 4, "Monday")
	rec, err := svc.CreatePoll(ctx, publishAs("1:10"))
	require.NoError(t, err)
	monday := rec.Poll.Slots[0].ID

	_, err = svc.Toggle(ctx, "1:10", "round0", monday, Voter{ID: "a"})
	require.ErrorIs(t, err, ErrStaleRound)

	_, err = svc.Toggle(ctx, "1:99", "round1", monday, Voter{ID: "a"})
	require.ErrorIs(t, err, ErrNoPoll)

	_, err = svc.Responses(ctx, "1:10", "round0")
	require.ErrorIs(t, err, ErrStaleRound)

	p, err := svc.Responses(ctx, "1:10", "round1")
	require.NoError(t, err)
	require.Equal(t, "round1", p.ID)
}

func TestToggle_RetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, 4, "Monday")
	rec, err := svc.CreatePoll(ctx, publishAs("1:10"))
	require.NoError(t, err)
	monday := rec.Poll.Slots[0].ID

	// another process votes between our load and our write
	store.beforePut = func() {
		cur, err := store.MemoryStore.Get(ctx, "1:10")
		require.NoError(t, err)
		out, err := engine.Toggle(cur.Poll, monday, "other")
		require.NoError(t, err)
		_, err = store.MemoryStore.Put(ctx, "1:10", out.Poll, cur.Version)
		require.NoError(t, err)
	}

	res, err := svc.Toggle(ctx, "1:10", "round1", monday, Voter{ID: "me"})
	require.NoError(t, err)
	require.Equal(t, []string{"other", "me"}, res.Poll.Slots[0].Votes)

	stored, err := store.Get(ctx, "1:10")
	require.NoError(t, err)
	require.Equal(t, []string{"other", "me"}, stored.Poll.Slots[0].Votes)
}

func TestToggle_GivesUpAfterRepeatedConflicts(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, 4, "Monday")
	rec, err := svc.CreatePoll(ctx, publishAs("1:10"))
	require.NoError(t, err)

	store.putErrs = []error{storage.ErrConflict, storage.ErrConflict, storage.ErrConflict}
	_, err = svc.Toggle(ctx, "1:10", "round1", rec.Poll.Slots[0].ID, Voter{ID: "me"})
	require.ErrorIs(t, err, storage.ErrConflict)
	require.Equal(t, 1+maxAttempts, store.putCalls)
}

func TestToggle_StoreFailureCommitsNothing(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, 4, "Monday")
	rec, err := svc.CreatePoll(ctx, publishAs("1:10"))
	require.NoError(t, err)

	store.putErrs = []error{errBoom}
	_, err = svc.Toggle(ctx, "1:10", "round1", rec.Poll.Slots[0].ID, Voter{ID: "me"})
	require.ErrorIs(t, err, errBoom)

	stored, err := store.Get(ctx, "1:10")
	require.NoError(t, err)
	require.Empty(t, stored.Poll.Slots[0].Votes)
	require.EqualValues(t, 1, stored.Version)
}

func TestToggle_ConcurrentVotersAllLand(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, 3, "Monday")
	rec, err := svc.CreatePoll(ctx, publishAs("1:10"))
	require.NoError(t, err)
	monday := rec.Poll.Slots[0].ID

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Toggle(ctx, "1:10", "round1", monday, Voter{ID: fmt.Sprint(i)})
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()

	stored, err := store.Get(ctx, "1:10")
	require.NoError(t, err)
	require.Len(t, stored.Poll.Slots[0].Votes, 3)
	require.Len(t, stored.Poll.Slots, 2)
}

func TestCurrent_NoPoll(t *testing.T) {
	svc, _ := newTestService(t, 4, "Monday")
	_, err := svc.Current(context.Background())
	require.ErrorIs(t, err, ErrNoPoll)
}
