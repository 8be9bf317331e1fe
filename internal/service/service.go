// Package service runs poll rounds on top of the capacity engine: it creates
// rounds, applies vote toggles and persists the result, one toggle at a time
// per poll.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maaaruch/tg-pod-poll-bot/internal/domain"
	"github.com/maaaruch/tg-pod-poll-bot/internal/engine"
	"github.com/maaaruch/tg-pod-poll-bot/internal/session"
	"github.com/maaaruch/tg-pod-poll-bot/internal/storage"
)

const maxAttempts = 3

var (
	// ErrNoPoll means nothing is stored under the interaction's key.
	ErrNoPoll = errors.New("no poll for this message")
	// ErrStaleRound means the stored poll belongs to a newer round than the
	// one the interaction was rendered for.
	ErrStaleRound = errors.New("poll round was replaced")
)

// Store is the persistence the service needs; see package storage.
type Store interface {
	Get(ctx context.Context, key string) (storage.Record, error)
	Latest(ctx context.Context) (storage.Record, error)
	Put(ctx context.Context, key string, p domain.Poll, version int64) (int64, error)
	DeleteAll(ctx context.Context) error
}

// PublishFunc posts a fresh poll and returns the key it is stored under.
type PublishFunc func(ctx context.Context, p domain.Poll) (string, error)

type Options struct {
	Capacity   int
	Categories []string
}

type Voter struct {
	ID   string
	Name string
}

// Result of a successful toggle.
type Result struct {
	Poll    domain.Poll
	Added   bool
	Removed bool
	Spawned string
	Changed bool
}

type Service struct {
	// createMu serializes CreatePoll so at most one round is ever stored.
	createMu sync.Mutex
	store    Store
	sessions *session.Manager
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

func New(store Store, opts Options, logger *slog.Logger) *Service {
	if opts.Capacity == 0 {
		opts.Capacity = engine.DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		sessions: session.NewManager(),
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		newID:    newPollID,
	}
}

// newPollID is a uuid without dashes so that it fits, together with a slot
// id, into 64 bytes of Telegram callback data.
func newPollID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// CreatePoll starts a new round. Only one round is active at a time, so every
// stored poll is deleted before the new one is built and published.
func (s *Service) CreatePoll(ctx context.Context, publish PublishFunc) (storage.Record, error) {
	s.createMu.Lock()
	defer s.createMu.Unlock()

	if err := s.store.DeleteAll(ctx); err != nil {
		return storage.Record{}, fmt.Errorf("retire previous rounds: %w", err)
	}
	s.sessions.Reset()

	p, err := engine.NewPoll(s.newID(), s.opts.Capacity, s.opts.Categories, s.now().UTC())
	if err != nil {
		return storage.Record{}, fmt.Errorf("build poll: %w", err)
	}

	key, err := publish(ctx, p)
	if err != nil {
		return storage.Record{}, fmt.Errorf("publish poll %s: %w", p.ID, err)
	}

	version, err := s.store.Put(ctx, key, p, 0)
	if err != nil {
		return storage.Record{}, fmt.Errorf("store poll %s: %w", p.ID, err)
	}

	s.logger.Info("poll created", "poll_id", p.ID, "key", key, "slots", len(p.Slots))
	return storage.Record{Key: key, Poll: p, Version: version}, nil
}

// Toggle applies a vote toggle of voter on slotID to the poll stored under
// key. Concurrent writers from other processes are detected by the store's
// version check; the toggle is then replayed on the fresh state.
//
// Engine errors (engine.ErrUnknownSlot, engine.ErrCapacityExceeded,
// engine.ErrAlreadyInGroup) are returned as is, together with the current poll.
func (s *Service) Toggle(ctx context.Context, key, pollID, slotID string, voter Voter) (Result, error) {
	sess := s.sessions.Get(key)
	sess.Lock()
	defer sess.Unlock()

	for attempt := 1; ; attempt++ {
		rec, err := s.load(ctx, key, pollID)
		if err != nil {
			return Result{}, err
		}

		out, err := engine.Toggle(rec.Poll, slotID, voter.ID)
		if err != nil {
			return Result{Poll: rec.Poll}, err
		}

		next := out.Poll
		if out.Added && voter.Name != "" {
			if next.Names == nil {
				next.Names = make(map[string]string)
			}
			next.Names[voter.ID] = voter.Name
		}
		if out.Removed {
			next.ForgetAbsentNames()
		}

		_, err = s.store.Put(ctx, key, next, rec.Version)
		if errors.Is(err, storage.ErrConflict) && attempt < maxAttempts {
			s.logger.Warn("poll changed underneath, retrying", "key", key, "attempt", attempt)
			continue
		}
		if err != nil {
			return Result{}, fmt.Errorf("store poll %s: %w", pollID, err)
		}

		s.logger.Debug("vote toggled",
			"poll_id", pollID,
			"slot_id", slotID,
			"voter", voter.ID,
			"added", out.Added,
			"spawned", out.Spawned,
		)
		return Result{
			Poll:    next,
			Added:   out.Added,
			Removed: out.Removed,
			Spawned: out.Spawned,
			Changed: out.Changed,
		}, nil
	}
}

// Responses returns the poll stored under key for listing its voters.
func (s *Service) Responses(ctx context.Context, key, pollID string) (domain.Poll, error) {
	rec, err := s.load(ctx, key, pollID)
	if err != nil {
		return domain.Poll{}, err
	}
	return rec.Poll, nil
}

// Current returns the most recently written poll.
func (s *Service) Current(ctx context.Context) (storage.Record, error) {
	rec, err := s.store.Latest(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Record{}, ErrNoPoll
	}
	return rec, err
}

func (s *Service) load(ctx context.Context, key, pollID string) (storage.Record, error) {
	rec, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Record{}, ErrNoPoll
		}
		return storage.Record{}, fmt.Errorf("load poll: %w", err)
	}
	if rec.Poll.ID != pollID {
		return storage.Record{}, ErrStaleRound
	}
	return rec, nil
}
