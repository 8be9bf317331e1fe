package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/maaaruch/tg-pod-poll-bot/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned by Put when the stored version moved on since
	// the caller loaded it.
	ErrConflict = errors.New("version conflict")
)

// Record is a stored poll together with the key it is filed under, usually
// "<chat id>:<message id>" of the message carrying the poll.
type Record struct {
	Key       string
	Poll      domain.Poll
	Version   int64
	UpdatedAt time.Time
}

func encodePoll(p domain.Poll) ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode poll %s: %w", p.ID, err)
	}
	return b, nil
}

func decodePoll(b []byte) (domain.Poll, error) {
	var p domain.Poll
	if err := json.Unmarshal(b, &p); err != nil {
		return domain.Poll{}, fmt.Errorf("decode poll: %w", err)
	}
	return p, nil
}
