// Package engine holds the slot capacity rules of a poll: how a vote toggle
// changes slots, when an overflow pod is spawned and how pods drain back into
// their base slot when spots free up.
//
// Every function here is pure. Toggle works on a copy of the poll it is given,
// so callers can drop the result on a failed write without undoing anything.
package engine

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/maaaruch/tg-pod-poll-bot/internal/domain"
)

// DefaultCapacity is the number of voters a slot holds before it locks.
const DefaultCapacity = 4

var (
	ErrUnknownSlot       = errors.New("unknown slot")
	ErrCapacityExceeded  = errors.New("slot is full")
	ErrAlreadyInGroup    = errors.New("voter already holds a spot in this category")
	ErrNoCategories      = errors.New("poll needs at least one category")
	ErrDuplicateCategory = errors.New("duplicate category")
	ErrInvalidCapacity   = errors.New("capacity must be positive")
)

// Outcome is the result of a successful toggle.
type Outcome struct {
	Poll    domain.Poll
	Added   bool
	Removed bool
	// Spawned is the id of the overflow slot created by this toggle, if any.
	Spawned string
	// Changed is true when the poll differs from the input and has to be
	// re-rendered and stored.
	Changed bool
}

// NewPoll builds a fresh round with one empty base slot per category.
func NewPoll(id string, capacity int, categories []string, now time.Time) (domain.Poll, error) {
	if capacity < 1 {
		return domain.Poll{}, ErrInvalidCapacity
	}
	if len(categories) == 0 {
		return domain.Poll{}, ErrNoCategories
	}

	p := domain.Poll{
		ID:        id,
		Capacity:  capacity,
		Slots:     make([]domain.Slot, 0, len(categories)),
		Names:     make(map[string]string),
		CreatedAt: now,
	}
	seen := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		c = strings.TrimSpace(c)
		if c == "" {
			return domain.Poll{}, fmt.Errorf("%w: empty name", ErrNoCategories)
		}
		if _, dup := seen[c]; dup {
			return domain.Poll{}, fmt.Errorf("%w: %q", ErrDuplicateCategory, c)
		}
		seen[c] = struct{}{}

		p.Clock++
		p.Slots = append(p.Slots, domain.Slot{
			ID:        slotID(p.Clock),
			Kind:      domain.KindBase,
			Category:  c,
			CreatedAt: p.Clock,
			Votes:     []string{},
		})
	}
	return p, nil
}

// Toggle adds voterID to the slot or, when the voter is already there,
// removes them and drains the category's pods back into its base slot.
//
// On error the returned Outcome holds the untouched input poll.
func Toggle(p domain.Poll, slotID, voterID string) (Outcome, error) {
	idx := p.SlotIndex(slotID)
	if idx < 0 {
		return Outcome{Poll: p}, ErrUnknownSlot
	}

	next := p.Clone()
	slot := &next.Slots[idx]
	category := slot.Category

	if pos := slot.VoteIndex(voterID); pos >= 0 {
		slot.Votes = slices.Delete(slot.Votes, pos, pos+1)
		Rebalance(&next, category)
		return Outcome{Poll: next, Removed: true, Changed: true}, nil
	}

	if slot.Locked(next.Capacity) {
		return Outcome{Poll: p}, ErrCapacityExceeded
	}
	if next.HolderOf(category, voterID) >= 0 {
		return Outcome{Poll: p}, ErrAlreadyInGroup
	}

	slot.Votes = append(slot.Votes, voterID)
	out := Outcome{Poll: next, Added: true, Changed: true}
	if slot.Locked(next.Capacity) {
		out.Spawned = spawn(&out.Poll, category)
	}
	return out, nil
}

// Rebalance moves voters from the category's pods, oldest pod first, into
// free spots of its base slot and deletes every pod it empties. It stops at
// the first pod left over once the base slot is full again. Voters never move
// from the base slot into a pod.
//
// Empty pods the walk did not reach are deleted too, as long as another slot
// of the category still has room.
//
// Reports whether any voter moved or any slot was deleted.
func Rebalance(p *domain.Poll, category string) bool {
	bi := p.BaseIndex(category)
	if bi < 0 {
		return false
	}

	var pods []int
	for _, i := range p.Group(category) {
		if p.Slots[i].Overflow() {
			pods = append(pods, i)
		}
	}
	slices.SortStableFunc(pods, func(a, b int) int {
		return cmp.Compare(p.Slots[a].CreatedAt, p.Slots[b].CreatedAt)
	})

	base := &p.Slots[bi]
	changed := false
	drop := make(map[string]struct{})
	for _, i := range pods {
		pod := &p.Slots[i]
		for len(base.Votes) < p.Capacity && len(pod.Votes) > 0 {
			base.Votes = append(base.Votes, pod.Votes[0])
			pod.Votes = pod.Votes[1:]
			changed = true
		}
		if len(pod.Votes) == 0 {
			drop[pod.ID] = struct{}{}
			changed = true
		}
		if len(base.Votes) >= p.Capacity {
			break
		}
	}

	for _, i := range pods {
		pod := p.Slots[i]
		if _, gone := drop[pod.ID]; gone || len(pod.Votes) > 0 {
			continue
		}
		if hasRoom(p, category, drop, pod.ID) {
			drop[pod.ID] = struct{}{}
			changed = true
		}
	}

	if len(drop) > 0 {
		p.Slots = slices.DeleteFunc(p.Slots, func(s domain.Slot) bool {
			_, ok := drop[s.ID]
			return ok
		})
	}
	return changed
}

// hasRoom reports whether a slot of the category other than except, and not
// about to be dropped, can take another voter.
func hasRoom(p *domain.Poll, category string, drop map[string]struct{}, except string) bool {
	for _, i := range p.Group(category) {
		s := p.Slots[i]
		if _, gone := drop[s.ID]; gone || s.ID == except {
			continue
		}
		if !s.Locked(p.Capacity) {
			return true
		}
	}
	return false
}

// spawn appends a new empty pod right after the category's last slot and
// returns its id. Its ordinal follows the highest one already in the group,
// the base slot counting as 1st.
func spawn(p *domain.Poll, category string) string {
	group := p.Group(category)
	ordinal := 1
	for _, i := range group {
		if o := p.Slots[i].Ordinal; p.Slots[i].Overflow() && o > ordinal {
			ordinal = o
		}
	}

	p.Clock++
	s := domain.Slot{
		ID:        slotID(p.Clock),
		Kind:      domain.KindOverflow,
		Category:  category,
		Ordinal:   ordinal + 1,
		CreatedAt: p.Clock,
		Votes:     []string{},
	}
	p.Slots = slices.Insert(p.Slots, group[len(group)-1]+1, s)
	return s.ID
}

func slotID(tick uint64) string {
	return "s" + strconv.FormatUint(tick, 36)
}
