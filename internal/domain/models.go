package domain

import (
	"maps"
	"slices"
	"strconv"
	"time"
)

// Kind tells a category's base slot apart from the overflow ("pod") slots
// spawned for it.
type Kind uint8

const (
	KindBase Kind = iota
	KindOverflow
)

func (k Kind) String() string {
	switch k {
	case KindBase:
		return "base"
	case KindOverflow:
		return "overflow"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Slot is one votable bucket of a poll.
type Slot struct {
	ID       string `json:"id"`
	Kind     Kind   `json:"kind"`
	Category string `json:"category"`
	// Ordinal is 0 for base slots. Overflow slots get theirs at spawn time
	// and keep it for life.
	Ordinal   int      `json:"ordinal,omitempty"`
	CreatedAt uint64   `json:"created_at"`
	Votes     []string `json:"votes"`
}

func (s Slot) Overflow() bool { return s.Kind == KindOverflow }

// Locked reports whether the slot holds exactly capacity voters.
func (s Slot) Locked(capacity int) bool { return len(s.Votes) == capacity }

// Label is the text shown to voters: "Monday" or "Monday 2nd pod".
func (s Slot) Label() string {
	if !s.Overflow() {
		return s.Category
	}
	return s.Category + " " + Ordinal(s.Ordinal) + " pod"
}

func (s Slot) VoteIndex(voterID string) int {
	return slices.Index(s.Votes, voterID)
}

// Poll is one voting round.
type Poll struct {
	ID       string `json:"id"`
	Capacity int    `json:"capacity"`
	// Clock is the logical clock handing out Slot.CreatedAt values. It is
	// always greater than or equal to every slot's CreatedAt.
	Clock     uint64            `json:"clock"`
	Slots     []Slot            `json:"slots"`
	Names     map[string]string `json:"names,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Clone returns a deep copy of the poll.
func (p Poll) Clone() Poll {
	c := p
	c.Slots = make([]Slot, len(p.Slots))
	for i, s := range p.Slots {
		s.Votes = slices.Clone(s.Votes)
		c.Slots[i] = s
	}
	c.Names = maps.Clone(p.Names)
	return c
}

func (p Poll) SlotIndex(id string) int {
	for i, s := range p.Slots {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// BaseIndex returns the index of the category's base slot, or -1.
func (p Poll) BaseIndex(category string) int {
	for i, s := range p.Slots {
		if s.Category == category && !s.Overflow() {
			return i
		}
	}
	return -1
}

// Group returns the indexes of every slot of the category in presentation order.
func (p Poll) Group(category string) []int {
	var idx []int
	for i, s := range p.Slots {
		if s.Category == category {
			idx = append(idx, i)
		}
	}
	return idx
}

// HolderOf returns the index of the slot in the category where voterID
// currently holds a spot, or -1.
func (p Poll) HolderOf(category, voterID string) int {
	for _, i := range p.Group(category) {
		if p.Slots[i].VoteIndex(voterID) >= 0 {
			return i
		}
	}
	return -1
}

// Voted reports whether voterID holds a spot anywhere in the poll.
func (p Poll) Voted(voterID string) bool {
	for _, s := range p.Slots {
		if s.VoteIndex(voterID) >= 0 {
			return true
		}
	}
	return false
}

// DisplayName falls back to the raw voter id when no name is known.
func (p Poll) DisplayName(voterID string) string {
	if n := p.Names[voterID]; n != "" {
		return n
	}
	return voterID
}

// ForgetAbsentNames drops names of voters that no longer hold any spot.
func (p *Poll) ForgetAbsentNames() {
	for id := range p.Names {
		if !p.Voted(id) {
			delete(p.Names, id)
		}
	}
}
