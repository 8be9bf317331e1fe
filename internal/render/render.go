// Package render turns a poll into what Telegram shows: the announcement,
// the inline keyboard with one button per slot and the list of responses.
// It also encodes and decodes the callback data the buttons carry.
package render

import (
	"errors"
	"fmt"
	"html"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/maaaruch/tg-pod-poll-bot/internal/domain"
)

const (
	buttonsPerRow = 3
	// maxCallbackData is Telegram's limit for InlineKeyboardButton.callback_data.
	maxCallbackData = 64
)

// Actions a button can carry.
const (
	ActionVote = "vote"
	ActionShow = "show"
)

var ErrMalformedIntent = errors.New("malformed callback data")

// SlotView is what the keyboard needs to know about a slot.
type SlotView struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Votes    int    `json:"votes"`
	Capacity int    `json:"capacity"`
	Locked   bool   `json:"locked"`
	Overflow bool   `json:"overflow"`
}

func Views(p domain.Poll) []SlotView {
	views := make([]SlotView, 0, len(p.Slots))
	for _, s := range p.Slots {
		views = append(views, SlotView{
			ID:       s.ID,
			Label:    s.Label(),
			Votes:    len(s.Votes),
			Capacity: p.Capacity,
			Locked:   s.Locked(p.Capacity),
			Overflow: s.Overflow(),
		})
	}
	return views
}

// Intent is a decoded button press.
type Intent struct {
	Action string
	PollID string
	SlotID string
}

func VoteData(pollID, slotID string) string { return ActionVote + ":" + pollID + ":" + slotID }

func ShowData(pollID string) string { return ActionShow + ":" + pollID }

func ParseIntent(data string) (Intent, error) {
	if len(data) > maxCallbackData {
		return Intent{}, ErrMalformedIntent
	}
	parts := strings.Split(data, ":")
	switch {
	case len(parts) == 3 && parts[0] == ActionVote && parts[1] != "" && parts[2] != "":
		return Intent{Action: ActionVote, PollID: parts[1], SlotID: parts[2]}, nil
	case len(parts) == 2 && parts[0] == ActionShow && parts[1] != "":
		return Intent{Action: ActionShow, PollID: parts[1]}, nil
	default:
		return Intent{}, ErrMalformedIntent
	}
}

// ButtonText is "Monday (2/4)", with a lock once the slot is full and a
// marker in front of pods.
func ButtonText(v SlotView) string {
	var sb strings.Builder
	if v.Overflow {
		sb.WriteString("🟢 ")
	}
	fmt.Fprintf(&sb, "%s (%d/%d)", v.Label, v.Votes, v.Capacity)
	if v.Locked {
		sb.WriteString(" 🔒")
	}
	return sb.String()
}

func Keyboard(p domain.Poll) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for _, v := range Views(p) {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(ButtonText(v), VoteData(p.ID, v.ID)))
		if len(row) == buttonsPerRow {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(row...))
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(row...))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("📋 Show Responses", ShowData(p.ID)),
	))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// Announcement is the text of the poll message.
func Announcement(capacity int) string {
	return "📊 <b>Weekly Availability Poll</b>\n" +
		"———————————————\n" +
		"What day(s) work for you this week?\n\n" +
		"✅ Tap a button to vote.\n" +
		"↩️ Tap it again to remove your vote.\n" +
		fmt.Sprintf("🔒 A slot locks at %d votes and another POD for that day opens.", capacity)
}

// Responses lists the voters of every slot as HTML.
func Responses(p domain.Poll) string {
	var sb strings.Builder
	for i, s := range p.Slots {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "<b>%s</b> (%d/%d) → ", html.EscapeString(s.Label()), len(s.Votes), p.Capacity)
		if len(s.Votes) == 0 {
			sb.WriteString("—")
			continue
		}
		for j, id := range s.Votes {
			if j > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(Mention(id, p.DisplayName(id)))
		}
	}
	return sb.String()
}

// PlainResponses is Responses without markup, for alerts.
func PlainResponses(p domain.Poll) string {
	var sb strings.Builder
	for i, s := range p.Slots {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "%s (%d/%d): ", s.Label(), len(s.Votes), p.Capacity)
		if len(s.Votes) == 0 {
			sb.WriteString("—")
			continue
		}
		names := make([]string, 0, len(s.Votes))
		for _, id := range s.Votes {
			names = append(names, p.DisplayName(id))
		}
		sb.WriteString(strings.Join(names, ", "))
	}
	return sb.String()
}

// Mention links a Telegram user by numeric id.
func Mention(userID, name string) string {
	return fmt.Sprintf(`<a href="tg://user?id=%s">%s</a>`, html.EscapeString(userID), html.EscapeString(name))
}

// Truncate cuts s to at most n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
