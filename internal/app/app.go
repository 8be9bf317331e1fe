package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/maaaruch/tg-pod-poll-bot/internal/domain"
	"github.com/maaaruch/tg-pod-poll-bot/internal/engine"
	"github.com/maaaruch/tg-pod-poll-bot/internal/render"
	"github.com/maaaruch/tg-pod-poll-bot/internal/service"
	"github.com/maaaruch/tg-pod-poll-bot/internal/storage"
)

// Telegram caps callback query answers at 200 characters.
const maxAlert = 200

const (
	msgFull       = "That option is full 🔒. Try another POD!"
	msgInGroup    = "You already hold a spot for this day. Remove it first to switch."
	msgFailed     = "Something went wrong, try again."
	msgPosted     = "✅ Poll posted."
	msgPostFailed = "Could not post the poll, check the logs."
)

// Bot is the part of *tgbotapi.BotAPI the app talks to.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Polls is what the app needs from the poll service.
type Polls interface {
	CreatePoll(ctx context.Context, publish service.PublishFunc) (storage.Record, error)
	Toggle(ctx context.Context, key, pollID, slotID string, voter service.Voter) (service.Result, error)
	Responses(ctx context.Context, key, pollID string) (domain.Poll, error)
}

type App struct {
	bot    Bot
	polls  Polls
	chatID int64
	logger *slog.Logger
}

func New(bot Bot, polls Polls, chatID int64, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		bot:    bot,
		polls:  polls,
		chatID: chatID,
		logger: logger,
	}
}

// Run handles updates one at a time until ctx is cancelled.
func (a *App) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := a.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return

		case update, ok := <-updates:
			if !ok {
				return
			}
			a.HandleUpdate(ctx, update)
		}
	}
}

func (a *App) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		a.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		a.handleCallback(ctx, update.CallbackQuery)
	}
}

// RegisterCommands publishes the bot's command list to Telegram.
func (a *App) RegisterCommands() error {
	cmds := tgbotapi.NewSetMyCommands(
		tgbotapi.BotCommand{Command: "poll", Description: "Post a new weekly availability poll"},
		tgbotapi.BotCommand{Command: "help", Description: "How the poll works"},
	)
	if _, err := a.bot.Request(cmds); err != nil {
		return fmt.Errorf("set my commands: %w", err)
	}
	return nil
}

// PostPoll starts a new round in the configured chat.
func (a *App) PostPoll(ctx context.Context) error {
	_, err := a.polls.CreatePoll(ctx, a.publish)
	return err
}

func (a *App) publish(_ context.Context, p domain.Poll) (string, error) {
	m := tgbotapi.NewMessage(a.chatID, render.Announcement(p.Capacity))
	m.ParseMode = tgbotapi.ModeHTML
	m.ReplyMarkup = render.Keyboard(p)

	sent, err := a.bot.Send(m)
	if err != nil {
		return "", err
	}
	return messageKey(sent.Chat.ID, sent.MessageID), nil
}

func messageKey(chatID int64, messageID int) string {
	return strconv.FormatInt(chatID, 10) + ":" + strconv.Itoa(messageID)
}

// ---------- Updates ----------

func (a *App) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || !msg.IsCommand() {
		return
	}

	switch msg.Command() {
	case "start", "help":
		text := "I post a weekly availability poll every week.\n\n" +
			"Tap a day to take a spot, tap it again to give the spot back. " +
			"When a day fills up a POD opens for it, and people in PODs move up " +
			"as soon as somebody leaves.\n\n" +
			"/poll – post a new poll right now"
		a.reply(msg.Chat.ID, text)

	case "poll":
		if err := a.PostPoll(ctx); err != nil {
			a.logger.Error("post poll", "error", err, "user", msg.From.ID)
			a.reply(msg.Chat.ID, msgPostFailed)
			return
		}
		if msg.Chat.ID != a.chatID {
			a.reply(msg.Chat.ID, msgPosted)
		}

	default:
		a.reply(msg.Chat.ID, "Unknown command. Try /help")
	}
}

func (a *App) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq.From == nil || cq.Message == nil || cq.Message.Chat == nil {
		a.answer(cq.ID, "", false)
		return
	}

	intent, err := render.ParseIntent(cq.Data)
	if err != nil {
		a.answer(cq.ID, "", false)
		return
	}
	key := messageKey(cq.Message.Chat.ID, cq.Message.MessageID)

	switch intent.Action {
	case render.ActionShow:
		a.handleShow(ctx, cq, key, intent)
	case render.ActionVote:
		a.handleVote(ctx, cq, key, intent)
	}
}

func (a *App) handleVote(ctx context.Context, cq *tgbotapi.CallbackQuery, key string, in render.Intent) {
	voter := service.Voter{ID: strconv.FormatInt(cq.From.ID, 10), Name: displayName(cq.From)}

	res, err := a.polls.Toggle(ctx, key, in.PollID, in.SlotID, voter)
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrCapacityExceeded):
		a.answer(cq.ID, msgFull, true)
		return
	case errors.Is(err, engine.ErrAlreadyInGroup):
		a.answer(cq.ID, msgInGroup, true)
		return
	case errors.Is(err, engine.ErrUnknownSlot),
		errors.Is(err, service.ErrStaleRound),
		errors.Is(err, service.ErrNoPoll):
		a.logger.Debug("ignoring vote", "reason", err, "key", key, "slot_id", in.SlotID)
		a.answer(cq.ID, "", false)
		return
	default:
		a.logger.Error("toggle vote", "error", err, "key", key, "slot_id", in.SlotID)
		a.answer(cq.ID, msgFailed, true)
		return
	}

	if res.Changed {
		edit := tgbotapi.NewEditMessageReplyMarkup(cq.Message.Chat.ID, cq.Message.MessageID, render.Keyboard(res.Poll))
		if _, err := a.bot.Request(edit); err != nil {
			a.logger.Error("refresh keyboard", "error", err, "key", key)
		}
	}

	switch {
	case res.Added:
		a.answer(cq.ID, "Vote added", false)
	case res.Removed:
		a.answer(cq.ID, "Vote removed", false)
	default:
		a.answer(cq.ID, "", false)
	}
}

func (a *App) handleShow(ctx context.Context, cq *tgbotapi.CallbackQuery, key string, in render.Intent) {
	p, err := a.polls.Responses(ctx, key, in.PollID)
	if err != nil {
		if !errors.Is(err, service.ErrStaleRound) && !errors.Is(err, service.ErrNoPoll) {
			a.logger.Error("load responses", "error", err, "key", key)
		}
		a.answer(cq.ID, "", false)
		return
	}

	// Only the person asking should see the list, so it goes to them
	// privately. That fails if they never started the bot; an alert is the
	// fallback.
	m := tgbotapi.NewMessage(cq.From.ID, render.Responses(p))
	m.ParseMode = tgbotapi.ModeHTML
	if _, err := a.bot.Send(m); err != nil {
		a.logger.Debug("private responses failed, falling back to alert", "error", err, "user", cq.From.ID)
		a.answer(cq.ID, render.Truncate(render.PlainResponses(p), maxAlert), true)
		return
	}
	a.answer(cq.ID, "Responses sent to you privately.", false)
}

func (a *App) answer(callbackID, text string, alert bool) {
	cfg := tgbotapi.NewCallback(callbackID, text)
	if alert {
		cfg = tgbotapi.NewCallbackWithAlert(callbackID, text)
	}
	if _, err := a.bot.Request(cfg); err != nil {
		a.logger.Warn("answer callback", "error", err)
	}
}

func (a *App) reply(chatID int64, text string) {
	if _, err := a.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		a.logger.Warn("send message", "error", err, "chat_id", chatID)
	}
}

func displayName(u *tgbotapi.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" && u.UserName != "" {
		name = "@" + u.UserName
	}
	return name
}
