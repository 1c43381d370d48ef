// Package bot is the Telegram front end: it maps chat commands onto the
// read-only query facade and renders plots on demand. It never touches the
// store directly and runs concurrently with the sampling loop.
package bot

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/mweigel/dhtbot/botlog"
	"github.com/mweigel/dhtbot/plot"
	"github.com/mweigel/dhtbot/query"
	"github.com/mweigel/dhtbot/timerange"
)

const (
	updateTimeout = 60 // seconds, Telegram long poll

	// logLines is how many lines /log shows.
	logLines = 25
)

const helpText = `/show - Show last read data.
/plot - Plot recorded data.
/log - Show the last log lines.
/help - Show this help.`

type Config struct {
	Token    string
	OwnerIDs []int64
	PlotPath string
	PlotOpts plot.Options
	LogPath  string
}

type Bot struct {
	api    *tgbotapi.BotAPI
	cfg    Config
	facade query.Facade

	// now is replaced in tests.
	now func() time.Time
}

// New connects to the Telegram API and verifies the token.
func New(cfg Config, facade query.Facade) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("bot: %v", err)
	}

	return &Bot{
		api:    api,
		cfg:    cfg,
		facade: facade,
		now:    time.Now,
	}, nil
}

// Run processes updates until ctx is canceled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = updateTimeout
	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.CallbackQuery != nil {
				b.handleCallback(update.CallbackQuery)
			} else if update.Message != nil {
				b.handleMessage(update.Message)
			}
		}
	}
}

// NotifyOwners sends text to every owner. Failures are logged only; an
// owner who has blocked the bot must not take the process down.
func (b *Bot) NotifyOwners(text string) {
	for _, id := range b.cfg.OwnerIDs {
		if _, err := b.api.Send(tgbotapi.NewMessage(id, text)); err != nil {
			log.Printf("bot: failed to notify owner %d: %v", id, err)
		}
	}
}

func (b *Bot) isOwner(id int64) bool {
	for _, owner := range b.cfg.OwnerIDs {
		if id == owner {
			return true
		}
	}
	return false
}

func (b *Bot) handleMessage(msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	if !b.isOwner(msg.From.ID) {
		log.Printf("bot: message from unknown user %d: %q", msg.From.ID, msg.Text)
		b.reply(msg.Chat.ID, "I'm sorry, Dave. I'm afraid I can't do that.")
		return
	}

	log.Printf("bot: message from %d: %q", msg.From.ID, msg.Text)

	switch strings.ToLower(strings.TrimSpace(msg.Text)) {
	case "/start", "/help":
		b.reply(msg.Chat.ID, helpText)
	case "/show":
		b.commandShow(msg.Chat.ID)
	case "/plot":
		b.commandPlot(msg.Chat.ID)
	case "/log":
		b.commandLog(msg.Chat.ID)
	default:
		b.reply(msg.Chat.ID, "Unknown command.")
		log.Printf("bot: unknown command: %q", msg.Text)
	}
}

func (b *Bot) commandShow(chatID int64) {
	rec, ok := b.facade.Last()
	if !ok || rec.IsGap() {
		b.reply(chatID, "No data yet.")
		return
	}
	b.reply(chatID, rec.String())
}

func (b *Bot) commandPlot(chatID int64) {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, names := range timerange.Keyboard() {
		var row []tgbotapi.InlineKeyboardButton
		for _, name := range names {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(name, name))
		}
		rows = append(rows, row)
	}

	msg := tgbotapi.NewMessage(chatID, "Choose time range to plot:")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	if _, err := b.api.Send(msg); err != nil {
		log.Printf("bot: send failed: %v", err)
	}
}

func (b *Bot) commandLog(chatID int64) {
	lines, err := botlog.Tail(b.cfg.LogPath, logLines)
	if err != nil {
		log.Printf("bot: log tail failed: %v", err)
		b.reply(chatID, "Could not read the log.")
		return
	}
	if len(lines) == 0 {
		b.reply(chatID, "The log is empty.")
		return
	}
	b.reply(chatID, strings.Join(lines, "\n"))
}

func (b *Bot) handleCallback(q *tgbotapi.CallbackQuery) {
	// Callback queries must be answered even when no notification is
	// wanted, or some clients misbehave.
	if _, err := b.api.Request(tgbotapi.NewCallback(q.ID, "")); err != nil {
		log.Printf("bot: callback answer failed: %v", err)
	}

	if q.From == nil || !b.isOwner(q.From.ID) || q.Message == nil {
		return
	}

	r, err := timerange.Resolve(q.Data, b.now())
	if err != nil {
		b.reply(q.Message.Chat.ID, fmt.Sprintf("Unknown plot range: %s", q.Data))
		return
	}

	b.sendPlot(q.Message.Chat.ID, r)
}

func (b *Bot) sendPlot(chatID int64, r timerange.Range) {
	b.reply(chatID, fmt.Sprintf("Plotting from %s to %s.", formatBound(r.From, "start"), formatBound(r.To, "now")))

	snap, err := b.facade.Range(r.From, r.To)
	if err != nil {
		log.Printf("bot: range query failed: %v", err)
		b.reply(chatID, "Could not read recorded data.")
		return
	}
	if snap.Empty() {
		b.reply(chatID, "No data for this time range.")
		return
	}

	if err := plot.Render(snap.Records, b.cfg.PlotPath, b.cfg.PlotOpts); err != nil {
		log.Printf("bot: %v", err)
		b.reply(chatID, "Plotting failed.")
		return
	}
	defer os.Remove(b.cfg.PlotPath)

	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FilePath(b.cfg.PlotPath))
	photo.Caption = caption(snap)
	if _, err := b.api.Send(photo); err != nil {
		log.Printf("bot: failed to send plot: %v", err)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		log.Printf("bot: send failed: %v", err)
	}
}

const captionTimeFormat = "2006-01-02 15:04:05"

// caption summarizes a snapshot for the photo caption: covered interval and
// per-signal extremes with when they occurred.
func caption(snap query.Snapshot) string {
	first := snap.Records[0].Timestamp
	last := snap.Records[len(snap.Records)-1].Timestamp
	ts := snap.Stats.Temperature
	hs := snap.Stats.Humidity

	return fmt.Sprintf(
		"From %s to %s\n"+
			"Temperature:\n"+
			"  Minimum: %.2f °C at %s\n"+
			"  Maximum: %.2f °C at %s\n"+
			"Humidity:\n"+
			"  Minimum: %.2f %% at %s\n"+
			"  Maximum: %.2f %% at %s",
		first.Format(captionTimeFormat), last.Format(captionTimeFormat),
		ts.Min, ts.MinTime.Format(captionTimeFormat),
		ts.Max, ts.MaxTime.Format(captionTimeFormat),
		hs.Min, hs.MinTime.Format(captionTimeFormat),
		hs.Max, hs.MaxTime.Format(captionTimeFormat))
}

func formatBound(t time.Time, fallback string) string {
	if t.IsZero() {
		return fallback
	}
	return t.Format(captionTimeFormat)
}
