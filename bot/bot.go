package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"

	"clubotel-scraper/daterange"
	"clubotel-scraper/models"
	"clubotel-scraper/scheduler"
	"clubotel-scraper/table"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// MaxMessageLength is Telegram's limit for one text message
const MaxMessageLength = 4096

const helpText = "Commands:\n" +
	"/prices - Show the price table\n" +
	"/refresh [fast] [force] [start end] - Scrape missing or stale stays\n" +
	"/progress - Show the current run\n" +
	"/help - Show this help"

// sender is the part of the Telegram API the bot needs
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Options configures a Bot
type Options struct {
	AllowedUserIDs []int64
	NotifyChatID   int64
	Filter         *table.Filter
}

// Bot answers price commands over Telegram
type Bot struct {
	client    *tgbotapi.BotAPI
	api       sender
	scheduler *scheduler.Scheduler
	allowed   map[int64]bool
	notify    int64
	filter    *table.Filter
	logger    *slog.Logger

	mu      sync.Mutex
	waiting map[int64]bool // chats that asked for a refresh
}

// New connects to Telegram and registers the bot as a refresh hook
func New(token string, s *scheduler.Scheduler, opts Options, logger *slog.Logger) (*Bot, error) {
	client, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize bot: %w", err)
	}
	b := newBot(client, s, opts, logger)
	b.client = client
	b.logger.Info("Authorized on Telegram", "account", client.Self.UserName)
	return b, nil
}

func newBot(api sender, s *scheduler.Scheduler, opts Options, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[int64]bool, len(opts.AllowedUserIDs))
	for _, id := range opts.AllowedUserIDs {
		allowed[id] = true
	}
	b := &Bot{
		api:       api,
		scheduler: s,
		allowed:   allowed,
		notify:    opts.NotifyChatID,
		filter:    opts.Filter,
		logger:    logger.With("component", "bot"),
		waiting:   make(map[int64]bool),
	}
	s.OnComplete(b.NotifyComplete)
	s.OnFailure(b.NotifyFailure)
	return b
}

// Run polls for updates until ctx is cancelled
func (b *Bot) Run(ctx context.Context) error {
	if b.client == nil {
		return errors.New("telegram client not configured")
	}

	if b.notify != 0 {
		b.reply(b.notify, "🚀 Price bot started")
	}

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updateConfig.Offset = -1 // skip updates sent while we were down

	updates := b.client.GetUpdatesChan(updateConfig)
	defer b.client.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.handleUpdate(ctx, update)
		}
	}
}

// Authorized reports whether userID may use the bot. An empty allow-list
// admits nobody.
func (b *Bot) Authorized(userID int64) bool {
	return b.allowed[userID]
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}
	chatID := msg.Chat.ID
	userID := msg.From.ID

	if !b.Authorized(userID) {
		b.logger.Warn("Unauthorized user", "user_id", userID)
		b.reply(chatID, "Sorry, you are not authorized to use this bot.")
		return
	}
	if !msg.IsCommand() {
		b.reply(chatID, "Unknown command. Use /help for available commands.")
		return
	}

	command := msg.Command()
	b.logger.Debug("Command received", "user_id", userID, "command", command)

	switch command {
	case "start":
		b.reply(chatID, "Welcome! I track the lowest Clubotel prices for upcoming stays.\n\n"+helpText)
	case "help":
		b.reply(chatID, helpText)
	case "prices":
		for _, part := range splitMessage(b.pricesText(), MaxMessageLength) {
			b.reply(chatID, part)
		}
	case "progress":
		b.reply(chatID, formatProgress(b.scheduler.Tracker().Snapshot()))
	case "refresh":
		b.handleRefresh(chatID, msg.CommandArguments())
	default:
		b.reply(chatID, "Unknown command. Use /help for available commands.")
	}
}

func (b *Bot) handleRefresh(chatID int64, args string) {
	req, err := parseRefreshArgs(args)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("❌ %v\nUsage: /refresh [fast] [force] [YYYY-MM-DD YYYY-MM-DD]", err))
		return
	}

	// Register before starting so a quick run cannot finish unseen
	b.mu.Lock()
	b.waiting[chatID] = true
	b.mu.Unlock()

	if err := b.scheduler.RefreshAsync(req); err != nil {
		b.mu.Lock()
		delete(b.waiting, chatID)
		b.mu.Unlock()
		if errors.Is(err, scheduler.ErrRefreshInProgress) {
			b.reply(chatID, "⏳ A refresh is already running. Use /progress to follow it.")
			return
		}
		b.reply(chatID, fmt.Sprintf("❌ Refresh failed: %v", err))
		return
	}

	mode := "normal"
	if req.Fast {
		mode = "fast"
	}
	b.reply(chatID, fmt.Sprintf("📝 Refresh started (%s mode). I'll message you when it's done.", mode))
}

// NotifyComplete reports a finished refresh to the notify chat and to every
// chat that requested it. It has the scheduler.CompleteFunc signature.
func (b *Bot) NotifyComplete(ctx context.Context, summary scheduler.RunSummary, rows []models.StaySummary) {
	text := formatSummary(summary)
	for _, id := range b.takeWaiting() {
		b.reply(id, text)
	}
}

// NotifyFailure tells the same chats that a refresh failed. It has the
// scheduler.FailFunc signature.
func (b *Bot) NotifyFailure(ctx context.Context, summary scheduler.RunSummary, err error) {
	text := fmt.Sprintf("❌ Refresh %s → %s failed: %v", summary.Start, summary.End, err)
	for _, id := range b.takeWaiting() {
		b.reply(id, text)
	}
}

// takeWaiting returns the chats to notify about a finished run and forgets
// the requesters
func (b *Bot) takeWaiting() []int64 {
	b.mu.Lock()
	chats := make([]int64, 0, len(b.waiting)+1)
	for id := range b.waiting {
		chats = append(chats, id)
	}
	clear(b.waiting)
	b.mu.Unlock()

	if b.notify != 0 && !slices.Contains(chats, b.notify) {
		chats = append(chats, b.notify)
	}
	return chats
}

func (b *Bot) pricesText() string {
	rows := table.Project(b.scheduler.Store().Snapshot())
	if b.filter != nil {
		rows = b.filter.ApplyFilters(rows)
	}
	table.Sort(rows, table.SortCheckIn, false)
	return table.FormatText(rows)
}

func (b *Bot) reply(chatID int64, text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.logger.Error("Error sending message", "chat_id", chatID, "error", err)
	}
}

// parseRefreshArgs accepts "fast", "force" and up to two dates in any order
func parseRefreshArgs(args string) (scheduler.Request, error) {
	var req scheduler.Request
	var dates []string
	for _, field := range strings.Fields(args) {
		switch strings.ToLower(field) {
		case "fast":
			req.Fast = true
		case "force":
			req.Force = true
		default:
			dates = append(dates, field)
		}
	}
	if len(dates) > 2 {
		return req, errors.New("too many arguments")
	}
	if len(dates) >= 1 {
		d, err := daterange.ParseDate(dates[0])
		if err != nil {
			return req, err
		}
		req.Start = d
	}
	if len(dates) == 2 {
		d, err := daterange.ParseDate(dates[1])
		if err != nil {
			return req, err
		}
		req.End = d
	}
	return req, nil
}

func formatProgress(p models.ScrapeProgress) string {
	switch p.Status {
	case models.StatusRunning:
		if pct := p.Percent(); pct >= 0 {
			return fmt.Sprintf("⏳ Running: %d/%d stays (%d%%)", p.Completed, p.Total, pct)
		}
		return "⏳ Running: nothing to scrape yet"
	case models.StatusDone:
		return fmt.Sprintf("✅ Last run finished: %d/%d stays", p.Completed, p.Total)
	default:
		return "💤 No refresh has run yet"
	}
}

func formatSummary(s scheduler.RunSummary) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("✅ Refresh %s → %s done\n", s.Start, s.End))
	sb.WriteString(fmt.Sprintf("Scraped %d of %d stays, %d failed\n", s.Stats.Succeeded+s.Stats.Empty, s.Pending, s.Stats.Failed))
	sb.WriteString(fmt.Sprintf("Lower prices found: %d\n", s.Improved))
	sb.WriteString(fmt.Sprintf("Stays in table: %d\n", s.Entries))
	sb.WriteString("Use /prices to see them.")
	return sb.String()
}

// splitMessage splits text into chunks of at most maxLen runes, breaking on
// lines where possible
func splitMessage(text string, maxLen int) []string {
	if utf8.RuneCountInString(text) <= maxLen {
		return []string{text}
	}

	var parts []string
	var current strings.Builder
	currentLen := 0

	for _, line := range strings.Split(text, "\n") {
		lineLen := utf8.RuneCountInString(line)
		if currentLen > 0 && currentLen+1+lineLen > maxLen {
			parts = append(parts, current.String())
			current.Reset()
			currentLen = 0
		}
		// A single line longer than the limit is cut on rune boundaries
		for lineLen > maxLen {
			runes := []rune(line)
			parts = append(parts, string(runes[:maxLen]))
			line = string(runes[maxLen:])
			lineLen -= maxLen
		}
		if currentLen == 0 && lineLen == 0 {
			continue
		}
		if currentLen > 0 {
			current.WriteByte('\n')
			currentLen++
		}
		current.WriteString(line)
		currentLen += lineLen
	}
	if currentLen > 0 {
		parts = append(parts, current.String())
	}
	return parts
}
