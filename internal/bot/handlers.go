package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/example/lexisync/internal/daily"
	"github.com/example/lexisync/internal/database"
	"github.com/example/lexisync/pkg/models"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// SourceBot marks items saved from the chat
const SourceBot = "bot"

const helpText = `Available commands:
/start <username> - link this chat to your account
/today [lang] - today's review and new words
/word [lang] - the hard word of the day
/done - count today as an active day
/streak - your current streak
/known <senseId> - mark a word as known
/notify <hour|off> - daily word reminder time`

// HandleCommand handles bot commands
func (b *Bot) HandleCommand(ctx context.Context, message *tgbotapi.Message) error {
	chatID := message.Chat.ID
	args := strings.Fields(message.CommandArguments())

	switch message.Command() {
	case "start":
		return b.handleStart(ctx, chatID, args)
	case "help":
		kb := createKeyboard(MainMenuButtons())
		return b.reply(chatID, helpText, &kb)
	}

	link, err := b.linkFor(ctx, chatID)
	if err != nil || link == nil {
		return err
	}
	switch message.Command() {
	case "today":
		return b.sendToday(ctx, link, b.langArg(args))
	case "word":
		return b.sendWord(ctx, link, b.langArg(args))
	case "done":
		return b.recordActivity(ctx, link)
	case "streak":
		return b.sendStreak(ctx, link)
	case "known":
		if len(args) == 0 {
			return b.reply(chatID, "Usage: /known <senseId>", nil)
		}
		return b.markKnown(ctx, link, args[0])
	case "notify":
		if len(args) == 0 {
			return b.reply(chatID, "Usage: /notify <hour 0-23|off>", nil)
		}
		return b.setNotificationHour(ctx, link, args[0])
	default:
		kb := createKeyboard(MainMenuButtons())
		return b.reply(chatID, "Unknown command. Use /help to see the commands.", &kb)
	}
}

func (b *Bot) langArg(args []string) string {
	if len(args) > 0 && args[0] != "" {
		return strings.ToLower(args[0])
	}
	return b.cfg.DefaultLang
}

// handleStart links the chat to a learner. Notification settings of an
// existing link are kept.
func (b *Bot) handleStart(ctx context.Context, chatID int64, args []string) error {
	if len(args) == 0 {
		return b.reply(chatID, "Welcome! 🎓\n\nSend /start <username> to link this chat to your account.", nil)
	}
	username := args[0]
	now := time.Now().UTC()
	link := &models.ChatLink{
		Username:            username,
		ChatID:              chatID,
		NotificationHour:    b.cfg.NotificationHour,
		NotificationEnabled: true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	existing, err := b.links.GetByUsername(ctx, username)
	switch {
	case err == nil:
		link.NotificationHour = existing.NotificationHour
		link.NotificationEnabled = existing.NotificationEnabled
		link.CreatedAt = existing.CreatedAt
	case !errors.Is(err, database.ErrNotFound):
		return err
	}
	if err := b.links.Upsert(ctx, link); err != nil {
		return err
	}
	b.log.Info("chat linked", "username", username, "chat_id", chatID)

	kb := createKeyboard(MainMenuButtons())
	return b.reply(chatID, fmt.Sprintf("Hi %s! This chat is now linked.\n\n%s", username, helpText), &kb)
}

func (b *Bot) sendToday(ctx context.Context, link *models.ChatLink, lang string) error {
	pack, err := b.selector.Today(ctx, link.Username, lang)
	if err != nil {
		return err
	}
	return b.reply(link.ChatID, formatToday(pack), nil)
}

func (b *Bot) sendWord(ctx context.Context, link *models.ChatLink, lang string) error {
	hw, err := b.selector.HardWordOfDay(ctx, link.Username, lang)
	if err != nil {
		return err
	}
	if hw == nil || hw.Item == nil {
		return b.reply(link.ChatID, "🎉 No hard word left for today. Come back tomorrow!", nil)
	}
	return b.reply(link.ChatID, formatHardWord(hw), knownKeyboard(hw.Item.ID))
}

func (b *Bot) recordActivity(ctx context.Context, link *models.ChatLink) error {
	res, err := b.accountant.RecordActivity(ctx, link.Username)
	if err != nil {
		return err
	}
	if !res.Changed {
		return b.reply(link.ChatID, fmt.Sprintf("Today already counts. 🔥 %d %s", res.StreakDays, days(res.StreakDays)), nil)
	}
	text := fmt.Sprintf("🔥 Streak: %d %s", res.StreakDays, days(res.StreakDays))
	if res.Reward > 0 {
		text += fmt.Sprintf("\n⭐ +%d xp", res.Reward)
	}
	return b.reply(link.ChatID, text, nil)
}

func (b *Bot) sendStreak(ctx context.Context, link *models.ChatLink) error {
	rec, err := b.accountant.Get(ctx, link.Username)
	if err != nil {
		return err
	}
	if rec.StreakDays == 0 {
		return b.reply(link.ChatID, "No streak yet. Send /done after practicing today.", nil)
	}
	return b.reply(link.ChatID, fmt.Sprintf("🔥 Streak: %d %s (best %d)\nLast active: %s",
		rec.StreakDays, days(rec.StreakDays), rec.MaxStreak, rec.LastActiveDate), nil)
}

func (b *Bot) markKnown(ctx context.Context, link *models.ChatLink, senseID string) error {
	saved, err := b.tracker.SaveItem(ctx, link.Username, senseID, models.StatusKnown, SourceBot)
	if err != nil {
		return err
	}
	if !saved {
		return b.reply(link.ChatID, fmt.Sprintf("❌ Unknown word %q.", senseID), nil)
	}
	return b.reply(link.ChatID, "✅ Marked as known.", nil)
}

func (b *Bot) setNotificationHour(ctx context.Context, link *models.ChatLink, arg string) error {
	updated := *link
	updated.UpdatedAt = time.Now().UTC()
	if strings.EqualFold(arg, "off") {
		updated.NotificationEnabled = false
	} else {
		hour, err := strconv.Atoi(arg)
		if err != nil || hour < 0 || hour > 23 {
			return b.reply(link.ChatID, "Please send an hour from 0 to 23, or off.", nil)
		}
		updated.NotificationHour = hour
		updated.NotificationEnabled = true
	}
	if err := b.links.Upsert(ctx, &updated); err != nil {
		return err
	}
	if !updated.NotificationEnabled {
		return b.reply(link.ChatID, "🔕 Daily reminders are off.", nil)
	}
	return b.reply(link.ChatID, fmt.Sprintf("⏰ Daily reminders at %02d:00.", updated.NotificationHour), nil)
}

func formatToday(pack *daily.TodayPack) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "📅 %s\n", pack.DayKey)

	fmt.Fprintf(&sb, "\n🔁 To review: %d\n", len(pack.Due))
	for _, d := range pack.Due {
		fmt.Fprintf(&sb, "• %s (%s)\n", d.Lemma, d.Status)
	}
	fmt.Fprintf(&sb, "\n🆕 New: %d\n", len(pack.New))
	for _, it := range pack.New {
		sb.WriteString("• " + it.Lemma)
		if it.Level != "" {
			sb.WriteString(" [" + it.Level + "]")
		}
		sb.WriteString("\n")
	}
	if pack.HardOfDay != nil && pack.HardOfDay.Item != nil {
		sb.WriteString("\n💎 " + pack.HardOfDay.Item.Lemma + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatHardWord(hw *daily.HardWord) string {
	it := hw.Item
	var sb strings.Builder
	sb.WriteString("💎 " + it.Lemma)
	if it.Transcription != "" {
		sb.WriteString(" [" + it.Transcription + "]")
	}
	var details []string
	if it.Level != "" {
		details = append(details, it.Level)
	}
	if it.Register != "" {
		details = append(details, it.Register)
	}
	if it.HasIrregular {
		details = append(details, "irregular")
	}
	if len(details) > 0 {
		sb.WriteString("\n" + strings.Join(details, " · "))
	}
	return sb.String()
}

func days(n int) string {
	if n == 1 {
		return "day"
	}
	return "days"
}
