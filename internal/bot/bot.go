package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/example/lexisync/internal/daily"
	"github.com/example/lexisync/internal/database"
	"github.com/example/lexisync/internal/logger"
	"github.com/example/lexisync/internal/progress"
	"github.com/example/lexisync/internal/streak"
	"github.com/example/lexisync/pkg/models"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jmoiron/sqlx"
)

// Callback data prefixes
const (
	callbackKnown    = "known:"
	callbackToday    = "today"
	callbackWord     = "word"
	callbackStreak   = "streak"
	callbackNotifyAt = "set_notification_time_"
)

// MenuButton represents a button in the menu
type MenuButton struct {
	Text         string
	CallbackData string
}

// createKeyboard builds an inline keyboard from rows of buttons
func createKeyboard(buttons [][]MenuButton) tgbotapi.InlineKeyboardMarkup {
	var keyboard [][]tgbotapi.InlineKeyboardButton
	for _, row := range buttons {
		var keyboardRow []tgbotapi.InlineKeyboardButton
		for _, button := range row {
			keyboardRow = append(keyboardRow, tgbotapi.NewInlineKeyboardButtonData(button.Text, button.CallbackData))
		}
		keyboard = append(keyboard, keyboardRow)
	}
	return tgbotapi.NewInlineKeyboardMarkup(keyboard...)
}

// MainMenuButtons returns the buttons for the main menu
func MainMenuButtons() [][]MenuButton {
	return [][]MenuButton{
		{{Text: "📚 Today", CallbackData: callbackToday}, {Text: "💎 Word of the day", CallbackData: callbackWord}},
		{{Text: "🔥 Streak", CallbackData: callbackStreak}},
	}
}

// Sender is the part of the Telegram API the bot talks through
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Config holds the bot settings
type Config struct {
	DefaultLang      string
	NotificationHour int
}

// Bot is the Telegram delivery channel. It links chats to learner names and
// serves the daily pack, the hard word of the day and the streak.
type Bot struct {
	api        Sender
	links      *database.ChatLinkRepository
	selector   *daily.Selector
	accountant *streak.Accountant
	tracker    *progress.Tracker
	cfg        Config
	log        *logger.Logger

	mu     sync.Mutex
	client *tgbotapi.BotAPI
}

// New creates a bot. api may be nil; Start then connects with the token.
func New(db *sqlx.DB, api Sender, selector *daily.Selector, accountant *streak.Accountant,
	tracker *progress.Tracker, cfg Config, log *logger.Logger) *Bot {
	if cfg.DefaultLang == "" {
		cfg.DefaultLang = "de"
	}
	return &Bot{
		api:        api,
		links:      database.NewChatLinkRepository(db),
		selector:   selector,
		accountant: accountant,
		tracker:    tracker,
		cfg:        cfg,
		log:        log.With("component", "bot"),
	}
}

// Start connects to Telegram and handles updates until ctx is done
func (b *Bot) Start(ctx context.Context, token string) error {
	botAPI, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return fmt.Errorf("unable to create bot: %w", err)
	}
	b.mu.Lock()
	b.client = botAPI
	b.api = botAPI
	b.mu.Unlock()
	b.log.Info("authorized on account", "account", botAPI.Self.UserName)

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := botAPI.GetUpdatesChan(updateConfig)

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			go b.HandleUpdate(ctx, update)
		}
	}
}

// Stop stops receiving updates
func (b *Bot) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil {
		b.client.StopReceivingUpdates()
		b.client = nil
	}
	b.log.Info("bot stopped")
}

// HandleUpdate dispatches one update. Panics are logged, never propagated.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("panic handling update", "panic", r, "update_id", update.UpdateID)
		}
	}()

	var err error
	switch {
	case update.Message != nil && update.Message.IsCommand():
		err = b.HandleCommand(ctx, update.Message)
	case update.Message != nil:
		err = b.reply(update.Message.Chat.ID, "I don't understand. Use /help to see the commands.", nil)
	case update.CallbackQuery != nil:
		err = b.handleCallbackQuery(ctx, update.CallbackQuery)
	}
	if err != nil {
		b.log.Error("failed to handle update", "error", err, "update_id", update.UpdateID)
	}
}

// SendDailyHighlight sends the hard word of the day to a linked chat
func (b *Bot) SendDailyHighlight(ctx context.Context, link models.ChatLink) error {
	hw, err := b.selector.HardWordOfDay(ctx, link.Username, b.cfg.DefaultLang)
	if err != nil {
		return err
	}
	if hw == nil || hw.Item == nil {
		b.log.Debug("no hard word to send", "username", link.Username)
		return nil
	}
	return b.reply(link.ChatID, "⏰ Your word of the day\n\n"+formatHardWord(hw), knownKeyboard(hw.Item.ID))
}

func (b *Bot) handleCallbackQuery(ctx context.Context, callback *tgbotapi.CallbackQuery) error {
	if callback.Message == nil || callback.Message.Chat == nil {
		return nil
	}
	chatID := callback.Message.Chat.ID
	if api, err := b.sender(); err == nil {
		if _, err := api.Request(tgbotapi.NewCallback(callback.ID, "")); err != nil {
			b.log.Warn("failed to answer callback", "error", err)
		}
	}

	link, err := b.linkFor(ctx, chatID)
	if err != nil {
		return err
	}
	if link == nil {
		return nil
	}

	switch data := callback.Data; {
	case data == callbackToday:
		return b.sendToday(ctx, link, b.cfg.DefaultLang)
	case data == callbackWord:
		return b.sendWord(ctx, link, b.cfg.DefaultLang)
	case data == callbackStreak:
		return b.sendStreak(ctx, link)
	case strings.HasPrefix(data, callbackKnown):
		return b.markKnown(ctx, link, strings.TrimPrefix(data, callbackKnown))
	case strings.HasPrefix(data, callbackNotifyAt):
		return b.setNotificationHour(ctx, link, strings.TrimPrefix(data, callbackNotifyAt))
	}
	return nil
}

// linkFor resolves the learner of a chat. A nil link means the chat isn't
// linked yet; the user has been told how to fix that.
func (b *Bot) linkFor(ctx context.Context, chatID int64) (*models.ChatLink, error) {
	link, err := b.links.GetByChatID(ctx, chatID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, b.reply(chatID, "This chat is not linked yet. Send /start <username> first.", nil)
	}
	if err != nil {
		return nil, err
	}
	return link, nil
}

var errNotConnected = errors.New("bot is not connected")

func (b *Bot) sender() (Sender, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.api == nil {
		return nil, errNotConnected
	}
	return b.api, nil
}

func (b *Bot) reply(chatID int64, text string, keyboard *tgbotapi.InlineKeyboardMarkup) error {
	api, err := b.sender()
	if err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	if keyboard != nil {
		msg.ReplyMarkup = *keyboard
	}
	_, err = api.Send(msg)
	return err
}

func knownKeyboard(senseID string) *tgbotapi.InlineKeyboardMarkup {
	kb := createKeyboard([][]MenuButton{{{Text: "✅ I know it", CallbackData: callbackKnown + senseID}}})
	return &kb
}
