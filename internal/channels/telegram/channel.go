package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mymmrac/telego"

	"github.com/opengunther/guenther/internal/bus"
	"github.com/opengunther/guenther/internal/channels"
	"github.com/opengunther/guenther/internal/config"
	"github.com/opengunther/guenther/internal/stt"
)

// Channel connects to Telegram via the Bot API using long polling.
type Channel struct {
	*channels.BaseChannel
	bot            *telego.Bot
	config         config.TelegramConfig
	placeholders   sync.Map // inbound message ID (string) → sent placeholder message ID (int)
	typing         sync.Map // placeholder key → context.CancelFunc for the typing heartbeat
	requireMention bool
	pollCancel     context.CancelFunc
	pollDone       chan struct{}

	transcriber stt.Transcriber
	users       *UserDirectory
	scratchDir  string
}

// Option customizes a Channel beyond its config struct.
type Option func(*Channel)

// WithTranscriber enables voice-message transcription.
func WithTranscriber(t stt.Transcriber) Option {
	return func(c *Channel) { c.transcriber = t }
}

// WithUserDirectory enables the persisted @username → chat-id map.
func WithUserDirectory(d *UserDirectory) Option {
	return func(c *Channel) { c.users = d }
}

// WithScratchDir sets where downloaded photos are staged for vision turns.
func WithScratchDir(dir string) Option {
	return func(c *Channel) { c.scratchDir = dir }
}

// New creates a new Telegram channel from config.
func New(cfg config.TelegramConfig, msgBus *bus.MessageBus, channelOpts ...Option) (*Channel, error) {
	var opts []telego.BotOption

	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", cfg.Proxy, err)
		}
		opts = append(opts, telego.WithHTTPClient(&http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}))
	}

	bot, err := telego.NewBot(cfg.BotToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	base := channels.NewBaseChannel("telegram", msgBus, cfg.AllowFrom)

	requireMention := true
	if cfg.RequireMention != nil {
		requireMention = *cfg.RequireMention
	}

	c := &Channel{
		BaseChannel:    base,
		bot:            bot,
		config:         cfg,
		requireMention: requireMention,
	}
	for _, opt := range channelOpts {
		opt(c)
	}
	return c, nil
}

// UserDirectory exposes the channel's username map to the send_telegram
// tool, which targets users by @username.
func (c *Channel) UserDirectory() *UserDirectory { return c.users }

// Start begins long polling for Telegram updates.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting telegram bot (polling mode)")

	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	c.SetRunning(true)
	slog.Info("telegram bot connected")

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					slog.Info("telegram updates channel closed")
					return
				}
				if update.Message != nil {
					c.handleMessage(update.Message)
				}
			}
		}
	}()

	return nil
}

// Stop shuts down the Telegram bot by cancelling the long polling context
// and waiting for the polling goroutine to exit.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping telegram bot")
	c.SetRunning(false)

	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
		case <-time.After(10 * time.Second):
			slog.Warn("telegram polling goroutine did not exit within timeout")
		}
	}
	return nil
}

// Send delivers an outbound message to a Telegram chat.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("telegram bot not running")
	}

	chatID, err := parseChatID(msg.ChatID)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", msg.ChatID, err)
	}

	placeholderKey := msg.Metadata["placeholder_key"]
	if placeholderKey == "" {
		placeholderKey = msg.ChatID
	}

	if cancel, ok := c.typing.LoadAndDelete(placeholderKey); ok {
		cancel.(context.CancelFunc)()
	}

	if len(msg.Media) > 0 {
		defer c.sendAttachments(ctx, chatID, msg.Media)
	}

	if msg.Content == "" {
		if pID, ok := c.placeholders.LoadAndDelete(placeholderKey); ok {
			_ = c.bot.DeleteMessage(ctx, &telego.DeleteMessageParams{
				ChatID:    telego.ChatID{ID: chatID},
				MessageID: pID.(int),
			})
		}
		return nil
	}

	if pID, ok := c.placeholders.LoadAndDelete(placeholderKey); ok {
		if err := c.editOrResend(ctx, chatID, pID.(int), msg.Content); err == nil {
			return nil
		}
	}

	return c.sendChunked(ctx, chatID, msg.Content)
}

// editOrResend tries to edit the placeholder message in place, chunking any
// overflow into follow-up messages when the reply exceeds Telegram's 4096
// char limit per message.
func (c *Channel) editOrResend(ctx context.Context, chatID int64, messageID int, content string) error {
	const maxLen = 4096
	editContent := content
	remaining := ""
	if len(content) > maxLen {
		cutAt := maxLen
		if idx := strings.LastIndexByte(content[:maxLen], '\n'); idx > maxLen/2 {
			cutAt = idx + 1
		}
		editContent = content[:cutAt]
		remaining = content[cutAt:]
	}

	_, err := c.bot.EditMessageText(ctx, &telego.EditMessageTextParams{
		ChatID:    telego.ChatID{ID: chatID},
		MessageID: messageID,
		Text:      editContent,
	})
	if err != nil {
		return err
	}
	if remaining != "" {
		return c.sendChunked(ctx, chatID, remaining)
	}
	return nil
}

// maxMessageLen is Telegram's hard limit per message.
const maxMessageLen = 4096

// chunkMessage splits content into sendable pieces. Every chunk except
// the last ends with an ellipsis so readers see the message continues;
// the final chunk never carries one. Cuts prefer a newline in the second
// half of the window over a mid-line break.
func chunkMessage(content string, maxLen int) []string {
	if content == "" {
		return nil
	}
	// Room for the trailing ellipsis on continued chunks.
	budget := maxLen - len("…")

	var chunks []string
	for len(content) > maxLen {
		cutAt := budget
		if idx := strings.LastIndexByte(content[:budget], '\n'); idx > budget/2 {
			cutAt = idx + 1
		}
		chunks = append(chunks, strings.TrimRight(content[:cutAt], "\n")+"…")
		content = content[cutAt:]
	}
	return append(chunks, content)
}

// sendChunked sends content, splitting into multiple messages if over the
// Telegram limit.
func (c *Channel) sendChunked(ctx context.Context, chatID int64, content string) error {
	for _, chunk := range chunkMessage(content, maxMessageLen) {
		if _, err := c.bot.SendMessage(ctx, &telego.SendMessageParams{
			ChatID: telego.ChatID{ID: chatID},
			Text:   chunk,
		}); err != nil {
			return fmt.Errorf("send telegram message: %w", err)
		}
	}
	return nil
}

// welcomeText answers /start without creating a session.
const welcomeText = "Hallo! Ich bin Günther. Schreib mir einfach eine Nachricht — oder /new <Titel> für eine frische Unterhaltung."

// refusalText answers senders the allow-list rejects.
const refusalText = "Entschuldigung, du stehst nicht auf der Liste erlaubter Nutzer. Bitte wende dich an den Betreiber."

// handleMessage processes one incoming Telegram message.
func (c *Channel) handleMessage(m *telego.Message) {
	if m.From == nil || m.From.IsBot {
		return
	}

	senderID := fmt.Sprintf("%d", m.From.ID)
	chatID := fmt.Sprintf("%d", m.Chat.ID)
	isDM := m.Chat.Type == "private"

	peerKind := "group"
	if isDM {
		peerKind = "direct"
	}

	// Telegram DMs default to the allow-list policy.
	dmPolicy := c.config.DMPolicy
	if dmPolicy == "" {
		dmPolicy = "allowlist"
	}
	if !c.CheckPolicy(peerKind, dmPolicy, c.config.GroupPolicy, senderID+"|"+m.From.Username) {
		slog.Debug("telegram message rejected by policy", "user_id", senderID, "peer_kind", peerKind)
		if isDM {
			_ = c.sendChunked(context.Background(), m.Chat.ID, refusalText)
		}
		return
	}

	if c.users != nil {
		c.users.Record(m.From.Username, chatID)
	}

	content := m.Text

	if strings.HasPrefix(content, "/start") {
		_ = c.sendChunked(context.Background(), m.Chat.ID, welcomeText)
		return
	}

	var mediaPaths []string
	downloadCtx := context.Background()

	switch {
	case m.Voice != nil || m.Audio != nil:
		fileID := ""
		if m.Voice != nil {
			fileID = m.Voice.FileID
		} else {
			fileID = m.Audio.FileID
		}
		transcript, err := c.handleVoice(downloadCtx, m.Chat.ID, fileID)
		if err != nil {
			slog.Warn("telegram voice handling failed", "error", err)
			_ = c.sendChunked(downloadCtx, m.Chat.ID, "Sprachnachricht konnte nicht verarbeitet werden: "+err.Error())
			return
		}
		content = transcript
	case len(m.Photo) > 0:
		path, err := c.handlePhoto(downloadCtx, m.Photo, m.From.Username)
		if err != nil {
			slog.Warn("telegram photo handling failed", "error", err)
			_ = c.sendChunked(downloadCtx, m.Chat.ID, "Foto konnte nicht verarbeitet werden: "+err.Error())
			return
		}
		mediaPaths = append(mediaPaths, path)
		if content == "" {
			content = m.Caption
		}
		if content == "" {
			content = "Beschreibe dieses Bild."
		}
	}

	if content == "" {
		content = "[leere Nachricht]"
	}

	if peerKind == "group" && c.requireMention {
		mentioned := false
		botUsername := c.bot.Username()
		if botUsername != "" && strings.Contains(content, "@"+botUsername) {
			mentioned = true
		}
		if m.ReplyToMessage != nil && m.ReplyToMessage.From != nil && botUsername != "" &&
			m.ReplyToMessage.From.Username == botUsername {
			mentioned = true
		}
		if !mentioned {
			return
		}
	}

	slog.Debug("telegram message received", "sender_id", senderID, "chat_id", chatID, "is_dm", isDM,
		"preview", channels.Truncate(content, 50))

	placeholderKey := fmt.Sprintf("%d", m.MessageID)
	if placeholder, err := c.bot.SendMessage(context.Background(), &telego.SendMessageParams{
		ChatID: telego.ChatID{ID: m.Chat.ID},
		Text:   "Denke nach...",
	}); err == nil {
		c.placeholders.Store(placeholderKey, placeholder.MessageID)
	}

	cancelTyping := c.startTyping(context.Background(), m.Chat.ID)
	c.typing.Store(placeholderKey, cancelTyping)

	metadata := map[string]string{
		"message_id":      placeholderKey,
		"user_id":         senderID,
		"username":        m.From.Username,
		"chat_id":         chatID,
		"placeholder_key": placeholderKey,
	}
	if strings.HasPrefix(content, "/new") {
		metadata["command"] = "new"
		metadata["title"] = strings.TrimSpace(strings.TrimPrefix(content, "/new"))
	}

	c.HandleMessage(senderID+"|"+m.From.Username, chatID, content, mediaPaths, metadata, peerKind)
}

// parseChatID converts a string chat ID to int64.
func parseChatID(chatIDStr string) (int64, error) {
	var id int64
	_, err := fmt.Sscanf(chatIDStr, "%d", &id)
	return id, err
}
