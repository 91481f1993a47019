package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mymmrac/telego"

	"github.com/opengunther/guenther/internal/bus"
	"github.com/opengunther/guenther/internal/media"
)

// typingInterval is how often the typing indicator is refreshed while an
// agent run is in progress. Telegram expires the indicator after ~5s.
const typingInterval = 4 * time.Second

// downloadTimeout bounds one getFile + download round trip.
const downloadTimeout = 60 * time.Second

// startTyping begins the typing-action heartbeat for chatID and returns a
// cancel function. The heartbeat stops on cancel or when ctx ends, so it
// never outlives the request that started it.
func (c *Channel) startTyping(ctx context.Context, chatID int64) context.CancelFunc {
	typingCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(typingInterval)
		defer ticker.Stop()
		for {
			_ = c.bot.SendChatAction(typingCtx, &telego.SendChatActionParams{
				ChatID: telego.ChatID{ID: chatID},
				Action: telego.ChatActionTyping,
			})
			select {
			case <-typingCtx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return cancel
}

// downloadFile fetches a Telegram file by id via the two-step
// getFile → download protocol and returns its bytes plus the remote path
// (whose extension identifies the format).
func (c *Channel) downloadFile(ctx context.Context, fileID string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	f, err := c.bot.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, "", fmt.Errorf("telegram getFile: %w", err)
	}
	if f.FilePath == "" {
		return nil, "", fmt.Errorf("telegram getFile: empty file path")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.bot.FileDownloadURL(f.FilePath), nil)
	if err != nil {
		return nil, "", fmt.Errorf("telegram download: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("telegram download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("telegram download: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 50<<20))
	if err != nil {
		return nil, "", fmt.Errorf("telegram download: %w", err)
	}
	return data, f.FilePath, nil
}

// handleVoice downloads and transcribes a voice or audio message. The
// transcript is echoed back to the user ("[Sprache erkannt]: …") and
// returned so the caller can treat the message as plain text.
func (c *Channel) handleVoice(ctx context.Context, chatID int64, fileID string) (string, error) {
	if c.transcriber == nil {
		return "", fmt.Errorf("keine Spracherkennung konfiguriert")
	}

	audio, remotePath, err := c.downloadFile(ctx, fileID)
	if err != nil {
		return "", err
	}

	transcript, err := c.transcriber.Transcribe(ctx, audio, filepath.Base(remotePath))
	if err != nil {
		return "", err
	}
	if transcript == "" {
		return "", fmt.Errorf("leeres Transkript")
	}

	_ = c.sendChunked(ctx, chatID, "[Sprache erkannt]: "+transcript)
	return transcript, nil
}

// handlePhoto downloads the highest-resolution photo variant, normalizes
// it, writes it into the channel's scratch directory, and returns the
// local path so the dispatcher can attach it to the turn as vision input.
func (c *Channel) handlePhoto(ctx context.Context, sizes []telego.PhotoSize, username string) (string, error) {
	if len(sizes) == 0 {
		return "", fmt.Errorf("leeres Foto")
	}
	// Telegram sorts variants ascending; the last one is full resolution.
	best := sizes[len(sizes)-1]

	data, _, err := c.downloadFile(ctx, best.FileID)
	if err != nil {
		return "", err
	}
	if normalized, err := media.Normalize(data); err == nil {
		data = normalized
	}

	dir := c.scratchDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("scratch dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("tg_%s_%d.jpg", normalizeUsername(username), time.Now().UnixNano()))
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("write photo: %w", err)
	}
	return path, nil
}

// sendAttachment uploads one extracted artifact with the matching typed
// upload: photo for images, audio for audio, document for everything else.
func (c *Channel) sendAttachment(ctx context.Context, chatID int64, att bus.MediaAttachment) error {
	f, err := os.Open(att.URL)
	if err != nil {
		return fmt.Errorf("open attachment: %w", err)
	}
	defer f.Close()

	input := telego.InputFile{File: f}
	tgChat := telego.ChatID{ID: chatID}

	switch {
	case strings.HasPrefix(att.ContentType, "image/"):
		_, err = c.bot.SendPhoto(ctx, &telego.SendPhotoParams{ChatID: tgChat, Photo: input, Caption: att.Caption})
	case strings.HasPrefix(att.ContentType, "audio/"):
		_, err = c.bot.SendAudio(ctx, &telego.SendAudioParams{ChatID: tgChat, Audio: input, Caption: att.Caption})
	default:
		_, err = c.bot.SendDocument(ctx, &telego.SendDocumentParams{ChatID: tgChat, Document: input, Caption: att.Caption})
	}
	if err != nil {
		return fmt.Errorf("send attachment: %w", err)
	}
	return nil
}

// sendAttachments delivers every artifact, logging and continuing past
// individual failures so one broken file does not swallow the rest.
func (c *Channel) sendAttachments(ctx context.Context, chatID int64, atts []bus.MediaAttachment) {
	for _, att := range atts {
		if err := c.sendAttachment(ctx, chatID, att); err != nil {
			slog.Warn("telegram attachment send failed", "path", att.URL, "error", err)
		}
	}
}
