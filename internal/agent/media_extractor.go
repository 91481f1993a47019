package agent

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/opengunther/guenther/internal/store"
)

// Finalization marker patterns: the model embeds generated
// media inline as a data URI or, for PPTX, a "name::base64" pair. Before a
// reply leaves the orchestrator it is rewritten to reference a stored file
// instead of carrying the raw payload, so channels that can't inline
// multi-megabyte base64 (webhook JSON, Telegram captions) still work.
var (
	imageMarkerRe = regexp.MustCompile(`!\[Generiertes Bild\]\(data:(image/[a-zA-Z0-9.+-]+);base64,([A-Za-z0-9+/=]+)\)`)
	audioMarkerRe = regexp.MustCompile(`!\[audio\]\(data:(audio/[a-zA-Z0-9.+-]+);base64,([A-Za-z0-9+/=]+)\)`)
	htmlMarkerRe  = regexp.MustCompile(`\[HTML_REPORT\]\(data:text/html;base64,([A-Za-z0-9+/=]+)\)`)
	pptxMarkerRe  = regexp.MustCompile(`\[PPTX_DOWNLOAD\]\(([^:]+)::([A-Za-z0-9+/=]+)\)`)
	localFileRe   = regexp.MustCompile(`\[LOCAL_FILE\]\(([^)]+)\)`)
)

var audioExtByMime = map[string]string{
	"audio/mpeg": "mp3",
	"audio/mp3":  "mp3",
	"audio/wav":  "wav",
	"audio/x-wav": "wav",
	"audio/ogg":  "ogg",
}

// ExtractMedia rewrites every finalization marker in content into a
// "[STORED_FILE](<name>)" reference, persisting the decoded payload to fs.
// Markers whose payload fails to decode or store are left untouched so the
// caller's reply still contains the (now-broken) original marker rather than
// silently losing content.
func ExtractMedia(content string, fs store.FileStore) string {
	if fs == nil {
		return content
	}

	content = imageMarkerRe.ReplaceAllStringFunc(content, func(m string) string {
		groups := imageMarkerRe.FindStringSubmatch(m)
		return storeImageMarker(fs, groups[1], groups[2], m)
	})
	content = audioMarkerRe.ReplaceAllStringFunc(content, func(m string) string {
		groups := audioMarkerRe.FindStringSubmatch(m)
		return storeBinaryMarker(fs, audioExtFor(groups[1]), groups[2], m)
	})
	content = htmlMarkerRe.ReplaceAllStringFunc(content, func(m string) string {
		groups := htmlMarkerRe.FindStringSubmatch(m)
		return storeBinaryMarker(fs, "html", groups[1], m)
	})
	content = pptxMarkerRe.ReplaceAllStringFunc(content, func(m string) string {
		groups := pptxMarkerRe.FindStringSubmatch(m)
		ext := strings.TrimPrefix(filepath.Ext(groups[1]), ".")
		if ext == "" {
			ext = "pptx"
		}
		return storeBinaryMarker(fs, ext, groups[2], m)
	})
	content = localFileRe.ReplaceAllStringFunc(content, func(m string) string {
		groups := localFileRe.FindStringSubmatch(m)
		return storeLocalFileMarker(fs, groups[1], m)
	})

	return content
}

// storeLocalFileMarker copies a file a tool already wrote to disk into
// the file store, so the artifact survives temp-dir cleanup and is
// fetchable by name like every other stored file.
func storeLocalFileMarker(fs store.FileStore, path, original string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("media extract: local file unreadable", "path", path, "error", err)
		return original
	}
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		ext = "bin"
	}
	name, err := fs.Store(data, ext)
	if err != nil {
		slog.Warn("media extract: local file store failed", "path", path, "error", err)
		return original
	}
	return fmt.Sprintf("[STORED_FILE](%s)", name)
}

func audioExtFor(mime string) string {
	if ext, ok := audioExtByMime[mime]; ok {
		return ext
	}
	return "bin"
}

func storeImageMarker(fs store.FileStore, mime, b64 string, original string) string {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		slog.Warn("media extract: invalid base64 image payload", "error", err)
		return original
	}

	// Round-trip through imaging to reject corrupt payloads and normalize
	// to PNG before persisting, rather than trusting the model's declared MIME.
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		slog.Warn("media extract: image failed to decode, storing raw bytes", "mime", mime, "error", err)
		ext := strings.TrimPrefix(mime, "image/")
		return storeBinaryMarker(fs, ext, b64, original)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		slog.Warn("media extract: image re-encode failed, storing raw bytes", "error", err)
		ext := strings.TrimPrefix(mime, "image/")
		return storeBinaryMarker(fs, ext, b64, original)
	}

	name, err := fs.Store(buf.Bytes(), "png")
	if err != nil {
		slog.Warn("media extract: image store failed", "error", err)
		return original
	}
	return fmt.Sprintf("[STORED_FILE](%s)", name)
}

func storeBinaryMarker(fs store.FileStore, ext, b64, original string) string {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		slog.Warn("media extract: invalid base64 payload", "ext", ext, "error", err)
		return original
	}
	name, err := fs.Store(data, ext)
	if err != nil {
		slog.Warn("media extract: store failed", "ext", ext, "error", err)
		return original
	}
	return fmt.Sprintf("[STORED_FILE](%s)", name)
}
