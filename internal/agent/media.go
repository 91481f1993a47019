package agent

import (
	"encoding/base64"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/opengunther/guenther/internal/media"
	"github.com/opengunther/guenther/internal/providers"
)

// maxImageBytes is the point past which an attached image gets re-encoded
// before it is sent to a vision endpoint.
const maxImageBytes = 10 * 1024 * 1024

// loadImages turns local image paths into base64 ImageContent for vision
// models. Oversized images are run through the normalizer (downscale +
// JPEG re-encode) instead of being dropped; unreadable or non-image files
// are skipped with a warning.
func loadImages(paths []string) []providers.ImageContent {
	images := make([]providers.ImageContent, 0, len(paths))
	for _, p := range paths {
		mime := imageMimeForExt(p)
		if mime == "" {
			slog.Warn("vision: not an image file, skipping", "path", p)
			continue
		}

		data, err := os.ReadFile(p)
		if err != nil {
			slog.Warn("vision: failed to read image file", "path", p, "error", err)
			continue
		}
		if len(data) > maxImageBytes {
			shrunk, err := media.Normalize(data)
			if err != nil || len(shrunk) > maxImageBytes {
				slog.Warn("vision: image too large even after re-encode, skipping", "path", p, "size", len(data))
				continue
			}
			data, mime = shrunk, "image/jpeg"
		}

		images = append(images, providers.ImageContent{
			MimeType: mime,
			Data:     base64.StdEncoding.EncodeToString(data),
		})
	}
	if len(images) == 0 {
		return nil
	}
	return images
}

// imageMimeForExt maps supported image extensions to their MIME type;
// everything else returns "".
func imageMimeForExt(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return ""
	}
}
