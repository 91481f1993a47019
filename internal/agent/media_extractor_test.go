package agent

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
)

// memFileStore collects stored blobs in memory.
type memFileStore struct {
	stored map[string][]byte
	n      int
}

func newMemFileStore() *memFileStore {
	return &memFileStore{stored: map[string][]byte{}}
}

func (m *memFileStore) Store(data []byte, ext string) (string, error) {
	m.n++
	name := fmt.Sprintf("file%d.%s", m.n, ext)
	m.stored[name] = data
	return name, nil
}

func (m *memFileStore) Get(name string) ([]byte, error) {
	data, ok := m.stored[name]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return data, nil
}

func (m *memFileStore) Path(name string) string { return "/mem/" + name }

func pngBase64(t *testing.T) string {
	t.Helper()
	img := imaging.New(4, 4, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestExtractMediaRewritesImageMarker(t *testing.T) {
	fs := newMemFileStore()
	content := fmt.Sprintf("Bitteschön!\n\n![Generiertes Bild](data:image/png;base64,%s)", pngBase64(t))

	got := ExtractMedia(content, fs)
	if strings.Contains(got, "data:image") {
		t.Fatalf("marker not rewritten: %s", got)
	}
	if !strings.Contains(got, "[STORED_FILE](file1.png)") {
		t.Fatalf("no stored-file reference: %s", got)
	}
	if len(fs.stored) != 1 {
		t.Fatalf("stored %d files, want 1", len(fs.stored))
	}
}

func TestExtractMediaRewritesBinaryMarkers(t *testing.T) {
	fs := newMemFileStore()
	b64 := base64.StdEncoding.EncodeToString([]byte("payload"))
	content := strings.Join([]string{
		fmt.Sprintf("![audio](data:audio/mpeg;base64,%s)", b64),
		fmt.Sprintf("[HTML_REPORT](data:text/html;base64,%s)", b64),
		fmt.Sprintf("[PPTX_DOWNLOAD](bericht.pptx::%s)", b64),
	}, "\n")

	got := ExtractMedia(content, fs)
	if strings.Count(got, "[STORED_FILE](") != 3 {
		t.Fatalf("expected 3 stored-file refs:\n%s", got)
	}
	names := []string{"file1.mp3", "file2.html", "file3.pptx"}
	for _, name := range names {
		if _, ok := fs.stored[name]; !ok {
			t.Fatalf("missing stored file %s (have %v)", name, fs.stored)
		}
	}
}

func TestExtractMediaCopiesLocalFile(t *testing.T) {
	fs := newMemFileStore()

	path := filepath.Join(t.TempDir(), "bericht.pdf")
	if err := os.WriteFile(path, []byte("pdf-bytes"), 0600); err != nil {
		t.Fatal(err)
	}

	got := ExtractMedia(fmt.Sprintf("Fertig. [LOCAL_FILE](%s)", path), fs)
	if !strings.Contains(got, "[STORED_FILE](file1.pdf)") {
		t.Fatalf("local file not rewritten: %s", got)
	}
	if string(fs.stored["file1.pdf"]) != "pdf-bytes" {
		t.Fatalf("stored bytes = %q", fs.stored["file1.pdf"])
	}

	// A path that does not exist keeps its marker so the failure stays
	// visible in the reply.
	missing := "Siehe [LOCAL_FILE](/nope/fehlt.pdf)"
	if got := ExtractMedia(missing, fs); got != missing {
		t.Fatalf("missing-file marker altered: %q", got)
	}
}

func TestExtractMediaLeavesBrokenPayloadInPlace(t *testing.T) {
	fs := newMemFileStore()
	content := "[HTML_REPORT](data:text/html;base64,%%%notbase64%%%)"

	got := ExtractMedia(content, fs)
	if got != content {
		t.Fatalf("broken marker was altered: %s", got)
	}
}

func TestExtractMediaNilStoreIsNoop(t *testing.T) {
	content := "![audio](data:audio/mpeg;base64,QUJD)"
	if got := ExtractMedia(content, nil); got != content {
		t.Fatalf("nil store altered content: %s", got)
	}
}
