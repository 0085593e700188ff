package platform

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"

	"litcritic/pkg/utils"
)

// sceneBoundary renders the marker line separating scenes in a multi-scene
// session. The marker counts as a line of the concatenated text, so all
// L-numbers stay honest across scenes.
func sceneBoundary(name string) string {
	return fmt.Sprintf("===== SCENE BOUNDARY: %s =====", name)
}

// SceneRef locates one global line of the concatenated text: the owning
// scene file and the 1-based line number within it. Boundary marker lines
// carry Local 0.
type SceneRef struct {
	Path  string
	Local int
}

// SceneSet is the loaded scene text for one session: the concatenated
// content, its hash, and the global-to-local line map.
type SceneSet struct {
	Paths   []string
	Text    string
	Hash    string
	LineMap map[int]SceneRef
}

// SceneFor returns the scene file owning a global line, empty when the line
// is out of range or a boundary marker.
func (s *SceneSet) SceneFor(globalLine int) string {
	ref, ok := s.LineMap[globalLine]
	if !ok || ref.Local == 0 {
		return ""
	}
	return ref.Path
}

// LoadScenes reads one or more scene files and concatenates them. A single
// scene passes through unchanged; multiple scenes are joined with boundary
// markers and a global line map is derived for per-finding scene
// attribution.
func LoadScenes(paths []string) (*SceneSet, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no scene paths given")
	}

	set := &SceneSet{
		Paths:   append([]string(nil), paths...),
		LineMap: make(map[int]SceneRef),
	}

	var b strings.Builder
	global := 0
	for i, path := range paths {
		text, err := readSceneText(path)
		if err != nil {
			return nil, err
		}
		if len(paths) > 1 {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString(sceneBoundary(filepath.Base(path)))
			b.WriteString("\n")
			global++
			set.LineMap[global] = SceneRef{Path: path}
		}
		text = strings.TrimRight(text, "\n")
		b.WriteString(text)
		for local, n := 1, countLines(text); local <= n; local++ {
			global++
			set.LineMap[global] = SceneRef{Path: path, Local: local}
		}
	}

	set.Text = b.String()
	if !strings.HasSuffix(set.Text, "\n") {
		set.Text += "\n"
	}
	set.Hash = utils.HashText(set.Text)
	return set, nil
}

// readSceneText extracts plain text from a scene file. Markdown and plain
// text read as-is; .docx and .pdf manuscripts go through native extraction.
func readSceneText(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".docx":
		return readDocx(path)
	case ".pdf":
		return readPDF(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read scene %s: %w", path, err)
	}
	return string(data), nil
}

func readDocx(path string) (string, error) {
	doc, err := docx.ReadDocxFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to parse docx scene %s: %w", path, err)
	}
	defer doc.Close()
	return doc.Editable().GetContent(), nil
}

func readPDF(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed to stat pdf scene %s: %w", path, err)
	}
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open pdf scene %s: %w", path, err)
	}
	defer file.Close()

	reader, err := pdf.NewReader(file, info.Size())
	if err != nil {
		return "", fmt.Errorf("failed to parse pdf scene %s: %w", path, err)
	}

	var pages []string
	for n := 1; n <= reader.NumPage(); n++ {
		page := reader.Page(n)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if strings.TrimSpace(text) != "" {
			pages = append(pages, text)
		}
	}
	return strings.Join(pages, "\n\n"), nil
}

// countLines counts lines the way prompt numbering does: a trailing newline
// does not open a final empty line.
func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}

// SceneLoader adapts LoadScenes to the scene-change detector's reader
// interface.
type SceneLoader struct{}

// ReadScenes re-reads and re-concatenates the session's scene files.
func (SceneLoader) ReadScenes(paths []string) (string, string, error) {
	set, err := LoadScenes(paths)
	if err != nil {
		return "", "", err
	}
	return set.Text, set.Hash, nil
}
