package corpus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/xhad/gamescout/internal/models"
)

// required keys of a JSON corpus document
var requiredFields = []string{"title", "content", "url", "tags"}

type LoaderConfig struct {
	Dir string
	// Regions, when set, tags documents that carry no region with the
	// first known region they mention.
	Regions []string
	Logger  *slog.Logger
}

// Loader reads a knowledge base directory: JSON documents as written by the
// scraper plus hand-written markdown and text notes.
type Loader struct {
	config LoaderConfig
	log    *slog.Logger
}

func NewLoader(config LoaderConfig) *Loader {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Loader{config: config, log: logger}
}

type jsonDocument struct {
	ID       string                 `json:"id"`
	Title    string                 `json:"title"`
	Content  string                 `json:"content"`
	URL      string                 `json:"url"`
	Tags     []string               `json:"tags"`
	Region   string                 `json:"region"`
	Metadata map[string]interface{} `json:"metadata"`
}

// Load returns every valid document under the directory, ordered by id.
// Unreadable or invalid files are logged and skipped.
func (l *Loader) Load(ctx context.Context) ([]models.Document, error) {
	if _, err := os.Stat(l.config.Dir); err != nil {
		return nil, fmt.Errorf("corpus directory: %w", err)
	}

	var docs []models.Document
	skipped := 0
	err := filepath.WalkDir(l.config.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != l.config.Dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !Supported(path) {
			return nil
		}

		doc, err := l.loadFile(path)
		if err != nil {
			skipped++
			l.log.Warn("skipping corpus file", "path", path, "error", err)
			return nil
		}
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking corpus: %w", err)
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	l.log.Info("corpus loaded", "dir", l.config.Dir, "documents", len(docs), "skipped", skipped)
	return docs, nil
}

// Supported reports whether the loader reads files with this name.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".md", ".markdown", ".txt":
		return true
	}
	return false
}

func (l *Loader) loadFile(path string) (models.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Document{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return models.Document{}, err
	}

	var doc models.Document
	if strings.EqualFold(filepath.Ext(path), ".json") {
		doc, err = parseJSON(data)
	} else {
		doc = parseText(data)
	}
	if err != nil {
		return models.Document{}, err
	}

	if doc.ID == "" {
		doc.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if doc.Title == "" {
		doc.Title = doc.ID
	}
	if strings.TrimSpace(doc.Content) == "" {
		return models.Document{}, fmt.Errorf("%w: empty content", models.ErrInvalidDocument)
	}
	if doc.Region == "" && len(l.config.Regions) > 0 {
		doc.Region = DetectRegion(doc.Title, doc.Content, l.config.Regions)
	}
	if doc.Metadata == nil {
		doc.Metadata = map[string]interface{}{}
	}
	doc.Metadata["file_path"] = path
	doc.IngestedAt = info.ModTime().UTC()
	return doc, nil
}

func parseJSON(data []byte) (models.Document, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return models.Document{}, fmt.Errorf("%w: %v", models.ErrInvalidDocument, err)
	}
	var missing []string
	for _, f := range requiredFields {
		if _, ok := fields[f]; !ok {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return models.Document{}, fmt.Errorf("%w: missing required fields %s", models.ErrInvalidDocument, strings.Join(missing, ", "))
	}

	var jd jsonDocument
	if err := json.Unmarshal(data, &jd); err != nil {
		return models.Document{}, fmt.Errorf("%w: %v", models.ErrInvalidDocument, err)
	}
	return models.Document{
		ID:       jd.ID,
		URL:      jd.URL,
		Title:    jd.Title,
		Content:  jd.Content,
		Region:   jd.Region,
		Tags:     jd.Tags,
		Metadata: jd.Metadata,
	}, nil
}

var heading = regexp.MustCompile(`(?m)^#\s+(.+)$`)

// parseText takes the title from the first level-one markdown heading.
func parseText(data []byte) models.Document {
	text := string(data)
	var doc models.Document
	if m := heading.FindStringSubmatch(text); m != nil {
		doc.Title = strings.TrimSpace(m[1])
	}
	doc.Content = text
	return doc
}

// Write stores doc as <id>.json in dir and returns the path. The file is
// readable by Load.
func Write(dir string, doc models.Document) (string, error) {
	if doc.ID == "" {
		return "", fmt.Errorf("%w: missing id", models.ErrInvalidDocument)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating corpus directory: %w", err)
	}

	tags := doc.Tags
	if tags == nil {
		tags = []string{}
	}
	data, err := json.MarshalIndent(jsonDocument{
		ID:       doc.ID,
		Title:    doc.Title,
		Content:  doc.Content,
		URL:      doc.URL,
		Tags:     tags,
		Region:   doc.Region,
		Metadata: doc.Metadata,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding document %s: %w", doc.ID, err)
	}

	path := filepath.Join(dir, FileName(doc.ID))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing document %s: %w", doc.ID, err)
	}
	return path, nil
}

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// FileName maps a document id to a file name.
func FileName(id string) string {
	return unsafeName.ReplaceAllString(id, "_") + ".json"
}

// DetectRegion returns the known region named in the title, or else the one
// mentioned most often in the content. Ties go to the earlier region in the
// list. It returns "" when none is mentioned.
func DetectRegion(title, content string, regions []string) string {
	lowerTitle := strings.ToLower(title)
	for _, r := range regions {
		if r != "" && strings.Contains(lowerTitle, strings.ToLower(r)) {
			return r
		}
	}

	lowerContent := strings.ToLower(content)
	best, bestCount := "", 0
	for _, r := range regions {
		if r == "" {
			continue
		}
		if n := strings.Count(lowerContent, strings.ToLower(r)); n > bestCount {
			best, bestCount = r, n
		}
	}
	return best
}
