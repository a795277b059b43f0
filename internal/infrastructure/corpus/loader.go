package corpus

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/bovicare-rag/internal/core/domain"
)

// file accepts either a bare document list or {documents: [...]}.
type file struct {
	Documents []domain.SourceDocument `json:"documents" yaml:"documents"`
}

// LoadPath reads one corpus file or every .yaml/.yml/.json file in a directory.
func LoadPath(path string) ([]domain.SourceDocument, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat corpus path: %w", err)
	}
	if !info.IsDir() {
		return loadFile(path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read corpus dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || formatOf(entry.Name()) == "" {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var docs []domain.SourceDocument
	for _, name := range names {
		loaded, err := loadFile(filepath.Join(path, name))
		if err != nil {
			return nil, err
		}
		docs = append(docs, loaded...)
	}
	if err := validate(docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func loadFile(path string) ([]domain.SourceDocument, error) {
	format := formatOf(path)
	if format == "" {
		return nil, fmt.Errorf("%w: unsupported corpus file %s", domain.ErrInvalidInput, filepath.Base(path))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open corpus file: %w", err)
	}
	defer f.Close()

	docs, err := Decode(f, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return docs, nil
}

// Decode parses a corpus stream in the given format ("yaml" or "json").
func Decode(r io.Reader, format string) ([]domain.SourceDocument, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read corpus: %w", err)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: corpus is empty", domain.ErrInvalidInput)
	}

	var docs []domain.SourceDocument
	switch format {
	case "json":
		if raw[0] == '[' {
			err = json.Unmarshal(raw, &docs)
		} else {
			var wrapped file
			err = json.Unmarshal(raw, &wrapped)
			docs = wrapped.Documents
		}
	case "yaml":
		var node yaml.Node
		if err = yaml.Unmarshal(raw, &node); err == nil {
			if len(node.Content) > 0 && node.Content[0].Kind == yaml.SequenceNode {
				err = node.Decode(&docs)
			} else {
				var wrapped file
				err = node.Decode(&wrapped)
				docs = wrapped.Documents
			}
		}
	default:
		return nil, fmt.Errorf("%w: unknown corpus format %q", domain.ErrInvalidInput, format)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s corpus: %v", domain.ErrInvalidInput, format, err)
	}
	if err := validate(docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func validate(docs []domain.SourceDocument) error {
	if len(docs) == 0 {
		return fmt.Errorf("%w: corpus has no documents", domain.ErrInvalidInput)
	}
	seen := make(map[string]struct{}, len(docs))
	for _, doc := range docs {
		if err := doc.Validate(); err != nil {
			return err
		}
		if _, dup := seen[doc.DocumentID]; dup {
			return fmt.Errorf("%w: duplicate document_id %s", domain.ErrInvalidInput, doc.DocumentID)
		}
		seen[doc.DocumentID] = struct{}{}
	}
	return nil
}

func formatOf(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	default:
		return ""
	}
}
