package indexer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/scrypster/sage/internal/storage"
	"github.com/scrypster/sage/pkg/types"
)

// DocumentInput is one document or note to ingest. Markdown documents may
// carry YAML front matter between "---" fences; its fields become
// structured payload.
type DocumentInput struct {
	Name    string // filename or title
	Content string // raw content, front matter included
	Source  string
}

// docFrontMatter is the recognized front-matter schema. Unknown keys are
// ignored rather than rejected.
type docFrontMatter struct {
	Title   string    `yaml:"title"`
	Date    time.Time `yaml:"date"`
	Tags    []string  `yaml:"tags"`
	Summary string    `yaml:"summary"`
}

// IndexDocument stores a document. The ID hashes the content, so an edited
// document indexes as a new entity while the unchanged one is idempotent.
func (ix *Indexer) IndexDocument(ctx context.Context, in DocumentInput) (*types.Entity, error) {
	if strings.TrimSpace(in.Content) == "" {
		return nil, fmt.Errorf("%w: document needs content", storage.ErrInvalidInput)
	}

	fm, body := splitFrontMatter(in.Content)
	title := fm.Title
	if title == "" {
		title = in.Name
	}

	structured := map[string]interface{}{
		"title":   title,
		"name":    in.Name,
		"content": body,
	}
	if len(fm.Tags) > 0 {
		structured["tags"] = fm.Tags
	}

	entity := &types.Entity{
		ID:         "doc_" + contentHash(in.Content),
		EntityType: types.EntityTypeDocument,
		Source:     in.Source,
		Structured: structured,
		Analyzed:   types.Analysis{Summary: fm.Summary},
		Metadata:   types.EntityMetadata{Timestamp: fm.Date},
	}
	if err := ix.data.Store(ctx, entity); err != nil {
		return nil, fmt.Errorf("indexer: document %s: %w", entity.ID, err)
	}
	return entity, nil
}

// splitFrontMatter separates YAML front matter from body. Content without
// a leading "---" fence, or with unparseable YAML, is treated as all body.
func splitFrontMatter(content string) (docFrontMatter, string) {
	var fm docFrontMatter
	trimmed := strings.TrimLeft(content, "\n\r \t")
	if !strings.HasPrefix(trimmed, "---\n") {
		return fm, content
	}
	rest := trimmed[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return fm, content
	}
	if err := yaml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
		return docFrontMatter{}, content
	}
	body := rest[end+len("\n---"):]
	return fm, strings.TrimLeft(body, "\n\r")
}
