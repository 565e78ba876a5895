// Package export renders a chat session as JSON, YAML or Markdown.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"helixar/internal/models"
)

// Exporter writes one session in a specific format.
type Exporter interface {
	Export(session *models.ChatSession, w io.Writer) error
	Extension() string
	ContentType() string
}

// NewExporter returns the exporter for format.
func NewExporter(format string) (Exporter, error) {
	switch strings.ToLower(format) {
	case "", "json":
		return &JSONExporter{}, nil
	case "yaml", "yml":
		return &YAMLExporter{}, nil
	case "md", "markdown":
		return &MarkdownExporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s (supported: json, yaml, markdown)", format)
	}
}

type JSONExporter struct{}

func (e *JSONExporter) Export(session *models.ChatSession, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(session)
}

func (e *JSONExporter) Extension() string   { return "json" }
func (e *JSONExporter) ContentType() string { return "application/json" }

type YAMLExporter struct{}

func (e *YAMLExporter) Export(session *models.ChatSession, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	defer func() { _ = enc.Close() }()
	return enc.Encode(session)
}

func (e *YAMLExporter) Extension() string   { return "yaml" }
func (e *YAMLExporter) ContentType() string { return "application/yaml" }

// MarkdownExporter writes a readable transcript. Message bodies are already markdown
// and are copied through unchanged.
type MarkdownExporter struct{}

func (e *MarkdownExporter) Export(session *models.ChatSession, w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", session.Title)
	fmt.Fprintf(&b, "**Session:** %s  \n", session.ID)
	fmt.Fprintf(&b, "**Updated:** %s  \n", session.Updated().UTC().Format(time.RFC3339))
	if session.IsGroup {
		fmt.Fprintf(&b, "**Group link:** %s  \n", session.GroupLink)
	}
	fmt.Fprintf(&b, "**Messages:** %d\n\n", len(session.Messages))

	for i, msg := range session.Messages {
		fmt.Fprintf(&b, "**%s** (%s)\n\n%s\n\n", roleLabel(msg.Role), msg.Time().UTC().Format(time.RFC3339), msg.Content)
		if msg.Analysis != nil {
			fmt.Fprintf(&b, "> Attachment: %s (%s)\n\n", msg.Analysis.Title, msg.Analysis.Type)
		}
		if i < len(session.Messages)-1 {
			b.WriteString("---\n\n")
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func (e *MarkdownExporter) Extension() string   { return "md" }
func (e *MarkdownExporter) ContentType() string { return "text/markdown; charset=utf-8" }

func roleLabel(r models.Role) string {
	switch r {
	case models.RoleUser:
		return "You"
	case models.RoleAssistant:
		return "Helixar"
	default:
		return string(r)
	}
}
