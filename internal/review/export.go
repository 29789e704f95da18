package review

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/starford/vault/internal/apperr"
	"github.com/starford/vault/internal/models"
)

// Export formats.
const (
	FormatText     = "txt"
	FormatJSON     = "json"
	FormatMarkdown = "md"
)

// Filename returns the download name for format.
func Filename(format string) string {
	return "highlights." + format
}

// ContentType returns the MIME type for format.
func ContentType(format string) string {
	switch format {
	case FormatJSON:
		return "application/json"
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	}
	return "text/plain; charset=utf-8"
}

// Export writes hs to w. An empty format means FormatText.
//
// The text format is one block per highlight, `"text"`, title and url on
// their own lines, blocks separated by a "---" line.
func Export(w io.Writer, hs []models.Highlight, format string) error {
	switch format {
	case "", FormatText:
		blocks := make([]string, len(hs))
		for i, h := range hs {
			blocks[i] = fmt.Sprintf("\"%s\"\n%s\n%s\n", h.Text, h.Title, h.URL)
		}
		_, err := io.WriteString(w, strings.Join(blocks, "\n---\n"))
		return err
	case FormatJSON:
		if hs == nil {
			hs = []models.Highlight{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(models.Collection{Highlights: hs})
	case FormatMarkdown:
		var sb strings.Builder
		sb.WriteString("# Highlights\n")
		for _, h := range hs {
			sb.WriteString("\n> ")
			sb.WriteString(strings.ReplaceAll(h.Text, "\n", "\n> "))
			sb.WriteString("\n\n")
			title := DisplayTitle(h.Title)
			if title == "" {
				title = h.URL
			}
			fmt.Fprintf(&sb, "[%s](%s)\n", title, models.DeepLink(h.URL, h.Text))
		}
		_, err := io.WriteString(w, sb.String())
		return err
	}
	return fmt.Errorf("%w: unknown export format %q", apperr.ErrInvalid, format)
}
