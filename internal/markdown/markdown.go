// Package markdown handles the Markdown side of notes: derived titles,
// embedded image tokens, file export and HTML rendering.
package markdown

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"gopkg.in/yaml.v3"

	"github.com/starford/sangmemo/internal/models"
)

// Untitled is shown for notes with neither a title nor any text.
const Untitled = "Untitled"

const maxDerivedTitle = 50

var (
	imageRe    = regexp.MustCompile(`!\[([^\]]*)\]\((data:[^)\s]+)\)`)
	headingRe  = regexp.MustCompile(`^#{1,6}\s+`)
	unsafeName = regexp.MustCompile(`[\\/:*?"<>|\x00-\x1f]+`)
)

// Image is an inline image embedded in note content.
type Image struct {
	Alt string
	URI string
}

// ImageToken renders the markdown-image token for a data URI.
func ImageToken(alt, dataURI string) string {
	alt = strings.NewReplacer("[", "", "]", "").Replace(alt)
	return fmt.Sprintf("![%s](%s)", alt, dataURI)
}

// ExtractImages returns the data-URI images embedded in content, in order.
func ExtractImages(content string) []Image {
	matches := imageRe.FindAllStringSubmatch(content, -1)
	out := make([]Image, 0, len(matches))
	for _, m := range matches {
		out = append(out, Image{Alt: m[1], URI: m[2]})
	}
	return out
}

// StripImages removes embedded image tokens from content.
func StripImages(content string) string {
	return imageRe.ReplaceAllString(content, "")
}

// DisplayTitle returns the note title, or one derived from the first line of
// text when the note has none.
func DisplayTitle(n models.Note) string {
	if t := strings.TrimSpace(n.Title); t != "" {
		return t
	}
	for _, line := range strings.Split(StripImages(n.Content), "\n") {
		line = strings.TrimSpace(headingRe.ReplaceAllString(strings.TrimSpace(line), ""))
		if line == "" {
			continue
		}
		r := []rune(line)
		if len(r) > maxDerivedTitle {
			return string(r[:maxDerivedTitle]) + "…"
		}
		return line
	}
	return Untitled
}

// ExportOptions controls Export output.
type ExportOptions struct {
	Timestamps  bool
	Frontmatter bool
}

type frontmatter struct {
	Title      string    `yaml:"title"`
	Tags       []string  `yaml:"tags,omitempty"`
	Category   string    `yaml:"category,omitempty"`
	Importance string    `yaml:"importance,omitempty"`
	Created    time.Time `yaml:"created"`
	Updated    time.Time `yaml:"updated"`
}

// Export serializes a note as a Markdown document.
func Export(n models.Note, opts ExportOptions) ([]byte, error) {
	title := DisplayTitle(n)
	var buf bytes.Buffer

	if opts.Frontmatter {
		fm, err := yaml.Marshal(frontmatter{
			Title:      title,
			Tags:       n.Tags,
			Category:   n.Category,
			Importance: string(n.Importance),
			Created:    n.CreatedAt,
			Updated:    n.UpdatedAt,
		})
		if err != nil {
			return nil, fmt.Errorf("markdown: frontmatter: %w", err)
		}
		buf.WriteString("---\n")
		buf.Write(fm)
		buf.WriteString("---\n\n")
	}

	fmt.Fprintf(&buf, "# %s\n\n%s\n", title, n.Content)

	if opts.Timestamps {
		fmt.Fprintf(&buf, "\n---\nCreated: %s\nUpdated: %s\n",
			n.CreatedAt.Format("2006-01-02 15:04"),
			n.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return buf.Bytes(), nil
}

// FileName returns the download name for an exported note.
func FileName(n models.Note) string {
	name := strings.TrimSpace(unsafeName.ReplaceAllString(DisplayTitle(n), "_"))
	name = strings.TrimRight(name, "…")
	if name == "" {
		name = Untitled
	}
	return name + ".md"
}

// Renderer converts note content to HTML.
type Renderer struct {
	md goldmark.Markdown
}

// NewRenderer returns a Renderer with GitHub-flavoured extensions.
func NewRenderer() *Renderer {
	return &Renderer{md: goldmark.New(goldmark.WithExtensions(extension.GFM))}
}

// Render converts content to HTML.
func (r *Renderer) Render(content string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(content), &buf); err != nil {
		return "", fmt.Errorf("markdown: render: %w", err)
	}
	return buf.String(), nil
}
