package markdown

import (
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/starford/sangmemo/internal/models"
)

const pixel = "data:image/png;base64,iVBORw0KGgo="

func TestDisplayTitle(t *testing.T) {
	cases := []struct {
		name string
		note models.Note
		want string
	}{
		{"explicit", models.Note{Title: " Plan ", Content: "body"}, "Plan"},
		{"first line", models.Note{Content: "\n\nbuy milk\nbuy eggs"}, "buy milk"},
		{"heading stripped", models.Note{Content: "## Weekly review\n- a"}, "Weekly review"},
		{"image skipped", models.Note{Content: ImageToken("cat", pixel) + "\ncaption"}, "caption"},
		{"empty", models.Note{}, Untitled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DisplayTitle(tc.note); got != tc.want {
				t.Errorf("DisplayTitle = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestDisplayTitleTruncatesLongLines(t *testing.T) {
	got := DisplayTitle(models.Note{Content: strings.Repeat("a", 80)})
	if len([]rune(got)) != maxDerivedTitle+1 || !strings.HasSuffix(got, "…") {
		t.Errorf("DisplayTitle = %q", got)
	}
}

func TestImageTokens(t *testing.T) {
	content := "intro\n" + ImageToken("a [b]", pixel) + "\n" + ImageToken("", pixel)
	imgs := ExtractImages(content)
	if len(imgs) != 2 {
		t.Fatalf("images = %d, want 2", len(imgs))
	}
	if imgs[0].Alt != "a b" || imgs[0].URI != pixel {
		t.Errorf("first image = %+v", imgs[0])
	}
	if strings.Contains(StripImages(content), "data:") {
		t.Error("StripImages left a data URI behind")
	}
}

func TestExportWithTimestamps(t *testing.T) {
	n := models.NewNote(time.Date(2025, 5, 6, 7, 8, 0, 0, time.UTC))
	n.Title = "Trip"
	n.Content = "pack bags"

	out, err := Export(n, ExportOptions{Timestamps: true})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	s := string(out)
	if !strings.HasPrefix(s, "# Trip\n\npack bags\n") {
		t.Errorf("unexpected body: %q", s)
	}
	if !strings.Contains(s, "Created: 2025-05-06 07:08") {
		t.Errorf("missing created stamp: %q", s)
	}

	plain, _ := Export(n, ExportOptions{})
	if strings.Contains(string(plain), "Created:") {
		t.Error("timestamps should be omitted by default")
	}
}

func TestExportFrontmatterIsValidYAML(t *testing.T) {
	n := models.NewNote(time.Now())
	n.Title = "Trip: day 1"
	n.Tags = []string{"travel", "plan"}

	out, err := Export(n, ExportOptions{Frontmatter: true})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	parts := strings.SplitN(string(out), "---\n", 3)
	if len(parts) != 3 {
		t.Fatalf("expected frontmatter fences, got %q", out)
	}
	var fm map[string]any
	if err := yaml.Unmarshal([]byte(parts[1]), &fm); err != nil {
		t.Fatalf("frontmatter: %v", err)
	}
	if fm["title"] != "Trip: day 1" {
		t.Errorf("title = %v", fm["title"])
	}
}

func TestFileName(t *testing.T) {
	if got := FileName(models.Note{Title: "a/b: c?"}); got != "a_b_ c_.md" {
		t.Errorf("FileName = %q", got)
	}
	if got := FileName(models.Note{}); got != Untitled+".md" {
		t.Errorf("FileName = %q", got)
	}
}

func TestRender(t *testing.T) {
	html, err := NewRenderer().Render("# Title\n\n- one\n- two\n\n**bold**")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	for _, want := range []string{"<h1>Title</h1>", "<li>one</li>", "<strong>bold</strong>"} {
		if !strings.Contains(html, want) {
			t.Errorf("html missing %q: %s", want, html)
		}
	}
}
