// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes sangmemo tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/sangmemo/internal/images"
	"github.com/starford/sangmemo/internal/markdown"
	"github.com/starford/sangmemo/internal/models"
	"github.com/starford/sangmemo/internal/noteservice"
	"github.com/starford/sangmemo/internal/notify"
)

const contractURI = "sangmemo://note-format"

// Server wraps the MCP server with sangmemo tools.
type Server struct {
	mcp     *server.MCPServer
	svc     *noteservice.Service
	sched   *notify.Scheduler
	fetcher *images.Fetcher
}

// noteSummary is the listing shape returned by list_notes and search_notes.
type noteSummary struct {
	ID         string            `json:"id"`
	Title      string            `json:"title"`
	Importance models.Importance `json:"importance"`
	Category   string            `json:"category,omitempty"`
	Tags       []string          `json:"tags"`
	IsLocked   bool              `json:"isLocked,omitempty"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

type searchHit struct {
	noteSummary
	Score        float64           `json:"score"`
	SearchType   models.SearchType `json:"searchType"`
	MatchedTerms []string          `json:"matchedTerms"`
}

func summarize(n models.Note) noteSummary {
	return noteSummary{
		ID:         n.ID,
		Title:      markdown.DisplayTitle(n),
		Importance: n.Importance,
		Category:   n.Category,
		Tags:       n.Tags,
		IsLocked:   n.IsLocked,
		UpdatedAt:  n.UpdatedAt,
	}
}

// New creates a new MCP server with all sangmemo tools registered. sched may
// be nil, in which case list_notifications reports that notifications are off.
func New(svc *noteservice.Service, sched *notify.Scheduler, fetcher *images.Fetcher) *Server {
	if fetcher == nil {
		fetcher = images.NewFetcher()
	}
	s := &Server{svc: svc, sched: sched, fetcher: fetcher}

	s.mcp = server.NewMCPServer(
		"sangmemo",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_notes",
		mcp.WithDescription("Ranked search through note titles, tags and content. "+
			"Locked notes match by title and tags only."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchNotes)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read a note as Markdown with YAML frontmatter. Counts as a view."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
		mcp.WithString("password", mcp.Description("Password of a locked note")),
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("create_note",
		mcp.WithDescription("Create a new note. Read the contract first via the "+
			"get_note_contract tool or the "+contractURI+" resource."),
		mcp.WithString("content", mcp.Required(), mcp.Description("Markdown content")),
		mcp.WithString("title", mcp.Description("Optional title")),
		mcp.WithString("tags", mcp.Description("Comma-separated tags")),
		mcp.WithString("importance", mcp.Enum("low", "medium", "high"), mcp.Description("Importance, default medium")),
		mcp.WithString("category", mcp.Description("Optional category")),
		mcp.WithString("reminder", mcp.Description("Optional RFC 3339 reminder time")),
	), s.createNote)

	s.mcp.AddTool(mcp.NewTool("get_note_contract",
		mcp.WithDescription("Returns the sangmemo note format contract. "+
			"Call this before creating notes to ensure correct structure."),
	), s.getNoteContract)

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List notes with optional sorting and filtering."),
		mcp.WithString("sort", mcp.Enum("updatedAt", "createdAt", "importance", "title")),
		mcp.WithString("category", mcp.Description("Only notes in this category")),
		mcp.WithString("importance", mcp.Enum("low", "medium", "high"), mcp.Description("Only notes at this level")),
	), s.listNotes)

	s.mcp.AddTool(mcp.NewTool("organize_note",
		mcp.WithDescription("Restructure a note's content into clean Markdown with the assistant."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
	), s.organizeNote)

	s.mcp.AddTool(mcp.NewTool("suggest_tags",
		mcp.WithDescription("Ask the assistant for tags and merge them into the note."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
	), s.suggestTags)

	s.mcp.AddTool(mcp.NewTool("list_notifications",
		mcp.WithDescription("List reminder and forgotten-note notifications, newest first."),
		mcp.WithBoolean("unread_only", mcp.Description("Only unread notifications")),
	), s.listNotifications)

	s.mcp.AddTool(mcp.NewTool("attach_image",
		mcp.WithDescription("Embed an image at the end of a note. Set exactly one of data_uri and url."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
		mcp.WithString("data_uri", mcp.Description("data:image/...;base64,... URI")),
		mcp.WithString("url", mcp.Description("http(s) URL to download")),
		mcp.WithString("alt", mcp.Description("Alt text")),
	), s.attachImage)

	// Resource: note format contract.
	s.mcp.AddResource(
		mcp.NewResource(contractURI, "Note Format Contract",
			mcp.WithResourceDescription("Shape and rules of sangmemo notes."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readNoteFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) *mcp.CallToolResult {
	out, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(out))
}

func (s *Server) searchNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results := s.svc.Search(ctx, query)
	hits := make([]searchHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, searchHit{
			noteSummary:  summarize(r.Memo),
			Score:        r.RelevanceScore,
			SearchType:   r.SearchType,
			MatchedTerms: r.MatchedTerms,
		})
	}
	return jsonResult(hits), nil
}

func (s *Server) readNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.svc.View(ctx, id, req.GetString("password", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := markdown.Export(n, markdown.ExportOptions{Frontmatter: true})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) createNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	importance, err := models.ParseImportance(req.GetString("importance", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var reminder time.Time
	if raw := req.GetString("reminder", ""); raw != "" {
		if reminder, err = time.Parse(time.RFC3339, raw); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid reminder: %v", err)), nil
		}
	}

	created, err := s.svc.Create(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	in := models.Note{
		ID:           created.ID,
		Title:        req.GetString("title", ""),
		Content:      content,
		Tags:         strings.Split(req.GetString("tags", ""), ","),
		Importance:   importance,
		Category:     req.GetString("category", ""),
		ReminderDate: reminder,
	}
	saved, err := s.svc.Save(ctx, in, "")
	if err != nil {
		// Do not leave the empty note behind.
		_ = s.svc.Delete(ctx, created.ID)
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s", saved.ID)), nil
}

func (s *Server) listNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sortBy, err := models.ParseSortBy(req.GetString("sort", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	opts := noteservice.ListOptions{Sort: sortBy, Filter: models.FilterAll}
	switch {
	case req.GetString("category", "") != "":
		opts.Filter = models.FilterCategory
		opts.Category = req.GetString("category", "")
	case req.GetString("importance", "") != "":
		opts.Filter = models.FilterImportance
		if opts.Importance, err = models.ParseImportance(req.GetString("importance", "")); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}

	notes, err := s.svc.List(ctx, opts)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out := make([]noteSummary, 0, len(notes))
	for _, n := range notes {
		out = append(out, summarize(n))
	}
	return jsonResult(out), nil
}

func (s *Server) organizeNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.svc.Organize(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(n.Content), nil
}

func (s *Server) suggestTags(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.svc.SuggestTags(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(strings.Join(n.Tags, ", ")), nil
}

func (s *Server) listNotifications(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.sched == nil {
		return mcp.NewToolResultError("notifications are not enabled"), nil
	}
	unreadOnly := req.GetBool("unread_only", false)
	items := []models.NotificationItem{}
	for _, it := range s.sched.All() {
		if unreadOnly && it.IsRead {
			continue
		}
		items = append(items, it)
	}
	return jsonResult(items), nil
}

func (s *Server) attachImage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	dataURI, rawURL := req.GetString("data_uri", ""), req.GetString("url", "")

	var img images.Image
	switch {
	case dataURI != "" && rawURL != "":
		return mcp.NewToolResultError("set either data_uri or url, not both"), nil
	case dataURI != "":
		img, err = images.FromDataURI(dataURI)
	case rawURL != "":
		img, err = s.fetcher.Fetch(ctx, rawURL)
	default:
		return mcp.NewToolResultError("data_uri or url is required"), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if _, err := s.svc.AttachImage(ctx, id, img, req.GetString("alt", "")); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("attached %s (%d bytes) to %s", img.MIME, len(img.Data), id)), nil
}

func (s *Server) getNoteContract(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(NoteFormatContract), nil
}

func (s *Server) readNoteFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      contractURI,
			MIMEType: "text/markdown",
			Text:     NoteFormatContract,
		},
	}, nil
}
