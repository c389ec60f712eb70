package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/guardian/internal/models"
	"github.com/joescharf/guardian/internal/store"
)

// Server exposes the issue store as MCP tools. It never creates issues;
// those only come from reviews.
type Server struct {
	store   store.Store
	version string
}

// NewServer creates the MCP server wrapper.
func NewServer(s store.Store, version string) *Server {
	if version == "" {
		version = "dev"
	}
	return &Server{store: s, version: version}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("guardian", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.listIssuesTool())
	srv.AddTool(s.getIssueTool())
	srv.AddTool(s.setStatusTool())
	srv.AddTool(s.addCommentTool())
	srv.AddTool(s.listCommentsTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

type issueOut struct {
	ID          int64  `json:"id"`
	FilePath    string `json:"file_path"`
	Description string `json:"description"`
	Suggestion  string `json:"suggestion"`
	Effort      string `json:"effort"`
	Status      string `json:"status"`
	RunID       string `json:"run_id,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func toIssueOut(issue *models.Issue) issueOut {
	return issueOut{
		ID:          issue.ID,
		FilePath:    issue.FilePath,
		Description: issue.Description,
		Suggestion:  issue.Suggestion,
		Effort:      string(issue.Effort),
		Status:      string(issue.Status),
		RunID:       issue.RunID,
		CreatedAt:   issue.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   issue.UpdatedAt.Format(time.RFC3339),
	}
}

type commentOut struct {
	ID        int64  `json:"id"`
	IssueID   int64  `json:"issue_id"`
	Author    string `json:"author"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
}

func toCommentOut(c *models.Comment) commentOut {
	return commentOut{
		ID:        c.ID,
		IssueID:   c.IssueID,
		Author:    c.Author,
		Text:      c.Text,
		CreatedAt: c.CreatedAt.Format(time.RFC3339),
	}
}

// guardian_list_issues
func (s *Server) listIssuesTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("guardian_list_issues",
		mcp.WithDescription("List code review issues, optionally filtered by file and status. Returns a JSON array; each issue has id, file_path, description, suggestion, effort (low/medium/high) and status (open/resolved/wontfix)."),
		mcp.WithString("file_path", mcp.Description("Only issues for this file")),
		mcp.WithString("status", mcp.Description("Status filter: open, resolved, wontfix")),
	)
	return tool, s.handleListIssues
}

func (s *Server) handleListIssues(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.IssueListFilter{
		FilePath: request.GetString("file_path", ""),
	}
	if status := request.GetString("status", ""); status != "" {
		filter.Status = models.IssueStatus(status)
		if !filter.Status.Valid() {
			return mcp.NewToolResultError(fmt.Sprintf("invalid status %q: want open, resolved or wontfix", status)), nil
		}
	}

	issues, err := s.store.ListIssues(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list issues: %v", err)), nil
	}

	out := make([]issueOut, len(issues))
	for i, issue := range issues {
		out[i] = toIssueOut(issue)
	}
	return jsonResult(out)
}

// guardian_get_issue
func (s *Server) getIssueTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("guardian_get_issue",
		mcp.WithDescription("Get one issue with its comments."),
		mcp.WithNumber("issue_id", mcp.Required(), mcp.Description("Issue id")),
	)
	return tool, s.handleGetIssue
}

func (s *Server) handleGetIssue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	issue, errResult := s.requireIssue(ctx, request)
	if errResult != nil {
		return errResult, nil
	}

	comments, err := s.store.ListComments(ctx, issue.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list comments: %v", err)), nil
	}

	out := struct {
		issueOut
		Comments []commentOut `json:"comments"`
	}{issueOut: toIssueOut(issue), Comments: make([]commentOut, len(comments))}
	for i, c := range comments {
		out.Comments[i] = toCommentOut(c)
	}
	return jsonResult(out)
}

// guardian_set_status
func (s *Server) setStatusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("guardian_set_status",
		mcp.WithDescription("Change an issue's status. Reopening fails if an identical issue is already open for the same file."),
		mcp.WithNumber("issue_id", mcp.Required(), mcp.Description("Issue id")),
		mcp.WithString("status", mcp.Required(), mcp.Description("New status: open, resolved, wontfix")),
	)
	return tool, s.handleSetStatus
}

func (s *Server) handleSetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := request.RequireString("status")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: status"), nil
	}
	issue, errResult := s.requireIssue(ctx, request)
	if errResult != nil {
		return errResult, nil
	}

	if err := s.store.SetStatus(ctx, issue.ID, models.IssueStatus(status)); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to update issue %d: %v", issue.ID, err)), nil
	}

	updated, err := s.store.GetIssue(ctx, issue.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to reload issue: %v", err)), nil
	}
	return jsonResult(toIssueOut(updated))
}

// guardian_add_comment
func (s *Server) addCommentTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("guardian_add_comment",
		mcp.WithDescription("Append a comment to an issue. Comments cannot be edited or deleted."),
		mcp.WithNumber("issue_id", mcp.Required(), mcp.Description("Issue id")),
		mcp.WithString("author", mcp.Required(), mcp.Description("Comment author")),
		mcp.WithString("text", mcp.Required(), mcp.Description("Comment text")),
	)
	return tool, s.handleAddComment
}

func (s *Server) handleAddComment(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	author := request.GetString("author", "")
	text, err := request.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: text"), nil
	}
	issue, errResult := s.requireIssue(ctx, request)
	if errResult != nil {
		return errResult, nil
	}

	c, err := s.store.AddComment(ctx, issue.ID, author, text)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to add comment: %v", err)), nil
	}
	return jsonResult(toCommentOut(c))
}

// guardian_list_comments
func (s *Server) listCommentsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("guardian_list_comments",
		mcp.WithDescription("List an issue's comments, oldest first."),
		mcp.WithNumber("issue_id", mcp.Required(), mcp.Description("Issue id")),
	)
	return tool, s.handleListComments
}

func (s *Server) handleListComments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	issue, errResult := s.requireIssue(ctx, request)
	if errResult != nil {
		return errResult, nil
	}

	comments, err := s.store.ListComments(ctx, issue.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list comments: %v", err)), nil
	}
	out := make([]commentOut, len(comments))
	for i, c := range comments {
		out[i] = toCommentOut(c)
	}
	return jsonResult(out)
}

// requireIssue loads the issue named by the issue_id argument, or returns
// a tool error result.
func (s *Server) requireIssue(ctx context.Context, request mcp.CallToolRequest) (*models.Issue, *mcp.CallToolResult) {
	id, err := request.RequireInt("issue_id")
	if err != nil {
		return nil, mcp.NewToolResultError("missing required parameter: issue_id")
	}
	issue, err := s.store.GetIssue(ctx, int64(id))
	if errors.Is(err, store.ErrNotFound) {
		return nil, mcp.NewToolResultError(fmt.Sprintf("issue not found: %d", id))
	}
	if err != nil {
		return nil, mcp.NewToolResultError(fmt.Sprintf("failed to get issue: %v", err))
	}
	return issue, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
