// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes agencydesk documents to LLM clients via stdio transport.
package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/agencydesk/internal/docstore"
)

// Origin tags changes written through MCP tools.
const Origin = "mcp"

const bundleFormatURI = "agencydesk://bundle-format"

// Server wraps the MCP server with agencydesk tools.
type Server struct {
	mcp   *server.MCPServer
	store *docstore.Store
}

// New creates a new MCP server with all agencydesk tools registered.
func New(store *docstore.Store, version string) *Server {
	s := &Server{store: store}

	s.mcp = server.NewMCPServer(
		"agencydesk",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_documents",
		mcp.WithDescription("List stored documents with their size, checksum and last update time."),
	), s.listDocuments)

	s.mcp.AddTool(mcp.NewTool("load_document",
		mcp.WithDescription("Read the JSON value of a document."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Document key (e.g. clients, invoices)")),
	), s.loadDocument)

	s.mcp.AddTool(mcp.NewTool("save_document",
		mcp.WithDescription("Replace a document with a new JSON value. "+
			"Read the contract first via the "+bundleFormatURI+" resource."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Document key")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Complete JSON value of the document")),
	), s.saveDocument)

	s.mcp.AddTool(mcp.NewTool("export_bundle",
		mcp.WithDescription("Export every document as a backup bundle. Records the export as the last backup."),
	), s.exportBundle)

	s.mcp.AddTool(mcp.NewTool("import_bundle",
		mcp.WithDescription("Restore documents from a backup bundle. Nothing is written if the bundle is invalid."),
		mcp.WithString("bundle", mcp.Required(), mcp.Description("Bundle JSON text")),
	), s.importBundle)

	s.mcp.AddTool(mcp.NewTool("backup_status",
		mcp.WithDescription("Report the last backup time and whether there is data worth backing up."),
	), s.backupStatus)

	s.mcp.AddResource(
		mcp.NewResource(bundleFormatURI, "Bundle Format Contract",
			mcp.WithResourceDescription("Document key rules and backup bundle layout."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readBundleFormatResource,
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

func (s *Server) listDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docs, err := s.store.List()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(docs, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) loadDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := docstore.ValidateKey(key); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	raw, ok := s.store.Raw(key)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", key)), nil
	}
	return mcp.NewToolResultText(string(raw)), nil
}

func (s *Server) saveDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	raw := []byte(strings.TrimSpace(content))
	if err := s.store.SaveRaw(docstore.WithOrigin(ctx, Origin), key, raw); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("saved: %s", key)), nil
}

func (s *Server) exportBundle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var buf bytes.Buffer
	if _, err := s.store.ExportAllData(ctx, &buf); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(buf.String()), nil
}

func (s *Server) importBundle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	bundle, err := req.RequireString("bundle")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.store.ImportData(docstore.WithOrigin(ctx, Origin), []byte(bundle))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("imported: %d", n)), nil
}

func (s *Server) backupStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out, _ := json.Marshal(s.store.BackupStatus())
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) readBundleFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      bundleFormatURI,
			MIMEType: "text/markdown",
			Text:     BundleFormatContract,
		},
	}, nil
}
