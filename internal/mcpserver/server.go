// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes one entity database to LLM clients via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/entbrowser/internal/entityservice"
)

// QuerySyntaxURI is the resource describing the search query language.
const QuerySyntaxURI = "entbrowser://query-syntax"

// Server wraps the MCP server with entity browsing tools.
type Server struct {
	mcp   *server.MCPServer
	store *entityservice.Service
	fetch *fetcher
}

// New creates a new MCP server with all tools registered against store.
func New(store *entityservice.Service, version string) *Server {
	s := &Server{store: store, fetch: newFetcher()}

	s.mcp = server.NewMCPServer(
		"entbrowser",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_types",
		mcp.WithDescription("List the entity types of the database with their entity counts."),
	), s.listTypes)

	s.mcp.AddTool(mcp.NewTool("search_entities",
		mcp.WithDescription("Search entities of one type. The query language is described by "+
			"the get_query_syntax tool or the "+QuerySyntaxURI+" resource."),
		mcp.WithString("type", mcp.Required(), mcp.Description("Entity type name")),
		mcp.WithString("query", mcp.Description("Search query; empty matches every entity")),
		mcp.WithNumber("offset", mcp.Description("Number of matches to skip")),
		mcp.WithNumber("pageSize", mcp.Description("Maximum number of entities to return")),
	), s.searchEntities)

	s.mcp.AddTool(mcp.NewTool("get_entity",
		mcp.WithDescription("Read one entity with its properties, links and blob descriptors."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Entity id in the form <typeId>-<localId>")),
	), s.getEntity)

	s.mcp.AddTool(mcp.NewTool("get_linked_entities",
		mcp.WithDescription("Page through the targets of a named link of an entity."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Source entity id")),
		mcp.WithString("link", mcp.Required(), mcp.Description("Link name")),
		mcp.WithNumber("offset", mcp.Description("Number of targets to skip")),
		mcp.WithNumber("pageSize", mcp.Description("Maximum number of targets to return")),
	), s.getLinkedEntities)

	s.mcp.AddTool(mcp.NewTool("put_blob",
		mcp.WithDescription("Store a blob on an entity from a base64 data URI or an http(s) URL."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Entity id")),
		mcp.WithString("name", mcp.Required(), mcp.Description("Blob name")),
		mcp.WithString("url", mcp.Required(), mcp.Description("data:<mime>;base64,<payload> or http(s) URL")),
	), s.putBlob)

	s.mcp.AddTool(mcp.NewTool("get_query_syntax",
		mcp.WithDescription("Returns the search query language reference. "+
			"Call this before building queries for search_entities."),
	), s.getQuerySyntax)

	s.mcp.AddResource(
		mcp.NewResource(QuerySyntaxURI, "Search Query Syntax",
			mcp.WithResourceDescription("Grammar and examples of the entity search query language."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readQuerySyntaxResource,
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

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

// intArg reads an optional numeric argument. JSON numbers arrive as float64.
func intArg(req mcp.CallToolRequest, name string) (int, error) {
	raw, ok := req.GetArguments()[name]
	if !ok || raw == nil {
		return 0, nil
	}
	switch v := raw.(type) {
	case float64:
		return int(v), nil
	case int:
		return v, nil
	}
	return 0, fmt.Errorf("argument %q must be a number", name)
}

func stringArg(req mcp.CallToolRequest, name string) string {
	v, _ := req.GetArguments()[name].(string)
	return v
}

func (s *Server) listTypes(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	types, err := s.store.Types(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(types)
}

func (s *Server) searchEntities(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	typeName, err := req.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	offset, err := intArg(req, "offset")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	pageSize, err := intArg(req, "pageSize")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	pager, err := s.store.Search(ctx, typeName, stringArg(req, "query"), offset, pageSize)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(pager)
}

func (s *Server) getEntity(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	view, err := s.store.Get(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(view)
}

func (s *Server) getLinkedEntities(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	link, err := req.RequireString("link")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	offset, err := intArg(req, "offset")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	pageSize, err := intArg(req, "pageSize")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	pager, err := s.store.Linked(ctx, id, link, offset, pageSize)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(pager)
}

func (s *Server) getQuerySyntax(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(QuerySyntax), nil
}

func (s *Server) readQuerySyntaxResource(context.Context, mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      QuerySyntaxURI,
			MIMEType: "text/markdown",
			Text:     QuerySyntax,
		},
	}, nil
}
