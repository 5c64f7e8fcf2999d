package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/netip"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/entbrowser/internal/entityservice"
	"github.com/starford/entbrowser/internal/models"
)

func testServer(t *testing.T) (*Server, *entityservice.Service) {
	t.Helper()
	store, err := entityservice.New(entityservice.Options{
		Database: models.DatabaseSummary{UUID: "mcp-test"},
		InMemory: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Stop() })
	return New(store, "test"), store
}

func callTool(t *testing.T, srv *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	var result *mcp.CallToolResult
	var err error

	switch name {
	case "list_types":
		result, err = srv.listTypes(ctx, req)
	case "search_entities":
		result, err = srv.searchEntities(ctx, req)
	case "get_entity":
		result, err = srv.getEntity(ctx, req)
	case "get_linked_entities":
		result, err = srv.getLinkedEntities(ctx, req)
	case "put_blob":
		result, err = srv.putBlob(ctx, req)
	case "get_query_syntax":
		result, err = srv.getQuerySyntax(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func seed(t *testing.T, store *entityservice.Service) (group, user models.EntityView) {
	t.Helper()
	ctx := context.Background()
	group, err := store.Create(ctx, models.EntityView{
		Type:       "Group",
		Properties: []models.PropertyView{{Name: "name", Type: models.TypeString, Value: "admins"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	user, err = store.Create(ctx, models.EntityView{
		Type:       "User",
		Properties: []models.PropertyView{{Name: "login", Type: models.TypeString, Value: "bob"}},
		Links:      []models.LinkView{{Name: "group", Targets: []models.LinkTarget{{ID: group.ID}}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	return group, user
}

func TestListTypes(t *testing.T) {
	srv, store := testServer(t)
	seed(t, store)

	var types []models.EntityTypeView
	if err := json.Unmarshal([]byte(resultText(callTool(t, srv, "list_types", nil))), &types); err != nil {
		t.Fatal(err)
	}
	if len(types) != 2 || types[0].Name != "Group" || types[1].Count != 1 {
		t.Errorf("types = %+v", types)
	}
}

func TestSearchEntities(t *testing.T) {
	srv, store := testServer(t)
	seed(t, store)

	r := callTool(t, srv, "search_entities", map[string]any{"type": "User", "query": "login=bob", "pageSize": float64(5)})
	var pager models.SearchPager
	if err := json.Unmarshal([]byte(resultText(r)), &pager); err != nil {
		t.Fatal(err)
	}
	if pager.TotalCount != 1 || pager.Items[0].Label != "bob" {
		t.Errorf("pager = %+v", pager)
	}

	r = callTool(t, srv, "search_entities", map[string]any{"type": "User", "query": "login>="})
	if !r.IsError {
		t.Error("expected error for malformed query")
	}
	r = callTool(t, srv, "search_entities", map[string]any{"type": "User", "offset": "two"})
	if !r.IsError {
		t.Error("expected error for non-numeric offset")
	}
	r = callTool(t, srv, "search_entities", map[string]any{})
	if !r.IsError {
		t.Error("expected error for missing type")
	}
}

func TestGetEntityAndLinks(t *testing.T) {
	srv, store := testServer(t)
	group, user := seed(t, store)

	text := resultText(callTool(t, srv, "get_entity", map[string]any{"id": user.ID}))
	if !strings.Contains(text, `"login"`) || !strings.Contains(text, group.ID) {
		t.Errorf("get_entity = %s", text)
	}

	r := callTool(t, srv, "get_linked_entities", map[string]any{"id": user.ID, "link": "group"})
	var pager models.SearchPager
	if err := json.Unmarshal([]byte(resultText(r)), &pager); err != nil {
		t.Fatal(err)
	}
	if pager.TotalCount != 1 || pager.Items[0].ID != group.ID {
		t.Errorf("linked = %+v", pager)
	}

	if r := callTool(t, srv, "get_entity", map[string]any{"id": "7-7"}); !r.IsError {
		t.Error("expected error for missing entity")
	}
}

func TestPutBlobDataURI(t *testing.T) {
	srv, store := testServer(t)
	_, user := seed(t, store)

	uri := "data:text/plain;base64," + base64.StdEncoding.EncodeToString([]byte("hello"))
	r := callTool(t, srv, "put_blob", map[string]any{"id": user.ID, "name": "note", "url": uri})
	if r.IsError {
		t.Fatalf("put_blob: %s", resultText(r))
	}
	var blob models.BlobView
	if err := json.Unmarshal([]byte(resultText(r)), &blob); err != nil {
		t.Fatal(err)
	}
	if blob.Size != 5 {
		t.Errorf("size = %d, want 5", blob.Size)
	}

	data, err := store.Blob(context.Background(), user.ID, "note")
	if err != nil || string(data) != "hello" {
		t.Errorf("stored blob = %q, %v", data, err)
	}
}

func TestPutBlobRejects(t *testing.T) {
	srv, store := testServer(t)
	_, user := seed(t, store)

	cases := map[string]string{
		"missing comma": "data:text/plain;base64",
		"bad payload":   "data:text/plain;base64,!!!",
		"bad escape":    "data:text/plain,%zz",
		"bad scheme":    "ftp://example.com/file",
		"loopback host": "http://127.0.0.1:1/file",
		"metadata host": "http://169.254.169.254/latest",
		"unspecified":   "http://[::]:1/file",
	}
	for name, uri := range cases {
		r := callTool(t, srv, "put_blob", map[string]any{"id": user.ID, "name": "x", "url": uri})
		if !r.IsError {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestPutBlobPlainDataURI(t *testing.T) {
	srv, store := testServer(t)
	_, user := seed(t, store)

	r := callTool(t, srv, "put_blob", map[string]any{"id": user.ID, "name": "note", "url": "data:,hello%20world"})
	if r.IsError {
		t.Fatalf("put_blob: %s", resultText(r))
	}
	data, err := store.Blob(context.Background(), user.ID, "note")
	if err != nil || string(data) != "hello world" {
		t.Errorf("stored blob = %q, %v", data, err)
	}
}

func TestInternalAddr(t *testing.T) {
	for addr, want := range map[string]bool{
		"127.0.0.1":        true,
		"::1":              true,
		"169.254.169.254":  true,
		"fe80::1":          true,
		"0.0.0.0":          true,
		"::ffff:127.0.0.1": true,
		"93.184.216.34":    false,
		"10.0.0.5":         false,
	} {
		if got := internalAddr(netip.MustParseAddr(addr)); got != want {
			t.Errorf("internalAddr(%s) = %v, want %v", addr, got, want)
		}
	}
}

func TestQuerySyntax(t *testing.T) {
	srv, _ := testServer(t)
	if got := resultText(callTool(t, srv, "get_query_syntax", nil)); got != QuerySyntax {
		t.Error("get_query_syntax must return the syntax reference")
	}
	contents, err := srv.readQuerySyntaxResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil || len(contents) != 1 {
		t.Fatalf("resource = %v, %v", contents, err)
	}
	if tc := contents[0].(mcp.TextResourceContents); tc.URI != QuerySyntaxURI {
		t.Errorf("uri = %s", tc.URI)
	}
}
