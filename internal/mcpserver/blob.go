package mcpserver

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/entbrowser/internal/entityservice"
)

const (
	maxBlobSize  = entityservice.MaxBlobSize
	maxRedirects = 5
)

func (s *Server) putBlob(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	src, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var data []byte
	if strings.HasPrefix(src, "data:") {
		data, err = decodeDataURI(src)
	} else {
		data, err = s.fetch.get(ctx, src)
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(data) > maxBlobSize {
		return mcp.NewToolResultError(fmt.Sprintf("blob too large: %d bytes (max %d)", len(data), maxBlobSize)), nil
	}

	blob, err := s.store.PutBlob(ctx, id, name, data)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(blob)
}

// decodeDataURI returns the payload of a data:[<mediatype>][;base64],<data>
// URI. Payloads without ;base64 are percent-decoded.
func decodeDataURI(uri string) ([]byte, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return nil, errors.New("invalid data URI: missing comma")
	}
	if !strings.HasSuffix(meta, ";base64") {
		s, err := url.PathUnescape(payload)
		if err != nil {
			return nil, fmt.Errorf("invalid data URI payload: %w", err)
		}
		return []byte(s), nil
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err == nil {
		return data, nil
	}
	if data, err = base64.RawStdEncoding.DecodeString(payload); err != nil {
		return nil, fmt.Errorf("invalid base64 payload: %w", err)
	}
	return data, nil
}

// fetcher downloads blob payloads over http(s). Addresses are checked when
// the connection is dialed, so neither DNS answers nor redirects can reach
// loopback or link-local hosts such as cloud metadata endpoints.
type fetcher struct {
	client *http.Client
}

func newFetcher() *fetcher {
	dialer := &net.Dialer{Timeout: 10 * time.Second, Control: refuseInternal}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext

	return &fetcher{client: &http.Client{
		Timeout:   30 * time.Second,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("too many redirects (max %d)", maxRedirects)
			}
			return checkScheme(req.URL)
		},
	}}
}

func (f *fetcher) get(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if err := checkScheme(u); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}
	if resp.ContentLength > maxBlobSize {
		return nil, fmt.Errorf("blob too large: %d bytes (max %d)", resp.ContentLength, maxBlobSize)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBlobSize+1))
	if err != nil {
		return nil, fmt.Errorf("read body failed: %w", err)
	}
	if len(data) > maxBlobSize {
		return nil, fmt.Errorf("blob too large: exceeds %d bytes", maxBlobSize)
	}
	return data, nil
}

func checkScheme(u *url.URL) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q (only http and https)", u.Scheme)
	}
	return nil
}

// refuseInternal is a net.Dialer Control hook run with the resolved address.
func refuseInternal(_, address string, _ syscall.RawConn) error {
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return fmt.Errorf("blocked address %s: %w", address, err)
	}
	if internalAddr(ap.Addr()) {
		return fmt.Errorf("blocked address %s", ap.Addr())
	}
	return nil
}

func internalAddr(a netip.Addr) bool {
	a = a.Unmap()
	return a.IsLoopback() || a.IsLinkLocalUnicast() || a.IsLinkLocalMulticast() || a.IsUnspecified()
}
