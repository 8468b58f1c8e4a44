package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/okeanos-dev/imagestore/interfaces"
)

// Option keys recognized by the http driver.
const (
	OptHTTPTimeout = "http_store_timeout"
)

// HTTPAddress locates an image served by a plain HTTP or HTTPS endpoint,
// optionally with basic-auth credentials embedded in the URI userinfo.
type HTTPAddress struct {
	Scheme   string // http or https
	User     string
	Password string
	Host     string // host[:port]
	Path     string
}

// URI renders the address back into its original identifier form.
func (a HTTPAddress) URI() string {
	var b strings.Builder
	b.WriteString(a.Scheme)
	b.WriteString("://")
	if a.User != "" {
		b.WriteString(url.User(a.User).String())
		if a.Password != "" {
			b.WriteString(":")
			b.WriteString(url.QueryEscape(a.Password))
		}
		b.WriteString("@")
	}
	b.WriteString(a.Host)
	b.WriteString(a.Path)
	return b.String()
}

// ParseHTTPURI parses http:// and https:// location URIs.
func ParseHTTPURI(uri string) (interfaces.Address, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrMalformedLocation, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unexpected scheme in %q", interfaces.ErrMalformedLocation, uri)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host in %q", interfaces.ErrMalformedLocation, uri)
	}
	addr := HTTPAddress{Scheme: u.Scheme, Host: u.Host, Path: u.Path}
	if u.User != nil {
		addr.User = u.User.Username()
		addr.Password, _ = u.User.Password()
	}
	return addr, nil
}

// HTTPStore serves images from existing HTTP endpoints. It is strictly read
// only: images are published by whatever runs the remote server, so Add and
// Delete are permanently disabled and the capability flags say so.
type HTTPStore struct {
	client *http.Client
	log    *slog.Logger
}

// HTTPDriver returns the driver descriptor for the read-only http store.
func HTTPDriver() Driver {
	return Driver{
		Name:    "http",
		Schemes: []string{"http", "https"},
		Parse:   ParseHTTPURI,
		New: func(log *slog.Logger) interfaces.Store {
			return &HTTPStore{log: log}
		},
	}
}

// Configure applies the optional request timeout.
func (s *HTTPStore) Configure(opts interfaces.Options) error {
	s.client = &http.Client{
		Timeout: opts.Duration(OptHTTPTimeout, 30*time.Second),
	}
	return nil
}

// Schemes returns the schemes handled by this store.
func (s *HTTPStore) Schemes() []string {
	return []string{"http", "https"}
}

// Capabilities reports the store as read-only.
func (s *HTTPStore) Capabilities(ctx context.Context) interfaces.Capabilities {
	return interfaces.Capabilities{Read: true}
}

// Add is not supported by the read-only http store.
func (s *HTTPStore) Add(ctx context.Context, id string, r io.Reader, size int64) (*interfaces.AddResult, error) {
	return nil, interfaces.ErrAddDisabled
}

// Delete is not supported by the read-only http store.
func (s *HTTPStore) Delete(ctx context.Context, loc *interfaces.Location) error {
	return interfaces.ErrDeleteDisabled
}

// Get streams the remote object. The response body is handed to the caller
// unread; closing it releases the connection even when the caller abandons
// the stream early.
func (s *HTTPStore) Get(ctx context.Context, loc *interfaces.Location) (io.ReadCloser, int64, error) {
	addr, err := s.address(loc)
	if err != nil {
		return nil, 0, err
	}

	resp, err := s.do(ctx, http.MethodGet, addr)
	if err != nil {
		return nil, 0, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, statusError(resp.StatusCode, addr.URI())
	}
	return resp.Body, resp.ContentLength, nil
}

// Size issues a HEAD request and reads the Content-Length, never the body.
func (s *HTTPStore) Size(ctx context.Context, loc *interfaces.Location) (int64, error) {
	addr, err := s.address(loc)
	if err != nil {
		return 0, err
	}

	resp, err := s.do(ctx, http.MethodHead, addr)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, statusError(resp.StatusCode, addr.URI())
	}
	if resp.ContentLength < 0 {
		return 0, fmt.Errorf("%w: %s reports no Content-Length", interfaces.ErrRemoteUnavailable, addr.URI())
	}
	return resp.ContentLength, nil
}

func (s *HTTPStore) do(ctx context.Context, method string, addr HTTPAddress) (*http.Response, error) {
	target := fmt.Sprintf("%s://%s%s", addr.Scheme, addr.Host, addr.Path)
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrMalformedLocation, err)
	}
	if addr.User != "" {
		req.SetBasicAuth(addr.User, addr.Password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Debug("HTTP store request failed",
			slog.String("method", method),
			slog.String("host", addr.Host),
			"err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrRemoteUnavailable, err)
	}
	return resp, nil
}

func (s *HTTPStore) address(loc *interfaces.Location) (HTTPAddress, error) {
	addr, ok := loc.Address.(HTTPAddress)
	if !ok {
		return HTTPAddress{}, fmt.Errorf("%w: not an http location", interfaces.ErrMalformedLocation)
	}
	return addr, nil
}

// statusError maps an unexpected HTTP status to the framework error taxonomy.
func statusError(code int, uri string) error {
	switch {
	case code == http.StatusNotFound || code == http.StatusGone:
		return fmt.Errorf("%w: %s", interfaces.ErrNotFound, uri)
	default:
		return fmt.Errorf("%w: %s returned HTTP %d", interfaces.ErrRemoteUnavailable, uri, code)
	}
}
