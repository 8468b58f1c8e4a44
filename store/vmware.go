package store

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/okeanos-dev/imagestore/interfaces"
)

// Option keys recognized by the vmware datastore driver.
const (
	OptVMwareServerHost     = "vmware_server_host"
	OptVMwareServerUsername = "vmware_server_username"
	OptVMwareServerPassword = "vmware_server_password"
	OptVMwareDatacenterPath = "vmware_datacenter_path"
	OptVMwareDatastoreName  = "vmware_datastore_name"
	OptVMwareStoreImageDir  = "vmware_store_image_dir"
	OptVMwareAPIInsecure    = "vmware_api_insecure"
	OptVMwareTaskTimeout    = "vmware_task_timeout"
)

// datastore file access lives under this prefix on the vSphere host
const vmwareFolderPrefix = "/folder"

// VMwareAddress locates an image file on a hypervisor-managed datastore,
// addressed relative to a datacenter and datastore on one vSphere server.
type VMwareAddress struct {
	Server         string // vSphere server host[:port]
	Path           string // datastore-relative file path
	DatacenterPath string // e.g. "dc1" or "folder/dc1", may be empty
	DatastoreName  string
}

// URI renders the address as
// vsphere://server/folder/<path>?dcPath=<dc>&dsName=<ds>.
func (a VMwareAddress) URI() string {
	q := url.Values{}
	if a.DatacenterPath != "" {
		q.Set("dcPath", a.DatacenterPath)
	}
	q.Set("dsName", a.DatastoreName)
	return fmt.Sprintf("vsphere://%s%s/%s?%s",
		a.Server, vmwareFolderPrefix, strings.TrimPrefix(a.Path, "/"), q.Encode())
}

// ParseVMwareURI parses vsphere:// location URIs. The path must sit under
// /folder and the dsName query parameter is mandatory; dcPath is optional to
// match single-datacenter deployments.
func ParseVMwareURI(uri string) (interfaces.Address, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrMalformedLocation, err)
	}
	if u.Scheme != "vsphere" {
		return nil, fmt.Errorf("%w: unexpected scheme in %q", interfaces.ErrMalformedLocation, uri)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing server host in %q", interfaces.ErrMalformedLocation, uri)
	}
	if !strings.HasPrefix(u.Path, vmwareFolderPrefix+"/") {
		return nil, fmt.Errorf("%w: datastore path must start with %s/ in %q",
			interfaces.ErrMalformedLocation, vmwareFolderPrefix, uri)
	}
	q := u.Query()
	dsName := q.Get("dsName")
	if dsName == "" {
		return nil, fmt.Errorf("%w: missing dsName in %q", interfaces.ErrMalformedLocation, uri)
	}
	return VMwareAddress{
		Server:         u.Host,
		Path:           strings.TrimPrefix(u.Path, vmwareFolderPrefix),
		DatacenterPath: q.Get("dcPath"),
		DatastoreName:  dsName,
	}, nil
}

// VMwareStore persists images on a vSphere datastore through the host's HTTP
// file-access endpoint. Transfers stream straight through; nothing is spooled
// locally.
type VMwareStore struct {
	host     string
	username string
	password string
	dcPath   string
	dsName   string
	imageDir string

	client *http.Client
	log    *slog.Logger
}

// VMwareDriver returns the driver descriptor for the vSphere datastore store.
func VMwareDriver() Driver {
	return Driver{
		Name:    "vmware",
		Schemes: []string{"vsphere"},
		Parse:   ParseVMwareURI,
		New: func(log *slog.Logger) interfaces.Store {
			return &VMwareStore{log: log}
		},
	}
}

// Configure validates the connection options. Server host, credentials and
// datastore name are required.
func (s *VMwareStore) Configure(opts interfaces.Options) error {
	s.host = opts.String(OptVMwareServerHost)
	s.username = opts.String(OptVMwareServerUsername)
	s.password = opts.String(OptVMwareServerPassword)
	s.dcPath = opts.String(OptVMwareDatacenterPath)
	s.dsName = opts.String(OptVMwareDatastoreName)
	s.imageDir = strings.Trim(opts.String(OptVMwareStoreImageDir), "/")
	if s.imageDir == "" {
		s.imageDir = "image_store"
	}

	switch {
	case s.host == "":
		return fmt.Errorf("%w: %s is required", interfaces.ErrInvalidConfiguration, OptVMwareServerHost)
	case s.username == "" || s.password == "":
		return fmt.Errorf("%w: %s and %s are required",
			interfaces.ErrInvalidConfiguration, OptVMwareServerUsername, OptVMwareServerPassword)
	case s.dsName == "":
		return fmt.Errorf("%w: %s is required", interfaces.ErrInvalidConfiguration, OptVMwareDatastoreName)
	}

	transport := http.DefaultTransport
	if opts.Bool(OptVMwareAPIInsecure) {
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	s.client = &http.Client{
		Transport: transport,
		Timeout:   opts.Duration(OptVMwareTaskTimeout, 5*time.Minute),
	}
	return nil
}

// Schemes returns the schemes handled by this store.
func (s *VMwareStore) Schemes() []string {
	return []string{"vsphere"}
}

// Capabilities probes the datastore folder endpoint. An unreachable or
// unauthorized server disables everything; the probe itself never errors out.
func (s *VMwareStore) Capabilities(ctx context.Context) interfaces.Capabilities {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.folderURL(s.imageDir), nil)
	if err != nil {
		return interfaces.Capabilities{}
	}
	req.SetBasicAuth(s.username, s.password)
	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Debug("Datastore unreachable", slog.String("host", s.host), "err", err)
		return interfaces.Capabilities{}
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return interfaces.Capabilities{}
	}
	return interfaces.Capabilities{Read: true, Write: true, Delete: true}
}

// Add uploads the stream with a single PUT to the datastore file endpoint.
// A pre-existing file at the target path is a Duplicate; a size mismatch at
// end of stream deletes the uploaded file before failing.
func (s *VMwareStore) Add(ctx context.Context, id string, r io.Reader, size int64) (*interfaces.AddResult, error) {
	if !s.Capabilities(ctx).Write {
		return nil, interfaces.ErrAddDisabled
	}

	dsPath := path.Join(s.imageDir, id)
	addr := VMwareAddress{
		Server:         s.host,
		Path:           "/" + dsPath,
		DatacenterPath: s.dcPath,
		DatastoreName:  s.dsName,
	}

	exists, err := s.exists(ctx, dsPath)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrDuplicate, addr.URI())
	}

	tr := NewTransfer(size)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.folderURL(dsPath), tr.Reader(r))
	if err != nil {
		return nil, fmt.Errorf("building upload request: %w", err)
	}
	req.SetBasicAuth(s.username, s.password)
	req.Header.Set("Content-Type", "application/octet-stream")
	if size != interfaces.SizeUnknown {
		req.ContentLength = size
	}

	resp, err := s.client.Do(req)
	if err != nil {
		// A stream shorter than the declared Content-Length surfaces as a
		// transport error; report the integrity failure instead.
		if _, _, ferr := tr.Finish(); ferr != nil {
			s.discard(ctx, dsPath)
			return nil, ferr
		}
		return nil, fmt.Errorf("%w: %v", interfaces.ErrRemoteUnavailable, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, addr.URI())
	}

	written, checksum, err := tr.Finish()
	if err != nil {
		s.discard(ctx, dsPath)
		return nil, err
	}

	s.log.Debug("Stored image on datastore",
		slog.String("path", dsPath),
		slog.String("datastore", s.dsName),
		slog.Int64("size", written))

	return &interfaces.AddResult{Location: &interfaces.Location{Scheme: "vsphere", Address: addr},
		Size:     written,
		Checksum: checksum,
	}, nil
}

// Get streams the datastore file.
func (s *VMwareStore) Get(ctx context.Context, loc *interfaces.Location) (io.ReadCloser, int64, error) {
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

// Delete removes the datastore file.
func (s *VMwareStore) Delete(ctx context.Context, loc *interfaces.Location) error {
	if !s.Capabilities(ctx).Delete {
		return interfaces.ErrDeleteDisabled
	}
	addr, err := s.address(loc)
	if err != nil {
		return err
	}

	resp, err := s.do(ctx, http.MethodDelete, addr)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return statusError(resp.StatusCode, addr.URI())
	}
	return nil
}

// Size reads the Content-Length from a HEAD on the datastore file.
func (s *VMwareStore) Size(ctx context.Context, loc *interfaces.Location) (int64, error) {
	addr, err := s.address(loc)
	if err != nil {
		return 0, err
	}

	resp, err := s.do(ctx, http.MethodHead, addr)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, statusError(resp.StatusCode, addr.URI())
	}
	if resp.ContentLength < 0 {
		return 0, fmt.Errorf("%w: datastore reports no Content-Length for %s",
			interfaces.ErrRemoteUnavailable, addr.URI())
	}
	return resp.ContentLength, nil
}

// do issues a request against the address's own server rather than the
// configured one, so locations created by other deployments still resolve.
func (s *VMwareStore) do(ctx context.Context, method string, addr VMwareAddress) (*http.Response, error) {
	q := url.Values{}
	if addr.DatacenterPath != "" {
		q.Set("dcPath", addr.DatacenterPath)
	}
	q.Set("dsName", addr.DatastoreName)
	target := fmt.Sprintf("https://%s%s/%s?%s",
		addr.Server, vmwareFolderPrefix, strings.TrimPrefix(addr.Path, "/"), q.Encode())

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrMalformedLocation, err)
	}
	req.SetBasicAuth(s.username, s.password)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrRemoteUnavailable, err)
	}
	return resp, nil
}

func (s *VMwareStore) address(loc *interfaces.Location) (VMwareAddress, error) {
	addr, ok := loc.Address.(VMwareAddress)
	if !ok {
		return VMwareAddress{}, fmt.Errorf("%w: not a vsphere location", interfaces.ErrMalformedLocation)
	}
	return addr, nil
}

func (s *VMwareStore) exists(ctx context.Context, dsPath string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.folderURL(dsPath), nil)
	if err != nil {
		return false, fmt.Errorf("building probe request: %w", err)
	}
	req.SetBasicAuth(s.username, s.password)
	resp, err := s.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", interfaces.ErrRemoteUnavailable, err)
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

func (s *VMwareStore) discard(ctx context.Context, dsPath string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.folderURL(dsPath), nil)
	if err != nil {
		return
	}
	req.SetBasicAuth(s.username, s.password)
	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Warn("Failed to remove partial datastore file", slog.String("path", dsPath), "err", err)
		return
	}
	resp.Body.Close()
}

// folderURL builds the datastore file-access URL for a path on the
// configured server.
func (s *VMwareStore) folderURL(dsPath string) string {
	q := url.Values{}
	if s.dcPath != "" {
		q.Set("dcPath", s.dcPath)
	}
	q.Set("dsName", s.dsName)
	return fmt.Sprintf("https://%s%s/%s?%s", s.host, vmwareFolderPrefix, dsPath, q.Encode())
}
