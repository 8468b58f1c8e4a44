package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/okeanos-dev/imagestore/interfaces"
	"github.com/okeanos-dev/imagestore/metrics"
	"github.com/okeanos-dev/imagestore/store"
)

// Handler processes image data requests by delegating to the store registry.
// It performs no retries and adds no policy: every backend failure maps to
// one HTTP status via the framework's error taxonomy.
type Handler struct {
	registry *store.Registry
	log      *slog.Logger
}

// NewHandler creates a request handler backed by the given registry.
func NewHandler(registry *store.Registry, log *slog.Logger) *Handler {
	return &Handler{registry: registry, log: log}
}

// addResponse is the JSON body returned by a successful upload.
type addResponse struct {
	ID       string `json:"id"`
	Location string `json:"location"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
}

// HandleAdd streams the request body into a store. The target scheme comes
// from the "store" query parameter, defaulting to the configured default
// store; the declared size is the Content-Length, unknown for chunked
// uploads.
func (h *Handler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		id = uuid.NewString()
	}
	scheme := r.URL.Query().Get("store")

	size := r.ContentLength
	if size < 0 {
		size = interfaces.SizeUnknown
	}

	res, err := h.registry.Add(r.Context(), scheme, id, r.Body, size)
	h.observe("add", scheme, err)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	metrics.BytesTransferred.WithLabelValues("in", res.Location.Scheme).Add(float64(res.Size))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(addResponse{
		ID:       id,
		Location: res.Location.URI(),
		Size:     res.Size,
		Checksum: res.Checksum,
	})
}

// HandleGet streams an image back to the client. The location URI is taken
// from the "location" query parameter.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Query().Get("location")
	if uri == "" {
		h.writeError(w, r, fmt.Errorf("%w: missing location parameter", interfaces.ErrMalformedLocation))
		return
	}

	rc, size, err := h.registry.Get(r.Context(), uri)
	h.observe("get", schemeOf(uri), err)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	if size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	n, err := io.Copy(w, rc)
	if err != nil {
		// Headers are gone; all we can do is log and drop the connection.
		h.log.Debug("Image download aborted", slog.String("location", uri), "err", err)
	}
	metrics.BytesTransferred.WithLabelValues("out", schemeOf(uri)).Add(float64(n))
}

// HandleSize reports an image's byte size without transferring it.
func (h *Handler) HandleSize(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Query().Get("location")
	if uri == "" {
		h.writeError(w, r, fmt.Errorf("%w: missing location parameter", interfaces.ErrMalformedLocation))
		return
	}

	size, err := h.registry.Size(r.Context(), uri)
	h.observe("size", schemeOf(uri), err)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int64{"size": size})
}

// HandleExists answers a HEAD probe for an image without a body: 200 when
// the location resolves to a stored object, 404 when it does not.
func (h *Handler) HandleExists(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Query().Get("location")
	if uri == "" {
		h.writeError(w, r, fmt.Errorf("%w: missing location parameter", interfaces.ErrMalformedLocation))
		return
	}

	exists, err := h.registry.Exists(r.Context(), uri)
	h.observe("exists", schemeOf(uri), err)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !exists {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// HandleDelete removes an image.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Query().Get("location")
	if uri == "" {
		h.writeError(w, r, fmt.Errorf("%w: missing location parameter", interfaces.ErrMalformedLocation))
		return
	}

	err := h.registry.Delete(r.Context(), uri)
	h.observe("delete", schemeOf(uri), err)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSchemes lists the registered location schemes.
func (h *Handler) HandleSchemes(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string][]string{"schemes": h.registry.KnownSchemes()})
}

// writeError maps framework errors to HTTP statuses.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, interfaces.ErrMalformedLocation),
		errors.Is(err, interfaces.ErrUnsupportedBackend),
		errors.Is(err, interfaces.ErrSizeMismatch):
		status = http.StatusBadRequest
	case errors.Is(err, interfaces.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, interfaces.ErrDuplicate):
		status = http.StatusConflict
	case errors.Is(err, interfaces.ErrAddDisabled), errors.Is(err, interfaces.ErrDeleteDisabled):
		status = http.StatusForbidden
	case errors.Is(err, interfaces.ErrRemoteUnavailable):
		status = http.StatusBadGateway
	}

	if status >= http.StatusInternalServerError {
		h.log.Error("Request failed", slog.String("path", r.URL.Path), "err", err)
	} else {
		h.log.Debug("Request rejected", slog.String("path", r.URL.Path), "err", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func (h *Handler) observe(operation, scheme string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	if scheme == "" {
		scheme = "default"
	}
	metrics.StoreOps.WithLabelValues(operation, scheme, outcome).Inc()
}

func schemeOf(uri string) string {
	scheme, err := store.SplitScheme(uri)
	if err != nil {
		return "invalid"
	}
	return scheme
}
