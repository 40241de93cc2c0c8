package attachment

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/chatgenie/chatgenie/apperr"
	"github.com/chatgenie/chatgenie/model"
)

// DefaultMaxBlobSize is the largest blob NewHandler accepts.
const DefaultMaxBlobSize = 32 << 20

type putResponse struct {
	URL string `json:"url"`
}

// HTTPBlobStore stores blobs on a server running NewHandler.
type HTTPBlobStore struct {
	BaseURL string

	// Client is used for requests. If nil, http.DefaultClient is used.
	Client *http.Client

	// Token returns the session token presented with uploads.
	Token func() string
}

func (s *HTTPBlobStore) Put(ctx context.Context, path, contentType string, r io.Reader) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, FileURL(s.BaseURL, path), r)
	if err != nil {
		return "", apperr.Upload(path, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if s.Token != nil {
		if token := s.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", apperr.Upload(path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apperr.Upload(path, fmt.Errorf("unexpected status code %v", resp.StatusCode))
	}

	var body putResponse
	if err := jsoniter.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", apperr.Upload(path, errors.Wrap(err, "error decoding response"))
	}
	return body.URL, nil
}

// TokenVerifier resolves a session token to the user it was issued to.
type TokenVerifier interface {
	Verify(token string) (model.Id, error)
}

type Handler struct {
	Blobs interface {
		BlobStore
		BlobReader
	}
	Logger logrus.FieldLogger

	// Tokens authenticates uploads. If nil, every upload is rejected.
	Tokens TokenVerifier

	// MaxBlobSize limits request bodies. If zero, DefaultMaxBlobSize is used.
	MaxBlobSize int64

	putMutex sync.Mutex
}

// NewHandler returns a router serving GET and PUT requests for /files/{path}. Anyone may read a blob, but
// writing one requires a bearer session token, and a blob is never replaced once written.
func NewHandler(h *Handler) http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/files/{path:.+}", h.serveGet).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/files/{path:.+}", h.servePut).Methods(http.MethodPut)
	return router
}

func (h *Handler) logger() logrus.FieldLogger {
	if h.Logger == nil {
		return logrus.StandardLogger()
	}
	return h.Logger
}

func (h *Handler) serveGet(w http.ResponseWriter, r *http.Request) {
	path := mux.Vars(r)["path"]
	blob, err := h.Blobs.Get(r.Context(), path)
	if err != nil {
		h.logger().WithError(err).WithField("path", path).Error("unable to read blob")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	} else if blob == nil {
		http.NotFound(w, r)
		return
	}

	if blob.ContentType != "" {
		w.Header().Set("Content-Type", blob.ContentType)
	}
	w.Header().Set("Content-Length", fmt.Sprint(len(blob.Data)))
	if r.Method == http.MethodGet {
		w.Write(blob.Data)
	}
}

func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

func (h *Handler) servePut(w http.ResponseWriter, r *http.Request) {
	path := mux.Vars(r)["path"]
	logger := h.logger().WithField("path", path)

	if h.Tokens == nil {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	userId, err := h.Tokens.Verify(bearerToken(r))
	if err != nil {
		logger.WithError(err).Info("rejected unauthenticated upload")
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	logger = logger.WithField("user_id", userId)

	maxSize := h.MaxBlobSize
	if maxSize == 0 {
		maxSize = DefaultMaxBlobSize
	}

	h.putMutex.Lock()
	defer h.putMutex.Unlock()

	if existing, err := h.Blobs.Get(r.Context(), path); err != nil {
		logger.WithError(err).Error("unable to read blob")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	} else if existing != nil {
		http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		return
	}

	url, err := h.Blobs.Put(r.Context(), path, r.Header.Get("Content-Type"), http.MaxBytesReader(w, r.Body, maxSize))
	if err != nil {
		logger.WithError(err).Warn("unable to store blob")
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	body, err := jsoniter.Marshal(putResponse{URL: url})
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}
