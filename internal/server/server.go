package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"librarytracker/internal/app"
	"librarytracker/internal/ratelimit"
	"librarytracker/internal/util"
	"librarytracker/pkg/domain"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	AILimiter      *ratelimit.FixedWindowLimiter
	TrustedProxies *util.TrustedProxies
	MaxUploadBytes int64
}

// Server exposes the REST endpoints of the library tracker.
type Server struct {
	app            *app.App
	aiLimiter      *ratelimit.FixedWindowLimiter
	trustedProxies *util.TrustedProxies
	mux            *http.ServeMux
	maxUploadBytes int64
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = 20 * 1024 * 1024
	}
	s := &Server{
		app:            cfg.App,
		aiLimiter:      cfg.AILimiter,
		trustedProxies: cfg.TrustedProxies,
		mux:            http.NewServeMux(),
		maxUploadBytes: maxUploadBytes,
	}
	s.routes()
	return s
}

// Router returns the configured handler wrapped in the middleware chain.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	s.mux.HandleFunc("/api/books", s.handleBooks)
	s.mux.HandleFunc("/api/books/", s.handleBookSubtree)
	s.mux.Handle("/api/chat/ask", s.withAILimit(s.handleAsk))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// withAILimit rate-limits endpoints that fan out to paid model calls.
func (s *Server) withAILimit(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.aiLimiter != nil && !s.aiLimiter.Allow(util.ClientIP(r, s.trustedProxies)) {
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next(w, r)
	})
}

func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleAddBook(w, r)
	case http.MethodPut:
		s.handleUpdateBook(w, r)
	case http.MethodGet:
		s.handleListBooks(w, r)
	default:
		methodNotAllowed(w)
	}
}

// /api/books/{id}, /api/books/{id}/cover, /api/books/by-owner,
// /api/books/voice-text-search, /api/books/generate-ai-book-details
func (s *Server) handleBookSubtree(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/books/")
	switch path {
	case "by-owner":
		s.handleListByOwner(w, r)
		return
	case "voice-text-search":
		s.withAILimit(s.handleSearch).ServeHTTP(w, r)
		return
	case "generate-ai-book-details":
		s.withAILimit(s.handleGenerateDetails).ServeHTTP(w, r)
		return
	}

	parts := strings.SplitN(path, "/", 2)
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || id <= 0 {
		notFound(w, "not found")
		return
	}
	if len(parts) == 2 {
		if parts[1] == "cover" {
			s.handleCover(w, r, id)
			return
		}
		notFound(w, "not found")
		return
	}
	s.handleBookByID(w, r, id)
}

func (s *Server) handleBookByID(w http.ResponseWriter, r *http.Request, id int64) {
	switch r.Method {
	case http.MethodGet:
		book, ok, err := s.app.GetBook(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !ok {
			notFound(w, "book not found")
			return
		}
		writeJSON(w, http.StatusOK, book)
	case http.MethodDelete:
		if err := s.app.DeleteBook(r.Context(), id); err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleCover(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	url, filename, err := s.app.CoverURL(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrBookNotFound):
			notFound(w, "book not found")
		case errors.Is(err, app.ErrCoverMissing):
			notFound(w, "cover image not set")
		default:
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url, "filename": filename})
}

func (s *Server) handleAddBook(w http.ResponseWriter, r *http.Request) {
	book, image, ok := s.decodeBookForm(w, r, "image")
	if !ok {
		return
	}
	saved, err := s.app.AddBook(r.Context(), book, image)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleUpdateBook(w http.ResponseWriter, r *http.Request) {
	book, image, ok := s.decodeBookForm(w, r, "imageFile")
	if !ok {
		return
	}
	updated, err := s.app.UpdateBook(r.Context(), book, image)
	if err != nil {
		if errors.Is(err, app.ErrBookNotFound) {
			notFound(w, "book not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// decodeBookForm parses a multipart form with a JSON "book" part and an
// optional image file part.
func (s *Server) decodeBookForm(w http.ResponseWriter, r *http.Request, imageField string) (domain.Book, *app.CoverUpload, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return domain.Book{}, nil, false
	}
	raw := r.FormValue("book")
	if strings.TrimSpace(raw) == "" {
		writeError(w, http.StatusBadRequest, "book is required (field: book)")
		return domain.Book{}, nil, false
	}
	var book domain.Book
	if err := json.Unmarshal([]byte(raw), &book); err != nil {
		writeError(w, http.StatusBadRequest, "invalid book JSON")
		return domain.Book{}, nil, false
	}
	if strings.TrimSpace(book.Title) == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return domain.Book{}, nil, false
	}
	if strings.TrimSpace(book.OwnerEmail) == "" {
		writeError(w, http.StatusBadRequest, "ownerEmail is required")
		return domain.Book{}, nil, false
	}
	if book.PageCount < 0 {
		writeError(w, http.StatusBadRequest, "pageCount must be non-negative")
		return domain.Book{}, nil, false
	}

	image, ok := s.readFilePart(w, r, imageField)
	if !ok {
		return domain.Book{}, nil, false
	}
	return book, image, true
}

// readFilePart reads an optional file part into memory. A missing part is
// not an error.
func (s *Server) readFilePart(w http.ResponseWriter, r *http.Request, field string) (*app.CoverUpload, bool) {
	file, header, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, true
		}
		writeError(w, http.StatusBadRequest, "invalid form data")
		return nil, false
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return nil, false
	}
	return &app.CoverUpload{
		Name:        header.Filename,
		ContentType: contentTypeOf(header),
		Data:        data,
	}, true
}

func contentTypeOf(header *multipart.FileHeader) string {
	if header == nil {
		return ""
	}
	return header.Header.Get("Content-Type")
}

func (s *Server) handleListBooks(w http.ResponseWriter, _ *http.Request) {
	books, err := s.app.ListAllBooks()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": books, "count": len(books)})
}

func (s *Server) handleListByOwner(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}
	books, err := s.app.ListBooks(email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": books, "count": len(books)})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	email := strings.TrimSpace(r.FormValue("email"))
	if email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}
	var audioBytes []byte
	var audioName string
	if audio, ok := s.readFilePart(w, r, "audio"); !ok {
		return
	} else if audio != nil {
		audioBytes = audio.Data
		audioName = audio.Name
	}

	books, err := s.app.SearchBooks(r.Context(), audioBytes, audioName, r.FormValue("query"), email)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrNoQuery):
			writeError(w, http.StatusBadRequest, "no audio or text query provided")
		case errors.Is(err, app.ErrModelOutput):
			writeError(w, http.StatusBadGateway, "model output invalid")
		default:
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": books, "count": len(books)})
}

func (s *Server) handleGenerateDetails(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	title := strings.TrimSpace(r.URL.Query().Get("title"))
	if title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	book, err := s.app.GenerateBookDetails(r.Context(), title)
	if err != nil {
		writeError(w, http.StatusBadGateway, "book detail generation failed")
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	message := strings.TrimSpace(r.URL.Query().Get("message"))
	if message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	reply, err := s.app.Ask(r.Context(), message)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, domain.BotReply{Reply: reply})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCode(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCode(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "book not found":
		return "BOOK_NOT_FOUND"
	case message == "cover image not set":
		return "BOOK_COVER_NOT_SET"
	case message == "no audio or text query provided":
		return "SEARCH_QUERY_REQUIRED"
	case message == "model output invalid":
		return "SEARCH_MODEL_OUTPUT_INVALID"
	case message == "book detail generation failed":
		return "BOOK_GENERATION_FAILED"
	case message == "too many requests":
		return "RATE_LIMITED"
	case message == "invalid form data", message == "invalid book json":
		return "BOOK_INVALID_REQUEST"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case message == "not found":
		return "SYSTEM_NOT_FOUND"
	}

	switch status {
	case http.StatusBadRequest:
		return "BOOK_INVALID_REQUEST"
	case http.StatusNotFound:
		return "BOOK_NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
