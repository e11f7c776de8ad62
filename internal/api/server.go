package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/pbaille/marks/internal/app"
	"github.com/pbaille/marks/internal/capture"
	"github.com/pbaille/marks/internal/domain"
	"github.com/pbaille/marks/internal/remote"
	"github.com/pbaille/marks/internal/store"
)

// maxUpload caps multipart image uploads
const maxUpload = 32 << 20

// Server exposes the application over HTTP
type Server struct {
	app  *app.App
	hub  *Hub
	addr string
	log  *zap.Logger
}

// New creates a new API server
func New(a *app.App, addr string) *Server {
	log := a.Log.Named("api")
	return &Server{app: a, hub: NewHub(a.Queue, log), addr: addr, log: log}
}

// Handler builds the router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(withCORS)

	r.Get("/health", s.health)

	r.Route("/tags", func(r chi.Router) {
		r.Get("/", s.listTags)
		r.Post("/", s.addTag)
		r.Patch("/{id}", s.updateTag)
		r.Delete("/{id}", s.deleteTag)
		r.Post("/{id}/activate", s.activateTag)
	})

	r.Route("/marks", func(r chi.Router) {
		r.Get("/", s.listMarks)
		r.Get("/search", s.searchMarks)
		r.Post("/text", s.addText)
		r.Post("/link", s.addLink)
		r.Post("/file", s.addFile)
		r.Post("/image", s.addImage)
		r.Get("/{id}", s.getMark)
		r.Patch("/{id}", s.updateMark)
		r.Delete("/{id}", s.deleteMarkForever)
		r.Post("/{id}/trash", s.trashMark)
		r.Post("/{id}/restore", s.restoreMark)
		r.Get("/{id}/asset", s.markAsset)
	})

	r.Get("/trash", s.listTrash)
	r.Delete("/trash", s.clearTrash)

	r.Route("/selection", func(r chi.Router) {
		r.Get("/", s.getSelection)
		r.Delete("/", s.clearSelection)
		r.Post("/all", s.selectAll)
		r.Post("/toggle/{id}", s.toggleSelection)
		r.Post("/move", s.moveSelection)
		r.Post("/delete", s.deleteSelection)
	})

	r.Route("/chats", func(r chi.Router) {
		r.Get("/", s.listChats)
		r.Post("/", s.addChat)
	})

	r.Get("/queue", s.listQueue)

	r.Route("/sync", func(r chi.Router) {
		r.Get("/", s.syncStatus)
		r.Post("/{backend}/check", s.syncCheck)
		r.Post("/{backend}/upload", s.syncUpload)
		r.Post("/{backend}/download", s.syncDownload)
	})

	r.Handle("/ws", s.hub)
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.hub.Run(hubCtx)

	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting server", zap.String("addr", s.addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// withCORS adds CORS headers for frontend development
func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		h.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Tags

func (s *Server) listTags(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"tags":   s.app.Tags.List(),
		"active": s.app.Tags.Active(),
	})
}

type addTagRequest struct {
	Name string `json:"name"`
}

func (s *Server) addTag(w http.ResponseWriter, r *http.Request) {
	var req addTagRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	tag, err := s.app.Tags.Add(r.Context(), req.Name)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tag)
}

type updateTagRequest struct {
	Name   *string `json:"name,omitempty"`
	Pin    *bool   `json:"isPin,omitempty"`
	Locked *bool   `json:"isLocked,omitempty"`
}

func (s *Server) updateTag(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req updateTagRequest
	if !decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	tag, found := s.app.Tags.Get(id)
	if !found {
		s.fail(w, store.ErrTagNotFound)
		return
	}
	var err error
	// Unlock first so a combined unlock and rename succeeds
	if req.Locked != nil && !*req.Locked {
		if tag, err = s.app.Tags.SetLock(ctx, id, false); err != nil {
			s.fail(w, err)
			return
		}
	}
	if req.Name != nil {
		if tag, err = s.app.Tags.Rename(ctx, id, *req.Name); err != nil {
			s.fail(w, err)
			return
		}
	}
	if req.Pin != nil {
		if tag, err = s.app.Tags.SetPin(ctx, id, *req.Pin); err != nil {
			s.fail(w, err)
			return
		}
	}
	if req.Locked != nil && *req.Locked {
		if tag, err = s.app.Tags.SetLock(ctx, id, true); err != nil {
			s.fail(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, tag)
}

func (s *Server) deleteTag(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var moveTo int64
	if v := r.URL.Query().Get("moveTo"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid moveTo")
			return
		}
		moveTo = n
	}
	if err := s.app.Tags.Delete(r.Context(), id, moveTo); err != nil {
		s.fail(w, err)
		return
	}
	if err := s.app.Marks.Load(r.Context()); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) activateTag(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.app.Tags.SetActive(id); err != nil {
		s.fail(w, err)
		return
	}
	if err := s.app.Marks.ShowTrash(r.Context(), false); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"active": id, "marks": s.app.Marks.List()})
}

// Marks

func (s *Server) listMarks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if v := r.URL.Query().Get("tag"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid tag")
			return
		}
		marks, err := s.app.Store.ListMarks(ctx, id)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"marks": nonNilMarks(marks)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"marks": nonNilMarks(s.app.Marks.List()),
		"tag":   s.app.Tags.Active(),
		"trash": s.app.Marks.TrashView(),
	})
}

func (s *Server) listTrash(w http.ResponseWriter, r *http.Request) {
	marks, err := s.app.Store.ListTrash(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"marks": nonNilMarks(marks)})
}

func (s *Server) searchMarks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	marks, err := s.app.Store.SearchMarks(r.Context(), query)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"marks": nonNilMarks(marks), "query": query})
}

func (s *Server) getMark(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	m, err := s.app.Store.GetMark(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type captureRequest struct {
	TagID   int64  `json:"tagId,omitempty"`
	Content string `json:"content,omitempty"`
	URL     string `json:"url,omitempty"`
	Path    string `json:"path,omitempty"`
}

func (s *Server) addText(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	m, err := s.app.CaptureText(r.Context(), req.TagID, req.Content)
	s.created(w, m, err)
}

func (s *Server) addLink(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	m, err := s.app.CaptureLink(r.Context(), req.TagID, req.URL)
	s.created(w, m, err)
}

func (s *Server) addFile(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	m, err := s.app.CaptureFile(r.Context(), req.TagID, req.Path)
	s.created(w, m, err)
}

// addImage accepts a multipart "image" file and an optional "tagId" and
// "type" (image or scan) field
func (s *Server) addImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "image file is required")
		return
	}
	defer file.Close()

	if !capture.IsImageFile(header.Filename) {
		s.fail(w, capture.ErrUnsupportedFile)
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read image")
		return
	}

	typ := domain.MarkImage
	if r.FormValue("type") == string(domain.MarkScan) {
		typ = domain.MarkScan
	}
	var tagID int64
	if v := r.FormValue("tagId"); v != "" {
		if tagID, err = strconv.ParseInt(v, 10, 64); err != nil {
			writeError(w, http.StatusBadRequest, "invalid tagId")
			return
		}
	}
	if tagID == 0 {
		tagID = s.app.Tags.Active()
	}

	m, err := s.app.Pipeline.CaptureImage(r.Context(), tagID, typ, filepath.Ext(header.Filename), data)
	if err == nil {
		err = s.app.Marks.Applied(r.Context(), m)
	}
	s.created(w, m, err)
}

type updateMarkRequest struct {
	Content *string `json:"content,omitempty"`
	Desc    *string `json:"desc,omitempty"`
	URL     *string `json:"url,omitempty"`
}

func (s *Server) updateMark(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req updateMarkRequest
	if !decode(w, r, &req) {
		return
	}
	m, err := s.app.Marks.Update(r.Context(), id, store.MarkUpdate{Content: req.Content, Desc: req.Desc, URL: req.URL})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) trashMark(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	m, err := s.app.Marks.Trash(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) restoreMark(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	m, err := s.app.Marks.Restore(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) deleteMarkForever(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	m, err := s.app.Marks.DeleteForever(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) clearTrash(w http.ResponseWriter, r *http.Request) {
	removed, err := s.app.Marks.ClearTrash(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": len(removed)})
}

// markAsset serves a local image or redirects to its CDN copy
func (s *Server) markAsset(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	m, err := s.app.Store.GetMark(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	asset, err := s.app.Pipeline.ResolveAsset(m)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if asset.Remote {
		http.Redirect(w, r, asset.Path, http.StatusFound)
		return
	}
	http.ServeFile(w, r, asset.Path)
}

// Selection

func (s *Server) selection() map[string]any {
	return map[string]any{
		"selectMode": s.app.Marks.SelectMode(),
		"selected":   s.app.Marks.Selected(),
	}
}

func (s *Server) getSelection(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.selection())
}

func (s *Server) clearSelection(w http.ResponseWriter, r *http.Request) {
	s.app.Marks.SetSelectMode(false)
	writeJSON(w, http.StatusOK, s.selection())
}

func (s *Server) selectAll(w http.ResponseWriter, r *http.Request) {
	s.app.Marks.SelectAll()
	writeJSON(w, http.StatusOK, s.selection())
}

func (s *Server) toggleSelection(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.app.Marks.Toggle(id); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.selection())
}

type moveRequest struct {
	TagID int64 `json:"tagId"`
}

func (s *Server) moveSelection(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if !decode(w, r, &req) {
		return
	}
	moved, err := s.app.Marks.BulkMove(r.Context(), req.TagID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"marks": moved})
}

func (s *Server) deleteSelection(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.app.Marks.BulkDelete(r.Context())
	if err != nil && len(deleted) == 0 {
		s.fail(w, err)
		return
	}
	resp := map[string]any{"marks": deleted}
	if err != nil {
		resp["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Chats

func (s *Server) listChats(w http.ResponseWriter, r *http.Request) {
	tagID := s.app.Tags.Active()
	if v := r.URL.Query().Get("tag"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid tag")
			return
		}
		tagID = n
	}
	chats, err := s.app.Store.ListChats(r.Context(), tagID)
	if err != nil {
		s.fail(w, err)
		return
	}
	if chats == nil {
		chats = []domain.Chat{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": chats})
}

type addChatRequest struct {
	TagID   int64  `json:"tagId,omitempty"`
	Role    string `json:"role"`
	Type    string `json:"type,omitempty"`
	Content string `json:"content"`
}

func (s *Server) addChat(w http.ResponseWriter, r *http.Request) {
	var req addChatRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Role == "" || req.Content == "" {
		writeError(w, http.StatusBadRequest, "role and content are required")
		return
	}
	if req.TagID == 0 {
		req.TagID = s.app.Tags.Active()
	}
	c, err := s.app.Store.InsertChat(r.Context(), req.TagID, req.Role, req.Type, req.Content)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) listQueue(w http.ResponseWriter, r *http.Request) {
	items := s.app.Marks.Queue()
	if items == nil {
		items = []domain.MarkQueue{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"queue": items})
}

// Sync

func (s *Server) syncStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"backends": s.app.Sync.All()}
	if last, ok := s.app.Sync.LastReport(); ok {
		resp["last"] = reportView(last)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) syncCheck(w http.ResponseWriter, r *http.Request) {
	c, err := s.app.CheckSync(r.Context(), chi.URLParam(r, "backend"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) syncUpload(w http.ResponseWriter, r *http.Request) {
	report, err := s.app.Upload(r.Context(), chi.URLParam(r, "backend"))
	s.syncResult(w, report, err)
}

func (s *Server) syncDownload(w http.ResponseWriter, r *http.Request) {
	report, err := s.app.Download(r.Context(), chi.URLParam(r, "backend"))
	s.syncResult(w, report, err)
}

func (s *Server) syncResult(w http.ResponseWriter, report remote.Report, err error) {
	if err != nil {
		s.fail(w, err)
		return
	}
	status := http.StatusOK
	if !report.OK() {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, reportView(report))
}

func reportView(r remote.Report) map[string]any {
	return map[string]any{
		"ok":      r.OK(),
		"message": r.Message(),
		"backend": r.Backend,
		"results": r.Results,
	}
}

// Helpers

func (s *Server) created(w http.ResponseWriter, m domain.Mark, err error) {
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// fail maps domain errors to HTTP statuses
func (s *Server) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrMarkNotFound), errors.Is(err, store.ErrTagNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrTagLocked), errors.Is(err, store.ErrTagNotEmpty), errors.Is(err, store.ErrTagExists):
		status = http.StatusConflict
	case errors.Is(err, capture.ErrUnsupportedFile):
		status = http.StatusUnsupportedMediaType
	case errors.Is(err, app.ErrNothingSelected):
		status = http.StatusBadRequest
	case errors.Is(err, app.ErrNoBackend), errors.Is(err, remote.ErrNoToken):
		status = http.StatusPreconditionFailed
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(err))
	}
	writeError(w, status, err.Error())
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func nonNilMarks(marks []domain.Mark) []domain.Mark {
	if marks == nil {
		return []domain.Mark{}
	}
	return marks
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
