package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"browser-automation/internal/entity"
	"browser-automation/pkg/apperr"

	"github.com/go-chi/chi/v5"
)

type createSessionRequest struct {
	ID string `json:"id"`
	entity.SessionOptions
}

type navigateRequest struct {
	URL string `json:"url"`
}

// commandRequest is either a structured command or a chat sentence.
type commandRequest struct {
	Chat string `json:"chat"`
	entity.Command
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": len(h.svc.ListSessions()),
	})
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	const op = "CreateSession"

	var req createSessionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, apperr.InvalidReqError(op, "body", err), h.logger)
		return
	}

	if req.BrowserKind != "" {
		kind, ok := entity.ParseBrowserKind(string(req.BrowserKind))
		if !ok {
			writeError(w, apperr.InvalidReqError(op, "browserKind", fmt.Errorf("unknown browser kind %q", req.BrowserKind)), h.logger)
			return
		}

		req.BrowserKind = kind
	}

	info, err := h.svc.CreateSession(r.Context(), req.ID, req.SessionOptions)
	if err != nil {
		writeError(w, err, h.logger)
		return
	}

	writeSuccess(w, http.StatusCreated, info)
}

func (h *Handler) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, h.svc.ListSessions())
}

func (h *Handler) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	closed := h.svc.CloseSession(r.Context(), chi.URLParam(r, "sessionID"))

	writeSuccess(w, http.StatusOK, map[string]bool{"closed": closed})
}

func (h *Handler) handleNavigate(w http.ResponseWriter, r *http.Request) {
	const op = "Navigate"

	var req navigateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, apperr.InvalidReqError(op, "body", err), h.logger)
		return
	}

	result, err := h.svc.Navigate(r.Context(), chi.URLParam(r, "sessionID"), req.URL)
	if err != nil {
		writeError(w, err, h.logger)
		return
	}

	writeSuccess(w, http.StatusOK, result)
}

func (h *Handler) handleCommand(w http.ResponseWriter, r *http.Request) {
	const op = "ExecuteCommand"

	var req commandRequest
	if err := decode(r, &req); err != nil {
		writeError(w, apperr.InvalidReqError(op, "body", err), h.logger)
		return
	}

	id := chi.URLParam(r, "sessionID")

	var (
		result *entity.ExecutionResult
		err    error
	)

	switch {
	case strings.TrimSpace(req.Chat) != "":
		result, err = h.svc.ExecuteChat(r.Context(), id, req.Chat)
	case req.Action != "":
		result, err = h.svc.ExecuteCommand(r.Context(), id, req.Command)
	default:
		err = apperr.InvalidReqError(op, "action", errors.New("either action or chat is required"))
	}

	if err != nil {
		writeError(w, err, h.logger)
		return
	}

	writeSuccess(w, http.StatusOK, result)
}

func (h *Handler) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	const op = "Screenshot"

	query := r.URL.Query()

	opts := entity.ScreenshotOptions{
		Format:   entity.ImageFormat(strings.ToLower(query.Get("format"))),
		Selector: query.Get("selector"),
	}

	if raw := query.Get("fullPage"); raw != "" {
		full, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, apperr.InvalidReqError(op, "fullPage", err), h.logger)
			return
		}

		opts.FullPage = full
	}

	if opts.Format == "jpg" {
		opts.Format = entity.ImageJPEG
	}

	data, err := h.svc.Screenshot(r.Context(), chi.URLParam(r, "sessionID"), opts)
	if err != nil {
		writeError(w, err, h.logger)
		return
	}

	contentType := "image/png"
	if opts.Format == entity.ImageJPEG {
		contentType = "image/jpeg"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) handleContent(w http.ResponseWriter, r *http.Request) {
	content, err := h.svc.Content(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err, h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, content)
}

func (h *Handler) handleMetadata(w http.ResponseWriter, r *http.Request) {
	meta, err := h.svc.Metadata(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err, h.logger)
		return
	}

	writeSuccess(w, http.StatusOK, meta)
}

// decode reads a JSON body; an empty body leaves dst untouched.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	return nil
}
