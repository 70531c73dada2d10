package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"assoc-messaging/internal/auth"
	"assoc-messaging/internal/config"
	"assoc-messaging/internal/imtypes"
	"assoc-messaging/internal/middleware"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const (
	defaultMaxMemory = 32 << 20 // 32 MB kept in memory while parsing multipart forms
	maxJSONBody      = 1 << 20
)

// Handler exposes the Service over REST.
type Handler struct {
	svc      Service
	files    imtypes.StorageService
	storeCfg config.StorageConfig
	log      *logrus.Entry
}

// NewHandler creates the REST handlers.
func NewHandler(svc Service, files imtypes.StorageService, storeCfg config.StorageConfig) *Handler {
	return &Handler{
		svc:      svc,
		files:    files,
		storeCfg: storeCfg,
		log:      logrus.WithField("component", "gateway_http"),
	}
}

func writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logrus.WithField("error", err).Error("encode response")
	}
}

func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	writeJSONResponse(w, statusCode, map[string]string{"error": message})
}

// writeServiceError maps service errors onto status codes.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *imtypes.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSONError(w, verr.Error(), http.StatusBadRequest)
	case errors.Is(err, imtypes.ErrNotFound):
		writeJSONError(w, "not found", http.StatusNotFound)
	case errors.Is(err, ErrForbidden):
		writeJSONError(w, "forbidden", http.StatusForbidden)
	default:
		h.log.WithFields(logrus.Fields{"path": r.URL.Path, "method": r.Method, "error": err}).Error("request failed")
		writeJSONError(w, "internal error", http.StatusInternalServerError)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func caller(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		writeJSONError(w, "authentication required", http.StatusUnauthorized)
	}
	return id, ok
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return n, nil
}

// ListConversations handles GET /conversations.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	convs, err := h.svc.ListConversations(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, convs)
}

// CreateConversation handles POST /conversations. An existing direct
// conversation between the same two users is returned instead of a new one.
func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	var req imtypes.CreateConversationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	conv, err := h.svc.CreateConversation(r.Context(), id, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, conv)
}

// ListMessages handles GET /conversations/{id}/messages?limit=&offset=.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit", defaultPageSize)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	msgs, err := h.svc.ListMessages(r.Context(), id, mux.Vars(r)["id"], limit, offset)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, msgs)
}

// SendMessage handles POST /conversations/{id}/messages. The stored message is the acknowledgement.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	var req imtypes.SendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	msg, err := h.svc.SendMessage(r.Context(), id, mux.Vars(r)["id"], req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, msg)
}

// MarkRead handles POST /messages/{id}/read.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	receipt, err := h.svc.MarkRead(r.Context(), id, mux.Vars(r)["id"])
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, receipt)
}

// DeleteMessage handles DELETE /messages/{id}.
func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteMessage(r.Context(), id, mux.Vars(r)["id"]); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// JoinConversation handles POST /conversations/{id}/join.
func (h *Handler) JoinConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	if err := h.svc.JoinConversation(r.Context(), id, mux.Vars(r)["id"]); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LeaveConversation handles POST /conversations/{id}/leave.
func (h *Handler) LeaveConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	if err := h.svc.LeaveConversation(r.Context(), id, mux.Vars(r)["id"]); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteConversation handles DELETE /conversations/{id}.
func (h *Handler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteConversation(r.Context(), id, mux.Vars(r)["id"]); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type presenceRequest struct {
	Status imtypes.PresenceStatus `json:"status"`
}

// UpdatePresence handles PUT /presence.
func (h *Handler) UpdatePresence(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	var req presenceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.svc.UpdatePresence(r.Context(), id, req.Status); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetPresence handles GET /presence?userIds=a,b.
func (h *Handler) GetPresence(w http.ResponseWriter, r *http.Request) {
	if _, ok := caller(w, r); !ok {
		return
	}
	var ids []string
	for _, raw := range r.URL.Query()["userIds"] {
		ids = append(ids, strings.Split(raw, ",")...)
	}
	presence, err := h.svc.GetPresence(r.Context(), ids)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, presence)
}

type typingRequest struct {
	IsTyping bool `json:"isTyping"`
}

// UpdateTyping handles POST /conversations/{id}/typing.
func (h *Handler) UpdateTyping(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	var req typingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.svc.UpdateTyping(r.Context(), id, mux.Vars(r)["id"], req.IsTyping); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// FileURL handles GET /files/{id}/url.
func (h *Handler) FileURL(w http.ResponseWriter, r *http.Request) {
	if _, ok := caller(w, r); !ok {
		return
	}
	url, err := h.svc.FileURL(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"url": url})
}

// UploadFile handles POST /upload with the attachment in the "file" form field.
func (h *Handler) UploadFile(w http.ResponseWriter, r *http.Request) {
	if _, ok := caller(w, r); !ok {
		return
	}
	maxUploadSize := h.storeCfg.MaxFileSizeMB << 20
	if maxUploadSize <= 0 {
		maxUploadSize = defaultMaxMemory
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	if err := r.ParseMultipartForm(defaultMaxMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			writeJSONError(w, fmt.Sprintf("file too large, the limit is %d MB", maxUploadSize>>20), http.StatusRequestEntityTooLarge)
		} else {
			writeJSONError(w, fmt.Sprintf("parse form: %v", err), http.StatusBadRequest)
		}
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			writeJSONError(w, "missing 'file' field", http.StatusBadRequest)
		} else {
			writeJSONError(w, fmt.Sprintf("read file: %v", err), http.StatusBadRequest)
		}
		return
	}
	defer file.Close()

	if header.Size > maxUploadSize {
		writeJSONError(w, fmt.Sprintf("file too large, the limit is %d MB", maxUploadSize>>20), http.StatusRequestEntityTooLarge)
		return
	}
	mimeType := header.Header.Get("Content-Type")
	h.log.WithFields(logrus.Fields{"file_name": header.Filename, "size": header.Size, "mime_type": mimeType}).Info("upload received")

	info, err := h.files.UploadFile(r.Context(), file, header.Size, header.Filename, mimeType)
	if err != nil {
		h.log.WithField("error", err).Error("store upload")
		writeJSONError(w, "failed to store file", http.StatusInternalServerError)
		return
	}
	writeJSONResponse(w, http.StatusOK, info)
}
