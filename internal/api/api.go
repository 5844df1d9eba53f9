// ABOUTME: REST handlers for conversations, messages, and read receipts
// ABOUTME: Every mutation persists through the store before any broadcast

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/pawhaven/chat-gateway/internal/auth"
	"github.com/pawhaven/chat-gateway/internal/store"
)

// Notifier is the broadcast surface the REST layer publishes to after a
// durable write. Implemented by broadcast.Router.
type Notifier interface {
	NotifyNewMessage(conversationID string, msg *store.Message)
	NotifyMessagesRead(conversationID string, messageIDs []string, readerID string)
}

// Handler serves the conversation REST API.
type Handler struct {
	store    store.Store
	notifier Notifier
	logger   *slog.Logger
}

// NewHandler creates the REST handler. Pass nil logger for default.
func NewHandler(s store.Store, n Notifier, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:    s,
		notifier: n,
		logger:   logger.With("component", "api"),
	}
}

// Register mounts the API routes on the router behind the auth middleware.
func (h *Handler) Register(r *mux.Router, verifier auth.TokenVerifier) {
	api := r.PathPrefix("/api").Subrouter()
	api.Use(auth.Middleware(verifier))

	api.HandleFunc("/conversations", h.handleCreateConversation).Methods(http.MethodPost)
	api.HandleFunc("/conversations", h.handleListConversations).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id}", h.handleGetConversation).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id}/messages", h.handleListMessages).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id}/messages", h.handleSendMessage).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}/read", h.handleMarkRead).Methods(http.MethodPost)
	api.HandleFunc("/pets/{petId}/conversations", h.handleDeletePetConversations).Methods(http.MethodDelete)
}

// CreateConversationRequest is the JSON request body for POST /api/conversations.
// The adopter is always the authenticated caller.
type CreateConversationRequest struct {
	PetID   string `json:"petId"`
	OwnerID string `json:"ownerId"`
	Title   string `json:"title"`
}

// ConversationResponse is the JSON shape of a conversation.
type ConversationResponse struct {
	ID            string `json:"id"`
	PetID         string `json:"petId"`
	AdopterID     string `json:"adopterId"`
	OwnerID       string `json:"ownerId"`
	Title         string `json:"title"`
	LastMessageAt string `json:"lastMessageAt"`
	CreatedAt     string `json:"createdAt"`
}

// SendMessageRequest is the JSON request body for POST /api/conversations/{id}/messages.
type SendMessageRequest struct {
	Content string `json:"content"`
}

// MarkReadRequest is the JSON request body for POST /api/conversations/{id}/read.
type MarkReadRequest struct {
	MessageIDs []string `json:"messageIds"`
}

// MarkReadResponse reports which ids actually transitioned to read.
type MarkReadResponse struct {
	MessageIDs []string `json:"messageIds"`
}

func (h *Handler) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	adopterID := auth.UserIDFromContext(r.Context())

	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PetID == "" || req.OwnerID == "" {
		h.writeError(w, http.StatusBadRequest, "petId and ownerId are required")
		return
	}
	if req.OwnerID == adopterID {
		h.writeError(w, http.StatusBadRequest, "cannot open a conversation with yourself")
		return
	}

	conv, err := h.store.CreateConversation(r.Context(), &store.Conversation{
		PetID:     req.PetID,
		AdopterID: adopterID,
		OwnerID:   req.OwnerID,
		Title:     req.Title,
	})
	if err != nil {
		h.logger.Error("conversation creation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to create conversation")
		return
	}

	h.writeJSON(w, http.StatusOK, toConversationResponse(conv))
}

func (h *Handler) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	convs, err := h.store.ListConversations(r.Context(), userID)
	if err != nil {
		h.logger.Error("listing conversations failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}

	resp := make([]ConversationResponse, 0, len(convs))
	for _, conv := range convs {
		resp = append(resp, toConversationResponse(conv))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.participantConversation(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, toConversationResponse(conv))
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.participantConversation(w, r)
	if !ok {
		return
	}

	messages, err := h.store.ListMessages(r.Context(), conv.ID)
	if err != nil {
		h.logger.Error("listing messages failed", "conversation_id", conv.ID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	if messages == nil {
		messages = []*store.Message{}
	}
	h.writeJSON(w, http.StatusOK, messages)
}

// handleSendMessage persists the message, then publishes new_message. The
// ordering is a correctness requirement: the event must never precede the
// durable write, so a client that re-fetches on receipt always observes
// the message.
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	senderID := auth.UserIDFromContext(r.Context())
	conversationID := mux.Vars(r)["id"]

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := h.store.CreateMessage(r.Context(), conversationID, senderID, req.Content)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			h.writeError(w, http.StatusNotFound, "conversation not found")
		case errors.Is(err, store.ErrNotParticipant):
			h.writeError(w, http.StatusForbidden, "not a conversation participant")
		case errors.Is(err, store.ErrEmptyContent):
			h.writeError(w, http.StatusBadRequest, "message content is empty")
		default:
			h.logger.Error("message creation failed", "conversation_id", conversationID, "error", err)
			h.writeError(w, http.StatusInternalServerError, "failed to send message")
		}
		return
	}

	h.notifier.NotifyNewMessage(conversationID, msg)
	h.writeJSON(w, http.StatusCreated, msg)
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	readerID := auth.UserIDFromContext(r.Context())
	conv, ok := h.participantConversation(w, r)
	if !ok {
		return
	}

	var req MarkReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	updated, err := h.store.MarkMessagesRead(r.Context(), conv.ID, req.MessageIDs, readerID)
	if err != nil {
		h.logger.Error("marking messages read failed", "conversation_id", conv.ID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to mark messages read")
		return
	}

	h.notifier.NotifyMessagesRead(conv.ID, updated, readerID)
	h.writeJSON(w, http.StatusOK, MarkReadResponse{MessageIDs: updated})
}

// handleDeletePetConversations cascades conversation (and message) removal
// when the marketplace deletes a pet listing. Only the pet's owner may
// trigger the cascade.
func (h *Handler) handleDeletePetConversations(w http.ResponseWriter, r *http.Request) {
	callerID := auth.UserIDFromContext(r.Context())
	petID := mux.Vars(r)["petId"]

	if err := h.store.DeletePetConversations(r.Context(), petID, callerID); err != nil {
		if errors.Is(err, store.ErrNotOwner) {
			h.writeError(w, http.StatusForbidden, "not the pet's owner")
			return
		}
		h.logger.Error("cascade delete failed", "pet_id", petID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to delete conversations")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// participantConversation loads the conversation from the path and checks
// the caller participates in it. Writes the error response on failure.
func (h *Handler) participantConversation(w http.ResponseWriter, r *http.Request) (*store.Conversation, bool) {
	userID := auth.UserIDFromContext(r.Context())
	conversationID := mux.Vars(r)["id"]

	conv, err := h.store.GetConversation(r.Context(), conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "conversation not found")
		} else {
			h.logger.Error("conversation lookup failed", "conversation_id", conversationID, "error", err)
			h.writeError(w, http.StatusInternalServerError, "failed to load conversation")
		}
		return nil, false
	}
	if !conv.HasParticipant(userID) {
		h.writeError(w, http.StatusForbidden, "not a conversation participant")
		return nil, false
	}
	return conv, true
}

func toConversationResponse(conv *store.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:            conv.ID,
		PetID:         conv.PetID,
		AdopterID:     conv.AdopterID,
		OwnerID:       conv.OwnerID,
		Title:         conv.Title,
		LastMessageAt: conv.LastMessageAt.Format(time.RFC3339Nano),
		CreatedAt:     conv.CreatedAt.Format(time.RFC3339Nano),
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}
