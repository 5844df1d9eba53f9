// ABOUTME: Tests for the REST API handlers
// ABOUTME: Uses a real SQLite store, a fake notifier, and real JWT auth

package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pawhaven/chat-gateway/internal/auth"
	"github.com/pawhaven/chat-gateway/internal/store"
)

// fakeNotifier records notify calls for ordering/content assertions
type fakeNotifier struct {
	mu          sync.Mutex
	newMessages []*store.Message
	readEvents  [][]string
	readReaders []string
	readConvIDs []string
	msgConvIDs  []string
}

func (f *fakeNotifier) NotifyNewMessage(conversationID string, msg *store.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgConvIDs = append(f.msgConvIDs, conversationID)
	f.newMessages = append(f.newMessages, msg)
}

func (f *fakeNotifier) NotifyMessagesRead(conversationID string, messageIDs []string, readerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readConvIDs = append(f.readConvIDs, conversationID)
	f.readEvents = append(f.readEvents, messageIDs)
	f.readReaders = append(f.readReaders, readerID)
}

type apiFixture struct {
	server   *httptest.Server
	store    *store.SQLiteStore
	notifier *fakeNotifier
	verifier *auth.JWTVerifier
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	notifier := &fakeNotifier{}
	verifier := auth.NewJWTVerifier([]byte("test-secret"))

	r := mux.NewRouter()
	NewHandler(s, notifier, nil).Register(r, verifier)

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	return &apiFixture{server: server, store: s, notifier: notifier, verifier: verifier}
}

// do performs an authenticated JSON request as the given user
func (f *apiFixture) do(t *testing.T, userID, method, path string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	require.NoError(t, err)

	token, err := f.verifier.Generate(userID, time.Hour)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (f *apiFixture) createConversation(t *testing.T, adopterID, petID, ownerID string) ConversationResponse {
	t.Helper()
	resp := f.do(t, adopterID, http.MethodPost, "/api/conversations", CreateConversationRequest{
		PetID:   petID,
		OwnerID: ownerID,
		Title:   "About " + petID,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decodeBody[ConversationResponse](t, resp)
}

func TestAPI_RequiresAuth(t *testing.T) {
	f := newAPIFixture(t)

	resp, err := http.Get(f.server.URL + "/api/conversations")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPI_CreateConversationIsIdempotent(t *testing.T) {
	f := newAPIFixture(t)

	first := f.createConversation(t, "adopter-1", "pet-7", "owner-1")
	second := f.createConversation(t, "adopter-1", "pet-7", "owner-1")

	assert.Equal(t, first.ID, second.ID, "same triple must return the same conversation")
	assert.Equal(t, "adopter-1", first.AdopterID)
}

func TestAPI_CreateConversationValidation(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, "adopter-1", http.MethodPost, "/api/conversations", CreateConversationRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Opening a conversation with oneself is rejected
	resp = f.do(t, "owner-1", http.MethodPost, "/api/conversations", CreateConversationRequest{
		PetID: "pet-7", OwnerID: "owner-1",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_SendMessagePersistsThenNotifies(t *testing.T) {
	f := newAPIFixture(t)
	conv := f.createConversation(t, "adopter-1", "pet-7", "owner-1")

	resp := f.do(t, "adopter-1", http.MethodPost, "/api/conversations/"+conv.ID+"/messages", SendMessageRequest{
		Content: "Hello",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	msg := decodeBody[store.Message](t, resp)

	assert.NotEmpty(t, msg.ID, "server assigns the message id")
	assert.Equal(t, "adopter-1", msg.SenderID)
	assert.False(t, msg.IsRead)
	assert.False(t, msg.CreatedAt.IsZero())

	// The broadcast carried the persisted message
	require.Len(t, f.notifier.newMessages, 1)
	assert.Equal(t, msg.ID, f.notifier.newMessages[0].ID)
	assert.Equal(t, conv.ID, f.notifier.msgConvIDs[0])

	// And the write was durable before the notify: the message is fetchable
	listResp := f.do(t, "owner-1", http.MethodGet, "/api/conversations/"+conv.ID+"/messages", nil)
	require.Equal(t, http.StatusOK, listResp.StatusCode)
	messages := decodeBody[[]store.Message](t, listResp)
	require.Len(t, messages, 1)
	assert.Equal(t, msg.ID, messages[0].ID)
}

func TestAPI_SendMessageRejectsNonParticipant(t *testing.T) {
	f := newAPIFixture(t)
	conv := f.createConversation(t, "adopter-1", "pet-7", "owner-1")

	resp := f.do(t, "stranger", http.MethodPost, "/api/conversations/"+conv.ID+"/messages", SendMessageRequest{
		Content: "let me in",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Empty(t, f.notifier.newMessages, "no broadcast on a failed write")
}

func TestAPI_SendMessageRejectsEmptyContent(t *testing.T) {
	f := newAPIFixture(t)
	conv := f.createConversation(t, "adopter-1", "pet-7", "owner-1")

	resp := f.do(t, "adopter-1", http.MethodPost, "/api/conversations/"+conv.ID+"/messages", SendMessageRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, f.notifier.newMessages)
}

func TestAPI_SendMessageUnknownConversation(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, "adopter-1", http.MethodPost, "/api/conversations/missing/messages", SendMessageRequest{
		Content: "hello?",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_MarkReadSkipsSelfSentAndNotifies(t *testing.T) {
	f := newAPIFixture(t)
	conv := f.createConversation(t, "adopter-1", "pet-7", "owner-1")

	sendResp := f.do(t, "adopter-1", http.MethodPost, "/api/conversations/"+conv.ID+"/messages", SendMessageRequest{Content: "hi"})
	fromAdopter := decodeBody[store.Message](t, sendResp)
	sendResp = f.do(t, "owner-1", http.MethodPost, "/api/conversations/"+conv.ID+"/messages", SendMessageRequest{Content: "hey"})
	fromOwner := decodeBody[store.Message](t, sendResp)

	resp := f.do(t, "owner-1", http.MethodPost, "/api/conversations/"+conv.ID+"/read", MarkReadRequest{
		MessageIDs: []string{fromAdopter.ID, fromOwner.ID},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decodeBody[MarkReadResponse](t, resp)

	assert.Equal(t, []string{fromAdopter.ID}, result.MessageIDs, "own message must not flip")

	require.Len(t, f.notifier.readEvents, 1)
	assert.Equal(t, []string{fromAdopter.ID}, f.notifier.readEvents[0])
	assert.Equal(t, "owner-1", f.notifier.readReaders[0])
	assert.Equal(t, conv.ID, f.notifier.readConvIDs[0])
}

func TestAPI_MarkReadByNonParticipant(t *testing.T) {
	f := newAPIFixture(t)
	conv := f.createConversation(t, "adopter-1", "pet-7", "owner-1")

	resp := f.do(t, "stranger", http.MethodPost, "/api/conversations/"+conv.ID+"/read", MarkReadRequest{
		MessageIDs: []string{"whatever"},
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Empty(t, f.notifier.readEvents)
}

func TestAPI_MarkReadCannotReachOtherConversations(t *testing.T) {
	f := newAPIFixture(t)

	// Two conversations with the same owner; adopter-2 participates only
	// in the first.
	own := f.createConversation(t, "adopter-2", "pet-7", "owner-1")
	victim := f.createConversation(t, "adopter-1", "pet-8", "owner-1")

	sendResp := f.do(t, "adopter-1", http.MethodPost, "/api/conversations/"+victim.ID+"/messages", SendMessageRequest{Content: "still available?"})
	require.Equal(t, http.StatusCreated, sendResp.StatusCode)
	foreign := decodeBody[store.Message](t, sendResp)

	// Smuggling the other conversation's message id through a conversation
	// the caller does participate in must not flip anything.
	resp := f.do(t, "adopter-2", http.MethodPost, "/api/conversations/"+own.ID+"/read", MarkReadRequest{
		MessageIDs: []string{foreign.ID},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decodeBody[MarkReadResponse](t, resp)
	assert.Empty(t, result.MessageIDs, "ids outside the conversation must be skipped")

	require.Len(t, f.notifier.readEvents, 1)
	assert.Empty(t, f.notifier.readEvents[0], "no foreign ids may reach the broadcast")

	listResp := f.do(t, "owner-1", http.MethodGet, "/api/conversations/"+victim.ID+"/messages", nil)
	messages := decodeBody[[]store.Message](t, listResp)
	require.Len(t, messages, 1)
	assert.False(t, messages[0].IsRead, "message in the other conversation must stay unread")
}

func TestAPI_ListConversationsScopedToCaller(t *testing.T) {
	f := newAPIFixture(t)
	f.createConversation(t, "adopter-1", "pet-7", "owner-1")
	f.createConversation(t, "adopter-2", "pet-8", "owner-1")

	resp := f.do(t, "adopter-1", http.MethodGet, "/api/conversations", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	convs := decodeBody[[]ConversationResponse](t, resp)
	require.Len(t, convs, 1)
	assert.Equal(t, "pet-7", convs[0].PetID)

	// The owner sees both
	resp = f.do(t, "owner-1", http.MethodGet, "/api/conversations", nil)
	convs = decodeBody[[]ConversationResponse](t, resp)
	assert.Len(t, convs, 2)
}

func TestAPI_GetConversationForbiddenForOutsider(t *testing.T) {
	f := newAPIFixture(t)
	conv := f.createConversation(t, "adopter-1", "pet-7", "owner-1")

	resp := f.do(t, "stranger", http.MethodGet, "/api/conversations/"+conv.ID, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAPI_MessagesOrderedChronologically(t *testing.T) {
	f := newAPIFixture(t)
	conv := f.createConversation(t, "adopter-1", "pet-7", "owner-1")

	contents := []string{"first", "second", "third"}
	for _, c := range contents {
		resp := f.do(t, "adopter-1", http.MethodPost, "/api/conversations/"+conv.ID+"/messages", SendMessageRequest{Content: c})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp := f.do(t, "owner-1", http.MethodGet, "/api/conversations/"+conv.ID+"/messages", nil)
	messages := decodeBody[[]store.Message](t, resp)
	require.Len(t, messages, 3)
	for i, c := range contents {
		assert.Equal(t, c, messages[i].Content)
	}
	assert.True(t, messages[0].CreatedAt.Before(messages[1].CreatedAt))
	assert.True(t, messages[1].CreatedAt.Before(messages[2].CreatedAt))
}

func TestAPI_DeletePetConversationsCascades(t *testing.T) {
	f := newAPIFixture(t)
	conv := f.createConversation(t, "adopter-1", "pet-7", "owner-1")
	survivor := f.createConversation(t, "adopter-1", "pet-8", "owner-1")

	resp := f.do(t, "owner-1", http.MethodDelete, "/api/pets/pet-7/conversations", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.do(t, "adopter-1", http.MethodGet, "/api/conversations/"+conv.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, "adopter-1", http.MethodGet, "/api/conversations/"+survivor.ID, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_DeletePetConversationsForbiddenForNonOwner(t *testing.T) {
	f := newAPIFixture(t)
	conv := f.createConversation(t, "adopter-1", "pet-7", "owner-1")

	// A participant who is not the owner cannot trigger the cascade
	resp := f.do(t, "adopter-1", http.MethodDelete, "/api/pets/pet-7/conversations", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = f.do(t, "adopter-1", http.MethodGet, "/api/conversations/"+conv.ID, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "conversation must survive the rejected delete")
}
