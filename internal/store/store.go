// ABOUTME: Store interface and data types for chat-gateway persistence
// ABOUTME: Defines Conversation, Message structs and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when a conversation already exists
// for the same (pet, adopter, owner) triple
var ErrDuplicateConversation = errors.New("conversation already exists")

// ErrEmptyContent is returned when a message has no content
var ErrEmptyContent = errors.New("message content is empty")

// ErrNotParticipant is returned when the sender is not part of the conversation
var ErrNotParticipant = errors.New("user is not a conversation participant")

// ErrNotOwner is returned when a caller tries to delete a pet's
// conversations without being the owner those conversations belong to
var ErrNotOwner = errors.New("user is not the pet's owner")

// Conversation is a persistent thread between one adopter and one owner
// about one pet. Exactly one conversation exists per (pet, adopter, owner)
// triple; creation is idempotent.
type Conversation struct {
	ID            string
	PetID         string
	AdopterID     string
	OwnerID       string
	Title         string
	LastMessageAt time.Time
	CreatedAt     time.Time
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID string) bool {
	return userID == c.AdopterID || userID == c.OwnerID
}

// Message is a single message within a conversation. CreatedAt is assigned
// server-side and is monotonically increasing per conversation. IsRead only
// ever transitions false to true, and only by the non-sending participant.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Content        string    `json:"content"`
	IsRead         bool      `json:"isRead"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Store defines the interface for conversation and message persistence
type Store interface {
	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) (*Conversation, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	GetConversationByTriple(ctx context.Context, petID, adopterID, ownerID string) (*Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]*Conversation, error)
	DeletePetConversations(ctx context.Context, petID, ownerID string) error

	// Messages
	CreateMessage(ctx context.Context, conversationID, senderID, content string) (*Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]*Message, error)
	MarkMessagesRead(ctx context.Context, conversationID string, messageIDs []string, readerID string) ([]string, error)

	Close() error
}
