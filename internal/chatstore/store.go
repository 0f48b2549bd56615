// Package chatstore is the durable, append-only log behind the chat
// interface. Conversations own messages; history is always reconstructed
// from persisted rows so no orchestrator instance needs session affinity.
package chatstore

import (
	"encoding/json"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"taskflow/server/internal/db"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MaxPageSize caps get-messages pagination regardless of the caller's limit.
const MaxPageSize = 100

const defaultPageSize = 50

// previewLength is in characters, not bytes.
const previewLength = 100

// ToolCall is one persisted tool invocation triple from an assistant turn.
type ToolCall struct {
	Tool   string         `json:"tool"`
	Input  map[string]any `json:"input"`
	Output any            `json:"output"`
}

type Conversation struct {
	ID        int64
	OwnerID   uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ConversationSummary struct {
	Conversation
	MessageCount       int64
	LastMessagePreview string
}

type Message struct {
	ID             int64
	ConversationID int64
	OwnerID        uuid.UUID
	Role           Role
	Content        string
	ToolCalls      []ToolCall
	CreatedAt      time.Time
}

// HistoryMessage is the minimal view handed to the agent: role and content
// only, no ids and no tool call payloads.
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

var nowFunc = time.Now

type Store struct {
	db *gorm.DB
}

func NewStore(gdb *gorm.DB) (*Store, error) {
	if gdb == nil {
		return nil, errors.New("db is required")
	}
	return &Store{db: gdb}, nil
}

func (s *Store) CreateConversation(ownerID uuid.UUID) (Conversation, error) {
	now := nowFunc().UTC().UnixMilli()
	row := db.Conversation{
		OwnerID:   ownerID.String(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.Create(&row).Error; err != nil {
		return Conversation{}, err
	}
	return conversationFromRow(row)
}

// GetConversation reports ok=false for a missing conversation and for one
// owned by someone else, indistinguishably.
func (s *Store) GetConversation(id int64, ownerID uuid.UUID) (Conversation, bool, error) {
	row, ok, err := s.findOwned(id, ownerID)
	if err != nil || !ok {
		return Conversation{}, false, err
	}
	conv, err := conversationFromRow(row)
	if err != nil {
		return Conversation{}, false, err
	}
	return conv, true, nil
}

// ListConversations returns the owner's conversations newest-activity first,
// each enriched with its message count and a preview of the latest message.
// The second return is the owner's total conversation count.
func (s *Store) ListConversations(ownerID uuid.UUID, limit, offset int) ([]ConversationSummary, int64, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if offset < 0 {
		offset = 0
	}
	var total int64
	if err := s.db.Model(&db.Conversation{}).Where("owner_id = ?", ownerID.String()).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	rows := make([]db.Conversation, 0, limit)
	err := s.db.Where("owner_id = ?", ownerID.String()).
		Order("updated_at DESC, id DESC").
		Limit(limit).Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}
	summaries := make([]ConversationSummary, 0, len(rows))
	for _, row := range rows {
		conv, err := conversationFromRow(row)
		if err != nil {
			return nil, 0, err
		}
		var count int64
		if err := s.db.Model(&db.Message{}).Where("conversation_id = ?", row.ID).Count(&count).Error; err != nil {
			return nil, 0, err
		}
		preview, err := s.lastMessagePreview(row.ID)
		if err != nil {
			return nil, 0, err
		}
		summaries = append(summaries, ConversationSummary{
			Conversation:       conv,
			MessageCount:       count,
			LastMessagePreview: preview,
		})
	}
	return summaries, total, nil
}

// AppendMessage inserts a message and bumps the parent conversation's
// updated_at in the same transaction. That coupling is deliberate: the
// conversation list orders by last activity. Returns ok=false when the
// conversation is missing or not owned.
func (s *Store) AppendMessage(conversationID int64, ownerID uuid.UUID, role Role, content string, toolCalls []ToolCall) (Message, bool, error) {
	if content == "" {
		return Message{}, false, errors.New("message content is required")
	}
	switch role {
	case RoleUser:
		if len(toolCalls) > 0 {
			return Message{}, false, errors.New("tool calls are only valid on assistant messages")
		}
	case RoleAssistant:
	default:
		return Message{}, false, errors.New("unknown message role: " + string(role))
	}

	toolCallsJSON := ""
	if len(toolCalls) > 0 {
		raw, err := json.Marshal(toolCalls)
		if err != nil {
			return Message{}, false, err
		}
		toolCallsJSON = string(raw)
	}

	now := nowFunc().UTC().UnixMilli()
	row := db.Message{
		ConversationID: conversationID,
		OwnerID:        ownerID.String(),
		Role:           string(role),
		Content:        content,
		ToolCallsJSON:  toolCallsJSON,
		CreatedAt:      now,
	}
	found := true
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var conv db.Conversation
		err := tx.Where("id = ? AND owner_id = ?", conversationID, ownerID.String()).First(&conv).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		return tx.Model(&db.Conversation{}).Where("id = ?", conversationID).Update("updated_at", now).Error
	})
	if err != nil {
		return Message{}, false, err
	}
	if !found {
		return Message{}, false, nil
	}
	msg, err := messageFromRow(row)
	if err != nil {
		return Message{}, false, err
	}
	return msg, true, nil
}

// GetMessages returns a page of messages in append order plus the total
// count and whether more pages remain. The limit is capped at MaxPageSize.
func (s *Store) GetMessages(conversationID int64, ownerID uuid.UUID, limit, offset int) ([]Message, int64, bool, error) {
	if _, ok, err := s.findOwned(conversationID, ownerID); err != nil || !ok {
		return nil, 0, false, err
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	var total int64
	if err := s.db.Model(&db.Message{}).Where("conversation_id = ?", conversationID).Count(&total).Error; err != nil {
		return nil, 0, false, err
	}
	rows := make([]db.Message, 0, limit)
	err := s.db.Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC").
		Limit(limit).Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, 0, false, err
	}
	messages := make([]Message, 0, len(rows))
	for _, row := range rows {
		msg, err := messageFromRow(row)
		if err != nil {
			return nil, 0, false, err
		}
		messages = append(messages, msg)
	}
	hasMore := int64(offset)+int64(len(messages)) < total
	return messages, total, hasMore, nil
}

// HistoryForAgent rebuilds the bounded {role, content} context for the
// external agent. Output depends only on persisted rows.
func (s *Store) HistoryForAgent(conversationID int64, limit int) ([]HistoryMessage, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	rows := make([]db.Message, 0, limit)
	err := s.db.Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	history := make([]HistoryMessage, 0, len(rows))
	for _, row := range rows {
		history = append(history, HistoryMessage{Role: row.Role, Content: row.Content})
	}
	return history, nil
}

// DeleteConversation removes the conversation and all its messages in one
// transaction. Returns false when the conversation is missing or not owned.
func (s *Store) DeleteConversation(id int64, ownerID uuid.UUID) (bool, error) {
	deleted := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var conv db.Conversation
		err := tx.Where("id = ? AND owner_id = ?", id, ownerID.String()).First(&conv).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.Where("conversation_id = ?", id).Delete(&db.Message{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&db.Conversation{}, id).Error; err != nil {
			return err
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

func (s *Store) lastMessagePreview(conversationID int64) (string, error) {
	var row db.Message
	err := s.db.Where("conversation_id = ?", conversationID).
		Order("created_at DESC, id DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return truncateRunes(row.Content, previewLength), nil
}

// truncateRunes cuts on a rune boundary so multibyte content never ends in a
// split sequence.
func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}

func (s *Store) findOwned(id int64, ownerID uuid.UUID) (db.Conversation, bool, error) {
	var row db.Conversation
	err := s.db.Where("id = ? AND owner_id = ?", id, ownerID.String()).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return db.Conversation{}, false, nil
	}
	if err != nil {
		return db.Conversation{}, false, err
	}
	return row, true, nil
}

func conversationFromRow(row db.Conversation) (Conversation, error) {
	owner, err := uuid.Parse(row.OwnerID)
	if err != nil {
		return Conversation{}, err
	}
	return Conversation{
		ID:        row.ID,
		OwnerID:   owner,
		CreatedAt: time.UnixMilli(row.CreatedAt).UTC(),
		UpdatedAt: time.UnixMilli(row.UpdatedAt).UTC(),
	}, nil
}

func messageFromRow(row db.Message) (Message, error) {
	owner, err := uuid.Parse(row.OwnerID)
	if err != nil {
		return Message{}, err
	}
	var toolCalls []ToolCall
	if row.ToolCallsJSON != "" {
		if err := json.Unmarshal([]byte(row.ToolCallsJSON), &toolCalls); err != nil {
			return Message{}, err
		}
	}
	return Message{
		ID:             row.ID,
		ConversationID: row.ConversationID,
		OwnerID:        owner,
		Role:           Role(row.Role),
		Content:        row.Content,
		ToolCalls:      toolCalls,
		CreatedAt:      time.UnixMilli(row.CreatedAt).UTC(),
	}, nil
}
