// Package memory implements the concrete Postgres/pgvector-backed memory
// store behind the bridge's external contract (SPEC_FULL.md §6, §11.1),
// grounded in original_source/gateway/gateway/db/models.py's schema shape.
package memory

import "time"

// User mirrors original_source's users table: one row per normalized phone
// number.
type User struct {
	ID        string `gorm:"column:id;primaryKey"`
	Phone     string `gorm:"column:phone;uniqueIndex"`
	CreatedAt time.Time
}

func (User) TableName() string { return "users" }

// Conversation mirrors original_source's conversations table.
type Conversation struct {
	ID        string `gorm:"column:id;primaryKey"`
	UserID    string `gorm:"column:user_id;index"`
	Channel   string `gorm:"column:channel"`
	Model     string `gorm:"column:model"`
	Summary   string `gorm:"column:summary"`
	CreatedAt time.Time
	EndedAt   *time.Time
}

func (Conversation) TableName() string { return "conversations" }

// Message mirrors original_source's messages table: one row per transcript
// turn persisted post-call.
type Message struct {
	ID             string `gorm:"column:id;primaryKey"`
	ConversationID string `gorm:"column:conversation_id;index"`
	Role           string `gorm:"column:role"`
	Content        string `gorm:"column:content"`
	CreatedAt      time.Time
}

func (Message) TableName() string { return "messages" }

// Record mirrors original_source's memories table: a typed, user-scoped
// factual record with an embedding, retrievable by semantic similarity.
// The Embedding column is written/read via raw SQL (pgvector's `vector`
// type has no first-class gorm mapping in this stack), so it is not a Go
// field here — see store.go's StoreMemory/SemanticSearch.
type Record struct {
	ID                   string `gorm:"column:id;primaryKey"`
	UserID               string `gorm:"column:user_id;index"`
	Type                 string `gorm:"column:type"`
	Content              string `gorm:"column:content"`
	Confidence           float64 `gorm:"column:confidence"`
	SourceChannel        string `gorm:"column:source_channel"`
	SourceConversationID string `gorm:"column:source_conversation_id"`
	SupersedesID         *string `gorm:"column:supersedes_id"`
	CreatedAt            time.Time
}

func (Record) TableName() string { return "memories" }
