package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/fluentvoice/gateway/internal/embedding"
	"github.com/fluentvoice/gateway/internal/logging"
)

// SearchResult is one ranked memory returned by SemanticSearch, the
// read-side MemoryRecord of SPEC_FULL.md §3.
type SearchResult struct {
	Type       string
	Content    string
	Confidence float64
}

// Store is the external contract the bridge programs against (SPEC_FULL.md
// §6). The bridge itself only ever sees this interface.
type Store interface {
	GetOrCreateUser(ctx context.Context, phone string) (userID string, err error)
	CreateConversation(ctx context.Context, userID, channel, model string) (conversationID string, err error)
	AddMessage(ctx context.Context, conversationID, role, content string) error
	EndConversation(ctx context.Context, conversationID, summary string) error
	StoreMemory(ctx context.Context, userID, memType, content, sourceChannel, sourceConversationID string, confidence float64, supersedes *string) error
	SemanticSearch(ctx context.Context, userID, queryText string, k int) ([]SearchResult, error)
	// Session returns a Store bound to its own DB connection, for use by
	// detached background work that must not share the caller's
	// connection (SPEC_FULL.md §9 "Fact extraction fire-and-forget").
	Session() Store
}

type gormStore struct {
	db       *gorm.DB
	redis    *redis.Client
	embedder embedding.Embedder
	logger   logging.Logger
}

// New builds the production Store.
func New(db *gorm.DB, redisClient *redis.Client, embedder embedding.Embedder, logger logging.Logger) Store {
	return &gormStore{db: db, redis: redisClient, embedder: embedder, logger: logger}
}

func (s *gormStore) Session() Store {
	return &gormStore{
		db:       s.db.Session(&gorm.Session{NewDB: true}),
		redis:    s.redis,
		embedder: s.embedder,
		logger:   s.logger,
	}
}

const userCacheTTL = 10 * time.Minute

func (s *gormStore) GetOrCreateUser(ctx context.Context, phone string) (string, error) {
	cacheKey := "voice:user:" + phone
	if s.redis != nil {
		if cached, err := s.redis.Get(ctx, cacheKey).Result(); err == nil && cached != "" {
			return cached, nil
		}
	}

	var user User
	err := s.db.WithContext(ctx).Where("phone = ?", phone).First(&user).Error
	if err == gorm.ErrRecordNotFound {
		user = User{ID: uuid.NewString(), Phone: phone, CreatedAt: time.Now()}
		if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
			return "", fmt.Errorf("memory: create user: %w", err)
		}
	} else if err != nil {
		return "", fmt.Errorf("memory: lookup user: %w", err)
	}

	if s.redis != nil {
		if err := s.redis.Set(ctx, cacheKey, user.ID, userCacheTTL).Err(); err != nil {
			s.logger.Warnw("memory: redis cache write failed", "error", err)
		}
	}
	return user.ID, nil
}

func (s *gormStore) CreateConversation(ctx context.Context, userID, channel, model string) (string, error) {
	conv := Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Channel:   channel,
		Model:     model,
		CreatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&conv).Error; err != nil {
		return "", fmt.Errorf("memory: create conversation: %w", err)
	}
	return conv.ID, nil
}

func (s *gormStore) AddMessage(ctx context.Context, conversationID, role, content string) error {
	msg := Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return fmt.Errorf("memory: add message: %w", err)
	}
	return nil
}

func (s *gormStore) EndConversation(ctx context.Context, conversationID, summary string) error {
	now := time.Now()
	updates := map[string]interface{}{"ended_at": now}
	if summary != "" {
		updates["summary"] = summary
	}
	if err := s.db.WithContext(ctx).Model(&Conversation{}).Where("id = ?", conversationID).Updates(updates).Error; err != nil {
		return fmt.Errorf("memory: end conversation: %w", err)
	}
	return nil
}

func (s *gormStore) StoreMemory(ctx context.Context, userID, memType, content, sourceChannel, sourceConversationID string, confidence float64, supersedes *string) error {
	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("memory: embed content: %w", err)
	}
	id := uuid.NewString()
	// pgvector has no first-class gorm column type in this stack; write
	// via raw SQL with the vector literal, matching the teacher's use of
	// raw SQL for pgvector-adjacent operations.
	return s.db.WithContext(ctx).Exec(
		`INSERT INTO memories (id, user_id, type, content, confidence, source_channel, source_conversation_id, supersedes_id, embedding, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, userID, memType, content, confidence, sourceChannel, sourceConversationID, supersedes, vectorLiteral(vec), time.Now(),
	).Error
}

func (s *gormStore) SemanticSearch(ctx context.Context, userID, queryText string, k int) ([]SearchResult, error) {
	vec, err := s.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("memory: embed query: %w", err)
	}

	var rows []struct {
		Type       string
		Content    string
		Confidence float64
	}
	err = s.db.WithContext(ctx).Raw(
		`SELECT type, content, confidence FROM memories
		 WHERE user_id = ?
		 ORDER BY embedding <=> ? ASC
		 LIMIT ?`,
		userID, vectorLiteral(vec), k,
	).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("memory: semantic search: %w", err)
	}

	out := make([]SearchResult, len(rows))
	for i, r := range rows {
		out[i] = SearchResult{Type: r.Type, Content: r.Content, Confidence: r.Confidence}
	}
	return out, nil
}

// vectorLiteral renders a float32 vector as pgvector's text input format,
// e.g. "[0.1,0.2,0.3]".
func vectorLiteral(v []float32) string {
	if len(v) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(v)
	return string(b)
}
