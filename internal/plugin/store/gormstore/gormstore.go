// Package gormstore implements the conversation store on any SQL database
// gorm can drive. The postgres and sqlite plugins share it.
package gormstore

import (
	"context"
	"fmt"

	"github.com/chirino/conversation-identity/internal/model"
	registrystore "github.com/chirino/conversation-identity/internal/registry/store"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MessageRow is one entry of a conversation log. Seq orders the log.
type MessageRow struct {
	Seq            uint64 `gorm:"primaryKey;autoIncrement"`
	ConversationID string `gorm:"size:255;not null;index:idx_conversation_messages_conv_seq,priority:1"`
	Role           string `gorm:"size:32;not null"`
	Content        string `gorm:"type:text;not null"`
	Timestamp      string `gorm:"size:64;not null"`
}

func (MessageRow) TableName() string { return "conversation_messages" }

// MetadataRow is one key of a conversation's metadata map.
type MetadataRow struct {
	ConversationID string `gorm:"primaryKey;size:255"`
	Key            string `gorm:"primaryKey;size:255"`
	Value          string `gorm:"type:text;not null"`
}

func (MetadataRow) TableName() string { return "conversation_metadata" }

// AllModels returns the gorm models managed by this store.
func AllModels() []any {
	return []any{&MessageRow{}, &MetadataRow{}}
}

// AutoMigrate creates or updates the store tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("gormstore: auto-migrate: %w", err)
	}
	return nil
}

// Store implements registrystore.Store with gorm.
type Store struct {
	db    *gorm.DB
	limit int
}

// New returns a store over db whose logs are trimmed to limit on append.
func New(db *gorm.DB, limit int) *Store {
	return &Store{db: db, limit: limit}
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) AppendMessage(ctx context.Context, conversationID string, msg model.Message) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := MessageRow{
			ConversationID: conversationID,
			Role:           string(msg.Role),
			Content:        msg.Content,
			Timestamp:      msg.Timestamp,
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("append message: %w", err)
		}
		if s.limit <= 0 {
			return nil
		}
		keep := tx.Model(&MessageRow{}).
			Select("seq").
			Where("conversation_id = ?", conversationID).
			Order("seq DESC").
			Limit(s.limit)
		err := tx.Where("conversation_id = ? AND seq NOT IN (?)", conversationID, keep).
			Delete(&MessageRow{}).Error
		if err != nil {
			return fmt.Errorf("trim messages: %w", err)
		}
		return nil
	})
}

func (s *Store) ListMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	var rows []MessageRow
	q := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID).Order("seq DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	out := make([]model.Message, len(rows))
	for i, row := range rows {
		out[len(rows)-1-i] = model.Message{
			Role:      model.Role(row.Role),
			Content:   row.Content,
			Timestamp: row.Timestamp,
		}
	}
	return out, nil
}

func (s *Store) ReplaceMessages(ctx context.Context, conversationID string, msgs []model.Message) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", conversationID).Delete(&MessageRow{}).Error; err != nil {
			return fmt.Errorf("replace messages: %w", err)
		}
		if len(msgs) == 0 {
			return nil
		}
		rows := make([]MessageRow, len(msgs))
		for i, m := range msgs {
			rows[i] = MessageRow{
				ConversationID: conversationID,
				Role:           string(m.Role),
				Content:        m.Content,
				Timestamp:      m.Timestamp,
			}
		}
		if err := tx.CreateInBatches(rows, 100).Error; err != nil {
			return fmt.Errorf("replace messages: %w", err)
		}
		return nil
	})
}

func (s *Store) ClearMessages(ctx context.Context, conversationID string) error {
	err := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID).Delete(&MessageRow{}).Error
	if err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	return nil
}

func (s *Store) GetMetadata(ctx context.Context, conversationID string) (model.Metadata, error) {
	var rows []MetadataRow
	if err := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("get metadata: %w", err)
	}
	md := make(model.Metadata, len(rows))
	for _, row := range rows {
		md[row.Key] = row.Value
	}
	return md, nil
}

func (s *Store) SetMetadata(ctx context.Context, conversationID string, md model.Metadata) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", conversationID).Delete(&MetadataRow{}).Error; err != nil {
			return fmt.Errorf("set metadata: %w", err)
		}
		if len(md) == 0 {
			return nil
		}
		rows := make([]MetadataRow, 0, len(md))
		for k, v := range md {
			rows = append(rows, MetadataRow{ConversationID: conversationID, Key: k, Value: v})
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "conversation_id"}, {Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value"}),
		}).Create(&rows).Error
		if err != nil {
			return fmt.Errorf("set metadata: %w", err)
		}
		return nil
	})
}

func (s *Store) ForgetMetadata(ctx context.Context, conversationID string) error {
	err := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID).Delete(&MetadataRow{}).Error
	if err != nil {
		return fmt.Errorf("forget metadata: %w", err)
	}
	return nil
}

var _ registrystore.Store = (*Store)(nil)
