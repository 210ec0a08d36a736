package logstore

import (
	"context"
	"errors"

	"github.com/weiawesome/chat-relay/internal/domain"
	"github.com/weiawesome/chat-relay/pkg/database"
	"gorm.io/gorm"
)

// MessageModel is the GORM model for the chat_messages table.
type MessageModel struct {
	ID        string `gorm:"type:varchar(40);primaryKey"`
	RoomCode  string `gorm:"type:varchar(64);not null;index:idx_room_order,priority:1"`
	Timestamp int64  `gorm:"not null;index:idx_room_order,priority:2"`
	Seq       int64  `gorm:"not null;index:idx_room_order,priority:3"`
	Sender    string `gorm:"type:varchar(100);not null"`
	Content   string `gorm:"type:text;not null"`
}

func (MessageModel) TableName() string {
	return "chat_messages"
}

func (m *MessageModel) toEntry() Entry {
	return Entry{
		Message: domain.ChatMessage{
			ID:        m.ID,
			RoomCode:  m.RoomCode,
			Sender:    m.Sender,
			Content:   m.Content,
			Timestamp: m.Timestamp,
		},
		Seq: m.Seq,
	}
}

func entryToModel(e Entry) *MessageModel {
	return &MessageModel{
		ID:        e.Message.ID,
		RoomCode:  e.Message.RoomCode,
		Timestamp: e.Message.Timestamp,
		Seq:       e.Seq,
		Sender:    e.Message.Sender,
		Content:   e.Message.Content,
	}
}

// GormBackend stores entries in a relational table.
type GormBackend struct {
	db *gorm.DB
}

// NewGormBackend migrates chat_messages and returns the backend. The
// connection is owned by the caller.
func NewGormBackend(db *gorm.DB) (*GormBackend, error) {
	if err := database.AutoMigrate(db, &MessageModel{}); err != nil {
		return nil, err
	}
	return &GormBackend{db: db}, nil
}

func (b *GormBackend) Insert(ctx context.Context, e Entry) error {
	return b.db.WithContext(ctx).Create(entryToModel(e)).Error
}

func (b *GormBackend) Scan(ctx context.Context, roomCode string) ([]Entry, error) {
	var models []MessageModel
	err := b.db.WithContext(ctx).
		Where("room_code = ?", roomCode).
		Order("timestamp ASC").Order("seq ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, len(models))
	for i := range models {
		entries[i] = models[i].toEntry()
	}
	return entries, nil
}

func (b *GormBackend) Last(ctx context.Context, roomCode string) (Entry, bool, error) {
	var model MessageModel
	err := b.db.WithContext(ctx).
		Where("room_code = ?", roomCode).
		Order("timestamp DESC").Order("seq DESC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return model.toEntry(), true, nil
}

func (b *GormBackend) Close() error { return nil }
