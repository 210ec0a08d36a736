package room

import (
	"context"
	"errors"

	"github.com/weiawesome/chat-relay/internal/domain"
	"github.com/weiawesome/chat-relay/pkg/database"
	"github.com/weiawesome/chat-relay/pkg/log"
	"gorm.io/gorm"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrCodeTaken    = errors.New("room code already exists")
)

type Repository interface {
	Create(ctx context.Context, room *domain.Room) error
	GetByCode(ctx context.Context, code string) (*domain.Room, error)
	ListByCreator(ctx context.Context, username string) ([]domain.Room, error)
}

// GormRepository implements Repository using GORM.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository migrates the rooms table and returns the repository.
func NewGormRepository(db *gorm.DB) (*GormRepository, error) {
	if err := database.AutoMigrate(db, &RoomModel{}); err != nil {
		return nil, err
	}
	return &GormRepository{db: db}, nil
}

func (r *GormRepository) Create(ctx context.Context, room *domain.Room) error {
	l := log.Ctx(ctx)

	var count int64
	if err := r.db.WithContext(ctx).Model(&RoomModel{}).Where("code = ?", room.Code).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrCodeTaken
	}

	model := roomToModel(room)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		l.Error().Err(err).Str(log.FieldRoomCode, room.Code).Msg("failed to create room in db")
		return err
	}

	room.CreatedAt = model.CreatedAt
	l.Debug().Str(log.FieldRoomCode, room.Code).Msg("room created in db")
	return nil
}

func (r *GormRepository) GetByCode(ctx context.Context, code string) (*domain.Room, error) {
	var model RoomModel
	result := r.db.WithContext(ctx).First(&model, "code = ?", code)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		l := log.Ctx(ctx)
		l.Error().Err(result.Error).Str(log.FieldRoomCode, code).Msg("failed to get room by code")
		return nil, result.Error
	}
	return model.ToDomain(), nil
}

func (r *GormRepository) ListByCreator(ctx context.Context, username string) ([]domain.Room, error) {
	var models []RoomModel
	result := r.db.WithContext(ctx).
		Where("created_by = ?", username).
		Order("created_at DESC").
		Find(&models)
	if result.Error != nil {
		l := log.Ctx(ctx)
		l.Error().Err(result.Error).Str(log.FieldUsername, username).Msg("failed to list rooms")
		return nil, result.Error
	}

	rooms := make([]domain.Room, len(models))
	for i, m := range models {
		rooms[i] = *m.ToDomain()
	}
	return rooms, nil
}
