package room

import (
	"time"

	"github.com/weiawesome/chat-relay/internal/domain"
)

// RoomModel is the GORM model for the rooms table.
type RoomModel struct {
	Code      string    `gorm:"type:varchar(64);primaryKey"`
	Name      string    `gorm:"type:varchar(200);not null"`
	CreatedBy string    `gorm:"type:varchar(100);index;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (RoomModel) TableName() string {
	return "rooms"
}

func (m *RoomModel) ToDomain() *domain.Room {
	return &domain.Room{
		Name:      m.Name,
		Code:      m.Code,
		CreatedBy: m.CreatedBy,
		CreatedAt: m.CreatedAt,
	}
}

func roomToModel(r *domain.Room) *RoomModel {
	return &RoomModel{
		Code:      r.Code,
		Name:      r.Name,
		CreatedBy: r.CreatedBy,
		CreatedAt: r.CreatedAt,
	}
}
