package room

import (
	"context"
	"errors"
	"time"

	"github.com/weiawesome/chat-relay/internal/domain"
	"github.com/weiawesome/chat-relay/pkg/log"
)

const maxCodeAttempts = 5

// Service creates and resolves rooms. Joining a room never requires it to
// exist here; explicit creation only reserves a generated code and name.
type Service struct {
	repo     Repository
	cache    Cache
	cacheTTL time.Duration
	generate func() (string, error)
}

// NewService builds a room service. cache may be nil.
func NewService(repo Repository, cache Cache, cacheTTL time.Duration) *Service {
	return &Service{
		repo:     repo,
		cache:    cache,
		cacheTTL: cacheTTL,
		generate: domain.GenerateRoomCode,
	}
}

// Create generates a unique code for a new room owned by username.
func (s *Service) Create(ctx context.Context, username string, req *domain.CreateRoomRequest) (*domain.Room, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := s.generate()
		if err != nil {
			return nil, err
		}

		room := &domain.Room{Name: req.Name, Code: code, CreatedBy: username}
		err = s.repo.Create(ctx, room)
		if errors.Is(err, ErrCodeTaken) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return room, nil
	}
	return nil, ErrCodeTaken
}

// Get resolves a room by code, reading through the cache when configured.
func (s *Service) Get(ctx context.Context, code string) (*domain.Room, error) {
	l := log.Ctx(ctx)

	if s.cache != nil {
		room, err := s.cache.Get(ctx, code)
		if err == nil {
			return room, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			l.Warn().Err(err).Str(log.FieldRoomCode, code).Msg("room cache read failed")
		}
	}

	room, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, room, s.cacheTTL); err != nil {
			l.Warn().Err(err).Str(log.FieldRoomCode, code).Msg("room cache write failed")
		}
	}
	return room, nil
}

func (s *Service) ListByCreator(ctx context.Context, username string) ([]domain.Room, error) {
	return s.repo.ListByCreator(ctx, username)
}
