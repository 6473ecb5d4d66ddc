package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"collaborative-page-builder/internal/domain"
	apiError "collaborative-page-builder/internal/errors"
	"collaborative-page-builder/redis"

	"gorm.io/gorm"
)

const (
	searchLimit    = 20
	searchCacheTTL = 30 * time.Second
)

// Service defines the interface for user business logic. Accounts are
// created by the identity provider, so there is no registration here.
type Service interface {
	GetUserByID(ctx context.Context, id uint64) (*domain.User, error)
	SearchUsers(ctx context.Context, query string) ([]domain.SafeUser, error)
	IncreaseTokenVersion(ctx context.Context, id uint64) error
}

// DefaultService implements Service
type DefaultService struct {
	repository UserRepository
	cache      *redis.Cache
}

// NewService creates a new user service
func NewService(repository UserRepository, cache *redis.Cache) Service {
	return &DefaultService{repository: repository, cache: cache}
}

// GetUserByID gets a user by ID
func (s *DefaultService) GetUserByID(ctx context.Context, id uint64) (*domain.User, error) {
	user, err := s.repository.FindByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apiError.NotFound("User not found", err)
	}
	return user, err
}

// SearchUsers looks up users to invite as collaborators. Results are cached
// briefly per query.
func (s *DefaultService) SearchUsers(ctx context.Context, query string) ([]domain.SafeUser, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []domain.SafeUser{}, nil
	}

	key := fmt.Sprintf("users:search:%s", strings.ToLower(query))
	var cached []domain.SafeUser
	if found, _ := s.cache.Get(ctx, key, &cached); found {
		return cached, nil
	}

	users, err := s.repository.Search(ctx, query, searchLimit)
	if err != nil {
		return nil, err
	}
	result := make([]domain.SafeUser, 0, len(users))
	for i := range users {
		result = append(result, users[i].ToSafeUser())
	}
	_ = s.cache.Set(ctx, key, result, searchCacheTTL)
	return result, nil
}

func (s *DefaultService) IncreaseTokenVersion(ctx context.Context, id uint64) error {
	return s.repository.IncreaseTokenVersion(ctx, id)
}
