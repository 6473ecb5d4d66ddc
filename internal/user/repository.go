package user

import (
	"context"
	"strings"

	"collaborative-page-builder/internal/domain"

	"gorm.io/gorm"
)

// UserRepository defines the interface for user data access
type UserRepository interface {
	FindByID(ctx context.Context, id uint64) (*domain.User, error)
	Search(ctx context.Context, query string, limit int) ([]domain.User, error)
	IncreaseTokenVersion(ctx context.Context, id uint64) error
}

// UserRepositoryImpl implements UserRepository
type UserRepositoryImpl struct {
	db *gorm.DB
}

// NewRepository creates a new user repository
func NewRepository(db *gorm.DB) UserRepository {
	return &UserRepositoryImpl{db: db}
}

// FindByID finds a user by ID
func (r *UserRepositoryImpl) FindByID(ctx context.Context, id uint64) (*domain.User, error) {
	var user domain.User
	if err := r.db.WithContext(ctx).Take(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// Search matches active users by name or email prefix.
func (r *UserRepositoryImpl) Search(ctx context.Context, query string, limit int) ([]domain.User, error) {
	var users []domain.User
	pattern := strings.ToLower(query) + "%"
	err := r.db.WithContext(ctx).
		Where("is_active AND (LOWER(name) LIKE ? OR LOWER(email) LIKE ?)", pattern, pattern).
		Order("name, id").
		Limit(limit).
		Find(&users).Error
	return users, err
}

// IncreaseTokenVersion revokes every token issued to the user so far.
func (r *UserRepositoryImpl) IncreaseTokenVersion(ctx context.Context, id uint64) error {
	return r.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", id).
		UpdateColumn("token_version", gorm.Expr("token_version + 1")).Error
}
