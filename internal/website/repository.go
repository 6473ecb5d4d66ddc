package website

import (
	"context"
	"errors"
	"fmt"
	"time"

	"collaborative-page-builder/internal/access"
	"collaborative-page-builder/internal/domain"
	apiError "collaborative-page-builder/internal/errors"

	"gorm.io/gorm"
)

// Store is what a website mutation sees inside its transaction. The Lock
// methods embed the tier check in the locking query.
type Store interface {
	LockWebsite(actorID, websiteID uint64, tier domain.PermissionLevel) (*domain.Website, error)
	LockPage(actorID, pageID uint64, tier domain.PermissionLevel) (*domain.Page, error)
	// Level is the actor's effective level, access.LevelOwner for the owner.
	Level(actorID, websiteID uint64) (domain.PermissionLevel, error)
	CreateWebsite(w *domain.Website) error
	SaveWebsite(w *domain.Website) error
	DeleteWebsite(websiteID uint64) error
	CreatePage(p *domain.Page) error
	SavePage(p *domain.Page) error
	Collaborator(websiteID, userID uint64) (*domain.Collaborator, error)
	CreateCollaborator(c *domain.Collaborator) error
	UpdateCollaboratorLevel(websiteID, userID uint64, level domain.PermissionLevel) error
	DeleteCollaborator(websiteID, userID uint64) error
	// Members returns the owner and every collaborator of the website.
	Members(websiteID uint64) ([]uint64, error)
}

type Repository interface {
	Transact(ctx context.Context, fn func(Store) error) error
	ListWebsites(ctx context.Context, actorID uint64, page, pageSize int) ([]WebsiteSummary, ListMeta, error)
	// FindWebsite returns the website with the actor's level when the actor
	// holds at least tier.
	FindWebsite(ctx context.Context, actorID, websiteID uint64, tier domain.PermissionLevel) (*WebsiteSummary, error)
	// CanAct is the lock-free tier check used to gate reads.
	CanAct(ctx context.Context, actorID, websiteID uint64, tier domain.PermissionLevel) bool
	ListPages(ctx context.Context, websiteID uint64) ([]domain.Page, error)
	ListCollaborators(ctx context.Context, websiteID uint64) ([]CollaboratorView, error)
}

type ListMeta struct {
	Total       int64 `json:"total"`
	CurrentPage int   `json:"current_page"`
	PerPage     int   `json:"per_page"`
	TotalPage   int   `json:"total_page"`
}

// WebsiteSummary is a website as one actor sees it.
type WebsiteSummary struct {
	domain.Website
	Level domain.PermissionLevel `json:"level"`
}

type CollaboratorView struct {
	UserID          uint64                 `json:"user_id"`
	Name            string                 `json:"name"`
	Email           string                 `json:"email"`
	PermissionLevel domain.PermissionLevel `json:"permission_level"`
	InvitedAt       time.Time              `json:"invited_at"`
}

type RepositoryImpl struct {
	db       *gorm.DB
	resolver *access.Resolver
}

func NewRepository(db *gorm.DB) Repository {
	return &RepositoryImpl{db: db, resolver: access.NewResolver(db)}
}

func (r *RepositoryImpl) Transact(ctx context.Context, fn func(Store) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormStore{tx: tx})
	})
}

// levelColumn selects the actor's effective level next to each website row.
func levelColumn(actorID uint64) (string, []any) {
	return fmt.Sprintf("websites.*, CASE WHEN websites.owner_id = ? THEN %d ELSE COALESCE(c.permission_level, 0) END AS level", access.LevelOwner),
		[]any{actorID}
}

func (r *RepositoryImpl) ListWebsites(ctx context.Context, actorID uint64, page, pageSize int) ([]WebsiteSummary, ListMeta, error) {
	base := r.db.WithContext(ctx).Table("websites").
		Joins("LEFT JOIN collaborators c ON c.website_id = websites.id AND c.user_id = ?", actorID).
		Scopes(access.WebsiteScope(actorID, access.TierRead))

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, ListMeta{}, err
	}

	columns, args := levelColumn(actorID)
	var websites []WebsiteSummary
	err := base.Session(&gorm.Session{}).
		Select(columns, args...).
		Order("websites.updated_at DESC, websites.id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Scan(&websites).Error

	return websites, ListMeta{
		Total:       total,
		CurrentPage: page,
		PerPage:     pageSize,
		TotalPage:   int((total + int64(pageSize) - 1) / int64(pageSize)),
	}, err
}

func (r *RepositoryImpl) FindWebsite(ctx context.Context, actorID, websiteID uint64, tier domain.PermissionLevel) (*WebsiteSummary, error) {
	columns, args := levelColumn(actorID)
	var websites []WebsiteSummary
	err := r.db.WithContext(ctx).Table("websites").
		Select(columns, args...).
		Joins("LEFT JOIN collaborators c ON c.website_id = websites.id AND c.user_id = ?", actorID).
		Scopes(access.WebsiteScope(actorID, tier)).
		Where("websites.id = ?", websiteID).
		Limit(1).
		Scan(&websites).Error
	if err != nil {
		return nil, err
	}
	if len(websites) == 0 {
		return nil, apiError.NotAuthorized(fmt.Errorf("actor %d lacks tier %d on website %d", actorID, tier, websiteID))
	}
	return &websites[0], nil
}

func (r *RepositoryImpl) CanAct(ctx context.Context, actorID, websiteID uint64, tier domain.PermissionLevel) bool {
	return r.resolver.CanAct(ctx, actorID, websiteID, tier)
}

func (r *RepositoryImpl) ListPages(ctx context.Context, websiteID uint64) ([]domain.Page, error) {
	var pages []domain.Page
	err := r.db.WithContext(ctx).Where("website_id = ?", websiteID).Order("depth, route").Find(&pages).Error
	return pages, err
}

func (r *RepositoryImpl) ListCollaborators(ctx context.Context, websiteID uint64) ([]CollaboratorView, error) {
	var rows []CollaboratorView
	err := r.db.WithContext(ctx).Table("collaborators").
		Select("users.id AS user_id, users.name, users.email, collaborators.permission_level, collaborators.invited_at").
		Joins("JOIN users ON users.id = collaborators.user_id").
		Where("collaborators.website_id = ?", websiteID).
		Order("collaborators.invited_at, users.id").
		Scan(&rows).Error
	return rows, err
}

type gormStore struct {
	tx *gorm.DB
}

func (s *gormStore) LockWebsite(actorID, websiteID uint64, tier domain.PermissionLevel) (*domain.Website, error) {
	return access.LockWebsite(s.tx, actorID, websiteID, tier)
}

func (s *gormStore) LockPage(actorID, pageID uint64, tier domain.PermissionLevel) (*domain.Page, error) {
	page, _, err := access.LockPage(s.tx, actorID, pageID, tier)
	return page, err
}

func (s *gormStore) Level(actorID, websiteID uint64) (domain.PermissionLevel, error) {
	return access.EffectiveLevel(s.tx, actorID, websiteID)
}

func (s *gormStore) CreateWebsite(w *domain.Website) error {
	return s.tx.Create(w).Error
}

func (s *gormStore) SaveWebsite(w *domain.Website) error {
	return s.tx.Model(w).Select("title", "metadata", "last_modified_by", "updated_at").Updates(w).Error
}

func (s *gormStore) DeleteWebsite(websiteID uint64) error {
	return s.tx.Delete(&domain.Website{}, websiteID).Error
}

func (s *gormStore) CreatePage(p *domain.Page) error {
	return s.tx.Create(p).Error
}

func (s *gormStore) SavePage(p *domain.Page) error {
	return s.tx.Model(p).Select("route", "title", "depth", "metadata", "updated_at").Updates(p).Error
}

func (s *gormStore) Collaborator(websiteID, userID uint64) (*domain.Collaborator, error) {
	var c domain.Collaborator
	err := s.tx.Where("website_id = ? AND user_id = ?", websiteID, userID).Take(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *gormStore) CreateCollaborator(c *domain.Collaborator) error {
	return s.tx.Create(c).Error
}

func (s *gormStore) UpdateCollaboratorLevel(websiteID, userID uint64, level domain.PermissionLevel) error {
	res := s.tx.Model(&domain.Collaborator{}).
		Where("website_id = ? AND user_id = ?", websiteID, userID).
		Update("permission_level", level)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (s *gormStore) DeleteCollaborator(websiteID, userID uint64) error {
	return s.tx.Where("website_id = ? AND user_id = ?", websiteID, userID).Delete(&domain.Collaborator{}).Error
}

func (s *gormStore) Members(websiteID uint64) ([]uint64, error) {
	var website domain.Website
	if err := s.tx.Select("id", "owner_id").Take(&website, websiteID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var ids []uint64
	err := s.tx.Model(&domain.Collaborator{}).Where("website_id = ?", websiteID).Pluck("user_id", &ids).Error
	return append([]uint64{website.OwnerID}, ids...), err
}
