package component

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"collaborative-page-builder/internal/access"
	"collaborative-page-builder/internal/domain"
	apiError "collaborative-page-builder/internal/errors"
	"collaborative-page-builder/internal/layout"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is the view of the database a mutation gets inside its transaction.
// Every Lock method takes the website lock, so all mutations on one website
// run one after another.
type Store interface {
	// LockPage locks the page and its website when the actor holds tier.
	LockPage(actorID, pageID uint64, tier domain.PermissionLevel) (*domain.Page, error)
	// LockComponent does the same for the component's page and returns the
	// component with its position.
	LockComponent(actorID, componentID uint64, tier domain.PermissionLevel) (*domain.Component, error)
	FindComponent(id uint64) (*domain.Component, error)
	// Children returns the components nested directly under parentID.
	Children(parentID uint64) ([]domain.Component, error)
	// Bands returns the structural bands of every page of the website.
	Bands(websiteID uint64) ([]layout.Band, error)
	PageIDs(websiteID uint64) ([]uint64, error)
	// Create inserts the component and, when set, its position.
	Create(c *domain.Component) error
	UpdateFields(c *domain.Component) error
	SavePosition(p *domain.ComponentPosition) error
	ApplyShifts(shifts []layout.Shift) error
	// Delete removes components; positions and child components go with them.
	Delete(ids ...uint64) error
	DeletePage(pageID uint64) error
	// BumpRevision advances the page revision and returns the new value.
	BumpRevision(pageID uint64) (uint64, error)
}

// Repository is the component persistence boundary.
type Repository interface {
	// Transact runs fn in one serializable transaction, replaying it when the
	// database aborts it over a serialization conflict.
	Transact(ctx context.Context, fn func(Store) error) error
	// PageForReader returns the page when the actor may read it.
	PageForReader(ctx context.Context, actorID, pageID uint64) (*domain.Page, error)
	// PageComponents returns the page's components and the website's public
	// ones, each with its position.
	PageComponents(ctx context.Context, page *domain.Page) ([]domain.Component, error)
}

type RepositoryImpl struct {
	db       *gorm.DB
	resolver *access.Resolver
	retries  int
}

func NewRepository(db *gorm.DB, retries int) Repository {
	if retries < 0 {
		retries = 0
	}
	return &RepositoryImpl{db: db, resolver: access.NewResolver(db), retries: retries}
}

func (r *RepositoryImpl) Transact(ctx context.Context, fn func(Store) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(&gormStore{tx: tx})
		}, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err == nil || !apiError.IsRetryable(err) || attempt >= r.retries {
			return err
		}
		log.Debug().Err(err).Int("attempt", attempt+1).Msg("layout transaction conflict, retrying")
	}
}

// PageForReader needs no lock: readers may see the page a moment before a
// concurrent permission change lands.
func (r *RepositoryImpl) PageForReader(ctx context.Context, actorID, pageID uint64) (*domain.Page, error) {
	if !r.resolver.CanActOnPage(ctx, actorID, pageID, access.TierRead) {
		return nil, apiError.NotAuthorized(fmt.Errorf("actor %d cannot read page %d", actorID, pageID))
	}
	var page domain.Page
	err := r.db.WithContext(ctx).Take(&page, pageID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// deleted since the check
		return nil, apiError.NotAuthorized(fmt.Errorf("page %d not found", pageID))
	}
	if err != nil {
		return nil, err
	}
	return &page, nil
}

func (r *RepositoryImpl) PageComponents(ctx context.Context, page *domain.Page) ([]domain.Component, error) {
	var components []domain.Component
	err := r.db.WithContext(ctx).
		Preload("Position").
		Where("page_id = ? OR (website_id = ? AND is_public)", page.ID, page.WebsiteID).
		Find(&components).Error
	return components, err
}

type gormStore struct {
	tx *gorm.DB
}

func (s *gormStore) LockPage(actorID, pageID uint64, tier domain.PermissionLevel) (*domain.Page, error) {
	page, _, err := access.LockPage(s.tx, actorID, pageID, tier)
	return page, err
}

func (s *gormStore) LockComponent(actorID, componentID uint64, tier domain.PermissionLevel) (*domain.Component, error) {
	var ref domain.Component
	err := s.tx.Select("id", "page_id").Where("id = ?", componentID).Take(&ref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apiError.NotFound("Component not found", err)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve component %d: %w", componentID, err)
	}
	if _, _, err := access.LockPage(s.tx, actorID, ref.PageID, tier); err != nil {
		return nil, err
	}

	var c domain.Component
	err = s.tx.Preload("Position").Where("id = ?", componentID).Take(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apiError.NotFound("Component not found", err)
	}
	if err != nil {
		return nil, fmt.Errorf("load component %d: %w", componentID, err)
	}
	return &c, nil
}

func (s *gormStore) FindComponent(id uint64) (*domain.Component, error) {
	var c domain.Component
	if err := s.tx.Preload("Position").Take(&c, id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *gormStore) Children(parentID uint64) ([]domain.Component, error) {
	var children []domain.Component
	err := s.tx.Select("id", "page_id", "website_id", "type", "is_public").
		Where("parent_id = ?", parentID).
		Order("id").
		Find(&children).Error
	return children, err
}

func (s *gormStore) Bands(websiteID uint64) ([]layout.Band, error) {
	var rows []struct {
		ID       uint64
		PageID   uint64
		Type     domain.ComponentType
		RowStart int
		RowEnd   int
	}
	err := s.tx.Table("components").
		Select("components.id, components.page_id, components.type, component_positions.row_start, component_positions.row_end").
		Joins("JOIN component_positions ON component_positions.component_id = components.id").
		Where("components.website_id = ? AND components.type IN ?", websiteID,
			[]domain.ComponentType{domain.TypeHeader, domain.TypeSection, domain.TypeFooter}).
		Order("component_positions.row_start, components.id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("structural bands of website %d: %w", websiteID, err)
	}

	bands := make([]layout.Band, 0, len(rows))
	for _, row := range rows {
		bands = append(bands, layout.Band{
			ComponentID: row.ID,
			PageID:      row.PageID,
			Type:        row.Type,
			RowStart:    row.RowStart,
			RowEnd:      row.RowEnd,
		})
	}
	return bands, nil
}

func (s *gormStore) PageIDs(websiteID uint64) ([]uint64, error) {
	var ids []uint64
	err := s.tx.Model(&domain.Page{}).Where("website_id = ?", websiteID).Order("id").Pluck("id", &ids).Error
	return ids, err
}

func (s *gormStore) Create(c *domain.Component) error {
	return s.tx.Create(c).Error
}

func (s *gormStore) UpdateFields(c *domain.Component) error {
	return s.tx.Model(c).Select("content", "parent_id", "asset_id", "updated_at").Updates(c).Error
}

func (s *gormStore) SavePosition(p *domain.ComponentPosition) error {
	return s.tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "component_id"}},
		UpdateAll: true,
	}).Create(p).Error
}

func (s *gormStore) ApplyShifts(shifts []layout.Shift) error {
	for _, shift := range shifts {
		err := s.tx.Model(&domain.ComponentPosition{}).
			Where("component_id = ?", shift.ComponentID).
			Updates(map[string]any{"row_start": shift.RowStart, "row_end": shift.RowEnd}).Error
		if err != nil {
			return fmt.Errorf("shift component %d: %w", shift.ComponentID, err)
		}
	}
	return nil
}

func (s *gormStore) Delete(ids ...uint64) error {
	if len(ids) == 0 {
		return nil
	}
	return s.tx.Where("id IN ?", ids).Delete(&domain.Component{}).Error
}

func (s *gormStore) DeletePage(pageID uint64) error {
	return s.tx.Delete(&domain.Page{}, pageID).Error
}

func (s *gormStore) BumpRevision(pageID uint64) (uint64, error) {
	var revision uint64
	err := s.tx.Raw(`
		UPDATE pages
		SET revision = revision + 1,
		    updated_at = ?
		WHERE id = ?
		RETURNING revision
	`, time.Now().UTC(), pageID).Scan(&revision).Error
	if err != nil {
		return 0, fmt.Errorf("bump revision of page %d: %w", pageID, err)
	}
	return revision, nil
}
