package website

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"collaborative-page-builder/internal/access"
	"collaborative-page-builder/internal/component"
	"collaborative-page-builder/internal/domain"
	apiError "collaborative-page-builder/internal/errors"
	"collaborative-page-builder/redis"

	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const listCacheTTL = 10 * time.Minute

type Service interface {
	CreateWebsite(ctx context.Context, actorID uint64, input WebsiteInput) (*domain.Website, error)
	ListWebsites(ctx context.Context, actorID uint64, page, pageSize int) (*PaginatedWebsites, error)
	GetWebsite(ctx context.Context, actorID, websiteID uint64) (*WebsiteSummary, error)
	UpdateWebsite(ctx context.Context, actorID, websiteID uint64, input WebsitePatch) (*domain.Website, error)
	DeleteWebsite(ctx context.Context, actorID, websiteID uint64) error

	CreatePage(ctx context.Context, actorID, websiteID uint64, input PageInput) (*domain.Page, error)
	ListPages(ctx context.Context, actorID, websiteID uint64) ([]domain.Page, error)
	UpdatePage(ctx context.Context, actorID, pageID uint64, input PagePatch) (*domain.Page, error)
	DeletePage(ctx context.Context, actor component.Actor, pageID uint64) error

	ListCollaborators(ctx context.Context, actorID, websiteID uint64) ([]CollaboratorView, error)
	AddCollaborator(ctx context.Context, actorID, websiteID, targetID uint64, level domain.PermissionLevel) (*CollaboratorView, error)
	ChangeCollaboratorLevel(ctx context.Context, actorID, websiteID, targetID uint64, level domain.PermissionLevel) (*CollaboratorView, error)
	RemoveCollaborator(ctx context.Context, actorID, websiteID, targetID uint64) error
}

type UserProvider interface {
	GetUserByID(ctx context.Context, id uint64) (*domain.User, error)
}

// PageRemover deletes a page together with its components. Structural
// components leave the website's band stack on the way out.
type PageRemover interface {
	DeletePage(ctx context.Context, actor component.Actor, pageID uint64) error
}

type WebsiteInput struct {
	Title    string         `json:"title" binding:"required,min=1,max=255"`
	Metadata datatypes.JSON `json:"metadata"`
}

type WebsitePatch struct {
	Title    *string        `json:"title" binding:"omitempty,min=1,max=255"`
	Metadata datatypes.JSON `json:"metadata"`
}

type PageInput struct {
	Route    string         `json:"route" binding:"required,max=512"`
	Title    string         `json:"title" binding:"max=255"`
	Depth    *int           `json:"depth" binding:"omitempty,min=0"`
	Metadata datatypes.JSON `json:"metadata"`
}

type PagePatch struct {
	Route    *string        `json:"route" binding:"omitempty,max=512"`
	Title    *string        `json:"title" binding:"omitempty,max=255"`
	Depth    *int           `json:"depth" binding:"omitempty,min=0"`
	Metadata datatypes.JSON `json:"metadata"`
}

type PaginatedWebsites struct {
	Data []WebsiteSummary `json:"data"`
	Meta ListMeta         `json:"meta"`
}

type DefaultService struct {
	repository Repository
	users      UserProvider
	pages      PageRemover
	cache      *redis.Cache
}

func NewService(repository Repository, users UserProvider, pages PageRemover, cache *redis.Cache) *DefaultService {
	return &DefaultService{repository: repository, users: users, pages: pages, cache: cache}
}

func versionKey(userID uint64) string {
	return fmt.Sprintf("user:%d:websites:version", userID)
}

// invalidate drops the cached website listings of the given users.
func (s *DefaultService) invalidate(ctx context.Context, userIDs ...uint64) {
	for _, id := range userIDs {
		s.cache.IncrementVersion(ctx, versionKey(id))
	}
}

// NormalizeRoute makes route absolute and strips empty segments and a
// trailing slash. The root stays "/".
func NormalizeRoute(route string) string {
	var segments []string
	for _, seg := range strings.Split(strings.TrimSpace(route), "/") {
		if seg != "" {
			segments = append(segments, seg)
		}
	}
	return "/" + strings.Join(segments, "/")
}

// RouteDepth is the nesting depth implied by a normalized route: "/" and
// "/about" are 0, "/blog/post" is 1.
func RouteDepth(route string) int {
	depth := strings.Count(route, "/") - 1
	if depth < 0 {
		return 0
	}
	return depth
}

func (s *DefaultService) CreateWebsite(ctx context.Context, actorID uint64, input WebsiteInput) (*domain.Website, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, apiError.UnprocessableEntity("Title cannot be empty", nil)
	}

	website := &domain.Website{
		OwnerID:        actorID,
		Title:          title,
		Metadata:       input.Metadata,
		LastModifiedBy: &actorID,
	}
	err := s.repository.Transact(ctx, func(store Store) error {
		return store.CreateWebsite(website)
	})
	if err != nil {
		return nil, apiError.FromStore(err)
	}

	s.invalidate(ctx, actorID)
	return website, nil
}

func (s *DefaultService) ListWebsites(ctx context.Context, actorID uint64, page, pageSize int) (*PaginatedWebsites, error) {
	v := s.cache.GetVersion(ctx, versionKey(actorID))
	cacheKey := fmt.Sprintf("websites:u:%d:v:%d:p:%d:ps:%d", actorID, v, page, pageSize)

	var result PaginatedWebsites
	found, _ := s.cache.Get(ctx, cacheKey, &result)
	if found {
		return &result, nil
	}

	websites, meta, err := s.repository.ListWebsites(ctx, actorID, page, pageSize)
	if err != nil {
		return nil, err
	}
	if websites == nil {
		websites = []WebsiteSummary{}
	}
	result = PaginatedWebsites{Data: websites, Meta: meta}
	_ = s.cache.Set(ctx, cacheKey, result, listCacheTTL)

	return &result, nil
}

func (s *DefaultService) GetWebsite(ctx context.Context, actorID, websiteID uint64) (*WebsiteSummary, error) {
	website, err := s.repository.FindWebsite(ctx, actorID, websiteID, access.TierRead)
	if err != nil {
		return nil, apiError.FromStore(err)
	}
	return website, nil
}

func (s *DefaultService) UpdateWebsite(ctx context.Context, actorID, websiteID uint64, input WebsitePatch) (*domain.Website, error) {
	var (
		website *domain.Website
		members []uint64
	)
	err := s.repository.Transact(ctx, func(store Store) error {
		w, err := store.LockWebsite(actorID, websiteID, access.TierEditSettings)
		if err != nil {
			return err
		}
		if input.Title != nil {
			title := strings.TrimSpace(*input.Title)
			if title == "" {
				return apiError.UnprocessableEntity("Title cannot be empty", nil)
			}
			w.Title = title
		}
		if input.Metadata != nil {
			w.Metadata = input.Metadata
		}
		w.LastModifiedBy = &actorID
		w.UpdatedAt = time.Now().UTC()
		if err := store.SaveWebsite(w); err != nil {
			return err
		}
		members, err = store.Members(websiteID)
		website = w
		return err
	})
	if err != nil {
		return nil, apiError.FromStore(err)
	}

	s.invalidate(ctx, members...)
	return website, nil
}

func (s *DefaultService) DeleteWebsite(ctx context.Context, actorID, websiteID uint64) error {
	var members []uint64
	err := s.repository.Transact(ctx, func(store Store) error {
		if _, err := store.LockWebsite(actorID, websiteID, access.TierEditSettings); err != nil {
			return err
		}
		var err error
		members, err = store.Members(websiteID)
		if err != nil {
			return err
		}
		return store.DeleteWebsite(websiteID)
	})
	if err != nil {
		return apiError.FromStore(err)
	}

	s.invalidate(ctx, members...)
	log.Info().Uint64("website_id", websiteID).Uint64("actor_id", actorID).Msg("website deleted")
	return nil
}

func (s *DefaultService) CreatePage(ctx context.Context, actorID, websiteID uint64, input PageInput) (*domain.Page, error) {
	route := NormalizeRoute(input.Route)
	depth := RouteDepth(route)
	if input.Depth != nil {
		depth = *input.Depth
	}

	page := &domain.Page{
		WebsiteID: websiteID,
		Route:     route,
		Title:     strings.TrimSpace(input.Title),
		Depth:     depth,
		Metadata:  input.Metadata,
	}
	err := s.repository.Transact(ctx, func(store Store) error {
		if _, err := store.LockWebsite(actorID, websiteID, access.TierEditContent); err != nil {
			return err
		}
		return store.CreatePage(page)
	})
	if err != nil {
		return nil, routeConflict(err, route)
	}
	return page, nil
}

// routeConflict reports a unique violation on (website_id, route) as a
// conflict naming the route.
func routeConflict(err error, route string) error {
	err = apiError.FromStore(err)
	if apiError.IsConflict(err) {
		return apiError.Conflict(fmt.Sprintf("Route %s already exists", route), err)
	}
	return err
}

func (s *DefaultService) ListPages(ctx context.Context, actorID, websiteID uint64) ([]domain.Page, error) {
	if !s.repository.CanAct(ctx, actorID, websiteID, access.TierRead) {
		return nil, apiError.NotAuthorized(fmt.Errorf("actor %d cannot read website %d", actorID, websiteID))
	}
	pages, err := s.repository.ListPages(ctx, websiteID)
	if err != nil {
		return nil, err
	}
	if pages == nil {
		pages = []domain.Page{}
	}
	return pages, nil
}

func (s *DefaultService) UpdatePage(ctx context.Context, actorID, pageID uint64, input PagePatch) (*domain.Page, error) {
	var page *domain.Page
	err := s.repository.Transact(ctx, func(store Store) error {
		p, err := store.LockPage(actorID, pageID, access.TierEditContent)
		if err != nil {
			return err
		}
		if input.Route != nil {
			p.Route = NormalizeRoute(*input.Route)
			if input.Depth == nil {
				p.Depth = RouteDepth(p.Route)
			}
		}
		if input.Depth != nil {
			p.Depth = *input.Depth
		}
		if input.Title != nil {
			p.Title = strings.TrimSpace(*input.Title)
		}
		if input.Metadata != nil {
			p.Metadata = input.Metadata
		}
		p.UpdatedAt = time.Now().UTC()
		page = p
		return store.SavePage(p)
	})
	if err != nil {
		route := ""
		if input.Route != nil {
			route = NormalizeRoute(*input.Route)
		}
		return nil, routeConflict(err, route)
	}
	return page, nil
}

func (s *DefaultService) DeletePage(ctx context.Context, actor component.Actor, pageID uint64) error {
	return s.pages.DeletePage(ctx, actor, pageID)
}

func (s *DefaultService) ListCollaborators(ctx context.Context, actorID, websiteID uint64) ([]CollaboratorView, error) {
	if !s.repository.CanAct(ctx, actorID, websiteID, access.TierRead) {
		return nil, apiError.NotAuthorized(fmt.Errorf("actor %d cannot read website %d", actorID, websiteID))
	}
	rows, err := s.repository.ListCollaborators(ctx, websiteID)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []CollaboratorView{}
	}
	return rows, nil
}

func invalidLevel(level domain.PermissionLevel) error {
	return apiError.UnprocessableEntity(fmt.Sprintf("Permission level %d does not exist", level), nil)
}

func (s *DefaultService) AddCollaborator(ctx context.Context, actorID, websiteID, targetID uint64, level domain.PermissionLevel) (*CollaboratorView, error) {
	if !level.Valid() {
		return nil, invalidLevel(level)
	}
	if actorID == targetID {
		return nil, apiError.UnprocessableEntity("Can't add yourself!", nil)
	}

	var collaborator domain.Collaborator
	err := s.repository.Transact(ctx, func(store Store) error {
		website, err := store.LockWebsite(actorID, websiteID, access.TierEditSettings)
		if err != nil {
			return err
		}
		if website.OwnerID == targetID {
			return apiError.UnprocessableEntity("The owner is not a collaborator", nil)
		}
		if _, err := store.Collaborator(websiteID, targetID); err == nil {
			return apiError.Conflict("User already added!", nil)
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		collaborator = domain.Collaborator{
			WebsiteID:       websiteID,
			UserID:          targetID,
			PermissionLevel: level,
			InvitedAt:       time.Now().UTC(),
		}
		return store.CreateCollaborator(&collaborator)
	})
	if err != nil {
		return nil, apiError.FromStore(err)
	}

	s.invalidate(ctx, targetID)
	return s.view(ctx, collaborator)
}

// view decorates a collaborator row with the user's public fields. The row
// is already committed, so a failed lookup only loses the decoration.
func (s *DefaultService) view(ctx context.Context, c domain.Collaborator) (*CollaboratorView, error) {
	out := &CollaboratorView{UserID: c.UserID, PermissionLevel: c.PermissionLevel, InvitedAt: c.InvitedAt}
	user, err := s.users.GetUserByID(ctx, c.UserID)
	if err != nil {
		log.Warn().Err(err).Uint64("user_id", c.UserID).Msg("collaborator user lookup failed")
		return out, nil
	}
	out.Name = user.Name
	out.Email = user.Email
	return out, nil
}

// ChangeCollaboratorLevel lets the owner set any level. Anyone else needs a
// level at least as high as both the target's current and the new level.
func (s *DefaultService) ChangeCollaboratorLevel(ctx context.Context, actorID, websiteID, targetID uint64, level domain.PermissionLevel) (*CollaboratorView, error) {
	if !level.Valid() {
		return nil, invalidLevel(level)
	}
	if actorID == targetID {
		return nil, apiError.UnprocessableEntity("Can't change your own level", nil)
	}

	var collaborator domain.Collaborator
	err := s.repository.Transact(ctx, func(store Store) error {
		if _, err := store.LockWebsite(actorID, websiteID, access.TierEditSettings); err != nil {
			return err
		}
		current, err := store.Collaborator(websiteID, targetID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apiError.UnprocessableEntity("Can't find collaborator!", err)
		}
		if err != nil {
			return err
		}
		if current.PermissionLevel == level {
			return apiError.UnprocessableEntity("Collaborator already has this level", nil)
		}

		requester, err := store.Level(actorID, websiteID)
		if err != nil {
			return err
		}
		if requester < level || requester < current.PermissionLevel {
			return apiError.Forbidden("Your level is too low for this change", nil)
		}

		if err := store.UpdateCollaboratorLevel(websiteID, targetID, level); err != nil {
			return err
		}
		collaborator = *current
		collaborator.PermissionLevel = level
		return nil
	})
	if err != nil {
		return nil, apiError.FromStore(err)
	}

	s.invalidate(ctx, targetID)
	return s.view(ctx, collaborator)
}

// RemoveCollaborator is allowed to the owner and level 30 collaborators, and
// to any collaborator removing themselves.
func (s *DefaultService) RemoveCollaborator(ctx context.Context, actorID, websiteID, targetID uint64) error {
	tier := access.TierEditSettings
	if actorID == targetID {
		tier = access.TierRead
	}

	err := s.repository.Transact(ctx, func(store Store) error {
		if _, err := store.LockWebsite(actorID, websiteID, tier); err != nil {
			return err
		}
		if _, err := store.Collaborator(websiteID, targetID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apiError.UnprocessableEntity("Can't find collaborator!", err)
			}
			return err
		}
		return store.DeleteCollaborator(websiteID, targetID)
	})
	if err != nil {
		return apiError.FromStore(err)
	}

	s.invalidate(ctx, targetID)
	return nil
}
