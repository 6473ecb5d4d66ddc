package component

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"collaborative-page-builder/internal/access"
	"collaborative-page-builder/internal/domain"
	apiError "collaborative-page-builder/internal/errors"
	"collaborative-page-builder/internal/layout"
	"collaborative-page-builder/internal/realtime"
	"collaborative-page-builder/redis"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const listCacheTTL = time.Minute

// Actor is who performs a mutation and which client it comes from.
type Actor struct {
	UserID   uint64
	SenderID string
}

type CreateInput struct {
	Type     domain.ComponentType `json:"type" binding:"required"`
	Content  domain.Content       `json:"content"`
	AssetID  *uint64              `json:"asset_id"`
	ParentID *uint64              `json:"parent_id"`
	Position *layout.Rect         `json:"position"`
}

// UpdateInput is a partial update. Nil fields are left alone; a zero
// ParentID detaches the component from its parent.
type UpdateInput struct {
	Content  *domain.Content `json:"content"`
	ParentID *uint64         `json:"parent_id"`
	AssetID  *uint64         `json:"asset_id"`
}

// View is a component merged with its position and a loadable asset URL.
type View struct {
	ID        uint64                    `json:"id"`
	PageID    uint64                    `json:"page_id"`
	WebsiteID uint64                    `json:"website_id"`
	Type      domain.ComponentType      `json:"type"`
	Content   domain.Content            `json:"content"`
	AssetID   *uint64                   `json:"asset_id,omitempty"`
	ParentID  *uint64                   `json:"parent_id,omitempty"`
	IsPublic  bool                      `json:"is_public"`
	Position  *domain.ComponentPosition `json:"position,omitempty"`
	URL       string                    `json:"url,omitempty"`
	CreatedAt time.Time                 `json:"created_at"`
	UpdatedAt time.Time                 `json:"updated_at"`
}

type PageComponents struct {
	PageID     uint64 `json:"page_id"`
	Revision   uint64 `json:"revision"`
	Components []View `json:"components"`
}

type Service interface {
	CreateComponent(ctx context.Context, actor Actor, pageID uint64, input CreateInput) (*View, error)
	UpdateComponent(ctx context.Context, actor Actor, componentID uint64, input UpdateInput) (*View, error)
	DeleteComponent(ctx context.Context, actor Actor, componentID uint64) error
	RepositionComponent(ctx context.Context, actor Actor, componentID uint64, rect layout.Rect) (*View, error)
	ListPageComponents(ctx context.Context, actorID, pageID uint64) (*PageComponents, error)
	WatchPage(ctx context.Context, actorID, pageID uint64) (uint64, error)
	DeletePage(ctx context.Context, actor Actor, pageID uint64) error
}

type AssetResolver interface {
	Lookup(ctx context.Context, assetID uint64) (*domain.Asset, error)
	ResolveURL(ctx context.Context, assetID uint64) (string, error)
}

type Publisher interface {
	Publish(envs ...realtime.Envelope)
}

type DefaultService struct {
	repository Repository
	assets     AssetResolver
	publisher  Publisher
	cache      *redis.Cache
	validate   *validator.Validate
}

func NewService(repository Repository, assets AssetResolver, publisher Publisher, cache *redis.Cache) *DefaultService {
	return &DefaultService{
		repository: repository,
		assets:     assets,
		publisher:  publisher,
		cache:      cache,
		validate:   validator.New(),
	}
}

// notice is one envelope owed to a page once the transaction commits.
type notice struct {
	op          realtime.Operation
	pageID      uint64
	revision    uint64
	componentID uint64
}

// mutation collects the notices of one transaction. Each notice advances the
// page revision inside the transaction, so revision order is commit order.
type mutation struct {
	store   Store
	notices []notice
}

func (m *mutation) notify(op realtime.Operation, componentID uint64, pageIDs ...uint64) error {
	for _, pageID := range pageIDs {
		revision, err := m.store.BumpRevision(pageID)
		if err != nil {
			return err
		}
		m.notices = append(m.notices, notice{op: op, pageID: pageID, revision: revision, componentID: componentID})
	}
	return nil
}

// forget drops the notices owed to a page that is being deleted.
func (m *mutation) forget(pageID uint64) {
	kept := m.notices[:0]
	for _, n := range m.notices {
		if n.pageID != pageID {
			kept = append(kept, n)
		}
	}
	m.notices = kept
}

func (m *mutation) pages() []uint64 {
	seen := make(map[uint64]struct{}, len(m.notices))
	var pages []uint64
	for _, n := range m.notices {
		if _, ok := seen[n.pageID]; !ok {
			seen[n.pageID] = struct{}{}
			pages = append(pages, n.pageID)
		}
	}
	return pages
}

func versionKey(pageID uint64) string {
	return fmt.Sprintf("page:%d:components:version", pageID)
}

// publish runs after commit. Nothing here can fail the request.
func (s *DefaultService) publish(ctx context.Context, actor Actor, m *mutation, view *View) {
	envs := make([]realtime.Envelope, 0, len(m.notices))
	for _, n := range m.notices {
		var data any
		switch n.op {
		case realtime.OpCreate, realtime.OpUpdate, realtime.OpUpdatePosition:
			data = view
		case realtime.OpDelete:
			data = map[string]uint64{"id": n.componentID}
		}
		env, err := realtime.NewEnvelope(n.op, n.pageID, n.revision, actor.SenderID, data)
		if err != nil {
			log.Warn().Err(err).Msg("envelope dropped")
			continue
		}
		envs = append(envs, env)
	}
	if s.publisher != nil && len(envs) > 0 {
		s.publisher.Publish(envs...)
	}
	for _, pageID := range m.pages() {
		s.cache.IncrementVersion(ctx, versionKey(pageID))
	}
}

// targets are the pages that render c.
func targets(store Store, c *domain.Component) ([]uint64, error) {
	if c.IsPublic {
		return store.PageIDs(c.WebsiteID)
	}
	return []uint64{c.PageID}, nil
}

// shiftedPages are the pages whose structural rows the plan moved or removed.
// A moved header or footer renders on every page of the website.
func shiftedPages(store Store, websiteID uint64, plan layout.Plan) ([]uint64, error) {
	seen := make(map[uint64]struct{})
	public := false
	for _, shift := range plan.Shifts {
		seen[shift.PageID] = struct{}{}
		public = public || shift.Type.IsPublic()
	}
	for _, b := range plan.Superseded {
		seen[b.PageID] = struct{}{}
		public = public || b.Type.IsPublic()
	}
	if public {
		all, err := store.PageIDs(websiteID)
		if err != nil {
			return nil, err
		}
		for _, id := range all {
			seen[id] = struct{}{}
		}
	}
	pages := make([]uint64, 0, len(seen))
	for id := range seen {
		pages = append(pages, id)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i] < pages[j] })
	return pages, nil
}

func union(lists ...[]uint64) []uint64 {
	seen := make(map[uint64]struct{})
	var out []uint64
	for _, list := range lists {
		for _, id := range list {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				out = append(out, id)
			}
		}
	}
	return out
}

func without(ids []uint64, drop uint64) []uint64 {
	out := ids[:0:0]
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}

func layoutError(err error) error {
	if errors.Is(err, layout.ErrDuplicateHeader) {
		return apiError.UnprocessableEntity("Website already has a header", err)
	}
	return apiError.Internal(err)
}

// applyPlan persists the shifts of a plan and deletes the components it
// superseded, announcing each deletion to the pages that rendered it.
func applyPlan(store Store, m *mutation, plan layout.Plan) error {
	if err := store.ApplyShifts(plan.Shifts); err != nil {
		return err
	}
	for _, b := range plan.Superseded {
		old, err := store.FindComponent(b.ComponentID)
		if err != nil {
			return err
		}
		if err := remove(store, m, old); err != nil {
			return err
		}
	}
	return nil
}

// remove deletes c and the leaves nested under it. Every removed component
// gets a delete notice on each page that rendered it.
func remove(store Store, m *mutation, c *domain.Component) error {
	children, err := store.Children(c.ID)
	if err != nil {
		return err
	}
	pages, err := targets(store, c)
	if err != nil {
		return err
	}
	if err := store.Delete(c.ID); err != nil {
		return err
	}
	if err := m.notify(realtime.OpDelete, c.ID, pages...); err != nil {
		return err
	}
	for i := range children {
		pages, err := targets(store, &children[i])
		if err != nil {
			return err
		}
		if err := m.notify(realtime.OpDelete, children[i].ID, pages...); err != nil {
			return err
		}
	}
	return nil
}

func (s *DefaultService) validateContent(typ domain.ComponentType, content domain.Content, assetID *uint64) error {
	if !typ.IsMedia() {
		if content.Alt != nil || content.Loop != nil {
			return apiError.UnprocessableEntity("Alt and loop only apply to media components", nil)
		}
		if assetID != nil {
			return apiError.UnprocessableEntity("Only media components reference assets", nil)
		}
	}
	if typ == domain.TypeButton {
		if content.Label == "" {
			return apiError.UnprocessableEntity("Button needs a label", nil)
		}
		if err := s.validate.Var(content.Href, "omitempty,uri"); err != nil {
			return apiError.UnprocessableEntity("Button link is not a valid URI", err)
		}
	}
	return nil
}

// lookupAsset loads the asset a media component points at and checks that
// its declared kind matches the component type.
func (s *DefaultService) lookupAsset(ctx context.Context, typ domain.ComponentType, assetID uint64) (*domain.Asset, error) {
	kind, ok := typ.MediaKind()
	if !ok {
		return nil, apiError.UnprocessableEntity("Only media components reference assets", nil)
	}
	a, err := s.assets.Lookup(ctx, assetID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apiError.UnprocessableEntity("Asset not found", err)
	}
	if err != nil {
		return nil, err
	}
	if a.Kind != kind {
		return nil, apiError.UnprocessableEntity(fmt.Sprintf("A %s component cannot show a %s asset", typ, a.Kind), nil)
	}
	return a, nil
}

// checkParent validates that a leaf on pageID can nest under parentID.
func checkParent(store Store, websiteID, pageID, selfID, parentID uint64) error {
	if parentID == selfID {
		return apiError.UnprocessableEntity("A component cannot be its own parent", nil)
	}
	parent, err := store.FindComponent(parentID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apiError.UnprocessableEntity("Parent component not found", err)
	}
	if err != nil {
		return err
	}
	if parent.WebsiteID != websiteID || !parent.Type.IsStructural() {
		return apiError.UnprocessableEntity("Parent must be a header, section or footer of the same website", nil)
	}
	if parent.PageID != pageID && !parent.IsPublic {
		return apiError.UnprocessableEntity("Parent section belongs to another page", nil)
	}
	return nil
}

func (s *DefaultService) CreateComponent(ctx context.Context, actor Actor, pageID uint64, input CreateInput) (*View, error) {
	if !input.Type.Valid() {
		return nil, apiError.UnprocessableEntity("Unknown component type", nil)
	}
	structural := input.Type.IsStructural()
	if err := s.validateContent(input.Type, input.Content, input.AssetID); err != nil {
		return nil, err
	}
	if structural && input.ParentID != nil {
		return nil, apiError.UnprocessableEntity("Header, section and footer cannot be nested", nil)
	}
	if input.Type.IsMedia() && input.AssetID == nil {
		return nil, apiError.UnprocessableEntity("Media components need an asset", nil)
	}

	rect := layout.DefaultLeafRect
	if input.Position != nil {
		rect = *input.Position
	}
	if !structural {
		if err := layout.ValidateRect(rect); err != nil {
			return nil, err
		}
	}

	var asset *domain.Asset
	if input.AssetID != nil {
		a, err := s.lookupAsset(ctx, input.Type, *input.AssetID)
		if err != nil {
			return nil, err
		}
		asset = a
	}

	var (
		created *domain.Component
		m       *mutation
	)
	err := s.repository.Transact(ctx, func(store Store) error {
		m = &mutation{store: store}
		page, err := store.LockPage(actor.UserID, pageID, access.TierEditContent)
		if err != nil {
			return err
		}
		if asset != nil && asset.WebsiteID != page.WebsiteID {
			return apiError.UnprocessableEntity("Asset belongs to another website", nil)
		}
		if input.ParentID != nil {
			if err := checkParent(store, page.WebsiteID, page.ID, 0, *input.ParentID); err != nil {
				return err
			}
		}

		c := &domain.Component{
			PageID:    page.ID,
			WebsiteID: page.WebsiteID,
			Type:      input.Type,
			Content:   datatypes.NewJSONType(input.Content),
			AssetID:   input.AssetID,
			ParentID:  input.ParentID,
			IsPublic:  input.Type.IsPublic(),
		}

		var bands []layout.Band
		if structural {
			bands, err = store.Bands(page.WebsiteID)
			if err != nil {
				return err
			}
			if input.Type == domain.TypeHeader {
				for _, b := range bands {
					if b.Type == domain.TypeHeader {
						return apiError.UnprocessableEntity("Website already has a header", nil)
					}
				}
			}
		} else {
			pos := rect.ToPosition(0)
			c.Position = &pos
		}

		if err := store.Create(c); err != nil {
			return err
		}

		var shifted []uint64
		if structural {
			plan, err := layout.PlaceStructural(bands, layout.Band{ComponentID: c.ID, PageID: c.PageID, Type: c.Type})
			if err != nil {
				return layoutError(err)
			}
			pos := plan.Position()
			if err := store.SavePosition(&pos); err != nil {
				return err
			}
			c.Position = &pos
			if err := applyPlan(store, m, plan); err != nil {
				return err
			}
			if shifted, err = shiftedPages(store, c.WebsiteID, plan); err != nil {
				return err
			}
		}

		pages, err := targets(store, c)
		if err != nil {
			return err
		}
		if err := m.notify(realtime.OpCreate, c.ID, pages...); err != nil {
			return err
		}
		if len(shifted) > 0 {
			if err := m.notify(realtime.OpShiftPositions, c.ID, shifted...); err != nil {
				return err
			}
		}
		created = c
		return nil
	})
	if err != nil {
		return nil, apiError.FromStore(err)
	}

	view := s.toView(ctx, created)
	s.publish(ctx, actor, m, &view)
	log.Info().
		Uint64("component_id", created.ID).
		Uint64("page_id", created.PageID).
		Str("type", string(created.Type)).
		Msg("component created")
	return &view, nil
}

func (s *DefaultService) UpdateComponent(ctx context.Context, actor Actor, componentID uint64, input UpdateInput) (*View, error) {
	var asset *domain.Asset
	if input.AssetID != nil {
		// the kind is checked once the component type is known
		a, err := s.assets.Lookup(ctx, *input.AssetID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apiError.UnprocessableEntity("Asset not found", err)
		}
		if err != nil {
			return nil, err
		}
		asset = a
	}

	var (
		updated *domain.Component
		m       *mutation
	)
	err := s.repository.Transact(ctx, func(store Store) error {
		m = &mutation{store: store}
		c, err := store.LockComponent(actor.UserID, componentID, access.TierEditContent)
		if err != nil {
			return err
		}

		if asset != nil {
			kind, ok := c.Type.MediaKind()
			if !ok {
				return apiError.UnprocessableEntity("Only media components reference assets", nil)
			}
			if asset.Kind != kind {
				return apiError.UnprocessableEntity(fmt.Sprintf("A %s component cannot show a %s asset", c.Type, asset.Kind), nil)
			}
			if asset.WebsiteID != c.WebsiteID {
				return apiError.UnprocessableEntity("Asset belongs to another website", nil)
			}
			c.AssetID = &asset.ID
		}
		if input.Content != nil {
			if err := s.validateContent(c.Type, *input.Content, c.AssetID); err != nil {
				return err
			}
			c.Content = datatypes.NewJSONType(*input.Content)
		}
		if input.ParentID != nil {
			switch {
			case *input.ParentID == 0:
				c.ParentID = nil
			case c.Type.IsStructural():
				return apiError.UnprocessableEntity("Header, section and footer cannot be nested", nil)
			default:
				if err := checkParent(store, c.WebsiteID, c.PageID, c.ID, *input.ParentID); err != nil {
					return err
				}
				parentID := *input.ParentID
				c.ParentID = &parentID
			}
		}

		c.UpdatedAt = time.Now().UTC()
		if err := store.UpdateFields(c); err != nil {
			return err
		}
		pages, err := targets(store, c)
		if err != nil {
			return err
		}
		if err := m.notify(realtime.OpUpdate, c.ID, pages...); err != nil {
			return err
		}
		updated = c
		return nil
	})
	if err != nil {
		return nil, apiError.FromStore(err)
	}

	view := s.toView(ctx, updated)
	s.publish(ctx, actor, m, &view)
	return &view, nil
}

func (s *DefaultService) DeleteComponent(ctx context.Context, actor Actor, componentID uint64) error {
	var m *mutation
	err := s.repository.Transact(ctx, func(store Store) error {
		m = &mutation{store: store}
		c, err := store.LockComponent(actor.UserID, componentID, access.TierEditContent)
		if err != nil {
			return err
		}

		var shifted []uint64
		if c.Type.IsStructural() {
			bands, err := store.Bands(c.WebsiteID)
			if err != nil {
				return err
			}
			plan, err := layout.RemoveStructural(bands, c.ID)
			if err != nil {
				return layoutError(err)
			}
			if err := applyPlan(store, m, plan); err != nil {
				return err
			}
			if shifted, err = shiftedPages(store, c.WebsiteID, plan); err != nil {
				return err
			}
		}

		if err := remove(store, m, c); err != nil {
			return err
		}
		if len(shifted) > 0 {
			return m.notify(realtime.OpShiftPositions, c.ID, shifted...)
		}
		return nil
	})
	if err != nil {
		return apiError.FromStore(err)
	}

	s.publish(ctx, actor, m, nil)
	log.Info().Uint64("component_id", componentID).Msg("component deleted")
	return nil
}

func (s *DefaultService) RepositionComponent(ctx context.Context, actor Actor, componentID uint64, rect layout.Rect) (*View, error) {
	if err := layout.ValidateRect(rect); err != nil {
		return nil, err
	}

	var (
		moved *domain.Component
		m     *mutation
	)
	err := s.repository.Transact(ctx, func(store Store) error {
		m = &mutation{store: store}
		c, err := store.LockComponent(actor.UserID, componentID, access.TierEditContent)
		if err != nil {
			return err
		}
		pages, err := targets(store, c)
		if err != nil {
			return err
		}

		if !c.Type.IsStructural() {
			pos := rect.ToPosition(c.ID)
			if err := store.SavePosition(&pos); err != nil {
				return err
			}
			c.Position = &pos
			moved = c
			return m.notify(realtime.OpUpdatePosition, c.ID, pages...)
		}

		bands, err := store.Bands(c.WebsiteID)
		if err != nil {
			return err
		}
		plan, err := layout.Reposition(bands, c.ID, rect.RowStart)
		if err != nil {
			return layoutError(err)
		}
		pos := plan.Position()
		if err := store.SavePosition(&pos); err != nil {
			return err
		}
		c.Position = &pos
		if err := applyPlan(store, m, plan); err != nil {
			return err
		}
		moved = c
		shifted, err := shiftedPages(store, c.WebsiteID, plan)
		if err != nil {
			return err
		}
		return m.notify(realtime.OpShiftPositions, c.ID, union(pages, shifted)...)
	})
	if err != nil {
		return nil, apiError.FromStore(err)
	}

	view := s.toView(ctx, moved)
	s.publish(ctx, actor, m, &view)
	return &view, nil
}

// DeletePage removes a page with everything on it. Structural components on
// the page leave the website's band stack first, so the remaining pages
// close up around them.
func (s *DefaultService) DeletePage(ctx context.Context, actor Actor, pageID uint64) error {
	var m *mutation
	err := s.repository.Transact(ctx, func(store Store) error {
		m = &mutation{store: store}
		page, err := store.LockPage(actor.UserID, pageID, access.TierEditContent)
		if err != nil {
			return err
		}
		bands, err := store.Bands(page.WebsiteID)
		if err != nil {
			return err
		}

		var (
			removed    []uint64
			dropPublic bool
		)
		for _, b := range bands {
			if b.PageID == pageID {
				removed = append(removed, b.ComponentID)
				dropPublic = dropPublic || b.Type.IsPublic()
			}
		}

		var notify []uint64
		if len(removed) > 0 {
			plan, err := layout.RemoveStructural(bands, removed...)
			if err != nil {
				return layoutError(err)
			}
			if err := applyPlan(store, m, plan); err != nil {
				return err
			}
			if notify, err = shiftedPages(store, page.WebsiteID, plan); err != nil {
				return err
			}
			// leaves on other pages may hang off a header or footer of this page
			for _, id := range removed {
				c, err := store.FindComponent(id)
				if err != nil {
					return err
				}
				if err := remove(store, m, c); err != nil {
					return err
				}
			}
		}
		if dropPublic {
			all, err := store.PageIDs(page.WebsiteID)
			if err != nil {
				return err
			}
			notify = union(notify, all)
		}

		if err := store.DeletePage(pageID); err != nil {
			return err
		}
		m.forget(pageID)
		return m.notify(realtime.OpShiftPositions, 0, without(notify, pageID)...)
	})
	if err != nil {
		return apiError.FromStore(err)
	}

	s.publish(ctx, actor, m, nil)
	s.cache.IncrementVersion(ctx, versionKey(pageID))
	log.Info().Uint64("page_id", pageID).Msg("page deleted")
	return nil
}

func (s *DefaultService) WatchPage(ctx context.Context, actorID, pageID uint64) (uint64, error) {
	page, err := s.repository.PageForReader(ctx, actorID, pageID)
	if err != nil {
		return 0, apiError.FromStore(err)
	}
	return page.Revision, nil
}

func (s *DefaultService) ListPageComponents(ctx context.Context, actorID, pageID uint64) (*PageComponents, error) {
	// authorization runs before the cache, the cached payload is actor agnostic
	page, err := s.repository.PageForReader(ctx, actorID, pageID)
	if err != nil {
		return nil, apiError.FromStore(err)
	}

	v := s.cache.GetVersion(ctx, versionKey(pageID))
	cacheKey := fmt.Sprintf("page:%d:components:v:%d", pageID, v)

	var result PageComponents
	found, _ := s.cache.Get(ctx, cacheKey, &result)
	if found {
		return &result, nil
	}

	components, err := s.repository.PageComponents(ctx, page)
	if err != nil {
		return nil, apiError.FromStore(err)
	}
	sortComponents(components)

	views := make([]View, 0, len(components))
	for i := range components {
		views = append(views, s.toView(ctx, &components[i]))
	}
	result = PageComponents{PageID: page.ID, Revision: page.Revision, Components: views}
	_ = s.cache.Set(ctx, cacheKey, result, listCacheTTL)

	return &result, nil
}

// sortComponents orders by row, then column, then id. Components without a
// position come last.
func sortComponents(components []domain.Component) {
	sort.SliceStable(components, func(i, j int) bool {
		a, b := components[i].Position, components[j].Position
		switch {
		case a == nil && b == nil:
			return components[i].ID < components[j].ID
		case a == nil:
			return false
		case b == nil:
			return true
		case a.RowStart != b.RowStart:
			return a.RowStart < b.RowStart
		case a.ColStart != b.ColStart:
			return a.ColStart < b.ColStart
		}
		return components[i].ID < components[j].ID
	})
}

func (s *DefaultService) toView(ctx context.Context, c *domain.Component) View {
	view := View{
		ID:        c.ID,
		PageID:    c.PageID,
		WebsiteID: c.WebsiteID,
		Type:      c.Type,
		Content:   c.Content.Data(),
		AssetID:   c.AssetID,
		ParentID:  c.ParentID,
		IsPublic:  c.IsPublic,
		Position:  c.Position,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
	if c.AssetID != nil && s.assets != nil {
		url, err := s.assets.ResolveURL(ctx, *c.AssetID)
		if err != nil {
			log.Warn().Err(err).Uint64("asset_id", *c.AssetID).Msg("asset url unavailable")
		} else {
			view.URL = url
		}
	}
	return view
}
