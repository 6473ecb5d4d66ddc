package component

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"collaborative-page-builder/internal/access"
	"collaborative-page-builder/internal/domain"
	apiError "collaborative-page-builder/internal/errors"
	"collaborative-page-builder/internal/layout"
	"collaborative-page-builder/internal/realtime"

	"gorm.io/gorm"
)

// memoryDB is an in-memory Repository. Transact holds one global lock, which
// is at least as strict as the per-website lock of the gorm store, and rolls
// back to a snapshot when fn fails.
type memoryDB struct {
	mu            sync.Mutex
	websites      map[uint64]domain.Website
	collaborators map[[2]uint64]domain.PermissionLevel
	pages         map[uint64]domain.Page
	components    map[uint64]domain.Component
	nextID        uint64
	failOn        string
}

func newMemoryDB() *memoryDB {
	return &memoryDB{
		websites:      map[uint64]domain.Website{},
		collaborators: map[[2]uint64]domain.PermissionLevel{},
		pages:         map[uint64]domain.Page{},
		components:    map[uint64]domain.Component{},
		nextID:        1000,
	}
}

func (db *memoryDB) addWebsite(id, ownerID uint64) {
	db.websites[id] = domain.Website{ID: id, OwnerID: ownerID}
}

func (db *memoryDB) addPage(id, websiteID uint64) {
	db.pages[id] = domain.Page{ID: id, WebsiteID: websiteID, Route: fmt.Sprintf("/p%d", id)}
}

func (db *memoryDB) addCollaborator(websiteID, userID uint64, level domain.PermissionLevel) {
	db.collaborators[[2]uint64{websiteID, userID}] = level
}

func clonePosition(p *domain.ComponentPosition) *domain.ComponentPosition {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

func cloneComponent(c domain.Component) domain.Component {
	c.Position = clonePosition(c.Position)
	return c
}

func (db *memoryDB) snapshot() (map[uint64]domain.Page, map[uint64]domain.Component, uint64) {
	pages := make(map[uint64]domain.Page, len(db.pages))
	for k, v := range db.pages {
		pages[k] = v
	}
	components := make(map[uint64]domain.Component, len(db.components))
	for k, v := range db.components {
		components[k] = cloneComponent(v)
	}
	return pages, components, db.nextID
}

func (db *memoryDB) Transact(_ context.Context, fn func(Store) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	pages, components, nextID := db.snapshot()
	if err := fn(&memoryStore{db: db}); err != nil {
		db.pages, db.components, db.nextID = pages, components, nextID
		return err
	}
	return nil
}

func (db *memoryDB) allows(actorID, websiteID uint64, tier domain.PermissionLevel) bool {
	w, ok := db.websites[websiteID]
	if !ok {
		return false
	}
	return access.Allows(actorID, w.OwnerID, db.collaborators[[2]uint64{websiteID, actorID}], tier)
}

func (db *memoryDB) PageForReader(_ context.Context, actorID, pageID uint64) (*domain.Page, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	page, ok := db.pages[pageID]
	if !ok || !db.allows(actorID, page.WebsiteID, access.TierRead) {
		return nil, apiError.NotAuthorized(fmt.Errorf("page %d", pageID))
	}
	return &page, nil
}

func (db *memoryDB) PageComponents(_ context.Context, page *domain.Page) ([]domain.Component, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []domain.Component
	for _, c := range db.components {
		if c.PageID == page.ID || (c.WebsiteID == page.WebsiteID && c.IsPublic) {
			out = append(out, cloneComponent(c))
		}
	}
	return out, nil
}

// rows returns component id -> row_start for every positioned component.
func (db *memoryDB) rows() map[uint64]int {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := map[uint64]int{}
	for id, c := range db.components {
		if c.Position != nil {
			out[id] = c.Position.RowStart
		}
	}
	return out
}

func (db *memoryDB) component(id uint64) (domain.Component, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	c, ok := db.components[id]
	return cloneComponent(c), ok
}

func (db *memoryDB) revision(pageID uint64) uint64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.pages[pageID].Revision
}

type memoryStore struct {
	db *memoryDB
}

func (s *memoryStore) LockPage(actorID, pageID uint64, tier domain.PermissionLevel) (*domain.Page, error) {
	page, ok := s.db.pages[pageID]
	if !ok || !s.db.allows(actorID, page.WebsiteID, tier) {
		return nil, apiError.NotAuthorized(fmt.Errorf("page %d", pageID))
	}
	return &page, nil
}

func (s *memoryStore) LockComponent(actorID, componentID uint64, tier domain.PermissionLevel) (*domain.Component, error) {
	c, ok := s.db.components[componentID]
	if !ok {
		return nil, apiError.NotFound("Component not found", gorm.ErrRecordNotFound)
	}
	if _, err := s.LockPage(actorID, c.PageID, tier); err != nil {
		return nil, err
	}
	c = cloneComponent(c)
	return &c, nil
}

func (s *memoryStore) FindComponent(id uint64) (*domain.Component, error) {
	c, ok := s.db.components[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	c = cloneComponent(c)
	return &c, nil
}

func (s *memoryStore) Children(parentID uint64) ([]domain.Component, error) {
	var out []domain.Component
	for _, c := range s.db.components {
		if c.ParentID != nil && *c.ParentID == parentID {
			out = append(out, cloneComponent(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) Bands(websiteID uint64) ([]layout.Band, error) {
	if s.db.failOn == "bands" {
		return nil, fmt.Errorf("store unavailable")
	}
	var bands []layout.Band
	for _, c := range s.db.components {
		if c.WebsiteID != websiteID || !c.Type.IsStructural() || c.Position == nil {
			continue
		}
		bands = append(bands, layout.Band{
			ComponentID: c.ID,
			PageID:      c.PageID,
			Type:        c.Type,
			RowStart:    c.Position.RowStart,
			RowEnd:      c.Position.RowEnd,
		})
	}
	sort.Slice(bands, func(i, j int) bool {
		if bands[i].RowStart != bands[j].RowStart {
			return bands[i].RowStart < bands[j].RowStart
		}
		return bands[i].ComponentID < bands[j].ComponentID
	})
	return bands, nil
}

func (s *memoryStore) PageIDs(websiteID uint64) ([]uint64, error) {
	var ids []uint64
	for id, p := range s.db.pages {
		if p.WebsiteID == websiteID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *memoryStore) Create(c *domain.Component) error {
	s.db.nextID++
	c.ID = s.db.nextID
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt
	if c.Position != nil {
		c.Position.ComponentID = c.ID
	}
	s.db.components[c.ID] = cloneComponent(*c)
	return nil
}

func (s *memoryStore) UpdateFields(c *domain.Component) error {
	stored, ok := s.db.components[c.ID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	stored.Content = c.Content
	stored.ParentID = c.ParentID
	stored.AssetID = c.AssetID
	stored.UpdatedAt = c.UpdatedAt
	s.db.components[c.ID] = stored
	return nil
}

func (s *memoryStore) SavePosition(p *domain.ComponentPosition) error {
	stored, ok := s.db.components[p.ComponentID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	stored.Position = clonePosition(p)
	s.db.components[p.ComponentID] = stored
	return nil
}

func (s *memoryStore) ApplyShifts(shifts []layout.Shift) error {
	if s.db.failOn == "shift" && len(shifts) > 0 {
		return fmt.Errorf("store unavailable")
	}
	for _, shift := range shifts {
		stored := s.db.components[shift.ComponentID]
		stored.Position = clonePosition(stored.Position)
		stored.Position.RowStart = shift.RowStart
		stored.Position.RowEnd = shift.RowEnd
		s.db.components[shift.ComponentID] = stored
	}
	return nil
}

func (s *memoryStore) Delete(ids ...uint64) error {
	for _, id := range ids {
		if _, ok := s.db.components[id]; !ok {
			continue
		}
		delete(s.db.components, id)
		var children []uint64
		for childID, c := range s.db.components {
			if c.ParentID != nil && *c.ParentID == id {
				children = append(children, childID)
			}
		}
		if err := s.Delete(children...); err != nil {
			return err
		}
	}
	return nil
}

func (s *memoryStore) DeletePage(pageID uint64) error {
	var ids []uint64
	for id, c := range s.db.components {
		if c.PageID == pageID {
			ids = append(ids, id)
		}
	}
	if err := s.Delete(ids...); err != nil {
		return err
	}
	delete(s.db.pages, pageID)
	return nil
}

func (s *memoryStore) BumpRevision(pageID uint64) (uint64, error) {
	page, ok := s.db.pages[pageID]
	if !ok {
		return 0, gorm.ErrRecordNotFound
	}
	page.Revision++
	s.db.pages[pageID] = page
	return page.Revision, nil
}

// recordingPublisher captures envelopes handed over after commit.
type recordingPublisher struct {
	mu   sync.Mutex
	envs []realtime.Envelope
}

func (p *recordingPublisher) Publish(envs ...realtime.Envelope) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.envs = append(p.envs, envs...)
}

func (p *recordingPublisher) take() []realtime.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.envs
	p.envs = nil
	return out
}

type memoryAssets struct {
	assets map[uint64]*domain.Asset
	urlErr error
}

func (a *memoryAssets) Lookup(_ context.Context, id uint64) (*domain.Asset, error) {
	if asset, ok := a.assets[id]; ok {
		return asset, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (a *memoryAssets) ResolveURL(_ context.Context, id uint64) (string, error) {
	if a.urlErr != nil {
		return "", a.urlErr
	}
	return fmt.Sprintf("https://cdn.test/%d", id), nil
}
