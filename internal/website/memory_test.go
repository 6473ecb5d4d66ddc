package website

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"collaborative-page-builder/internal/access"
	"collaborative-page-builder/internal/component"
	"collaborative-page-builder/internal/domain"
	apiError "collaborative-page-builder/internal/errors"

	"gorm.io/gorm"
)

// memoryDB is an in-memory Repository guarded by one lock. Transact rolls
// back to a snapshot when fn fails.
type memoryDB struct {
	mu            sync.Mutex
	users         map[uint64]domain.User
	websites      map[uint64]domain.Website
	pages         map[uint64]domain.Page
	collaborators map[[2]uint64]domain.Collaborator
	nextID        uint64
}

func newMemoryDB() *memoryDB {
	return &memoryDB{
		users:         map[uint64]domain.User{},
		websites:      map[uint64]domain.Website{},
		pages:         map[uint64]domain.Page{},
		collaborators: map[[2]uint64]domain.Collaborator{},
		nextID:        100,
	}
}

func (db *memoryDB) addUser(id uint64, name string) {
	db.users[id] = domain.User{ID: id, Name: name, Email: fmt.Sprintf("%s@example.com", name)}
}

func (db *memoryDB) addWebsite(id, ownerID uint64, title string) {
	db.websites[id] = domain.Website{ID: id, OwnerID: ownerID, Title: title, UpdatedAt: time.Unix(int64(id), 0)}
}

func (db *memoryDB) addCollaborator(websiteID, userID uint64, level domain.PermissionLevel) {
	db.collaborators[[2]uint64{websiteID, userID}] = domain.Collaborator{
		WebsiteID: websiteID, UserID: userID, PermissionLevel: level, InvitedAt: time.Unix(int64(userID), 0),
	}
}

func (db *memoryDB) level(actorID, websiteID uint64) domain.PermissionLevel {
	w, ok := db.websites[websiteID]
	if !ok {
		return 0
	}
	if w.OwnerID == actorID {
		return access.LevelOwner
	}
	return db.collaborators[[2]uint64{websiteID, actorID}].PermissionLevel
}

func (db *memoryDB) allows(actorID, websiteID uint64, tier domain.PermissionLevel) bool {
	w, ok := db.websites[websiteID]
	if !ok {
		return false
	}
	return access.Allows(actorID, w.OwnerID, db.collaborators[[2]uint64{websiteID, actorID}].PermissionLevel, tier)
}

func (db *memoryDB) Transact(_ context.Context, fn func(Store) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	websites := make(map[uint64]domain.Website, len(db.websites))
	for k, v := range db.websites {
		websites[k] = v
	}
	pages := make(map[uint64]domain.Page, len(db.pages))
	for k, v := range db.pages {
		pages[k] = v
	}
	collaborators := make(map[[2]uint64]domain.Collaborator, len(db.collaborators))
	for k, v := range db.collaborators {
		collaborators[k] = v
	}
	nextID := db.nextID

	if err := fn(&memoryStore{db: db}); err != nil {
		db.websites, db.pages, db.collaborators, db.nextID = websites, pages, collaborators, nextID
		return err
	}
	return nil
}

func (db *memoryDB) ListWebsites(_ context.Context, actorID uint64, page, pageSize int) ([]WebsiteSummary, ListMeta, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var all []WebsiteSummary
	for id, w := range db.websites {
		if db.allows(actorID, id, access.TierRead) {
			all = append(all, WebsiteSummary{Website: w, Level: db.level(actorID, id)})
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
			return all[i].UpdatedAt.After(all[j].UpdatedAt)
		}
		return all[i].ID > all[j].ID
	})

	total := int64(len(all))
	start := (page - 1) * pageSize
	if start > len(all) {
		start = len(all)
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], ListMeta{
		Total:       total,
		CurrentPage: page,
		PerPage:     pageSize,
		TotalPage:   int((total + int64(pageSize) - 1) / int64(pageSize)),
	}, nil
}

func (db *memoryDB) FindWebsite(_ context.Context, actorID, websiteID uint64, tier domain.PermissionLevel) (*WebsiteSummary, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if !db.allows(actorID, websiteID, tier) {
		return nil, apiError.NotAuthorized(fmt.Errorf("website %d", websiteID))
	}
	return &WebsiteSummary{Website: db.websites[websiteID], Level: db.level(actorID, websiteID)}, nil
}

func (db *memoryDB) CanAct(_ context.Context, actorID, websiteID uint64, tier domain.PermissionLevel) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.allows(actorID, websiteID, tier)
}

func (db *memoryDB) ListPages(_ context.Context, websiteID uint64) ([]domain.Page, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []domain.Page
	for _, p := range db.pages {
		if p.WebsiteID == websiteID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Depth != out[j].Depth {
			return out[i].Depth < out[j].Depth
		}
		return out[i].Route < out[j].Route
	})
	return out, nil
}

func (db *memoryDB) ListCollaborators(_ context.Context, websiteID uint64) ([]CollaboratorView, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []CollaboratorView
	for key, c := range db.collaborators {
		if key[0] != websiteID {
			continue
		}
		u := db.users[c.UserID]
		out = append(out, CollaboratorView{
			UserID: c.UserID, Name: u.Name, Email: u.Email, PermissionLevel: c.PermissionLevel, InvitedAt: c.InvitedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

type memoryStore struct {
	db *memoryDB
}

func (s *memoryStore) LockWebsite(actorID, websiteID uint64, tier domain.PermissionLevel) (*domain.Website, error) {
	if !s.db.allows(actorID, websiteID, tier) {
		return nil, apiError.NotAuthorized(fmt.Errorf("website %d", websiteID))
	}
	w := s.db.websites[websiteID]
	return &w, nil
}

func (s *memoryStore) LockPage(actorID, pageID uint64, tier domain.PermissionLevel) (*domain.Page, error) {
	p, ok := s.db.pages[pageID]
	if !ok || !s.db.allows(actorID, p.WebsiteID, tier) {
		return nil, apiError.NotAuthorized(fmt.Errorf("page %d", pageID))
	}
	return &p, nil
}

func (s *memoryStore) Level(actorID, websiteID uint64) (domain.PermissionLevel, error) {
	return s.db.level(actorID, websiteID), nil
}

func (s *memoryStore) CreateWebsite(w *domain.Website) error {
	s.db.nextID++
	w.ID = s.db.nextID
	w.CreatedAt = time.Now().UTC()
	w.UpdatedAt = w.CreatedAt
	s.db.websites[w.ID] = *w
	return nil
}

func (s *memoryStore) SaveWebsite(w *domain.Website) error {
	s.db.websites[w.ID] = *w
	return nil
}

func (s *memoryStore) DeleteWebsite(websiteID uint64) error {
	delete(s.db.websites, websiteID)
	for id, p := range s.db.pages {
		if p.WebsiteID == websiteID {
			delete(s.db.pages, id)
		}
	}
	for key := range s.db.collaborators {
		if key[0] == websiteID {
			delete(s.db.collaborators, key)
		}
	}
	return nil
}

func (s *memoryStore) routeTaken(p *domain.Page) bool {
	for _, other := range s.db.pages {
		if other.ID != p.ID && other.WebsiteID == p.WebsiteID && other.Route == p.Route {
			return true
		}
	}
	return false
}

func (s *memoryStore) CreatePage(p *domain.Page) error {
	if s.routeTaken(p) {
		return gorm.ErrDuplicatedKey
	}
	s.db.nextID++
	p.ID = s.db.nextID
	s.db.pages[p.ID] = *p
	return nil
}

func (s *memoryStore) SavePage(p *domain.Page) error {
	if s.routeTaken(p) {
		return gorm.ErrDuplicatedKey
	}
	s.db.pages[p.ID] = *p
	return nil
}

func (s *memoryStore) Collaborator(websiteID, userID uint64) (*domain.Collaborator, error) {
	c, ok := s.db.collaborators[[2]uint64{websiteID, userID}]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &c, nil
}

func (s *memoryStore) CreateCollaborator(c *domain.Collaborator) error {
	if _, ok := s.db.users[c.UserID]; !ok {
		return apiError.UnprocessableEntity("Referenced resource does not exist", nil)
	}
	s.db.collaborators[[2]uint64{c.WebsiteID, c.UserID}] = *c
	return nil
}

func (s *memoryStore) UpdateCollaboratorLevel(websiteID, userID uint64, level domain.PermissionLevel) error {
	key := [2]uint64{websiteID, userID}
	c, ok := s.db.collaborators[key]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	c.PermissionLevel = level
	s.db.collaborators[key] = c
	return nil
}

func (s *memoryStore) DeleteCollaborator(websiteID, userID uint64) error {
	delete(s.db.collaborators, [2]uint64{websiteID, userID})
	return nil
}

func (s *memoryStore) Members(websiteID uint64) ([]uint64, error) {
	w, ok := s.db.websites[websiteID]
	if !ok {
		return nil, nil
	}
	ids := []uint64{w.OwnerID}
	for key := range s.db.collaborators {
		if key[0] == websiteID {
			ids = append(ids, key[1])
		}
	}
	return ids, nil
}

type memoryUsers struct {
	db *memoryDB
}

func (u memoryUsers) GetUserByID(_ context.Context, id uint64) (*domain.User, error) {
	u.db.mu.Lock()
	defer u.db.mu.Unlock()
	user, ok := u.db.users[id]
	if !ok {
		return nil, apiError.NotFound("User not found", nil)
	}
	return &user, nil
}

type recordingRemover struct {
	mu    sync.Mutex
	calls []uint64
	err   error
}

func (r *recordingRemover) DeletePage(_ context.Context, _ component.Actor, pageID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, pageID)
	return r.err
}
