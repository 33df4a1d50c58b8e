package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/avvvet/gameview-services/internal/gamesvc/models"
)

// MemoryStore keeps everything in process memory. Transactions are fully
// serialized and a failed transaction restores the state it started from.
// It backs STORE_BACKEND=memory and the tests.
type MemoryStore struct {
	mu sync.Mutex

	users          map[int64]models.UserReplica
	roles          map[int64]models.RoleReplica
	userRoles      map[int64]map[int64]bool
	games          map[int64]models.Game
	participations map[int64]models.GameParticipation

	nextGameID          int64
	nextParticipationID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:          map[int64]models.UserReplica{},
		roles:          map[int64]models.RoleReplica{},
		userRoles:      map[int64]map[int64]bool{},
		games:          map[int64]models.Game{},
		participations: map[int64]models.GameParticipation{},
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(ctx, &memTx{s: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type memSnapshot struct {
	users               map[int64]models.UserReplica
	roles               map[int64]models.RoleReplica
	userRoles           map[int64]map[int64]bool
	games               map[int64]models.Game
	participations      map[int64]models.GameParticipation
	nextGameID          int64
	nextParticipationID int64
}

func (s *MemoryStore) snapshot() memSnapshot {
	snap := memSnapshot{
		users:               make(map[int64]models.UserReplica, len(s.users)),
		roles:               make(map[int64]models.RoleReplica, len(s.roles)),
		userRoles:           make(map[int64]map[int64]bool, len(s.userRoles)),
		games:               make(map[int64]models.Game, len(s.games)),
		participations:      make(map[int64]models.GameParticipation, len(s.participations)),
		nextGameID:          s.nextGameID,
		nextParticipationID: s.nextParticipationID,
	}
	for k, v := range s.users {
		snap.users[k] = v
	}
	for k, v := range s.roles {
		snap.roles[k] = v
	}
	for k, v := range s.userRoles {
		set := make(map[int64]bool, len(v))
		for r := range v {
			set[r] = true
		}
		snap.userRoles[k] = set
	}
	for k, v := range s.games {
		snap.games[k] = v
	}
	for k, v := range s.participations {
		snap.participations[k] = v
	}
	return snap
}

func (s *MemoryStore) restore(snap memSnapshot) {
	s.users = snap.users
	s.roles = snap.roles
	s.userRoles = snap.userRoles
	s.games = snap.games
	s.participations = snap.participations
	s.nextGameID = snap.nextGameID
	s.nextParticipationID = snap.nextParticipationID
}

type memTx struct {
	s *MemoryStore
}

func (t *memTx) Users() UserRepo                   { return memUsers{t.s} }
func (t *memTx) Roles() RoleRepo                   { return memRoles{t.s} }
func (t *memTx) Games() GameRepo                   { return memGames{t.s} }
func (t *memTx) Participations() ParticipationRepo { return memParticipations{t.s} }

type memUsers struct{ s *MemoryStore }

func (r memUsers) Upsert(ctx context.Context, id int64, f models.UserFields) error {
	u, ok := r.s.users[id]
	if !ok {
		u = models.UserReplica{ID: id, CreatedAt: f.CreatedAt}
		if u.CreatedAt.IsZero() {
			u.CreatedAt = time.Now().UTC()
		}
	}
	u.Email = f.Email
	u.DisplayName = f.DisplayName
	r.s.users[id] = u
	return nil
}

func (r memUsers) Delete(ctx context.Context, id int64) (bool, error) {
	if _, ok := r.s.users[id]; !ok {
		return false, nil
	}
	delete(r.s.users, id)
	delete(r.s.userRoles, id)
	return true, nil
}

func (r memUsers) Get(ctx context.Context, id int64) (*models.UserReplica, error) {
	u, ok := r.s.users[id]
	if !ok {
		return nil, nil
	}
	u.Roles = nil
	for roleID := range r.s.userRoles[id] {
		u.Roles = append(u.Roles, r.s.roles[roleID])
	}
	sort.Slice(u.Roles, func(i, j int) bool { return u.Roles[i].ID < u.Roles[j].ID })
	return &u, nil
}

func (r memUsers) Exists(ctx context.Context, id int64) (bool, error) {
	_, ok := r.s.users[id]
	return ok, nil
}

func (r memUsers) AssignRole(ctx context.Context, userID, roleID int64) error {
	if _, ok := r.s.users[userID]; !ok {
		return &models.NotFoundError{Entity: "user", ID: userID}
	}
	if _, ok := r.s.roles[roleID]; !ok {
		return &models.NotFoundError{Entity: "role", ID: roleID}
	}
	if r.s.userRoles[userID] == nil {
		r.s.userRoles[userID] = map[int64]bool{}
	}
	r.s.userRoles[userID][roleID] = true
	return nil
}

type memRoles struct{ s *MemoryStore }

func (r memRoles) Ensure(ctx context.Context, role models.RoleReplica) error {
	if _, ok := r.s.roles[role.ID]; ok {
		return nil
	}
	for _, existing := range r.s.roles {
		if existing.Name == role.Name {
			return nil
		}
	}
	r.s.roles[role.ID] = role
	return nil
}

func (r memRoles) GetByName(ctx context.Context, name string) (*models.RoleReplica, error) {
	for _, role := range r.s.roles {
		if role.Name == name {
			out := role
			return &out, nil
		}
	}
	return nil, nil
}

type memGames struct{ s *MemoryStore }

func (r memGames) Create(ctx context.Context, g *models.Game) error {
	r.s.nextGameID++
	g.ID = r.s.nextGameID
	r.s.games[g.ID] = *g
	return nil
}

func (r memGames) Get(ctx context.Context, id int64) (*models.Game, error) {
	g, ok := r.s.games[id]
	if !ok {
		return nil, nil
	}
	return &g, nil
}

func (r memGames) GetForUpdate(ctx context.Context, id int64) (*models.Game, error) {
	return r.Get(ctx, id)
}

func (r memGames) Update(ctx context.Context, g *models.Game) error {
	existing, ok := r.s.games[g.ID]
	if !ok {
		return &models.NotFoundError{Entity: "game", ID: g.ID}
	}
	updated := *g
	updated.CreatedAt = existing.CreatedAt
	r.s.games[g.ID] = updated
	return nil
}

func (r memGames) List(ctx context.Context) ([]*models.Game, error) {
	return r.filter(func(*models.Game) bool { return true }, 0), nil
}

func (r memGames) ListWithCreator(ctx context.Context, afterID int64, limit int) ([]*models.Game, error) {
	return r.filter(func(g *models.Game) bool {
		return g.CreatorID.Valid && g.ID > afterID
	}, limit), nil
}

func (r memGames) filter(keep func(*models.Game) bool, limit int) []*models.Game {
	var out []*models.Game
	for _, g := range r.s.games {
		g := g
		if keep(&g) {
			out = append(out, &g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

type memParticipations struct{ s *MemoryStore }

// LockPair is a no-op: memory transactions are already serialized.
func (r memParticipations) LockPair(ctx context.Context, userID, gameID int64) error {
	return nil
}

func (r memParticipations) FindActive(ctx context.Context, userID, gameID int64) (*models.GameParticipation, error) {
	for _, p := range r.s.participations {
		if p.UserID == userID && p.GameID == gameID && p.Active {
			out := p
			return &out, nil
		}
	}
	return nil, nil
}

func (r memParticipations) Create(ctx context.Context, p *models.GameParticipation) error {
	if p.Active {
		existing, _ := r.FindActive(ctx, p.UserID, p.GameID)
		if existing != nil {
			return fmt.Errorf("failed to create participation: %w: unique_active_participation", models.ErrConflict)
		}
	}
	if _, ok := r.s.games[p.GameID]; !ok {
		return fmt.Errorf("failed to create participation: %w", &models.NotFoundError{Entity: "game", ID: p.GameID})
	}
	r.s.nextParticipationID++
	p.ID = r.s.nextParticipationID
	r.s.participations[p.ID] = *p
	return nil
}

func (r memParticipations) Close(ctx context.Context, p *models.GameParticipation) error {
	existing, ok := r.s.participations[p.ID]
	if !ok || !existing.Active {
		return &models.NotFoundError{Entity: "active participation", ID: p.ID}
	}
	existing.LeftAt = p.LeftAt
	existing.Active = false
	existing.MinutesPlayed = p.MinutesPlayed
	r.s.participations[p.ID] = existing
	return nil
}

func (r memParticipations) ListActive(ctx context.Context, gameID int64) ([]*models.GameParticipation, error) {
	var out []*models.GameParticipation
	for _, p := range r.s.participations {
		p := p
		if p.GameID == gameID && p.Active {
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memParticipations) CountActive(ctx context.Context, gameID int64) (int, error) {
	count := 0
	for _, p := range r.s.participations {
		if p.GameID == gameID && p.Active {
			count++
		}
	}
	return count, nil
}

func (r memParticipations) MinutesStats(ctx context.Context, gameID int64, includeActive bool) (int64, int64, error) {
	var sum, count int64
	for _, p := range r.s.participations {
		if p.GameID != gameID || (p.Active && !includeActive) {
			continue
		}
		sum += int64(p.MinutesPlayed)
		count++
	}
	return sum, count, nil
}
