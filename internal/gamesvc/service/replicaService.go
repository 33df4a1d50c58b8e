package service

import (
	"context"
	"fmt"

	"github.com/avvvet/gameview-services/internal/gamesvc/models"
	"github.com/avvvet/gameview-services/internal/gamesvc/store"
	log "github.com/sirupsen/logrus"
)

// ReplicaService maintains the local replica of users and roles owned by the
// auth service.
type ReplicaService struct {
	store store.Store
	now   Clock
}

func NewReplicaService(s store.Store) *ReplicaService {
	return &ReplicaService{store: s, now: utcNow}
}

// Upsert applies the latest known state of a user. Applying the same event
// twice leaves the same row.
func (s *ReplicaService) Upsert(ctx context.Context, id int64, f models.UserFields) error {
	if id <= 0 {
		return &models.ValidationError{Field: "userId", Reason: fmt.Sprintf("must be positive, got %d", id)}
	}
	if f.Email == "" {
		return &models.ValidationError{Field: "email", Reason: "must not be empty"}
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = s.now()
	}

	return s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Users().Upsert(ctx, id, f)
	})
}

// Delete removes the replica and its role links. Games that reference it
// keep the dangling id until the next reconciliation sweep.
func (s *ReplicaService) Delete(ctx context.Context, id int64) (bool, error) {
	var deleted bool
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		deleted, err = tx.Users().Delete(ctx, id)
		return err
	})
	return deleted, err
}

func (s *ReplicaService) Get(ctx context.Context, id int64) (*models.UserReplica, error) {
	var u *models.UserReplica
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		u, err = tx.Users().Get(ctx, id)
		return err
	})
	return u, err
}

func (s *ReplicaService) ExistsByID(ctx context.Context, id int64) (bool, error) {
	var ok bool
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		ok, err = tx.Users().Exists(ctx, id)
		return err
	})
	return ok, err
}

// EnsureRoles seeds the roles known to the auth service so that stub users
// can be given ROLE_USER.
func (s *ReplicaService) EnsureRoles(ctx context.Context) error {
	return s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		for _, r := range models.DefaultRoles {
			if err := tx.Roles().Ensure(ctx, r); err != nil {
				return err
			}
		}
		log.Infof("role replicas ensured: %d", len(models.DefaultRoles))
		return nil
	})
}

// createStub inserts a placeholder replica for an id the auth service has
// not (yet) told us about. Only the reconciliation sweep calls it, inside
// its own transaction.
func (s *ReplicaService) createStub(ctx context.Context, tx store.Tx, id int64) (*models.UserReplica, error) {
	f := models.UserFields{
		Email:       fmt.Sprintf("user%d@example.com", id),
		DisplayName: fmt.Sprintf("User %d", id),
		CreatedAt:   s.now(),
	}
	if err := tx.Users().Upsert(ctx, id, f); err != nil {
		return nil, fmt.Errorf("create stub user %d: %w", id, err)
	}

	role, err := tx.Roles().GetByName(ctx, models.RoleUser)
	if err != nil {
		return nil, err
	}
	if role != nil {
		if err := tx.Users().AssignRole(ctx, id, role.ID); err != nil {
			return nil, err
		}
	}
	return tx.Users().Get(ctx, id)
}
