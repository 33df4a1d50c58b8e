package service

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/avvvet/gameview-services/internal/comm"
	"github.com/avvvet/gameview-services/internal/gamesvc/models"
	"github.com/avvvet/gameview-services/internal/gamesvc/store"
	"github.com/lestrrat-go/backoff/v2"
	log "github.com/sirupsen/logrus"
)

type ReconcileOptions struct {
	// BatchSize <= 0 runs the whole pass in one transaction: a failure
	// anywhere rolls back every repair of the pass. A positive size commits
	// each batch on its own and retries a failed batch with backoff.
	BatchSize int
	// CreateStubs inserts a placeholder user for an unresolvable legacy id
	// instead of orphaning the game.
	CreateStubs bool
	// Republish re-emits event.game-status-changed for repaired games.
	Republish bool

	MaxRetries       int
	RetryMinInterval time.Duration
	RetryMaxInterval time.Duration
}

type ReconcileReport struct {
	Scanned  int `json:"scanned"`
	Dangling int `json:"dangling"`
	Rebound  int `json:"rebound"`
	Stubbed  int `json:"stubbed"`
	Orphaned int `json:"orphaned"`
	Batches  int `json:"batches"`
}

func (r *ReconcileReport) add(o ReconcileReport) {
	r.Scanned += o.Scanned
	r.Dangling += o.Dangling
	r.Rebound += o.Rebound
	r.Stubbed += o.Stubbed
	r.Orphaned += o.Orphaned
	r.Batches += o.Batches
}

// ReconcileService repairs games whose creator reference points at a user
// replica that no longer exists. Games are never deleted by a sweep.
type ReconcileService struct {
	store    store.Store
	replicas *ReplicaService
	emitter  Emitter
	audit    AuditLog
	opts     ReconcileOptions
	now      Clock
}

func NewReconcileService(s store.Store, replicas *ReplicaService, emitter Emitter, audit AuditLog, opts ReconcileOptions) *ReconcileService {
	if audit == nil {
		audit = nopAudit{}
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryMinInterval <= 0 {
		opts.RetryMinInterval = 500 * time.Millisecond
	}
	if opts.RetryMaxInterval < opts.RetryMinInterval {
		opts.RetryMaxInterval = 30 * opts.RetryMinInterval
	}
	return &ReconcileService{store: s, replicas: replicas, emitter: emitter, audit: audit, opts: opts, now: utcNow}
}

type repair struct {
	game  *models.Game
	entry models.AuditEntry
}

// Sweep runs one reconciliation pass.
func (s *ReconcileService) Sweep(ctx context.Context) (ReconcileReport, error) {
	start := s.now()
	log.Info("reconciliation of orphaned games started")

	var (
		report ReconcileReport
		err    error
	)
	if s.opts.BatchSize <= 0 {
		report, err = s.sweepPass(ctx)
	} else {
		report, err = s.sweepBatches(ctx)
	}

	fields := log.Fields{
		"scanned":  report.Scanned,
		"dangling": report.Dangling,
		"rebound":  report.Rebound,
		"stubbed":  report.Stubbed,
		"orphaned": report.Orphaned,
		"batches":  report.Batches,
		"duration": s.now().Sub(start).String(),
	}
	if err != nil {
		log.WithFields(fields).Errorf("reconciliation failed: %s", err)
		return report, err
	}
	log.WithFields(fields).Info("reconciliation completed")
	return report, nil
}

func (s *ReconcileService) sweepPass(ctx context.Context) (ReconcileReport, error) {
	var (
		report  ReconcileReport
		repairs []repair
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		games, err := tx.Games().ListWithCreator(ctx, 0, 0)
		if err != nil {
			return err
		}
		report, repairs, err = s.repairGames(ctx, tx, games)
		return err
	})
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("%w: pass rolled back: %s", models.ErrReconciliation, err)
	}
	report.Batches = 1
	s.afterCommit(ctx, repairs)
	return report, nil
}

func (s *ReconcileService) sweepBatches(ctx context.Context) (ReconcileReport, error) {
	var (
		total   ReconcileReport
		afterID int64
	)
	for {
		var (
			batch   ReconcileReport
			repairs []repair
			lastID  int64
			size    int
		)
		err := s.retry(ctx, func() error {
			return s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
				games, err := tx.Games().ListWithCreator(ctx, afterID, s.opts.BatchSize)
				if err != nil {
					return err
				}
				size = len(games)
				if size > 0 {
					lastID = games[size-1].ID
				}
				batch, repairs, err = s.repairGames(ctx, tx, games)
				return err
			})
		})
		if err != nil {
			return total, fmt.Errorf("%w: batch after game %d: %s", models.ErrReconciliation, afterID, err)
		}

		if size == 0 {
			return total, nil
		}
		batch.Batches = 1
		total.add(batch)
		s.afterCommit(ctx, repairs)

		if size < s.opts.BatchSize {
			return total, nil
		}
		afterID = lastID
	}
}

func (s *ReconcileService) repairGames(ctx context.Context, tx store.Tx, games []*models.Game) (ReconcileReport, []repair, error) {
	var (
		report  ReconcileReport
		repairs []repair
	)
	for _, game := range games {
		report.Scanned++

		exists, err := tx.Users().Exists(ctx, game.CreatorID.Int64)
		if err != nil {
			return report, nil, err
		}
		if exists {
			continue
		}
		report.Dangling++
		missing := game.CreatorID.Int64
		entry := models.AuditEntry{GameID: game.ID, From: strconv.FormatInt(missing, 10), At: s.now()}

		resolved := false
		if game.LegacyUserID.Valid {
			legacy := game.LegacyUserID.Int64
			ok, err := tx.Users().Exists(ctx, legacy)
			if err != nil {
				return report, nil, err
			}
			if !ok && s.opts.CreateStubs {
				if _, err := s.replicas.createStub(ctx, tx, legacy); err != nil {
					return report, nil, err
				}
				ok = true
				report.Stubbed++
				entry.Kind = models.AuditStubCreated
			}
			if ok {
				game.CreatorID = sql.NullInt64{Int64: legacy, Valid: true}
				game.Orphaned = false
				resolved = true
				if entry.Kind == "" {
					entry.Kind = models.AuditCreatorRebound
					report.Rebound++
				}
				entry.To = strconv.FormatInt(legacy, 10)
			}
		}
		if !resolved {
			game.CreatorID = sql.NullInt64{}
			game.Orphaned = true
			entry.Kind = models.AuditCreatorOrphaned
			report.Orphaned++
		}

		if err := tx.Games().Update(ctx, game); err != nil {
			return report, nil, err
		}
		repairs = append(repairs, repair{game: game, entry: entry})
	}
	return report, repairs, nil
}

func (s *ReconcileService) afterCommit(ctx context.Context, repairs []repair) {
	for _, r := range repairs {
		s.audit.Record(ctx, r.entry)

		logger := log.WithFields(log.Fields{"gameId": r.game.ID, "kind": r.entry.Kind, "from": r.entry.From, "to": r.entry.To})
		if r.game.Orphaned {
			logger.Warn("game marked as orphaned")
		} else {
			logger.Info("game creator repaired")
		}

		if !s.opts.Republish || s.emitter == nil {
			continue
		}
		projection := NewGameProjection(r.game, nil)
		if err := s.emitter.Publish(ctx, comm.TopicGameStatusChanged, strconv.FormatInt(r.game.ID, 10), projection); err != nil {
			logger.Errorf("repair not republished: %s", err)
		}
	}
}

func (s *ReconcileService) retry(ctx context.Context, fn func() error) error {
	policy := backoff.Exponential(
		backoff.WithMinInterval(s.opts.RetryMinInterval),
		backoff.WithMaxInterval(s.opts.RetryMaxInterval),
		backoff.WithJitterFactor(0.05),
		backoff.WithMaxRetries(s.opts.MaxRetries),
	)
	bctx, cancel := context.WithCancel(ctx)
	defer cancel()
	b := policy.Start(bctx)

	var err error
	for backoff.Continue(b) {
		if err = fn(); err == nil {
			return nil
		}
		log.Warnf("reconciliation batch failed, retrying: %s", err)
	}
	if err == nil {
		err = ctx.Err()
	}
	return err
}

// Run sweeps once right away and then on every tick until ctx is done. A
// failed pass is logged and the next tick starts from scratch.
func (s *ReconcileService) Run(ctx context.Context, interval time.Duration) {
	if _, err := s.Sweep(ctx); err != nil {
		log.Errorf("Error [ReconcileService.Run] initial sweep: %s", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("reconciliation loop stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				log.Errorf("Error [ReconcileService.Run] sweep: %s", err)
			}
		}
	}
}
