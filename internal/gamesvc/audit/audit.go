package audit

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/avvvet/gameview-services/internal/db"
	"github.com/avvvet/gameview-services/internal/gamesvc/models"
)

const Collection = "game_audit"

type document struct {
	models.AuditEntry `bson:",inline"`
	ExpiresAt         time.Time `bson:"expires_at"`
}

// MongoLog keeps game history in MongoDB; entries expire after the TTL.
type MongoLog struct {
	coll    *mongo.Collection
	ttl     time.Duration
	timeout time.Duration
}

// NewMongoLog prepares the collection indexes and returns the log.
func NewMongoLog(ctx context.Context, database *mongo.Database, ttl time.Duration) (*MongoLog, error) {
	if err := db.CreateTTLIndexForCollection(ctx, database, Collection); err != nil {
		return nil, err
	}
	if err := db.CreateIndex(ctx, database, Collection, bson.D{{Key: "game_id", Value: 1}, {Key: "at", Value: 1}}); err != nil {
		return nil, err
	}
	return &MongoLog{coll: database.Collection(Collection), ttl: ttl, timeout: 5 * time.Second}, nil
}

func newDocument(e models.AuditEntry, ttl time.Duration) document {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	return document{AuditEntry: e, ExpiresAt: e.At.Add(ttl)}
}

// Record never fails the caller; a lost entry is logged.
func (l *MongoLog) Record(ctx context.Context, e models.AuditEntry) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()

	if _, err := l.coll.InsertOne(ctx, newDocument(e, l.ttl)); err != nil {
		log.WithFields(log.Fields{"gameId": e.GameID, "kind": e.Kind}).Errorf("audit entry lost: %s", err)
	}
}

// History returns the entries of one game, oldest first.
func (l *MongoLog) History(ctx context.Context, gameID int64, limit int64) ([]models.AuditEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}

	cur, err := l.coll.Find(ctx, bson.M{"game_id": gameID}, opts)
	if err != nil {
		return nil, fmt.Errorf("find audit entries for game %d: %w", gameID, err)
	}
	defer cur.Close(ctx)

	var docs []document
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode audit entries for game %d: %w", gameID, err)
	}
	out := make([]models.AuditEntry, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.AuditEntry)
	}
	return out, nil
}

// LogOnly writes entries to the service log when no MongoDB is configured.
type LogOnly struct{}

func (LogOnly) Record(ctx context.Context, e models.AuditEntry) {
	log.WithFields(log.Fields{"gameId": e.GameID, "kind": e.Kind, "from": e.From, "to": e.To}).Debug("audit")
}

func (LogOnly) History(ctx context.Context, gameID int64, limit int64) ([]models.AuditEntry, error) {
	return nil, nil
}
