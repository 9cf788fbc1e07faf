package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-identity/internal/config"
	"github.com/chirino/conversation-identity/internal/model"
	registrymigrate "github.com/chirino/conversation-identity/internal/registry/migrate"
	registrystore "github.com/chirino/conversation-identity/internal/registry/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	messagesCollection = "conversation_messages"
	metadataCollection = "conversation_metadata"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "mongo",
		Loader: func(ctx context.Context) (registrystore.Store, error) {
			cfg := config.FromContext(ctx)
			opts := options.Client().ApplyURI(cfg.DBURL)
			if cfg.DBMaxOpenConns > 0 {
				opts.SetMaxPoolSize(uint64(cfg.DBMaxOpenConns))
			}
			if cfg.DBMaxIdleConns > 0 {
				opts.SetMinPoolSize(uint64(cfg.DBMaxIdleConns))
			}
			client, err := mongo.Connect(opts)
			if err != nil {
				return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
			}
			if err := client.Ping(ctx, nil); err != nil {
				_ = client.Disconnect(ctx)
				return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
			}
			return New(client.Database(databaseName(cfg)), cfg.ResolvedHistoryLimit()), nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &mongoMigrator{}})
}

func databaseName(cfg *config.Config) string {
	if cfg.MongoDatabase != "" {
		return cfg.MongoDatabase
	}
	return "conversation_identity"
}

type mongoMigrator struct{}

func (m *mongoMigrator) Name() string { return "mongo-schema" }
func (m *mongoMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.DatastoreMigrateAtStart || cfg.StoreType != "mongo" {
		return nil
	}

	log.Info("Running migration", "name", m.Name())
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.DBURL))
	if err != nil {
		return fmt.Errorf("mongo migration: failed to connect: %w", err)
	}
	defer client.Disconnect(ctx)

	db := client.Database(databaseName(cfg))
	collections := map[string][]mongo.IndexModel{
		messagesCollection: {
			{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "_id", Value: 1}}},
		},
		metadataCollection: nil,
	}
	for name, indexes := range collections {
		// Ensure collection exists
		db.CreateCollection(ctx, name)
		if len(indexes) > 0 {
			if _, err := db.Collection(name).Indexes().CreateMany(ctx, indexes); err != nil {
				return fmt.Errorf("mongo migration: failed to create indexes for %s: %w", name, err)
			}
		}
	}

	log.Info("MongoDB schema migration complete")
	return nil
}

type messageDoc struct {
	ID             bson.ObjectID `bson:"_id,omitempty"`
	ConversationID string        `bson:"conversation_id"`
	Role           string        `bson:"role"`
	Content        string        `bson:"content"`
	Timestamp      string        `bson:"timestamp"`
}

type metadataDoc struct {
	ID     string            `bson:"_id"`
	Values map[string]string `bson:"values"`
}

// Store implements registrystore.Store on two MongoDB collections. Logs are
// ordered by ObjectID.
type Store struct {
	db    *mongo.Database
	limit int
}

// New returns a store over db whose logs are trimmed to limit on append.
func New(db *mongo.Database, limit int) *Store {
	return &Store{db: db, limit: limit}
}

// Close disconnects the client behind the database.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.db.Client().Disconnect(ctx)
}

func (s *Store) messages() *mongo.Collection { return s.db.Collection(messagesCollection) }
func (s *Store) metadata() *mongo.Collection { return s.db.Collection(metadataCollection) }

func toDoc(conversationID string, m model.Message) messageDoc {
	return messageDoc{
		ID:             bson.NewObjectID(),
		ConversationID: conversationID,
		Role:           string(m.Role),
		Content:        m.Content,
		Timestamp:      m.Timestamp,
	}
}

func (s *Store) AppendMessage(ctx context.Context, conversationID string, msg model.Message) error {
	if _, err := s.messages().InsertOne(ctx, toDoc(conversationID, msg)); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	if s.limit <= 0 {
		return nil
	}
	var oldest messageDoc
	err := s.messages().FindOne(ctx,
		bson.M{"conversation_id": conversationID},
		options.FindOne().SetSort(bson.D{{Key: "_id", Value: -1}}).SetSkip(int64(s.limit)),
	).Decode(&oldest)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("trim messages: %w", err)
	}
	_, err = s.messages().DeleteMany(ctx, bson.M{
		"conversation_id": conversationID,
		"_id":             bson.M{"$lte": oldest.ID},
	})
	if err != nil {
		return fmt.Errorf("trim messages: %w", err)
	}
	return nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.messages().Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	out := make([]model.Message, len(docs))
	for i, d := range docs {
		out[len(docs)-1-i] = model.Message{
			Role:      model.Role(d.Role),
			Content:   d.Content,
			Timestamp: d.Timestamp,
		}
	}
	return out, nil
}

func (s *Store) ReplaceMessages(ctx context.Context, conversationID string, msgs []model.Message) error {
	if err := s.ClearMessages(ctx, conversationID); err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	docs := make([]any, len(msgs))
	for i, m := range msgs {
		docs[i] = toDoc(conversationID, m)
	}
	if _, err := s.messages().InsertMany(ctx, docs, options.InsertMany().SetOrdered(true)); err != nil {
		return fmt.Errorf("replace messages: %w", err)
	}
	return nil
}

func (s *Store) ClearMessages(ctx context.Context, conversationID string) error {
	if _, err := s.messages().DeleteMany(ctx, bson.M{"conversation_id": conversationID}); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	return nil
}

func (s *Store) GetMetadata(ctx context.Context, conversationID string) (model.Metadata, error) {
	var doc metadataDoc
	err := s.metadata().FindOne(ctx, bson.M{"_id": conversationID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.Metadata{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get metadata: %w", err)
	}
	md := make(model.Metadata, len(doc.Values))
	for k, v := range doc.Values {
		md[k] = v
	}
	return md, nil
}

func (s *Store) SetMetadata(ctx context.Context, conversationID string, md model.Metadata) error {
	if len(md) == 0 {
		return s.ForgetMetadata(ctx, conversationID)
	}
	doc := metadataDoc{ID: conversationID, Values: map[string]string(md)}
	_, err := s.metadata().ReplaceOne(ctx, bson.M{"_id": conversationID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("set metadata: %w", err)
	}
	return nil
}

func (s *Store) ForgetMetadata(ctx context.Context, conversationID string) error {
	if _, err := s.metadata().DeleteOne(ctx, bson.M{"_id": conversationID}); err != nil {
		return fmt.Errorf("forget metadata: %w", err)
	}
	return nil
}

var _ registrystore.Store = (*Store)(nil)
