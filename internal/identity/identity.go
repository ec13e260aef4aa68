package identity

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var ErrUserNotFound = errors.New("user not found")

const (
	RoleGuest    = "guest"
	RoleCustomer = "customer"
)

type User struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Email     string             `bson:"email"`
	FirstName string             `bson:"first_name"`
	LastName  string             `bson:"last_name"`
	Role      string             `bson:"role"`
	IsGuest   bool               `bson:"is_guest"`
	Password  string             `bson:"password,omitempty"`
	CreatedAt time.Time          `bson:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at"`
}

// Service resolves checkout identities. Guest provisioning is idempotent:
// the same email always maps to the same account.
type Service interface {
	FindOrCreateGuest(ctx context.Context, email, firstName, lastName string) (string, error)
	FindByID(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
}

type mongoService struct {
	collection *mongo.Collection
}

func ConnectMongoDB(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(100).
		SetMinPoolSize(10)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client.Database(database), nil
}

func NewMongoService(db *mongo.Database) (Service, error) {
	collection := db.Collection("users")

	// Unique email index backs the idempotency of guest provisioning.
	_, err := collection.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create email index: %w", err)
	}

	return &mongoService{collection: collection}, nil
}

// FindOrCreateGuest upserts on email: concurrent submissions of the same
// guest email resolve to one account, never duplicates.
func (s *mongoService) FindOrCreateGuest(ctx context.Context, email, firstName, lastName string) (string, error) {
	now := time.Now()
	filter := bson.M{"email": email}
	update := bson.M{
		"$setOnInsert": bson.M{
			"email":      email,
			"first_name": firstName,
			"last_name":  lastName,
			"role":       RoleGuest,
			"is_guest":   true,
			"password":   randomPassword(),
			"created_at": now,
			"updated_at": now,
		},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var user User
	if err := s.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&user); err != nil {
		return "", fmt.Errorf("failed to upsert guest user: %w", err)
	}
	return user.ID.Hex(), nil
}

func (s *mongoService) FindByID(ctx context.Context, id string) (*User, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("invalid user id %q: %w", id, ErrUserNotFound)
	}

	var user User
	err = s.collection.FindOne(ctx, bson.M{"_id": objectID}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &user, nil
}

func (s *mongoService) FindByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	err := s.collection.FindOne(ctx, bson.M{"email": email}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &user, nil
}

const passwordAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// randomPassword seeds the throwaway credential a guest account carries
// until the user claims it through registration.
func randomPassword() string {
	buf := make([]byte, 12)
	for i := range buf {
		buf[i] = passwordAlphabet[rand.Intn(len(passwordAlphabet))]
	}
	return string(buf)
}
