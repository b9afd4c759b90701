package client

import (
	"context"

	"mls_chat/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type (
	ClientRepo struct {
		collection *mongo.Collection
	}
)

func NewClientRepo(db *mongo.Database) *ClientRepo {
	return &ClientRepo{
		collection: db.Collection("clients"),
	}
}

func (r *ClientRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "handle", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "user.domain", Value: 1}, {Key: "user.id", Value: 1}}},
	})
	return err
}

func (r *ClientRepo) GetByHandle(ctx context.Context, handle model.MemberHandle) (*model.RegisteredClient, error) {
	filter := bson.M{
		"handle": []byte(handle),
	}

	var client model.RegisteredClient
	err := r.collection.FindOne(ctx, filter).Decode(&client)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return &client, nil
}

func (r *ClientRepo) ListByUser(ctx context.Context, user model.QualifiedID) ([]*model.RegisteredClient, error) {
	filter := bson.M{
		"user.id":     user.ID,
		"user.domain": user.Domain,
	}

	cursor, err := r.collection.Find(ctx, filter)
	if err != nil {
		return nil, err
	}

	var res []*model.RegisteredClient
	if err := cursor.All(ctx, &res); err != nil {
		return nil, err
	}
	return res, nil
}

func (r *ClientRepo) Create(ctx context.Context, client *model.RegisteredClient) (primitive.ObjectID, error) {
	res, err := r.collection.InsertOne(ctx, client)
	if err != nil {
		return primitive.NilObjectID, err
	}

	id := res.InsertedID.(primitive.ObjectID)
	client.ID = id
	return id, nil
}

func (r *ClientRepo) Delete(ctx context.Context, handle model.MemberHandle) error {
	_, err := r.collection.DeleteOne(ctx, bson.M{"handle": []byte(handle)})
	return err
}
