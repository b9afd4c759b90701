package group

import (
	"context"
	"time"

	"mls_chat/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type (
	// GroupRepo keeps the per-group metadata of one client in the groups
	// collection.
	GroupRepo struct {
		collection *mongo.Collection
	}
)

func NewGroupRepo(db *mongo.Database) *GroupRepo {
	return &GroupRepo{
		collection: db.Collection("groups"),
	}
}

// EnsureIndexes makes group_id unique, which SetCommitByIfAbsent relies on.
func (r *GroupRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "group_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func byGroup(id model.GroupID) bson.M {
	return bson.M{"group_id": []byte(id)}
}

func (r *GroupRepo) CreateGroup(ctx context.Context, record *model.GroupRecord) error {
	_, err := r.collection.ReplaceOne(ctx, byGroup(record.GroupID), record, options.Replace().SetUpsert(true))
	return err
}

func (r *GroupRepo) GetGroup(ctx context.Context, id model.GroupID) (*model.GroupRecord, error) {
	var record model.GroupRecord
	err := r.collection.FindOne(ctx, byGroup(id)).Decode(&record)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return &record, nil
}

func (r *GroupRepo) DeleteGroup(ctx context.Context, id model.GroupID) error {
	_, err := r.collection.DeleteOne(ctx, byGroup(id))
	return err
}

func (r *GroupRepo) ListGroups(ctx context.Context) ([]*model.GroupRecord, error) {
	return r.find(ctx, bson.M{})
}

// SetCommitByIfAbsent only matches a record without commit_by, so the
// first proposal of a batch decides when it is committed.
func (r *GroupRepo) SetCommitByIfAbsent(ctx context.Context, id model.GroupID, at time.Time) (bool, error) {
	filter := bson.M{"group_id": []byte(id), "commit_by": nil}
	update := bson.M{
		"$set":         bson.M{"commit_by": at},
		"$setOnInsert": bson.M{"created_at": at},
	}
	res, err := r.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return res.ModifiedCount+res.UpsertedCount > 0, nil
}

func (r *GroupRepo) ClearCommitBy(ctx context.Context, id model.GroupID) error {
	_, err := r.collection.UpdateOne(ctx, byGroup(id), bson.M{"$unset": bson.M{"commit_by": ""}})
	return err
}

func (r *GroupRepo) GroupsWithCommitBy(ctx context.Context) ([]*model.GroupRecord, error) {
	return r.find(ctx, bson.M{"commit_by": bson.M{"$ne": nil}})
}

func (r *GroupRepo) SetKeyMaterialUpdatedAt(ctx context.Context, id model.GroupID, at time.Time) error {
	update := bson.M{
		"$set":         bson.M{"key_material_updated_at": at},
		"$setOnInsert": bson.M{"created_at": at},
	}
	_, err := r.collection.UpdateOne(ctx, byGroup(id), update, options.Update().SetUpsert(true))
	return err
}

func (r *GroupRepo) find(ctx context.Context, filter bson.M) ([]*model.GroupRecord, error) {
	cursor, err := r.collection.Find(ctx, filter)
	if err != nil {
		return nil, err
	}

	var res []*model.GroupRecord
	if err := cursor.All(ctx, &res); err != nil {
		return nil, err
	}
	return res, nil
}
