package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// RegisteredClient is a client known to the delivery service.
type RegisteredClient struct {
	ID        primitive.ObjectID `json:"-" bson:"_id,omitempty"`
	Handle    MemberHandle       `json:"handle" bson:"handle"`
	User      QualifiedID        `json:"user" bson:"user"`
	ClientID  string             `json:"client_id" bson:"client_id"`
	CreatedAt time.Time          `json:"created_at" bson:"created_at"`
}
