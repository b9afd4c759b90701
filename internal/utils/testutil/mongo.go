package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoEnv names the variable that points the repository tests at a
// running mongod.
const MongoEnv = "MLSCHAT_TEST_MONGO_URI"

// MongoDatabase returns a fresh database that is dropped after the test.
// The test is skipped when no server is configured.
func MongoDatabase(t *testing.T) *mongo.Database {
	t.Helper()
	uri := os.Getenv(MongoEnv)
	if uri == "" {
		t.Skipf("%s not set", MongoEnv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	require.NoError(t, client.Ping(ctx, nil))

	db := client.Database("mls_chat_test_" + uuid.NewString()[:8])
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = db.Drop(ctx)
		_ = client.Disconnect(ctx)
	})
	return db
}
