package mongo_test

import (
	"context"
	"os"
	"testing"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/outbox/store"
	"github.com/xraph/outbox/store/mongo"
	"github.com/xraph/outbox/store/storetest"
)

func TestStore(t *testing.T) {
	uri := os.Getenv("OUTBOX_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("OUTBOX_TEST_MONGO_URI not set")
	}

	storetest.Run(t, func(t *testing.T) store.Store {
		ctx := context.Background()
		s, err := mongo.Connect(ctx, uri, "outbox_test")
		if err != nil {
			t.Fatalf("Connect: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		if _, err := s.Database().Collection("outbox_jobs").DeleteMany(ctx, bson.M{}); err != nil {
			t.Fatalf("reset: %v", err)
		}
		if err := s.Migrate(ctx); err != nil {
			t.Fatalf("Migrate: %v", err)
		}
		return s
	})
}
