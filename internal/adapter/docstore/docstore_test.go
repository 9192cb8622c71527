package docstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"driftline/internal/pipeline"
)

func TestInsert_SucceedsAndDefaultsSysIngestedAt(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	defer mt.Close()

	mt.Run("insert", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		a := &Adapter{client: mt.Client, collection: mt.Coll}
		record := map[string]any{"username": "alice"}
		err := a.Insert(context.Background(), record)
		require.NoError(t, err)
		assert.Contains(t, record, "sys_ingested_at")
	})
}

func TestInsert_PreservesSuppliedSysIngestedAt(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	defer mt.Close()

	mt.Run("insert", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		a := &Adapter{client: mt.Client, collection: mt.Coll}
		record := map[string]any{"username": "alice", "sys_ingested_at": "fixed-value"}
		require.NoError(t, a.Insert(context.Background(), record))
		assert.Equal(t, "fixed-value", record["sys_ingested_at"])
	})
}

func TestInsert_EmptyRecordIsNoop(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	defer mt.Close()

	mt.Run("insert", func(mt *mtest.T) {
		a := &Adapter{client: mt.Client, collection: mt.Coll}
		require.NoError(t, a.Insert(context.Background(), map[string]any{}))
	})
}

func TestInsert_DuplicateKeyWrapsError(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	defer mt.Close()

	mt.Run("insert duplicate", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index:   0,
			Code:    11000,
			Message: "E11000 duplicate key error collection: ingested_records index: sys_ingested_at_1",
		}))

		a := &Adapter{client: mt.Client, collection: mt.Coll}
		err := a.Insert(context.Background(), map[string]any{"username": "alice", "sys_ingested_at": "dup"})
		require.Error(t, err)
		assert.True(t, pipeline.IsDuplicateKey(err))
	})
}

func TestEnsureIndexes_CreatesUniqueAndNonUniqueIndex(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	defer mt.Close()

	mt.Run("indexes", func(mt *mtest.T) {
		mt.AddMockResponses(bson.D{{Key: "ok", Value: 1}})

		a := &Adapter{client: mt.Client, collection: mt.Coll}
		require.NoError(t, a.ensureIndexes(context.Background()))
	})
}
