package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/graphshard/internal/cluster"
	"github.com/dreamware/graphshard/internal/schema"
	"github.com/dreamware/graphshard/internal/shard"
	"github.com/dreamware/graphshard/internal/shardmgr"
	"github.com/dreamware/graphshard/internal/value"
)

type fakeCoordinator struct{}

func (fakeCoordinator) Heartbeat(_ context.Context, _ shardmgr.HeartbeatRequest) (shardmgr.HeartbeatResponse, error) {
	return shardmgr.HeartbeatResponse{}, nil
}

func TestEnvDefaultPrefersEnvironment(t *testing.T) {
	os.Setenv("COORDINATOR_TEST_VAR", "from-env")
	defer os.Unsetenv("COORDINATOR_TEST_VAR")

	assert.Equal(t, "from-env", envDefault("COORDINATOR_TEST_VAR", "fallback"))
	assert.Equal(t, "fallback", envDefault("COORDINATOR_TEST_VAR_UNSET", "fallback"))
}

func TestWatermarkForReflectsHostedShardsInProgressTxns(t *testing.T) {
	m := shardmgr.New(1, cluster.NodeInfo{ID: "n1"}, fakeCoordinator{}, 100*time.Millisecond, 200*time.Millisecond)
	s := shard.New(shard.Config{PrimaryLabel: "Person", MinPK: value.Int(0), HasMaxPK: false})
	s.SetPKSchema([]schema.SchemaProperty{{Name: "id", Type: schema.TypeInt}})
	m.AssignShard(s)

	watermark := watermarkFor(m)
	_, oldest := watermark()
	assert.Equal(t, ^uint64(0), uint64(oldest), "no in-progress transactions yet, so the watermark allows reclaiming everything")

	s.RegisterTxn(5)
	defer s.UnregisterTxn(5)

	snap, oldest2 := watermark()
	assert.Equal(t, uint64(5), uint64(oldest2))
	_, inProgress := snap.InProgress[5]
	assert.True(t, inProgress)
}

func TestHandleInfoListsHostedShards(t *testing.T) {
	m := shardmgr.New(1, cluster.NodeInfo{ID: "n1"}, fakeCoordinator{}, 100*time.Millisecond, 200*time.Millisecond)
	s := shard.New(shard.Config{PrimaryLabel: "Person", MinPK: value.Int(0), HasMaxPK: false})
	m.AssignShard(s)

	rec := httptest.NewRecorder()
	handleInfo(m, rec)

	var out []struct {
		ID    string `json:"id"`
		Label string `json:"primary_label"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	require.Len(t, out, 1)
	assert.Equal(t, "Person", out[0].Label)
}

func TestHealthEndpointReturnsOK(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
