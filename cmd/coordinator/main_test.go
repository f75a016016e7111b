package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/graphshard/internal/cluster"
	"github.com/dreamware/graphshard/internal/coordinator"
	"github.com/dreamware/graphshard/internal/shardmap"
	"github.com/dreamware/graphshard/internal/shardmgr"
)

func TestEnvDefaultPrefersEnvironment(t *testing.T) {
	os.Setenv("SHARDNODE_TEST_VAR", "from-env")
	defer os.Unsetenv("SHARDNODE_TEST_VAR")

	assert.Equal(t, "from-env", envDefault("SHARDNODE_TEST_VAR", "fallback"))
	assert.Equal(t, "fallback", envDefault("SHARDNODE_TEST_VAR_UNSET", "fallback"))
}

func TestHandleHeartbeatBootstrapsAndResponds(t *testing.T) {
	registry := coordinator.New(shardmap.New(), coordinator.Config{PrimaryLabel: "Person"})

	body, err := json.Marshal(shardmgr.HeartbeatRequest{Address: nodeInfo("n1", "127.0.0.1:7000")})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/heartbeat", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handleHeartbeat(registry, rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp shardmgr.HeartbeatResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.NewShardAssignments, 1)
	assert.Equal(t, "Person", resp.NewShardAssignments[0].PrimaryLabel)
}

func TestHandleHeartbeatRejectsMalformedBody(t *testing.T) {
	registry := coordinator.New(shardmap.New(), coordinator.Config{})
	req := httptest.NewRequest(http.MethodPost, "/heartbeat", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	handleHeartbeat(registry, rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleShardsListsLabelsThenEntries(t *testing.T) {
	registry := coordinator.New(shardmap.New(), coordinator.Config{PrimaryLabel: "Person"})
	registry.Heartbeat(shardmgr.HeartbeatRequest{Address: nodeInfo("n1", "127.0.0.1:7000")})

	req := httptest.NewRequest(http.MethodGet, "/shards", nil)
	rec := httptest.NewRecorder()
	handleShards(registry, rec, req)
	var labels []string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&labels))
	assert.Empty(t, labels, "the bootstrap assignment is returned to the node, not yet confirmed into the shard map")

	req = httptest.NewRequest(http.MethodGet, "/shards?label=Person", nil)
	rec = httptest.NewRecorder()
	handleShards(registry, rec, req)
	var entries []shardmap.RangeInfo
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&entries))
	assert.Empty(t, entries)
}

func nodeInfo(id, addr string) cluster.NodeInfo {
	return cluster.NodeInfo{ID: id, Addr: addr}
}
