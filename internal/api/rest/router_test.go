package rest_test

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/NekoTensor/dhtshare/internal/api/rest"
	"github.com/NekoTensor/dhtshare/internal/config"
	"github.com/NekoTensor/dhtshare/internal/node"
	"github.com/NekoTensor/dhtshare/internal/storage"
	"github.com/NekoTensor/dhtshare/internal/transport"
)

// setupServer runs the REST surface over a real single node on an in-memory
// fabric.
func setupServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := &config.Config{
		Kademlia: config.KademliaConfig{
			BucketSize:        20,
			Alpha:             3,
			ReplicationFactor: 3,
			RPCTimeout:        500 * time.Millisecond,
			FailureThreshold:  5,
		},
		Record: config.RecordConfig{TTL: time.Hour},
		Schedule: config.ScheduleConfig{
			Republish:     time.Hour,
			ExpireSweep:   time.Hour,
			BucketRefresh: time.Hour,
		},
	}
	net := transport.NewMemoryNetwork()
	n, err := node.New(cfg, storage.NewMemoryStore(zap.NewNop()), net.Transport("a"), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, n.Start())
	t.Cleanup(func() {
		assert.NoError(t, n.Close())
	})

	srv := httptest.NewServer(rest.New(n, zap.NewNop()).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func putRecord(t *testing.T, srv *httptest.Server, key string, value []byte) *http.Response {
	t.Helper()
	body, err := json.Marshal(map[string]string{
		"key":   key,
		"value": base64.StdEncoding.EncodeToString(value),
	})
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+"/v1/records", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestPutThenGetRecord(t *testing.T) {
	srv := setupServer(t)

	resp := putRecord(t, srv, "greeting", []byte("hello world"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	put := decodeBody(t, resp)
	assert.Equal(t, "greeting", put["key"])
	assert.NotEmpty(t, put["hash"])

	resp, err := http.Get(srv.URL + "/v1/records/greeting")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeBody(t, resp)
	value, err := base64.StdEncoding.DecodeString(got["value"].(string))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), value)
}

func TestGetUnknownRecord(t *testing.T) {
	srv := setupServer(t)

	// A lone node with an empty table cannot reach the network.
	resp, err := http.Get(srv.URL + "/v1/records/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestPutRejectsBadPayloads(t *testing.T) {
	srv := setupServer(t)

	for name, body := range map[string]string{
		"not json":      "nope",
		"missing value": `{"key":"k"}`,
		"bad base64":    `{"key":"k","value":"%%%"}`,
	} {
		resp, err := http.Post(srv.URL+"/v1/records", "application/json", bytes.NewReader([]byte(body)))
		require.NoError(t, err, name)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, name)
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv := setupServer(t)

	resp := putRecord(t, srv, "k", []byte("v"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	sresp, err := http.Get(srv.URL + "/v1/status")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, sresp.StatusCode)
	status := decodeBody(t, sresp)
	assert.NotEmpty(t, status["id"])
	assert.Equal(t, float64(0), status["peers"])
	assert.Equal(t, float64(1), status["records"])
}
