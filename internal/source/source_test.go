package source

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	relay "github.com/itzg/es-graphite-relay"
)

func newTestClient(t *testing.T, handler http.Handler, user, password string) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	host, port, err := net.SplitHostPort(server.Listener.Addr().String())
	require.NoError(t, err)
	portNum, err := strconv.Atoi(port)
	require.NoError(t, err)

	client, err := New(Config{Host: host, Port: portNum, User: user, Password: password})
	require.NoError(t, err)
	return client
}

func TestClusterName(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/", r.URL.Path)
		w.Write([]byte(`{"name":"n1","cluster_name":"cluster1","version":{"number":"7.10.2"}}`))
	}), "", "")

	name, err := client.ClusterName(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cluster1", name)
}

func TestClusterName_Missing(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}), "", "")

	_, err := client.ClusterName(context.Background())
	assert.Error(t, err)
}

func TestNodesStats(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/_nodes/stats", r.URL.Path)
		user, password, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "elastic", user)
		assert.Equal(t, "changeme", password)
		w.Write([]byte(`{"cluster_name":"c","nodes":{"abc":{"name":"node1","jvm":{"heap":1}}}}`))
	}), "elastic", "changeme")

	nodes, err := client.NodesStats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, relay.Object{
		{Key: "abc", Value: relay.Object{
			{Key: "name", Value: relay.String("node1")},
			{Key: "jvm", Value: relay.Object{{Key: "heap", Value: relay.Number("1")}}},
		}},
	}, nodes)
}

func TestNodesStats_Non2xx(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "cluster unavailable", http.StatusServiceUnavailable)
	}), "", "")

	_, err := client.NodesStats(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestNodesStats_Malformed(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"nodes": {`))
	}), "", "")

	_, err := client.NodesStats(context.Background())
	assert.Error(t, err)
}

func TestNodesStats_NoNodes(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"cluster_name":"c"}`))
	}), "", "")

	_, err := client.NodesStats(context.Background())
	assert.Error(t, err)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{Host: "es", Protocol: "ftp"})
	assert.Error(t, err)

	client, err := New(Config{Host: "es"})
	require.NoError(t, err)
	assert.Equal(t, "http://es:9200", client.baseURL)
}
