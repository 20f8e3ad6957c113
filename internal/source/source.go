// Package source fetches node statistics from an Elasticsearch cluster over HTTP.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"

	relay "github.com/itzg/es-graphite-relay"
)

const (
	DefaultPort    = 9200
	DefaultTimeout = 30 * time.Second
)

type Config struct {
	Host     string
	Port     int
	Protocol string
	User     string
	Password string
	Timeout  time.Duration
}

// Client implements relay.StatsSource.
type Client struct {
	baseURL  string
	user     string
	password string
	http     *http.Client
}

var _ relay.StatsSource = (*Client)(nil)

func New(config Config) (*Client, error) {
	if config.Host == "" {
		return nil, errors.New("elasticsearch address is required")
	}
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	switch config.Protocol {
	case "":
		config.Protocol = "http"
	case "http", "https":
	default:
		return nil, errors.Newf("unsupported elasticsearch protocol %q", config.Protocol)
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	return &Client{
		baseURL:  fmt.Sprintf("%s://%s", config.Protocol, net.JoinHostPort(config.Host, strconv.Itoa(config.Port))),
		user:     config.User,
		password: config.Password,
		http:     &http.Client{Timeout: config.Timeout},
	}, nil
}

// ClusterName reads cluster_name from the cluster root endpoint.
func (c *Client) ClusterName(ctx context.Context) (string, error) {
	var root struct {
		ClusterName string `json:"cluster_name"`
	}
	err := c.get(ctx, "/", func(body io.Reader) error {
		return json.NewDecoder(body).Decode(&root)
	})
	if err != nil {
		return "", err
	}
	if root.ClusterName == "" {
		return "", errors.New("cluster root has no cluster_name")
	}
	return root.ClusterName, nil
}

// NodesStats returns the "nodes" member of /_nodes/stats.
func (c *Client) NodesStats(ctx context.Context) (relay.Value, error) {
	var doc relay.Value
	err := c.get(ctx, "/_nodes/stats", func(body io.Reader) error {
		var err error
		doc, err = relay.ParseValue(body)
		return err
	})
	if err != nil {
		return nil, err
	}
	obj, ok := doc.(relay.Object)
	if !ok {
		return nil, errors.New("nodes stats response is not an object")
	}
	nodes, ok := obj.Get("nodes")
	if !ok {
		return nil, errors.New("nodes stats response has no nodes")
	}
	return nodes, nil
}

func (c *Client) get(ctx context.Context, path string, decode func(io.Reader) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to build request for %s", path)
	}
	req.Header.Set("Accept", "application/json")
	if c.user != "" {
		req.SetBasicAuth(c.user, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "GET %s", path)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// drain a little of the body for the diagnostic
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Newf("GET %s: unexpected status %s: %s", path, resp.Status, snippet)
	}
	if err := decode(resp.Body); err != nil {
		return errors.Wrapf(err, "GET %s: malformed response", path)
	}
	return nil
}
