package natsx

import (
	"os"

	"github.com/nats-io/nats.go"
)

// URL returns the NATS server URL from the NATS_URL environment variable,
// falling back to nats.DefaultURL.
func URL() string {
	if u := os.Getenv("NATS_URL"); u != "" {
		return u
	}
	return nats.DefaultURL
}

// NewClient creates a new connection to a NATS server at url. An empty url
// uses URL(). Without explicit options the connection is named "broadcast"
// and compression is enabled.
func NewClient(url string, opts ...nats.Option) (*nats.Conn, error) {
	if url == "" {
		url = URL()
	}
	if len(opts) == 0 {
		opts = append(opts, nats.Name("broadcast"), nats.Compression(true))
	}
	return nats.Connect(url, opts...)
}
