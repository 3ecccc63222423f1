package natsx

import (
	"time"

	"github.com/nats-io/nats.go"

	"github.com/michaeljohneduave/hugin-gateway/tools/errs"
)

// Client wraps the shared NATS connection.
type Client struct {
	nc *nats.Conn
}

func Connect(url string) (*Client, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, errs.WrapMsg(err, "connect nats")
	}
	return &Client{nc: nc}, nil
}

func (c *Client) Conn() *nats.Conn { return c.nc }

func (c *Client) Close() {
	if c.nc != nil {
		c.nc.Close()
	}
}
