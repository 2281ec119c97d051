package nats

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// ControlClient asks a running shellkeeper to act on its backend.
type ControlClient struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// NewControlClient connects to url.
func NewControlClient(url string, logger *slog.Logger) (*ControlClient, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(url,
		nats.Name("shellkeeper-control"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(5),
	)
	if err != nil {
		return nil, err
	}

	return &ControlClient{
		conn:   conn,
		logger: logger.With("component", "nats-control"),
	}, nil
}

// Start requests a new supervision session and waits up to timeout for the
// answer. A refused request returns the reply alongside an error.
func (c *ControlClient) Start(reason string, timeout time.Duration) (ControlReply, error) {
	msg := ControlMessage{
		Action:    ActionStart,
		Timestamp: time.Now().Format(time.RFC3339),
		Reason:    reason,
	}

	data, err := msg.Marshal()
	if err != nil {
		return ControlReply{}, err
	}

	resp, err := c.conn.Request(SubjectControlStart, data, timeout)
	if err != nil {
		return ControlReply{}, fmt.Errorf("no answer on %s: %w", SubjectControlStart, err)
	}

	reply, err := UnmarshalReply(resp.Data)
	if err != nil {
		return ControlReply{}, fmt.Errorf("malformed reply: %w", err)
	}

	c.logger.Debug("Start request answered", "ok", reply.OK, "code", reply.Code)
	if !reply.OK {
		return reply, fmt.Errorf("start refused: %s", reply.Error)
	}
	return reply, nil
}

// Close closes the control client connection.
func (c *ControlClient) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}
