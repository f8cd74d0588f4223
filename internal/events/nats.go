package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/yorozuya-cybersecurity/yoroguard/internal/logging"
	"github.com/yorozuya-cybersecurity/yoroguard/internal/schema"
)

const (
	DefaultSubject = "yoroguard.events"

	connectTimeout = 5 * time.Second
	reconnectWait  = 2 * time.Second
	maxReconnects  = 10
	publishTimeout = 5 * time.Second
)

var errNotConnected = errors.New("nats publisher not connected")

// NATSForwarder publishes canonical events as JSON, one message per event,
// with service/type/severity headers for subject-side filtering.
type NATSForwarder struct {
	conn    *nats.Conn
	subject string
	logger  *zap.SugaredLogger
}

func NewNATSForwarder(url, subject string, logger *zap.SugaredLogger) (*NATSForwarder, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	logger = logging.OrNop(logger).With("component", "nats")
	conn, err := nats.Connect(url,
		nats.Name("yoroguard"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warnw("Disconnected from NATS", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Infow("Reconnected to NATS", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	logger.Infow("NATS forwarder initialized", "url", url, "subject", subject)
	return &NATSForwarder{conn: conn, subject: subject, logger: logger}, nil
}

func (f *NATSForwarder) Publish(ctx context.Context, e schema.Event) error {
	if f.conn == nil || !f.conn.IsConnected() {
		return errNotConnected
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	msg := nats.NewMsg(f.subject)
	msg.Data = data
	msg.Header.Set("x-event-service", e.Service)
	msg.Header.Set("x-event-type", string(e.Type))
	msg.Header.Set("x-event-severity", string(e.Severity))
	if e.ScanID != "" {
		msg.Header.Set("x-scan-id", e.ScanID)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	select {
	case <-ctx.Done():
		return fmt.Errorf("publish timeout: %w", ctx.Err())
	default:
	}
	if err := f.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	f.logger.Debugw("Event published", "service", e.Service, "subject", f.subject)
	return nil
}

// Close flushes pending messages and closes the connection.
func (f *NATSForwarder) Close() error {
	if f.conn == nil {
		return nil
	}
	err := f.conn.Drain()
	f.conn = nil
	return err
}
