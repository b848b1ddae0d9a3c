// Package amqpprobe provides the message broker connector for probe.
package amqpprobe

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/BigKAA/svcpulse/probe"
)

const dialTimeout = 3 * time.Second

// Connector dials an AMQP 0-9-1 broker.
type Connector struct {
	url string
}

// New creates a connector for an amqp:// or amqps:// URL.
func New(rawURL string) (*Connector, error) {
	if _, err := amqp.ParseURI(rawURL); err != nil {
		return nil, fmt.Errorf("parse amqp url: %w", err)
	}
	return &Connector{url: rawURL}, nil
}

// Kind implements probe.Connector.
func (c *Connector) Kind() probe.Kind { return probe.KindAMQP }

type dialResult struct {
	conn *amqp.Connection
	err  error
}

// Connect dials the broker. amqp091-go has no context support, so the dial
// runs in a goroutine and a late connection is closed when it arrives.
func (c *Connector) Connect(ctx context.Context) (probe.Conn, error) {
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := amqp.DialConfig(c.url, amqp.Config{
			Dial:       amqp.DefaultDial(dialTimeout),
			Properties: amqp.Table{"connection_name": "svcpulse-probe"},
		})
		ch <- dialResult{conn: conn, err: err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if res := <-ch; res.conn != nil {
				_ = res.conn.Close()
			}
		}()
		return nil, fmt.Errorf("amqp dial %s: %w", redact(c.url), ctx.Err())
	case res := <-ch:
		if res.err != nil {
			return nil, classifyError(res.err, redact(c.url))
		}
		return &Conn{conn: res.conn}, nil
	}
}

// Conn is a live broker connection.
type Conn struct {
	conn *amqp.Connection
}

// Ping opens and closes a channel on the connection.
func (c *Conn) Ping(ctx context.Context) error {
	if c.conn.IsClosed() {
		return fmt.Errorf("amqp: %w", amqp.ErrClosed)
	}
	errCh := make(chan error, 1)
	go func() {
		ch, err := c.conn.Channel()
		if err != nil {
			errCh <- err
			return
		}
		errCh <- ch.Close()
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("amqp channel: %w", ctx.Err())
	case err := <-errCh:
		if err != nil {
			return classifyError(err, "channel")
		}
		return nil
	}
}

// Close closes the connection.
func (c *Conn) Close() error {
	if c.conn.IsClosed() {
		return nil
	}
	return c.conn.Close()
}

// Describe reports the broker's server properties.
func (c *Conn) Describe(context.Context) (map[string]any, error) {
	info := map[string]any{"status": "connected"}
	props := c.conn.Properties
	if v, ok := props["product"].(string); ok {
		info["product"] = v
	}
	if v, ok := props["version"].(string); ok {
		info["version"] = v
	}
	return info, nil
}

// classifyError marks 403 ACCESS_REFUSED as an auth error.
func classifyError(err error, target string) error {
	msg := err.Error()
	if strings.Contains(msg, "403") || strings.Contains(msg, "ACCESS_REFUSED") {
		return &probe.ClassifiedCheckError{
			Category: probe.StatusAuthError,
			Cause:    fmt.Errorf("amqp dial %s: %w", target, err),
		}
	}
	return fmt.Errorf("amqp dial %s: %w", target, err)
}

// redact hides the password of an AMQP URL for logs and errors.
func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "amqp"
	}
	return u.Redacted()
}
