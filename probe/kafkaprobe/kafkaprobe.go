// Package kafkaprobe provides the event stream connector for probe.
package kafkaprobe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/BigKAA/svcpulse/probe"
)

const defaultDeadline = 5 * time.Second

// Connector dials the first reachable broker of a bootstrap list.
type Connector struct {
	brokers []string
	dialer  *kafka.Dialer
}

// New creates a connector for host:port bootstrap brokers.
func New(brokers []string) (*Connector, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka: no brokers")
	}
	for _, b := range brokers {
		if _, _, err := net.SplitHostPort(b); err != nil {
			return nil, fmt.Errorf("kafka broker %q: %w", b, err)
		}
	}
	return &Connector{
		brokers: brokers,
		dialer:  &kafka.Dialer{ClientID: "svcpulse-probe"},
	}, nil
}

// Brokers returns the bootstrap list.
func (c *Connector) Brokers() []string { return c.brokers }

// Kind implements probe.Connector.
func (c *Connector) Kind() probe.Kind { return probe.KindKafka }

// Connect dials the brokers in order and checks metadata on the first that
// answers.
func (c *Connector) Connect(ctx context.Context) (probe.Conn, error) {
	var errs []error
	for _, addr := range c.brokers {
		kc, err := c.dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			errs = append(errs, fmt.Errorf("kafka dial %s: %w", addr, err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		conn := &Conn{conn: kc, addr: addr}
		if err := conn.Ping(ctx); err != nil {
			_ = kc.Close()
			errs = append(errs, err)
			continue
		}
		return conn, nil
	}
	return nil, errors.Join(errs...)
}

// Conn is a live connection to one broker.
type Conn struct {
	conn *kafka.Conn
	addr string
}

// Addr returns the broker this connection is bound to.
func (c *Conn) Addr() string { return c.addr }

// Ping requests broker metadata.
func (c *Conn) Ping(ctx context.Context) error {
	_, err := c.brokerList(ctx)
	return err
}

// Close closes the connection.
func (c *Conn) Close() error { return c.conn.Close() }

// Describe reports the number of brokers in the cluster metadata.
func (c *Conn) Describe(ctx context.Context) (map[string]any, error) {
	brokers, err := c.brokerList(ctx)
	if err != nil {
		return nil, err
	}
	info := map[string]any{
		"status":  "connected",
		"broker":  c.addr,
		"brokers": len(brokers),
	}
	if ctrl, err := c.conn.Controller(); err == nil {
		info["controller"] = net.JoinHostPort(ctrl.Host, fmt.Sprint(ctrl.Port))
	}
	return info, nil
}

func (c *Conn) brokerList(ctx context.Context) ([]kafka.Broker, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultDeadline)
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("kafka %s: %w", c.addr, err)
	}
	brokers, err := c.conn.Brokers()
	if err != nil {
		return nil, fmt.Errorf("kafka brokers %s: %w", c.addr, err)
	}
	if len(brokers) == 0 {
		return nil, &probe.ClassifiedCheckError{
			Category: probe.StatusUnhealthy,
			Cause:    fmt.Errorf("kafka %s: no brokers in metadata response", c.addr),
		}
	}
	return brokers, nil
}
