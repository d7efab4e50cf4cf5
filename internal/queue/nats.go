package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSQueue fans messages out over a core NATS subject, so every subscribed
// process sees every message.
type NATSQueue struct {
	nc      *nats.Conn
	subject string
}

// NewNATSQueue connects to NATS and publishes on subject.
func NewNATSQueue(url, subject string) (*NATSQueue, error) {
	nc, err := nats.Connect(url,
		nats.Name("facemark"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	if subject == "" {
		subject = "facemark.roster"
	}
	return &NATSQueue{nc: nc, subject: subject}, nil
}

// Publish sends msg and flushes so short-lived publishers (the CLI) do not
// exit with it still buffered.
func (q *NATSQueue) Publish(ctx context.Context, msg Message) error {
	if err := q.nc.Publish(q.subject, []byte(encode(msg))); err != nil {
		return fmt.Errorf("publish %s: %w", q.subject, err)
	}
	if _, ok := ctx.Deadline(); ok {
		return q.nc.FlushWithContext(ctx)
	}
	return q.nc.FlushTimeout(2 * time.Second)
}

// Consume subscribes to the subject until ctx is done.
func (q *NATSQueue) Consume(ctx context.Context) (<-chan Message, error) {
	in := make(chan *nats.Msg, 64)
	sub, err := q.nc.ChanSubscribe(q.subject, in)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", q.subject, err)
	}

	out := make(chan Message)
	go func() {
		defer close(out)
		defer sub.Unsubscribe()
		for {
			select {
			case m := <-in:
				select {
				case out <- decode(string(m.Data)):
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Healthy reports whether the connection is up.
func (q *NATSQueue) Healthy(context.Context) bool {
	return q != nil && q.nc != nil && q.nc.IsConnected()
}

// Close drains the connection.
func (q *NATSQueue) Close() error {
	if q == nil || q.nc == nil {
		return nil
	}
	return q.nc.Drain()
}
