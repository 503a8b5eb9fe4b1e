package events

import (
	"context"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type fakeChannel struct {
	closed    bool
	published []amqp.Publishing
}

func (c *fakeChannel) ExchangeDeclare(string, string, bool, bool, bool, bool, amqp.Table) error {
	return nil
}

func (c *fakeChannel) PublishWithContext(_ context.Context, _, _ string, _, _ bool, msg amqp.Publishing) error {
	c.published = append(c.published, msg)
	return nil
}

func (c *fakeChannel) IsClosed() bool { return c.closed }
func (c *fakeChannel) Close() error   { c.closed = true; return nil }

type fakeConn struct {
	ch     *fakeChannel
	closed bool
	closes int
}

func (c *fakeConn) openChannel() (amqpChannel, error) {
	c.ch = &fakeChannel{}
	return c.ch, nil
}

func (c *fakeConn) IsClosed() bool { return c.closed }
func (c *fakeConn) Close() error {
	c.closes++
	c.closed = true
	return nil
}

func TestAMQPPublisherClosesLiveConnectionWhenChannelDies(t *testing.T) {
	var conns []*fakeConn
	p, err := newAMQPPublisher("", time.Second, func() (amqpConn, error) {
		c := &fakeConn{}
		conns = append(conns, c)
		return c, nil
	})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	if p.exchange != "portal.events" {
		t.Fatalf("expected default exchange, got %q", p.exchange)
	}

	conns[0].ch.closed = true
	if err := p.Publish(context.Background(), New(TypeApplicantRegistered, map[string]string{"user_id": "u-1"})); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(conns) != 2 {
		t.Fatalf("expected a redial, got %d dials", len(conns))
	}
	if conns[0].closes != 1 {
		t.Fatalf("stale connection must be closed once, got %d", conns[0].closes)
	}
	if got := conns[1].ch.published; len(got) != 1 || got[0].Type != TypeApplicantRegistered {
		t.Fatalf("expected event on the new channel, got %+v", got)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !conns[1].closed || !conns[1].ch.closed {
		t.Fatalf("close must release the current connection and channel")
	}
}
