// Package notify publishes completed conversations to NATS so other services
// can follow the feed without polling.
package notify

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/xiaot623/agentmatch/internal/domain"
)

// DefaultSubject is the subject feed items are published on.
const DefaultSubject = "agentmatch.feed.completed"

// NATSConfig holds NATS connection configuration.
type NATSConfig struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// Subject defaults to DefaultSubject.
	Subject string

	// Name is the client name for identification.
	Name string

	ReconnectWait  time.Duration
	MaxReconnects  int // -1 = unlimited
	ConnectTimeout time.Duration
}

// DefaultNATSConfig returns configuration for url with reconnects enabled.
func DefaultNATSConfig(url string) NATSConfig {
	return NATSConfig{
		URL:            url,
		Subject:        DefaultSubject,
		Name:           "agentmatch",
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1,
		ConnectTimeout: 5 * time.Second,
	}
}

// NATSPublisher publishes each completed conversation as a JSON feed item.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

// NewNATSPublisher connects to NATS.
func NewNATSPublisher(cfg NATSConfig) (*NATSPublisher, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}

	opts := []nats.Option{
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
	}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return NewNATSPublisherFromConn(conn, cfg.Subject), nil
}

// NewNATSPublisherFromConn creates a publisher on an existing connection.
func NewNATSPublisherFromConn(conn *nats.Conn, subject string) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSPublisher{conn: conn, subject: subject}
}

// Subject returns the subject feed items are published on.
func (p *NATSPublisher) Subject() string {
	return p.subject
}

// Broadcast publishes entry. Failures are logged; the conversation outcome is
// already stored.
func (p *NATSPublisher) Broadcast(entry *domain.FeedEntry) {
	data, err := json.Marshal(domain.NewFeedItem(entry))
	if err != nil {
		log.Printf("WARN: failed to marshal feed item %s: %v", entry.ConvoID, err)
		return
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		log.Printf("WARN: failed to publish feed item %s: %v", entry.ConvoID, err)
	}
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	if p.conn.IsClosed() {
		return nil
	}
	if err := p.conn.Flush(); err != nil {
		log.Printf("WARN: nats flush: %v", err)
	}
	p.conn.Close()
	return nil
}
