// Package events announces archive changes to other services.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Event types.
const (
	TypeRevision = "revision"
	TypeDeletion = "deletion"
)

// Event describes one change to the archive.
type Event struct {
	Type             string    `json:"type"`
	Source           string    `json:"source"`
	DiscordMessageID int64     `json:"discord_message_id,string"`
	DiscordChannelID int64     `json:"discord_channel_id,string,omitempty"`
	RevisionID       int64     `json:"revision_id,omitempty"`
	EditGroupID      int64     `json:"edit_group_id,omitempty"`
	IsDeleted        bool      `json:"is_deleted"`
	At               time.Time `json:"at"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(e Event) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(Event) error { return nil }
func (Nop) Close() error        { return nil }

// NATSPublisher publishes events as JSON to <prefix>.revisions and
// <prefix>.deletions.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSPublisher connects to the NATS server at url.
func NewNATSPublisher(url, prefix string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("discord-archiver"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	if prefix == "" {
		prefix = "archive"
	}
	return &NATSPublisher{nc: nc, prefix: prefix}, nil
}

// Subject returns the subject an event of the given type goes to.
func (p *NATSPublisher) Subject(eventType string) string {
	return Subject(p.prefix, eventType)
}

func (p *NATSPublisher) Publish(e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.nc.Publish(p.Subject(e.Type), data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.nc.Drain()
}

// Subject maps an event type to its subject under prefix.
func Subject(prefix, eventType string) string {
	switch eventType {
	case TypeDeletion:
		return prefix + ".deletions"
	default:
		return prefix + ".revisions"
	}
}
