package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/ashita-ai/musubi/internal/storage"
)

// Broker fans out Postgres LISTEN/NOTIFY messages to SSE subscribers.
// It runs a background goroutine that calls db.WaitForNotification in a loop
// and sends each payload to the subscribers of the payload's organization.
// Tenants never see each other's events.
type Broker struct {
	db     *storage.DB
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[chan []byte]uuid.UUID
}

// NewBroker creates a new SSE broker. Call Start to begin listening.
func NewBroker(db *storage.DB, logger *slog.Logger) *Broker {
	return &Broker{
		db:          db,
		logger:      logger,
		subscribers: make(map[chan []byte]uuid.UUID),
	}
}

// Start begins listening on the proposal and shift channels.
// It blocks, so call it in a goroutine. Returns when ctx is cancelled.
func (b *Broker) Start(ctx context.Context) {
	if err := b.db.Listen(ctx, storage.ChannelProposals); err != nil {
		b.logger.Error("broker: listen proposals", "error", err)
		return
	}
	if err := b.db.Listen(ctx, storage.ChannelShifts); err != nil {
		b.logger.Error("broker: listen shifts", "error", err)
		return
	}

	b.logger.Info("broker: listening for notifications",
		"channels", []string{storage.ChannelProposals, storage.ChannelShifts})

	for {
		channel, payload, err := b.db.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return // Shutting down.
			}
			b.logger.Warn("broker: notification error, retrying", "error", err)
			continue
		}

		orgID, ok := orgFromPayload(payload)
		if !ok {
			b.logger.Warn("broker: dropping notification without org_id", "channel", channel)
			continue
		}
		b.broadcast(orgID, formatSSE(channel, payload))
	}
}

// Subscribe returns a channel that receives SSE-formatted events for one
// organization. The caller must call Unsubscribe when done.
func (b *Broker) Subscribe(orgID uuid.UUID) chan []byte {
	ch := make(chan []byte, 64) // Buffer to avoid blocking the broadcast loop.
	b.mu.Lock()
	b.subscribers[ch] = orgID
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (b *Broker) Unsubscribe(ch chan []byte) {
	b.mu.Lock()
	delete(b.subscribers, ch)
	b.mu.Unlock()
	close(ch)
}

// broadcast sends an event to the organization's subscribers. Slow
// subscribers with a full buffer are skipped (their event is dropped) to
// prevent one slow client from blocking all others.
func (b *Broker) broadcast(orgID uuid.UUID, event []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch, subOrg := range b.subscribers {
		if subOrg != orgID {
			continue
		}
		select {
		case ch <- event:
		default:
			// Subscriber buffer full; drop this event for them.
		}
	}
}

// orgFromPayload extracts the org_id field every musubi notification
// payload carries. A pointer distinguishes a missing field from the nil-UUID
// default organization, which is a valid tenant.
func orgFromPayload(payload string) (uuid.UUID, bool) {
	var envelope struct {
		OrgID *uuid.UUID `json:"org_id"`
	}
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil || envelope.OrgID == nil {
		return uuid.Nil, false
	}
	return *envelope.OrgID, true
}

// formatSSE formats a notification as a Server-Sent Events message.
func formatSSE(eventType, data string) []byte {
	// SSE format: "event: <type>\ndata: <payload>\n\n"
	return []byte("event: " + eventType + "\ndata: " + data + "\n\n")
}
