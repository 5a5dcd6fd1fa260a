// Package archive turns message observations into revision log writes.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/DarkMukke/backup-discord-bot/events"
	"github.com/DarkMukke/backup-discord-bot/metrics"
	"github.com/DarkMukke/backup-discord-bot/models"
)

// Store is the part of the revision store the reconciler writes to.
type Store interface {
	UpsertChannel(ctx context.Context, ref models.ChannelRef) (int64, error)
	AppendRevision(ctx context.Context, channelID int64, msg models.ObservedMessage) (*models.MessageRevision, error)
	MarkDeleted(ctx context.Context, discordMessageID int64) (int64, error)
}

// Reconciler applies observations to the revision log. Created and edited
// observations both append a new current revision; deletions flag every
// revision of the message.
type Reconciler struct {
	store     Store
	publisher events.Publisher
	logger    *slog.Logger
}

func NewReconciler(store Store, publisher events.Publisher, logger *slog.Logger) *Reconciler {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: store, publisher: publisher, logger: logger.With("module", "archive")}
}

// Reconcile applies one observation. A failed write is logged and returned;
// the observation is not retried here.
func (r *Reconciler) Reconcile(ctx context.Context, obs models.Observation) error {
	var err error
	switch obs.Kind {
	case models.ObservationCreated, models.ObservationEdited:
		err = r.observe(ctx, obs)
	case models.ObservationDeleted:
		err = r.delete(ctx, obs)
	default:
		err = fmt.Errorf("unknown observation kind %q", obs.Kind)
	}
	if err != nil {
		metrics.ReconcileErrors.WithLabelValues(string(obs.Kind)).Inc()
		r.logger.Error("archive.reconcile_failed",
			"kind", obs.Kind, "source", obs.Source, "message_id", observedID(obs), "error", err)
	}
	return err
}

func (r *Reconciler) observe(ctx context.Context, obs models.Observation) error {
	msg := obs.Message
	if msg == nil {
		return errors.New("observation has no message")
	}

	channelID, err := r.store.UpsertChannel(ctx, msg.Channel)
	if err != nil {
		return err
	}
	rev, err := r.store.AppendRevision(ctx, channelID, *msg)
	if err != nil {
		return err
	}
	metrics.RevisionsAppended.WithLabelValues(obs.Source).Inc()

	r.publish(events.Event{
		Type:             events.TypeRevision,
		Source:           obs.Source,
		DiscordMessageID: msg.ID,
		DiscordChannelID: msg.Channel.DiscordChannelID,
		RevisionID:       rev.ID,
		EditGroupID:      rev.EditGroupID,
		IsDeleted:        rev.IsDeleted,
		At:               rev.RevisionCreatedAt,
	})
	return nil
}

func (r *Reconciler) delete(ctx context.Context, obs models.Observation) error {
	n, err := r.store.MarkDeleted(ctx, obs.MessageID)
	if err != nil {
		return err
	}
	if n == 0 {
		r.logger.Debug("archive.delete_noop", "message_id", obs.MessageID)
		return nil
	}
	metrics.MessagesDeleted.Inc()

	r.publish(events.Event{
		Type:             events.TypeDeletion,
		Source:           obs.Source,
		DiscordMessageID: obs.MessageID,
		IsDeleted:        true,
		At:               time.Now().UTC(),
	})
	return nil
}

func (r *Reconciler) publish(e events.Event) {
	if err := r.publisher.Publish(e); err != nil {
		r.logger.Warn("archive.publish_failed", "type", e.Type, "message_id", e.DiscordMessageID, "error", err)
	}
}

func observedID(obs models.Observation) int64 {
	if obs.Message != nil {
		return obs.Message.ID
	}
	return obs.MessageID
}
