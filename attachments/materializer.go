// Package attachments copies attachment bytes referenced by revisions into the store.
package attachments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/DarkMukke/backup-discord-bot/metrics"
	"github.com/DarkMukke/backup-discord-bot/models"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/time/rate"
)

const (
	// MaxBytes is the largest payload ever stored.
	MaxBytes int64 = 10 * 1024 * 1024

	DefaultBatchSize = 50

	// A download that fails this many times for transient reasons is skipped for good.
	DefaultMaxAttempts  = 5
	DefaultRetryBackoff = 5 * time.Minute
)

// Store is the attachment side of the revision store.
type Store interface {
	PendingAttachmentRevisions(ctx context.Context, limit int, retryBefore time.Time) ([]models.PendingAttachments, error)
	HasStoredAttachment(ctx context.Context, discordAttachmentID string, messageID int64) (bool, error)
	InsertStoredAttachment(ctx context.Context, a *models.StoredAttachment) (int64, error)
	RecordAttachmentSkip(ctx context.Context, discordAttachmentID string, messageID int64, reason string) error
	RecordAttachmentFailure(ctx context.Context, discordAttachmentID string, messageID int64, at time.Time) (int, error)
}

// Options tune a Materializer. Zero values select the defaults.
type Options struct {
	BatchSize          int
	MaxBytes           int64
	DownloadsPerSecond float64
	Timeout            time.Duration
	MaxAttempts        int
	RetryBackoff       time.Duration
	Client             *http.Client
}

type Materializer struct {
	store     Store
	client    *http.Client
	limiter   *rate.Limiter
	batchSize int
	maxBytes  int64
	attempts  int
	backoff   time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

func New(store Store, opts Options, logger *slog.Logger) *Materializer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.MaxBytes <= 0 || opts.MaxBytes > MaxBytes {
		opts.MaxBytes = MaxBytes
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = DefaultRetryBackoff
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: opts.Timeout}
	}
	limit := rate.Inf
	if opts.DownloadsPerSecond > 0 {
		limit = rate.Limit(opts.DownloadsPerSecond)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Materializer{
		store:     store,
		client:    opts.Client,
		limiter:   rate.NewLimiter(limit, 1),
		batchSize: opts.BatchSize,
		maxBytes:  opts.MaxBytes,
		attempts:  opts.MaxAttempts,
		backoff:   opts.RetryBackoff,
		now:       time.Now,
		logger:    logger.With("module", "attachments"),
	}
}

// DecodeSummary parses a revision's attachment summary. Malformed JSON is
// reported and yields no attachments.
func DecodeSummary(raw string) ([]models.AttachmentDescriptor, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return nil, nil
	}
	if strings.HasPrefix(raw, "{") {
		var one models.AttachmentDescriptor
		if err := json.Unmarshal([]byte(raw), &one); err != nil {
			return nil, err
		}
		return []models.AttachmentDescriptor{one}, nil
	}
	var list []models.AttachmentDescriptor
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, err
	}
	return list, nil
}

// RunOnce processes one batch of revisions with outstanding attachments.
// Attachments are handled one at a time and independently of each other.
func (m *Materializer) RunOnce(ctx context.Context) {
	start := time.Now()
	defer func() { metrics.SweepDuration.WithLabelValues("attachments").Observe(time.Since(start).Seconds()) }()

	pending, err := m.store.PendingAttachmentRevisions(ctx, m.batchSize, m.now().Add(-m.backoff))
	if err != nil {
		m.logger.Error("attachments.list_pending_failed", "error", err)
		return
	}

	for _, p := range pending {
		descriptors, err := DecodeSummary(p.AttachmentSummary)
		if err != nil {
			m.logger.Warn("attachments.bad_summary", "message_id", p.MessageID, "error", err)
			continue
		}
		for _, att := range descriptors {
			if ctx.Err() != nil {
				return
			}
			if att.ID == "" || att.URL == "" {
				continue
			}
			if err := m.materialize(ctx, p.MessageID, att); err != nil {
				m.logger.Error("attachments.failed", "message_id", p.MessageID, "attachment_id", att.ID, "error", err)
			}
		}
	}
}

func (m *Materializer) materialize(ctx context.Context, messageID int64, att models.AttachmentDescriptor) error {
	stored, err := m.store.HasStoredAttachment(ctx, att.ID, messageID)
	if err != nil {
		return err
	}
	if stored {
		return nil
	}

	if att.Size > m.maxBytes {
		m.logger.Info("attachments.skip_large", "attachment_id", att.ID, "size", att.Size)
		return m.skip(ctx, messageID, att, models.SkipDeclaredTooLarge)
	}

	if err := m.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, att.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return m.fail(ctx, messageID, att, fmt.Errorf("failed to fetch %s: %w", att.URL, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		m.logger.Warn("attachments.fetch_status", "attachment_id", att.ID, "url", att.URL, "status", resp.StatusCode)
		switch resp.StatusCode {
		case http.StatusForbidden, http.StatusNotFound, http.StatusGone:
			return m.skip(ctx, messageID, att, models.SkipGone)
		}
		return m.fail(ctx, messageID, att, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, att.URL))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, m.maxBytes+1))
	if err != nil {
		return m.fail(ctx, messageID, att, fmt.Errorf("failed to read %s: %w", att.URL, err))
	}
	if int64(len(data)) > m.maxBytes {
		m.logger.Info("attachments.skip_downloaded_large", "attachment_id", att.ID, "declared", att.Size)
		return m.skip(ctx, messageID, att, models.SkipDownloadedTooLarge)
	}

	size := att.Size
	if size <= 0 {
		size = int64(len(data))
	}
	contentType := att.ContentType
	if contentType == "" {
		contentType = resp.Header.Get("Content-Type")
	}
	if contentType == "" {
		contentType = mimetype.Detect(data).String()
	}
	filename := att.Filename
	if filename == "" {
		filename = "file"
	}

	id, err := m.store.InsertStoredAttachment(ctx, &models.StoredAttachment{
		StoredAttachmentMeta: models.StoredAttachmentMeta{
			MessageID:           messageID,
			DiscordAttachmentID: att.ID,
			Filename:            filename,
			SizeBytes:           size,
			ContentType:         contentType,
		},
		URL:  att.URL,
		Data: data,
	})
	if err != nil {
		return err
	}
	if id != 0 {
		metrics.AttachmentsStored.Inc()
		metrics.AttachmentBytes.Add(float64(len(data)))
		m.logger.Debug("attachments.stored", "attachment_id", att.ID, "message_id", messageID, "id", id)
	}
	return nil
}

func (m *Materializer) skip(ctx context.Context, messageID int64, att models.AttachmentDescriptor, reason string) error {
	metrics.AttachmentsSkipped.WithLabelValues(reason).Inc()
	return m.store.RecordAttachmentSkip(ctx, att.ID, messageID, reason)
}

// fail counts a transient download failure. The revision is retried after the
// backoff, and the attachment is skipped once it has failed too often.
func (m *Materializer) fail(ctx context.Context, messageID int64, att models.AttachmentDescriptor, cause error) error {
	metrics.AttachmentsSkipped.WithLabelValues("transient").Inc()
	attempts, err := m.store.RecordAttachmentFailure(ctx, att.ID, messageID, m.now())
	if err != nil {
		return errors.Join(cause, err)
	}
	if attempts >= m.attempts {
		m.logger.Warn("attachments.retries_exhausted", "attachment_id", att.ID, "message_id", messageID, "attempts", attempts, "error", cause)
		return m.skip(ctx, messageID, att, models.SkipRetriesExhausted)
	}
	m.logger.Info("attachments.retry_later", "attachment_id", att.ID, "message_id", messageID, "attempts", attempts, "error", cause)
	return nil
}
