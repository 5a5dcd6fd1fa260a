package attachments

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DarkMukke/backup-discord-bot/database"
	"github.com/DarkMukke/backup-discord-bot/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

type cdn struct {
	server    *httptest.Server
	hits      map[string]*atomic.Int32
	status    map[string]int
	recovered atomic.Bool
}

func newCDN(t *testing.T) *cdn {
	t.Helper()
	c := &cdn{
		hits:   map[string]*atomic.Int32{},
		status: map[string]int{"/missing": http.StatusNotFound, "/broken": http.StatusBadGateway},
	}
	for _, p := range []string{"/small.txt", "/huge.bin", "/declared-huge.bin", "/missing", "/flaky", "/pixel", "/broken"} {
		c.hits[p] = &atomic.Int32{}
	}
	c.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h, ok := c.hits[r.URL.Path]; ok {
			h.Add(1)
		}
		if code, ok := c.status[r.URL.Path]; ok {
			w.WriteHeader(code)
			return
		}
		switch r.URL.Path {
		case "/flaky":
			if !c.recovered.Load() {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.Header().Set("Content-Type", "text/plain")
			w.Write([]byte("recovered"))
		case "/small.txt":
			w.Header().Set("Content-Type", "text/plain")
			w.Write([]byte("abc"))
		case "/huge.bin", "/declared-huge.bin":
			w.Write(bytes.Repeat([]byte{'x'}, 11*1024*1024))
		case "/pixel":
			w.Header()["Content-Type"] = nil
			w.Write(pngHeader)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(c.server.Close)
	return c
}

func (c *cdn) url(path string) string { return c.server.URL + path }

func seed(t *testing.T, db *database.DB, messageID int64, atts ...models.AttachmentDescriptor) int64 {
	t.Helper()
	ctx := context.Background()
	channelID, err := db.UpsertChannel(ctx, models.ChannelRef{DiscordChannelID: 500, GuildID: 900, Name: "general"})
	require.NoError(t, err)
	rev, err := db.AppendRevision(ctx, channelID, models.ObservedMessage{
		ID:          messageID,
		AuthorName:  "alice",
		CreatedAt:   time.Now(),
		Content:     "files",
		Attachments: atts,
	})
	require.NoError(t, err)
	return rev.ID
}

func openDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(context.Background(), filepath.Join(t.TempDir(), "archive.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMaterializerStoresAndSkips(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	c := newCDN(t)

	revID := seed(t, db, 1,
		models.AttachmentDescriptor{ID: "a1", Filename: "small.txt", URL: c.url("/small.txt"), Size: 3},
		models.AttachmentDescriptor{ID: "a2", Filename: "declared.bin", URL: c.url("/declared-huge.bin"), Size: 11 * 1024 * 1024},
		models.AttachmentDescriptor{ID: "a3", Filename: "huge.bin", URL: c.url("/huge.bin")},
		models.AttachmentDescriptor{ID: "a4", Filename: "gone.png", URL: c.url("/missing"), Size: 10},
		models.AttachmentDescriptor{ID: "a5", Filename: "pixel", URL: c.url("/pixel")},
	)

	m := New(db, Options{}, nil)
	m.RunOnce(ctx)

	assert.EqualValues(t, 0, c.hits["/declared-huge.bin"].Load(), "declared oversize is never fetched")
	assert.EqualValues(t, 1, c.hits["/huge.bin"].Load(), "undeclared oversize is fetched")

	stored, err := db.StoredAttachmentsFor(ctx, []int64{revID})
	require.NoError(t, err)
	byID := map[string]models.StoredAttachmentMeta{}
	for _, s := range stored[revID] {
		byID[s.DiscordAttachmentID] = s
	}
	require.Len(t, byID, 2)

	small := byID["a1"]
	assert.EqualValues(t, 3, small.SizeBytes)
	assert.Equal(t, "text/plain", small.ContentType)

	pixel := byID["a5"]
	assert.EqualValues(t, len(pngHeader), pixel.SizeBytes)
	assert.Equal(t, "image/png", pixel.ContentType)

	full, err := db.GetStoredAttachment(ctx, small.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), full.Data)

	// Everything is either stored or permanently skipped.
	pending, err := db.PendingAttachmentRevisions(ctx, 10, time.Now())
	require.NoError(t, err)
	assert.Empty(t, pending)

	m.RunOnce(ctx)
	assert.EqualValues(t, 1, c.hits["/small.txt"].Load())
	assert.EqualValues(t, 1, c.hits["/huge.bin"].Load())
}

func TestMaterializerRetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	c := newCDN(t)

	revID := seed(t, db, 2,
		models.AttachmentDescriptor{ID: "b1", Filename: "flaky.txt", URL: c.url("/flaky")},
		models.AttachmentDescriptor{ID: "b2", Filename: "small.txt", URL: c.url("/small.txt")},
	)

	m := New(db, Options{}, nil)
	m.RunOnce(ctx)

	stored, err := db.StoredAttachmentsFor(ctx, []int64{revID})
	require.NoError(t, err)
	require.Len(t, stored[revID], 1, "one failure does not stop its sibling")

	pending, err := db.PendingAttachmentRevisions(ctx, 10, time.Now())
	require.NoError(t, err)
	require.Len(t, pending, 1)

	c.recovered.Store(true)
	m.RunOnce(ctx)
	assert.EqualValues(t, 1, c.hits["/flaky"].Load(), "retried only after the backoff")

	m.now = func() time.Time { return time.Now().Add(DefaultRetryBackoff + time.Second) }
	m.RunOnce(ctx)

	stored, err = db.StoredAttachmentsFor(ctx, []int64{revID})
	require.NoError(t, err)
	assert.Len(t, stored[revID], 2)
}

func TestMaterializerFailingRevisionsDoNotStarveNewer(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	c := newCDN(t)

	seed(t, db, 10, models.AttachmentDescriptor{ID: "d1", Filename: "a.bin", URL: c.url("/broken")})
	seed(t, db, 11, models.AttachmentDescriptor{ID: "d2", Filename: "b.bin", URL: c.url("/broken")})
	healthy := seed(t, db, 12, models.AttachmentDescriptor{ID: "d3", Filename: "small.txt", URL: c.url("/small.txt")})

	m := New(db, Options{BatchSize: 2}, nil)
	for i := 0; i < 3; i++ {
		m.RunOnce(ctx)
	}

	stored, err := db.StoredAttachmentsFor(ctx, []int64{healthy})
	require.NoError(t, err)
	assert.Len(t, stored[healthy], 1)
	assert.EqualValues(t, 2, c.hits["/broken"].Load(), "failed downloads wait for their backoff")
}

func TestMaterializerGivesUpAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	c := newCDN(t)

	seed(t, db, 20, models.AttachmentDescriptor{ID: "e1", Filename: "a.bin", URL: c.url("/broken")})

	clock := time.Now()
	m := New(db, Options{MaxAttempts: 3, RetryBackoff: time.Minute}, nil)
	m.now = func() time.Time { return clock }
	for i := 0; i < 5; i++ {
		m.RunOnce(ctx)
		clock = clock.Add(2 * time.Minute)
	}

	assert.EqualValues(t, 3, c.hits["/broken"].Load())
	pending, err := db.PendingAttachmentRevisions(ctx, 10, clock.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, pending, "exhausted attachments are skipped for good")
}

func TestMaterializerHonoursConfiguredCap(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	c := newCDN(t)

	revID := seed(t, db, 3, models.AttachmentDescriptor{ID: "c1", Filename: "small.txt", URL: c.url("/small.txt")})
	New(db, Options{MaxBytes: 2}, nil).RunOnce(ctx)

	stored, err := db.StoredAttachmentsFor(ctx, []int64{revID})
	require.NoError(t, err)
	assert.Empty(t, stored[revID])
}

func TestDecodeSummary(t *testing.T) {
	list, err := DecodeSummary(`[{"id":"1","filename":"a.png","url":"u","size":5,"contentType":"image/png"}]`)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.EqualValues(t, 5, list[0].Size)

	one, err := DecodeSummary(`{"id":"2","filename":"b","url":"u"}`)
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "2", one[0].ID)

	empty, err := DecodeSummary("  ")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = DecodeSummary(`[{"id":`)
	assert.Error(t, err)
}

func TestNewDefaults(t *testing.T) {
	m := New(nil, Options{MaxBytes: 50 * 1024 * 1024}, nil)
	assert.Equal(t, MaxBytes, m.maxBytes)
	assert.Equal(t, DefaultBatchSize, m.batchSize)
	assert.Equal(t, DefaultMaxAttempts, m.attempts)
	assert.Equal(t, DefaultRetryBackoff, m.backoff)
}
