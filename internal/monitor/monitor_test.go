package monitor

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/C1ean-dev/process/internal/events"
	"github.com/C1ean-dev/process/internal/models"
	"github.com/C1ean-dev/process/internal/queue"
	"github.com/C1ean-dev/process/internal/retry"
	"github.com/C1ean-dev/process/internal/staging"
	"github.com/C1ean-dev/process/internal/store"
)

type capturePublisher struct {
	mu   sync.Mutex
	msgs []queue.Message
}

func (c *capturePublisher) Publish(_ context.Context, msg queue.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *capturePublisher) published() []queue.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]queue.Message(nil), c.msgs...)
}

type captureEvents struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *captureEvents) Publish(ev events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *captureEvents) byType(t string) []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []events.Event
	for _, ev := range c.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	store   *store.Memory
	dirs    *staging.Dirs
	pub     *capturePublisher
	events  *captureEvents
	monitor *Monitor
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	dirs, err := staging.New(t.TempDir())
	if err != nil {
		t.Fatalf("staging.New: %v", err)
	}
	st := store.NewMemory()
	pub := &capturePublisher{}
	ev := &captureEvents{}
	ctrl := retry.NewController(st, dirs, pub, 3, nil)
	return &fixture{
		store:   st,
		dirs:    dirs,
		pub:     pub,
		events:  ev,
		monitor: New(cfg, st, dirs, pub, ctrl, ev, nil),
	}
}

func (f *fixture) seed(t *testing.T, name string, status models.Status, area staging.Area) int64 {
	t.Helper()
	ctx := context.Background()
	id, err := f.store.Create(ctx, &models.Document{
		OriginalName: name,
		StoredName:   name,
		Status:       models.StatusPending,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if status == models.StatusProcessing {
		if err := f.store.MarkProcessing(ctx, id); err != nil {
			t.Fatalf("MarkProcessing: %v", err)
		}
	}
	if area != "" {
		if err := os.WriteFile(f.dirs.Path(area, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write file: %v", err)
		}
	}
	return id
}

func TestSweepRecoversStaleProcessing(t *testing.T) {
	f := newFixture(t, Config{Staleness: time.Nanosecond, Watermark: time.Hour})
	id := f.seed(t, "stale.pdf", models.StatusProcessing, staging.AreaProcessing)
	time.Sleep(5 * time.Millisecond)

	f.monitor.Sweep(context.Background())

	doc, err := f.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if doc.Status != models.StatusPending {
		t.Fatalf("status = %s", doc.Status)
	}
	if doc.Retries != 1 {
		t.Fatalf("retries = %d", doc.Retries)
	}
	if area, _ := f.dirs.Locate("stale.pdf"); area != staging.AreaPending {
		t.Fatalf("file in %s", area)
	}
	if got := f.events.byType(events.TypeRecovered); len(got) != 1 {
		t.Fatalf("recovered events = %d", len(got))
	}
}

func TestSweepLeavesFreshProcessingAlone(t *testing.T) {
	f := newFixture(t, Config{Staleness: time.Hour, Watermark: time.Hour})
	id := f.seed(t, "fresh.pdf", models.StatusProcessing, staging.AreaProcessing)

	f.monitor.Sweep(context.Background())

	doc, _ := f.store.Get(context.Background(), id)
	if doc.Status != models.StatusProcessing {
		t.Fatalf("status = %s", doc.Status)
	}
	if doc.Retries != 0 {
		t.Fatalf("retries = %d", doc.Retries)
	}
}

func TestSweepAdoptsOrphanFile(t *testing.T) {
	f := newFixture(t, Config{Staleness: time.Hour, Watermark: time.Hour})
	if err := os.WriteFile(f.dirs.Path(staging.AreaPending, "orphan.pdf"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	f.monitor.Sweep(context.Background())

	doc, err := f.store.GetByStoredName(context.Background(), "orphan.pdf")
	if err != nil {
		t.Fatalf("orphan was not adopted: %v", err)
	}
	if doc.Status != models.StatusPending {
		t.Fatalf("status = %s", doc.Status)
	}
	if doc.LastEnqueuedAt == nil {
		t.Fatal("adopted document was not enqueued")
	}
	if got := f.events.byType(events.TypeAdopted); len(got) != 1 {
		t.Fatalf("adopted events = %d", len(got))
	}

	// A second sweep must not create a duplicate record. The fresh enqueue
	// timestamp also keeps it off the republish scan.
	f.monitor.Sweep(context.Background())
	if got := f.events.byType(events.TypeAdopted); len(got) != 1 {
		t.Fatalf("adopted events after second sweep = %d", len(got))
	}
	if n := len(f.pub.published()); n != 1 {
		t.Fatalf("published %d messages", n)
	}
}

func TestSweepIgnoresUnsupportedOrphan(t *testing.T) {
	f := newFixture(t, Config{Staleness: time.Hour, Watermark: time.Hour})
	if err := os.WriteFile(f.dirs.Path(staging.AreaPending, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	f.monitor.Sweep(context.Background())

	_, err := f.store.GetByStoredName(context.Background(), "notes.txt")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if n := len(f.pub.published()); n != 0 {
		t.Fatalf("published %d messages", n)
	}
}

func TestSweepRepublishesUnenqueuedPending(t *testing.T) {
	f := newFixture(t, Config{Staleness: time.Hour, Watermark: time.Hour})
	id := f.seed(t, "lost.pdf", models.StatusPending, staging.AreaPending)

	f.monitor.Sweep(context.Background())

	msgs := f.pub.published()
	if len(msgs) != 1 || msgs[0].TaskID != id {
		t.Fatalf("published = %+v", msgs)
	}
	doc, _ := f.store.Get(context.Background(), id)
	if doc.LastEnqueuedAt == nil {
		t.Fatal("enqueue time was not recorded")
	}

	// Now inside the watermark; the next sweep must skip it.
	f.monitor.Sweep(context.Background())
	if n := len(f.pub.published()); n != 1 {
		t.Fatalf("published %d messages after second sweep", n)
	}
}

func TestSweepRepublishesBeyondWatermark(t *testing.T) {
	f := newFixture(t, Config{Staleness: time.Hour, Watermark: time.Nanosecond})
	id := f.seed(t, "old.pdf", models.StatusPending, staging.AreaPending)
	if err := f.store.TouchEnqueued(context.Background(), id, time.Now().UTC()); err != nil {
		t.Fatalf("TouchEnqueued: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	f.monitor.Sweep(context.Background())

	if n := len(f.pub.published()); n != 1 {
		t.Fatalf("published %d messages", n)
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	f := newFixture(t, Config{Schedule: "not a cron line"})
	if err := f.monitor.Start(context.Background()); err == nil {
		t.Fatal("expected schedule parse error")
	}
}
