package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	contractsv1 "centsible/contracts/gen/events/v1"
	"centsible/contexts/deletion-consensus/dead-letter-service/adapters/memory"
	"centsible/contexts/deletion-consensus/dead-letter-service/domain/entities"
	domainerrors "centsible/contexts/deletion-consensus/dead-letter-service/domain/errors"
	"centsible/contexts/deletion-consensus/dead-letter-service/ports"
)

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	return c.now
}

type seqIDGen struct {
	next int
}

func (g *seqIDGen) NewID(_ context.Context) (string, error) {
	g.next++
	return fmt.Sprintf("entry-%d", g.next), nil
}

type failingRepo struct {
	memory.Store
}

func (*failingRepo) AppendEntry(_ context.Context, _ entities.DeadLetterEntry) error {
	return errors.New("dead letter store unavailable")
}

func testEnvelope(t *testing.T) contractsv1.Envelope {
	t.Helper()
	envelope, err := contractsv1.New("evt-1", "workflow-1", "vote-aggregator", contractsv1.TypeDeletionVote, time.Now().UTC(), contractsv1.VotePayload{
		ParticipantID: "alice",
		Decision:      contractsv1.DecisionApprove,
	})
	if err != nil {
		t.Fatalf("build envelope failed: %v", err)
	}
	return envelope
}

func TestRecorderAppendsEntryWithFailureMetadata(t *testing.T) {
	store := memory.NewStore()
	clock := &fixedClock{now: time.Date(2026, time.March, 4, 12, 0, 0, 0, time.UTC)}
	recorder := Recorder{
		Entries:   store,
		Clock:     clock,
		IDGen:     &seqIDGen{},
		Retention: 14 * 24 * time.Hour,
	}

	event := testEnvelope(t)
	firstFailedAt := clock.now.Add(-time.Minute)
	if err := recorder.Record(context.Background(), "vote-aggregator-vote-cg", event, "handler error", 5, firstFailedAt); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	entries, err := store.ListEntries(context.Background(), 10)
	if err != nil {
		t.Fatalf("list entries failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.AttemptCount != 5 {
		t.Fatalf("expected attempt count 5, got %d", entry.AttemptCount)
	}
	if !entry.FirstFailedAt.Equal(firstFailedAt) {
		t.Fatalf("expected first failed at %s, got %s", firstFailedAt, entry.FirstFailedAt)
	}
	if entry.Status != entities.StatusPending {
		t.Fatalf("expected pending status, got %s", entry.Status)
	}
	if !entry.ExpiresAt.Equal(clock.now.Add(14 * 24 * time.Hour)) {
		t.Fatalf("unexpected retention expiry %s", entry.ExpiresAt)
	}

	var original contractsv1.Envelope
	if err := json.Unmarshal(entry.OriginalEvent, &original); err != nil {
		t.Fatalf("decode original event failed: %v", err)
	}
	if original.EventID != event.EventID {
		t.Fatalf("expected original event preserved, got %s", original.EventID)
	}
}

func TestRecorderFallsBackWhenStoreFails(t *testing.T) {
	fallback := memory.NewFallbackSink(nil)
	clock := &fixedClock{now: time.Date(2026, time.March, 4, 12, 0, 0, 0, time.UTC)}
	recorder := Recorder{
		Entries:  &failingRepo{},
		Fallback: fallback,
		Clock:    clock,
		IDGen:    &seqIDGen{},
	}

	event := testEnvelope(t)
	if err := recorder.Record(context.Background(), "vote-aggregator-vote-cg", event, "handler error", 3, clock.now); err == nil {
		t.Fatalf("expected record error when store fails")
	}

	absorbed := fallback.Absorbed()
	if len(absorbed) != 1 {
		t.Fatalf("expected one absorbed event, got %d", len(absorbed))
	}
	if absorbed[0].Event.EventID != event.EventID {
		t.Fatalf("fallback lost the event: %s", absorbed[0].Event.EventID)
	}
}

func TestReprocessRepublishesOnce(t *testing.T) {
	store := memory.NewStore()
	clock := &fixedClock{now: time.Date(2026, time.March, 4, 12, 0, 0, 0, time.UTC)}
	recorder := Recorder{
		Entries: store,
		Clock:   clock,
		IDGen:   &seqIDGen{},
	}
	event := testEnvelope(t)
	if err := recorder.Record(context.Background(), "vote-aggregator-vote-cg", event, "handler error", 5, clock.now); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	var published []ports.EventEnvelope
	reprocess := ReprocessUseCase{
		Entries: store,
		Publisher: publisherFunc(func(_ context.Context, event ports.EventEnvelope) error {
			published = append(published, event)
			return nil
		}),
		Clock: clock,
	}

	entry, err := reprocess.Reprocess(context.Background(), ReprocessCommand{EntryID: "entry-1", RequestedBy: "operator-1"})
	if err != nil {
		t.Fatalf("reprocess failed: %v", err)
	}
	if entry.Status != entities.StatusReprocessed {
		t.Fatalf("expected reprocessed status, got %s", entry.Status)
	}
	if len(published) != 1 || published[0].EventID != event.EventID {
		t.Fatalf("expected original event republished once, got %d", len(published))
	}

	if _, err := reprocess.Reprocess(context.Background(), ReprocessCommand{EntryID: "entry-1"}); !errors.Is(err, domainerrors.ErrAlreadyReprocessed) {
		t.Fatalf("expected ErrAlreadyReprocessed, got %v", err)
	}
	if len(published) != 1 {
		t.Fatalf("second reprocess must not republish, got %d", len(published))
	}
}

func TestRetentionExpiryRemovesOldEntries(t *testing.T) {
	store := memory.NewStore()
	clock := &fixedClock{now: time.Date(2026, time.March, 4, 12, 0, 0, 0, time.UTC)}
	recorder := Recorder{
		Entries:   store,
		Clock:     clock,
		IDGen:     &seqIDGen{},
		Retention: time.Hour,
	}
	if err := recorder.Record(context.Background(), "cg", testEnvelope(t), "handler error", 2, clock.now); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	deleted, err := store.DeleteExpired(context.Background(), clock.now.Add(2*time.Hour), 10)
	if err != nil {
		t.Fatalf("delete expired failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected one expired entry, got %d", deleted)
	}
	if entries, _ := store.ListEntries(context.Background(), 10); len(entries) != 0 {
		t.Fatalf("expected empty store after expiry, got %d", len(entries))
	}
}

type publisherFunc func(context.Context, ports.EventEnvelope) error

func (f publisherFunc) Publish(ctx context.Context, event ports.EventEnvelope) error {
	return f(ctx, event)
}
