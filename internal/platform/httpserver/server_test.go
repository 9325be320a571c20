package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	contractsv1 "centsible/contracts/gen/events/v1"
	deadletterservice "centsible/contexts/deletion-consensus/dead-letter-service"
	dlqhttp "centsible/contexts/deletion-consensus/dead-letter-service/transport/http"
	workflowtracker "centsible/contexts/deletion-consensus/workflow-tracker"
	trackerentities "centsible/contexts/deletion-consensus/workflow-tracker/domain/entities"
	trackerhttp "centsible/contexts/deletion-consensus/workflow-tracker/transport/http"
)

type recordingPublisher struct {
	published []contractsv1.Envelope
}

func (p *recordingPublisher) Publish(_ context.Context, event contractsv1.Envelope) error {
	p.published = append(p.published, event)
	return nil
}

type testFixture struct {
	server      *Server
	tracker     workflowtracker.Module
	deadLetters deadletterservice.Module
	publisher   *recordingPublisher
}

func newTestFixture() testFixture {
	publisher := &recordingPublisher{}
	tracker := workflowtracker.NewInMemoryModule(nil, slog.Default())
	deadLetters := deadletterservice.NewInMemoryModule(publisher, slog.Default())
	return testFixture{
		server:      New(tracker, deadLetters, slog.Default(), ":0"),
		tracker:     tracker,
		deadLetters: deadLetters,
		publisher:   publisher,
	}
}

func TestGetWorkflowProgressNotFound(t *testing.T) {
	fixture := newTestFixture()
	req := httptest.NewRequest(http.MethodGet, "/workflows/wf-missing", nil)

	rr := httptest.NewRecorder()
	fixture.server.mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestGetWorkflowProgressReturnsProjection(t *testing.T) {
	fixture := newTestFixture()
	at := time.Date(2026, time.March, 4, 12, 0, 0, 0, time.UTC)

	progress := trackerentities.NewWorkflowProgress("wf-1")
	progress.ApplyRequested("target-1", 2, at)
	progress.ApplyVote("alice", at.Add(time.Minute))
	progress.Version = 1
	if err := fixture.tracker.Store.SaveProgress(context.Background(), progress); err != nil {
		t.Fatalf("seed progress failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/workflows/wf-1", nil)
	rr := httptest.NewRecorder()
	fixture.server.mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	var resp trackerhttp.WorkflowProgressResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response failed: %v", err)
	}
	if resp.CorrelationID != "wf-1" {
		t.Fatalf("unexpected correlation id %q", resp.CorrelationID)
	}
	if resp.Status != "in_progress" || resp.CurrentPhase != "voting" {
		t.Fatalf("unexpected status %q phase %q", resp.Status, resp.CurrentPhase)
	}
	if resp.ProgressPercent != 45 {
		t.Fatalf("expected 45 percent after one of two votes, got %d", resp.ProgressPercent)
	}
	if !resp.Cancellable {
		t.Fatalf("expected workflow to remain cancellable while voting")
	}
}

func TestListDeadLettersEmpty(t *testing.T) {
	fixture := newTestFixture()
	req := httptest.NewRequest(http.MethodGet, "/ops/dead-letters", nil)

	rr := httptest.NewRecorder()
	fixture.server.mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	var resp dlqhttp.ListDeadLettersResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response failed: %v", err)
	}
	if len(resp.Entries) != 0 {
		t.Fatalf("expected empty list, got %d entries", len(resp.Entries))
	}
}

func TestListDeadLettersRejectsBadLimit(t *testing.T) {
	fixture := newTestFixture()
	req := httptest.NewRequest(http.MethodGet, "/ops/dead-letters?limit=abc", nil)

	rr := httptest.NewRecorder()
	fixture.server.mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestReprocessDeadLetterNotFound(t *testing.T) {
	fixture := newTestFixture()
	req := httptest.NewRequest(http.MethodPost, "/ops/dead-letters/missing/reprocess", nil)

	rr := httptest.NewRecorder()
	fixture.server.mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestReprocessDeadLetterRepublishesAndConflictsOnRepeat(t *testing.T) {
	fixture := newTestFixture()

	event, err := contractsv1.New("evt-1", "wf-1", "vote-aggregator", contractsv1.TypeDeletionVote, time.Now().UTC(), contractsv1.VotePayload{
		ParticipantID: "alice",
		Decision:      contractsv1.DecisionApprove,
	})
	if err != nil {
		t.Fatalf("build envelope failed: %v", err)
	}
	if err := fixture.deadLetters.Recorder.Record(context.Background(), "vote-aggregator-vote-cg", event, "handler error", 5, time.Now().UTC()); err != nil {
		t.Fatalf("record dead letter failed: %v", err)
	}

	entries, err := fixture.deadLetters.Store.ListEntries(context.Background(), 10)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one recorded entry, got %d err=%v", len(entries), err)
	}
	entryID := entries[0].EntryID

	req := httptest.NewRequest(http.MethodPost, "/ops/dead-letters/"+entryID+"/reprocess", nil)
	rr := httptest.NewRecorder()
	fixture.server.mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if len(fixture.publisher.published) != 1 || fixture.publisher.published[0].EventID != "evt-1" {
		t.Fatalf("expected original event republished once, got %d", len(fixture.publisher.published))
	}

	rr = httptest.NewRecorder()
	fixture.server.mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/ops/dead-letters/"+entryID+"/reprocess", nil))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 on repeat reprocess, got %d body=%s", rr.Code, rr.Body.String())
	}
	if len(fixture.publisher.published) != 1 {
		t.Fatalf("repeat reprocess must not republish, got %d", len(fixture.publisher.published))
	}
}
