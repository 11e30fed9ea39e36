package memory

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/figures/internal/domain"
)

func TestOutboxRepository_EnqueueAndPull(t *testing.T) {
	repo := NewOutboxRepository()

	msg := domain.OutboxMessage{
		AggregateType: "reservation",
		AggregateID:   "cart-1",
		EventType:     "ReservationCommitted",
		Payload:       []byte(`{"total":"1520.5"}`),
	}

	saved, err := repo.Enqueue(msg)
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if saved.ID == "" {
		t.Fatal("expected generated id")
	}

	pending, err := repo.PullPending(10)
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending message, got %d", len(pending))
	}
	if pending[0].ID != saved.ID {
		t.Fatalf("expected same message id, got %s", pending[0].ID)
	}
}

func TestOutboxRepository_PullPendingKeepsEnqueueOrder(t *testing.T) {
	repo := NewOutboxRepository()

	for i := 0; i < 5; i++ {
		if _, err := repo.Enqueue(domain.OutboxMessage{ID: fmt.Sprintf("msg-%d", i)}); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}

	pending, err := repo.PullPending(3)
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(pending))
	}
	for i, msg := range pending {
		if want := fmt.Sprintf("msg-%d", i); msg.ID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, msg.ID)
		}
	}
}

func TestOutboxRepository_EnqueueDuplicateID(t *testing.T) {
	repo := NewOutboxRepository()

	if _, err := repo.Enqueue(domain.OutboxMessage{ID: "dup"}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if _, err := repo.Enqueue(domain.OutboxMessage{ID: "dup"}); !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
}

func TestOutboxRepository_MarkSentAndFailed(t *testing.T) {
	repo := NewOutboxRepository()

	sent, err := repo.Enqueue(domain.OutboxMessage{AggregateType: "reservation"})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	failed, err := repo.Enqueue(domain.OutboxMessage{AggregateType: "reservation"})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	if err := repo.MarkSent(sent.ID); err != nil {
		t.Fatalf("mark sent failed: %v", err)
	}
	if err := repo.MarkFailed(failed.ID); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := repo.MarkFailed("missing"); !errors.Is(err, domain.ErrOutboxPublish) {
		t.Fatalf("expected ErrOutboxPublish for missing record, got %v", err)
	}

	if pending := repo.AllPending(); len(pending) != 0 {
		t.Fatalf("expected empty backlog, got %d", len(pending))
	}
}

func TestOutboxRepository_Stats(t *testing.T) {
	repo := NewOutboxRepository()

	stats, err := repo.Stats()
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.PendingCount != 0 || !stats.OldestPendingAt.IsZero() {
		t.Fatalf("expected empty stats, got %+v", stats)
	}

	first, _ := repo.Enqueue(domain.OutboxMessage{ID: "first"})
	if _, err := repo.Enqueue(domain.OutboxMessage{ID: "second"}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if err := repo.MarkSent(first.ID); err != nil {
		t.Fatalf("mark sent failed: %v", err)
	}

	stats, err = repo.Stats()
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.PendingCount != 1 {
		t.Fatalf("expected 1 pending, got %d", stats.PendingCount)
	}
	if stats.OldestPendingAt.IsZero() {
		t.Fatal("expected oldest pending timestamp")
	}
}

func TestOutboxRepository_DeleteSentBefore(t *testing.T) {
	repo := NewOutboxRepository()

	for i := 0; i < 3; i++ {
		msg, err := repo.Enqueue(domain.OutboxMessage{ID: fmt.Sprintf("sent-%d", i)})
		if err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
		if err := repo.MarkSent(msg.ID); err != nil {
			t.Fatalf("mark sent failed: %v", err)
		}
	}
	if _, err := repo.Enqueue(domain.OutboxMessage{ID: "pending"}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	failed, _ := repo.Enqueue(domain.OutboxMessage{ID: "failed"})
	if err := repo.MarkFailed(failed.ID); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	if deleted, err := repo.DeleteSentBefore(time.Now().Add(-time.Hour), 10); err != nil || deleted != 0 {
		t.Fatalf("expected nothing older than an hour ago, got deleted=%d err=%v", deleted, err)
	}

	cutoff := time.Now().UTC().Add(time.Second)
	deleted, err := repo.DeleteSentBefore(cutoff, 2)
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected batch of 2, got %d", deleted)
	}
	if deleted, _ = repo.DeleteSentBefore(cutoff, 2); deleted != 1 {
		t.Fatalf("expected remaining 1, got %d", deleted)
	}

	if len(repo.records) != 2 {
		t.Fatalf("pending and failed records must stay, got %d records", len(repo.records))
	}
	if pending := repo.AllPending(); len(pending) != 1 || pending[0].ID != "pending" {
		t.Fatalf("unexpected backlog: %+v", pending)
	}
}
