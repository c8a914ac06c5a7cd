package audit

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brickvault/internal/platform/logger"
	"brickvault/pkg/requestcontext"
)

func TestPublisherStampsEvents(t *testing.T) {
	p := NewPublisher(4, logger.New())

	requestTime := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), requestTime)
	ctx = requestcontext.WithRequestID(ctx, "req-123")

	p.Emit(ctx, Event{
		Actor:   common.HexToAddress("0xa000000000000000000000000000000000000001"),
		Action:  ActionRentDeposited,
		Subject: "0x1000000000000000000000000000000000000001",
	})

	select {
	case event := <-p.Inbox():
		assert.Equal(t, requestTime, event.Timestamp)
		assert.Equal(t, "req-123", event.RequestID)
	default:
		t.Fatal("expected a queued event")
	}
}

func TestPublisherDropsWhenFull(t *testing.T) {
	p := NewPublisher(1, logger.New())
	ctx := context.Background()

	p.Emit(ctx, Event{Action: ActionRentDeposited, Subject: "a"})
	p.Emit(ctx, Event{Action: ActionRentClaimed, Subject: "b"}) // dropped, never blocks

	first := <-p.Inbox()
	assert.Equal(t, ActionRentDeposited, first.Action)
	select {
	case event := <-p.Inbox():
		t.Fatalf("expected second event to be dropped, got %s", event.Action)
	default:
	}
}

func TestWorkerPersistsEvents(t *testing.T) {
	p := NewPublisher(8, logger.New())
	store := NewMemoryStore()
	worker := NewWorker(store, p.Inbox(), logger.New())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = worker.Run(ctx)
		close(done)
	}()

	p.Emit(ctx, Event{Action: ActionTierChanged, Subject: "acct-1"})
	p.Emit(ctx, Event{Action: ActionVoteCast, Subject: "proposal:1"})

	require.Eventually(t, func() bool {
		return len(store.All()) == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	events, err := store.ListBySubject(context.Background(), "proposal:1", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ActionVoteCast, events[0].Action)
}

func TestListBySubjectNewestFirst(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i, action := range []string{ActionProposalCreated, ActionVoteCast, ActionProposalQueued} {
		err := store.Append(ctx, Event{
			Timestamp: time.Date(2026, 3, 1, 12, i, 0, 0, time.UTC),
			Action:    action,
			Subject:   "proposal:7",
		})
		require.NoError(t, err)
	}

	events, err := store.ListBySubject(ctx, "proposal:7", 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, ActionProposalQueued, events[0].Action)
	assert.Equal(t, ActionVoteCast, events[1].Action)
}
