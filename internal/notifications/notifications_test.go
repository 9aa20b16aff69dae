package notifications_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"seatreserve/internal/notifications"
	"seatreserve/pkg/logger"
)

const (
	eventA = "9f0e6c1a-2b3d-4e5f-8a9b-0c1d2e3f4a5b"
	eventB = "1a2b3c4d-5e6f-4a8b-9c0d-1e2f3a4b5c6d"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, topic string, event notifications.Event) error {
	args := m.Called(ctx, topic, event)
	return args.Error(0)
}

func (m *mockPublisher) Close() error {
	return m.Called().Error(0)
}

// orderedPublisher records what reached the bus
type orderedPublisher struct {
	mu    sync.Mutex
	seen  []string
	block chan struct{}
}

func (p *orderedPublisher) Publish(_ context.Context, _ string, event notifications.Event) error {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, event.SeatID)
	return nil
}

func (p *orderedPublisher) Close() error { return nil }

func (p *orderedPublisher) snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.seen...)
}

func seatEvent(eventType notifications.EventType, eventID, seatID string) notifications.Event {
	return notifications.NewEvent(eventType, eventID, notifications.SeatPayload{SeatID: seatID}).WithSeat("scenario", seatID)
}

func receive(t *testing.T, sub *notifications.Subscriber) notifications.Event {
	t.Helper()
	select {
	case e := <-sub.C:
		return e
	case <-time.After(time.Second):
		t.Fatal("expected an event")
		return notifications.Event{}
	}
}

func assertEmpty(t *testing.T, sub *notifications.Subscriber) {
	t.Helper()
	select {
	case e := <-sub.C:
		t.Fatalf("unexpected event %s", e.Type)
	default:
	}
}

func TestHubDeliversOnlyToJoinedGroups(t *testing.T) {
	hub := notifications.NewHub(8)
	a := hub.Register()
	b := hub.Register()

	require.True(t, hub.Join(a.ID, eventA))
	require.True(t, hub.Join(b.ID, eventB))

	dropped := hub.Broadcast(eventA, seatEvent(notifications.SeatHeld, eventA, "S1"))
	assert.Zero(t, dropped)

	assert.Equal(t, "S1", receive(t, a).SeatID)
	assertEmpty(t, b)

	require.True(t, hub.Leave(a.ID, eventA))
	hub.Broadcast(eventA, seatEvent(notifications.SeatReleased, eventA, "S1"))
	assertEmpty(t, a)

	assert.False(t, hub.Join("unknown", eventA))
}

func TestHubBroadcastAllAndUnregister(t *testing.T) {
	hub := notifications.NewHub(8)
	a := hub.Register()
	b := hub.Register()
	assert.Equal(t, 2, hub.SubscriberCount())

	hub.BroadcastAll(notifications.NewEvent(notifications.EventDeleted, eventA, nil).ToAll())
	assert.Equal(t, notifications.EventDeleted, receive(t, a).Type)
	assert.Equal(t, notifications.EventDeleted, receive(t, b).Type)

	hub.Unregister(a.ID)
	_, open := <-a.C
	assert.False(t, open)
	assert.Equal(t, 1, hub.SubscriberCount())

	// Unregistering twice is harmless
	hub.Unregister(a.ID)
}

func TestHubDropsWhenSubscriberIsSlow(t *testing.T) {
	hub := notifications.NewHub(2)
	sub := hub.Register()
	hub.Join(sub.ID, eventA)

	dropped := 0
	for i := 0; i < 5; i++ {
		dropped += hub.Broadcast(eventA, seatEvent(notifications.SeatHeld, eventA, "S1"))
	}
	assert.Equal(t, 3, dropped)
}

func TestNotifierFansOutToHubAndBus(t *testing.T) {
	hub := notifications.NewHub(8)
	sub := hub.Register()
	hub.Join(sub.ID, eventA)

	publisher := &mockPublisher{}
	publisher.On("Publish", mock.Anything, "seat-events", mock.MatchedBy(func(e notifications.Event) bool {
		return e.Type == notifications.SeatHeld && e.SeatID == "S1"
	})).Return(nil).Once()

	notifier := notifications.NewNotifier(hub, publisher, "seat-events", logger.Discard())
	notifier.Notify(context.Background(), seatEvent(notifications.SeatHeld, eventA, "S1"))

	assert.Equal(t, "S1", receive(t, sub).SeatID)
	publisher.AssertExpectations(t)
}

func TestNotifierSwallowsBusFailures(t *testing.T) {
	hub := notifications.NewHub(8)
	sub := hub.Register()
	hub.Join(sub.ID, eventA)

	publisher := &mockPublisher{}
	publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down"))

	notifier := notifications.NewNotifier(hub, publisher, "seat-events", logger.Discard())
	assert.NotPanics(t, func() {
		notifier.Notify(context.Background(), seatEvent(notifications.SeatReleased, eventA, "S1"))
	})

	// The realtime sink is unaffected
	assert.Equal(t, notifications.SeatReleased, receive(t, sub).Type)
}

func TestAsyncPublisherPreservesOrder(t *testing.T) {
	sink := &orderedPublisher{}
	async := notifications.NewAsyncPublisher(sink, 16, time.Second, logger.Discard())

	want := []string{"S1", "S2", "S3", "S4"}
	for _, id := range want {
		require.NoError(t, async.Publish(context.Background(), "topic", seatEvent(notifications.SeatHeld, eventA, id)))
	}
	require.NoError(t, async.Close())

	assert.Equal(t, want, sink.snapshot())
	assert.ErrorIs(t, async.Publish(context.Background(), "topic", seatEvent(notifications.SeatHeld, eventA, "S5")), notifications.ErrPublisherClosed)
}

func TestAsyncPublisherNeverBlocks(t *testing.T) {
	sink := &orderedPublisher{block: make(chan struct{})}
	async := notifications.NewAsyncPublisher(sink, 1, time.Second, logger.Discard())

	var full bool
	for i := 0; i < 4; i++ {
		if err := async.Publish(context.Background(), "topic", seatEvent(notifications.SeatHeld, eventA, "S1")); errors.Is(err, notifications.ErrQueueFull) {
			full = true
		}
	}
	assert.True(t, full)

	close(sink.block)
	require.NoError(t, async.Close())
}

func TestKafkaPublisherKeysBySeat(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var e notifications.Event
		if err := json.Unmarshal(val, &e); err != nil {
			return err
		}
		if e.SeatID != "S1" || e.Type != notifications.SeatHeld {
			return errors.New("unexpected event on the wire")
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	publisher := notifications.NewKafkaPublisherWithProducer(producer, notifications.DefaultKafkaProducerConfig(), logger.Discard())

	event := seatEvent(notifications.SeatHeld, eventA, "S1")
	assert.Equal(t, "S1", event.PartitionKey())
	require.NoError(t, publisher.Publish(context.Background(), "seat-events", event))

	err := publisher.Publish(context.Background(), "seat-events", event)
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)

	require.NoError(t, publisher.Close())
}

func TestRealtimeJoinAndLeave(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := notifications.NewHub(8)
	sub := hub.Register()

	router := gin.New()
	notifications.SetupRealtimeRoutes(router.Group("/api/v1"), notifications.NewController(hub, time.Second, logger.Discard()))

	do := func(path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	rec := do("/api/v1/realtime/"+sub.ID+"/join", `{"event_id":"`+eventA+`"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{eventA}, hub.Groups(sub.ID))

	rec = do("/api/v1/realtime/"+sub.ID+"/leave", `{"event_id":"`+eventA+`"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, hub.Groups(sub.ID))

	rec = do("/api/v1/realtime/unknown/join", `{"event_id":"`+eventA+`"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do("/api/v1/realtime/"+sub.ID+"/join", `{"event_id":"not-a-uuid"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
