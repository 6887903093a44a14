package consumer

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rdmaulana/fcm-notification-service/internal/models"
	"github.com/rdmaulana/fcm-notification-service/internal/repository"
	"github.com/rdmaulana/fcm-notification-service/pkg/logger"
	"github.com/rdmaulana/fcm-notification-service/pkg/metrics"
	"github.com/streadway/amqp"
)

// journal records the order in which the pipeline touched its collaborators.
type journal struct {
	mu    sync.Mutex
	steps []string
}

func (j *journal) add(step string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.steps = append(j.steps, step)
}

func (j *journal) all() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.steps...)
}

type fakeAck struct {
	j        *journal
	acked    int
	rejected int
	requeue  bool
	ackErr   error
}

func (a *fakeAck) Ack(uint64, bool) error {
	a.j.add("ack")
	a.acked++
	return a.ackErr
}

func (a *fakeAck) Nack(_ uint64, _ bool, requeue bool) error {
	a.j.add("nack")
	a.rejected++
	a.requeue = requeue
	return nil
}

func (a *fakeAck) Reject(_ uint64, requeue bool) error {
	a.j.add("reject")
	a.rejected++
	a.requeue = requeue
	return nil
}

type fakeGateway struct {
	j       *journal
	outcome models.DeliveryOutcome
	got     []*models.NotificationRequest
}

func (g *fakeGateway) Send(_ context.Context, req *models.NotificationRequest) models.DeliveryOutcome {
	g.j.add("send")
	g.got = append(g.got, req)
	return g.outcome
}

type fakeStore struct {
	j       *journal
	inner   DeliveryRecorder
	err     error
	panicky bool
}

func (s *fakeStore) RecordDelivery(ctx context.Context, identifier string, at time.Time) (repository.RecordResult, error) {
	s.j.add("record")
	if s.panicky {
		panic("nil pool")
	}
	if s.err != nil {
		return 0, s.err
	}
	return s.inner.RecordDelivery(ctx, identifier, at)
}

type fakeAnnouncer struct {
	j      *journal
	events []models.CompletionEvent
	err    error
}

func (a *fakeAnnouncer) Publish(_ context.Context, identifier string, at time.Time) error {
	a.j.add("publish")
	if a.err != nil {
		return a.err
	}
	a.events = append(a.events, models.NewCompletionEvent(identifier, at))
	return nil
}

type harness struct {
	j         *journal
	gateway   *fakeGateway
	store     *fakeStore
	db        *repository.DeliveryStore
	announcer *fakeAnnouncer
	pipeline  *Pipeline
	logs      *bytes.Buffer
	clock     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db, err := repository.OpenDatabase(repository.DriverSQLite, ":memory:", repository.DatabaseOptions{})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	store, err := repository.NewDeliveryStore(db)
	if err != nil {
		t.Fatalf("delivery store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	j := &journal{}
	h := &harness{
		j:         j,
		gateway:   &fakeGateway{j: j, outcome: models.Delivered("projects/demo/messages/1")},
		store:     &fakeStore{j: j, inner: store},
		db:        store,
		announcer: &fakeAnnouncer{j: j},
		logs:      &bytes.Buffer{},
		clock:     time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC),
	}
	logr := logger.New(logger.Options{Level: "debug", Format: "json", Output: h.logs})
	h.pipeline = NewPipeline(h.gateway, h.store, h.announcer, metrics.New(), logr)
	h.pipeline.now = func() time.Time { return h.clock }
	return h
}

func (h *harness) delivery(body string) (amqp.Delivery, *fakeAck) {
	ack := &fakeAck{j: h.j}
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte(body)}, ack
}

const validBody = `{"identifier":"abc-1","type":"chat","deviceId":"tok123","text":"hi"}`

func assertSteps(t *testing.T, got []string, want ...string) {
	t.Helper()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("steps = %v, want %v", got, want)
	}
}

func TestHandleEndToEnd(t *testing.T) {
	h := newHarness(t)
	msg, ack := h.delivery(validBody)

	stage := h.pipeline.Handle(context.Background(), msg)
	if stage != StagePublished {
		t.Fatalf("stage = %s, want published", stage)
	}
	assertSteps(t, h.j.all(), "ack", "send", "record", "publish")
	if ack.acked != 1 || ack.rejected != 0 {
		t.Errorf("acked=%d rejected=%d", ack.acked, ack.rejected)
	}

	rec, err := h.db.FindByIdentifier(context.Background(), "abc-1")
	if err != nil || rec == nil {
		t.Fatalf("record: %v (%v)", err, rec)
	}
	if !rec.DeliverAt.Equal(h.clock) {
		t.Errorf("deliverAt = %s, want %s", rec.DeliverAt, h.clock)
	}

	if len(h.announcer.events) != 1 {
		t.Fatalf("events = %d", len(h.announcer.events))
	}
	ev := h.announcer.events[0]
	if ev.Identifier != "abc-1" || ev.DeliverAt != "2026-10-18T08:00:00.000Z" {
		t.Errorf("event = %+v", ev)
	}
}

func TestHandleRedeliveryIsIdempotent(t *testing.T) {
	h := newHarness(t)
	first, _ := h.delivery(validBody)
	if stage := h.pipeline.Handle(context.Background(), first); stage != StagePublished {
		t.Fatalf("first stage = %s", stage)
	}

	h.clock = h.clock.Add(time.Minute)
	again, ack := h.delivery(validBody)
	if stage := h.pipeline.Handle(context.Background(), again); stage != StagePublished {
		t.Fatalf("redelivery stage = %s", stage)
	}
	if ack.acked != 1 || ack.rejected != 0 {
		t.Errorf("redelivery must be acked: acked=%d rejected=%d", ack.acked, ack.rejected)
	}

	rec, err := h.db.FindByIdentifier(context.Background(), "abc-1")
	if err != nil || rec == nil {
		t.Fatalf("record: %v", err)
	}
	if !rec.DeliverAt.Equal(time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("duplicate overwrote the record: %s", rec.DeliverAt)
	}
	if !strings.Contains(h.logs.String(), "duplicate identifier") {
		t.Error("duplicate not logged")
	}
}

func TestHandleUnparseableMessage(t *testing.T) {
	h := newHarness(t)
	msg, ack := h.delivery(`{"identifier": "abc-1",`)

	if stage := h.pipeline.Handle(context.Background(), msg); stage != StageRejected {
		t.Fatalf("stage = %s, want rejected", stage)
	}
	assertSteps(t, h.j.all(), "reject")
	if ack.requeue {
		t.Error("unparseable message requeued")
	}
}

func TestHandleEmptyText(t *testing.T) {
	h := newHarness(t)
	msg, ack := h.delivery(`{"identifier":"abc-1","type":"chat","deviceId":"tok123","text":""}`)

	if stage := h.pipeline.Handle(context.Background(), msg); stage != StageRejected {
		t.Fatalf("stage = %s, want rejected", stage)
	}
	assertSteps(t, h.j.all(), "reject")
	if ack.requeue || ack.acked != 0 {
		t.Errorf("requeue=%v acked=%d", ack.requeue, ack.acked)
	}
	if !strings.Contains(h.logs.String(), "text cannot be empty") {
		t.Errorf("validation error not logged: %s", h.logs.String())
	}
}

func TestHandleGatewayFailureStopsAfterAck(t *testing.T) {
	h := newHarness(t)
	h.gateway.outcome = models.Failed("messaging/registration-token-not-registered", "Requested entity was not found.")
	msg, ack := h.delivery(validBody)

	if stage := h.pipeline.Handle(context.Background(), msg); stage != StageStoppedAfterDelivery {
		t.Fatalf("stage = %s", stage)
	}
	assertSteps(t, h.j.all(), "ack", "send")
	if ack.acked != 1 || ack.rejected != 0 {
		t.Errorf("acked=%d rejected=%d", ack.acked, ack.rejected)
	}
	if rec, _ := h.db.FindByIdentifier(context.Background(), "abc-1"); rec != nil {
		t.Error("record written for a failed delivery")
	}
	if !strings.Contains(h.logs.String(), "registration-token-not-registered") {
		t.Error("error code not logged")
	}
}

func TestHandleStoreFailureSkipsPublish(t *testing.T) {
	h := newHarness(t)
	h.store.err = errors.New("connection reset")
	msg, _ := h.delivery(validBody)

	if stage := h.pipeline.Handle(context.Background(), msg); stage != StageStoppedAfterPersist {
		t.Fatalf("stage = %s", stage)
	}
	assertSteps(t, h.j.all(), "ack", "send", "record")
	if len(h.announcer.events) != 0 {
		t.Error("completion published after a failed write")
	}
}

func TestHandlePublishFailureStillPublishedStage(t *testing.T) {
	h := newHarness(t)
	h.announcer.err = errors.New("channel closed")
	msg, _ := h.delivery(validBody)

	if stage := h.pipeline.Handle(context.Background(), msg); stage != StagePublished {
		t.Fatalf("stage = %s", stage)
	}
	if rec, _ := h.db.FindByIdentifier(context.Background(), "abc-1"); rec == nil {
		t.Error("record missing after publish failure")
	}
	if !strings.Contains(h.logs.String(), "failed to publish to topic") {
		t.Error("publish failure not logged")
	}
}

func TestHandleRecoversFromPanic(t *testing.T) {
	h := newHarness(t)
	h.store.panicky = true
	msg, _ := h.delivery(validBody)

	if stage := h.pipeline.Handle(context.Background(), msg); stage != StageStoppedAfterPanic {
		t.Fatalf("stage = %s", stage)
	}
	if len(h.announcer.events) != 0 {
		t.Error("published after panic")
	}

	h.store.panicky = false
	next, _ := h.delivery(`{"identifier":"abc-2","type":"chat","deviceId":"tok","text":"hey"}`)
	if stage := h.pipeline.Handle(context.Background(), next); stage != StagePublished {
		t.Errorf("next message stage = %s, want published", stage)
	}
}

func TestHandleAckFailureStops(t *testing.T) {
	h := newHarness(t)
	msg, ack := h.delivery(validBody)
	ack.ackErr = amqp.ErrClosed

	if stage := h.pipeline.Handle(context.Background(), msg); stage != StageAckFailed {
		t.Fatalf("stage = %s", stage)
	}
	assertSteps(t, h.j.all(), "ack")
}

func TestHandleKeepsExtraFields(t *testing.T) {
	h := newHarness(t)
	msg, _ := h.delivery(`{"identifier":"abc-1","type":"chat","deviceId":"tok123","text":"hi","campaign":"fall"}`)
	if stage := h.pipeline.Handle(context.Background(), msg); stage != StagePublished {
		t.Fatalf("stage = %s", stage)
	}
	if got := string(h.gateway.got[0].Extra["campaign"]); got != `"fall"` {
		t.Errorf("extra campaign = %s", got)
	}
}
