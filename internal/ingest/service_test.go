package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-event-gateway/internal/config"
	"github.com/tbourn/go-event-gateway/internal/delivery"
	"github.com/tbourn/go-event-gateway/internal/dispatch"
	"github.com/tbourn/go-event-gateway/internal/domain"
	"github.com/tbourn/go-event-gateway/internal/quota"
	"github.com/tbourn/go-event-gateway/internal/repo"
	"github.com/tbourn/go-event-gateway/internal/store"
)

// countingPublisher records fan-out invocations.
type countingPublisher struct {
	calls int32
}

func (p *countingPublisher) Publish(context.Context, string, *domain.Envelope) {
	atomic.AddInt32(&p.calls, 1)
}

// stubDeliverer records delivery dispatches and optionally fails.
type stubDeliverer struct {
	calls int32
	err   error
}

func (d *stubDeliverer) Dispatch(context.Context, string, *domain.Envelope) error {
	atomic.AddInt32(&d.calls, 1)
	return d.err
}

type testPipeline struct {
	svc   *Service
	db    *gorm.DB
	store *store.MemoryStore
	pub   *countingPublisher
	del   *stubDeliverer
}

func newPipeline(t *testing.T, limits config.PlanLimits) *testPipeline {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	if err := db.Create(&domain.Tenant{ID: "t1", Name: "T1", Plan: domain.PlanFree, IsActive: true}).Error; err != nil {
		t.Fatalf("seed tenant: %v", err)
	}
	if err := db.Create(&domain.Instance{
		ID: "i1", TenantID: "t1", ExternalID: "ext-1", Status: domain.InstanceDisconnected,
	}).Error; err != nil {
		t.Fatalf("seed instance: %v", err)
	}

	ms := store.NewMemoryStore()
	pub := &countingPublisher{}
	del := &stubDeliverer{}
	svc := &Service{
		DB:             db,
		Store:          ms,
		Quota:          quota.NewEngine(ms, limits),
		Dispatcher:     dispatch.New(db),
		Fanout:         pub,
		Delivery:       del,
		IdempotencyTTL: time.Hour,
	}
	return &testPipeline{svc: svc, db: db, store: ms, pub: pub, del: del}
}

func generousLimits() config.PlanLimits {
	return config.PlanLimits{
		"free": {
			config.ClassMessages: {Hourly: 1000, Daily: 10000, Monthly: 100000},
		},
	}
}

func messageBody(providerID string) []byte {
	return []byte(`{
		"event": "MESSAGES_UPSERT",
		"instance": "ext-1",
		"data": {"key": {"id": "` + providerID + `"}, "message": {"conversation": "hi"}},
		"date_time": "2025-06-01T10:00:00Z"
	}`)
}

func TestIngest_AcceptsAndMutatesState(t *testing.T) {
	p := newPipeline(t, generousLimits())
	ctx := context.Background()

	res, err := p.svc.Ingest(ctx, messageBody("PMID-1"), "")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.TenantID != "t1" || res.InstanceID != "i1" || res.EventID == "" || res.Duplicate {
		t.Fatalf("result: %+v", res)
	}

	// The message row exists.
	if _, err := repo.GetMessageByProviderID(ctx, p.db, "i1", "PMID-1"); err != nil {
		t.Fatalf("message missing: %v", err)
	}
	// The audit record exists.
	if n, _ := repo.CountEventRecords(ctx, p.db, "t1"); n != 1 {
		t.Fatalf("event records = %d, want 1", n)
	}
	// Fan-out and delivery each ran once.
	if p.pub.calls != 1 || p.del.calls != 1 {
		t.Fatalf("publish = %d, delivery = %d", p.pub.calls, p.del.calls)
	}
	// Quota decision carried back for headers.
	if st := res.Quota.Status(config.PeriodHourly); st.Limit != 1000 {
		t.Fatalf("quota status: %+v", st)
	}
}

func TestIngest_DuplicateIsSoftAndSingleMutation(t *testing.T) {
	p := newPipeline(t, generousLimits())
	ctx := context.Background()

	first, err := p.svc.Ingest(ctx, messageBody("PMID-1"), "")
	if err != nil {
		t.Fatalf("first: %v", err)
	}

	second, err := p.svc.Ingest(ctx, messageBody("PMID-1"), "")
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second err = %v, want ErrDuplicate", err)
	}
	if !second.Duplicate || second.EventID != first.EventID {
		t.Fatalf("duplicate result: %+v", second)
	}

	// Exactly one of everything.
	var msgCount int64
	p.db.Model(&domain.Message{}).Count(&msgCount)
	if msgCount != 1 {
		t.Fatalf("messages = %d, want 1", msgCount)
	}
	if n, _ := repo.CountEventRecords(ctx, p.db, "t1"); n != 1 {
		t.Fatalf("event records = %d, want 1", n)
	}
	if p.pub.calls != 1 || p.del.calls != 1 {
		t.Fatalf("publish = %d, delivery = %d", p.pub.calls, p.del.calls)
	}
}

func TestIngest_RetransmissionWithNewTimestampIsDuplicate(t *testing.T) {
	p := newPipeline(t, generousLimits())
	ctx := context.Background()

	if _, err := p.svc.Ingest(ctx, messageBody("PMID-1"), ""); err != nil {
		t.Fatalf("first: %v", err)
	}

	// Same provider message id, regenerated date_time.
	retrans := []byte(`{
		"event": "MESSAGES_UPSERT",
		"instance": "ext-1",
		"data": {"key": {"id": "PMID-1"}},
		"date_time": "2025-06-01T10:05:33Z"
	}`)
	_, err := p.svc.Ingest(ctx, retrans, "")
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
}

func TestIngest_ConnectionUpdateAppliedOnce(t *testing.T) {
	p := newPipeline(t, generousLimits())
	ctx := context.Background()

	body := []byte(`{
		"event": "CONNECTION_UPDATE",
		"instance": "ext-1",
		"data": {"state": "open"},
		"date_time": "2025-06-01T10:00:00Z"
	}`)
	if _, err := p.svc.Ingest(ctx, body, ""); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := p.svc.Ingest(ctx, body, ""); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second err = %v, want ErrDuplicate", err)
	}

	inst, err := repo.GetInstance(ctx, p.db, "i1")
	if err != nil {
		t.Fatalf("get instance: %v", err)
	}
	if inst.Status != domain.InstanceConnected {
		t.Fatalf("status = %q, want CONNECTED", inst.Status)
	}
	if p.pub.calls != 1 {
		t.Fatalf("publishes = %d, want 1", p.pub.calls)
	}
}

func TestIngest_ValidationFailures(t *testing.T) {
	p := newPipeline(t, generousLimits())
	ctx := context.Background()

	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{"event":`},
		{"missing event", `{"instance":"ext-1","data":{},"date_time":"2025-06-01T10:00:00Z"}`},
		{"missing instance", `{"event":"MESSAGES_UPSERT","data":{"x":1},"date_time":"2025-06-01T10:00:00Z"}`},
		{"missing data", `{"event":"MESSAGES_UPSERT","instance":"ext-1","date_time":"2025-06-01T10:00:00Z"}`},
		{"missing date_time", `{"event":"MESSAGES_UPSERT","instance":"ext-1","data":{"x":1}}`},
		{"unknown type", `{"event":"GROUP_UPDATE","instance":"ext-1","data":{"x":1},"date_time":"2025-06-01T10:00:00Z"}`},
		{"bad date_time", `{"event":"MESSAGES_UPSERT","instance":"ext-1","data":{"x":1},"date_time":"whenever"}`},
	}
	for _, c := range cases {
		_, err := p.svc.Ingest(ctx, []byte(c.body), "")
		if !errors.Is(err, ErrValidation) {
			t.Errorf("%s: err = %v, want ErrValidation", c.name, err)
		}
	}
	if p.pub.calls != 0 || p.del.calls != 0 {
		t.Fatalf("rejected events must not fan out or deliver")
	}
}

func TestIngest_UnknownInstance(t *testing.T) {
	p := newPipeline(t, generousLimits())
	body := []byte(`{
		"event": "MESSAGES_UPSERT",
		"instance": "ext-unregistered",
		"data": {"key": {"id": "x"}},
		"date_time": "2025-06-01T10:00:00Z"
	}`)
	_, err := p.svc.Ingest(context.Background(), body, "")
	if !errors.Is(err, ErrUnknownInstance) {
		t.Fatalf("err = %v, want ErrUnknownInstance", err)
	}
}

func TestIngest_InactiveTenantRejected(t *testing.T) {
	p := newPipeline(t, generousLimits())
	p.db.Model(&domain.Tenant{}).Where("id = ?", "t1").Update("is_active", false)

	_, err := p.svc.Ingest(context.Background(), messageBody("PMID-1"), "")
	if !errors.Is(err, ErrUnknownInstance) {
		t.Fatalf("err = %v, want ErrUnknownInstance", err)
	}
}

func TestIngest_SignatureVerification(t *testing.T) {
	p := newPipeline(t, generousLimits())
	p.svc.ProviderSecret = "topsecret"
	ctx := context.Background()
	body := messageBody("PMID-1")

	// Missing signature.
	if _, err := p.svc.Ingest(ctx, body, ""); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("missing sig err = %v", err)
	}
	// Wrong signature.
	if _, err := p.svc.Ingest(ctx, body, "deadbeef"); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("wrong sig err = %v", err)
	}
	// Forged input must not have consumed idempotency budget: the correct
	// signature still admits the event as fresh.
	res, err := p.svc.Ingest(ctx, body, delivery.Sign("topsecret", body))
	if err != nil {
		t.Fatalf("valid sig: %v", err)
	}
	if res.Duplicate {
		t.Fatal("rejected attempts must not mark the event as seen")
	}
}

func TestIngest_QuotaRejection(t *testing.T) {
	limits := config.PlanLimits{
		"free": {config.ClassMessages: {Hourly: 2, Daily: 100, Monthly: 1000}},
	}
	p := newPipeline(t, limits)
	ctx := context.Background()

	for i, id := range []string{"PMID-1", "PMID-2"} {
		if _, err := p.svc.Ingest(ctx, messageBody(id), ""); err != nil {
			t.Fatalf("event %d: %v", i, err)
		}
	}

	_, err := p.svc.Ingest(ctx, messageBody("PMID-3"), "")
	var qe *QuotaError
	if !errors.As(err, &qe) {
		t.Fatalf("err = %v, want QuotaError", err)
	}
	if qe.Decision.MostRestrictive != config.PeriodHourly {
		t.Fatalf("most restrictive = %q", qe.Decision.MostRestrictive)
	}

	// The rejected event left no trace.
	var msgCount int64
	p.db.Model(&domain.Message{}).Count(&msgCount)
	if msgCount != 2 {
		t.Fatalf("messages = %d, want 2", msgCount)
	}
	if p.pub.calls != 2 {
		t.Fatalf("publishes = %d, want 2", p.pub.calls)
	}
}

func TestIngest_MediaWeighsDouble(t *testing.T) {
	limits := config.PlanLimits{
		"free": {config.ClassMessages: {Hourly: 3, Daily: 100, Monthly: 1000}},
	}
	p := newPipeline(t, limits)
	ctx := context.Background()

	media := []byte(`{
		"event": "MESSAGES_UPSERT",
		"instance": "ext-1",
		"data": {"key": {"id": "PMID-M1"}, "messageType": "imageMessage"},
		"date_time": "2025-06-01T10:00:00Z"
	}`)
	if _, err := p.svc.Ingest(ctx, media, ""); err != nil {
		t.Fatalf("media event: %v", err)
	}

	// 2 of 3 used; a second media message needs 2 more and must be rejected.
	media2 := []byte(`{
		"event": "MESSAGES_UPSERT",
		"instance": "ext-1",
		"data": {"key": {"id": "PMID-M2"}, "messageType": "imageMessage"},
		"date_time": "2025-06-01T10:00:01Z"
	}`)
	_, err := p.svc.Ingest(ctx, media2, "")
	var qe *QuotaError
	if !errors.As(err, &qe) {
		t.Fatalf("err = %v, want QuotaError", err)
	}

	// A plain message (weight 1) still fits.
	if _, err := p.svc.Ingest(ctx, messageBody("PMID-T1"), ""); err != nil {
		t.Fatalf("text after media: %v", err)
	}
}

func TestIngest_DeliveryFailureDoesNotFailAck(t *testing.T) {
	p := newPipeline(t, generousLimits())
	p.del.err = errors.New("delivery subsystem down")

	res, err := p.svc.Ingest(context.Background(), messageBody("PMID-1"), "")
	if err != nil {
		t.Fatalf("Ingest must succeed despite delivery failure: %v", err)
	}
	if res.EventID == "" {
		t.Fatalf("result: %+v", res)
	}
	if p.pub.calls != 1 {
		t.Fatalf("fan-out must still run, calls = %d", p.pub.calls)
	}
}

func TestIngest_StripsProviderCredentials(t *testing.T) {
	p := newPipeline(t, generousLimits())

	var captured *domain.Envelope
	p.svc.Fanout = publisherFunc(func(_ context.Context, _ string, env *domain.Envelope) {
		captured = env
	})

	body := []byte(`{
		"event": "MESSAGES_UPSERT",
		"instance": "ext-1",
		"data": {"key": {"id": "PMID-1"}},
		"date_time": "2025-06-01T10:00:00Z",
		"apikey": "provider-credential"
	}`)
	if _, err := p.svc.Ingest(context.Background(), body, ""); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if captured == nil || captured.APIKey != "" {
		t.Fatal("provider credential must never be forwarded downstream")
	}
	raw, _ := json.Marshal(captured)
	if strings.Contains(string(raw), "provider-credential") {
		t.Fatal("serialized envelope leaks the provider credential")
	}
}

// publisherFunc adapts a function to the fan-out publisher contract.
type publisherFunc func(ctx context.Context, tenantID string, env *domain.Envelope)

func (f publisherFunc) Publish(ctx context.Context, tenantID string, env *domain.Envelope) {
	f(ctx, tenantID, env)
}
