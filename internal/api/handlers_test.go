package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"

	"laneassist/internal/auth"
	"laneassist/internal/config"
	"laneassist/internal/dedup"
	"laneassist/internal/models"
	"laneassist/internal/redis"
	"laneassist/internal/service/ai"
	"laneassist/internal/service/assistant"
	"laneassist/internal/worker"
)

const testSecret = "app-secret"

type fakeQueue struct {
	mu   sync.Mutex
	jobs []worker.Job
	err  error
}

func (q *fakeQueue) Submit(job worker.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

type fakePipeline struct {
	reply string
	err   error
	msgs  []models.InboundMessage
}

func (p *fakePipeline) Process(_ context.Context, msg models.InboundMessage) (string, error) {
	p.msgs = append(p.msgs, msg)
	return p.reply, p.err
}

type panickyDeduper struct{}

func (panickyDeduper) Accept(context.Context, string) bool { panic("redis client exploded") }

type testServer struct {
	router   *gin.Engine
	queue    *fakeQueue
	pipeline *fakePipeline
	redis    *miniredis.Miniredis
}

func newTestServer(t *testing.T, secret string, deduper Deduper) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	srv := &testServer{queue: &fakeQueue{}, pipeline: &fakePipeline{reply: "Bosch pads are 2,500 KES."}}
	var cache Pinger
	if deduper == nil {
		srv.redis = miniredis.RunT(t)
		client := redis.NewFromAddr(srv.redis.Addr())
		t.Cleanup(func() { client.Close() })
		deduper = dedup.NewLedger(client, config.DefaultDedupTTL)
		cache = client
	}
	authService := auth.NewService(config.WhatsAppConfig{VerifyToken: "verify-me", AppSecret: secret})
	h := NewHandler(authService, deduper, srv.queue, srv.pipeline, cache, 0)
	srv.router = NewRouter(h)
	return srv
}

func postWebhook(t *testing.T, router *gin.Engine, payload any, secret string) *httptest.ResponseRecorder {
	t.Helper()
	var body []byte
	switch p := payload.(type) {
	case []byte:
		body = p
	default:
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
	}
	req := httptest.NewRequest(http.MethodPost, "/webhooks", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(auth.SignatureHeader, auth.SignatureFor(secret, body))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func assertAck(t *testing.T, rec *httptest.ResponseRecorder, want string) {
	t.Helper()
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != want {
		t.Fatalf("expected body %q, got %q", want, rec.Body.String())
	}
}

func textEvent(id, from, text string) map[string]any {
	return map[string]any{
		"object": "whatsapp_business_account",
		"entry": []any{map[string]any{
			"id": "WABA",
			"changes": []any{map[string]any{
				"field": "messages",
				"value": map[string]any{
					"messaging_product": "whatsapp",
					"contacts":          []any{map[string]any{"wa_id": from, "profile": map[string]any{"name": "Juma"}}},
					"messages": []any{map[string]any{
						"from": from, "id": id, "timestamp": "1717000000", "type": "text",
						"text": map[string]any{"body": text},
					}},
				},
			}},
		}},
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, "", nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != `{"status":"healthy"}` {
		t.Fatalf("unexpected health response %d %s", rec.Code, rec.Body.String())
	}

	srv.redis.Close()
	rec = httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with redis down, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestVerifyWebhook(t *testing.T) {
	srv := newTestServer(t, "", nil)

	req := httptest.NewRequest(http.MethodGet, "/webhooks?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "12345" {
		t.Fatalf("expected challenge echo, got %d %q", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/webhooks?hub.mode=subscribe&hub.verify_token=nope&hub.challenge=12345", nil)
	rec = httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("verification failure should have no body, got %q", rec.Body.String())
	}
}

func TestWebhookQueuesOnceThenDeduplicates(t *testing.T) {
	srv := newTestServer(t, testSecret, nil)
	event := textEvent("wamid.1", "254700111222", "price for brake pads")

	assertAck(t, postWebhook(t, srv.router, event, testSecret), "message queued")
	assertAck(t, postWebhook(t, srv.router, event, testSecret), "duplicate message")

	if len(srv.queue.jobs) != 1 {
		t.Fatalf("expected exactly one job, got %d", len(srv.queue.jobs))
	}
	msg := srv.queue.jobs[0].Message
	if msg.UserID != "254700111222" || msg.Text != "price for brake pads" || msg.Channel != models.ChannelWhatsApp {
		t.Fatalf("unexpected message %#v", msg)
	}
	if msg.ReceivedAt.Unix() != 1717000000 {
		t.Fatalf("timestamp not parsed: %v", msg.ReceivedAt)
	}
}

func TestWebhookImageMessage(t *testing.T) {
	srv := newTestServer(t, "", nil)
	event := textEvent("wamid.2", "254700111222", "")
	msgs := event["entry"].([]any)[0].(map[string]any)["changes"].([]any)[0].(map[string]any)["value"].(map[string]any)["messages"].([]any)
	m := msgs[0].(map[string]any)
	delete(m, "text")
	m["type"] = "image"
	m["image"] = map[string]any{"id": "media-77", "caption": "do you have this?", "mime_type": "image/jpeg"}

	assertAck(t, postWebhook(t, srv.router, event, ""), "message queued")
	got := srv.queue.jobs[0].Message
	if got.MediaID != "media-77" || got.MediaCaption != "do you have this?" || got.HasText() {
		t.Fatalf("unexpected image message %#v", got)
	}
}

func TestWebhookStatusUpdate(t *testing.T) {
	srv := newTestServer(t, "", nil)
	event := map[string]any{
		"entry": []any{map[string]any{
			"changes": []any{map[string]any{
				"value": map[string]any{
					"statuses": []any{map[string]any{"id": "wamid.9", "status": "delivered", "recipient_id": "254700"}},
				},
			}},
		}},
	}
	assertAck(t, postWebhook(t, srv.router, event, ""), "status update received")
	if len(srv.queue.jobs) != 0 {
		t.Fatalf("status updates must not be queued")
	}
}

func TestWebhookNothingToProcess(t *testing.T) {
	srv := newTestServer(t, "", nil)

	assertAck(t, postWebhook(t, srv.router, []byte("{not json"), ""), "no message to process")
	assertAck(t, postWebhook(t, srv.router, map[string]any{"entry": []any{}}, ""), "no message to process")
	assertAck(t, postWebhook(t, srv.router, textEvent("wamid.3", "254700", "   "), ""), "no message to process")
	if len(srv.queue.jobs) != 0 {
		t.Fatalf("nothing should be queued")
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	srv := newTestServer(t, testSecret, nil)

	rec := postWebhook(t, srv.router, textEvent("wamid.4", "254700", "hi"), "wrong-secret")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	rec = postWebhook(t, srv.router, textEvent("wamid.4", "254700", "hi"), "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("unsigned body should be rejected when a secret is set, got %d", rec.Code)
	}
	if len(srv.queue.jobs) != 0 {
		t.Fatalf("rejected bodies must not be queued")
	}
}

func TestWebhookSwallowsDownstreamFailures(t *testing.T) {
	srv := newTestServer(t, "", nil)
	srv.queue.err = worker.ErrDispatcherBusy
	assertAck(t, postWebhook(t, srv.router, textEvent("wamid.5", "254700", "hi"), ""), "message received")

	panicky := newTestServer(t, "", panickyDeduper{})
	assertAck(t, postWebhook(t, panicky.router, textEvent("wamid.6", "254700", "hi"), ""), "message received")
}

func TestGenerate(t *testing.T) {
	srv := newTestServer(t, "", nil)

	rec := doJSONRequest(t, srv.router, http.MethodPost, "/api/generate", map[string]any{
		"prompt":           "Do you stock Denso spark plugs?",
		"prompt_timestamp": "2024-05-29T10:00:00Z",
		"user_id":          "garage-7",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Response != srv.pipeline.reply {
		t.Fatalf("unexpected response %q", body.Response)
	}
	got := srv.pipeline.msgs[0]
	if got.Channel != models.ChannelWeb || got.UserID != "web:garage-7" {
		t.Fatalf("unexpected message %#v", got)
	}
	if !got.ReceivedAt.Equal(time.Date(2024, 5, 29, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("prompt timestamp not used: %v", got.ReceivedAt)
	}
}

func TestGenerateErrors(t *testing.T) {
	srv := newTestServer(t, "", nil)

	rec := doJSONRequest(t, srv.router, http.MethodPost, "/api/generate", map[string]any{"prompt": "  "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty prompt: expected 400, got %d", rec.Code)
	}

	srv.pipeline.reply = ai.Apology
	srv.pipeline.err = &assistant.Error{Code: assistant.ErrorUpstream, Reason: "model call failed", Err: errors.New("dial tcp 10.0.0.5:443: refused")}
	rec = doJSONRequest(t, srv.router, http.MethodPost, "/api/generate", map[string]any{"prompt": "hello"})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("upstream failure: expected 502, got %d", rec.Code)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("10.0.0.5")) {
		t.Fatalf("internal details leaked: %s", rec.Body.String())
	}

	srv.pipeline.err = errors.New("unexpected")
	rec = doJSONRequest(t, srv.router, http.MethodPost, "/api/generate", map[string]any{"prompt": "hello"})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("other failure: expected 500, got %d", rec.Code)
	}
}

func TestGenerateKeepsWebUsersApartFromWhatsApp(t *testing.T) {
	srv := newTestServer(t, "", nil)

	for _, id := range []string{"254700111222", "web:254700111222"} {
		rec := doJSONRequest(t, srv.router, http.MethodPost, "/api/generate", map[string]any{"prompt": "my last order?", "user_id": id})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	}
	rec := doJSONRequest(t, srv.router, http.MethodPost, "/api/generate", map[string]any{"prompt": "hi"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	for i, want := range []string{"web:254700111222", "web:254700111222", "web:192.0.2.1"} {
		if got := srv.pipeline.msgs[i].UserID; got != want {
			t.Fatalf("request %d: expected user %q, got %q", i, want, got)
		}
	}
}

func TestGenerateUndeliveredReplyStillReturned(t *testing.T) {
	srv := newTestServer(t, "", nil)
	srv.pipeline.reply = "Denso plugs are in stock."
	srv.pipeline.err = &assistant.Error{Code: assistant.ErrorDelivery, Reason: "reply not delivered", Err: errors.New("502")}

	rec := doJSONRequest(t, srv.router, http.MethodPost, "/api/generate", map[string]any{"prompt": "denso?"})
	if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte("Denso plugs are in stock.")) {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
}

func TestGenerateRateLimited(t *testing.T) {
	gin.SetMode(gin.TestMode)
	pipeline := &fakePipeline{reply: "ok"}
	h := NewHandler(auth.NewService(config.WhatsAppConfig{}), nil, &fakeQueue{}, pipeline, nil, 1)
	router := NewRouter(h)

	codes := make([]int, 0, 5)
	for i := 0; i < 5; i++ {
		rec := doJSONRequest(t, router, http.MethodPost, "/api/generate", map[string]any{"prompt": "hi", "user_id": "u1"})
		codes = append(codes, rec.Code)
	}
	if codes[len(codes)-1] != http.StatusTooManyRequests {
		t.Fatalf("expected the limiter to kick in, got %v", codes)
	}
}
