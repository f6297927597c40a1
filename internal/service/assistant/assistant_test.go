package assistant

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"laneassist/internal/dispatch"
	"laneassist/internal/history"
	"laneassist/internal/models"
	"laneassist/internal/redis"
	"laneassist/internal/service/ai"
	"laneassist/internal/storage"
)

type fakeVector struct {
	snippets []models.Snippet
	err      error
	queries  []string
	mu       sync.Mutex
}

func (f *fakeVector) Search(_ context.Context, query string) ([]models.Snippet, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	return f.snippets, f.err
}

type fakeGraph struct {
	facts []models.GraphFact
	err   error
	block bool
}

func (f *fakeGraph) Search(ctx context.Context, _ string) ([]models.GraphFact, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.facts, f.err
}

type fakeImages struct {
	text string
	err  error
}

func (f fakeImages) Read(context.Context, string) (string, error) { return f.text, f.err }

type fakeOrders struct {
	order *models.Order
	err   error
}

func (f fakeOrders) LastOrder(context.Context, string) (*models.Order, error) { return f.order, f.err }

type fakeCustomers struct {
	customer *models.Customer
	err      error
}

func (f fakeCustomers) CustomerByPhone(context.Context, string) (*models.Customer, error) {
	return f.customer, f.err
}

type stubResponder struct {
	result ai.Result
	reqs   []ai.Request
	panics bool
}

func (s *stubResponder) Run(_ context.Context, req ai.Request) ai.Result {
	s.reqs = append(s.reqs, req)
	if s.panics {
		panic("boom")
	}
	return s.result
}

type captureSender struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (c *captureSender) SendText(_ context.Context, _ string, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, text)
	return c.err
}

func (c *captureSender) SendDocument(context.Context, string, string, string) error { return nil }

type fakeMedia struct {
	path string
	err  error
}

func (f fakeMedia) DownloadMedia(context.Context, string) (string, error) { return f.path, f.err }

func newHistory(t *testing.T) *history.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewFromAddr(mr.Addr())
	t.Cleanup(func() { client.Close() })
	return history.NewStore(client, 10, 0)
}

func textMessage(user, text string) models.InboundMessage {
	return models.InboundMessage{Channel: models.ChannelWhatsApp, UserID: user, Text: text, ReceivedAt: time.Now()}
}

func TestAggregateTextFacets(t *testing.T) {
	hist := newHistory(t)
	require.NoError(t, hist.Append(context.Background(), "254700", "hi", "hello"))
	order := &models.Order{QuoteID: "Q-1", Total: decimal.NewFromInt(250)}

	agg := NewAggregator(Sources{
		Vector:    &fakeVector{snippets: []models.Snippet{{Text: "Bosch brake pads", Score: 0.8}}},
		Graph:     &fakeGraph{facts: []models.GraphFact{{Brand: "Bosch", Part: "brake pad"}}},
		History:   hist,
		Orders:    fakeOrders{order: order},
		Customers: fakeCustomers{customer: &models.Customer{Name: "Juma"}},
	}, time.Second, 10)

	bundle := agg.Aggregate(context.Background(), textMessage("254700", "brake pads"))
	require.Len(t, bundle.Snippets, 1)
	require.Len(t, bundle.GraphFacts, 1)
	require.Len(t, bundle.History, 1)
	require.Equal(t, "Q-1", bundle.LastOrder.QuoteID)
	require.Equal(t, "Juma", bundle.Customer.Name)
	require.Empty(t, bundle.Warnings)
}

func TestAggregateGraphFailureDegrades(t *testing.T) {
	agg := NewAggregator(Sources{
		Vector: &fakeVector{snippets: []models.Snippet{{Text: "pads"}}},
		Graph:  &fakeGraph{err: errors.New("neo4j unreachable")},
		Orders: fakeOrders{order: &models.Order{QuoteID: "Q-2"}},
	}, time.Second, 10)

	bundle := agg.Aggregate(context.Background(), textMessage("254700", "brake pads"))
	require.Empty(t, bundle.GraphFacts)
	require.Len(t, bundle.Snippets, 1)
	require.NotNil(t, bundle.LastOrder)
	require.Len(t, bundle.Warnings, 1)
	require.True(t, strings.HasPrefix(bundle.Warnings[0], "graph: "))
}

func TestAggregateFacetTimeout(t *testing.T) {
	agg := NewAggregator(Sources{
		Vector: &fakeVector{snippets: []models.Snippet{{Text: "pads"}}},
		Graph:  &fakeGraph{block: true},
	}, 50*time.Millisecond, 10)

	start := time.Now()
	bundle := agg.Aggregate(context.Background(), textMessage("254700", "brake pads"))
	require.Less(t, time.Since(start), 2*time.Second)
	require.Empty(t, bundle.GraphFacts)
	require.Len(t, bundle.Snippets, 1)
	require.Contains(t, bundle.Warnings[0], "deadline exceeded")
}

func TestAggregateNotFoundIsNotAWarning(t *testing.T) {
	agg := NewAggregator(Sources{
		Orders:    fakeOrders{err: storage.ErrNotFound},
		Customers: fakeCustomers{err: storage.ErrNotFound},
	}, time.Second, 10)

	bundle := agg.Aggregate(context.Background(), textMessage("254700", "hello"))
	require.Nil(t, bundle.LastOrder)
	require.Nil(t, bundle.Customer)
	require.Empty(t, bundle.Warnings)
}

func TestAggregateMediaUsesImageQuery(t *testing.T) {
	vec := &fakeVector{snippets: []models.Snippet{{Text: "Denso plug"}}}
	graph := &fakeGraph{facts: []models.GraphFact{{Brand: "unused"}}}
	agg := NewAggregator(Sources{
		Vector: vec,
		Graph:  graph,
		Images: fakeImages{text: "Denso spark plug IK20"},
	}, time.Second, 10)

	msg := models.InboundMessage{Channel: models.ChannelWhatsApp, UserID: "254700", MediaID: "m1", MediaPath: "/tmp/x.jpg"}
	bundle := agg.Aggregate(context.Background(), msg)
	require.Equal(t, "Denso spark plug IK20", bundle.ImageQuery)
	require.Equal(t, []string{"Denso spark plug IK20"}, vec.queries)
	require.Empty(t, bundle.GraphFacts)
	require.Len(t, bundle.Snippets, 1)
}

func TestProcessRejectsEmptyMessage(t *testing.T) {
	svc := NewService(nil, &stubResponder{}, nil, nil, nil)

	_, err := svc.Process(context.Background(), models.InboundMessage{UserID: "254700"})
	require.ErrorIs(t, err, ErrValidation)
	require.Equal(t, ErrorValidation, CodeOf(err))

	_, err = svc.Process(context.Background(), models.InboundMessage{Text: "hi"})
	require.ErrorIs(t, err, ErrValidation)
}

func TestProcessSendsAndRecords(t *testing.T) {
	hist := newHistory(t)
	sender := &captureSender{}
	responder := &stubResponder{result: ai.Result{Reply: "<think>pricing</think>Bosch pads cost 2,500."}}
	svc := NewService(NewAggregator(Sources{History: hist}, time.Second, 10), responder, hist,
		map[models.Channel]dispatch.Sender{models.ChannelWhatsApp: sender}, nil)

	reply, err := svc.Process(context.Background(), textMessage("254700", "brake pads"))
	require.NoError(t, err)
	require.Equal(t, "Bosch pads cost 2,500.", reply)
	require.Equal(t, []string{"Bosch pads cost 2,500."}, sender.texts)

	turns, err := hist.Recent(context.Background(), "254700", 10)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	require.Equal(t, "brake pads", turns[0].UserMessage)
}

func TestProcessModelFailureSendsApology(t *testing.T) {
	hist := newHistory(t)
	sender := &captureSender{}
	responder := &stubResponder{result: ai.Result{Reply: ai.Apology, Err: errors.New("connection refused")}}
	svc := NewService(nil, responder, hist, map[models.Channel]dispatch.Sender{models.ChannelWhatsApp: sender}, nil)

	reply, err := svc.Process(context.Background(), textMessage("254700", "brake pads"))
	require.Error(t, err)
	require.Equal(t, ErrorUpstream, CodeOf(err))
	require.Equal(t, ai.Apology, reply)
	require.Equal(t, []string{ai.Apology}, sender.texts)
	require.NotContains(t, reply, "connection refused")

	turns, err := hist.Recent(context.Background(), "254700", 10)
	require.NoError(t, err)
	require.Empty(t, turns)
}

func TestProcessRecoversResponderPanic(t *testing.T) {
	svc := NewService(nil, &stubResponder{panics: true}, nil, nil, nil)

	reply, err := svc.Process(context.Background(), textMessage("254700", "hi"))
	require.Error(t, err)
	require.Equal(t, ai.Apology, reply)
}

func TestProcessDeliveryFailureKeepsHistory(t *testing.T) {
	hist := newHistory(t)
	sender := &captureSender{err: dispatch.ErrDelivery}
	svc := NewService(nil, &stubResponder{result: ai.Result{Reply: "ok"}}, hist,
		map[models.Channel]dispatch.Sender{models.ChannelWhatsApp: sender}, nil)

	reply, err := svc.Process(context.Background(), textMessage("254700", "hi"))
	require.Equal(t, ErrorDelivery, CodeOf(err))
	require.ErrorIs(t, err, dispatch.ErrDelivery)
	require.Equal(t, "ok", reply)

	turns, err := hist.Recent(context.Background(), "254700", 10)
	require.NoError(t, err)
	require.Len(t, turns, 1)
}

func TestProcessDownloadsMedia(t *testing.T) {
	responder := &stubResponder{result: ai.Result{Reply: "That is a Denso plug."}}
	svc := NewService(nil, responder, nil, nil, fakeMedia{path: "/media/abc.jpg"})

	msg := models.InboundMessage{Channel: models.ChannelWhatsApp, UserID: "254700", MediaID: "m1", MediaCaption: "price?"}
	_, err := svc.Process(context.Background(), msg)
	require.NoError(t, err)
	require.Len(t, responder.reqs, 1)
	require.Equal(t, "/media/abc.jpg", responder.reqs[0].Message.MediaPath)
}

// scriptedModel replays responses in order and records its inputs.
type scriptedModel struct {
	mu        sync.Mutex
	responses []*schema.Message
	inputs    [][]*schema.Message
}

func (m *scriptedModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs = append(m.inputs, append([]*schema.Message(nil), input...))
	resp := m.responses[0]
	if len(m.responses) > 1 {
		m.responses = m.responses[1:]
	}
	return resp, nil
}

func (m *scriptedModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (m *scriptedModel) WithTools([]*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

type searchParams struct {
	Query string `json:"query"`
}

func TestBrakePadsLowSimilarityScenario(t *testing.T) {
	ctx := context.Background()
	hist := newHistory(t)
	sender := &captureSender{}

	var searches []string
	search, err := utils.InferTool(string(ai.ToolLowSimilarity), "web search",
		func(_ context.Context, p *searchParams) (string, error) {
			searches = append(searches, p.Query)
			return `[{"title":"Brake pads from 1,800","snippet":"Ceramic pads for Toyota"}]`, nil
		})
	require.NoError(t, err)
	reg := ai.NewRegistry()
	require.NoError(t, reg.Register(ai.ToolLowSimilarity, search))

	chat := &scriptedModel{responses: []*schema.Message{
		schema.AssistantMessage("", []schema.ToolCall{{
			ID:       "call-1",
			Function: schema.FunctionCall{Name: string(ai.ToolLowSimilarity), Arguments: `{"query":"brake pads price"}`},
		}}),
		schema.AssistantMessage("Our catalog lists generic pads; online, ceramic brake pads start from 1,800.", nil),
	}}
	loop := ai.NewLoop(chat, reg, ai.DefaultPersonas(), ai.LoopConfig{})

	vec := &fakeVector{snippets: []models.Snippet{{Text: "generic pads", Score: 0.21}}}
	agg := NewAggregator(Sources{Vector: vec, Graph: &fakeGraph{}, History: hist}, time.Second, 10)
	svc := NewService(agg, loop, hist, map[models.Channel]dispatch.Sender{models.ChannelWhatsApp: sender}, nil)

	reply, err := svc.Process(ctx, textMessage("254700", "price for brake pads"))
	require.NoError(t, err)
	require.Contains(t, reply, "generic pads")
	require.Contains(t, reply, "1,800")
	require.Equal(t, []string{"brake pads price"}, searches)
	require.Len(t, chat.inputs, 2)

	var toolMsg *schema.Message
	for _, m := range chat.inputs[1] {
		if m.Role == schema.Tool {
			toolMsg = m
		}
	}
	require.NotNil(t, toolMsg)
	require.Equal(t, "call-1", toolMsg.ToolCallID)
	require.Contains(t, toolMsg.Content, "Ceramic pads for Toyota")
	require.Contains(t, chat.inputs[0][1].Content, "generic pads")

	turns, err := hist.Recent(ctx, "254700", 10)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	require.Equal(t, "price for brake pads", turns[0].UserMessage)
	require.Equal(t, reply, turns[0].AssistantResponse)
	require.Len(t, sender.texts, 1)
}
