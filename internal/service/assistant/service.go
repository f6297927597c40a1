package assistant

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"laneassist/internal/dispatch"
	"laneassist/internal/models"
	"laneassist/internal/service/ai"
	"laneassist/internal/service/tools"
)

// Responder runs the tool-calling conversation for one message.
type Responder interface {
	Run(ctx context.Context, req ai.Request) ai.Result
}

type MediaDownloader interface {
	DownloadMedia(ctx context.Context, mediaID string) (string, error)
}

type Service struct {
	aggregator *Aggregator
	responder  Responder
	history    HistoryStore
	senders    map[models.Channel]dispatch.Sender
	media      MediaDownloader
}

func NewService(aggregator *Aggregator, responder Responder, history HistoryStore, senders map[models.Channel]dispatch.Sender, media MediaDownloader) *Service {
	return &Service{
		aggregator: aggregator,
		responder:  responder,
		history:    history,
		senders:    senders,
		media:      media,
	}
}

// Process handles one inbound message end to end and returns the reply that was delivered.
// The reply is never empty. A non-nil error alongside a reply means the reply is the
// generic apology and err says why; callers on the webhook path only log it.
func (s *Service) Process(ctx context.Context, msg models.InboundMessage) (string, error) {
	if strings.TrimSpace(msg.UserID) == "" {
		return "", newError(ErrorValidation, "user id is required", ErrValidation)
	}
	if !msg.HasText() && !msg.HasMedia() {
		return "", newError(ErrorValidation, "message has no text or media", ErrValidation)
	}

	if msg.MediaID != "" && msg.MediaPath == "" && s.media != nil {
		path, err := s.media.DownloadMedia(ctx, msg.MediaID)
		if err != nil {
			slog.Warn("media download failed", "user_id", msg.UserID, "media_id", msg.MediaID, "error", err)
		} else {
			msg = msg.WithMediaPath(path)
		}
	}

	ctx = tools.WithRequest(ctx, msg.UserID, msg.Channel)

	var bundle models.ContextBundle
	if s.aggregator != nil {
		bundle = s.aggregator.Aggregate(ctx, msg)
	}

	result := s.respond(ctx, msg, bundle)
	reply := dispatch.CleanReply(result.Reply)
	if reply == "" {
		reply = ai.FallbackReply
	}
	slog.Info("reply ready",
		"user_id", msg.UserID,
		"channel", msg.Channel,
		"rounds", result.Rounds,
		"tool_calls", len(result.ToolCalls),
		"warnings", len(bundle.Warnings))

	var sendErr error
	if sender, ok := s.senders[msg.Channel]; ok && sender != nil {
		if sendErr = sender.SendText(ctx, msg.UserID, reply); sendErr != nil {
			slog.Error("reply delivery failed", "user_id", msg.UserID, "channel", msg.Channel, "error", sendErr)
		}
	}

	switch {
	case result.Err == nil:
		if s.history != nil {
			if err := s.history.Append(ctx, msg.UserID, msg.Query(), reply); err != nil {
				slog.Warn("history append failed", "user_id", msg.UserID, "error", err)
			}
		}
	case errors.Is(result.Err, ai.ErrMaxRounds):
		slog.Warn("conversation ended without an answer", "user_id", msg.UserID, "error", result.Err)
	default:
		slog.Error("conversation failed", "user_id", msg.UserID, "error", result.Err)
		return reply, newError(ErrorUpstream, "model call failed", result.Err)
	}
	if sendErr != nil {
		return reply, newError(ErrorDelivery, "reply not delivered", sendErr)
	}
	return reply, nil
}

func (s *Service) respond(ctx context.Context, msg models.InboundMessage, bundle models.ContextBundle) (res ai.Result) {
	if s.responder == nil {
		return ai.Result{Reply: ai.Apology, Err: errors.New("responder not configured")}
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("conversation panicked", "user_id", msg.UserID, "panic", r)
			res = ai.Result{Reply: ai.Apology, Err: errors.New("conversation panicked")}
		}
	}()
	return s.responder.Run(ctx, ai.Request{Message: msg, Bundle: bundle})
}
