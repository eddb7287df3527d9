package notify

import (
	"context"
	"log/slog"
)

// Trigger names emitted to the push-notification collaborator.
// Delivery is out of scope; this core only raises the trigger.
const (
	TriggerMatchCommitted     = "match.committed"
	TriggerDateProposed       = "date.proposed"
	TriggerDateResponded      = "date.responded"
	TriggerPerkReady          = "perk.ready"
	TriggerHandshakeCompleted = "handshake.completed"
)

// Trigger is one notification event for a match.
type Trigger struct {
	Name        string
	MatchID     uint64
	ActorUserID uint64 // 0 when no single actor applies
	Accepted    bool   // date.responded only
}

// Notifier is the boundary to the push-notification collaborator.
type Notifier interface {
	Notify(ctx context.Context, t Trigger)
}

// LogNotifier emits triggers as structured log lines. Used until the
// real push collaborator is wired in, and in tests.
type LogNotifier struct {
	Logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{Logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, t Trigger) {
	n.Logger.Info("notification trigger",
		"trigger", t.Name,
		"match_id", t.MatchID,
		"actor_user_id", t.ActorUserID,
	)
}

// Recorder captures triggers in order; test double.
type Recorder struct {
	Triggers []Trigger
}

func (r *Recorder) Notify(ctx context.Context, t Trigger) {
	r.Triggers = append(r.Triggers, t)
}
