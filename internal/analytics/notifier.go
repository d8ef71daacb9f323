package analytics

import (
	"context"

	"github.com/noah-isme/backend-klinik/internal/events"
)

// CacheNotifier drops cached analytics whenever a balance-changing event is emitted.
type CacheNotifier struct {
	Service *Service
}

// Notify implements events.Notifier.
func (n CacheNotifier) Notify(ctx context.Context, ev events.Event) error {
	if n.Service == nil || !(events.PatientScoped(ev.Topic) || ev.Topic == events.TopicBalanceRecomputed) {
		return nil
	}
	return n.Service.Invalidate(ctx)
}
