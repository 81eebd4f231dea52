package events

import (
	"context"

	"github.com/alanyoungcy/nftmarket/internal/notify"
)

// NotifyPublisher forwards events to chat channels through a Notifier,
// honouring its per-kind filter.
type NotifyPublisher struct {
	notifier *notify.Notifier
}

func NewNotifyPublisher(n *notify.Notifier) *NotifyPublisher {
	return &NotifyPublisher{notifier: n}
}

func (p *NotifyPublisher) Name() string { return "notify" }

func (p *NotifyPublisher) Publish(ctx context.Context, env Envelope) error {
	kind := string(env.Event.Kind)
	if !p.notifier.Enabled(kind) {
		return nil
	}
	title, msg := notify.FormatEvent(env.Event)
	return p.notifier.Notify(ctx, kind, title, msg)
}

var _ Publisher = (*NotifyPublisher)(nil)
