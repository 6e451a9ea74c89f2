package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/fx"

	"github.com/Alijeyrad/carebook_backend/internal/events"
	"github.com/Alijeyrad/carebook_backend/internal/service/notification"
	"github.com/Alijeyrad/carebook_backend/pkg/reqctx"
)

const notifyTimeout = 30 * time.Second

// WorkerModule registers all NATS event workers.
var WorkerModule = fx.Module("workers",
	fx.Invoke(RegisterWorkers),
)

type WorkerParams struct {
	fx.In

	Lc       fx.Lifecycle
	NC       *nats.Conn
	NotifSvc notification.Service
}

func RegisterWorkers(p WorkerParams) {
	var subs []*nats.Subscription
	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			subs = startNotificationWorker(p.NC, p.NotifSvc)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return nil
		},
	})
}

// ---------------------------------------------------------------------------
// notification_worker
// ---------------------------------------------------------------------------

func startNotificationWorker(nc *nats.Conn, svc notification.Service) []*nats.Subscription {
	var subs []*nats.Subscription

	if s := subscribe(nc, events.SubjectStatusChanged, svc.StatusChanged); s != nil {
		subs = append(subs, s)
	}
	if s := subscribe(nc, events.SubjectBalanceCredited, svc.BalanceCredited); s != nil {
		subs = append(subs, s)
	}
	if s := subscribe(nc, events.SubjectPayoutFinalized, svc.PayoutFinalized); s != nil {
		subs = append(subs, s)
	}

	slog.Info("notification_worker: started", "subscriptions", len(subs))
	return subs
}

// subscribe decodes every message under prefix.* into T and hands it to fn.
// Delivery failures are logged; the engine never waits on notifications.
func subscribe[T any](nc *nats.Conn, prefix string, fn func(context.Context, T) error) *nats.Subscription {
	sub, err := nc.Subscribe(events.Subject(prefix, "*"), func(msg *nats.Msg) {
		ev, err := events.Decode[T](msg.Data)
		if err != nil {
			slog.Warn("notification_worker: bad payload", "subject", msg.Subject, "err", err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		var rid string
		if msg.Header != nil {
			rid = msg.Header.Get(events.HeaderRequestID)
		}
		ctx = reqctx.WithOrigin(ctx, reqctx.OriginEvent, rid)

		if err := fn(ctx, ev); err != nil {
			slog.WarnContext(ctx, "notification_worker: deliver failed", "subject", msg.Subject, "err", err)
		}
	})
	if err != nil {
		slog.Error("notification_worker: subscribe failed", "subject", prefix, "err", err)
		return nil
	}
	return sub
}
