package eventbus

import (
	"github.com/annel0/tilesync/internal/logging"
	"github.com/annel0/tilesync/internal/world"
)

// StartLoggingListener подписывается на все события и пишет их в DEBUG лог.
func StartLoggingListener(bus *Bus) Subscription {
	logger := logging.GetEventsLogger()
	sub := bus.SubscribeAll(func(ev world.Event) {
		if !logger.Enabled(logging.DEBUG) {
			return
		}
		logger.Debug("[EventBus] %s %+v", ev.GetType(), ev)
	})
	logger.Info("🪵 LoggingListener: подписка на все события активирована")
	return sub
}
