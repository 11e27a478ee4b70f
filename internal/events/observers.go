package events

import (
	"go.uber.org/zap"
)

// ChannelObserver buffers events on a channel. When the buffer is full the
// event is dropped rather than blocking the emitter.
type ChannelObserver struct {
	ch chan Event
}

// NewChannelObserver creates an observer with the given buffer size.
func NewChannelObserver(size int) *ChannelObserver {
	return &ChannelObserver{ch: make(chan Event, size)}
}

// OnEvent implements Observer.
func (c *ChannelObserver) OnEvent(e Event) {
	select {
	case c.ch <- e:
	default:
		EventsDroppedTotal.WithLabelValues(string(e.Kind())).Inc()
	}
}

// Events returns the receive side of the buffer.
func (c *ChannelObserver) Events() <-chan Event {
	return c.ch
}

// LogObserver writes every event to a zap logger.
type LogObserver struct {
	logger *zap.Logger
}

// NewLogObserver creates a logging observer.
func NewLogObserver(logger *zap.Logger) *LogObserver {
	return &LogObserver{logger: logger}
}

// OnEvent implements Observer.
func (l *LogObserver) OnEvent(e Event) {
	msg := string(e.Kind())

	switch ev := e.(type) {
	case StrategyCoordinated:
		l.logger.Info(msg,
			zap.String("group-id", ev.Group.ID),
			zap.Strings("exchanges", ev.Group.Exchanges),
			zap.Int("strategies", len(ev.Group.Strategies)))
	case ArbitrageExecuted:
		l.logger.Info(msg,
			zap.String("execution-id", ev.Execution.ID),
			zap.String("pair", ev.Execution.Pair),
			zap.String("buy-exchange", ev.Execution.BuyExchange),
			zap.String("sell-exchange", ev.Execution.SellExchange),
			zap.Float64("profit-percent", ev.Execution.ProfitPercent))
	case ExchangeFailover:
		fields := []zap.Field{
			zap.String("group-id", ev.GroupID),
			zap.String("exchange", ev.Exchange),
			zap.String("outcome", string(ev.Outcome)),
			zap.Strings("strategy-ids", ev.StrategyIDs),
		}
		if ev.Fallback != "" {
			fields = append(fields, zap.String("fallback", ev.Fallback))
		}
		if len(ev.StopErrors) > 0 {
			fields = append(fields, zap.Any("stop-errors", ev.StopErrors))
			l.logger.Warn(msg, fields...)
			return
		}
		l.logger.Info(msg, fields...)
	case ExchangeStatusChanged:
		l.logger.Info(msg,
			zap.String("exchange", ev.Exchange),
			zap.String("from", string(ev.From)),
			zap.String("to", string(ev.To)),
			zap.Int64("latency-ms", ev.Status.LatencyMs),
			zap.Int("error-count", ev.Status.ErrorCount))
	case RebalanceProposed:
		l.logger.Info(msg,
			zap.String("asset", ev.Asset),
			zap.Any("allocations", ev.Allocations),
			zap.Any("transfers", ev.Transfers))
	case StrategyStopped:
		l.logger.Info(msg,
			zap.String("group-id", ev.GroupID),
			zap.Strings("strategy-ids", ev.StrategyIDs),
			zap.Any("stop-errors", ev.StopErrors))
	default:
		l.logger.Info(msg)
	}
}
