package engine

import (
	"context"
	"fmt"
	"net/http"

	"github.com/scanenginehq/scanengine/internal/domain"
	"github.com/scanenginehq/scanengine/internal/transport"
)

// The methods below implement server.Backend.

// QueuesStatus reports every stage's state and counters plus the global
// gates.
func (e *Engine) QueuesStatus() map[string]any {
	return map[string]any{
		"scan":           e.scan.Stats(),
		"storage":        e.storage.Stats(),
		"price":          e.price.Stats(),
		"order_queue":    e.orderQueue.Stats(),
		"dispatcher":     e.dispatch.Stats(),
		"emergency_stop": e.cfgMgr.Get().EmergencyStop,
		"daily":          e.cfgMgr.GetDailyStats(),
	}
}

// ControlScan drives the scan stage's state machine.
func (e *Engine) ControlScan(action string) error {
	switch action {
	case "start":
		return e.scan.Start(context.Background())
	case "stop":
		e.scan.Stop()
	case "pause":
		e.scan.Pause()
	case "resume":
		e.scan.Resume()
	default:
		return fmt.Errorf("engine: unknown scan action %q", action)
	}
	return nil
}

// ControlPrice starts or stops the price stage.
func (e *Engine) ControlPrice(action string) error {
	switch action {
	case "start":
		return e.price.Start(context.Background())
	case "stop":
		e.price.Stop()
	default:
		return fmt.Errorf("engine: unknown price action %q", action)
	}
	return nil
}

// StrategyConfigs returns every strategy's current configuration.
func (e *Engine) StrategyConfigs() (map[string]map[string]any, error) {
	out := make(map[string]map[string]any, 3)
	for _, tag := range []string{domain.StrategyMintSplit, domain.StrategyArbitrageLong, domain.StrategyMarketMaking} {
		cfg, err := e.cfgMgr.GetStrategy(tag)
		if err != nil {
			return nil, err
		}
		out[tag] = cfg
	}
	return out, nil
}

// UpdateStrategyConfig deep-merges a partial configuration for one
// strategy.
func (e *Engine) UpdateStrategyConfig(ctx context.Context, tag string, cfg map[string]any) error {
	return e.cfgMgr.Update(ctx, tag, cfg)
}

// StrategyStatus reports today's found/success/profit per strategy.
func (e *Engine) StrategyStatus() map[string]any {
	out := make(map[string]any, 3)
	for _, s := range e.registry.All() {
		out[s.Name()] = s.Stats()
	}
	return out
}

// SetEmergencyStop engages or clears the global trading halt.
func (e *Engine) SetEmergencyStop(engaged bool) {
	if engaged {
		e.cfgMgr.EmergencyStop()
		return
	}
	e.cfgMgr.ClearEmergencyStop()
}

// RecentRequests returns the in-memory tail of the HTTP request log.
func (e *Engine) RecentRequests() []transport.LogRecord {
	return e.ringSink.Recent()
}

// MetricsHandler exposes the Prometheus registry.
func (e *Engine) MetricsHandler() http.Handler {
	return e.metrics.Handler()
}
