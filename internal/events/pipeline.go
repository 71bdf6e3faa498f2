package events

import "time"

// PublishTickRejected publishes a dropped tick
func PublishTickRejected(p Publisher, symbol, reason string, price float64) {
	p.Publish(Event{
		Type: EventTickRejected,
		Data: map[string]interface{}{
			"symbol": symbol,
			"reason": reason,
			"price":  price,
		},
	})
}

// PublishSetupArmed publishes a newly armed setup
func PublishSetupArmed(p Publisher, setupID, symbol, direction string, zoneLow, zoneHigh float64) {
	p.Publish(Event{
		Type: EventSetupArmed,
		Data: map[string]interface{}{
			"setup_id":  setupID,
			"symbol":    symbol,
			"direction": direction,
			"zone_low":  zoneLow,
			"zone_high": zoneHigh,
		},
	})
}

// PublishSetupExpired publishes a setup that timed out
func PublishSetupExpired(p Publisher, setupID, symbol, direction string, barsWaited int) {
	p.Publish(Event{
		Type: EventSetupExpired,
		Data: map[string]interface{}{
			"setup_id":    setupID,
			"symbol":      symbol,
			"direction":   direction,
			"bars_waited": barsWaited,
		},
	})
}

// PublishSetupConfirmed publishes a confirmation candle
func PublishSetupConfirmed(p Publisher, setupID, symbol, direction, tier string, entry float64, barsWaited int) {
	p.Publish(Event{
		Type: EventSetupConfirmed,
		Data: map[string]interface{}{
			"setup_id":    setupID,
			"symbol":      symbol,
			"direction":   direction,
			"tier":        tier,
			"entry":       entry,
			"bars_waited": barsWaited,
		},
	})
}

// PublishPositionOpened publishes a new position
func PublishPositionOpened(p Publisher, positionID, symbol, direction string, entry, stop float64, contracts int) {
	p.Publish(Event{
		Type: EventPositionOpened,
		Data: map[string]interface{}{
			"position_id": positionID,
			"symbol":      symbol,
			"direction":   direction,
			"entry":       entry,
			"stop":        stop,
			"contracts":   contracts,
		},
	})
}

// PublishPositionScaled publishes a target-1 scale out
func PublishPositionScaled(p Publisher, positionID, symbol string, exit float64, remaining int, partialPnL float64) {
	p.Publish(Event{
		Type: EventPositionScaled,
		Data: map[string]interface{}{
			"position_id": positionID,
			"symbol":      symbol,
			"exit":        exit,
			"remaining":   remaining,
			"partial_pnl": partialPnL,
		},
	})
}

// PublishPositionClosed publishes a full exit
func PublishPositionClosed(p Publisher, positionID, symbol, reason string, exit, totalPnL float64) {
	p.Publish(Event{
		Type: EventPositionClosed,
		Data: map[string]interface{}{
			"position_id": positionID,
			"symbol":      symbol,
			"reason":      reason,
			"exit":        exit,
			"total_pnl":   totalPnL,
		},
	})
}

// PublishError publishes an error event
func PublishError(p Publisher, source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	p.Publish(Event{Type: EventError, Data: data})
}

// PublishBarSealed publishes a closed bar
func PublishBarSealed(p Publisher, symbol string, start time.Time, close, volume float64) {
	p.Publish(Event{
		Type: EventBarSealed,
		Data: map[string]interface{}{
			"symbol": symbol,
			"start":  start,
			"close":  close,
			"volume": volume,
		},
	})
}

// PublishSignalRejected publishes a confirmed setup that did not become a position
func PublishSignalRejected(p Publisher, setupID, symbol, reason string, confidence float64) {
	p.Publish(Event{
		Type: EventSignalRejected,
		Data: map[string]interface{}{
			"setup_id":   setupID,
			"symbol":     symbol,
			"reason":     reason,
			"confidence": confidence,
		},
	})
}

// PublishCircuitTripped publishes a halt of new entries
func PublishCircuitTripped(p Publisher, reason string, consecutiveLosses int, dailyLoss float64) {
	p.Publish(Event{
		Type: EventCircuitTripped,
		Data: map[string]interface{}{
			"reason":             reason,
			"consecutive_losses": consecutiveLosses,
			"daily_loss":         dailyLoss,
		},
	})
}
