package events

// Event enumerates high-level topics inside the position engine.
type Event string

const (
	EventTradeOpened       Event = "trade.opened"
	EventTradeProtected    Event = "trade.protected"
	EventTradePartial      Event = "trade.partially_closed"
	EventTradeClosed       Event = "trade.closed"
	EventTradeAborted      Event = "trade.aborted"
	EventSignalReceived    Event = "signal.received"
	EventSignalRejected    Event = "signal.rejected"
	EventRiskPaused        Event = "risk.paused"
	EventRiskResumed       Event = "risk.resumed"
	EventRiskAuditMismatch Event = "risk.audit_mismatch"
	EventProtectionAlert   Event = "protection.alert"
)
