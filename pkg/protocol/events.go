package protocol

// WebSocket event names pushed from server to client.
const (
	EventAgent      = "agent"
	EventChat       = "chat"
	EventHealth     = "health"
	EventAutoprompt = "autoprompt"
	EventPresence   = "presence"
	EventShutdown   = "shutdown"
	EventHeartbeat  = "heartbeat"

	// Cache invalidation events (internal, not forwarded to WS clients).
	EventCacheInvalidate = "cache.invalidate"
)

// Agent event subtypes (in payload.type)
const (
	AgentEventRunStarted   = "run.started"
	AgentEventRunCompleted = "run.completed"
	AgentEventRunFailed    = "run.failed"
	AgentEventToolCall     = "tool.call"
	AgentEventToolResult   = "tool.result"
)

// Chat event subtypes (in payload.type)
const (
	ChatEventChunk   = "chunk"
	ChatEventMessage = "message"
)
