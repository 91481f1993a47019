package protocol

// RPC method name constants exchanged over the gateway WebSocket connection.
const (
	// System
	MethodConnect = "connect"
	MethodHealth  = "health"
	MethodStatus  = "status"

	// Agent
	MethodAgent = "agent"

	// Chat
	MethodChatSend    = "chat.send"
	MethodChatHistory = "chat.history"
	MethodChatAbort   = "chat.abort"

	// Config
	MethodConfigGet   = "config.get"
	MethodConfigApply = "config.apply"
	MethodConfigPatch = "config.patch"

	// Sessions
	MethodSessionsList    = "sessions.list"
	MethodSessionsPreview = "sessions.preview"
	MethodSessionsReset   = "sessions.reset"
	MethodSessionsDelete  = "sessions.delete"

	// Channels
	MethodChannelsList   = "channels.list"
	MethodChannelsStatus = "channels.status"

	// Autoprompt scheduling
	MethodAutopromptList   = "autoprompt.list"
	MethodAutopromptCreate = "autoprompt.create"
	MethodAutopromptUpdate = "autoprompt.update"
	MethodAutopromptDelete = "autoprompt.delete"
	MethodAutopromptToggle = "autoprompt.toggle"
	MethodAutopromptRun    = "autoprompt.run"

	// Webhooks
	MethodWebhooksList   = "webhooks.list"
	MethodWebhooksCreate = "webhooks.create"
	MethodWebhooksDelete = "webhooks.delete"

	// Agent profiles
	MethodAgentsList   = "agents.list"
	MethodAgentsUpsert = "agents.upsert"
	MethodAgentsDelete = "agents.delete"

	// Providers
	MethodProvidersList   = "providers.list"
	MethodProvidersUpsert = "providers.upsert"
	MethodProvidersDelete = "providers.delete"

	// Usage
	MethodUsageGet     = "usage.get"
	MethodUsageSummary = "usage.summary"

	MethodHeartbeat = "heartbeat"
)
