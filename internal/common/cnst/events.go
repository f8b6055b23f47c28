package cnst

// Logical namespaces. Each namespace is carried by its own session and
// transport; there is no ordering guarantee across namespaces.
const (
	// NamespaceNotifications carries per-user notification events
	NamespaceNotifications = "notifications"
	// NamespaceDashboard carries provider dashboard update events
	NamespaceDashboard = "dashboard"
	// NamespaceChat carries conversation message events
	NamespaceChat = "chat"
)

// Wire event names.
const (
	// EventNotificationNew is emitted by the server when a notification is created
	EventNotificationNew = "notification:new"
	// EventNotificationRead is emitted by the server when a notification's read state changes
	EventNotificationRead = "notification:read"
	// EventDashboardUpdate is emitted by the server when dashboard data changes
	EventDashboardUpdate = "dashboard:update"
	// EventMessageNew is emitted by the server when a chat message is created
	EventMessageNew = "message:new"
	// EventMessageSend is emitted by the client to send a chat message
	EventMessageSend = "message:send"
)

// Streams served by the history API. Stream names double as the path
// segment of the paginated REST endpoints.
const (
	StreamNotifications = "notifications"
	StreamDashboard     = "dashboard"
	StreamMessages      = "messages"
)
