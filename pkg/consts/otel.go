package consts

const (
	OtelScopeRouter    = "mcpedge.router"
	OtelScopeTransport = "mcpedge.transport"

	OtelAttrSessionID    = "mcp.session.id"
	OtelAttrMethod       = "mcp.method"
	OtelAttrHTTPMethod   = "http.request.method"
	OtelAttrNotification = "mcp.notification"
	OtelAttrRecreated    = "mcp.transport.recreated"
)
