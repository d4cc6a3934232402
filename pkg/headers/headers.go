package headers

import (
	"net/http"
)

const (
	// HeaderKeySessionID carries the session id on requests and responses.
	HeaderKeySessionID = "Mcp-Session-Id"
	// HeaderKeyProtocolVersion is the MCP protocol version negotiated at
	// initialize, sent by clients on later requests.
	HeaderKeyProtocolVersion = "Mcp-Protocol-Version"
	// HeaderKeyServerVersion tells clients which build they're talking to.
	HeaderKeyServerVersion = "X-Mcpedge-Version"
)

func StaticHeadersMiddleware(version string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(HeaderKeyServerVersion, version)
			next.ServeHTTP(w, r)
		})
	}
}
