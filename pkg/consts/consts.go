package consts

import "time"

const (
	// DefaultSessionTTL is how long a session record lives after its last
	// write to the session store.
	DefaultSessionTTL = time.Hour

	// DefaultResponseTimeout bounds how long a transport waits for the
	// engine to answer a single request.
	DefaultResponseTimeout = 30 * time.Second

	// DefaultMaxBodyBytes caps inbound request bodies, currently 4MB.
	DefaultMaxBodyBytes = 4 * 1024 * 1024

	// DefaultRegistrySize is the maximum number of live transports kept in
	// memory before the least recently used are evicted.
	DefaultRegistrySize = 10_000

	DefaultHost     = "0.0.0.0"
	DefaultPort     = 8787
	DefaultEndpoint = "/mcp"

	DefaultRedisPrefix = "mcpedge"

	// DefaultProtocolVersion seeds recreated engine sessions when the client
	// didn't send a protocol version header.
	DefaultProtocolVersion = "2025-03-26"

	// ServerName is reported in the initialize result.
	ServerName = "mcpedge"

	// StartTimeout and StopTimeout bound service Pre and Stop.
	StartTimeout = 15 * time.Second
	StopTimeout  = 30 * time.Second
)
