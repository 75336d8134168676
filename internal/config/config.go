// Package config holds the CLI configuration types.
package config

// Config stores the parameters gathered from flags or interactive prompts.
type Config struct {
	APIBase  string // HTTP base URL of the backend, e.g. http://localhost:8000
	WSBase   string // WebSocket base URL of the relay, e.g. ws://localhost:8000
	Username string
	Password string
}

// Default returns the configuration pointing at a local relay.
func Default() Config {
	return Config{
		APIBase: "http://localhost:8000",
		WSBase:  "ws://localhost:8000",
	}
}
