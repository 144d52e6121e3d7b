package config

import "time"

// Application constants
const (
	AppName    = "EME Harness"
	AppVersion = "1.0.0"

	ServiceName = "eme-harness"
	EnvPrefix   = "EME"

	// EnvConfigFile names the YAML config file.
	EnvConfigFile = "EME_CONFIG"

	DefaultPort         = 8080
	DefaultChunkSize    = 1 << 20
	DefaultLogFile      = "logs/eme-harness.log"
	DefaultMediaDir     = "media"
	WebSocketPingPeriod = 30 * time.Second
	WebSocketPongWait   = 60 * time.Second
)
