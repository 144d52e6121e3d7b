// Package config loads the harness configuration.
//
// # Configuration Sources
//
// Values are resolved in order of precedence:
//
//	1. Environment variables (highest priority)
//	2. YAML configuration file
//	3. Default values (lowest priority)
//
// # Environment Variables
//
// Variables are namespaced with EME_ and follow the section structure:
//
//	EME_SERVER_PORT=8080
//	EME_LOGGING_LEVEL=debug
//	EME_KEYS_FILE=keys.yaml
//	EME_KEYS_UNKNOWN_KEY_POLICY=omit
//	EME_MEDIA_CHUNK_SIZE=1048576
//
// EME_CONFIG names the YAML file explicitly; otherwise config.yaml and
// configs/config.yaml are tried.
//
// # Testing
//
// Default returns a valid configuration that needs no environment or files.
package config
