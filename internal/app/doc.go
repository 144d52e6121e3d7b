// Package app wires the harness server together: configuration, logging,
// telemetry, the key table, services, HTTP routes and the websocket hub.
//
// # Initialization Flow
//
//	1. Load configuration from defaults, the YAML file and the environment
//	2. Initialize logging and OpenTelemetry
//	3. Load the key table and build the clearkey responder
//	4. Create the services and the websocket hub
//	5. Set up the router and its middleware
//	6. Create the HTTP server
//
// # Usage
//
//	application, err := app.NewApplication(cfg)
//	if err != nil {
//	    return err
//	}
//	return application.Run(ctx)
//
// # Graceful Shutdown
//
// Run returns after SIGINT, SIGTERM or cancellation of its context. In-flight
// requests complete, websocket clients receive a close frame and telemetry
// is flushed.
//
// The package never calls os.Exit; main decides the exit code.
package app
