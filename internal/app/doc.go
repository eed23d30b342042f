// Package app wires the license server together and manages its lifecycle.
//
// # Initialization Flow
//
//	1. Load configuration from defaults, an optional YAML file and LICENSED_* variables
//	2. Initialize logging and OpenTelemetry
//	3. Open the database, Redis and key storage
//	4. Build the key manager, encryption engine, domain, hardware and marketplace services
//	5. Build the license service and the health service
//	6. Set up middleware and routes
//	7. Serve until SIGINT or SIGTERM, then shut down gracefully
//
// # Usage
//
//	application, err := app.NewApplication(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := application.Run(); err != nil {
//	    log.Fatal(err)
//	}
package app
