// Package services implements the business logic layer of the harness. It
// sits between the HTTP handlers and the domain packages (clearkey, eme,
// mediasource) and owns the cross-cutting concerns: tracing spans, metrics
// and harness log broadcasts.
//
// # Available Services
//
//	- LicenseService: answers clearkey license requests
//	- MediaService: validates media selections against the media directory
//	- SimulationService: runs the encrypted -> message -> update flow
//	  against the simulated CDM
//	- HealthService: health, liveness, readiness and version reporting
//
// Services take their collaborators through constructors and accept a
// context on every operation.
package services
