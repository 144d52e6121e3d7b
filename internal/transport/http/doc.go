// Package http implements the HTTP handlers of the harness server. Handlers
// are a thin layer over internal/services: they parse the request, call the
// service and render the result.
//
// # Endpoints
//
//	POST /api/clearkey/license   raw license request -> JSON Web Key set
//	GET  /api/clearkey/keys      key ids known to the key table
//	GET  /api/media/selection    ?audio=&video= -> tracks and key system configuration
//	POST /api/simulate           run the simulated key exchange
//	POST /api/client-log         log line from the harness page
//	GET  /api/health             readiness of every component
//	GET  /api/health/live        liveness with runtime counters
//	GET  /api/version            build information
//	GET  /media/*                media files with byte range support
//	GET  /ws                     harness event stream
//
// # Error Handling
//
// Errors are written as RFC 7807 problem details by errors.ErrorHandler:
//
//	{
//	    "type": "/errors/clearkey/unknown-key-id",
//	    "title": "Unknown Key ID",
//	    "status": 404,
//	    "detail": "unknown key id: QU-g5jS0AZ7fyJfhfCE3hg",
//	    "instance": "/api/clearkey/license"
//	}
//
// # Testing
//
// Handlers are tested with httptest against real services built on the
// compiled-in key table.
package http
