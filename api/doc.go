// Package api defines the request and response bodies of the roadmapflow HTTP API.
//
// # API Overview
//
// roadmapflow exposes a small RESTful API for:
//   - Submitting curriculum generation tasks
//   - Querying task status and listing tasks
//   - Recording human review decisions (resumes the suspended workflow)
//   - Cancelling tasks
//   - Streaming task progress events over WebSocket
//   - Health monitoring
//
// # Authentication
//
// The approve endpoint requires a bearer JWT when auth.jwt_secret is set; the
// token subject is recorded as the reviewer:
//
//	Authorization: Bearer <token>
//
// # Base URL
//
// The default base URL for the API is:
//
//	http://localhost:8080
package api
