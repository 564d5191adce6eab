// Package api holds the wire types of the codexmirror HTTP API.
//
// # API Overview
//
//   - POST /api/v1/dispatch            run the council on one task
//   - GET|PUT /api/v1/prephase         read or toggle the pre-phase gate
//   - GET /api/v1/state                current result state, gate progress included
//   - GET /api/v1/roster               the configured panel
//   - GET /api/v1/briefing             proactive briefing (?refresh=true skips the cache)
//   - POST /api/v1/briefing/dispatch   dispatch one suggested action
//   - POST /api/v1/media/image         generate one image
//   - POST /api/v1/media/video         generate one video, blocking
//   - GET /api/v1/media/video/ws       generate one video, streaming progress frames
//   - GET /api/v1/media/content        bytes of the current media artifact
//
// Every JSON response uses the envelope
//
//	{"success": true, "data": ..., "error": null, "timestamp": "...", "request_id": "..."}
//
// # Authentication
//
// When API keys are configured, requests carry the X-API-Key header:
//
//	X-API-Key: your-api-key
//
// When a JWT secret is configured, requests carry a bearer token instead.
package api
