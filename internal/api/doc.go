// Package api exposes the conversion pipeline over HTTP.
//
// Every batch operation is scoped to a session ID carried in the path, so a
// chat bot, web front end or script can each drive their own batch:
//
//	POST /api/sessions/{sid}/uploads   multipart "files", images or archives
//	GET  /api/sessions/{sid}/batch     current batch summary
//	POST /api/sessions/{sid}/format    {"format":"webp"} or {"selection":"convert_webp"}
//	POST /api/sessions/{sid}/convert   NDJSON stream of progress then summary
//	POST /api/sessions/{sid}/cancel    stop a running conversion
//	GET  /api/downloads/{id}           result archive, released after delivery
//	GET  /api/stats?scope=today        admin only, identified by X-User-ID
//	GET  /api/formats                  supported targets
//	GET  /api/health                   liveness
//
// Errors are JSON objects carrying a machine-readable code taken from
// pipeline.Classify. When a bearer token is configured every route except
// /api/health requires it.
package api
