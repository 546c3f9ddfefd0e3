// Package api provides an HTTP client for the tracker API.
//
// # Overview
//
// The sync layer treats the API as an opaque collaborator. Every response body
// is an envelope:
//
//	{"data": <payload>, "error": "<message>"}
//
// The client never exposes HTTP status codes to callers beyond the *Error type;
// the entity stores only care whether a call produced data or an error.
//
// # Resources
//
//   - GET/PATCH /api/profile: the singleton profile (Document[Profile])
//   - GET/POST /api/events, /api/tasks, /api/sanctions (Collection[E])
//   - PATCH/DELETE /api/{kind}/{id}
//   - GET /api/health: connectivity probe target
//
// # Client Usage
//
//	client, err := api.NewClient("127.0.0.1:8787")
//	if err != nil {
//		return fmt.Errorf("init api client: %w", err)
//	}
//	tasks, err := client.Tasks().List(ctx)
//
// # Request Handling
//
// All requests:
//   - Use context for cancellation and timeout control
//   - Set Accept: application/json and User-Agent: tally/0.1
//   - Have a 10-second timeout on the underlying http.Client
//   - Return wrapped errors with context about what failed
//
// Example error messages:
//   - "execute request: dial tcp: connection refused"
//   - "api PATCH /api/tasks/t1 returned status 422: title required"
//   - "decode response: unexpected end of JSON input"
//
// # Patches
//
// Updates send a Patch (shallow JSON merge). ApplyPatch applies the same merge
// locally so an optimistic update matches what the server is expected to do.
package api
