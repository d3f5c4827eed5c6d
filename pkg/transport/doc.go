// Package transport holds the HTTP plumbing shared by the toolgate control
// API: the JSON error envelope, the mapping from tool errors to status
// codes, and net/http middleware for panic recovery, request IDs and
// request logging.
//
// Middleware is applied in order: the first middleware in a chain is the
// outermost wrapper. The HTTP routes themselves live in the http
// subpackage.
package transport
