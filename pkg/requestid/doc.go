// Package requestid tags every HTTP request with a correlation id.
//
// Middleware reads X-Request-ID or generates a ULID, and LoggerExtractor adds
// it to slog records so webhook and checkout logs of one request line up.
package requestid
