// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Overview
//
// This package offers helper functions for JSON encoding/decoding, error responses,
// parameter parsing, and common HTTP middleware patterns.
//
// # Response Helpers
//
// JSON responses:
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteAccepted(w, jobRef)
//	httputil.WriteMultiStatus(w, batchResults)
//
// Error responses:
//
//	httputil.WriteError(w, http.StatusBadRequest, err)
//	httputil.WriteUnauthorized(w, "Token expired")
//	httputil.WriteForbidden(w, "Insufficient permissions")
//	httputil.WriteNotFoundError(w, "job not found")
//
// # Request Parsing
//
// JSON parsing:
//
//	var req EnrollmentWriteRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
// Path parameters:
//
//	programKey, ok := httputil.ParsePathStringOrError(w, r, "program_key")
//
// Query parameters:
//
//	fmtName := httputil.ParseQueryString(r, "fmt", "json")
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RecoveryMiddleware,
//		httputil.ContentTypeMiddleware,
//		httputil.MaxBytesMiddleware(4*1024*1024),
//	)
//
// # Related Packages
//
//   - pkg/middleware: Authentication and request context middleware
package httputil
