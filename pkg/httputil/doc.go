// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteSuccess(w, book)
//	httputil.WriteCreated(w, rent)
//	httputil.WriteNoContent(w)
//
// Service errors are translated by WriteAppError using their apperrors.Kind:
//
//	validation, business_rule  400
//	unauthorized               401
//	access_denied              403
//	not_found                  404
//	unprocessable              422
//	internal, unclassified     500 (logged, cause never returned)
//
// # Request Parsing
//
// Request bodies are decoded and checked against their `validate` struct tags
// (github.com/go-playground/validator/v10). Field errors are reported under the
// JSON field name:
//
//	var req CreateBookRequest
//	if err := httputil.DecodeAndValidate(r, &req); err != nil {
//		httputil.WriteAppError(w, r, err)
//		return
//	}
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.LoggerMiddleware(logger),
//		httputil.RequestIDMiddleware,
//		httputil.RecoveryMiddleware,
//		httputil.LoggingMiddleware,
//	)(router)
package httputil
