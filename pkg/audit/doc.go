// Package audit records security and rental events to the audit_events table.
//
// Handlers and services hold a *Recorder and call one method per transition:
//
//	recorder.AccessDenied(ctx, &userID, "rent", "destroy", "no matching statement")
//	recorder.BookReturned(ctx, actorID, bookID, rentID, "UNPAID", fee)
//
// Audit writes are best effort. A failing sink is logged at warn level and the
// request proceeds. When auditing is disabled the recorder wraps NoOpLogger.
package audit
