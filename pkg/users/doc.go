// Package users manages accounts and issues access tokens.
//
// Emails are stored with a lower-cased domain and must be unique. Only
// admins may set is_admin or is_active. Deleting a user detaches books,
// tags and rent records that referenced it (their columns become NULL) and
// removes the user's role bindings and reviews, all in one transaction.
//
// POST /auth/token exchanges a username and password for a bearer token
// signed by auth.TokenManager; the route is meant to be wrapped by the
// rate limiter from pkg/middleware.
package users
