// Package middleware provides HTTP middleware for authentication and rate limiting.
//
// AuthMiddleware turns a bearer token into an auth.AuthContext. The user row is
// loaded on every request so that admin and active flags are always current.
// A request without an Authorization header continues as anonymous:
//
//	authMW := middleware.NewAuthMiddleware(tokenManager, userStore)
//	router.Use(authMW.Handler)
//
// RateLimitMiddleware limits requests per client IP. It accepts any Limiter:
// the in-process RateLimiter (golang.org/x/time/rate) or the Redis-backed
// DistributedRateLimiter when several API instances share a limit.
//
//	cfg := middleware.LoginRateLimitConfig(10)
//	limiter := middleware.NewDistributedRateLimiter(redisClient, cfg, "rentshelf:login")
//	tokenRoute.Handler(middleware.RateLimitMiddleware(limiter, cfg, logger)(loginHandler))
//
// Limiter errors fail open and are logged.
package middleware
