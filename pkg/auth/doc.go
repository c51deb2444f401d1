// Package auth models the request principal and the credential services used
// at the account boundary.
//
// Passwords are hashed with bcrypt (BcryptHasher). Access tokens are HS256 JWTs
// whose subject is the user id; they carry no role or admin claims, so a
// revoked role or cleared admin flag takes effect on the next request.
//
//	tm := auth.NewTokenManager(secret, 24*time.Hour, clockwork.NewRealClock())
//	token, expiresAt, err := tm.IssueToken(user.ID)
//	userID, err := tm.ParseToken(token)
//
// The middleware stores an *AuthContext in the request context; FromContext
// returns nil for anonymous requests and every AuthContext method is safe to
// call on nil.
package auth
