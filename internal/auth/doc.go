// Package auth resolves who is calling the API.
//
// Browsers sign in through /api/auth/login and carry a session cookie backed
// by the sqlite sessions table; cookie-authenticated writes must echo the
// token from /api/auth/csrf in X-CSRF-Token. API clients send
// "Authorization: Bearer <token>" with a token from POST /api/auth/token.
//
// Authenticate resolves the actor for every request and lets anonymous
// requests through; RequireRole and RequireAuth guard individual routes.
// Roles nest: superadmin > admin (uploader) > customer.
package auth
