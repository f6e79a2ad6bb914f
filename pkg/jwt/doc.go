// Package jwt authenticates billing API callers with HS256 bearer tokens.
//
// The token subject is the user id. Middleware rejects requests without a valid
// token and stores the subject in the request context:
//
//	svc, err := jwt.New(cfg)
//	r.With(jwt.Middleware(svc, nil)).Get("/subscription", h)
//
//	userID, ok := jwt.UserIDFromContext(r.Context())
package jwt
