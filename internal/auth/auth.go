// Package auth fronts the token issuance/verification collaborator. The
// signaling server never treats a verifier failure as a crash condition:
// anything other than a clean positive answer is "unauthenticated".
package auth

import (
	"context"
	"time"
)

type Claims struct {
	Subject string
	Expiry  time.Time
}

// Verifier answers "who does this token belong to". The boolean is the
// whole failure surface; callers deny on false and move on.
type Verifier interface {
	Verify(ctx context.Context, token string) (Claims, bool)
}

type Issuer interface {
	Issue(ctx context.Context, subject string, ttl time.Duration) (string, error)
}
