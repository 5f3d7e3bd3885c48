package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

type keyEntry struct {
	kid    string
	secret []byte
}

// Local verifies and issues HS256 tokens in-process, compatible with the
// external token service: secrets carry a key id, the active kid signs,
// verification tries the token's kid first and then every known secret.
type Local struct {
	keys      []keyEntry
	activeKID string
}

// NewLocal parses a "kid1:secret1,kid2:secret2" secret list. An empty
// activeKID selects the first entry.
func NewLocal(secrets, activeKID string) (*Local, error) {
	var keys []keyEntry
	for _, part := range strings.Split(secrets, ",") {
		kid, sec, ok := strings.Cut(part, ":")
		kid, sec = strings.TrimSpace(kid), strings.TrimSpace(sec)
		if !ok || kid == "" || sec == "" {
			continue
		}
		keys = append(keys, keyEntry{kid: kid, secret: []byte(sec)})
	}
	if len(keys) == 0 {
		return nil, errors.New("auth: no usable kid:secret pairs")
	}
	if activeKID == "" {
		activeKID = keys[0].kid
	}
	found := false
	for _, k := range keys {
		if k.kid == activeKID {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("auth: active kid %q not in secret list", activeKID)
	}
	return &Local{keys: keys, activeKID: activeKID}, nil
}

func (l *Local) Issue(_ context.Context, subject string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", errors.New("auth: empty subject")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	})
	token.Header["kid"] = l.activeKID
	return token.SignedString(l.activeSecret())
}

func (l *Local) activeSecret() []byte {
	for _, k := range l.keys {
		if k.kid == l.activeKID {
			return k.secret
		}
	}
	return l.keys[0].secret
}

func (l *Local) Verify(_ context.Context, tokenStr string) (Claims, bool) {
	if tokenStr == "" {
		return Claims{}, false
	}
	for _, secret := range l.candidateSecrets(tokenStr) {
		claims := &jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims,
			func(*jwt.Token) (any, error) { return secret, nil },
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		)
		if err != nil || !token.Valid || claims.Subject == "" {
			continue
		}
		return Claims{Subject: claims.Subject, Expiry: claims.ExpiresAt.Time}, true
	}
	log.Debug().Str("module", "auth").Msg("token verification failed")
	return Claims{}, false
}

// candidateSecrets orders secrets for verification: the token's kid when
// known, otherwise all of them.
func (l *Local) candidateSecrets(tokenStr string) [][]byte {
	var kid string
	parser := jwt.NewParser()
	if token, _, err := parser.ParseUnverified(tokenStr, jwt.MapClaims{}); err == nil {
		kid, _ = token.Header["kid"].(string)
	}
	if kid != "" {
		for _, k := range l.keys {
			if k.kid == kid {
				return [][]byte{k.secret}
			}
		}
	}
	out := make([][]byte, 0, len(l.keys))
	for _, k := range l.keys {
		out = append(out, k.secret)
	}
	return out
}
