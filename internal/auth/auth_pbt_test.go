package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"pgregory.net/rapid"
)

// Property: a token issued for an operator validates back to the same
// address with a 24 hour lifetime.
func TestPropertyJWTRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		address := rapid.StringMatching(`0x[a-fA-F0-9]{40}`).Draw(rt, "address")
		secret := rapid.StringMatching(`[a-zA-Z0-9]{8,64}`).Draw(rt, "secret")
		svc := NewService(newMemNonces(), secret, []string{address})

		tokenStr, err := svc.issueJWT(address)
		if err != nil {
			rt.Fatalf("issueJWT: %v", err)
		}
		claims, err := svc.ValidateJWT(tokenStr)
		if err != nil {
			rt.Fatalf("ValidateJWT: %v", err)
		}
		if claims.Address != address {
			rt.Fatalf("address mismatch: got %q, want %q", claims.Address, address)
		}
		ttl := claims.ExpiresAt.Sub(claims.IssuedAt)
		if ttl < 23*time.Hour+59*time.Minute || ttl > 24*time.Hour+time.Minute {
			rt.Fatalf("TTL = %v, want ~24h", ttl)
		}
	})
}

// Property: expired, foreign-signed, malformed and non-operator tokens never
// yield claims.
func TestPropertyInvalidJWTRejection(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		secret := rapid.StringMatching(`[a-zA-Z0-9]{8,64}`).Draw(rt, "secret")
		address := rapid.StringMatching(`0x[a-fA-F0-9]{40}`).Draw(rt, "address")
		svc := NewService(newMemNonces(), secret, []string{address})

		sign := func(sub string, iat time.Time, key []byte) string {
			tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
				"sub": sub,
				"iat": jwt.NewNumericDate(iat),
				"exp": jwt.NewNumericDate(iat.Add(24 * time.Hour)),
			})
			s, _ := tok.SignedString(key)
			return s
		}

		var tokenStr string
		strategy := rapid.SampledFrom([]string{"expired", "wrong_secret", "malformed", "not_operator"}).Draw(rt, "strategy")
		switch strategy {
		case "expired":
			hoursAgo := rapid.IntRange(25, 720).Draw(rt, "hours_ago")
			tokenStr = sign(address, time.Now().Add(-time.Duration(hoursAgo)*time.Hour), svc.jwtSecret)
		case "wrong_secret":
			wrong := rapid.StringMatching(`[a-zA-Z0-9]{8,64}`).
				Filter(func(s string) bool { return s != secret }).
				Draw(rt, "wrong_secret")
			tokenStr = sign(address, time.Now(), []byte(wrong))
		case "malformed":
			tokenStr = rapid.StringMatching(`[a-zA-Z0-9]{5,100}`).Draw(rt, "garbage")
		case "not_operator":
			other := rapid.StringMatching(`0x[a-fA-F0-9]{40}`).
				Filter(func(s string) bool { return !svc.isOperator(s) }).
				Draw(rt, "other")
			tokenStr = sign(other, time.Now(), svc.jwtSecret)
		}

		claims, err := svc.ValidateJWT(tokenStr)
		if err == nil || claims != nil {
			rt.Fatalf("%s token accepted: %+v", strategy, claims)
		}
	})
}
