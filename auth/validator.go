package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acita-gmbh/eaf-sub013/telemetry"
)

// Validation defaults, overridable through Config.
const (
	DefaultMaxTokenBytes = 8192
	DefaultClockSkew     = 60 * time.Second
	DefaultMaxAge        = 24 * time.Hour
)

// Principal is the validated authenticated subject. Immutable after
// validation; the tenant id here is the authoritative one for the whole
// unit of work.
type Principal struct {
	UserID    string
	TenantID  string
	Roles     []string
	JTI       string
	SessionID string
}

// HasRole reports whether the principal carries the given role after
// normalisation.
func (p *Principal) HasRole(role string) bool {
	n, err := NormalizeRole(role)
	if err != nil {
		return false
	}
	for _, r := range p.Roles {
		if r == n {
			return true
		}
	}
	return false
}

// Claims is the contracted token payload. Roles may arrive either as a flat
// "roles" claim or nested under "realm_access.roles" (Keycloak shape).
type Claims struct {
	jwt.RegisteredClaims
	TenantID    string   `json:"tenant_id"`
	Roles       []string `json:"roles"`
	RealmAccess struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
	SessionID string `json:"sid"`
}

// claimSchema is the layer-4 presence/shape contract, enforced with
// struct-tag validation.
type claimSchema struct {
	Subject  string `validate:"required,uuid"`
	Issuer   string `validate:"required"`
	Audience string `validate:"required"`
	JTI      string `validate:"required"`
	TenantID string `validate:"required,uuid"`
}

// Config carries the validator's named options.
type Config struct {
	Issuer        string
	Audience      string
	MaxTokenBytes int
	ClockSkew     time.Duration
	MaxAge        time.Duration

	// InjectionPatterns overrides the default layer-10 pattern list.
	InjectionPatterns []*regexp.Regexp
}

func (c Config) withDefaults() Config {
	if c.MaxTokenBytes <= 0 {
		c.MaxTokenBytes = DefaultMaxTokenBytes
	}
	if c.ClockSkew <= 0 {
		c.ClockSkew = DefaultClockSkew
	}
	if c.MaxAge <= 0 {
		c.MaxAge = DefaultMaxAge
	}
	if c.InjectionPatterns == nil {
		c.InjectionPatterns = defaultInjectionPatterns
	}
	return c
}

// defaultInjectionPatterns cover SQL, script/XSS, LDAP-filter and JNDI
// shapes without tripping on ordinary JSON claim payloads.
var defaultInjectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(union\s+select|insert\s+into|delete\s+from|drop\s+table|exec\s*\()`),
	regexp.MustCompile(`(?i)<\s*script|javascript\s*:|on(load|error|click|mouseover)\s*=`),
	regexp.MustCompile(`(?i)\(\s*[|&]\s*\(`),
	regexp.MustCompile(`(?i)\$\{\s*jndi\s*:`),
}

// TokenValidator runs the ten-layer token validation pipeline.
// Each layer either advances or terminates with a SecurityError; every
// outcome is recorded per layer.
type TokenValidator struct {
	cfg         Config
	keys        jwt.Keyfunc
	revocations RevocationSet
	directory   UserDirectory
	logger      *zap.Logger
	validate    *validator.Validate
	parser      *jwt.Parser
	now         func() time.Time
}

// Option customises a TokenValidator.
type Option func(*TokenValidator)

// WithRevocations wires the revocation set checked by layer 7. Without one
// the layer passes; with one, any lookup error denies the token.
func WithRevocations(rs RevocationSet) Option {
	return func(v *TokenValidator) { v.revocations = rs }
}

// WithDirectory wires the user directory checked by layer 9. Without one the
// layer passes (the identity provider already vouched for the subject).
func WithDirectory(d UserDirectory) Option {
	return func(v *TokenValidator) { v.directory = d }
}

// WithClock overrides the time source. Test use.
func WithClock(now func() time.Time) Option {
	return func(v *TokenValidator) { v.now = now }
}

// NewTokenValidator creates a validator using keys (production: a JWKS
// keyfunc from discovery; tests: a static public key) for signature checks.
func NewTokenValidator(cfg Config, keys jwt.Keyfunc, logger *zap.Logger, opts ...Option) *TokenValidator {
	v := &TokenValidator{
		cfg:      cfg.withDefaults(),
		keys:     keys,
		logger:   logger,
		validate: validator.New(),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

var layerNames = [...]string{
	1:  "format",
	2:  "signature",
	3:  "algorithm",
	4:  "claims",
	5:  "temporal",
	6:  "issuer_audience",
	7:  "revocation",
	8:  "roles",
	9:  "user_status",
	10: "injection",
}

func (v *TokenValidator) pass(layer int) {
	telemetry.TokenValidations.WithLabelValues(layerNames[layer], "ok").Inc()
}

func (v *TokenValidator) reject(err *SecurityError) error {
	telemetry.TokenValidations.WithLabelValues(layerNames[err.Layer], string(err.Code)).Inc()
	v.logger.Warn("token rejected",
		zap.Int("layer", err.Layer),
		zap.String("code", string(err.Code)),
	)
	return err
}

// Validate runs the full pipeline and returns the Principal on success.
//
// Layer order note: the algorithm check runs before signature verification.
// Verifying the signature of an "alg: none" or HMAC token against an RSA key
// set would mask the downgrade attempt as a generic signature failure; the
// observable contract requires UnsupportedAlgorithm for those tokens.
func (v *TokenValidator) Validate(ctx context.Context, tokenString string) (*Principal, error) {
	// Layer 1: format.
	segments, err := v.checkFormat(tokenString)
	if err != nil {
		return nil, v.reject(err)
	}
	v.pass(1)

	headerJSON, secErr := decodeSegment(segments[0])
	if secErr != nil {
		return nil, v.reject(secErr)
	}
	payloadJSON, secErr := decodeSegment(segments[1])
	if secErr != nil {
		return nil, v.reject(secErr)
	}

	// Layer 3: algorithm.
	if secErr := v.checkAlgorithm(headerJSON); secErr != nil {
		return nil, v.reject(secErr)
	}
	v.pass(3)

	// Layer 2: signature.
	claims := &Claims{}
	if _, err := v.parser.ParseWithClaims(tokenString, claims, v.keys); err != nil {
		return nil, v.reject(mapParseError(err))
	}
	v.pass(2)

	// Layer 4: claim schema.
	if secErr := v.checkClaimSchema(claims); secErr != nil {
		return nil, v.reject(secErr)
	}
	v.pass(4)

	// Layer 5: temporal.
	if secErr := v.checkTemporal(claims); secErr != nil {
		return nil, v.reject(secErr)
	}
	v.pass(5)

	// Layer 6: issuer / audience.
	if secErr := v.checkIssuerAudience(claims); secErr != nil {
		return nil, v.reject(secErr)
	}
	v.pass(6)

	// Layer 7: revocation. Unreachable set means deny: any other policy
	// defeats emergency revocation.
	if secErr := v.checkRevocation(ctx, claims.ID); secErr != nil {
		return nil, v.reject(secErr)
	}
	v.pass(7)

	// Layer 8: roles.
	roles, secErr := v.checkRoles(claims)
	if secErr != nil {
		return nil, v.reject(secErr)
	}
	v.pass(8)

	// Layer 9: user status.
	if secErr := v.checkUserStatus(ctx, claims.Subject); secErr != nil {
		return nil, v.reject(secErr)
	}
	v.pass(9)

	// Layer 10: injection.
	if secErr := v.checkInjection(headerJSON, payloadJSON); secErr != nil {
		return nil, v.reject(secErr)
	}
	v.pass(10)

	return &Principal{
		UserID:    claims.Subject,
		TenantID:  claims.TenantID,
		Roles:     roles,
		JTI:       claims.ID,
		SessionID: claims.SessionID,
	}, nil
}

func (v *TokenValidator) checkFormat(token string) ([]string, *SecurityError) {
	if token == "" {
		return nil, securityErr(1, CodeEmptyToken, "empty token")
	}
	if len(token) > v.cfg.MaxTokenBytes {
		return nil, securityErr(1, CodeTooLarge, "token exceeds size limit")
	}
	for _, r := range token {
		if !(r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9' ||
			r == '-' || r == '_' || r == '.') {
			return nil, securityErr(1, CodeInvalidFormat, "token contains non-base64url characters")
		}
	}
	segments := strings.Split(token, ".")
	if len(segments) != 3 {
		return nil, securityErr(1, CodeInvalidStructure, "token is not three dot-separated segments")
	}
	for _, s := range segments[:2] {
		if s == "" {
			return nil, securityErr(1, CodeInvalidStructure, "token segment is empty")
		}
	}
	return segments, nil
}

func decodeSegment(seg string) ([]byte, *SecurityError) {
	b, err := base64.RawURLEncoding.DecodeString(seg)
	if err != nil {
		return nil, securityErr(1, CodeInvalidFormat, "token segment is not base64url")
	}
	return b, nil
}

func (v *TokenValidator) checkAlgorithm(headerJSON []byte) *SecurityError {
	var header struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return securityErr(3, CodeMalformedHeader, "header is not valid JSON")
	}
	if header.Alg != jwt.SigningMethodRS256.Alg() {
		return securityErr(3, CodeUnsupportedAlgorithm, "alg "+header.Alg+" is not allowed")
	}
	return nil
}

func mapParseError(err error) *SecurityError {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return securityErr(2, CodeInvalidSignature, "signature verification failed")
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return securityErr(2, CodeKeyDiscoveryFailed, "no key available to verify token")
	case errors.Is(err, jwt.ErrTokenMalformed):
		return securityErr(1, CodeInvalidFormat, "token could not be parsed")
	default:
		return securityErr(2, CodeInvalidSignature, "token verification failed")
	}
}

func (v *TokenValidator) checkClaimSchema(c *Claims) *SecurityError {
	if c.ExpiresAt == nil {
		return securityErr(4, CodeMissingClaim, "exp claim missing")
	}
	if c.IssuedAt == nil {
		return securityErr(4, CodeMissingClaim, "iat claim missing")
	}
	schema := claimSchema{
		Subject:  c.Subject,
		Issuer:   c.Issuer,
		Audience: strings.Join(c.Audience, " "),
		JTI:      c.ID,
		TenantID: c.TenantID,
	}
	if err := v.validate.Struct(schema); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			field := verrs[0]
			if field.Tag() == "required" {
				return securityErr(4, CodeMissingClaim, field.Field()+" claim missing")
			}
			return securityErr(4, CodeInvalidClaimFormat, field.Field()+" claim malformed")
		}
		return securityErr(4, CodeInvalidClaimFormat, "claim schema validation failed")
	}
	// Belt and braces: the uuid tag accepts only canonical form, but the
	// parses below are what the rest of the framework relies on.
	if _, err := uuid.Parse(c.Subject); err != nil {
		return securityErr(4, CodeInvalidSubject, "sub is not a UUID")
	}
	if _, err := uuid.Parse(c.TenantID); err != nil {
		return securityErr(4, CodeInvalidTenantID, "tenant_id is not a UUID")
	}
	return nil
}

func (v *TokenValidator) checkTemporal(c *Claims) *SecurityError {
	now := v.now()
	exp := c.ExpiresAt.Time
	iat := c.IssuedAt.Time

	if now.After(exp.Add(v.cfg.ClockSkew)) {
		return securityErr(5, CodeTokenExpired, "token expired")
	}
	if iat.After(now.Add(v.cfg.ClockSkew)) {
		return securityErr(5, CodeFutureToken, "token issued in the future")
	}
	if now.Sub(iat) > v.cfg.MaxAge {
		return securityErr(5, CodeTokenTooOld, "token exceeds maximum age")
	}
	return nil
}

func (v *TokenValidator) checkIssuerAudience(c *Claims) *SecurityError {
	if c.Issuer != v.cfg.Issuer {
		return securityErr(6, CodeInvalidIssuer, "issuer mismatch")
	}
	for _, aud := range c.Audience {
		if aud == v.cfg.Audience {
			return nil
		}
	}
	return securityErr(6, CodeInvalidAudience, "audience mismatch")
}

func (v *TokenValidator) checkRevocation(ctx context.Context, jti string) *SecurityError {
	if v.revocations == nil {
		return nil
	}
	revoked, err := v.revocations.IsRevoked(ctx, jti)
	if err != nil {
		v.logger.Error("revocation set unreachable, failing closed", zap.Error(err))
		return securityErr(7, CodeRevocationCheckFailed, "revocation state could not be verified")
	}
	if revoked {
		return securityErr(7, CodeTokenRevoked, "token is revoked")
	}
	return nil
}

func (v *TokenValidator) checkRoles(c *Claims) ([]string, *SecurityError) {
	raw := c.Roles
	if len(raw) == 0 {
		raw = c.RealmAccess.Roles
	}
	roles, err := NormalizeRoles(raw)
	if err != nil {
		if se, ok := AsSecurityError(err); ok {
			return nil, se
		}
		return nil, securityErr(8, CodeRoleValidationError, err.Error())
	}
	return roles, nil
}

func (v *TokenValidator) checkUserStatus(ctx context.Context, userID string) *SecurityError {
	if v.directory == nil {
		return nil
	}
	st, err := v.directory.Status(ctx, userID)
	if err != nil {
		v.logger.Error("user directory unreachable, failing closed", zap.Error(err))
		return securityErr(9, CodeUserStatusUnavailable, "user status could not be verified")
	}
	switch {
	case st.Locked:
		return securityErr(9, CodeUserLocked, "user is locked")
	case st.Expired(v.now()):
		return securityErr(9, CodeUserExpired, "user account expired")
	case !st.Active:
		return securityErr(9, CodeUserInactive, "user is inactive")
	}
	return nil
}

func (v *TokenValidator) checkInjection(headerJSON, payloadJSON []byte) *SecurityError {
	for _, p := range v.cfg.InjectionPatterns {
		if p.Match(headerJSON) || p.Match(payloadJSON) {
			return securityErr(10, CodeInjectionDetected, "token content matches injection pattern")
		}
	}
	return nil
}
