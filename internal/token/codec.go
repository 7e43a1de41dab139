// Package token encodes and verifies compact HMAC-signed JSON web tokens.
//
// A token is base64url(header) "." base64url(claims) "." base64url(signature),
// unpadded. Expiry is enforced on every decode, with or without signature
// verification.
package token

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/jwt-auth/internal/errs"
)

// Registered claim names injected by the codec.
const (
	ClaimIssuer   = "iss"
	ClaimIssuedAt = "iat"
	ClaimExpires  = "exp"
	ClaimSubject  = "sub"
)

// Config is the codec configuration. It is passed explicitly; the codec never reads globals.
type Config struct {
	Issuer string
	Secret []byte
	Expiry time.Duration // added to iat to build exp (whole seconds)
}

// Header is the first token segment. Field order is part of the wire format.
type Header struct {
	Type      string `json:"typ"`
	Algorithm string `json:"alg"`
}

// Codec signs and verifies tokens. It holds no mutable state and is safe for concurrent use.
type Codec struct {
	cfg Config
	now func() time.Time
}

// Option customizes a Codec.
type Option func(*Codec)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// New constructs a Codec.
func New(cfg Config, opts ...Option) *Codec {
	c := &Codec{cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Config returns the configuration the codec was built with.
func (c *Codec) Config() Config { return c.cfg }

// Encode signs claims with alg. The caller's map is not modified.
// iss, iat and exp are injected and override caller values.
func (c *Codec) Encode(claims map[string]any, alg Algorithm) (string, error) {
	if !alg.Supported() {
		return "", fmt.Errorf("%w: algorithm %q not supported", errs.ErrConfig, alg)
	}

	payload := make(map[string]any, len(claims)+3)
	maps.Copy(payload, claims)
	now := c.now().Unix()
	payload[ClaimIssuer] = c.cfg.Issuer
	payload[ClaimIssuedAt] = now
	payload[ClaimExpires] = now + int64(c.cfg.Expiry/time.Second)

	h, err := json.Marshal(Header{Type: "JWT", Algorithm: string(alg)})
	if err != nil {
		return "", fmt.Errorf("%w: encode header: %v", errs.ErrConfig, err)
	}
	p, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: encode claims: %v", errs.ErrConfig, err)
	}

	input := encodeSegment(h) + "." + encodeSegment(p)
	sig, err := sign(input, alg, c.cfg.Secret)
	if err != nil {
		return "", err
	}
	return input + "." + encodeSegment(sig), nil
}

// Decode parses tok and returns its claims.
//
// Checks run in a fixed order: segment count, header/claims decoding, expiry (always),
// and then, only when checkSig is set, algorithm, signature decoding and signature.
func (c *Codec) Decode(tok string, checkSig bool) (map[string]any, error) {
	parts := strings.Split(tok, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: wrong number of segments (%d)", errs.ErrMalformedToken, len(parts))
	}
	headB64, claimsB64, sigB64 := parts[0], parts[1], parts[2]

	var hdr map[string]any
	if err := decodeJSONSegment(headB64, &hdr); err != nil {
		return nil, fmt.Errorf("%w: header: %v", errs.ErrMalformedToken, err)
	}
	var claims map[string]any
	if err := decodeJSONSegment(claimsB64, &claims); err != nil {
		return nil, fmt.Errorf("%w: claims: %v", errs.ErrMalformedToken, err)
	}
	exp, ok := numericClaim(claims[ClaimExpires])
	if !ok || exp < float64(c.now().Unix()) {
		return nil, errs.ErrExpiredToken
	}

	if !checkSig {
		return claims, nil
	}

	algName, _ := hdr["alg"].(string)
	if algName == "" {
		return nil, fmt.Errorf("%w: empty algorithm", errs.ErrMalformedToken)
	}
	alg := Algorithm(algName)
	if _, err := alg.method(); err != nil {
		return nil, err
	}
	// any alteration of the signature segment, decodable or not, is a signature failure
	sig, err := decodeSegment(sigB64)
	if err != nil {
		return nil, fmt.Errorf("%w: signature segment: %v", errs.ErrSignature, err)
	}
	if err := verify(headB64+"."+claimsB64, sig, alg, c.cfg.Secret); err != nil {
		return nil, err
	}
	return claims, nil
}

// Subject returns the sub claim as a string. Numeric subjects are formatted without exponent.
func Subject(claims map[string]any) (string, bool) {
	switch v := claims[ClaimSubject].(type) {
	case string:
		return v, v != ""
	case json.Number:
		return v.String(), true
	case float64:
		return fmt.Sprintf("%.0f", v), true
	case int64:
		return fmt.Sprintf("%d", v), true
	case int:
		return fmt.Sprintf("%d", v), true
	}
	return "", false
}

// ExpiresAt returns the exp claim as a time.
func ExpiresAt(claims map[string]any) (time.Time, bool) {
	v, ok := numericClaim(claims[ClaimExpires])
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(int64(v), 0), true
}

func numericClaim(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

func encodeSegment(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// segmentParser re-adds padding and rejects non-canonical encodings, so every
// accepted segment has exactly one textual form.
var segmentParser = jwt.NewParser(jwt.WithPaddingAllowed(), jwt.WithStrictDecoding())

func decodeSegment(s string) ([]byte, error) {
	return segmentParser.DecodeSegment(s)
}

// decodeJSONSegment rejects invalid JSON, the null literal and non-object values.
func decodeJSONSegment(s string, dst *map[string]any) error {
	raw, err := decodeSegment(s)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(new(json.RawMessage)); err != io.EOF {
		return fmt.Errorf("trailing data")
	}
	if *dst == nil {
		return fmt.Errorf("null segment")
	}
	return nil
}
