package token

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/jwt-auth/internal/errs"
)

var fixedNow = time.Unix(1_700_000_000, 0)

func newTestCodec(now time.Time) *Codec {
	return New(Config{Issuer: "https://lms.example", Secret: []byte("s3cret"), Expiry: time.Hour},
		WithClock(func() time.Time { return now }))
}

func TestEncodeDecode_RoundTrip_AllAlgorithms(t *testing.T) {
	t.Parallel()

	c := newTestCodec(fixedNow)
	in := map[string]any{"sub": "42", "role": "student", "n": 7}

	for _, alg := range []Algorithm{HS256, HS384, HS512} {
		tok, err := c.Encode(in, alg)
		if err != nil {
			t.Fatalf("%s encode: %v", alg, err)
		}
		if strings.ContainsAny(tok, "=+/\n") {
			t.Fatalf("%s: token not url-safe/unpadded: %q", alg, tok)
		}
		got, err := c.Decode(tok, true)
		if err != nil {
			t.Fatalf("%s decode: %v", alg, err)
		}
		if len(got) != len(in)+3 {
			t.Fatalf("%s: claim count %d, want %d (%v)", alg, len(got), len(in)+3, got)
		}
		if got["sub"] != "42" || got["role"] != "student" || got["n"] != json.Number("7") {
			t.Fatalf("%s: business claims changed: %v", alg, got)
		}
		if got[ClaimIssuer] != "https://lms.example" {
			t.Fatalf("%s: iss=%v", alg, got[ClaimIssuer])
		}
		if got[ClaimIssuedAt] != json.Number("1700000000") || got[ClaimExpires] != json.Number("1700003600") {
			t.Fatalf("%s: iat/exp=%v/%v", alg, got[ClaimIssuedAt], got[ClaimExpires])
		}
	}
	if len(in) != 3 {
		t.Fatalf("caller claims mutated: %v", in)
	}
}

func TestEncode_EmptyClaims(t *testing.T) {
	t.Parallel()

	c := newTestCodec(fixedNow)
	tok, err := c.Encode(nil, DefaultAlgorithm)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := c.Decode(tok, true)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("want only injected claims, got %v", got)
	}
}

func TestEncode_UnsupportedAlgorithm(t *testing.T) {
	t.Parallel()

	c := newTestCodec(fixedNow)
	for _, alg := range []Algorithm{"HS128", "none", "RS256", ""} {
		if _, err := c.Encode(map[string]any{}, alg); !errors.Is(err, errs.ErrConfig) {
			t.Fatalf("alg %q: want ErrConfig, got %v", alg, err)
		}
	}
}

func TestEncode_HeaderLayout(t *testing.T) {
	t.Parallel()

	tok, err := newTestCodec(fixedNow).Encode(nil, HS384)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.Split(tok, ".")[0])
	if err != nil {
		t.Fatalf("header b64: %v", err)
	}
	if string(raw) != `{"typ":"JWT","alg":"HS384"}` {
		t.Fatalf("header=%s", raw)
	}
}

func TestDecode_WrongSegmentCount(t *testing.T) {
	t.Parallel()

	c := newTestCodec(fixedNow)
	for _, tok := range []string{"", "abc", "abc.def", "a.b.c.d", "a..b.c"} {
		if _, err := c.Decode(tok, true); !errors.Is(err, errs.ErrMalformedToken) {
			t.Fatalf("%q: want ErrMalformedToken, got %v", tok, err)
		}
		if _, err := c.Decode(tok, false); !errors.Is(err, errs.ErrMalformedToken) {
			t.Fatalf("%q (no verify): want ErrMalformedToken, got %v", tok, err)
		}
	}
}

func TestDecode_BadSegments(t *testing.T) {
	t.Parallel()

	c := newTestCodec(fixedNow)
	good, err := c.Encode(map[string]any{"sub": "1"}, HS256)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	p := strings.Split(good, ".")
	seg := func(s string) string { return base64.RawURLEncoding.EncodeToString([]byte(s)) }

	cases := map[string]string{
		"null header":      seg("null") + "." + p[1] + "." + p[2],
		"null claims":      p[0] + "." + seg("null") + "." + p[2],
		"array claims":     p[0] + "." + seg("[1,2]") + "." + p[2],
		"string header":    seg(`"JWT"`) + "." + p[1] + "." + p[2],
		"invalid json":     p[0] + "." + seg("{nope") + "." + p[2],
		"empty header":     "." + p[1] + "." + p[2],
		"bad base64":       "!!!." + p[1] + "." + p[2],
		"trailing garbage": p[0] + "." + seg(`{"exp":1} {}`) + "." + p[2],
		"extra brace":      p[0] + "." + seg(`{"exp":1}}`) + "." + p[2],
		"extra bracket":    p[0] + "." + seg(`{"exp":1}]`) + "." + p[2],
		"truncated header": p[0][:len(p[0])-1] + "." + p[1] + "." + p[2],
	}
	for name, tok := range cases {
		if _, err := c.Decode(tok, true); !errors.Is(err, errs.ErrMalformedToken) {
			t.Fatalf("%s: want ErrMalformedToken, got %v", name, err)
		}
	}
}

func TestDecode_ExpiredRegardlessOfVerify(t *testing.T) {
	t.Parallel()

	tok, err := newTestCodec(fixedNow).Encode(map[string]any{"sub": "1"}, HS256)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	later := newTestCodec(fixedNow.Add(time.Hour + time.Second))
	for _, verify := range []bool{true, false} {
		if _, err := later.Decode(tok, verify); !errors.Is(err, errs.ErrExpiredToken) {
			t.Fatalf("verify=%v: want ErrExpiredToken, got %v", verify, err)
		}
	}

	// exp equal to now is still valid
	edge := newTestCodec(fixedNow.Add(time.Hour))
	if _, err := edge.Decode(tok, true); err != nil {
		t.Fatalf("exp==now: %v", err)
	}
}

func TestDecode_ExpiryCheckedBeforeSignature(t *testing.T) {
	t.Parallel()

	tok, err := newTestCodec(fixedNow).Encode(nil, HS256)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	p := strings.Split(tok, ".")
	forged := p[0] + "." + p[1] + "." + base64.RawURLEncoding.EncodeToString([]byte("forged"))

	later := newTestCodec(fixedNow.Add(2 * time.Hour))
	if _, err := later.Decode(forged, true); !errors.Is(err, errs.ErrExpiredToken) {
		t.Fatalf("want ErrExpiredToken before signature check, got %v", err)
	}
}

func TestDecode_MissingOrNonNumericExp(t *testing.T) {
	t.Parallel()

	c := newTestCodec(fixedNow)
	head := base64.RawURLEncoding.EncodeToString([]byte(`{"typ":"JWT","alg":"HS256"}`))
	for _, body := range []string{`{"sub":"1"}`, `{"exp":"tomorrow"}`, `{"exp":null}`} {
		tok := head + "." + base64.RawURLEncoding.EncodeToString([]byte(body)) + ".AA"
		if _, err := c.Decode(tok, false); !errors.Is(err, errs.ErrExpiredToken) {
			t.Fatalf("%s: want ErrExpiredToken, got %v", body, err)
		}
	}
}

func TestDecode_FlippedSignatureByte(t *testing.T) {
	t.Parallel()

	c := newTestCodec(fixedNow)
	tok, err := c.Encode(map[string]any{"sub": "1"}, HS512)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	p := strings.Split(tok, ".")
	sig, err := base64.RawURLEncoding.DecodeString(p[2])
	if err != nil {
		t.Fatalf("sig: %v", err)
	}
	for i := range sig {
		bad := append([]byte(nil), sig...)
		bad[i] ^= 0x01
		forged := p[0] + "." + p[1] + "." + base64.RawURLEncoding.EncodeToString(bad)
		if _, err := c.Decode(forged, true); !errors.Is(err, errs.ErrSignature) {
			t.Fatalf("byte %d: want ErrSignature, got %v", i, err)
		}
		// without verification the forged token is accepted
		if _, err := c.Decode(forged, false); err != nil {
			t.Fatalf("byte %d no-verify: %v", i, err)
		}
	}
}

func TestDecode_AlteredSignatureCharacter(t *testing.T) {
	t.Parallel()

	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"
	c := newTestCodec(fixedNow)
	for _, alg := range []Algorithm{HS256, HS384, HS512} {
		tok, err := c.Encode(map[string]any{"sub": "1"}, alg)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		p := strings.Split(tok, ".")
		for i := range p[2] {
			for _, r := range alphabet + "*+/=" {
				if byte(r) == p[2][i] {
					continue
				}
				forged := p[0] + "." + p[1] + "." + p[2][:i] + string(r) + p[2][i+1:]
				if _, err := c.Decode(forged, true); !errors.Is(err, errs.ErrSignature) {
					t.Fatalf("%s pos %d %q: want ErrSignature, got %v", alg, i, r, err)
				}
			}
		}
		if _, err := c.Decode(p[0]+"."+p[1]+".***", false); err != nil {
			t.Fatalf("%s: undecodable signature without verify: %v", alg, err)
		}
	}
}

func TestSign_MatchesGolangJWT(t *testing.T) {
	t.Parallel()

	for _, m := range []*jwt.SigningMethodHMAC{jwt.SigningMethodHS256, jwt.SigningMethodHS384, jwt.SigningMethodHS512} {
		want, err := m.Sign("a.b", []byte("k"))
		if err != nil {
			t.Fatalf("%s: %v", m.Alg(), err)
		}
		got, err := sign("a.b", Algorithm(m.Alg()), []byte("k"))
		if err != nil || string(got) != string(want) {
			t.Fatalf("%s: signature mismatch (%v)", m.Alg(), err)
		}
	}
	for _, name := range []string{"RS256", "ES256", "none", "HS1"} {
		if _, err := sign("a.b", Algorithm(name), []byte("k")); !errors.Is(err, errs.ErrConfig) {
			t.Fatalf("%s: want ErrConfig, got %v", name, err)
		}
	}
}

func TestDecode_WrongSecret(t *testing.T) {
	t.Parallel()

	tok, err := newTestCodec(fixedNow).Encode(nil, HS256)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	other := New(Config{Secret: []byte("other")}, WithClock(func() time.Time { return fixedNow }))
	if _, err := other.Decode(tok, true); !errors.Is(err, errs.ErrSignature) {
		t.Fatalf("want ErrSignature, got %v", err)
	}
}

func TestDecode_HeaderAlgorithmGate(t *testing.T) {
	t.Parallel()

	c := newTestCodec(fixedNow)
	tok, err := c.Encode(nil, HS256)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	p := strings.Split(tok, ".")
	seg := func(s string) string { return base64.RawURLEncoding.EncodeToString([]byte(s)) }

	empty := seg(`{"typ":"JWT","alg":""}`) + "." + p[1] + "." + p[2]
	if _, err := c.Decode(empty, true); !errors.Is(err, errs.ErrMalformedToken) {
		t.Fatalf("empty alg: want ErrMalformedToken, got %v", err)
	}
	missing := seg(`{"typ":"JWT"}`) + "." + p[1] + "." + p[2]
	if _, err := c.Decode(missing, true); !errors.Is(err, errs.ErrMalformedToken) {
		t.Fatalf("missing alg: want ErrMalformedToken, got %v", err)
	}
	none := seg(`{"typ":"JWT","alg":"none"}`) + "." + p[1] + "."
	if _, err := c.Decode(none, true); !errors.Is(err, errs.ErrConfig) {
		t.Fatalf("alg none: want ErrConfig, got %v", err)
	}
	if _, err := c.Decode(empty, false); err != nil {
		t.Fatalf("empty alg without verify: %v", err)
	}
}

func TestRoundTrip_ReencodeIsByteIdentical(t *testing.T) {
	t.Parallel()

	c := newTestCodec(fixedNow)
	tok, err := c.Encode(map[string]any{"sub": 12, "groups": []string{"a", "b"}, "big": int64(1) << 53}, HS256)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	claims, err := c.Decode(tok, true)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	again, err := c.Encode(claims, HS256)
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if again != tok {
		t.Fatalf("re-encoded token differs:\n%s\n%s", tok, again)
	}
}

func TestInterop_ParsedByGolangJWT(t *testing.T) {
	t.Parallel()

	now := time.Now()
	c := newTestCodec(now)
	tok, err := c.Encode(map[string]any{"sub": "42"}, HS256)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(tok, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte("s3cret"), nil
	}, jwt.WithIssuer("https://lms.example"))
	if err != nil || !parsed.Valid {
		t.Fatalf("golang-jwt rejected token: %v", err)
	}
	if claims.Subject != "42" {
		t.Fatalf("sub=%q", claims.Subject)
	}

	// and the other direction
	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"sub": "7",
		"exp": now.Add(time.Minute).Unix(),
	}).SignedString([]byte("s3cret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	got, err := c.Decode(foreign, true)
	if err != nil {
		t.Fatalf("decode foreign: %v", err)
	}
	if sub, _ := Subject(got); sub != "7" {
		t.Fatalf("foreign sub=%v", got["sub"])
	}
}

func TestParseAlgorithmAndSubject(t *testing.T) {
	t.Parallel()

	if a, err := ParseAlgorithm(""); err != nil || a != HS256 {
		t.Fatalf("default: %v %v", a, err)
	}
	if _, err := ParseAlgorithm("HS128"); !errors.Is(err, errs.ErrConfig) {
		t.Fatalf("want ErrConfig, got %v", err)
	}
	if s, ok := Subject(map[string]any{"sub": json.Number("15")}); !ok || s != "15" {
		t.Fatalf("number sub: %q %v", s, ok)
	}
	if s, ok := Subject(map[string]any{"sub": float64(3)}); !ok || s != "3" {
		t.Fatalf("float sub: %q %v", s, ok)
	}
	if _, ok := Subject(map[string]any{}); ok {
		t.Fatalf("expected no subject")
	}
}
