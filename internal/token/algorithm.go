package token

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/jwt-auth/internal/errs"
)

// Algorithm names an HMAC signing method.
type Algorithm string

const (
	HS256 Algorithm = "HS256"
	HS384 Algorithm = "HS384"
	HS512 Algorithm = "HS512"

	// DefaultAlgorithm is used when the caller does not pick one.
	DefaultAlgorithm = HS256
)

// method resolves a to a registered HMAC signing method. Other jwt methods (RS*, ES*,
// none) are not part of the table.
func (a Algorithm) method() (*jwt.SigningMethodHMAC, error) {
	m, ok := jwt.GetSigningMethod(string(a)).(*jwt.SigningMethodHMAC)
	if !ok || m == nil {
		return nil, fmt.Errorf("%w: algorithm %q not supported", errs.ErrConfig, string(a))
	}
	return m, nil
}

// Supported reports whether a is in the algorithm table.
func (a Algorithm) Supported() bool {
	_, err := a.method()
	return err == nil
}

// ParseAlgorithm validates a user-supplied algorithm name. Empty selects DefaultAlgorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	if s == "" {
		return DefaultAlgorithm, nil
	}
	a := Algorithm(s)
	if _, err := a.method(); err != nil {
		return "", err
	}
	return a, nil
}

func sign(input string, alg Algorithm, secret []byte) ([]byte, error) {
	m, err := alg.method()
	if err != nil {
		return nil, err
	}
	sig, err := m.Sign(input, secret)
	if err != nil {
		return nil, fmt.Errorf("%w: sign: %v", errs.ErrConfig, err)
	}
	return sig, nil
}

func verify(input string, sig []byte, alg Algorithm, secret []byte) error {
	m, err := alg.method()
	if err != nil {
		return err
	}
	switch err := m.Verify(input, sig, secret); {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrSignatureInvalid):
		return errs.ErrSignature
	default:
		return fmt.Errorf("%w: verify: %v", errs.ErrConfig, err)
	}
}
