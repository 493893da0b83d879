// Package address validates Solana account addresses.
package address

import (
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Length is the decoded size of an account address.
const Length = 32

// ErrInvalid is returned for strings that are not account addresses.
var ErrInvalid = errors.New("invalid address")

// Decode returns the raw 32 bytes of a base58 address.
func Decode(addr string) ([]byte, error) {
	if addr == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalid)
	}
	raw, err := base58.Decode(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, addr, err)
	}
	if len(raw) != Length {
		return nil, fmt.Errorf("%w: %s decodes to %d bytes", ErrInvalid, addr, len(raw))
	}
	return raw, nil
}

// Validate reports whether addr is a well-formed account address.
func Validate(addr string) error {
	_, err := Decode(addr)
	return err
}

// IsOnCurve reports whether addr is an ed25519 public key.
// Program-derived addresses are off the curve and cannot sign transactions.
func IsOnCurve(addr string) bool {
	raw, err := Decode(addr)
	if err != nil {
		return false
	}
	_, err = new(edwards25519.Point).SetBytes(raw)
	return err == nil
}

// ValidateWallet checks that addr can belong to a signing wallet.
func ValidateWallet(addr string) error {
	raw, err := Decode(addr)
	if err != nil {
		return err
	}
	if _, err := new(edwards25519.Point).SetBytes(raw); err != nil {
		return fmt.Errorf("%w: %s is off curve", ErrInvalid, addr)
	}
	return nil
}
