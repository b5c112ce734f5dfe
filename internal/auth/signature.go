package auth

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	signatureLength = 65
	messagePrefix   = "Sign this message to authenticate with AI Trading Agent"
)

var (
	addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	noncePattern   = regexp.MustCompile(`Nonce: ([a-f0-9]+)`)
)

// ValidAddress reports whether s is a 0x-prefixed 20-byte hex address.
func ValidAddress(s string) bool {
	return addressPattern.MatchString(s)
}

// Message is the exact text a wallet must sign to log in.
func Message(address, nonce string) string {
	return fmt.Sprintf("%s\n\nAddress: %s\nNonce: %s", messagePrefix, address, nonce)
}

// ExtractNonce pulls the nonce out of a signed message.
func ExtractNonce(message string) (string, bool) {
	m := noncePattern.FindStringSubmatch(message)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ParseSignature decodes a 65-byte r||s||v hex signature into the [R || S || recid] form
// expected by secp256k1 recovery. v may be given as 0/1 or 27/28.
func ParseSignature(signature string) ([]byte, error) {
	raw := strings.TrimPrefix(signature, "0x")
	if len(raw) != signatureLength*2 {
		return nil, fmt.Errorf("%w: signature is %d hex chars, want %d", ErrSignatureVerificationFailed, len(raw), signatureLength*2)
	}
	sig, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: signature is not hex: %w", ErrSignatureVerificationFailed, err)
	}

	v := sig[64]
	if v < 27 {
		v += 27
	}
	if v != 27 && v != 28 {
		return nil, fmt.Errorf("%w: unsupported recovery byte %d", ErrSignatureVerificationFailed, sig[64])
	}
	sig[64] = v - 27
	return sig, nil
}

// RecoverAddress returns the address that signed message under the personal-message scheme.
func RecoverAddress(message, signature string) (common.Address, error) {
	sig, err := ParseSignature(signature)
	if err != nil {
		return common.Address{}, err
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: recover public key: %w", ErrSignatureVerificationFailed, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifySignature reports whether signature over message was made by address.
func VerifySignature(message, signature, address string) error {
	recovered, err := RecoverAddress(message, signature)
	if err != nil {
		return err
	}
	if !strings.EqualFold(recovered.Hex(), address) {
		return fmt.Errorf("%w: recovered %s, claimed %s", ErrSignatureVerificationFailed, strings.ToLower(recovered.Hex()), address)
	}
	return nil
}
