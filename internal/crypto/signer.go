package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ErrBadSignature reports a signature that is malformed or does not recover
// to the expected address.
var ErrBadSignature = errors.New("crypto: bad signature")

// personalPrefix is the EIP-191 version 0x45 header used by
// eth_sign / personal_sign.
const personalPrefix = "\x19Ethereum Signed Message:\n"

// Signer produces EIP-191 personal signatures with the operator key. The
// marketplace signs outgoing event envelopes with it; clients sign their
// requests the same way so the server can recover the principal.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return NewSignerFromKey(pk), nil
}

// NewSignerFromKey wraps an already parsed private key.
func NewSignerFromKey(pk *ecdsa.PrivateKey) *Signer {
	return &Signer{privateKey: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}
}

// Address returns the Ethereum address derived from the signer's key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignPayload signs arbitrary bytes and returns a 0x-prefixed 65-byte
// signature with v in {27,28}.
func (s *Signer) SignPayload(payload []byte) (string, error) {
	sig, err := ethcrypto.Sign(PersonalHash(payload), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// SignRequest signs the canonical request message for method, path and a
// unix timestamp.
func (s *Signer) SignRequest(method, path string, ts int64) (string, error) {
	return s.SignPayload([]byte(RequestMessage(method, path, ts)))
}

// RequestMessage renders "<METHOD> <PATH> <TIMESTAMP>".
func RequestMessage(method, path string, ts int64) string {
	return strings.ToUpper(method) + " " + path + " " + strconv.FormatInt(ts, 10)
}

// PersonalHash computes keccak256("\x19Ethereum Signed Message:\n" + len + msg).
func PersonalHash(msg []byte) []byte {
	return ethcrypto.Keccak256(
		[]byte(personalPrefix+strconv.Itoa(len(msg))),
		msg,
	)
}

// RecoverPayload returns the address that produced sigHex over payload.
func RecoverPayload(payload []byte, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil || len(sig) != 65 {
		return common.Address{}, ErrBadSignature
	}
	// Wallets emit v as 27/28; SigToPub wants 0/1.
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(PersonalHash(payload), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// VerifyPayload checks that sigHex over payload was made by want.
func VerifyPayload(payload []byte, sigHex string, want common.Address) error {
	got, err := RecoverPayload(payload, sigHex)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: signed by %s, expected %s", ErrBadSignature, got.Hex(), want.Hex())
	}
	return nil
}

// RecoverRequestSigner returns the address that signed the request message.
func RecoverRequestSigner(method, path string, ts int64, sigHex string) (common.Address, error) {
	return RecoverPayload([]byte(RequestMessage(method, path, ts)), sigHex)
}
