package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Hardhat account #0.
const (
	testKey  = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddr = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func TestSignerAddress(t *testing.T) {
	s, err := NewSigner(testKey)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(testAddr), s.Address())

	_, err = NewSigner("0xnothex")
	require.Error(t, err)
}

func TestSignAndRecoverPayload(t *testing.T) {
	s, err := NewSigner(testKey)
	require.NoError(t, err)

	payload := []byte(`{"seq":1,"kind":"NewBid"}`)
	sig, err := s.SignPayload(payload)
	require.NoError(t, err)
	require.Len(t, sig, 2+65*2)

	got, err := RecoverPayload(payload, sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), got)
	require.NoError(t, VerifyPayload(payload, sig, s.Address()))

	err = VerifyPayload([]byte("tampered"), sig, s.Address())
	assert.ErrorIs(t, err, ErrBadSignature)

	_, err = RecoverPayload(payload, "0x1234")
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestRequestSignature(t *testing.T) {
	s, err := NewSigner(testKey)
	require.NoError(t, err)

	assert.Equal(t, "POST /api/auctions 1767225600", RequestMessage("post", "/api/auctions", 1767225600))

	sig, err := s.SignRequest("POST", "/api/auctions", 1767225600)
	require.NoError(t, err)
	got, err := RecoverRequestSigner("POST", "/api/auctions", 1767225600, sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), got)

	got, err = RecoverRequestSigner("POST", "/api/auctions", 1767225601, sig)
	require.NoError(t, err)
	assert.NotEqual(t, s.Address(), got)
}

func TestKeystoreRoundTrip(t *testing.T) {
	blob, err := EncryptKey(testKey, "hunter2")
	require.NoError(t, err)
	assert.Contains(t, string(blob), testAddr)

	keyHex, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKey[2:], keyHex)

	_, err = DecryptKey(blob, "wrong")
	require.Error(t, err)

	_, err = EncryptKey(testKey, "")
	require.Error(t, err)
	_, err = EncryptKey("0xabcd", "pw")
	require.Error(t, err)
}

func TestLoadOperatorKey(t *testing.T) {
	blob, err := EncryptKey(testKey, "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "operator.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	s, err := LoadOperatorKey(OperatorKeyConfig{KeystorePath: path, Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(testAddr), s.Address())

	s, err = LoadOperatorKey(OperatorKeyConfig{RawPrivateKey: testKey, KeystorePath: "/missing"})
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(testAddr), s.Address())

	_, err = LoadOperatorKey(OperatorKeyConfig{})
	require.Error(t, err)
	assert.False(t, OperatorKeyConfig{}.Configured())
}
