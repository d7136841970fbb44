package hdwallet

import (
	"encoding/hex"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestDeriveEd25519_SLIP10Vector(t *testing.T) {
	seed, _ := hex.DecodeString("000102030405060708090a0b0c0d0e0f")

	key, chain, err := DeriveEd25519(seed, nil)
	require.NoError(t, err)
	assert.Equal(t, "2b4be7f19ee27bbf30c667b642d5f4aa69fd169872f8fc3059c08ebae2eb19e7", hex.EncodeToString(key))
	assert.Equal(t, "90046a93de5380a72b5e45010748567d5ea02bbf6522f979e05c0d8d8ca9fffb", hex.EncodeToString(chain))

	key, chain, err = DeriveEd25519(seed, []uint32{HardenedOffset})
	require.NoError(t, err)
	assert.Equal(t, "68e0fe46dfb67e368c75379acec591dad19df3cde26e63b93a8e704f1dade7a3", hex.EncodeToString(key))
	assert.Equal(t, "8b59aa11380b624e81507a27fedda59fea6d0b779a778918a2fd3590e16e9c69", hex.EncodeToString(chain))

	_, _, err = DeriveEd25519(seed, []uint32{1})
	assert.Error(t, err)
}

func TestSecp256k1_KnownEthereumAddress(t *testing.T) {
	key, err := Secp256k1(testMnemonic, 60)
	require.NoError(t, err)
	assert.Equal(t, "0x9858EfFD232B4033E47d90003D41EC34EcaEda94", crypto.PubkeyToAddress(key.PublicKey).Hex())
}

func TestEd25519_Deterministic(t *testing.T) {
	a, err := Ed25519(testMnemonic, "m/44'/501'/0'/0'")
	require.NoError(t, err)
	b, err := Ed25519("  "+testMnemonic+"\n", "m/44'/501'/0'/0'")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := Ed25519(testMnemonic, "m/44'/397'/0'")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestInvalidMnemonic(t *testing.T) {
	_, err := Seed("abandon abandon")
	assert.Error(t, err)
	_, err = Ed25519("not a mnemonic at all", "m/44'/501'/0'/0'")
	assert.Error(t, err)
	_, err = Secp256k1("not a mnemonic at all", 60)
	assert.Error(t, err)
}

func TestParsePath(t *testing.T) {
	got, err := ParsePath("m/44'/501'/0'/0'")
	require.NoError(t, err)
	assert.Equal(t, []uint32{44 + HardenedOffset, 501 + HardenedOffset, HardenedOffset, HardenedOffset}, got)

	got, err = ParsePath("m/84h/0h/0h/0/1")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), got[4])

	_, err = ParsePath("44'/0'")
	assert.Error(t, err)
	_, err = ParsePath("m/x'")
	assert.Error(t, err)
}
