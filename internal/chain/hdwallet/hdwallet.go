// Package hdwallet derives chain keys from a BIP-39 mnemonic.
//
// secp256k1 chains use the BIP-32 derivation in cosmos-sdk's crypto/hd.
// ed25519 chains use SLIP-0010, where every path segment is hardened.
package hdwallet

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/cosmos/cosmos-sdk/crypto/hd"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"
)

// HardenedOffset marks a hardened path index
const HardenedOffset uint32 = 0x80000000

// Seed validates the mnemonic and returns its BIP-39 seed with an empty passphrase
func Seed(mnemonic string) ([]byte, error) {
	mnemonic = normalize(mnemonic)
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic")
	}
	return bip39.NewSeedWithErrorChecking(mnemonic, "")
}

// Secp256k1 derives the BIP-44 key m/44'/coinType'/0'/0/0
func Secp256k1(mnemonic string, coinType uint32) (*ecdsa.PrivateKey, error) {
	path := hd.CreateHDPath(coinType, 0, 0).String()
	raw, err := hd.Secp256k1.Derive()(normalize(mnemonic), "", path)
	if err != nil {
		return nil, fmt.Errorf("derive %s: %w", path, err)
	}
	key, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("derive %s: %w", path, err)
	}
	return key, nil
}

// Ed25519 derives a SLIP-0010 ed25519 key along path, e.g. "m/44'/501'/0'/0'"
func Ed25519(mnemonic, path string) (ed25519.PrivateKey, error) {
	seed, err := Seed(mnemonic)
	if err != nil {
		return nil, err
	}
	segments, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	key, _, err := DeriveEd25519(seed, segments)
	if err != nil {
		return nil, err
	}
	return ed25519.NewKeyFromSeed(key), nil
}

// DeriveEd25519 returns the 32-byte private key and chain code at the given path
func DeriveEd25519(seed []byte, segments []uint32) (key, chainCode []byte, err error) {
	mac := hmac.New(sha512.New, []byte("ed25519 seed"))
	mac.Write(seed)
	sum := mac.Sum(nil)
	key, chainCode = sum[:32], sum[32:]

	for _, idx := range segments {
		if idx < HardenedOffset {
			return nil, nil, fmt.Errorf("ed25519 supports hardened derivation only, got index %d", idx)
		}
		data := make([]byte, 0, 37)
		data = append(data, 0x00)
		data = append(data, key...)
		data = binary.BigEndian.AppendUint32(data, idx)

		mac = hmac.New(sha512.New, chainCode)
		mac.Write(data)
		sum = mac.Sum(nil)
		key, chainCode = sum[:32], sum[32:]
	}
	return key, chainCode, nil
}

// ParsePath parses "m/44'/397'/0'" into path indexes
func ParsePath(path string) ([]uint32, error) {
	parts := strings.Split(strings.TrimSpace(path), "/")
	if len(parts) == 0 || parts[0] != "m" {
		return nil, fmt.Errorf("invalid derivation path %q", path)
	}
	out := make([]uint32, 0, len(parts)-1)
	for _, p := range parts[1:] {
		hardened := strings.HasSuffix(p, "'") || strings.HasSuffix(p, "h")
		p = strings.TrimRight(p, "'h")
		n, err := strconv.ParseUint(p, 10, 31)
		if err != nil {
			return nil, fmt.Errorf("invalid derivation path %q: %w", path, err)
		}
		idx := uint32(n)
		if hardened {
			idx += HardenedOffset
		}
		out = append(out, idx)
	}
	return out, nil
}

func normalize(mnemonic string) string {
	return strings.Join(strings.Fields(mnemonic), " ")
}
