package near

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"math/big"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/near/borsh-go"
)

const (
	keyTypeED25519 uint8 = 0

	actionFunctionCall borsh.Enum = 2
	actionTransfer     borsh.Enum = 3
)

// PublicKey is the borsh form of an ed25519 public key
type PublicKey struct {
	KeyType uint8
	Data    [32]byte
}

// Signature is the borsh form of an ed25519 signature
type Signature struct {
	KeyType uint8
	Data    [64]byte
}

type CreateAccount struct{}

type DeployContract struct {
	Code []byte
}

type FunctionCall struct {
	MethodName string
	Args       []byte
	Gas        uint64
	Deposit    big.Int
}

type Transfer struct {
	Deposit big.Int
}

// Action is a borsh complex enum; only the variant selected by Enum is encoded
type Action struct {
	Enum           borsh.Enum `borsh_enum:"true"`
	CreateAccount  CreateAccount
	DeployContract DeployContract
	FunctionCall   FunctionCall
	Transfer       Transfer
}

// Transaction is the unsigned NEAR transaction
type Transaction struct {
	SignerID   string
	PublicKey  PublicKey
	Nonce      uint64
	ReceiverID string
	BlockHash  [32]byte
	Actions    []Action
}

// SignedTransaction is what broadcast_tx_commit accepts, base64 encoded
type SignedTransaction struct {
	Transaction Transaction
	Signature   Signature
}

// TransferAction moves yoctoNEAR to the receiver
func TransferAction(deposit *big.Int) Action {
	return Action{Enum: actionTransfer, Transfer: Transfer{Deposit: *deposit}}
}

// FunctionCallAction calls a method on the receiver contract
func FunctionCallAction(method string, args []byte, gas uint64, deposit *big.Int) Action {
	return Action{Enum: actionFunctionCall, FunctionCall: FunctionCall{
		MethodName: method,
		Args:       args,
		Gas:        gas,
		Deposit:    *deposit,
	}}
}

// Sign serializes tx, signs its sha256 digest and returns the signed bytes and the base58 hash
func Sign(tx Transaction, key ed25519.PrivateKey) ([]byte, string, error) {
	raw, err := borsh.Serialize(tx)
	if err != nil {
		return nil, "", fmt.Errorf("failed to serialize transaction: %w", err)
	}
	digest := sha256.Sum256(raw)

	var sig Signature
	sig.KeyType = keyTypeED25519
	copy(sig.Data[:], ed25519.Sign(key, digest[:]))

	signed, err := borsh.Serialize(SignedTransaction{Transaction: tx, Signature: sig})
	if err != nil {
		return nil, "", fmt.Errorf("failed to serialize signed transaction: %w", err)
	}
	return signed, base58.Encode(digest[:]), nil
}

// EncodePublicKey renders "ed25519:<base58>"
func EncodePublicKey(pub ed25519.PublicKey) string {
	return "ed25519:" + base58.Encode(pub)
}

// EncodePrivateKey renders "ed25519:<base58 of the 64-byte key>"
func EncodePrivateKey(key ed25519.PrivateKey) string {
	return "ed25519:" + base58.Encode(key)
}

// DecodePrivateKey parses "ed25519:<base58>"
func DecodePrivateKey(s string) (ed25519.PrivateKey, error) {
	raw, err := base58.Decode(strings.TrimPrefix(strings.TrimSpace(s), "ed25519:"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key encoding: %w", err)
	}
	switch len(raw) {
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	default:
		return nil, fmt.Errorf("invalid private key length %d", len(raw))
	}
}

// DecodeHash parses a base58 block hash
func DecodeHash(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := base58.Decode(s)
	if err != nil {
		return out, fmt.Errorf("invalid hash: %w", err)
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("invalid hash length %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

func borshPublicKey(pub ed25519.PublicKey) PublicKey {
	var pk PublicKey
	pk.KeyType = keyTypeED25519
	copy(pk.Data[:], pub)
	return pk
}
