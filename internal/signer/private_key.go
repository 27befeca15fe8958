package signer

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// PrivateKeySigner signs with a stealth-address key carried by a discovered
// channel.
type PrivateKeySigner struct {
	key     *secp256k1.PrivateKey
	address string
}

func NewPrivateKeySigner(hexKey string) (*PrivateKeySigner, error) {
	raw, err := DecodeHex(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key encoding")
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(raw))
	}

	key := secp256k1.PrivKeyFromBytes(raw)
	if key.Key.IsZero() {
		return nil, errors.New("private key is zero")
	}

	return &PrivateKeySigner{
		key:     key,
		address: PubKeyToAddress(key.PubKey()),
	}, nil
}

func (s *PrivateKeySigner) Kind() Kind      { return KindPrivateKey }
func (s *PrivateKeySigner) Address() string { return s.address }

// SignMessage returns a 65-byte r||s||v signature over the EIP-191 digest.
func (s *PrivateKeySigner) SignMessage(_ context.Context, msg []byte) (string, error) {
	compact := ecdsa.SignCompact(s.key, HashMessage(msg), false)
	// compact is v||r||s with v = 27 + recovery id
	sig := make([]byte, 65)
	copy(sig, compact[1:])
	sig[64] = compact[0]
	return "0x" + hex.EncodeToString(sig), nil
}

// PubKeyToAddress derives the checksummed account address of a public key.
func PubKeyToAddress(pub *secp256k1.PublicKey) string {
	uncompressed := pub.SerializeUncompressed()
	return ChecksumAddress(Keccak256(uncompressed[1:])[12:])
}

// RecoverAddress returns the address that produced sigHex over msg.
func RecoverAddress(msg []byte, sigHex string) (string, error) {
	sig, err := DecodeHex(sigHex)
	if err != nil {
		return "", err
	}
	if len(sig) != 65 {
		return "", fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}

	v := sig[64]
	if v < 27 {
		v += 27
	}
	compact := make([]byte, 65)
	compact[0] = v
	copy(compact[1:], sig[:64])

	pub, _, err := ecdsa.RecoverCompact(compact, HashMessage(msg))
	if err != nil {
		return "", err
	}
	return PubKeyToAddress(pub), nil
}
