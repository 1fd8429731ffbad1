// Package signature provides helper functions for hashing and signing the
// consensus data structures.
package signature

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// ZeroHash represents a hash code of zeros.
const ZeroHash string = "0x0000000000000000000000000000000000000000000000000000000000000000"

// porchainID is an arbitrary number added to the recovery id when signing.
// It makes clear a signature was produced for this chain and not reusable
// elsewhere. Ethereum and Bitcoin do the same with the value 27.
const porchainID = 31

// =============================================================================

// Hash returns a unique string for the value.
func Hash(value any) string {
	data, err := json.Marshal(value)
	if err != nil {
		return ZeroHash
	}

	hash := sha256.Sum256(data)
	return hexutil.Encode(hash[:])
}

// Sign signs the value with the specified private key and returns the hex
// encoded [R|S|V] signature.
func Sign(value any, privateKey *ecdsa.PrivateKey) (string, error) {
	data, err := stamp(value)
	if err != nil {
		return "", err
	}

	sig, err := crypto.Sign(data, privateKey)
	if err != nil {
		return "", err
	}

	// Sanity check the signature against the signer's own public key before
	// it leaves the node.
	publicKey, err := crypto.SigToPub(data, sig)
	if err != nil {
		return "", err
	}
	if !crypto.VerifySignature(crypto.FromECDSAPub(publicKey), data, sig[:crypto.RecoveryIDOffset]) {
		return "", errors.New("invalid signature produced")
	}

	sig[crypto.RecoveryIDOffset] += porchainID
	return hexutil.Encode(sig), nil
}

// Verify checks that the specified signature over the value was produced by
// the farmer with the specified identity.
func Verify(value any, sigStr string, farmerID string) error {
	signer, err := SignerID(value, sigStr)
	if err != nil {
		return err
	}

	if signer != farmerID {
		return fmt.Errorf("signature from %s, expected %s", signer, farmerID)
	}

	return nil
}

// SignerID recovers the farmer identity that produced the specified
// signature over the value.
func SignerID(value any, sigStr string) (string, error) {
	sig, err := hexutil.Decode(sigStr)
	if err != nil {
		return "", fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return "", errors.New("invalid signature length")
	}

	// Check the recovery id carries our chain marker.
	v := sig[crypto.RecoveryIDOffset]
	if v != porchainID && v != porchainID+1 {
		return "", errors.New("invalid recovery id")
	}

	data, err := stamp(value)
	if err != nil {
		return "", err
	}

	cp := make([]byte, crypto.SignatureLength)
	copy(cp, sig)
	cp[crypto.RecoveryIDOffset] -= porchainID

	publicKey, err := crypto.SigToPub(data, cp)
	if err != nil {
		return "", err
	}

	return PublicKeyToFarmerID(publicKey), nil
}

// =============================================================================

// FarmerID returns the identity string for the specified key pair. The
// identity is the hex form of the compressed public key: it feeds the codec
// as seed material and names the farmer on the wire.
func FarmerID(privateKey *ecdsa.PrivateKey) string {
	return PublicKeyToFarmerID(&privateKey.PublicKey)
}

// PublicKeyToFarmerID converts a public key into the identity string.
func PublicKeyToFarmerID(publicKey *ecdsa.PublicKey) string {
	return hexutil.Encode(crypto.CompressPubkey(publicKey))
}

// FarmerIDBytes converts the identity string into the raw bytes used as
// codec seed material.
func FarmerIDBytes(farmerID string) ([]byte, error) {
	b, err := hexutil.Decode(farmerID)
	if err != nil {
		return nil, fmt.Errorf("decode farmer id: %w", err)
	}
	return b, nil
}

// =============================================================================

// stamp returns the 32 byte digest that is actually signed, with the chain
// stamp folded in so signatures are unique to this chain.
func stamp(value any) ([]byte, error) {
	v, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}

	hash := crypto.Keccak256(v)
	stamp := []byte("\x19Porchain Signed Message:\n32")

	return crypto.Keccak256(stamp, hash), nil
}
