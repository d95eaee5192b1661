package chains

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const (
	btcPubKeyHashVersion byte = 0x00
	ltcPubKeyHashVersion byte = 0x30
	tronAddressPrefix    byte = 0x41

	// maxIndex is the hardened-derivation boundary; public derivation is
	// only defined for indices below it.
	maxIndex = uint32(hdkeychain.HardenedKeyStart)
)

// Address is the result of deriving a receiving address.
type Address struct {
	Address string
	Path    string
}

type encodeFunc func(pub *btcec.PublicKey) (string, error)

// Derive computes the receiving address for the given chain, extended public
// key and sequential index. The derivation path is always m/0/index (external
// chain, then child). It performs no I/O and is fully deterministic.
func Derive(chain Chain, xpub string, index uint32) (Address, error) {
	info, err := Lookup(chain)
	if err != nil {
		return Address{}, fmt.Errorf("derive %s/%d: %w", chain, index, err)
	}

	if index >= maxIndex {
		return Address{}, fmt.Errorf("derive %s/%d: %w", chain, index, ErrInvalidIndex)
	}

	if !hasKnownPrefix(xpub, info.xpubPrefixes) {
		return Address{}, fmt.Errorf("derive %s/%d: %w: expected one of %v prefixes",
			chain, index, ErrInvalidKey, info.xpubPrefixes)
	}

	key, err := hdkeychain.NewKeyFromString(xpub)
	if err != nil {
		return Address{}, fmt.Errorf("derive %s/%d: %w", chain, index, errors.Join(ErrInvalidKey, err))
	}
	if key.IsPrivate() {
		return Address{}, fmt.Errorf("derive %s/%d: %w: private key material not accepted", chain, index, ErrInvalidKey)
	}

	external, err := key.Derive(0)
	if err != nil {
		return Address{}, fmt.Errorf("derive %s/%d: %w", chain, index, errors.Join(ErrDerivationFailed, err))
	}
	child, err := external.Derive(index)
	if err != nil {
		return Address{}, fmt.Errorf("derive %s/%d: %w", chain, index, errors.Join(ErrDerivationFailed, err))
	}
	pub, err := child.ECPubKey()
	if err != nil {
		return Address{}, fmt.Errorf("derive %s/%d: %w", chain, index, errors.Join(ErrDerivationFailed, err))
	}

	addr, err := info.encode(pub)
	if err != nil {
		return Address{}, fmt.Errorf("derive %s/%d: %w", chain, index, errors.Join(ErrDerivationFailed, err))
	}

	return Address{
		Address: addr,
		Path:    fmt.Sprintf("m/0/%d", index),
	}, nil
}

func hasKnownPrefix(xpub string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(xpub, p) {
			return true
		}
	}
	return false
}

// encodeP2PKH builds a legacy pay-to-public-key-hash encoder for the given
// version byte. Both BTC and LTC addresses are Base58Check over
// RIPEMD160(SHA256(compressed pubkey)); only the version byte differs.
func encodeP2PKH(version byte) encodeFunc {
	return func(pub *btcec.PublicKey) (string, error) {
		hash := btcutil.Hash160(pub.SerializeCompressed())
		return base58.CheckEncode(hash, version), nil
	}
}

// encodeEthereum hashes the uncompressed public key (without the 0x04
// marker) with Keccak256 and takes the low 20 bytes, rendered with the
// EIP-55 mixed-case checksum.
func encodeEthereum(pub *btcec.PublicKey) (string, error) {
	raw := pub.SerializeUncompressed()
	hash := ethcrypto.Keccak256(raw[1:])
	return ethcommon.BytesToAddress(hash[12:]).Hex(), nil
}

// encodeTron reuses the Ethereum hashing step and Base58Check-encodes the
// 20-byte payload with the Tron network prefix.
func encodeTron(pub *btcec.PublicKey) (string, error) {
	raw := pub.SerializeUncompressed()
	hash := ethcrypto.Keccak256(raw[1:])
	return base58.CheckEncode(hash[12:], tronAddressPrefix), nil
}
