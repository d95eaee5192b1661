package chains

import "errors"

var (
	ErrUnsupportedChain = errors.New("unsupported chain")
	ErrInvalidKey       = errors.New("invalid extended public key")
	ErrInvalidIndex     = errors.New("derivation index out of range")
	ErrDerivationFailed = errors.New("address derivation failed")
)
