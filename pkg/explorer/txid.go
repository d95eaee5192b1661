package explorer

import (
	"regexp"
	"strings"
)

// Users paste anything from a bare hash to a full explorer URL. These
// patterns pull out the transaction id; order matters since a 0x-prefixed
// hash also contains a 64-hex run.
var (
	evmTxPattern = regexp.MustCompile(`0x[0-9a-fA-F]{64}`)
	hexTxPattern = regexp.MustCompile(`[0-9a-fA-F]{64}`)
)

// ExtractTxID pulls a transaction id out of free-form user input. When no
// known pattern matches, the trimmed raw input is returned so the chain
// lookup itself can be the judge.
func ExtractTxID(input string) string {
	input = strings.TrimSpace(input)
	if m := evmTxPattern.FindString(input); m != "" {
		return m
	}
	if m := hexTxPattern.FindString(input); m != "" {
		return m
	}
	return input
}
