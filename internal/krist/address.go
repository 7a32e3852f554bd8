package krist

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// DefaultAddressPrefix is the prefix of every v2 address on the main network.
const DefaultAddressPrefix = "k"

// MakeV2Address derives the v2 address owned by privateKey. The result
// is prefix followed by nine characters from [0-9a-z].
func MakeV2Address(privateKey, prefix string) string {
	var chars [9]string
	hash := sha256Hex(sha256Hex(privateKey))

	for i := range chars {
		chars[i] = hash[:2]
		hash = sha256Hex(sha256Hex(hash))
	}

	var b strings.Builder
	b.WriteString(prefix)

	for i := 0; i < len(chars); {
		n, _ := strconv.ParseUint(hash[2*i:2*i+2], 16, 8)
		index := n % 9

		if chars[index] == "" {
			hash = sha256Hex(hash)
			continue
		}

		v, _ := strconv.ParseUint(chars[index], 16, 8)
		b.WriteByte(addressByte(byte(v)))
		chars[index] = ""
		i++
	}

	return b.String()
}

// addressByte maps a hash byte onto [0-9a-z], folding the overflow onto 'e'.
func addressByte(v byte) byte {
	c := 48 + v/7
	switch {
	case c+39 > 122:
		return 'e'
	case c > 57:
		return c + 39
	default:
		return c
	}
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
