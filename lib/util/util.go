// Package util contains helper functions used around the code.
package util

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ZeroAddress is the null account used as source of mints and destination of burns.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// In returns true if s is found in ss, false otherwise
func In[T comparable](ss []T, s T) bool {
	for _, v := range ss {
		if s == v {
			return true
		}
	}
	return false
}

// FormatAddress returns the address in lowercase without surrounding blanks. All addresses are stored this way so
// that they can be compared by equality.
func FormatAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// IsAddress returns true if s is a valid hex encoded account address.
func IsAddress(s string) bool {
	return common.IsHexAddress(s)
}

// IsHash returns true if s is a 0x prefixed 32-byte hex string.
func IsHash(s string) bool {
	if len(s) != 66 || !strings.HasPrefix(s, "0x") {
		return false
	}
	return common.HexToHash(s).Hex() == strings.ToLower(s)
}

// IsObjectID returns true if id is a valid 12-byte hex object id.
func IsObjectID(id string) bool {
	_, err := primitive.ObjectIDFromHex(id)
	return err == nil
}

// NewID returns a new hex encoded object id.
func NewID() string {
	return primitive.NewObjectID().Hex()
}

// IDFromBytes decodes an object id carried in a contract event as a 0x prefixed string.
func IDFromBytes(b string) string {
	if len(b) < 2 {
		return ""
	}
	return b[2:]
}
