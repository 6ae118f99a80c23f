package schema

import (
	"fmt"
	"math"
	"strings"
)

// MemberID derives the metadata document id for an attribute or index from
// the owning collection's internal sequence and the member key. The id is a
// pure function of its inputs, so lookups never need a secondary index and
// the store's uniqueness constraint on the id doubles as the serialization
// point for concurrent creates of the same key.
func MemberID(collectionSequence int64, key string) string {
	return fmt.Sprintf("%d_%s", collectionSequence, strings.ToLower(key))
}

// IntegerSize returns the physical storage width in bytes for an integer
// attribute with the given upper bound: 8 bytes when max exceeds the signed
// 32-bit range, 4 bytes otherwise.
func IntegerSize(max int64) int64 {
	if max > math.MaxInt32 {
		return 8
	}
	return 4
}
