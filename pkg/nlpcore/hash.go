package nlpcore

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// SourceHash computes the deterministic, keyed change-detection hash of a
// record's text plus its canonicalized copy columns. The key is the
// NlpDefinition's shared secret; without it, an attacker who can read the
// progress table could predict hashes and forge "unchanged" rows.
func SourceHash(key []byte, text string, copyValues map[string]any) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(text))
	mac.Write([]byte{0})
	mac.Write([]byte(canonicalCopyColumns(copyValues)))
	return hex.EncodeToString(mac.Sum(nil))
}

// canonicalCopyColumns renders copy columns in a stable, sorted-by-key
// form so the hash does not depend on map iteration order.
func canonicalCopyColumns(copyValues map[string]any) string {
	if len(copyValues) == 0 {
		return ""
	}

	keys := make([]string, 0, len(copyValues))
	for k := range copyValues {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\x1f')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(stringifyCopyValue(copyValues[k]))
	}
	return b.String()
}

func stringifyCopyValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "<nil>"
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

// StringPKSurrogate computes the 63-bit integer surrogate PK used when a
// source table's primary key is not an integer, per the Planner's string-PK
// handling. 63 bits (not 64) keeps the value representable as a signed
// int64 without sign ambiguity across SQL dialects that lack unsigned
// integer columns.
func StringPKSurrogate(pk string) int64 {
	sum := xxhash.Sum64String(pk)
	return int64(sum & 0x7fffffffffffffff)
}
