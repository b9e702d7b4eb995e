package hash

import "github.com/cespare/xxhash/v2"

// Digest computes an order-sensitive xxHash64 over parts.
// Each part is terminated by a zero byte so ("ab", "c") and ("a", "bc") differ.
func Digest(parts ...string) uint64 {
	d := xxhash.New()
	for _, p := range parts {
		_, _ = d.WriteString(p)
		_, _ = d.Write([]byte{0})
	}

	return d.Sum64()
}
