// Package hashing provides the content hashes used for etags and build
// versioning. Hashes are stable across runs: same bytes, same hash.
package hashing

import (
	"encoding/hex"
	"sort"

	"github.com/minio/highwayhash"
)

var key = []byte("URLGRAPH0123456789ABCDEF01234567")

// Sum returns a short stable hex digest of data.
func Sum(data []byte) string {
	h, err := highwayhash.New64(key)
	if err != nil {
		// key is a compile-time constant of valid length
		panic(err)
	}
	_, _ = h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// SumWithDependencies hashes content together with the sorted set of
// dependency hashes, so that a change anywhere below a resource cascades
// into its own version.
func SumWithDependencies(content []byte, depHashes []string) string {
	h, err := highwayhash.New64(key)
	if err != nil {
		panic(err)
	}
	_, _ = h.Write(content)
	sorted := make([]string, len(depHashes))
	copy(sorted, depHashes)
	sort.Strings(sorted)
	for _, dep := range sorted {
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(dep))
	}
	return hex.EncodeToString(h.Sum(nil))
}
