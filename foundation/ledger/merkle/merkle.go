// Package merkle computes the merkle root over the transaction ids recorded
// in a block.
package merkle

import "github.com/norsh/blockchain/foundation/ledger/signature"

// Root folds the specified transaction ids bottom-up into a single root hash.
// Pairs of hex ids are concatenated and hashed with Keccak-256; an odd
// trailing id is paired with itself. The root depends on insertion order.
// An empty id list produces an empty root.
func Root(ids []string) string {
	if len(ids) == 0 {
		return ""
	}

	level := make([]string, len(ids))
	copy(level, ids)

	for len(level) > 1 {
		next := make([]string, 0, (len(level)+1)/2)

		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, signature.Keccak(left, right))
		}

		level = next
	}

	return level[0]
}
