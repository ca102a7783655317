// Package shard maps transaction timestamps onto weekly ledger buckets.
package shard

import (
	"fmt"
	"time"
)

// ledgerPrefix is the prefix for ledger bucket collections.
const ledgerPrefix = "ledger"

// weekMs is the width of one shard in milliseconds.
var weekMs = (7 * 24 * time.Hour).Milliseconds()

// Week returns the shard index for the specified millisecond timestamp: the
// number of whole weeks elapsed since the unix epoch.
func Week(timestampMs int64) int64 {
	return timestampMs / weekMs
}

// Ledger returns the ledger bucket collection name for the specified shard.
func Ledger(shardIdx int64) string {
	return fmt.Sprintf("%s_%d", ledgerPrefix, shardIdx)
}

// LedgerAt returns the ledger bucket collection name for the specified
// millisecond timestamp.
func LedgerAt(timestampMs int64) string {
	return Ledger(Week(timestampMs))
}
