package block

import "github.com/shopspring/decimal"

// Transaction is the reference a block keeps for each transaction placed in
// it. Volume is only recorded for privacy elements, and then holds the
// transaction total.
type Transaction struct {
	ID      string           `bson:"id" json:"id"`
	Ledger  string           `bson:"ledger" json:"ledger"`
	Element string           `bson:"element" json:"element"`
	Tax     decimal.Decimal  `bson:"tax" json:"tax"`
	Privacy bool             `bson:"privacy" json:"privacy"`
	Volume  *decimal.Decimal `bson:"volume,omitempty" json:"volume,omitempty"`
}

// Block is one six-minute window of the block timeline. Exactly one block
// exists per window number; heights are assigned monotonically by the block
// id sequence and are independent of wall clock.
type Block struct {
	ID                     string          `bson:"_id" json:"id"`
	PreviousID             string          `bson:"previousId,omitempty" json:"previousId,omitempty"`
	Number                 int64           `bson:"number" json:"number"`
	Height                 int64           `bson:"height" json:"height"`
	Closed                 bool            `bson:"closed" json:"closed"`
	Mined                  bool            `bson:"mined" json:"mined"`
	Timestamp              int64           `bson:"timestamp" json:"timestamp"`
	CloseTimestamp         int64           `bson:"closeTimestamp,omitempty" json:"closeTimestamp,omitempty"`
	MiningReleaseTimestamp int64           `bson:"miningReleaseTimestamp,omitempty" json:"miningReleaseTimestamp,omitempty"`
	MiningEndTimestamp     int64           `bson:"miningEndTimestamp,omitempty" json:"miningEndTimestamp,omitempty"`
	PreviousBlockHash      string          `bson:"previousBlockHash,omitempty" json:"previousBlockHash,omitempty"`
	BlockHash              string          `bson:"blockHash,omitempty" json:"blockHash,omitempty"`
	MerkleRoot             string          `bson:"merkleRoot,omitempty" json:"merkleRoot,omitempty"`
	Difficulty             int             `bson:"difficulty" json:"difficulty"`
	TotalFee               decimal.Decimal `bson:"totalFee" json:"totalFee"`
	Nonces                 []int64         `bson:"nonces,omitempty" json:"nonces,omitempty"`
	Miner                  string          `bson:"miner,omitempty" json:"miner,omitempty"`
	Transactions           []Transaction   `bson:"transactions" json:"transactions"`
}

// TxRef is what the transaction core hands over when placing a committed
// transaction into the timeline.
type TxRef struct {
	ID       string
	Element  string
	Ledger   string
	TotalTax decimal.Decimal
	Privacy  bool
	Total    decimal.Decimal
}
