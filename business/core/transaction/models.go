package transaction

import (
	"github.com/shopspring/decimal"
)

// Type categorizes a transaction.
type Type string

// Set of transaction types. CAPTURE and REWARD are internal movements and
// never carry tax.
const (
	TypeTransfer Type = "TRANSFER"
	TypeCapture  Type = "CAPTURE"
	TypeReward   Type = "REWARD"
)

// Transaction is the persisted ledger record. Records are chained per
// element: PreviousID carries the id of the element's prior transaction, and
// the record id is derived from that link.
type Transaction struct {
	ID         string          `bson:"_id" json:"id"`
	PreviousID string          `bson:"previousId,omitempty" json:"previousId,omitempty"`
	Type       Type            `bson:"type" json:"type"`
	From       string          `bson:"from" json:"from"`
	To         string          `bson:"to" json:"to"`
	Element    string          `bson:"element" json:"element"`
	Volume     decimal.Decimal `bson:"volume" json:"volume"`
	Nonce      int64           `bson:"nonce" json:"nonce"`
	Hash       string          `bson:"hash" json:"hash"`
	PublicKey  string          `bson:"publicKey,omitempty" json:"publicKey,omitempty"`
	Signature  string          `bson:"signature,omitempty" json:"signature,omitempty"`
	Timestamp  int64           `bson:"timestamp" json:"timestamp"`
	Shard      int64           `bson:"shard" json:"shard"`
	Ledger     string          `bson:"ledger" json:"ledger"`
	Block      int64           `bson:"block,omitempty" json:"block,omitempty"`
	Confirmed  bool            `bson:"confirmed" json:"confirmed"`
	Privacy    bool            `bson:"privacy" json:"privacy"`
	Version    int             `bson:"version" json:"version"`
	ElementTax decimal.Decimal `bson:"elementTax" json:"elementTax"`
	NetworkTax decimal.Decimal `bson:"networkTax" json:"networkTax"`
	TotalTax   decimal.Decimal `bson:"totalTax" json:"totalTax"`
	Total      decimal.Decimal `bson:"total" json:"total"`
	Link       string          `bson:"link,omitempty" json:"link,omitempty"`
	Metadata   map[string]any  `bson:"metadata,omitempty" json:"metadata,omitempty"`
}

// NewTransfer is what is required to create a transfer. The hash is the
// canonical request hash computed by the gateway; the signature must verify
// against it with the sender's public key.
type NewTransfer struct {
	To        string          `json:"to" validate:"required"`
	Element   string          `json:"element" validate:"required"`
	Volume    decimal.Decimal `json:"volume"`
	Nonce     int64           `json:"nonce"`
	Hash      string          `json:"hash" validate:"required"`
	PublicKey string          `json:"publicKey" validate:"required"`
	Signature string          `json:"signature" validate:"required"`
}

// QueryByID is what is required to look up a transaction.
type QueryByID struct {
	ID string `json:"id" validate:"required"`
}

// Mutator lets a caller attach side data, such as metadata describing a paid
// element update, to the draft before it is committed.
type Mutator func(tx *Transaction)
