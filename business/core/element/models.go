package element

import (
	"github.com/norsh/blockchain/foundation/ledger/signature"
	"github.com/shopspring/decimal"
)

// Type categorizes what an element represents on the ledger.
type Type string

// Set of element types.
const (
	TypeCoin  Type = "COIN"
	TypeProxy Type = "PROXY"
)

// Status is the lifecycle state of an element.
type Status string

// Set of element statuses.
const (
	StatusPending  Status = "PENDING"
	StatusEnabled  Status = "ENABLED"
	StatusDisabled Status = "DISABLED"
)

// Policy captures the owner-defined rules for an element.
type Policy struct {
	CanMint        *bool            `bson:"canMint,omitempty" json:"canMint,omitempty"`
	CanBurn        *bool            `bson:"canBurn,omitempty" json:"canBurn,omitempty"`
	CanPause       *bool            `bson:"canPause,omitempty" json:"canPause,omitempty"`
	TransactionTax *decimal.Decimal `bson:"transactionTax,omitempty" json:"transactionTax,omitempty"`
	FreezeDuration *int             `bson:"freezeDuration,omitempty" json:"freezeDuration,omitempty"`
	Script         string           `bson:"script,omitempty" json:"script,omitempty"`
}

// Element is a ledgered asset or proxy. Elements are insert-only; afterward
// the owner may patch metadata fields through SetMetadata. No operation
// patches the policy or the monitored networks.
type Element struct {
	ID                string            `bson:"_id" json:"id"`
	PreviousID        string            `bson:"previousId,omitempty" json:"previousId,omitempty"`
	Owner             string            `bson:"owner" json:"owner"`
	Symbol            string            `bson:"symbol" json:"symbol"`
	Type              Type              `bson:"type" json:"type"`
	Decimals          int32             `bson:"decimals" json:"decimals"`
	InitialSupply     int64             `bson:"initialSupply,omitempty" json:"initialSupply,omitempty"`
	TFO               string            `bson:"tfo,omitempty" json:"tfo,omitempty"`
	Hash              string            `bson:"hash" json:"hash"`
	PublicKey         string            `bson:"publicKey" json:"publicKey"`
	Signature         string            `bson:"signature" json:"signature"`
	Timestamp         int64             `bson:"timestamp" json:"timestamp"`
	Privacy           bool              `bson:"privacy" json:"privacy"`
	Status            Status            `bson:"status" json:"status"`
	Policy            *Policy           `bson:"policy,omitempty" json:"policy,omitempty"`
	Metadata          map[string]any    `bson:"metadata,omitempty" json:"metadata,omitempty"`
	MonitoredNetworks map[string]string `bson:"monitoredNetworks,omitempty" json:"monitoredNetworks,omitempty"`
	Version           int               `bson:"version" json:"version"`
}

// =============================================================================

// NewElement is what is required to create an element.
type NewElement struct {
	Type          Type   `json:"type" validate:"required,oneof=COIN PROXY"`
	Symbol        string `json:"symbol" validate:"required"`
	Decimals      int32  `json:"decimals" validate:"gte=0,lte=18"`
	InitialSupply int64  `json:"initialSupply" validate:"gte=0"`
	TFO           string `json:"tfo"`
	PublicKey     string `json:"publicKey" validate:"required"`
	Hash          string `json:"hash" validate:"required"`
	Signature     string `json:"signature" validate:"required"`
}

// VerifySignature reports whether the request signature matches the declared
// hash and public key.
func (ne NewElement) VerifySignature() bool {
	return signature.VerifyHash(ne.PublicKey, ne.Signature, ne.Hash)
}

// MetadataUpdate is what is required to patch element metadata. A nil field
// is left untouched, an empty string unsets it, any other value replaces it.
type MetadataUpdate struct {
	ID        string  `json:"id" validate:"required"`
	PublicKey string  `json:"publicKey" validate:"required"`
	Hash      string  `json:"hash" validate:"required"`
	Signature string  `json:"signature" validate:"required"`
	Name      *string `json:"name"`
	About     *string `json:"about"`
	Logo      *string `json:"logo"`
	Site      *string `json:"site"`
	Policy    *string `json:"policy"`
}

// QueryByID is what is required to look up an element.
type QueryByID struct {
	ID string `json:"id" validate:"required"`
}
