// Package handlers wires the dispatcher route table and the debug mux for
// the worker service.
package handlers

import (
	"context"
	"encoding/json"
	"expvar"
	"net/http"
	"net/http/pprof"

	"github.com/dimfeld/httptreemux/v5"
	"github.com/norsh/blockchain/business/core/element"
	"github.com/norsh/blockchain/business/core/miner"
	"github.com/norsh/blockchain/business/core/transaction"
	"github.com/norsh/blockchain/business/queue/dispatch"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Payload tags recognized on request envelopes.
const (
	TagElementCreate     = "element.create"
	TagElementGet        = "element.get"
	TagElementMetadata   = "element.metadata"
	TagTransactionCreate = "transaction.create"
	TagTransactionGet    = "transaction.get"
	TagBlockVerify       = "block.verify"
)

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Log          *zap.SugaredLogger
	Elements     *element.Core
	Transactions *transaction.Core
	Miners       *miner.Core
}

// Handlers binds the ledger cores to the dispatcher routes.
type Handlers struct {
	log          *zap.SugaredLogger
	elements     *element.Core
	transactions *transaction.Core
	miners       *miner.Core
}

// New constructs the handler set from the configuration.
func New(cfg Config) *Handlers {
	return &Handlers{
		log:          cfg.Log,
		elements:     cfg.Elements,
		transactions: cfg.Transactions,
		miners:       cfg.Miners,
	}
}

// Register installs every route on the dispatcher.
func (h *Handlers) Register(d *dispatch.Dispatcher) {
	d.Handle(TagElementCreate, dispatch.VerbPost, h.elementCreate)
	d.Handle(TagElementGet, dispatch.VerbGet, h.elementGet)
	d.Handle(TagElementMetadata, dispatch.VerbPut, h.elementMetadata)
	d.Handle(TagTransactionCreate, dispatch.VerbPost, h.transactionCreate)
	d.Handle(TagTransactionGet, dispatch.VerbGet, h.transactionGet)
	d.Handle(TagBlockVerify, dispatch.VerbPost, h.blockVerify)
}

func (h *Handlers) elementCreate(ctx context.Context, data json.RawMessage) (any, error) {
	var ne element.NewElement
	if err := dispatch.Decode(data, &ne); err != nil {
		return nil, err
	}

	return h.elements.Create(ctx, ne)
}

func (h *Handlers) elementGet(ctx context.Context, data json.RawMessage) (any, error) {
	var q element.QueryByID
	if err := dispatch.Decode(data, &q); err != nil {
		return nil, err
	}

	return h.elements.Get(ctx, q.ID)
}

// metadataRequest is the metadata patch plus the optional fee transaction
// that pays for updating metadata already on file.
type metadataRequest struct {
	element.MetadataUpdate
	Transaction *transaction.NewTransfer `json:"transaction,omitempty"`
}

func (h *Handlers) elementMetadata(ctx context.Context, data json.RawMessage) (any, error) {
	var req metadataRequest
	if err := dispatch.Decode(data, &req); err != nil {
		return nil, err
	}

	var charge element.ChargeFunc
	if req.Transaction != nil {
		charge = func(ctx context.Context, meta map[string]any) error {
			_, err := h.transactions.Create(ctx, *req.Transaction, func(tx *transaction.Transaction) {
				tx.Metadata = meta
			})
			return err
		}
	}

	return h.elements.SetMetadata(ctx, req.MetadataUpdate, charge)
}

func (h *Handlers) transactionCreate(ctx context.Context, data json.RawMessage) (any, error) {
	var nt transaction.NewTransfer
	if err := dispatch.Decode(data, &nt); err != nil {
		return nil, err
	}

	return h.transactions.Create(ctx, nt, nil)
}

func (h *Handlers) transactionGet(ctx context.Context, data json.RawMessage) (any, error) {
	var q transaction.QueryByID
	if err := dispatch.Decode(data, &q); err != nil {
		return nil, err
	}

	return h.transactions.Get(ctx, q.ID)
}

// verifyRequest is an external miner's claim over a closed block.
type verifyRequest struct {
	BlockID string  `json:"blockId"`
	Nonces  []int64 `json:"nonces"`
	Hash    string  `json:"hash"`
	Miner   string  `json:"miner"`
}

func (h *Handlers) blockVerify(ctx context.Context, data json.RawMessage) (any, error) {
	var req verifyRequest
	if err := dispatch.Decode(data, &req); err != nil {
		return nil, err
	}

	verified, err := h.miners.VerifyBlockAndRewardMiner(ctx, req.BlockID, req.Nonces, req.Hash, req.Miner)
	if err != nil {
		return nil, err
	}

	return map[string]bool{"verified": verified}, nil
}

// =============================================================================

// DebugMux registers all the debug standard library routes and then custom
// debug application routes for the service.
func DebugMux(build string, log *zap.SugaredLogger) http.Handler {
	mux := httptreemux.NewContextMux()

	mux.Handler(http.MethodGet, "/debug/pprof/", http.HandlerFunc(pprof.Index))
	mux.Handler(http.MethodGet, "/debug/pprof/cmdline", http.HandlerFunc(pprof.Cmdline))
	mux.Handler(http.MethodGet, "/debug/pprof/profile", http.HandlerFunc(pprof.Profile))
	mux.Handler(http.MethodGet, "/debug/pprof/symbol", http.HandlerFunc(pprof.Symbol))
	mux.Handler(http.MethodGet, "/debug/pprof/trace", http.HandlerFunc(pprof.Trace))
	mux.Handler(http.MethodGet, "/debug/vars", expvar.Handler())
	mux.Handler(http.MethodGet, "/debug/metrics", promhttp.Handler())

	mux.Handler(http.MethodGet, "/debug/liveness", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := struct {
			Status string `json:"status"`
			Build  string `json:"build"`
		}{
			Status: "up",
			Build:  build,
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status); err != nil {
			log.Errorw("liveness", "ERROR", err)
		}
	}))

	return mux
}
