package element_test

import (
	"context"
	"testing"
	"time"

	"github.com/norsh/blockchain/business/core/element"
	"github.com/norsh/blockchain/business/sys/cache"
	"github.com/norsh/blockchain/business/sys/database"
	"github.com/norsh/blockchain/business/sys/lock"
	"github.com/norsh/blockchain/business/sys/op"
	"github.com/norsh/blockchain/business/sys/sequence"
	"github.com/norsh/blockchain/foundation/ledger/signature"
	"go.uber.org/zap"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

// Fixed secp256k1 keys so element identities are reproducible.
const (
	ownerKey    = "fad9c8855b740a0b7ed4c221dbad0f33a83a49cad6b3fe8d5817ac83d38b6a19"
	strangerKey = "45a915e4d060149eb4365960e6a7a45f334393093061116b197e3240065ff2d8"
)

func newTestCore(t *testing.T) (*element.Core, database.Store) {
	t.Helper()

	log := zap.NewNop().Sugar()
	db := database.NewMemory()

	locks := lock.New(lock.Config{
		Log:            log,
		Cache:          cache.NewMemory(),
		TTL:            time.Second,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	})

	core := element.NewCore(element.Config{
		Log:       log,
		DB:        db,
		Lock:      locks,
		Sequences: sequence.NewStore(log, db),
	})

	return core, db
}

func signedNewElement(t *testing.T, symbol string, privateKey string) element.NewElement {
	t.Helper()

	publicKey, err := signature.PublicKeyFor(privateKey)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to derive the public key: %v", failed, err)
	}

	ne := element.NewElement{
		Type:          element.TypeCoin,
		Symbol:        symbol,
		Decimals:      18,
		InitialSupply: 1_000_000,
		PublicKey:     publicKey,
	}
	ne.Hash = signature.Sha256Of(ne.Symbol, ne.Decimals, ne.InitialSupply, ne.TFO, ne.PublicKey)

	sig, err := signature.SignHash(privateKey, ne.Hash)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to sign the element hash: %v", failed, err)
	}
	ne.Signature = sig

	return ne
}

func Test_CreateChained(t *testing.T) {
	t.Log("Given the need to create elements chained through the elements sequence.")
	{
		core, _ := newTestCore(t)
		ctx := context.Background()

		t.Logf("\tTest 0:\tWhen creating two elements in order.")
		{
			first, err := core.Create(ctx, signedNewElement(t, "AAA", ownerKey))
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to create the first element: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould be able to create the first element.", success)

			if first.PreviousID != "" {
				t.Fatalf("\t%s\tTest 0:\tShould have an empty previous id on the first element: %q", failed, first.PreviousID)
			}
			t.Logf("\t%s\tTest 0:\tShould have an empty previous id on the first element.", success)

			if first.Status != element.StatusPending {
				t.Fatalf("\t%s\tTest 0:\tShould start in PENDING: %q", failed, first.Status)
			}
			t.Logf("\t%s\tTest 0:\tShould start in PENDING.", success)

			second, err := core.Create(ctx, signedNewElement(t, "BBB", ownerKey))
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to create the second element: %v", failed, err)
			}

			if second.PreviousID != first.ID {
				t.Fatalf("\t%s\tTest 0:\tShould chain the second element behind the first: got %q want %q", failed, second.PreviousID, first.ID)
			}
			t.Logf("\t%s\tTest 0:\tShould chain the second element behind the first.", success)

			wantID := signature.HashOf(second.PreviousID, second.Hash, second.Timestamp)
			if second.ID != wantID {
				t.Fatalf("\t%s\tTest 0:\tShould derive the id from previousId, hash and timestamp.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould derive the id from previousId, hash and timestamp.", success)
		}
	}
}

func Test_CreateDuplicate(t *testing.T) {
	t.Log("Given the need to reject elements whose hash already exists.")
	{
		core, _ := newTestCore(t)
		ctx := context.Background()

		ne := signedNewElement(t, "AAA", ownerKey)

		if _, err := core.Create(ctx, ne); err != nil {
			t.Fatalf("\t%s\tShould be able to create the element: %v", failed, err)
		}

		_, err := core.Create(ctx, ne)
		oe, ok := op.AsError(err)
		if !ok || oe.Status != op.StatusExists {
			t.Fatalf("\t%s\tShould receive EXISTS on the duplicate: %v", failed, err)
		}
		t.Logf("\t%s\tShould receive EXISTS on the duplicate.", success)
	}
}

func Test_SetMetadata(t *testing.T) {
	t.Log("Given the need to patch element metadata under owner control.")
	{
		core, _ := newTestCore(t)
		ctx := context.Background()

		created, err := core.Create(ctx, signedNewElement(t, "AAA", ownerKey))
		if err != nil {
			t.Fatalf("\t%s\tShould be able to create the element: %v", failed, err)
		}

		ownerPub, _ := signature.PublicKeyFor(ownerKey)
		strangerPub, _ := signature.PublicKeyFor(strangerKey)

		name := "Asset A"
		site := "https://a.example"
		md := element.MetadataUpdate{
			ID:        created.ID,
			PublicKey: ownerPub,
			Hash:      created.Hash,
			Signature: created.Signature,
			Name:      &name,
			Site:      &site,
		}

		t.Logf("\tTest 0:\tWhen the owner patches a fresh element.")
		{
			patched, err := core.SetMetadata(ctx, md, nil)
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to patch metadata without a fee: %v", failed, err)
			}
			if patched.Metadata["name"] != "Asset A" || patched.Metadata["site"] != "https://a.example" {
				t.Fatalf("\t%s\tTest 0:\tShould carry the patched fields: %v", failed, patched.Metadata)
			}
			t.Logf("\t%s\tTest 0:\tShould carry the patched fields.", success)
		}

		t.Logf("\tTest 1:\tWhen a stranger attempts the patch.")
		{
			bad := md
			bad.PublicKey = strangerPub

			_, err := core.SetMetadata(ctx, bad, nil)
			oe, ok := op.AsError(err)
			if !ok || oe.Status != op.StatusForbidden {
				t.Fatalf("\t%s\tTest 1:\tShould receive FORBIDDEN: %v", failed, err)
			}
			t.Logf("\t%s\tTest 1:\tShould receive FORBIDDEN.", success)
		}

		t.Logf("\tTest 2:\tWhen metadata already exists and no fee transaction is supplied.")
		{
			_, err := core.SetMetadata(ctx, md, nil)
			oe, ok := op.AsError(err)
			if !ok || oe.Status != op.StatusError {
				t.Fatalf("\t%s\tTest 2:\tShould refuse the unpaid update: %v", failed, err)
			}
			t.Logf("\t%s\tTest 2:\tShould refuse the unpaid update.", success)
		}

		t.Logf("\tTest 3:\tWhen the fee transaction succeeds, empty strings unset fields.")
		{
			empty := ""
			unset := md
			unset.Name = nil
			unset.Site = &empty

			var charged bool
			charge := func(ctx context.Context, meta map[string]any) error {
				charged = true
				if meta["element"] != created.ID {
					t.Errorf("\t%s\tTest 3:\tShould describe the element being charged: %v", failed, meta)
				}
				return nil
			}

			patched, err := core.SetMetadata(ctx, unset, charge)
			if err != nil {
				t.Fatalf("\t%s\tTest 3:\tShould be able to patch with a fee: %v", failed, err)
			}
			if !charged {
				t.Fatalf("\t%s\tTest 3:\tShould have executed the fee transaction.", failed)
			}
			t.Logf("\t%s\tTest 3:\tShould have executed the fee transaction.", success)

			if _, exists := patched.Metadata["site"]; exists {
				t.Fatalf("\t%s\tTest 3:\tShould have unset the empty field: %v", failed, patched.Metadata)
			}
			if patched.Metadata["name"] != "Asset A" {
				t.Fatalf("\t%s\tTest 3:\tShould have left the nil field untouched: %v", failed, patched.Metadata)
			}
			t.Logf("\t%s\tTest 3:\tShould apply leave/unset/set rules per field.", success)
		}
	}
}

func Test_Bootstrap(t *testing.T) {
	t.Log("Given the need to seed the genesis element chain exactly once.")
	{
		core, db := newTestCore(t)
		ctx := context.Background()

		publicKey, _ := signature.PublicKeyFor(ownerKey)

		gen := element.Genesis{
			PublicKey:    publicKey,
			PrivateKey:   ownerKey,
			NshTFO:       "tfo-genesis",
			ProxyAddress: "0x9E00eecbD1B387C01E7C8A449dF1FDbA0caa5B4e",
		}

		t.Logf("\tTest 0:\tWhen bootstrapping an empty store.")
		{
			if err := core.Bootstrap(ctx, gen); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to bootstrap: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould be able to bootstrap.", success)

			coin, err := core.Coin(ctx)
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould find the NSH coin element: %v", failed, err)
			}
			if coin.Symbol != "NSH" || coin.Status != element.StatusEnabled || coin.PreviousID != "" {
				t.Fatalf("\t%s\tTest 0:\tShould have an enabled NSH coin heading the chain.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould have an enabled NSH coin heading the chain.", success)

			var proxy element.Element
			if err := db.FindOne(ctx, database.ColElements, database.Filter{"symbol": "USDN-P"}, &proxy); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould find the seed proxy element: %v", failed, err)
			}
			if proxy.Status != element.StatusEnabled || proxy.PreviousID != coin.ID {
				t.Fatalf("\t%s\tTest 0:\tShould chain the proxy behind the coin.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould chain the proxy behind the coin.", success)
		}

		t.Logf("\tTest 1:\tWhen bootstrapping a second time.")
		{
			if err := core.Bootstrap(ctx, gen); err != nil {
				t.Fatalf("\t%s\tTest 1:\tShould be able to repeat bootstrap: %v", failed, err)
			}

			coinAgain, err := core.Coin(ctx)
			if err != nil {
				t.Fatalf("\t%s\tTest 1:\tShould still find the coin: %v", failed, err)
			}

			// The elements sequence still points at the proxy, proving no
			// further elements were chained.
			seq := sequence.NewStore(zap.NewNop().Sugar(), db)
			s, err := seq.Get(ctx, sequence.Elements)
			if err != nil {
				t.Fatalf("\t%s\tTest 1:\tShould read the elements sequence: %v", failed, err)
			}
			if s.Data == "" || s.Data == coinAgain.ID {
				t.Fatalf("\t%s\tTest 1:\tShould leave the sequence pointing at the proxy: %q", failed, s.Data)
			}
			t.Logf("\t%s\tTest 1:\tShould leave the element chain unchanged.", success)
		}
	}
}
