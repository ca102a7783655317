package element

import (
	"context"
	"fmt"

	"github.com/norsh/blockchain/business/sys/sequence"
	"github.com/norsh/blockchain/foundation/ledger/signature"
)

// Identity of the network's native coin.
const (
	CoinSymbol        = "NSH"
	CoinDecimals      = 18
	CoinInitialSupply = 45_000_000
)

// Identity of the seed proxy element created at genesis.
const (
	proxySymbol   = "USDN-P"
	proxyDecimals = 6
	proxyNetwork  = "ETHEREUM"
)

// Genesis is the configuration material consumed by Bootstrap.
type Genesis struct {
	PublicKey    string
	PrivateKey   string
	NshTFO       string
	ProxyAddress string
}

// Bootstrap seeds the genesis element chain on first run. The absence of the
// elements sequence document is the sentinel: when it exists, Bootstrap is a
// no-op, which makes repeated invocations safe.
func (c *Core) Bootstrap(ctx context.Context, gen Genesis) error {
	initialized, err := c.seq.Initialized(ctx, sequence.Elements)
	if err != nil {
		return err
	}
	if initialized {
		return nil
	}

	c.log.Infow("bootstrap", "status", "seeding genesis elements")

	owner, err := signature.Owner(gen.PublicKey)
	if err != nil {
		return fmt.Errorf("derive genesis owner: %w", err)
	}

	coin := Element{
		Type:          TypeCoin,
		Owner:         owner,
		Symbol:        CoinSymbol,
		Decimals:      CoinDecimals,
		InitialSupply: CoinInitialSupply,
		TFO:           gen.NshTFO,
		PublicKey:     gen.PublicKey,
		Timestamp:     c.now().UnixMilli(),
		Privacy:       false,
		Version:       1,
		Status:        StatusEnabled,
		Metadata: map[string]any{
			"name": "Norsh",
			"site": "https://norsh.org",
		},
	}
	coin.Hash = signature.Sha256Of(coin.Symbol, coin.Decimals, coin.InitialSupply, coin.TFO, coin.PublicKey)

	if err := c.signAndSave(ctx, &coin, gen.PrivateKey); err != nil {
		return fmt.Errorf("seed coin element: %w", err)
	}

	proxy := Element{
		Type:      TypeProxy,
		Owner:     owner,
		Symbol:    proxySymbol,
		Decimals:  proxyDecimals,
		PublicKey: gen.PublicKey,
		Timestamp: c.now().UnixMilli(),
		Privacy:   false,
		Version:   1,
		Status:    StatusEnabled,
		Metadata: map[string]any{
			"name": "USD Norsh Proxy",
			"site": "https://norsh.org",
		},
	}
	if gen.ProxyAddress != "" {
		proxy.MonitoredNetworks = map[string]string{gen.ProxyAddress: proxyNetwork}
	}
	proxy.Hash = signature.Sha256Of(proxy.Symbol, proxy.Decimals, proxy.InitialSupply, proxy.TFO, proxy.PublicKey)

	if err := c.signAndSave(ctx, &proxy, gen.PrivateKey); err != nil {
		return fmt.Errorf("seed proxy element: %w", err)
	}

	c.mu.Lock()
	c.coin = nil
	c.mu.Unlock()

	c.log.Infow("bootstrap", "status", "genesis elements seeded", "coin", coin.ID, "proxy", proxy.ID)

	return nil
}

// signAndSave signs the element hash with the genesis key, self-verifies the
// signature, and chains the element into the elements sequence. Bootstrap
// runs before the consumer starts, so no lock is required here.
func (c *Core) signAndSave(ctx context.Context, elem *Element, privateKey string) error {
	sig, err := signature.SignHash(privateKey, elem.Hash)
	if err != nil {
		return err
	}
	elem.Signature = sig

	if !signature.VerifyHash(elem.PublicKey, elem.Signature, elem.Hash) {
		return fmt.Errorf("genesis signature does not verify against the configured public key")
	}

	return c.saveChained(ctx, elem)
}
