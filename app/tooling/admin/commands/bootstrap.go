package commands

import (
	"context"
	"fmt"

	"github.com/norsh/blockchain/business/core/element"
	"github.com/norsh/blockchain/business/sys/sequence"
	"github.com/spf13/cobra"
)

var (
	genPublicKey  string
	genPrivateKey string
	genNshTFO     string
	genProxyAddr  string
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Seed the genesis element chain",
	Long:  "Runs the genesis bootstrap against the document store. Safe to repeat: it is a no-op once the elements sequence exists.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		log, err := newLogger()
		if err != nil {
			return err
		}
		defer log.Sync()

		db, cleanup, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		elements := element.NewCore(element.Config{
			Log:       log,
			DB:        db,
			Sequences: sequence.NewStore(log, db),
		})

		if err := elements.Bootstrap(ctx, element.Genesis{
			PublicKey:    genPublicKey,
			PrivateKey:   genPrivateKey,
			NshTFO:       genNshTFO,
			ProxyAddress: genProxyAddr,
		}); err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}

		coin, err := elements.Coin(ctx)
		if err != nil {
			return err
		}

		fmt.Println("genesis chain ready")
		return printJSON(coin)
	},
}

func init() {
	bootstrapCmd.Flags().StringVar(&genPublicKey, "public-key", "", "genesis public key (hex or base64)")
	bootstrapCmd.Flags().StringVar(&genPrivateKey, "private-key", "", "genesis private key (hex)")
	bootstrapCmd.Flags().StringVar(&genNshTFO, "nsh-tfo", "", "NSH coin tfo")
	bootstrapCmd.Flags().StringVar(&genProxyAddr, "proxy-address", "", "monitored network address for the seed proxy element")
	bootstrapCmd.MarkFlagRequired("public-key")
	bootstrapCmd.MarkFlagRequired("private-key")

	rootCmd.AddCommand(bootstrapCmd)
}
