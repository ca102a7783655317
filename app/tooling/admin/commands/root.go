// Package commands implements the admin CLI for operating a ledger worker
// deployment: genesis bootstrap, balance and block inspection, and local
// proof-of-work runs against closed blocks.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/norsh/blockchain/business/sys/database"
	"github.com/norsh/blockchain/foundation/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	mongoURI string
	mongoDB  string
)

var rootCmd = &cobra.Command{
	Use:   "admin",
	Short: "Norsh ledger admin tooling",
	Long:  "Inspect and operate the ledger document store directly.",
}

// Execute runs the admin CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&mongoURI, "mongo-uri", "mongodb://localhost:27017", "mongo connection uri")
	rootCmd.PersistentFlags().StringVar(&mongoDB, "mongo-db", "norsh", "mongo database name")
}

// openStore connects to the configured document store and returns it with a
// cleanup function.
func openStore(ctx context.Context) (database.Store, func(), error) {
	client, err := database.Open(ctx, database.MongoConfig{
		URI:            mongoURI,
		Database:       mongoDB,
		ConnectTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("opening mongo: %w", err)
	}

	cleanup := func() {
		client.Disconnect(ctx)
	}

	return database.NewMongo(client, mongoDB), cleanup, nil
}

func newLogger() (*zap.SugaredLogger, error) {
	return logger.New("ADMIN")
}

// printJSON renders a document for the terminal.
func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	fmt.Println(string(data))
	return nil
}
