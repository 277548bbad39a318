package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sol-namoo/monthlyGrow-sub000/internal/mongo"
)

var ensureIndexesCmd = &cobra.Command{
	Use:   "ensure-indexes",
	Short: "Create the MongoDB indexes the services rely on",
	Long: `Connect to MongoDB and create the indexes behind the owner-scoped and
ended-period queries. Safe to run repeatedly.

Reads the URI from --mongo-uri flag, MONGO_URI env var, or config file.`,
	RunE: runEnsureIndexes,
}

func init() {
	ensureIndexesCmd.Flags().String("mongo-uri", "mongodb://localhost:27017", "MongoDB connection URI")
	ensureIndexesCmd.Flags().String("mongo-database", "monthlygrow", "MongoDB database name")
	bindFlag("mongo_uri", ensureIndexesCmd.Flags(), "mongo-uri")
	bindFlag("mongo_database", ensureIndexesCmd.Flags(), "mongo-database")
}

func runEnsureIndexes(_ *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := mongo.Connect(ctx, viper.GetString("mongo_uri"), viper.GetString("mongo_database"))
	if err != nil {
		return fmt.Errorf("connect mongo: %w", err)
	}
	defer func() { _ = db.Client().Disconnect(context.Background()) }()

	if err := mongo.EnsureIndexes(ctx, db); err != nil {
		return err
	}
	fmt.Println("indexes ensured")
	return nil
}
