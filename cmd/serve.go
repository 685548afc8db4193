package cmd

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"nodegate/chain"
	"nodegate/config"
	"nodegate/cosign"
	"nodegate/gateway"
	"nodegate/ledger"
	"nodegate/simcache"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the co-signing gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	admin, err := cfg.LoadAdminKeypair()
	if err != nil {
		return err
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := ledger.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate ledger schema: %w", err)
	}

	rpcClient := rpc.New(cfg.RPCEndpoint)
	deriver := &chain.Deriver{
		RewardProgram:  cfg.RewardProgramID,
		AirdropProgram: cfg.AirdropProgramID,
		StakeProgram:   cfg.StakeProgramID,
		Mint:           cfg.RewardMint,
	}
	known := chain.KnownInstructions(cfg.RewardProgramID, cfg.AirdropProgramID, cfg.StakeProgramID)
	registry := chain.NewRegistry(chain.NewClientBuilder(rpcClient, admin, cfg.IsProduction(), known), logger)

	cache := simcache.New(cfg.SimulationCacheTTL)
	defer cache.Close()
	fees := chain.NewFeeOracle(cfg.FeeOracleURL, cfg.FallbackFeePrice, cache, logger)

	builder := cosign.NewBuilder(registry, deriver, fees, admin, cfg.Treasury,
		cfg.NetworkFeeAmount, cfg.ComputeUnitLimit, logger)
	treasuryToken, err := builder.TreasuryTokenAccount()
	if err != nil {
		return fmt.Errorf("derive treasury token account: %w", err)
	}

	ldg := ledger.New(db, cfg.AuthorizationTTL, logger)
	hasher := cosign.NewHasher()
	auth := cosign.NewAuthenticator(admin, rpcClient)
	caster := cosign.NewBroadcaster(rpcClient, hasher, ldg, admin, deriver,
		treasuryToken, cfg.ConfirmTimeout, logger)

	metrics := gateway.NewMetrics(prometheus.DefaultRegisterer)
	server := gateway.NewServer(auth, builder, caster, ldg, fees, cache, rpcClient, metrics, logger)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info("gateway listening", "port", cfg.Port, "env", cfg.Env, "admin", admin.PublicKey().String())
	return httpServer.ListenAndServe()
}
