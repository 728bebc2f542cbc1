package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bancorprotocol/carbon-contracts-sub001/params"
	"github.com/bancorprotocol/carbon-contracts-sub001/pkg/api"
	"github.com/bancorprotocol/carbon-contracts-sub001/pkg/app/carbon"
	"github.com/bancorprotocol/carbon-contracts-sub001/pkg/app/core/trade"
	"github.com/bancorprotocol/carbon-contracts-sub001/pkg/crypto"
	"github.com/bancorprotocol/carbon-contracts-sub001/pkg/p2p"
	"github.com/bancorprotocol/carbon-contracts-sub001/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	// Setup logging (write to both console and file)
	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	// Venue admin. A configured key pins the admin to a real account the
	// operator can sign with; otherwise a throwaway devnet key is minted.
	var admin common.Address
	if cfg.Node.AdminKeyHex != "" {
		signer, err := crypto.FromPrivateKeyHex(cfg.Node.AdminKeyHex)
		if err != nil {
			sugar.Fatalw("admin_key_invalid", "err", err)
		}
		admin = signer.Address()
	} else {
		signer, err := crypto.GenerateKey()
		if err != nil {
			sugar.Fatalw("admin_key_generation_failed", "err", err)
		}
		admin = signer.Address()
		sugar.Warnw("admin_key_generated",
			"address", admin.Hex(),
			"private_key", signer.PrivateKeyHex(),
			"note", "devnet only, set ADMIN_KEY_HEX for a stable admin")
	}

	// ---- Venue ----
	app, err := carbon.NewApp(carbon.Config{
		StrategyDB: cfg.Node.StrategyDB,
		VaultDB:    cfg.Node.VaultDB,
		JournalDB:  cfg.Node.JournalDB,
		Admin:      admin,
		Fees: trade.Fees{
			StaticPPM:   cfg.Fees.StaticPPM,
			GradientPPM: cfg.Fees.GradientPPM,
		},
		Logger: logger,
		Clock:  util.RealClock{},
	})
	if err != nil {
		sugar.Fatalw("venue_init_failed", "err", err)
	}
	defer app.Close()

	if cfg.Node.PausedAtBoot {
		if err := app.Pause(admin); err != nil {
			sugar.Fatalw("pause_at_boot_failed", "err", err)
		}
		sugar.Warn("venue started paused, unpause via /api/v1/admin/unpause")
	}

	sugar.Infow("venue_ready",
		"admin", admin.Hex(),
		"fee_static_ppm", cfg.Fees.StaticPPM,
		"fee_gradient_ppm", cfg.Fees.GradientPPM,
		"pairs", len(app.Pairs()),
		"strategies", len(app.ListStrategies()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Gossip (optional): replicate trades and strategy events ----
	if cfg.Gossip.Enabled {
		gossip, err := p2p.NewGossip(ctx, p2p.GossipConfig{
			ListenAddr: cfg.Gossip.ListenAddr,
			Bootstrap:  cfg.Gossip.Bootstrap,
			Logger:     sugar,
		})
		if err != nil {
			sugar.Fatalw("gossip_init_failed", "err", err)
		}
		defer gossip.Close()

		app.OnTrade(func(ev carbon.TradeEvent) {
			rec := carbon.RecordOf(ev)
			go func() {
				if err := gossip.PublishTrade(ctx, rec); err != nil {
					sugar.Warnw("gossip_trade_publish_failed", "seq", rec.Seq, "err", err)
				}
			}()
		})
		app.OnStrategy(func(ev carbon.StrategyEvent) {
			st := ev.Strategy
			event := string(ev.Type)
			go func() {
				if err := gossip.PublishStrategy(ctx, event, st); err != nil {
					sugar.Warnw("gossip_strategy_publish_failed", "strategy", st.ID, "err", err)
				}
			}()
		})
	}

	// ---- API Server ----
	apiServer := api.NewServer(app, api.Options{
		AllowedOrigins: cfg.API.AllowedOrigins,
		ChainID:        cfg.Node.ChainID,
	})
	go func() {
		sugar.Infow("api_server_starting", "addr", cfg.API.ListenAddr)
		if err := apiServer.Start(cfg.API.ListenAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	<-ctx.Done()
	sugar.Info("shutting down")
}
