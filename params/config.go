package params

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Fees struct {
	// PPM rates applied on the taker's output side (or grossed onto the
	// input for trades quoted by target amount).
	StaticPPM   uint32
	GradientPPM uint32
}

type API struct {
	ListenAddr string
	// AllowedOrigins feeds the CORS middleware. "*" for devnet.
	AllowedOrigins []string
}

type Gossip struct {
	Enabled    bool
	ListenAddr string   // multiaddr
	Bootstrap  []string // multiaddrs of peers to dial on startup
}

type Node struct {
	ChainID     int64
	StrategyDB  string
	VaultDB     string
	JournalDB   string
	LogFile     string
	AdminKeyHex string // secp256k1 private key of the venue admin (devnet only)

	// PausedAtBoot starts the venue with trading halted; the admin
	// unpauses once ready.
	PausedAtBoot bool
}

type Config struct {
	Fees   Fees
	API    API
	Gossip Gossip
	Node   Node
}

func Default() Config {
	return Config{
		Fees: Fees{
			StaticPPM:   2000,
			GradientPPM: 4000,
		},
		API: API{
			ListenAddr:     ":8080",
			AllowedOrigins: []string{"*"},
		},
		Gossip: Gossip{
			Enabled:    false,
			ListenAddr: "/ip4/0.0.0.0/tcp/9000",
		},
		Node: Node{
			ChainID:    1337,
			StrategyDB: "data/strategies",
			VaultDB:    "data/vault",
			JournalDB:  "data/journal",
			LogFile:    "logs/carbond.log",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment
// variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("FEE_STATIC_PPM"); v != "" {
		if ppm, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.Fees.StaticPPM = uint32(ppm)
		}
	}
	if v := os.Getenv("FEE_GRADIENT_PPM"); v != "" {
		if ppm, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.Fees.GradientPPM = uint32(ppm)
		}
	}

	cfg.API.ListenAddr = getEnv("API_LISTEN_ADDR", cfg.API.ListenAddr)
	if v := os.Getenv("API_ALLOWED_ORIGINS"); v != "" {
		cfg.API.AllowedOrigins = strings.Split(v, ",")
	}

	if v := os.Getenv("GOSSIP_ENABLED"); v != "" {
		cfg.Gossip.Enabled = v == "true"
	}
	cfg.Gossip.ListenAddr = getEnv("GOSSIP_LISTEN_ADDR", cfg.Gossip.ListenAddr)
	if v := os.Getenv("GOSSIP_BOOTSTRAP"); v != "" {
		cfg.Gossip.Bootstrap = strings.Split(v, ",")
	}

	if v := os.Getenv("CHAIN_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Node.ChainID = id
		}
	}
	cfg.Node.StrategyDB = getEnv("STRATEGY_DB_PATH", cfg.Node.StrategyDB)
	cfg.Node.VaultDB = getEnv("VAULT_DB_PATH", cfg.Node.VaultDB)
	cfg.Node.JournalDB = getEnv("JOURNAL_DB_PATH", cfg.Node.JournalDB)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.AdminKeyHex = getEnv("ADMIN_KEY_HEX", cfg.Node.AdminKeyHex)
	if v := os.Getenv("PAUSED_AT_BOOT"); v != "" {
		cfg.Node.PausedAtBoot = v == "true"
	}

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
