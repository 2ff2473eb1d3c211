package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"advanced_rps/internal/ledger"
	"advanced_rps/internal/logger"
)

// Relay configures cmd/relay.
type Relay struct {
	Port          string
	Secret        string
	AllowedOrigin string
	Version       string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RateLimit  int
	RateWindow time.Duration
	// HostMaxAge drops hosts nobody joined.
	HostMaxAge time.Duration

	LogLevel string
	LogJSON  bool
}

// Player configures cmd/rpsplay.
type Player struct {
	RelayURL    string
	RelaySecret string

	RPCURL       string
	PrivateKey   string
	BytecodeFile string
	DefaultStake *big.Int

	PollInterval time.Duration
	MoveTimeout  time.Duration

	DatabaseURL string

	LogLevel string
	LogJSON  bool
}

// LoadRelay reads the relay settings from the environment and .env.
func LoadRelay() *Relay {
	_ = godotenv.Load()

	secret := os.Getenv("RELAY_SECRET")
	if secret == "" {
		logger.Fatal("RELAY_SECRET is not set")
	}

	return &Relay{
		Port:          getString("RELAY_PORT", "8080"),
		Secret:        secret,
		AllowedOrigin: os.Getenv("ALLOWED_ORIGIN"),
		Version:       getString("RELAY_VERSION", "dev"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getInt("REDIS_DB", 0),
		RateLimit:     getInt("RELAY_RATE_LIMIT", 30),
		RateWindow:    time.Duration(getInt("RELAY_RATE_WINDOW", 60)) * time.Second,
		HostMaxAge:    time.Duration(getInt("RELAY_HOST_MAX_AGE_MINUTES", 60)) * time.Minute,
		LogLevel:      getString("LOG_LEVEL", "info"),
		LogJSON:       os.Getenv("LOG_JSON") == "true",
	}
}

// LoadPlayer reads the player settings. Ethereum settings are optional;
// without them the player runs casual matches only.
func LoadPlayer() (*Player, error) {
	_ = godotenv.Load()

	stake, err := ledger.ParseEther(getString("DEFAULT_STAKE", ledger.DefaultStake))
	if err != nil {
		return nil, fmt.Errorf("DEFAULT_STAKE: %w", err)
	}
	if stake.Sign() <= 0 {
		return nil, fmt.Errorf("DEFAULT_STAKE must be positive")
	}

	return &Player{
		RelayURL:     getString("RELAY_URL", "http://localhost:8080"),
		RelaySecret:  os.Getenv("RELAY_SECRET"),
		RPCURL:       os.Getenv("ETH_RPC_URL"),
		PrivateKey:   os.Getenv("ETH_PRIVATE_KEY"),
		BytecodeFile: os.Getenv("ESCROW_BYTECODE_FILE"),
		DefaultStake: stake,
		PollInterval: time.Duration(getInt("POLL_INTERVAL_MS", int(ledger.PollInterval/time.Millisecond))) * time.Millisecond,
		MoveTimeout:  time.Duration(getInt("CASUAL_MOVE_TIMEOUT_SECONDS", 0)) * time.Second,
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		LogLevel:     getString("LOG_LEVEL", "info"),
		LogJSON:      os.Getenv("LOG_JSON") == "true",
	}, nil
}

// Escrowed reports whether an Ethereum ledger is configured.
func (p *Player) Escrowed() bool {
	return p.RPCURL != "" && p.PrivateKey != "" && p.BytecodeFile != ""
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getInt keeps def for unset, malformed or negative values.
func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}
