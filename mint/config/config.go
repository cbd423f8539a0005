// Package config loads the mint's process-wide configuration from the
// environment, the way cmd/mint/mint.go's own setup does.
package config

import (
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port            string
	DBPath          string
	Seed            []byte
	EncryptionKey   []byte
	AssetId         string
	AssetName       string
	Unit            string
	Network         string
	InputFeePpk     uint
	Limits          MintLimits
	MintConfirmations uint32
	DepositMonitor  DepositMonitorConfig
	UTXOSync        UTXOSyncConfig
	ChainViewURL    string
	MintName        string
	MintDescription string
}

type MintLimits struct {
	MinMint uint64
	MaxMint uint64
	MinMelt uint64
	MaxMelt uint64
}

type DepositMonitorConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAge       time.Duration
}

type UTXOSyncConfig struct {
	Interval time.Duration
}

// GetConfig reads and validates every env var the mint needs to run,
// failing fast (log.Fatalf) on anything unrecoverable — the same posture
// the original gonuts cmd/mint/mint.go config loader takes.
func GetConfig() Config {
	seedHex := os.Getenv("MINT_SEED")
	seed, err := hex.DecodeString(seedHex)
	if err != nil || len(seed) != 32 {
		log.Fatalf("MINT_SEED must be a 32-byte hex string")
	}

	encKeyHex := os.Getenv("ENCRYPTION_KEY")
	encKey, err := hex.DecodeString(encKeyHex)
	if err != nil || len(encKey) != 32 {
		log.Fatalf("ENCRYPTION_KEY must be a 32-byte hex string")
	}

	assetId := os.Getenv("ASSET_ID")
	if assetId == "" {
		log.Fatalf("ASSET_ID is required")
	}

	var inputFeePpk uint
	if v, ok := os.LookupEnv("INPUT_FEE_PPK"); ok {
		fee, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			log.Fatalf("invalid INPUT_FEE_PPK: %v", err)
		}
		inputFeePpk = uint(fee)
	}

	limits := MintLimits{
		MinMint: envUint64("MIN_MINT", 1),
		MaxMint: envUint64("MAX_MINT", 1<<23),
		MinMelt: envUint64("MIN_MELT", 1),
		MaxMelt: envUint64("MAX_MELT", 1<<23),
	}

	confirmations := envUint64("MINT_CONFIRMATIONS", 1)

	return Config{
		Port:            envDefault("MINT_PORT", "3338"),
		DBPath:          envDefault("MINT_DB_PATH", defaultDBPath()),
		Seed:            seed,
		EncryptionKey:   encKey,
		AssetId:         assetId,
		AssetName:       os.Getenv("ASSET_NAME"),
		Unit:            envDefault("MINT_UNIT", "rune"),
		Network:         envDefault("BITCOIN_NETWORK", "regtest"),
		InputFeePpk:     inputFeePpk,
		Limits:          limits,
		MintConfirmations: uint32(confirmations),
		DepositMonitor: DepositMonitorConfig{
			PollInterval: envDuration("DEPOSIT_MONITOR_POLL_INTERVAL", 30*time.Second),
			BatchSize:    int(envUint64("DEPOSIT_MONITOR_BATCH_SIZE", 50)),
			MaxAge:       envDuration("DEPOSIT_MONITOR_MAX_AGE", 24*time.Hour),
		},
		UTXOSync: UTXOSyncConfig{
			Interval: envDuration("UTXO_SYNC_INTERVAL", 5*time.Minute),
		},
		ChainViewURL:    os.Getenv("CHAIN_VIEW_URL"),
		MintName:        os.Getenv("MINT_NAME"),
		MintDescription: os.Getenv("MINT_DESCRIPTION"),
	}
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return fmt.Sprintf("%s/.runecashu-mint", home)
}

func envDefault(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envUint64(key string, fallback uint64) uint64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	seconds, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return time.Duration(seconds) * time.Second
}
