package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/runecashu/mint/mint"
	"github.com/runecashu/mint/mint/config"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, reading configuration from the environment")
	}

	cfg := config.GetConfig()

	m, err := mint.LoadMint(cfg)
	if err != nil {
		log.Fatalf("error loading mint: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		<-c
		cancel()
	}()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		m.RunDepositMonitor(ctx, cfg.DepositMonitor.PollInterval, cfg.DepositMonitor.BatchSize, cfg.DepositMonitor.MaxAge)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		m.RunUTXOSync(ctx, cfg.UTXOSync.Interval)
	}()

	wg.Wait()

	if err := m.Close(); err != nil {
		log.Fatalf("error closing mint: %v", err)
	}
}
