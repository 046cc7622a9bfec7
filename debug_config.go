package main

import (
	"fmt"
	"log"

	"github.com/signalmesh/router/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("AuthEnabled(): %v\n", cfg.AuthEnabled())
	fmt.Printf("AgentsBaseURL: '%s'\n", cfg.AgentsBaseURL)
	fmt.Printf("EnableAutoReplay: %v\n", cfg.EnableAutoReplay)
	fmt.Printf("AutoReplayInterval: %v\n", cfg.AutoReplayInterval)
	fmt.Printf("RateLimitPerSecond: %d (window %v)\n", cfg.RateLimitPerSecond, cfg.RateLimitWindow)
	fmt.Printf("BreakerFailureThreshold: %d (recovery %v)\n", cfg.BreakerFailureThreshold, cfg.BreakerRecoveryTimeout)
}
