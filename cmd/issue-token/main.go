// Package main 为本地联调签发访问令牌
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/MorseWayne/ev_dealer/internal/config"
	"github.com/MorseWayne/ev_dealer/internal/domain"
	"github.com/MorseWayne/ev_dealer/internal/logger"
	"github.com/MorseWayne/ev_dealer/internal/service"
)

func main() {
	var (
		userID   = flag.Int64("user", 1, "user id")
		username = flag.String("name", "dev", "username")
		role     = flag.String("role", string(domain.UserRoleAdmin), "admin | evm_staff | dealer_manager | dealer_staff")
		dealerID = flag.Int64("dealer", 0, "dealer id, required for dealer roles")
		onlyAT   = flag.Bool("access-only", false, "print only the access token")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	lg, err := logger.New(cfg.App.Env, "warn", cfg.Log.Encoding, "issue-token", cfg.App.Version)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	pair, err := service.NewJWTService(cfg, lg).GenerateTokenPair(&domain.User{
		ID:       *userID,
		Username: *username,
		Role:     domain.UserRole(*role),
		DealerID: *dealerID,
		IsActive: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
		os.Exit(1)
	}

	if *onlyAT {
		fmt.Println(pair.AccessToken)
		return
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(pair)
}
