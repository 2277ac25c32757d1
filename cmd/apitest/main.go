// apitest exercises the market REST API once: the health probe, then a page
// of prediction markets converted to store records.
//
// Usage: go run ./cmd/apitest -host http://localhost:8000 -limit 5
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/rickgao/marketfeed/internal/api"
	"github.com/rickgao/marketfeed/internal/config"
)

func main() {
	host := flag.String("host", "", "API host (default: "+config.APIHostEnv+" or "+config.DefaultAPIHost+")")
	token := flag.String("token", os.Getenv("MARKETFEED_API_TOKEN"), "optional bearer token")
	limit := flag.Int("limit", api.DefaultMarketLimit, "markets to fetch")
	flag.Parse()

	base := *host
	if base == "" {
		base = os.Getenv(config.APIHostEnv)
	}
	if base == "" {
		base = config.DefaultAPIHost
	}

	client := api.NewClient(base, *token, api.WithTimeout(30*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	// Test 1: Health
	fmt.Printf("=== Testing Health (%s) ===\n", client.BaseURL())
	if err := client.Health(ctx); err != nil {
		log.Fatalf("Health failed: %v", err)
	}
	fmt.Println("Backend available")

	// Test 2: Prediction markets
	fmt.Println("\n=== Testing GetPredictionMarkets ===")
	resp, err := client.GetPredictionMarkets(ctx, *limit)
	if err != nil {
		log.Fatalf("GetPredictionMarkets failed: %v", err)
	}
	fmt.Printf("Fetched %d markets\n", len(resp.Markets))
	for i, m := range api.ToModels(resp.Markets) {
		fmt.Printf("  %d. %s - %s (status: %s, yes: %s, vol: %s)\n",
			i+1, m.Key(), m.Title, m.Status, m.YesPrice, m.Volume)
	}

	fmt.Println("\n=== All API tests passed! ===")
}
