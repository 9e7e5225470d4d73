// Command ledger_report prints a summary of the trade ledger and exports the
// most recent events to CSV for offline analysis.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/berkekorucu/tradebot/config"
	"github.com/berkekorucu/tradebot/internal/adapters/logger"
	"github.com/berkekorucu/tradebot/internal/adapters/sqlite"
	"github.com/berkekorucu/tradebot/internal/utils"
)

func main() {
	limit := flag.Int("limit", 500, "maximum number of ledger events to export")
	days := flag.Int("days", 7, "number of calendar days to summarize")
	out := flag.String("out", "trades.csv", "CSV output path, empty disables export")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}
	if cfg.DBPath == "" {
		log.Fatal("FATAL: DB_PATH is empty, no ledger to report on")
	}
	ctx := context.Background()
	appLogger := logger.NewStdLogger(cfg.LogLevel)

	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		log.Fatalf("FATAL: Failed to open ledger: %v", err)
	}
	defer repo.Close()

	fmt.Printf("Ledger: %s\n\n", cfg.DBPath)
	fmt.Println("Day         Trades  Wins  Losses  WinRate      PNL")
	today := time.Now().UTC()
	var totalPNL float64
	var totalTrades int
	for i := *days - 1; i >= 0; i-- {
		day := today.AddDate(0, 0, -i)
		stats, err := repo.DailyStats(ctx, day)
		if err != nil {
			log.Fatalf("FATAL: Failed to aggregate %s: %v", day.Format("2006-01-02"), err)
		}
		fmt.Printf("%s  %6d  %4d  %6d  %6.1f%%  %+8.2f\n",
			day.Format("2006-01-02"), stats.TradeCount, stats.WinCount, stats.LossCount,
			stats.WinRate(), stats.TotalPNL)
		totalPNL += stats.TotalPNL
		totalTrades += stats.TradeCount
	}
	fmt.Printf("\nTotal: %d trades, %+.2f PNL over %d day(s)\n", totalTrades, totalPNL, *days)

	if *out == "" {
		return
	}
	records, err := repo.FindRecent(ctx, *limit)
	if err != nil {
		log.Fatalf("FATAL: Failed to read ledger events: %v", err)
	}
	if err := utils.WriteTradesToCSV(records, *out); err != nil {
		log.Fatalf("FATAL: Failed to write CSV: %v", err)
	}
	fmt.Printf("Exported %d events to %s\n", len(records), *out)
}
