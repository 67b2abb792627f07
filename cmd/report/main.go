// Command report prints a performance summary straight from the trade
// database: aggregate stats, per-symbol breakdown and recent learning
// activity.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/joho/godotenv"

	"github.com/dduho/trading-bot/config"
	"github.com/dduho/trading-bot/internal/database"
	"github.com/dduho/trading-bot/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to config file (YAML)")
	days := flag.Int("days", 30, "analysis window in days")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logging.SetDefault(logging.New(&logging.Config{Level: "ERROR", Output: "stderr"}))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.NewDB(ctx, database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	repo := database.NewRepository(db)
	since := time.Now().AddDate(0, 0, -*days)

	stats, err := repo.GetPerformanceStats(ctx, since)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load performance stats: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Performance report, last %d days\n", *days)
	fmt.Println("================================")
	fmt.Printf("Total trades:   %d (%d wins / %d losses)\n",
		stats.TotalTrades, stats.WinningTrades, stats.LosingTrades)
	fmt.Printf("Win rate:       %.1f%%\n", stats.WinRate*100)
	fmt.Printf("Total PnL:      %.2f USD\n", stats.TotalPnL)
	fmt.Printf("Profit factor:  %.2f\n", stats.ProfitFactor)
	fmt.Printf("Avg win/loss:   %.2f / %.2f USD\n", stats.AvgWin, stats.AvgLoss)
	fmt.Printf("Best/worst:     %.2f / %.2f USD\n", stats.BestTrade, stats.WorstTrade)
	fmt.Printf("Avg duration:   %.0f minutes\n", stats.AvgDuration)

	symbolStats, err := repo.GetSymbolStats(ctx, since)
	if err == nil && len(symbolStats) > 0 {
		sort.Slice(symbolStats, func(i, j int) bool {
			return symbolStats[i].TotalPnL > symbolStats[j].TotalPnL
		})
		fmt.Println("\nPer symbol")
		fmt.Println("----------")
		fmt.Printf("%-12s %7s %8s %10s %8s\n", "SYMBOL", "TRADES", "WINRATE", "PNL", "PF")
		for _, s := range symbolStats {
			fmt.Printf("%-12s %7d %7.1f%% %10.2f %8.2f\n",
				s.Symbol, s.TotalTrades, s.WinRate*100, s.TotalPnL, s.ProfitFactor)
		}
	}

	model, err := repo.GetActiveModel(ctx)
	if err == nil {
		fmt.Println("\nActive model")
		fmt.Println("------------")
		fmt.Printf("Version:      %s (trained %s)\n",
			model.ModelVersion, model.TrainedAt.Format("2006-01-02 15:04"))
		fmt.Printf("Accuracy:     %.1f%% (cv %.1f%%, f1 %.2f, auc %.2f)\n",
			model.Accuracy*100, model.CVAccuracy*100, model.F1Score, model.AUC)
		fmt.Printf("Samples:      %d\n", model.TrainingSamples)
	}

	evts, err := repo.GetRecentLearningEvents(ctx, 10)
	if err == nil && len(evts) > 0 {
		fmt.Println("\nRecent learning events")
		fmt.Println("----------------------")
		for _, e := range evts {
			fmt.Printf("%s  %-24s %s\n",
				e.CreatedAt.Format("2006-01-02 15:04"), e.EventType, e.Description)
		}
	}
}
