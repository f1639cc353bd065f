// journal-check 打印某台机器人最近的安全事件日志
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fungus-wine/calvin-instinctus/common/database"
	"github.com/fungus-wine/calvin-instinctus/internal/config"
	"github.com/fungus-wine/calvin-instinctus/internal/repository"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := database.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	repo := repository.NewSafetyJournalRepository(db, zap.NewNop())
	if err := repo.EnsureSchema(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	limit := 20
	if v := os.Getenv("JOURNAL_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	entries, err := repo.ListRecent(ctx, cfg.RobotID, limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Safety journal for %s (latest %d)\n", cfg.RobotID, limit)
	fmt.Println(strings.Repeat("=", 96))
	fmt.Printf("%-25s %-18s %-20s %-30s\n", "recorded_at", "kind", "payload", "faults")
	fmt.Println(strings.Repeat("-", 96))
	for _, e := range entries {
		fmt.Printf("%-25s %-18s %-20s %-30s\n",
			e.RecordedAt.Format(time.RFC3339), e.Kind, e.Payload, e.Faults)
	}
	if len(entries) == 0 {
		fmt.Println("(no entries)")
	}
}
