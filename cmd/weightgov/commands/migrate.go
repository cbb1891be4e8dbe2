package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/aegis/weightgov/pkg/database"
	"github.com/wonny/aegis/weightgov/pkg/logger"
)

// migrateCmd represents the migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "DB 스키마 생성",
	Long: `governance 스키마와 테이블을 생성합니다 (이미 있으면 건너뜀).

Example:
  go run ./cmd/weightgov migrate
  go run ./cmd/weightgov migrate --dry-run`,
	RunE: runMigrate,
}

var migrateDryRun bool

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().BoolVar(&migrateDryRun, "dry-run", false, "DDL만 출력")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	if migrateDryRun {
		for _, stmt := range database.SchemaStatements() {
			fmt.Printf("%s;\n\n", stmt)
		}
		return nil
	}

	// 1. Load config
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// 2. Initialize logger
	log := logger.New(cfg)

	// 3. Connect to database
	db, err := database.New(cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	health, err := db.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("database unhealthy: %w", err)
	}
	log.WithFields(map[string]interface{}{
		"response_time": health.ResponseTime.String(),
		"total_conns":   health.TotalConns,
		"schema_ready":  health.SchemaReady,
	}).Info("Database reachable")

	// 4. Apply schema
	if err := db.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	PrintSuccess(fmt.Sprintf("Schema ready (%d statements)", len(database.SchemaStatements())))
	return nil
}
