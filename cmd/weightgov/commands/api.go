package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wonny/aegis/weightgov/internal/api"
	"github.com/wonny/aegis/weightgov/internal/api/handlers"
)

// apiCmd represents the api command
var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "관리 API 서버 시작",
	Long: `가중치 거버넌스 관리 API 서버를 시작합니다.

이 명령어는:
- 저장된 상태 복원 (버전, 레짐, 전환 상태)
- HTTP API 서버 시작
- 선택적으로 같은 프로세스에서 스케줄러 실행

Endpoints:
  GET    /health                       - Health check
  GET    /metrics                      - Prometheus metrics
  GET    /api/weights                  - 현재 가중치
  GET    /api/weights/history          - 변경 이력
  POST   /api/weights/rollback         - 롤백
  POST   /api/weights/reset            - 안전 기본값으로 리셋
  GET    /api/weights/stream           - 가중치 스트림 (websocket)
  GET    /api/regime                   - 레짐 상태
  POST   /api/regime/check             - 레짐 체크 트리거
  GET    /api/versions                 - 버전 목록
  GET    /api/versions/integrity       - 체크섬 검증
  GET    /api/versions/{id}            - 버전 조회
  POST   /api/versions/{id}/activate   - 버전 활성화
  DELETE /api/versions/{id}            - 버전 삭제

Example:
  go run ./cmd/weightgov api
  go run ./cmd/weightgov api --port 8090 --with-scheduler`,
	RunE: runAPIServer,
}

var (
	apiPort       string
	withScheduler bool
)

func init() {
	rootCmd.AddCommand(apiCmd)

	// Flags
	apiCmd.Flags().StringVar(&apiPort, "port", "", "API 서버 포트 (기본: PORT 환경변수)")
	apiCmd.Flags().BoolVar(&withScheduler, "with-scheduler", false, "스케줄러를 같은 프로세스에서 실행")
}

func runAPIServer(cmd *cobra.Command, args []string) error {
	fmt.Println("=== Aegis Weight Governor API Server ===")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Wire components and restore state
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	// Override port if flag is set
	if apiPort != "" {
		a.cfg.Port = apiPort
	}

	// 2. Optional scheduler
	if withScheduler {
		sched, err := newScheduler(a)
		if err != nil {
			return fmt.Errorf("init scheduler: %w", err)
		}
		sched.Start()
		defer sched.Stop()
	}

	// 3. Create handlers and router
	router := api.NewRouter(
		handlers.NewWeightsHandler(a.gov, a.limiter, a.log),
		handlers.NewRegimeHandler(a.gov, a.limiter, a.log),
		handlers.NewVersionsHandler(a.gov, a.limiter, a.log),
		handlers.NewStreamHandler(a.gov.Publisher(), a.log),
		a.metrics,
		a.log,
	)

	// 4. Serve until interrupted
	server := api.New(a.cfg, a.log, router)

	fmt.Printf("\n✅ Server running on http://localhost:%s\n", a.cfg.Port)
	if withScheduler {
		fmt.Println("   Scheduler running in-process")
	}
	fmt.Println("\nPress Ctrl+C to stop")

	if err := server.Run(ctx); err != nil {
		return fmt.Errorf("api server: %w", err)
	}

	a.log.Info("Server stopped")
	return nil
}
