// Package app 提供 futurerent-chain 服务的应用生命周期管理
//
// ========================================
// futurerent-chain 服务对接说明
// ========================================
//
// ## 服务职责
// futurerent-chain 是 FutureRent 平台的链上服务，负责:
// 1. 收益结算 (Payout): 接收收益申报，经 INCO 机密计算生成分配证明后上链
// 2. 投资索引 (Indexer): 同步 InvestmentRegistry 合约的 InvestmentCreated 事件
//
// ## HTTP 对接
// - 业务接口: POST /api/income/submit, GET /api/income/{id}
// - 管理接口: POST /admin/sync, POST /admin/resync,
//   GET/DELETE /admin/investments
// - 监控: GET /metrics (Prometheus), GET /health
//
// ## 智能合约对接
// - InvestmentRegistry: 投资事件来源 (investment_contract 配置)
// - PayoutManager: 结算写入主路径 (payout_contract 配置)
// - OracleVerification: 结算写入回退路径 (oracle_contract 配置)
//
// ## 数据库
// - 表: chain_income_submissions, chain_investments
// - 启动时自动迁移
//
// ========================================
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/futurerent/futurerent-chain/internal/blockchain"
	"github.com/futurerent/futurerent-chain/internal/config"
	"github.com/futurerent/futurerent-chain/internal/contract"
	"github.com/futurerent/futurerent-chain/internal/handler"
	"github.com/futurerent/futurerent-chain/internal/inco"
	"github.com/futurerent/futurerent-chain/internal/repository"
	"github.com/futurerent/futurerent-chain/internal/service"
	"github.com/futurerent/futurerent-chain/pkg/logger"
)

// App 应用
type App struct {
	cfg *config.Config

	// 基础设施
	db *gorm.DB

	// 区块链
	chainClient *blockchain.Client
	registry    *contract.InvestmentRegistryContract

	// 仓储
	submissionRepo repository.SubmissionRepository
	investmentRepo repository.InvestmentRepository

	// 外部服务
	incoClient *inco.Client

	// 服务
	payoutSvc  *service.PayoutService
	indexerSvc *service.IndexerService

	// HTTP
	adminHandler *handler.AdminHandler
	httpServer   *http.Server

	// 运行控制
	stopCh chan struct{}
}

// NewApp 创建应用
func NewApp(cfg *config.Config) (*App, error) {
	app := &App{
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}

	if err := app.initInfrastructure(); err != nil {
		return nil, fmt.Errorf("failed to init infrastructure: %w", err)
	}

	if err := app.initBlockchain(); err != nil {
		return nil, fmt.Errorf("failed to init blockchain: %w", err)
	}

	app.initRepositories()

	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to init services: %w", err)
	}

	app.initHTTP()

	return app, nil
}

// initInfrastructure 初始化基础设施
func (a *App) initInfrastructure() error {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		a.cfg.Postgres.Host,
		a.cfg.Postgres.Port,
		a.cfg.Postgres.User,
		a.cfg.Postgres.Password,
		a.cfg.Postgres.Database,
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(a.cfg.Postgres.MaxConnections)
	sqlDB.SetMaxIdleConns(a.cfg.Postgres.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(a.cfg.Postgres.ConnMaxLifetime) * time.Second)

	a.db = db
	logger.Info("database connected", zap.String("host", a.cfg.Postgres.Host))

	if err := AutoMigrate(a.db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	logger.Info("database migrated")

	return nil
}

// initBlockchain 初始化区块链客户端与合约绑定
func (a *App) initBlockchain() error {
	rpcURLs := append([]string{a.cfg.Blockchain.RPCURL}, a.cfg.Blockchain.BackupRPCURLs...)

	client, err := blockchain.NewClient(&blockchain.ClientConfig{
		ChainID:         a.cfg.Blockchain.ChainID,
		PrivateKey:      a.cfg.Blockchain.PrivateKey,
		RPCURLs:         rpcURLs,
		MaxRetries:      3,
		RetryInterval:   time.Second,
		HealthCheckFreq: 30 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to create blockchain client: %w", err)
	}
	a.chainClient = client

	registry, err := contract.NewInvestmentRegistryContract(
		common.HexToAddress(a.cfg.Blockchain.InvestmentContract), client)
	if err != nil {
		return fmt.Errorf("failed to bind investment registry: %w", err)
	}
	a.registry = registry

	logger.Info("blockchain client initialized",
		zap.Int64("chain_id", a.cfg.Blockchain.ChainID),
		zap.String("wallet", client.Address().Hex()),
		zap.String("investment_contract", registry.Address().Hex()))

	return nil
}

// initRepositories 初始化仓储
func (a *App) initRepositories() {
	a.submissionRepo = repository.NewSubmissionRepository(a.db)
	a.investmentRepo = repository.NewInvestmentRepository(a.db)

	logger.Info("repositories initialized")
}

// initServices 初始化服务
func (a *App) initServices() error {
	a.incoClient = inco.NewClient(&inco.Config{
		BaseURL:          a.cfg.Inco.BaseURL,
		APIKey:           a.cfg.Inco.APIKey,
		Timeout:          time.Duration(a.cfg.Inco.TimeoutSeconds) * time.Second,
		FailureThreshold: a.cfg.Inco.FailureThreshold,
		Cooldown:         time.Duration(a.cfg.Inco.CooldownSeconds) * time.Second,
	})

	// 结算写入路径：PayoutManager 缺失时回退到 OracleVerification
	var payoutContract *contract.PayoutManagerContract
	if a.cfg.Blockchain.PayoutContract != "" {
		var err error
		payoutContract, err = contract.NewPayoutManagerContract(
			common.HexToAddress(a.cfg.Blockchain.PayoutContract), "")
		if err != nil {
			return fmt.Errorf("failed to bind payout manager: %w", err)
		}
	}

	var oracleContract *contract.OracleVerificationContract
	if a.cfg.Blockchain.OracleContract != "" {
		var err error
		oracleContract, err = contract.NewOracleVerificationContract(
			common.HexToAddress(a.cfg.Blockchain.OracleContract))
		if err != nil {
			return fmt.Errorf("failed to bind oracle verification: %w", err)
		}
	}

	writer := contract.NewPayoutWriter(a.chainClient, payoutContract, oracleContract)

	a.payoutSvc = service.NewPayoutService(
		a.submissionRepo,
		a.incoClient,
		writer,
		&service.PayoutServiceConfig{
			Program:      a.cfg.Payout.Program,
			MaxAttempts:  a.cfg.Payout.MaxAttempts,
			RetryBackoff: time.Duration(a.cfg.Payout.RetryBackoffMs) * time.Millisecond,
		},
	)

	a.indexerSvc = service.NewIndexerService(a.registry, a.investmentRepo)

	logger.Info("services initialized",
		zap.Bool("direct_payout", writer.UsesDirectPayout()))
	return nil
}

// initHTTP 初始化 HTTP 服务
func (a *App) initHTTP() {
	a.adminHandler = handler.NewAdminHandler(a.payoutSvc, a.indexerSvc)
	a.httpServer = handler.NewHTTPServer(
		fmt.Sprintf(":%d", a.cfg.Service.HTTPPort),
		handler.NewRouter(a.adminHandler),
	)

	logger.Info("http server initialized", zap.Int("port", a.cfg.Service.HTTPPort))
}

// Run 运行应用
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动时拉齐历史事件，失败不阻塞启动，可通过管理接口重新触发
	go func() {
		result, err := a.indexerSvc.SyncPastEvents(ctx)
		if err != nil {
			logger.Error("startup historical sync failed", zap.Error(err))
			return
		}
		logger.Info("startup historical sync done",
			zap.Int("scanned", result.Scanned),
			zap.Int("added", result.Added))
	}()

	// 实时订阅需要 websocket RPC，不可用时降级为仅手动同步
	if err := a.indexerSvc.Start(ctx); err != nil {
		logger.Warn("live event subscription unavailable", zap.Error(err))
	}

	go func() {
		logger.Info("http server listening", zap.Int("port", a.cfg.Service.HTTPPort))
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	// 等待退出信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("received shutdown signal")
	case <-a.stopCh:
		logger.Info("shutdown requested")
	}

	return a.shutdown()
}

// Stop 请求停止应用
func (a *App) Stop() {
	close(a.stopCh)
}

// shutdown 关闭应用
func (a *App) shutdown() error {
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", zap.Error(err))
		}
	}

	if a.indexerSvc != nil && a.indexerSvc.IsRunning() {
		if err := a.indexerSvc.Stop(); err != nil {
			logger.Error("indexer stop error", zap.Error(err))
		}
	}

	if a.chainClient != nil {
		a.chainClient.Close()
	}

	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			sqlDB.Close()
		}
	}

	logger.Info("shutdown complete")
	return nil
}
