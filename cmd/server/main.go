package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"time"

	"havenhomes/internal/app"
	"havenhomes/internal/config"
	"havenhomes/internal/contracts"
	"havenhomes/internal/esign"
	"havenhomes/internal/identity"
	"havenhomes/internal/payments"
	"havenhomes/internal/server"
	"havenhomes/internal/util"
	"havenhomes/internal/webhook"
	"havenhomes/pkg/queue"
	"havenhomes/pkg/storage"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	jwtLeeway, err := config.ParseJWTLeeway(cfg.JWTLeeway)
	if err != nil {
		log.Fatalf("failed to parse jwt leeway: %v", err)
	}
	retryInterval, err := config.ParseInterval(cfg.OfflineQueueRetryInterval)
	if err != nil {
		log.Fatalf("failed to parse offline queue retry interval: %v", err)
	}
	pollInterval, err := config.ParseInterval(cfg.ContractPollInterval)
	if err != nil {
		log.Fatalf("failed to parse contract poll interval: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	tokenVerifier, err := identity.NewVerifier(identity.Config{
		JWKSURL:    cfg.AuthJWKSURL,
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		Leeway:     jwtLeeway,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	})
	if err != nil {
		log.Fatalf("failed to init jwks verifier: %v", err)
	}

	processor := payments.NewClient(cfg.ProcessorAPIURL, cfg.ProcessorAPIKey)
	verifyCodes, err := payments.NewVerifyCodeStore(cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		log.Fatalf("failed to init verify code store: %v", err)
	}

	esignClient := esign.NewClient(cfg.ESignAPIURL, cfg.ESignAPIKey)
	var archiver contracts.Archiver
	var contractArchive *contracts.Archive
	if cfg.ArchiveEndpoint != "" {
		bucket, err := storage.NewMinioStore(cfg.ArchiveEndpoint, cfg.ArchiveAccessKey, cfg.ArchiveSecretKey, cfg.ArchiveBucket, cfg.ArchiveUseSSL)
		if err != nil {
			log.Fatalf("failed to init contract archive bucket: %v", err)
		}
		contractArchive = contracts.NewArchive(esignClient, bucket)
		archiver = contractArchive
	} else {
		slog.Warn("contract archiving disabled, archiveEndpoint not configured")
	}

	appCore, err := app.New(app.Config{
		DatabaseURL: cfg.DatabaseURL,
		ACH:         payments.NewACHConnector(processor),
		Transfer:    payments.NewTransferConnector(processor),
		Card:        payments.NewCardConnector(processor),
		VerifyCodes: verifyCodes,
		ContractConfig: &contracts.Config{
			Signer:       esignClient,
			Archiver:     archiver,
			PollInterval: pollInterval,
		},
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	offlineQueue, err := queue.New(queue.Config{
		Addr:          cfg.RedisAddr,
		Password:      cfg.RedisPassword,
		Key:           cfg.OfflineQueueKey,
		MaxRetries:    cfg.OfflineQueueMaxRetries,
		RetryInterval: retryInterval,
		Executor:      appCore.ApplyOperation,
	})
	if err != nil {
		log.Fatalf("failed to init offline queue: %v", err)
	}
	appCore.AttachQueue(offlineQueue)

	ctx := context.Background()
	offlineQueue.Start(ctx)
	offlineQueue.SetOnline(ctx, true)
	go func() {
		for ev := range offlineQueue.Events() {
			slog.Warn("offline operation dropped", "op_id", ev.Item.ID, "err", ev.Err)
		}
	}()

	var webhookVerifier *webhook.Verifier
	if cfg.ProcessorWebhookSecret != "" {
		webhookVerifier, err = webhook.NewVerifier(cfg.ProcessorWebhookSecret, webhook.DefaultTolerance)
		if err != nil {
			log.Fatalf("failed to init webhook verifier: %v", err)
		}
	} else {
		slog.Warn("processor webhooks disabled, processorWebhookSecret not configured")
	}

	serverCfg := server.Config{
		App:                       appCore,
		Identity:                  tokenVerifier,
		Queue:                     offlineQueue,
		WebhookVerifier:           webhookVerifier,
		RedisAddr:                 cfg.RedisAddr,
		RedisPassword:             cfg.RedisPassword,
		PaymentRateLimitPerMinute: cfg.PaymentRateLimitPerMinute,
		VerifyRateLimitPerMinute:  cfg.VerifyRateLimitPerMinute,
		TrustedProxyCIDRs:         cfg.TrustedProxyCIDRs,
	}
	if contractArchive != nil {
		serverCfg.ContractArchive = contractArchive
	}
	httpServer, err := server.New(serverCfg)
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	// Builds that were mid-signing when the process last stopped pick their
	// pollers back up.
	if err := appCore.Contracts().ResumeAll(ctx); err != nil {
		slog.Warn("contract polling resume failed", "err", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("storefront server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
