package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"applyportal/internal/session"
	"applyportal/internal/util"
	"applyportal/pkg/events"
	"applyportal/pkg/mail"
	"applyportal/pkg/storage"
	"applyportal/services/portal/internal/app"
	"applyportal/services/portal/internal/config"
	"applyportal/services/portal/internal/server"
)

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	sessionTTL, err := config.ParseDuration(cfg.SessionTTL, "sessionTTL")
	if err != nil {
		log.Fatalf("failed to parse session TTL: %v", err)
	}
	mailTimeout, err := config.ParseDuration(cfg.MailTimeout, "mailTimeout")
	if err != nil {
		log.Fatalf("failed to parse mail timeout: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer redisClient.Close()
	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		cancel()
		log.Fatalf("failed to reach redis: %v", err)
	}
	cancel()

	files, err := storage.New(storage.Config{
		LocalDir: cfg.UploadDir,
		Remote: storage.RemoteConfig{
			Endpoint:      cfg.StorageEndpoint,
			AccessKey:     cfg.StorageAccessKey,
			SecretKey:     cfg.StorageSecretKey,
			Bucket:        cfg.StorageBucket,
			Folder:        cfg.StorageFolder,
			UseSSL:        cfg.StorageUseSSL,
			PublicBaseURL: cfg.StoragePublicURL,
		},
	})
	if err != nil {
		log.Fatalf("failed to init storage: %v", err)
	}

	var mailer mail.Sender = mail.NopSender{}
	if cfg.MailConfigured() {
		mailer, err = mail.NewSMTPSender(mail.SMTPConfig{
			Host:     cfg.MailServer,
			Port:     cfg.MailPort,
			UseTLS:   cfg.MailUseTLS,
			Username: cfg.MailUsername,
			Password: cfg.MailPassword,
			From:     cfg.MailDefaultSender,
			Timeout:  mailTimeout,
		})
		if err != nil {
			log.Fatalf("failed to init mail: %v", err)
		}
	} else {
		logger.Warn("mail server not configured; verification codes will not be delivered")
	}

	publisher, err := newPublisher(cfg, redisClient)
	if err != nil {
		log.Fatalf("failed to init events: %v", err)
	}
	defer publisher.Close()

	appCore, err := app.New(app.Config{
		DatabaseURL: cfg.DatabaseURL,
		Storage:     files,
		Mailer:      mailer,
		Events:      publisher,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	sessions, err := session.NewManager(session.NewRedisStore(redisClient, sessionTTL), cfg.SecretKey, sessionTTL)
	if err != nil {
		log.Fatalf("failed to init sessions: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:                      appCore,
		Sessions:                 sessions,
		Redis:                    redisClient,
		TrustedProxyCIDRs:        cfg.TrustedProxyCIDRs,
		SignupRateLimitPerMinute: cfg.SignupRateLimitPerMinute,
		LoginRateLimitPerMinute:  cfg.LoginRateLimitPerMinute,
		VerifyRateLimitPerMinute: cfg.VerifyRateLimitPerMinute,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	slog.Info("server listening", "addr", addr, "storage", appCore.StorageKind())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}

// newPublisher prefers AMQP, falls back to a Redis stream and disables
// events when neither is configured.
func newPublisher(cfg config.FileConfig, client *redis.Client) (events.Publisher, error) {
	if strings.TrimSpace(cfg.AMQPURL) != "" {
		p, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	if strings.TrimSpace(cfg.EventStream) != "" {
		p, err := events.NewRedisStreamPublisher(client, cfg.EventStream, 0)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return events.Nop{}, nil
}
