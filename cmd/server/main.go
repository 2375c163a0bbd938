package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/avolkov/chatka/internal/api"
	"github.com/avolkov/chatka/internal/config"
	"github.com/avolkov/chatka/internal/database"
	"github.com/avolkov/chatka/internal/push"
	"github.com/avolkov/chatka/internal/server"
	"github.com/avolkov/chatka/internal/stats"
	"github.com/avolkov/chatka/internal/upload"
	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	dsn            string
	signingKey     string
	uploadDir      string
	fcmServerKey   string
	pushTimeout    time.Duration
	allowedOrigins stringSliceFlag
)

func main() {
	flag.StringVar(&addr, "addr", "localhost:8000", "server address")
	flag.StringVar(&dsn, "dsn", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable", "database connection string")
	flag.StringVar(&signingKey, "signing-key", os.Getenv("CHATKA_SIGNING_KEY"), "base64 encoded signing key")
	flag.StringVar(&uploadDir, "upload-dir", "uploads", "directory for uploaded attachments")
	flag.StringVar(&fcmServerKey, "fcm-key", os.Getenv("CHATKA_FCM_KEY"), "FCM server key, empty disables push")
	flag.DurationVar(&pushTimeout, "push-timeout", push.DefaultTimeout, "timeout for push provider calls")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	logger := log.New(os.Stderr, "[chatka] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, dsn, signingKey, allowedOrigins, uploadDir, fcmServerKey, pushTimeout)
	if err != nil {
		logger.Fatal("config:", err)
	}

	db, err := database.NewPgChatRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Println("db close:", err)
		}
	}()

	if err := db.Migrate(); err != nil {
		logger.Fatal("db migrate:", err)
	}

	uploads, err := upload.NewStore(cfg.UploadDir)
	if err != nil {
		logger.Fatal("upload store:", err)
	}

	var provider push.Provider
	if cfg.FCMServerKey != "" {
		provider = push.NewFCMProvider(cfg.FCMServerKey)
	} else {
		logger.Println("no FCM key configured, push notifications disabled")
	}
	dispatcher := push.NewDispatcher(db, provider, logger, cfg.PushTimeout)

	mux := http.NewServeMux()
	statsProvider := stats.NewPromStats(mux)

	chatServer, err := server.NewChatServer(logger, db, statsProvider, dispatcher)
	if err != nil {
		logger.Fatal("new chat server:", err)
	}

	app := api.NewChatkaApp(mux, logger, chatServer, db, uploads, cfg)

	go chatServer.Run()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := app.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		chatServer.Shutdown()
		return app.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server:", err)
	}
}
