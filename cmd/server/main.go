package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/kiliankoe/quizdash/internal/api"
	"github.com/kiliankoe/quizdash/internal/auth"
	"github.com/kiliankoe/quizdash/internal/broadcast"
	"github.com/kiliankoe/quizdash/internal/config"
	"github.com/kiliankoe/quizdash/internal/game"
	"github.com/kiliankoe/quizdash/internal/gateway"
	"github.com/kiliankoe/quizdash/internal/store"
	"github.com/kiliankoe/quizdash/internal/timer"
	"github.com/kiliankoe/quizdash/internal/ws"
)

var version = "dev" // Set at build time via -ldflags

func main() {
	var (
		showHelp    = flag.Bool("help", false, "Show help message")
		showVersion = flag.Bool("version", false, "Show version information")
		portFlag    = flag.String("port", "", "Port to listen on (overrides PORT env var)")
		envFile     = flag.String("env", ".env", "Env file to load if present")
	)
	flag.BoolVar(showHelp, "h", false, "Show help message (shorthand)")
	flag.BoolVar(showVersion, "v", false, "Show version information (shorthand)")
	flag.Parse()

	if *showHelp {
		fmt.Printf(`quizdash - Real-time elimination quiz server

Usage: %s [options]

Options:
  -h, --help      Show this help message
  -v, --version   Show version information
  --port PORT     Port to listen on (default: 8080 or PORT env var)
  --env FILE      Env file to load (default: .env)

Environment Variables:
  PORT                Port to listen on (default: 8080)
  LOG_LEVEL           debug, info, warn or error (default: info)
  STORE               memory, postgres or redis (default: memory)
  DB_HOST, DB_PORT, DB_USER, DB_PASSWORD, DB_NAME, DB_SSLMODE
                      Postgres connection when STORE=postgres
  REDIS_URL           Redis URL when STORE=redis
  NATS_URL            Share events with other instances (optional)
  HOST_TOKEN_SECRET   HMAC secret for host tokens (random if unset)
  GM_USER, GM_PASS    Basic auth for session creation over HTTP
  PUBLIC_URL          Base URL encoded in join QR codes
  GAME_CONFIG         YAML file with game defaults and questions
  EXPORT_ENABLED      Export game results to file (default: true)
  EXPORT_FILE         Path to export game results (default: ./quizdash-results.txt)

Examples:
  %s                  Start server with default settings
  %s --port 3000      Start server on port 3000
`, os.Args[0], os.Args[0], os.Args[0])
		return
	}

	if *showVersion {
		fmt.Printf("quizdash %s\n", version)
		return
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", *envFile, err)
	}

	cfg := config.FromEnv()
	if *portFlag != "" {
		cfg.Port = *portFlag
	}
	setupLogging(cfg.LogLevel)

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func setupLogging(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	cw := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	log.Logger = log.Output(cw)
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gameFile, err := config.LoadGame(cfg.GameConfig)
	if err != nil {
		return err
	}
	start, err := gameFile.StartDefaults()
	if err != nil {
		return err
	}

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	hosts, err := hostTokens(cfg)
	if err != nil {
		return err
	}

	opts := game.Options{
		Defaults:     gameFile.SessionDefaults(),
		Scoring:      gameFile.ScoringPolicy(),
		MaxAnswerLen: gameFile.MaxAnswerLen,
		Retention:    cfg.Retention,
	}
	if cfg.ExportEnabled {
		file := cfg.ExportFile
		opts.OnFinished = func(s *game.GameSession) {
			if err := game.ExportResults(s, file); err != nil {
				log.Error().Err(err).Str("code", s.Code).Msg("export failed")
				return
			}
			log.Info().Str("code", s.Code).Str("file", file).Msg("results exported")
		}
	}

	events := broadcast.NewFanout()
	ctrl := game.NewController(st, events, timer.New(clockwork.NewRealClock()), hosts, opts)
	defer ctrl.Shutdown()

	sock := ws.New(ctrl, start)
	defer sock.Close()

	cm := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())
	go cm.Start(ctx)

	local := broadcast.NewFanout(sock, cm)
	events.Add(local)
	if cfg.NATSURL != "" {
		nc := broadcast.DefaultNATSConfig()
		nc.URL = cfg.NATSURL
		pub, err := broadcast.NewNATS(nc)
		if err != nil {
			return err
		}
		defer pub.Close()
		if err := pub.Relay(local); err != nil {
			return err
		}
		events.Add(pub)
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		began := time.Now()
		c.Next()
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/socket.io") {
			return
		}
		log.Info().Str("method", c.Request.Method).Str("path", path).Int("status", c.Writer.Status()).Dur("dur", time.Since(began)).Msg("http")
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "time": time.Now().UTC(), "version": version})
	})
	sock.Mount(r)
	api.NewHandler(ctrl, start, api.Options{PublicURL: cfg.PublicURL, GMUser: cfg.GMUser, GMPass: cfg.GMPass}).RegisterRoutes(r)

	mux := http.NewServeMux()
	gateway.NewHandler(cm, ctrl).RegisterRoutes(mux)
	mux.Handle("/", r)

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodOptions,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           h2c.NewHandler(c.Handler(mux), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Str("store", cfg.Store).Bool("nats", cfg.NATSURL != "").Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func openStore(ctx context.Context, cfg config.Config) (game.Store, func(), error) {
	switch cfg.Store {
	case "", "memory":
		return store.NewMemory(), func() {}, nil
	case "postgres":
		pool, err := store.NewPool(ctx, cfg.DB.DSN())
		if err != nil {
			return nil, nil, err
		}
		pg := store.NewPostgres(pool)
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, nil, err
		}
		log.Info().Str("host", cfg.DB.Host).Str("db", cfg.DB.Database).Msg("using postgres store")
		return pg, pg.Close, nil
	case "redis":
		rs, err := store.NewRedis(ctx, cfg.RedisURL, 0)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Msg("using redis store")
		return rs, func() { _ = rs.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown STORE %q", cfg.Store)
	}
}

func hostTokens(cfg config.Config) (*auth.HostTokens, error) {
	secret := cfg.HostTokenSecret
	if secret == "" {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			return nil, fmt.Errorf("generate host token secret: %w", err)
		}
		secret = hex.EncodeToString(b)
		log.Warn().Msg("HOST_TOKEN_SECRET not set; host tokens will not survive a restart")
	}
	return auth.NewHostTokens(secret, cfg.HostTokenTTL)
}
