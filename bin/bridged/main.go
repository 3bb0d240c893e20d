package main

import (
	"context"
	"flag"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/protolith/scenebridge/server"

	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	config, err := server.ConfigFromEnv()
	if err != nil {
		log.Fatal(err)
	}
	if config.DataDir == "" {
		config.DataDir = filepath.Join(os.Getenv("HOME"), ".scenebridge")
	}

	flag.StringVar(&config.HTTPAddr, "http", config.HTTPAddr, "Where to listen for engine and editor websockets.")
	flag.StringVar(&config.DataDir, "dir", config.DataDir, "Where to save the scene database.")
	flag.StringVar(&config.ScriptDir, "scripts", config.ScriptDir, "Directory of per-entity .js files to seed and watch.")
	flag.StringVar(&config.LogPath, "log", config.LogPath, "Log file path. Empty logs to stdout only.")
	flag.StringVar(&config.LogLevel, "level", config.LogLevel, "Log level: debug, info, warn, or error.")

	flag.Parse()

	if err := os.MkdirAll(config.DataDir, 0o755); err != nil {
		log.Fatal(err)
	}

	srv, err := server.New(config, newLogger(config))
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Fatal(srv.Start(ctx))
}

func newLogger(config server.Config) *slog.Logger {
	out := io.Writer(os.Stdout)
	if config.LogPath != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   config.LogPath,
			MaxSize:    20,
			MaxBackups: 5,
			MaxAge:     14,
		})
	}
	level := slog.LevelInfo
	switch strings.ToLower(config.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))
}
