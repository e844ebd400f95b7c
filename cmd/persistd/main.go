//go:build linux

package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/edirooss/persistd/internal/config"
	"github.com/edirooss/persistd/internal/dispatch"
	"github.com/edirooss/persistd/internal/procmgr"
)

func main() {
	log := buildLogger()
	defer log.Sync()
	log = log.Named("main")

	layout, err := config.NewLayout()
	if err != nil {
		log.Fatal("resolve home directory", zap.Error(err))
	}
	log = log.With(zap.String("home", layout.Home))

	if err := layout.EnsureHome(); err != nil {
		log.Fatal("ensure home directory", zap.Error(err))
	}
	if err := layout.EnsureSubdirs(); err != nil {
		log.Fatal("ensure pids/logs directories", zap.Error(err))
	}
	if err := layout.RemoveStaleSocket(); err != nil {
		log.Fatal("remove stale socket", zap.Error(err))
	}

	ln, err := net.Listen("unix", layout.SocketFile)
	if err != nil {
		log.Fatal("bind socket", zap.String("path", layout.SocketFile), zap.Error(err))
	}

	if err := layout.WritePidFile(os.Getpid()); err != nil {
		log.Fatal("write daemon pid file", zap.Error(err))
	}

	reg := procmgr.New(log, layout)
	srv := dispatch.New(log, reg)

	go func() {
		if err := srv.Serve(ln); err != nil {
			log.Error("serve loop ended", zap.Error(err))
		}
	}()

	watchCtx, cancelWatch := context.WithCancel(context.Background())
	go func() {
		if err := reg.WatchLayout(watchCtx); err != nil {
			log.Warn("layout watcher ended", zap.Error(err))
		}
	}()

	log.Info("persistd started", zap.String("socket", layout.SocketFile))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	cancelWatch()
	ln.Close()
}

// buildLogger returns a development logger configuration (colored levels,
// no timestamp/caller/stacktrace noise) suited to a small foreground daemon.
func buildLogger() *zap.Logger {
	logConfig := zap.NewDevelopmentConfig()
	logConfig.EncoderConfig.TimeKey = ""
	logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logConfig.DisableStacktrace = true
	logConfig.DisableCaller = true
	logConfig.Level.SetLevel(zap.InfoLevel)
	return zap.Must(logConfig.Build())
}
