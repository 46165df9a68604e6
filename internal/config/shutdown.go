package config

import (
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"go.uber.org/zap"

	"github.com/nmxmxh/janus/internal/protocol"
	"github.com/nmxmxh/janus/internal/registry"
	"github.com/nmxmxh/janus/pkg/logger"
)

var shutdownDone atomic.Bool

// Shutdown tears the process down in dependency order: registrations are
// withdrawn first so consumers stop routing here, then protocols close their
// servers and clients. Safe to call more than once; only the first call acts.
func Shutdown() {
	if !shutdownDone.CompareAndSwap(false, true) {
		return
	}
	log := logger.Default()
	log.Info("shutting down")
	registry.DestroyAll()
	protocol.DestroyProtocols()
	log.Info("shutdown complete")
}

// HandleSignals installs a handler running Shutdown on SIGINT or SIGTERM,
// then invoking each callback before the process exits.
func HandleSignals(callbacks ...func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-ch
		logger.Default().Info("signal received", zap.String("signal", sig.String()))
		Shutdown()
		for _, cb := range callbacks {
			cb()
		}
		os.Exit(0)
	}()
}
