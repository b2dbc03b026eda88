// Command bourse runs the exchange server: traders connect over TCP,
// log in, fund their accounts and trade a single instrument. An
// optional HTTP endpoint exposes health, stats and Prometheus metrics.
package main

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/efreitasn/bourse/internal/account"
	"github.com/efreitasn/bourse/internal/admin"
	"github.com/efreitasn/bourse/internal/clientreg"
	"github.com/efreitasn/bourse/internal/config"
	"github.com/efreitasn/bourse/internal/exchange"
	"github.com/efreitasn/bourse/internal/metrics"
	"github.com/efreitasn/bourse/internal/server"
	"github.com/efreitasn/bourse/internal/trader"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Load(args)
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer log.Sync()

	met := metrics.New()
	creg := clientreg.NewRegistry(cfg.MaxClients, log)
	ledger := account.NewLedger(cfg.MaxAccounts, log)
	reg := trader.NewRegistry(cfg.MaxTraders, ledger, log)
	ex := exchange.New(reg, met, log)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		log.Error("failed to listen", zap.Int("port", cfg.Port), zap.Error(err))
		return 1
	}

	// Admin endpoint; empty address disables it.
	var adminSrv *http.Server
	if cfg.AdminAddr != "" {
		adminSrv = &http.Server{
			Addr:    cfg.AdminAddr,
			Handler: admin.NewRouter(ex, reg, creg, met, log),
		}
		go func() {
			log.Info("admin endpoint listening", zap.String("addr", cfg.AdminAddr))
			if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("admin endpoint failed", zap.Error(err))
			}
		}()
	}

	srv := server.New(creg, reg, ex, met, log)
	serveDone := make(chan struct{})
	go func() {
		if err := srv.Serve(ln); err != nil {
			log.Error("accept loop failed", zap.Error(err))
		}
		close(serveDone)
	}()

	// SIGHUP is the traditional shutdown signal for this server; accept
	// SIGINT/SIGTERM too.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
		ln.Close()
		<-serveDone
	case <-serveDone:
	}

	// Disconnect every client and wait for their session goroutines to
	// finish before closing the exchange, so no session is still
	// dispatching when resting orders are refunded.
	creg.ShutdownAll()
	creg.WaitForEmpty()
	ex.Close()

	if adminSrv != nil {
		adminSrv.Close()
	}

	log.Info("bourse server terminating")
	return 0
}

// newLogger builds a production JSON logger at the configured level.
func newLogger(level string) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	switch level {
	case "debug":
		zc.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		zc.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zc.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zc.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return zc.Build()
}
