package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"stockledger/backend/internal/bootstrap"
	"stockledger/backend/internal/config"
	"stockledger/backend/internal/httpapi"
	"stockledger/backend/internal/logging"
	"stockledger/backend/internal/snapshot"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)
	if err := validateSecurityConfig(cfg); err != nil {
		logger.WithError(err).Fatal("invalid security configuration")
	}
	hour, minute, err := cfg.RunAt()
	if err != nil {
		logger.WithError(err).Fatal("invalid snapshot schedule")
	}

	openCtx, openCancel := context.WithTimeout(context.Background(), 10*time.Second)
	rt, err := bootstrap.Open(openCtx, cfg, logger)
	openCancel()
	if err != nil {
		logger.WithError(err).Fatal("startup failed")
	}
	defer rt.Close()

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()

	var schedulerDone <-chan struct{}
	if cfg.SnapshotSchedulerEnabled {
		schedulerDone = snapshot.NewScheduler(rt.Materializer, hour, minute).Start(runCtx)
		logger.WithFields(logrus.Fields{"runAt": cfg.SnapshotRunAt, "timezone": cfg.OperatingTimezone}).Info("snapshot scheduler enabled")
	}

	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), cfg.ManagerPIN)
	api := httpapi.New(rt.Service, rt.Materializer, rt.Reconstructor, auth, cfg.AllowedOrigin, logger)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.Address()).Info("stock ledger listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("shutdown error")
	}
	stopRun()
	if schedulerDone != nil {
		select {
		case <-schedulerDone:
		case <-shutdownCtx.Done():
			logger.Warn("scheduler did not stop in time")
		}
	}

	logger.Info("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects PINs that are all one digit, a straight run
// up or down, or on the common-PIN list.
func validatePINStrength(pin string) error {
	for _, c := range pin {
		if c < '0' || c > '9' {
			return fmt.Errorf("PIN must be digits only")
		}
	}

	common := map[string]bool{
		"121212": true, "112233": true, "123123": true,
		"696969": true, "159753": true, "147258": true,
	}
	if common[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}

	return nil
}
