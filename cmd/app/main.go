package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"mentorme-service/internal/config"
	bookingAttendance "mentorme-service/internal/http-server/handlers/bookings/attendance"
	bookingCancel "mentorme-service/internal/http-server/handlers/bookings/cancel"
	bookingConfirm "mentorme-service/internal/http-server/handlers/bookings/confirm"
	bookingCreate "mentorme-service/internal/http-server/handlers/bookings/create"
	bookingDecline "mentorme-service/internal/http-server/handlers/bookings/decline"
	bookingGet "mentorme-service/internal/http-server/handlers/bookings/get"
	bookingReview "mentorme-service/internal/http-server/handlers/bookings/review"
	calendarGet "mentorme-service/internal/http-server/handlers/calendar/get"
	slotConflicts "mentorme-service/internal/http-server/handlers/slots/conflicts"
	slotCreate "mentorme-service/internal/http-server/handlers/slots/create"
	slotDelete "mentorme-service/internal/http-server/handlers/slots/delete"
	slotGet "mentorme-service/internal/http-server/handlers/slots/get"
	slotPause "mentorme-service/internal/http-server/handlers/slots/pause"
	slotPublish "mentorme-service/internal/http-server/handlers/slots/publish"
	slotResume "mentorme-service/internal/http-server/handlers/slots/resume"
	walletDebit "mentorme-service/internal/http-server/handlers/wallet/debit"
	walletGet "mentorme-service/internal/http-server/handlers/wallet/get"
	walletTopup "mentorme-service/internal/http-server/handlers/wallet/topup"
	walletTransactions "mentorme-service/internal/http-server/handlers/wallet/transactions"
	"mentorme-service/internal/lock"
	"mentorme-service/internal/notify"
	"mentorme-service/internal/scheduler"
	svc "mentorme-service/internal/service"
	"mentorme-service/internal/storage/postgres"
	slogpretty "mentorme-service/pkg/handlers/slogPretty"
	"mentorme-service/pkg/middleware/mwLogger"
	"mentorme-service/pkg/sl"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/chi/v5"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Content-Type", "application/json; charset=utf-8")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func main() {

	cfg := config.MustLoad()

	log := setupLogger(cfg.Env)

	log.Info("Starting API", slog.String("env", cfg.Env))
	log.Debug("Debug messages are enabled")

	storage, err := postgres.New(cfg.StoragePath)
	if err != nil {
		log.Error("Failed to init storage", sl.Err(err))
		os.Exit(1)
	}

	locker, err := lock.NewRedisLock(cfg.RedisAddr)
	if err != nil {
		log.Error("Failed to init redis lock", sl.Err(err))
		os.Exit(1)
	}

	gateway := notify.NewWebhookGateway(cfg.WebhookURL, log)

	service := svc.NewService(storage, locker, gateway, cfg.Policy, log)

	schedCtx, schedCancel := context.WithCancel(context.Background())
	defer schedCancel()

	sched := scheduler.New(service, locker, cfg.Scheduler.TickInterval, cfg.Scheduler.TickLockTTL, log)
	go sched.Start(schedCtx)

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(mwLogger.New(log))
	router.Use(middleware.Recoverer)
	router.Use(middleware.URLFormat)
	router.Use(CORS)

	// Slots
	router.Post("/slots", slotCreate.New(log, service))
	router.Get("/slots/{id}", slotGet.New(log, service))
	router.Post("/slots/{id}/publish", slotPublish.New(log, service))
	router.Get("/slots/{id}/conflicts", slotConflicts.New(log, service))
	router.Post("/slots/{id}/pause", slotPause.New(log, service))
	router.Post("/slots/{id}/resume", slotResume.New(log, service))
	router.Delete("/slots/{id}", slotDelete.New(log, service))

	// Calendar
	router.Get("/mentors/{mentorID}/calendar", calendarGet.New(log, service))

	// Bookings
	router.Post("/bookings", bookingCreate.New(log, service))
	router.Get("/bookings/{id}", bookingGet.New(log, service))
	router.Post("/bookings/{id}/confirm", bookingConfirm.New(log, service))
	router.Post("/bookings/{id}/decline", bookingDecline.New(log, service))
	router.Put("/bookings/{id}/cancel", bookingCancel.New(log, service))
	router.Post("/bookings/{id}/attendance", bookingAttendance.New(log, service))
	router.Post("/bookings/{id}/review", bookingReview.New(log, service))

	// Wallet
	router.Post("/wallet/topup", walletTopup.New(log, service))
	router.Post("/wallet/debit", walletDebit.New(log, service))
	router.Get("/wallet/{ownerID}", walletGet.New(log, service))
	router.Get("/wallet/{ownerID}/transactions", walletTransactions.New(log, service))

	serv := &http.Server{
		Addr:         cfg.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	serverErrCh := make(chan error, 1)

	go func() {
		log.Info("Starting HTTP server", slog.String("addr", cfg.Address))
		if err := serv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		} else {
			serverErrCh <- nil
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case err := <-serverErrCh:
		if err != nil {
			log.Error("HTTP server stopped unexpectedly", sl.Err(err))
		} else {
			log.Info("HTTP server stopped gracefully")
		}
	}

	schedCancel()

	shutdownTimeout := cfg.HTTPServer.ShutdownTimeout

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	log.Info("Shutting down HTTP server", slog.String("timeout", shutdownTimeout.String()))

	if err := serv.Shutdown(ctx); err != nil {
		log.Error("Server shutdown failed", sl.Err(err))
	} else {
		log.Info("Server shutdown complete")
	}

	if storage != nil {
		if err := storage.Close(); err != nil {
			log.Error("Failed to close storage", sl.Err(err))
		} else {
			log.Info("Storage closed")
		}
	} else {
		log.Debug("Storage is nil, nothing to close")
	}

	if locker != nil {
		if err := locker.Close(); err != nil {
			log.Error("Failed to close locker", sl.Err(err))
		} else {
			log.Info("Locker closed")
		}
	}

	log.Info("Shutdown finished, server stopped")

}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger
	switch env {
	case envLocal:
		log = setupPrettySlog()
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(os.Stdout)

	return slog.New(handler)
}
