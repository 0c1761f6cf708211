package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	serve := flag.Bool("serve", false, "Run the HTTP control server instead of a single booking")
	addr := flag.String("addr", "", "Listen address for -serve (overrides config)")
	listOnly := flag.Bool("list", false, "Only list the available trains, do not book")
	debug := flag.Bool("debug", false, "Enable detailed debug logging")
	headed := flag.Bool("headed", false, "Show the browser window")
	attempts := flag.Int("attempts", 0, "Maximum search attempts (overrides config)")
	date := flag.String("date", "", "Outbound date, e.g. 2026-11-02 (overrides config)")
	depart := flag.String("time", "", "Earliest departure time, e.g. 10:30 (overrides config)")
	flag.Parse()

	envLoaded := LoadEnv()

	// Initialize localization
	if err := InitLocale(); err != nil {
		log.Printf("Warning: Locale initialization failed, using default English: %v", err)
	}

	// Check for user data directory permission issues (after locale is loaded)
	checkUserDataDirPermissions()

	config, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *addr != "" {
		config.Server.Addr = *addr
	}
	if *listOnly {
		config.ListOnly = true
	}
	if *debug {
		config.DebugMode = true
	}
	if *headed {
		config.Headless = false
	}
	if *attempts > 0 {
		config.Retry.RunAttempts = *attempts
	}
	if *date != "" {
		config.Booking.OutboundDate = *date
	}
	if *depart != "" {
		config.Booking.OutboundTime = *depart
	}
	if config.BrowserProfilePath == "" {
		config.BrowserProfilePath = getUserDataDir()
	}

	if envLoaded && config.DebugMode {
		fmt.Println(T("env_loaded"))
	}

	os.Exit(run(config, *serve))
}

// run wires the application together and returns the process exit code.
func run(config *Config, serve bool) int {
	board := NewStatusBoard(config.Server.LogLines)
	logger := newLogger(config, board)
	slog.SetDefault(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := NewMetrics(reg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resolver, err := newResolver(ctx, config, logger, metrics)
	if err != nil {
		logger.Error("failed to set up OCR", "err", err)
		return 1
	}

	clock := NewTimeSync(logger, config.ReservationURL)
	newForm := func(ctx context.Context) (FormFieldAccessor, error) {
		a, err := NewAutomation(ctx, config, logger)
		if err != nil {
			return nil, err
		}
		return a, nil
	}
	runner := NewRunner(config, resolver, newForm, clock, board, logger, metrics)

	printBanner(config, serve, resolver.HasSecondary())

	if serve {
		return serveHTTP(ctx, config, runner, board, reg, logger)
	}
	return bookOnce(ctx, config, runner)
}

func newLogger(config *Config, board *StatusBoard) *slog.Logger {
	level := slog.LevelInfo
	if config.DebugMode {
		level = slog.LevelDebug
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(NewTeeHandler(h, board))
}

// newResolver builds the OCR chain: the remote service first, Gemini as the
// fallback when an API key is configured.
func newResolver(ctx context.Context, config *Config, logger *slog.Logger, metrics *Metrics) (*Resolver, error) {
	primary := NewRemoteOCR(config.OCR)

	g, err := NewGeminiOCR(ctx, config.OCR)
	if err != nil {
		return nil, err
	}
	if g == nil {
		logger.Info(T("gemini_disabled"))
		return NewResolver(primary, nil, logger, metrics), nil
	}
	return NewResolver(primary, g, logger, metrics), nil
}

func printBanner(config *Config, serve, gemini bool) {
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Println(T("banner_title"))
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	if serve {
		fmt.Println(T("serve_mode", config.Server.Addr))
	} else {
		b := config.Booking
		fmt.Println(T("banner_route", b.StartStation, b.DestStation))
		fmt.Println(T("banner_date", b.OutboundDate, b.OutboundTime))
	}
	fmt.Println(T("banner_profile", config.BrowserProfilePath))

	if gemini {
		fmt.Println(T("gemini_enabled"))
	}
	if config.ListOnly {
		fmt.Println(T("list_only_mode"))
	}
	if config.DebugMode {
		fmt.Println(T("debug_mode"))
	}
	fmt.Println()
}

// bookOnce runs a single booking in the foreground. Ctrl+C stops it at the
// next checkpoint.
func bookOnce(ctx context.Context, config *Config, runner *Runner) int {
	ctl := NewController(config.Retry.Policy(), slog.Default())
	res := runner.Run(ctx, ctl, "", config.Booking)
	printResult(res)
	return res.ExitCode()
}

func printResult(res *RunResult) {
	fmt.Println()

	switch res.Outcome {
	case OutcomeSuccess:
		fmt.Println(T("outcome_success"))
		printReceipt(res.Receipt)
		fmt.Println(T("history_hint", res.HistoryURL))
	case OutcomeListed:
		printTrains(res.Trains)
		fmt.Println(T("outcome_listed"))
	case OutcomeUnconfirmed:
		fmt.Println(T("outcome_unconfirmed", res.Error))
		fmt.Println(T("history_hint", res.HistoryURL))
	case OutcomeRejected:
		fmt.Println(T("outcome_rejected", res.Error))
	case OutcomeCancelled:
		fmt.Println(T("outcome_cancelled"))
	default:
		fmt.Println(T("outcome_failed", res.Attempts, res.Error))
	}
}

func printTrains(trains []TrainOption) {
	if len(trains) == 0 {
		return
	}
	fmt.Println(T("trains_header"))
	for i, t := range trains {
		fmt.Printf("  %2d. %s\n", i+1, t)
	}
}

func printReceipt(r *Receipt) {
	if r == nil {
		return
	}
	fmt.Println(T("receipt_header"))
	fmt.Println(T("receipt_reservation", r.ReservationNo))
	fmt.Println(T("receipt_payment", r.PaymentStatus))
	fmt.Println(T("receipt_train", r.TrainNo, r.Date))
	fmt.Println(T("receipt_departure", r.DepartureTime, r.DepartureStation))
	fmt.Println(T("receipt_arrival", r.ArrivalTime, r.ArrivalStation))
	fmt.Println(T("receipt_duration", r.Duration))
	fmt.Println(T("receipt_tickets", r.TicketType, r.CarType))
	fmt.Println(T("receipt_seats", strings.Join(r.Seats, ", ")))
	fmt.Println(T("receipt_price", r.TotalPrice))
}

// serveHTTP runs the control server until ctx is cancelled, then stops the
// active booking and drains it before returning.
func serveHTTP(ctx context.Context, config *Config, runner *Runner, board *StatusBoard, reg *prometheus.Registry, logger *slog.Logger) int {
	svc := NewBookingService(ctx, config, runner, board, logger)

	srv, err := NewServer(config, svc, board, reg, logger)
	if err != nil {
		logger.Error("failed to create server", "err", err)
		return 1
	}
	if config.Server.Password == "" {
		logger.Warn(T("serve_no_password"))
	}

	httpServer := &http.Server{
		Addr:              config.Server.Addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info(T("serve_listening", config.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info(T("serve_shutdown"))
		svc.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		svc.Wait()
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped", "err", err)
		return 1
	}
	return 0
}

// Store init error for later display (after locale is loaded)
var initUserDataDirError error

func init() {
	userDataDir := getUserDataDir()
	if err := os.MkdirAll(userDataDir, 0755); err != nil {
		initUserDataDirError = err
	}
}

func checkUserDataDirPermissions() {
	if initUserDataDirError == nil {
		return
	}

	userDataDir := getUserDataDir()
	if runtime.GOOS == "darwin" && strings.Contains(initUserDataDirError.Error(), "operation not permitted") {
		fmt.Println(T("error_macos_permission_header"))
		fmt.Printf(T("error_macos_permission_location"), userDataDir)
		fmt.Println(T("error_macos_permission_fix_instructions"))
		fmt.Println(T("error_macos_permission_step1"))
		fmt.Println(T("error_macos_permission_step2"))
		fmt.Println(T("error_macos_permission_alternative"))
		fmt.Println()
	}
	log.Printf(T("error_macos_user_data_dir_warning"), initUserDataDirError)
}
