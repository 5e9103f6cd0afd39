// The refunder disburses pending refunds in batches, outside the gateway's
// request path. Run it as a sidecar or a cron-style job; it is safe to run
// alongside the gateway's own refund worker because the ledger update is
// conditional on refund_tx_hash being unset.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"x402_gateway/internal/config"
	"x402_gateway/internal/refund"
	"x402_gateway/internal/storage"
)

func main() {
	once := flag.Bool("once", false, "process one batch and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := storage.NewDB(storage.DBConfig{
		DSN:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	var disburser refund.Disburser
	if cfg.Refund.DisburserRPCURL != "" {
		disburser = refund.NewRPCDisburser(cfg.Refund.DisburserRPCURL)
	} else {
		disburser = refund.NewStubDisburser()
	}

	service := refund.NewService(db.NewPaymentRepository(), disburser, cfg.Payment.MinRefundThresholdUSD)

	if *once {
		stats, err := service.ProcessAllPending(context.Background())
		if err != nil {
			log.Fatalf("Refund batch failed: %v", err)
		}
		log.Printf("Refund batch done: total=%d processed=%d failed=%d amount=%f",
			stats.Total, stats.Processed, stats.Failed, stats.TotalAmount)
		return
	}

	worker := refund.NewWorker(service, cfg.Refund.Interval)
	worker.Start(context.Background())
	log.Printf("Refunder running, interval=%s", cfg.Refund.Interval)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down refunder...")
	if err := worker.Stop(); err != nil {
		log.Printf("Failed to stop worker: %v", err)
	}
	log.Println("Refunder exited")
}
