// Command finary-notify tells running finary servers that a user's data
// changed outside the app, e.g. after a bank import wrote transactions
// straight into the store.
//
// Writes that go through a finary server (manual entries, budgets, receipt
// scans and voice entries proxied by /api/scan-receipt and /api/voice-entry)
// are announced by that server and reach other instances through its bridge.
// Notifying them again would refresh every dashboard twice, so only the
// external source is accepted here.
//
// Usage:
//
//	finary-notify -user <id>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"finary/internal/amqp"
	"finary/internal/cli"
	"finary/internal/events"
	"finary/internal/log"
)

// serverAnnounced lists sources whose writes the server itself publishes.
var serverAnnounced = map[string]bool{
	events.SourceManual: true,
	events.SourceBudget: true,
	events.SourceScan:   true,
	events.SourceVoice:  true,
}

func checkArgs(userID, source string) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("-user is required")
	}
	if serverAnnounced[source] {
		return fmt.Errorf("source %q is announced by the finary server that handled the write", source)
	}
	if source != events.SourceExternal {
		return fmt.Errorf("unknown source %q", source)
	}
	return nil
}

func main() {
	userID := flag.String("user", "", "user id whose data changed (required)")
	source := flag.String("source", events.SourceExternal, "what changed the data; only external is accepted")
	timeout := flag.Duration("timeout", 10*time.Second, "give up after this long")
	flag.Parse()

	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig(cli.SetupLogger(os.Getenv("LOG_LEVEL")))
	logger := cli.SetupLogger(cfg.LogLevel).WithComponent(log.ComponentAMQP)

	if err := checkArgs(*userID, *source); err != nil {
		fmt.Fprintln(os.Stderr, "finary-notify:", err)
		flag.Usage()
		os.Exit(2)
	}
	if !cfg.AMQPEnabled() {
		logger.Error("AMQP_URL is not set; nothing to notify")
		os.Exit(1)
	}

	if err := notify(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, amqp.QueueMode(cfg.AMQPQueueMode), *userID, *source, *timeout); err != nil {
		logger.Error("Failed to publish data changed event", log.FieldError, err, log.FieldUserID, *userID)
		os.Exit(1)
	}
	logger.Info("Published data changed event", log.FieldUserID, *userID, log.FieldSource, *source)
}

func notify(url, exchange, queue string, mode amqp.QueueMode, userID, source string, timeout time.Duration) error {
	client, err := amqp.NewClient(url, exchange, queue, mode)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return client.PublishDataChanged(ctx, events.DataChanged(userID, source), cli.InstanceID("finary-notify"))
}
