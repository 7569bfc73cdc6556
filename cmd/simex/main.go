// Command simex runs the simulated exchange.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/0x5487/hft/simex"
)

func main() {
	addr := flag.String("addr", simex.DefaultAddr, "listen address")
	ackDelay := flag.Duration("ack-delay", simex.DefaultAckDelay, "delay before the ack of every order")
	fillDelay := flag.Duration("fill-delay", simex.DefaultFillDelay, "delay between the ack and the fill")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn or error")
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		simex.Logger().Error("invalid log level", slog.String("level", *logLevel))
		os.Exit(2)
	}
	simex.SetLogLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := simex.NewServer(*addr)
	srv.AckDelay = *ackDelay
	srv.FillDelay = *fillDelay

	if err := srv.ListenAndServe(ctx); err != nil {
		simex.Logger().Error("simex failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
