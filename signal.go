package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// exitInterrupted is the shell convention for death by SIGINT.
const exitInterrupted = 130

const interruptNotice = "Interrupted: stopping transfers and discarding .partial downloads. " +
	"Press Ctrl-C again to quit immediately.\n"

// shutdownContext returns a context that cancels on the first SIGINT/SIGTERM
// and force-exits on the second. Canceling aborts uploads and downloads and
// stops `status --follow`. Each downloader removes its own .partial file, so
// the first signal only tells the user on w and cancels.
func shutdownContext(parent context.Context, logger *slog.Logger, w io.Writer) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Debug("canceling filebox command", slog.String("signal", sig.String()))
			fmt.Fprint(w, interruptNotice)
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("second signal, exiting without cleanup",
				slog.String("signal", sig.String()),
			)
			os.Exit(exitInterrupted)
		case <-parent.Done():
			return
		}
	}()

	return ctx
}
