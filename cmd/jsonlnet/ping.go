package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cyberinferno/go-jsonlnet/client"
	"github.com/cyberinferno/go-jsonlnet/jsonrpc"
	"github.com/cyberinferno/go-jsonlnet/logger"
	"github.com/cyberinferno/go-jsonlnet/netpoll"
	"github.com/cyberinferno/go-jsonlnet/perfmonitor"
	"github.com/spf13/cobra"
)

const pingClientID netpoll.SocketID = 1

var errNoReply = errors.New("no reply")

type pingOptions struct {
	addr     string
	count    int
	interval time.Duration
	timeout  time.Duration
	logLevel string
}

func pingCmd(logLevel *string) *cobra.Command {
	var opts pingOptions

	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Measure request round trips to a server",
		Long: `Send "ping" requests to a jsonlnet server and report each round trip.

Examples:
  jsonlnet ping
  jsonlnet ping --addr=10.0.0.5:7000 --count=10 --interval=200ms`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.logLevel = *logLevel
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runPing(ctx, cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.addr, "addr", "a", "127.0.0.1:7000", "Server address")
	cmd.Flags().IntVarP(&opts.count, "count", "c", 4, "Number of requests to send")
	cmd.Flags().DurationVarP(&opts.interval, "interval", "i", time.Second, "Delay between requests")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 5*time.Second, "Time to wait for each reply")

	return cmd
}

func runPing(ctx context.Context, out io.Writer, opts pingOptions) error {
	level, err := logger.ParseLevel(opts.logLevel)
	if err != nil {
		return err
	}

	log := logger.NewConsoleLogger("jsonlnet", level)
	defer log.Close()

	poller, err := netpoll.Open()
	if err != nil {
		return fmt.Errorf("open poller: %w", err)
	}
	defer poller.Close()

	cfg := client.DefaultConfig(pingClientID, opts.addr)
	cfg.Logger = log.With(logger.Field{Key: "component", Value: "client"})

	c, err := client.New(cfg)
	if err != nil {
		return err
	}
	defer c.Close(poller)

	pm := perfmonitor.NewPerformanceMonitor()
	var total time.Duration
	received := 0

	for seq := 1; seq <= opts.count; seq++ {
		if seq > 1 {
			select {
			case <-ctx.Done():
				return summarize(out, received, total)
			case <-time.After(opts.interval):
			}
		}

		req, err := jsonrpc.NewRequest(jsonrpc.NumberID(int64(seq)), "ping", nil)
		if err != nil {
			return err
		}

		pm.Reset()
		pm.Start()
		if err := c.Send(poller, req); err != nil {
			return fmt.Errorf("send ping %d: %w", seq, err)
		}

		resp, err := awaitReply(ctx, poller, c, req.ID, opts.timeout)
		pm.Stop()
		if err != nil {
			fmt.Fprintf(out, "seq=%d %s\n", seq, err)
			continue
		}

		var result string
		if err := resp.DecodeResult(&result); err != nil {
			fmt.Fprintf(out, "seq=%d error: %s\n", seq, err)
			continue
		}

		received++
		total += pm.Elapsed()
		fmt.Fprintf(out, "reply from %s: seq=%d result=%s time=%.3f ms\n", c.ServerAddr(), seq, result, pm.ElapsedMilliseconds())
	}

	return summarize(out, received, total)
}

// awaitReply drives the poller until the response to id arrives.
func awaitReply(ctx context.Context, poller netpoll.Poller, c *client.Client, id jsonrpc.ID, timeout time.Duration) (jsonrpc.Message, error) {
	events := make([]netpoll.Event, 0, 8)
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return jsonrpc.Message{}, err
		}

		ready, err := poller.Poll(pollTimeout, events)
		if err != nil {
			return jsonrpc.Message{}, fmt.Errorf("poll: %w", err)
		}

		for _, ev := range ready {
			c.HandleEvent(poller, ev)
		}

		for {
			msg, ok := c.TryRecv()
			if !ok {
				break
			}

			if msg.IsResponse() && msg.ID.Equal(id) {
				return msg, nil
			}
		}

		if c.State() == client.Disconnected {
			return jsonrpc.Message{}, fmt.Errorf("%w: connection closed", errNoReply)
		}
	}

	return jsonrpc.Message{}, fmt.Errorf("%w within %s", errNoReply, timeout)
}

func summarize(out io.Writer, received int, total time.Duration) error {
	if received == 0 {
		return errNoReply
	}

	avg := float64(total) / float64(received) / float64(time.Millisecond)
	fmt.Fprintf(out, "%d replies, average %.3f ms\n", received, avg)
	return nil
}
