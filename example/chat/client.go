package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Zereker/msgnet"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/spf13/cobra"
)

func clientCmd(load func() (Config, error)) *cobra.Command {
	var (
		addr     string
		attempts int
		backoff  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Connect to a chat server and send lines from stdin",
		Long: `Connect to a chat server, send every line read from stdin as a
message, and print whatever the server sends back.

Connection attempts go through a circuit breaker; after repeated
failures the client waits for the breaker to half-open before trying
again.

Examples:
  chat client
  chat client --addr 10.0.0.5:1337 --attempts 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if addr != "" {
				host, port, err := splitAddr(addr)
				if err != nil {
					return err
				}
				cfg.Host, cfg.Port = host, port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runClient(ctx, cfg, attempts, backoff, os.Stdin, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Server address host:port (default from config)")
	cmd.Flags().IntVar(&attempts, "attempts", 5, "Connection attempts before giving up")
	cmd.Flags().DurationVar(&backoff, "backoff", 500*time.Millisecond, "Delay between connection attempts")

	return cmd
}

func splitAddr(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, errors.Wrapf(err, "parse address %q", addr)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, errors.Wrapf(err, "parse port %q", portStr)
	}
	return host, port, nil
}

func runClient(ctx context.Context, cfg Config, attempts int, backoff time.Duration, in io.Reader, out io.Writer) error {
	logger, err := newLogger("client", cfg.LogLevel)
	if err != nil {
		return err
	}

	client, err := msgnet.NewClient(cfg.Host, cfg.Port, newRegistry(), connOptions(cfg, msgnet.NewLogrusLogger(logger))...)
	if err != nil {
		return err
	}
	if err = connectWithBreaker(ctx, client, attempts, backoff, logger); err != nil {
		return err
	}
	defer client.Disconnect()

	t := client.Transceiver()
	go func() {
		for {
			select {
			case <-t.Done():
				return
			case <-client.Received().Ready():
				for _, m := range client.Received().Drain() {
					fmt.Fprintln(out, m)
				}
			}
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.Done():
			return errors.Wrap(msgnet.ErrConnectionClosed, "server went away")
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err = client.Send(msgnet.NewStringMessage(line)); err != nil {
				return err
			}
		}
	}
}

// connectWithBreaker dials client up to attempts times. Three consecutive
// failures open the breaker for one backoff period.
func connectWithBreaker(ctx context.Context, client *msgnet.Client, attempts int, backoff time.Duration, logger logrus.FieldLogger) error {
	if attempts <= 0 {
		attempts = 1
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "connect " + client.Addr(),
		MaxRequests: 1,
		Timeout:     backoff,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{"breaker": name, "from": from, "to": to}).Warn("breaker state changed")
		},
	})

	var err error
	for i := 1; i <= attempts; i++ {
		_, err = breaker.Execute(func() (interface{}, error) {
			return nil, client.Connect(ctx)
		})
		if err == nil {
			logger.WithField("addr", client.Addr()).Info("connected")
			return nil
		}
		logger.WithFields(logrus.Fields{"addr": client.Addr(), "attempt": i}).WithError(err).Warn("connect failed")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return errors.Wrapf(err, "connect %s after %d attempts", client.Addr(), attempts)
}
