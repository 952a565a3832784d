package main

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Zereker/msgnet"
	"github.com/panjf2000/ants"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type benchResult struct {
	Clients  int
	Failed   int64
	Messages int64
	Elapsed  time.Duration
	P50      time.Duration
	P99      time.Duration
}

func benchCmd(load func() (Config, error)) *cobra.Command {
	var (
		addr     string
		clients  int
		messages int
		workers  int
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Drive a chat server with many concurrent clients",
		Long: `Connect many clients to a chat server, have each send a batch of
messages, and wait for the welcome plus one reply per message.

Examples:
  chat bench --clients 100 --messages 50
  chat bench --addr 127.0.0.1:1337 --workers 8`,
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

			logger, err := newLogger("bench", cfg.LogLevel)
			if err != nil {
				return err
			}
			res, err := runBench(cmd.Context(), cfg, clients, messages, workers, timeout)
			if err != nil {
				return err
			}
			logger.WithFields(logrus.Fields{
				"clients":  res.Clients,
				"failed":   res.Failed,
				"messages": res.Messages,
				"elapsed":  res.Elapsed,
				"p50":      res.P50,
				"p99":      res.P99,
			}).Info("bench finished")
			return nil
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Server address host:port (default from config)")
	cmd.Flags().IntVarP(&clients, "clients", "n", 10, "Number of clients")
	cmd.Flags().IntVarP(&messages, "messages", "m", 20, "Messages per client")
	cmd.Flags().IntVarP(&workers, "workers", "w", 16, "Clients running at once")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Per-client timeout for replies")

	return cmd
}

// runBench runs clients sessions on a pool of workers goroutines.
func runBench(ctx context.Context, cfg Config, clients, messages, workers int, timeout time.Duration) (benchResult, error) {
	if clients <= 0 || messages < 0 {
		return benchResult{}, errors.Errorf("invalid bench size: clients=%d messages=%d", clients, messages)
	}
	if workers <= 0 {
		workers = 1
	}

	pool, err := ants.NewPool(workers)
	if err != nil {
		return benchResult{}, errors.Wrap(err, "create worker pool")
	}
	defer pool.Release()

	registry := newRegistry()
	opts := []msgnet.Option{
		msgnet.FrameTimeoutOption(cfg.FrameTimeout),
		msgnet.MessageMaxSize(cfg.MaxMessageSize),
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		latencies []time.Duration
		failed    atomic.Int64
		delivered atomic.Int64
	)

	start := time.Now()
	for i := 0; i < clients; i++ {
		wg.Add(1)
		task := func() {
			defer wg.Done()

			began := time.Now()
			n, err := benchSession(ctx, cfg, registry, opts, messages, timeout)
			delivered.Add(int64(n))
			if err != nil {
				failed.Add(1)
				return
			}

			mu.Lock()
			latencies = append(latencies, time.Since(began))
			mu.Unlock()
		}
		if err = pool.Submit(task); err != nil {
			wg.Done()
			failed.Add(1)
		}
	}
	wg.Wait()

	res := benchResult{
		Clients:  clients,
		Failed:   failed.Load(),
		Messages: delivered.Load(),
		Elapsed:  time.Since(start),
	}
	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		res.P50 = latencies[len(latencies)/2]
		res.P99 = latencies[(len(latencies)*99)/100]
	}
	return res, nil
}

// benchSession connects one client, sends messages and waits for every
// reply. It returns the number of replies received.
func benchSession(ctx context.Context, cfg Config, registry *msgnet.Registry, opts []msgnet.Option, messages int, timeout time.Duration) (int, error) {
	client, err := msgnet.NewClient(cfg.Host, cfg.Port, registry, opts...)
	if err != nil {
		return 0, err
	}
	if err = client.Connect(ctx); err != nil {
		return 0, err
	}
	defer client.Disconnect()

	batch := make([]msgnet.Message, messages)
	for i := range batch {
		batch[i] = msgnet.NewStringMessage("Hello from client!")
	}
	if err = client.Send(batch...); err != nil {
		return 0, err
	}

	// welcome plus one reply per message
	want := messages + 1
	got := 0
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for got < want {
		got += len(client.Received().Drain())
		if got >= want {
			break
		}
		select {
		case <-client.Received().Ready():
		case <-client.Transceiver().Done():
			got += len(client.Received().Drain())
			if got >= want {
				return messages, nil
			}
			return max(got-1, 0), msgnet.ErrConnectionClosed
		case <-deadline.C:
			return max(got-1, 0), errors.Errorf("timed out with %d of %d replies", got, want)
		case <-ctx.Done():
			return max(got-1, 0), ctx.Err()
		}
	}
	return messages, nil
}
