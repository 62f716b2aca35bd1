package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/torosent/mqfire/internal/broker"
	"github.com/torosent/mqfire/internal/logging"
	"github.com/torosent/mqfire/internal/transport/native"
)

type brokerOptions struct {
	listen       string
	wsListen     string
	configPath   string
	queueManager string
	logLevel     string
	logFormat    string
	// ready, when set, receives the bound addresses once listening.
	ready func(tcp, ws net.Addr)
}

func newBrokerCommand(stderr io.Writer) *cobra.Command {
	opts := brokerOptions{}
	cmd := &cobra.Command{
		Use:           "broker",
		Short:         "Run the development broker for local tests",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBroker(cmd.Context(), opts, stderr)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.listen, "listen", ":1414", "TCP address for framed sessions")
	flags.StringVar(&opts.wsListen, "ws-listen", "", "HTTP address for WebSocket sessions (disabled when empty)")
	flags.StringVar(&opts.configPath, "config", "", "YAML file with queue manager, channels, users and queues")
	flags.StringVar(&opts.queueManager, "queue-manager", "", "Queue manager name (overrides the config file)")
	flags.StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flags.StringVar(&opts.logFormat, "log-format", "text", "Log format (text or json)")
	return cmd
}

func runBroker(ctx context.Context, opts brokerOptions, stderr io.Writer) error {
	log, err := logging.NewWithWriter(stderr, opts.logLevel, opts.logFormat)
	if err != nil {
		return err
	}

	cfg := broker.DefaultConfig()
	if opts.configPath != "" {
		if cfg, err = broker.LoadConfig(opts.configPath); err != nil {
			return err
		}
	}
	if opts.queueManager != "" {
		cfg.QueueManager = opts.queueManager
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	b := broker.New(cfg, broker.WithLogger(log))
	defer b.Close()

	ln, err := net.Listen("tcp", opts.listen)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	var wsLn net.Listener
	if opts.wsListen != "" {
		if wsLn, err = net.Listen("tcp", opts.wsListen); err != nil {
			_ = ln.Close()
			return fmt.Errorf("websocket listen: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.Serve(gctx, ln) })

	var wsAddr net.Addr
	if wsLn != nil {
		wsAddr = wsLn.Addr()
		mux := http.NewServeMux()
		mux.Handle(native.DefaultWebSocketPath, b.WebSocketHandler())
		srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.WithField("addr", wsAddr.String()).Info("broker websocket listening")
			if err := srv.Serve(wsLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("websocket: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	if opts.ready != nil {
		opts.ready(ln.Addr(), wsAddr)
	}
	return g.Wait()
}
