// Command mysrvd runs a demo mysrv server backed by an in-memory key/value
// table exposed as a single-table SQL-ish surface, with an optional HTTP
// monitor endpoint for watching commands as they arrive.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/taku-k/mysrv/broker"
	"github.com/taku-k/mysrv/monitor"
	"github.com/taku-k/mysrv/mysrv"
	"github.com/taku-k/mysrv/tui"
)

var version = "dev"

func main() {
	fs := flag.NewFlagSet("mysrvd", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "mysrvd — demo MySQL-protocol server\n\nUsage:\n  mysrvd [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}

	listen := fs.String("listen", "127.0.0.1:3306", "client listen address")
	httpAddr := fs.String("http", "", "monitor HTTP server address (e.g. :8080); empty disables it")
	serverVersion := fs.String("server-version", "8.0.34-mysrv", "version string advertised during the handshake")
	showVersion := fs.Bool("version", false, "show version and exit")
	runTUI := fs.Bool("tui", false, "run the interactive dashboard in the foreground instead of logging to stdout")
	n1Threshold := fs.Int("n1-threshold", 5, "number of identical query templates within -n1-window that triggers an N+1 alert (0 disables detection)")
	n1Window := fs.Duration("n1-window", time.Second, "time window for N+1 detection")
	n1Cooldown := fs.Duration("n1-cooldown", 10*time.Second, "minimum time between repeated N+1 alerts for the same template")

	_ = fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("mysrvd %s\n", version)
		return
	}

	if err := run(*listen, *httpAddr, *serverVersion, *runTUI, *n1Threshold, *n1Window, *n1Cooldown); err != nil {
		log.Fatal(err)
	}
}

func run(listen, httpAddr, serverVersion string, runTUI bool, n1Threshold int, n1Window, n1Cooldown time.Duration) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b := broker.New(256)
	defer b.Close()

	var lc net.ListenConfig

	if httpAddr != "" {
		httpLis, err := lc.Listen(ctx, "tcp", httpAddr)
		if err != nil {
			return fmt.Errorf("listen http %s: %w", httpAddr, err)
		}
		monSrv := monitor.New(b)
		go func() {
			log.Printf("monitor HTTP server listening on %s", httpAddr)
			if err := monSrv.Serve(httpLis); err != nil {
				log.Printf("monitor serve: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = monSrv.Shutdown(shutdownCtx)
		}()
	}

	lis, err := lc.Listen(ctx, "tcp", listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", listen, err)
	}
	defer lis.Close()

	go func() {
		<-ctx.Done()
		lis.Close()
	}()

	if !runTUI {
		log.Printf("mysrvd listening on %s", listen)
		return serve(ctx, lis, b, serverVersion, n1Threshold, n1Window, n1Cooldown)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- serve(ctx, lis, b, serverVersion, n1Threshold, n1Window, n1Cooldown) }()

	p := tea.NewProgram(tui.New(b), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		stop()
		return fmt.Errorf("run dashboard: %w", err)
	}
	stop()

	if err := <-serveErr; err != nil {
		return err
	}
	return nil
}

// serve runs the accept loop, handing each connection to a fresh
// Intermediary until ctx is cancelled or the listener fails.
func serve(ctx context.Context, lis net.Listener, b *broker.Broker, serverVersion string, n1Threshold int, n1Window, n1Cooldown time.Duration) error {
	backend := newDemoBackend()
	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}
		opts := []mysrv.Option{
			mysrv.WithBroker(b),
			mysrv.WithServerVersion(serverVersion),
		}
		if n1Threshold > 0 {
			opts = append(opts, mysrv.WithN1Detection(n1Threshold, n1Window, n1Cooldown))
		}
		intermediary := mysrv.New(backend, conn, opts...)
		go func() {
			if err := intermediary.Run(ctx); err != nil {
				log.Printf("connection ended: %v", err)
			}
		}()
	}
}
