// Command wgagentd runs the WireGuard tunnel agent: it loads a static
// network configuration, brings up autostart-enabled tunnels, and serves
// a local control socket and a Prometheus metrics endpoint until it
// receives a shutdown signal.
package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/tunnelmesh/wgagentd/wgkey"
)

// Version is the agent's reported version, surfaced in wg_agent_info and
// the --version flag.
const Version = "0.1.0"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "genkey" {
		if err := runGenkey(); err != nil {
			log.Fatalf("generating key: %v", err)
		}
		return
	}

	fs := flag.NewFlagSet("wgagentd", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, fs.FlagUsages())
	}

	configPath := fs.String("config", "/etc/wgagentd/config.yaml", "path to the agent configuration file")
	showVersion := fs.BoolP("version", "v", false, "print version and exit")

	if err := fs.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		log.Fatalf("parsing flags: %v", err)
	}

	if *showVersion {
		fmt.Printf("wgagentd %s\n", Version)
		os.Exit(0)
	}

	app, err := newApplication(*configPath, Version)
	if err != nil {
		log.Fatalf("initializing agent: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := app.start(ctx); err != nil {
		log.Fatalf("starting agent: %v", err)
	}

	handleSignals(ctx, cancel, app)

	app.wait()
	app.log.Info("wgagentd stopped")
}

// runGenkey prints a freshly generated base64-encoded private key to
// stdout, mirroring the upstream `wg genkey` tool closely enough for
// operators to pipe it straight into a config file's private_key_path.
func runGenkey() error {
	priv, err := wgkey.GeneratePrivateKey()
	if err != nil {
		return err
	}
	raw := priv.Bytes()
	fmt.Println(base64.StdEncoding.EncodeToString(raw[:]))
	return nil
}

// handleSignals blocks until SIGINT/SIGTERM triggers shutdown, treating
// SIGHUP as a configuration reload request that does not stop the agent.
func handleSignals(ctx context.Context, cancel context.CancelFunc, app *Application) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		select {
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				app.reload(ctx)
			case syscall.SIGINT, syscall.SIGTERM:
				app.log.Info("received shutdown signal", "signal", sig.String())
				cancel()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
