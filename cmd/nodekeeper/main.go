package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/InsulaLabs/nodekeeper/chain"
	"github.com/InsulaLabs/nodekeeper/config"
	"github.com/InsulaLabs/nodekeeper/home"
	"github.com/InsulaLabs/nodekeeper/internal/embedded"
	"github.com/InsulaLabs/nodekeeper/internal/logging"
	"github.com/InsulaLabs/nodekeeper/node"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
)

func main() {
	fs := flag.NewFlagSet("nodekeeper", flag.ExitOnError)
	chainName := fs.String("chain", "", "Chain to run: mainnet, testnet, usertesting or automatedtesting. Defaults to the saved setting.")
	baseDir := fs.String("base", home.DefaultBase(), "Directory that holds the "+home.HomeDirName+" tree.")
	settingsFile := fs.String("settings", "", "Path to the settings file. Defaults to <base>/"+home.HomeDirName+"/"+config.SettingsFileName+".")
	headless := fs.Bool("headless", false, "Run without the terminal UI and log status until interrupted.")
	logLevel := fs.String("log-level", "info", "Console log level for headless mode.")
	fs.Parse(os.Args[1:])

	if *settingsFile == "" {
		*settingsFile = filepath.Join(*baseDir, home.HomeDirName, config.SettingsFileName)
	}

	// the terminal belongs to the UI unless headless
	var console io.Writer = io.Discard
	if *headless {
		console = os.Stderr
	}
	logger := logging.NewConsole(console, config.ParseLevel(*logLevel)).With("service", "nodekeeper")

	settings, err := config.LoadSettings(*settingsFile)
	if err != nil {
		color.HiRed("Unable to load settings: %v", err)
		os.Exit(1)
	}

	ct := settings.ChainType
	if *chainName != "" {
		ct, err = chain.Parse(*chainName)
		if err != nil {
			color.HiRed("%v", err)
			os.Exit(1)
		}
		if ct != settings.ChainType {
			settings.ChainType = ct
			if err := config.SaveSettings(*settingsFile, settings); err != nil {
				logger.Warn("Unable to save settings", "error", err)
			}
		}
	}

	// no point bringing anything up without a usable home
	home.MustResolveHome(logger, *baseDir, ct)

	sup := node.New(node.Config{
		Logger:       logger,
		BaseDir:      *baseDir,
		Launcher:     &embedded.Launcher{},
		StatInterval: time.Duration(settings.StatusIntervalMillis) * time.Millisecond,
	})
	status := make(chan node.StatusSnapshot, 1)
	sup.SetStatusSink(status)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *headless {
		if err := runHeadless(ctx, logger, sup, status, ct); err != nil {
			logger.Error("Node exited with error", "error", err)
			os.Exit(1)
		}
		return
	}

	m := newModel(sup, status, settings, *settingsFile)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "nodekeeper: %v\n", err)
	}

	// quitting from any path waits for the node to release its data
	if err := sup.Stop(true); err != nil {
		fmt.Fprintf(os.Stderr, "nodekeeper: node did not stop cleanly: %v\n", err)
		os.Exit(1)
	}
}

func runHeadless(ctx context.Context, logger *slog.Logger, sup *node.Supervisor, status <-chan node.StatusSnapshot, ct chain.Type) error {
	if err := sup.Start(ct); err != nil {
		return err
	}
	logger.Info("Node running", "chain", ct.String(), "home", sup.Home())

	for {
		select {
		case <-ctx.Done():
			logger.Info("Received signal, initiating shutdown...")
			return sup.Stop(true)
		case snap := <-status:
			logger.Info("Status",
				"sync", snap.Sync.String(),
				"height", snap.ChainHeight,
				"peers", snap.PeerCount,
				"tx_pool", snap.TxPoolSize,
				"disk_gb", fmt.Sprintf("%.3f", snap.DiskUsageGB),
			)
		}
	}
}
