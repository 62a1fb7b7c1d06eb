// csnd is the compact state node daemon. It keeps the utreexo chain state
// on disk, connects utreexo blocks from an import file and serves the chain
// state over JSON-RPC.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flags "github.com/jessevdk/go-flags"
	"github.com/utreexo/csnode/chaindb"
	"github.com/utreexo/csnode/config"
	"github.com/utreexo/csnode/csn"
	"github.com/utreexo/csnode/log"
	"github.com/utreexo/csnode/rpcserver"
)

const appVersion = "0.1.0"

var csndLog = log.Main()

func csndMain() error {
	cfg, _, err := config.Load(os.Args[1:])
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, err)
			return nil
		}
		return err
	}
	if cfg.ShowVersion {
		fmt.Printf("csnd version %s\n", appVersion)
		return nil
	}

	err = log.InitLogRotator(cfg.LogFile())
	if err != nil {
		return err
	}
	defer log.Close()
	err = log.ParseAndSetDebugLevels(cfg.DebugLevel)
	if err != nil {
		return err
	}
	csndLog.Infof("csnd version %s on %s", appVersion, cfg.Params().Name)

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := chaindb.Open(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("open chain state database: %v", err)
	}
	defer func() {
		csndLog.Infof("Gracefully shutting down the database...")
		db.Close()
	}()

	chain, err := csn.New(&csn.Config{
		Params:        cfg.Params(),
		Store:         db,
		MaxReorgDepth: cfg.MaxReorgDepth,
	})
	if err != nil {
		return err
	}

	if !cfg.DisableRPC {
		server := rpcserver.New(&rpcserver.Config{
			Listen:   cfg.RPCListen,
			Chain:    chain,
			Params:   cfg.Params(),
			LogPath:  cfg.LogFile(),
			Shutdown: stop,
		})
		err = server.Start()
		if err != nil {
			return fmt.Errorf("start RPC server: %v", err)
		}
		defer server.Stop()
	}

	if cfg.ImportFile != "" {
		err = importFile(ctx, chain, cfg.ImportFile, cfg.Params().Net)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	if cfg.DisableRPC {
		return nil
	}

	// a signal or the stop command ends the wait
	<-ctx.Done()
	csndLog.Infof("Shutting down")
	return nil
}

func main() {
	if err := csndMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
