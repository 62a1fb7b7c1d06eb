// bridgegen runs a bridge node over a synthetic chain and writes the utreexo
// blocks it produces to a file csnd can import.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"math/rand"
	"os"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btclog"
	flags "github.com/jessevdk/go-flags"
	"github.com/utreexo/csnode/bridgenode"
	uwire "github.com/utreexo/csnode/wire"
)

type options struct {
	Out       string `short:"o" long:"out" description:"File to write the utreexo blocks to" required:"true"`
	Blocks    int    `short:"n" long:"blocks" default:"100" description:"Number of blocks on the main chain"`
	Spends    int    `long:"spends" default:"10" description:"Most inputs per block"`
	Seed      int64  `long:"seed" default:"1" description:"Random seed"`
	ForkDepth int    `long:"forkdepth" description:"Finish with a branch replacing this many tip blocks"`
	SimNet    bool   `long:"simnet" description:"Use the simulation test network instead of regtest"`
	Verbose   bool   `short:"v" long:"verbose" description:"Log every block"`
}

func run(opts *options) error {
	if opts.Spends < 0 {
		return fmt.Errorf("spends %d is negative", opts.Spends)
	}
	if opts.ForkDepth < 0 || opts.ForkDepth > opts.Blocks {
		return fmt.Errorf("forkdepth %d out of range [0, %d]", opts.ForkDepth,
			opts.Blocks)
	}
	params := &chaincfg.RegressionNetParams
	if opts.SimNet {
		params = &chaincfg.SimNetParams
	}

	backend := btclog.NewBackend(os.Stdout)
	logger := backend.Logger("BRDG")
	if opts.Verbose {
		logger.SetLevel(btclog.LevelDebug)
	}
	bridgenode.UseLogger(logger)

	f, err := os.Create(opts.Out)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)

	rng := rand.New(rand.NewSource(opts.Seed))
	b := bridgenode.New(params)
	var written int
	write := func(n int, tag uint32) error {
		for i := 0; i < n; i++ {
			blk := b.NextBlock(rng, rng.Intn(opts.Spends+1), tag)
			ub, err := b.ProcessBlock(blk)
			if err != nil {
				return err
			}
			err = uwire.WriteUBlockRecord(w, params.Net, ub)
			if err != nil {
				return err
			}
			written++
		}
		return nil
	}

	err = write(opts.Blocks, 0)
	if err != nil {
		return err
	}
	if opts.ForkDepth > 0 {
		for i := 0; i < opts.ForkDepth; i++ {
			err = b.Undo()
			if err != nil {
				return err
			}
		}
		err = write(opts.ForkDepth+1, 1)
		if err != nil {
			return err
		}
	}
	err = b.Sanity()
	if err != nil {
		return err
	}

	logger.Infof("wrote %d blocks to %s, tip %s height %d, %d utxos",
		written, opts.Out, b.TipHash(), b.Height(), b.NumUtxos())
	return w.Flush()
}

func main() {
	var opts options
	_, err := flags.Parse(&opts)
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
	if err := run(&opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
