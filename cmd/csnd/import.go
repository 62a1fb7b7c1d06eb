package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/utreexo/csnode/csn"
	uwire "github.com/utreexo/csnode/wire"
)

// importFile connects the ublocks in path. Blocks already in the chain are
// skipped and blocks building on the tip are connected. Other blocks are
// gathered into a branch, each one extending the previous, which replaces
// the tip blocks once it has more work. A block that extends neither starts
// a new branch.
func importFile(ctx context.Context, chain *csn.ChainState, path string,
	net wire.BitcoinNet) error {

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := uwire.NewUBlockReader(f, net)
	start := time.Now()
	var connected, skipped, dropped int
	var branch []*uwire.UBlock
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		ub, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		if known(chain, ub) {
			skipped++
			continue
		}

		prev := ub.Block.Header.PrevBlock
		if prev == chain.BestSnapshot().Hash {
			err = chain.ConnectBlock(ub)
			if err != nil {
				return fmt.Errorf("block %s: %w", ub.Hash(), err)
			}
			connected++
			continue
		}

		if len(branch) > 0 && prev == branch[len(branch)-1].Hash() {
			branch = append(branch, ub)
		} else {
			if len(branch) > 0 {
				csndLog.Debugf("dropping weaker branch of %d blocks ending "+
					"in %s", len(branch), branch[len(branch)-1].Hash())
				dropped += len(branch)
			}
			branch = []*uwire.UBlock{ub}
		}
		err = chain.Reorg(branch)
		switch {
		case err == nil:
			connected += len(branch)
			branch = nil
		case errors.Is(err, csn.ErrInsufficientWork):
			// wait for more of the branch
		default:
			return fmt.Errorf("branch of %d blocks ending in %s: %w",
				len(branch), ub.Hash(), err)
		}
	}

	best := chain.BestSnapshot()
	csndLog.Infof("Imported %d blocks (%d already known, %d left on "+
		"weaker branches) in %s, tip %s height %d", connected, skipped,
		dropped+len(branch), time.Since(start).Round(time.Millisecond),
		best.Hash, best.Height)
	return nil
}

// known says if ub is already a main chain block.
func known(chain *csn.ChainState, ub *uwire.UBlock) bool {
	hash, err := chain.HashByHeight(ub.UtreexoData.Height)
	return err == nil && *hash == ub.Hash()
}
