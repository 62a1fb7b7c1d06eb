package csn

import (
	"math/big"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/utreexo/csnode/chaindb"
	uwire "github.com/utreexo/csnode/wire"
)

// begin moves the chain state into s for a mutation. Must hold the write
// lock.
func (c *ChainState) begin(s State) error {
	if c.state == StateError {
		return chainError(ErrUnusableState, nil,
			"chain state hit a fatal error at %s height %d",
			c.tip.hash, c.tip.height)
	}
	c.state = s
	return nil
}

func (c *ChainState) end() {
	if c.state != StateError {
		c.state = StateSynced
	}
}

// fail records a fatal error. The live tip is kept as it was before the
// failed mutation so it can still be read.
func (c *ChainState) fail(err error) error {
	if IsFatal(err) {
		log.Errorf("chain state unusable: %v", err)
		c.state = StateError
	}
	return err
}

// ConnectBlock validates ub against the tip and makes it the new tip. On
// any error the chain state is unchanged.
func (c *ChainState) ConnectBlock(ub *uwire.UBlock) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	err := c.begin(StateConnecting)
	if err != nil {
		return err
	}
	defer c.end()

	next := c.tip.clone()
	rec, err := next.connect(ub)
	if err != nil {
		return c.fail(err)
	}
	evicted := next.trimUndo(c.maxReorgDepth)
	err = c.store.Apply(&chaindb.Update{
		Tip:     next.dbTip(),
		Connect: []*chaindb.UndoRecord{rec},
		Evict:   evicted,
	})
	if err != nil {
		return err
	}
	c.tip = next

	if next.height%1000 == 0 {
		log.Infof("height %d %s, %d leaves", next.height, next.hash,
			next.stump.NumLeaves)
	}
	return nil
}

// DisconnectBlock takes the tip block off using its undo record.
func (c *ChainState) DisconnectBlock() error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	err := c.begin(StateDisconnecting)
	if err != nil {
		return err
	}
	defer c.end()

	next := c.tip.clone()
	rec, err := next.disconnect(c.store.FetchHeader)
	if err != nil {
		return c.fail(err)
	}
	err = c.store.Apply(&chaindb.Update{
		Tip:        next.dbTip(),
		Disconnect: []int32{rec.Height},
	})
	if err != nil {
		return err
	}
	c.tip = next
	return nil
}

// forkPoint finds where a branch building on prev leaves the main chain.
// It returns how many tip blocks have to be disconnected.
func (t *tip) forkPoint(prev *chainhash.Hash) (int, bool) {
	if *prev == t.hash {
		return 0, true
	}
	for i := len(t.undo) - 1; i >= 0; i-- {
		if t.undo[i].Header.PrevBlock == *prev {
			return len(t.undo) - i, true
		}
	}
	return 0, false
}

// Reorg replaces the tip blocks after the fork point of branch with branch.
// The branch has to fork inside the undo window and carry more work than
// the blocks it replaces. Either the whole branch is connected or the chain
// state is unchanged.
func (c *ChainState) Reorg(branch []*uwire.UBlock) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	err := c.begin(StateReorganizing)
	if err != nil {
		return err
	}
	defer c.end()

	if len(branch) == 0 {
		return chainError(ErrMalformedBlock, nil, "empty reorg branch")
	}
	forkHash := branch[0].Block.Header.PrevBlock
	detach, ok := c.tip.forkPoint(&forkHash)
	if !ok {
		return chainError(ErrUnknownForkPoint, nil,
			"branch forks from %s, not within the last %d blocks",
			forkHash, len(c.tip.undo))
	}

	oldWork := new(big.Int)
	for _, rec := range c.tip.undo[len(c.tip.undo)-detach:] {
		oldWork.Add(oldWork, blockchain.CalcWork(rec.Header.Bits))
	}
	newWork := new(big.Int)
	for _, ub := range branch {
		newWork.Add(newWork, blockchain.CalcWork(ub.Block.Header.Bits))
	}
	if newWork.Cmp(oldWork) <= 0 {
		return chainError(ErrInsufficientWork, nil,
			"branch of %d blocks has work %s, replaced %d blocks have %s",
			len(branch), newWork, detach, oldWork)
	}

	log.Infof("reorg at height %d: %d blocks off, %d on", c.tip.height,
		detach, len(branch))

	next := c.tip.clone()
	detached := make([]*chaindb.UndoRecord, 0, detach)
	for i := 0; i < detach; i++ {
		rec, err := next.disconnect(c.store.FetchHeader)
		if err != nil {
			return c.fail(err)
		}
		detached = append(detached, rec)
	}

	connected := make([]*chaindb.UndoRecord, 0, len(branch))
	for _, ub := range branch {
		rec, err := next.connect(ub)
		if err != nil {
			log.Warnf("reorg branch block %s rejected: %v", ub.Hash(), err)
			return c.rollback(next, len(connected), detached, err)
		}
		connected = append(connected, rec)
	}

	disconnect := make([]int32, len(detached))
	for i, rec := range detached {
		disconnect[i] = rec.Height
	}
	evicted := next.trimUndo(c.maxReorgDepth)
	err = c.store.Apply(&chaindb.Update{
		Tip:        next.dbTip(),
		Disconnect: disconnect,
		Connect:    connected,
		Evict:      evicted,
	})
	if err != nil {
		return err
	}
	c.tip = next
	log.Infof("reorg done, tip %s height %d", next.hash, next.height)
	return nil
}

// rollback takes a failed reorg back to the tip it started from: the
// attached branch blocks come off and the detached blocks go back on. The
// result has to match the live tip exactly.
func (c *ChainState) rollback(t *tip, attached int,
	detached []*chaindb.UndoRecord, cause error) error {

	for i := 0; i < attached; i++ {
		_, err := t.disconnect(c.store.FetchHeader)
		if err != nil {
			return c.fail(chainError(ErrUndoInconsistent, err,
				"rolling back reorg"))
		}
	}
	for i := len(detached) - 1; i >= 0; i-- {
		err := t.redo(detached[i])
		if err != nil {
			return c.fail(chainError(ErrUndoInconsistent, err,
				"rolling back reorg"))
		}
	}
	if !t.same(c.tip) {
		return c.fail(chainError(ErrUndoInconsistent, nil,
			"reorg rollback ended at %s height %d, started at %s height %d",
			t.hash, t.height, c.tip.hash, c.tip.height))
	}
	return cause
}
