// Package csn is the compact state node chain state. It keeps the best
// header, the utreexo roots after it and a window of undo records, and moves
// them forward and back as blocks are connected, disconnected and reorged.
package csn

import (
	"errors"
	"fmt"
	"math/bits"
	"sync"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/utreexo/csnode/accumulator"
	"github.com/utreexo/csnode/btcacc"
	"github.com/utreexo/csnode/chaindb"
)

// DefaultMaxReorgDepth is how many undo records are kept by default.
const DefaultMaxReorgDepth = 100

// State is where the chain state is in its life cycle.
type State int32

const (
	StateSynced State = iota
	StateConnecting
	StateDisconnecting
	StateReorganizing
	StateError
)

var stateStrings = map[State]string{
	StateSynced:        "synced",
	StateConnecting:    "connecting",
	StateDisconnecting: "disconnecting",
	StateReorganizing:  "reorganizing",
	StateError:         "error",
}

func (s State) String() string {
	if str, ok := stateStrings[s]; ok {
		return str
	}
	return fmt.Sprintf("unknown state %d", int32(s))
}

// Store persists the chain state. *chaindb.DB implements it.
type Store interface {
	FetchTip() (*chaindb.Tip, error)
	FetchHeader(hash *chainhash.Hash) (*wire.BlockHeader, int32, error)
	FetchHashByHeight(height int32) (*chainhash.Hash, error)
	FetchUndoRecords(from, to int32) ([]*chaindb.UndoRecord, error)
	Apply(u *chaindb.Update) error
}

// Config is what New needs.
type Config struct {
	Params *chaincfg.Params
	Store  Store

	// MaxReorgDepth is how many blocks can be disconnected. Defaults to
	// DefaultMaxReorgDepth.
	MaxReorgDepth int32
}

// BestState is a snapshot of the tip.
type BestState struct {
	Hash      chainhash.Hash
	Header    wire.BlockHeader
	Height    int32
	NumLeaves uint64
	Roots     []accumulator.Hash
	UndoDepth int
	State     State
}

// ChainState is the compact chain state. It is safe for concurrent use:
// mutations are serialized and readers never see a half applied block.
type ChainState struct {
	mtx sync.RWMutex

	params        *chaincfg.Params
	store         Store
	maxReorgDepth int32

	state State
	tip   *tip
}

// New loads the chain state from the store, or starts a new one at the
// genesis block of the network.
func New(cfg *Config) (*ChainState, error) {
	if cfg.Params == nil || cfg.Store == nil {
		return nil, errors.New("csn: config needs params and a store")
	}
	c := &ChainState{
		params:        cfg.Params,
		store:         cfg.Store,
		maxReorgDepth: cfg.MaxReorgDepth,
	}
	if c.maxReorgDepth <= 0 {
		c.maxReorgDepth = DefaultMaxReorgDepth
	}

	dbTip, err := c.store.FetchTip()
	switch {
	case errors.Is(err, chaindb.ErrNotFound):
		genesis := c.params.GenesisBlock.Header
		c.tip = &tip{header: genesis, hash: genesis.BlockHash()}
		err = c.store.Apply(&chaindb.Update{Tip: c.tip.dbTip()})
		if err != nil {
			return nil, err
		}
		log.Infof("new chain state at %s genesis %s", c.params.Name, c.tip.hash)
		return c, nil

	case err != nil:
		return nil, err
	}

	c.tip = &tip{
		header: dbTip.Header,
		hash:   dbTip.Header.BlockHash(),
		height: dbTip.Height,
		stump:  dbTip.Stump(),
	}
	if len(c.tip.stump.Roots) != bits.OnesCount64(c.tip.stump.NumLeaves) {
		return nil, fmt.Errorf("csn: stored tip has %d roots for %d leaves",
			len(c.tip.stump.Roots), c.tip.stump.NumLeaves)
	}
	recs, err := c.store.FetchUndoRecords(
		c.tip.height-c.maxReorgDepth+1, c.tip.height)
	if err != nil {
		return nil, err
	}
	c.tip.undo = contiguousUndo(recs, c.tip.height)
	log.Infof("loaded chain state at height %d %s, %d undo records",
		c.tip.height, c.tip.hash, len(c.tip.undo))
	return c, nil
}

// contiguousUndo keeps the run of records that ends at height with no gaps.
func contiguousUndo(recs []*chaindb.UndoRecord, height int32) []*chaindb.UndoRecord {
	i := len(recs)
	for i > 0 && recs[i-1].Height == height-int32(len(recs)-i) {
		i--
	}
	if i > 0 {
		log.Warnf("dropping %d undo records not leading to the tip", i)
	}
	return recs[i:]
}

// BestSnapshot returns the current tip.
func (c *ChainState) BestSnapshot() *BestState {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return &BestState{
		Hash:      c.tip.hash,
		Header:    c.tip.header,
		Height:    c.tip.height,
		NumLeaves: c.tip.stump.NumLeaves,
		Roots:     append([]accumulator.Hash(nil), c.tip.stump.Roots...),
		UndoDepth: len(c.tip.undo),
		State:     c.state,
	}
}

// Stump returns a copy of the accumulator at the tip.
func (c *ChainState) Stump() accumulator.Stump {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.tip.stump.Clone()
}

// Roots returns the accumulator roots at the tip, tallest tree first.
func (c *ChainState) Roots() []accumulator.Hash {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return append([]accumulator.Hash(nil), c.tip.stump.Roots...)
}

// State returns the life cycle state.
func (c *ChainState) State() State {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.state
}

// VerifyUData checks a proof against the tip without changing anything.
func (c *ChainState) VerifyUData(ud *btcacc.UData) error {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return ud.Verify(&c.tip.stump)
}

// HeaderByHash returns a known header and its height.
func (c *ChainState) HeaderByHash(hash *chainhash.Hash) (*wire.BlockHeader, int32, error) {
	return c.store.FetchHeader(hash)
}

// HashByHeight returns the hash of the main chain block at height.
func (c *ChainState) HashByHeight(height int32) (*chainhash.Hash, error) {
	c.mtx.RLock()
	best := c.tip.height
	c.mtx.RUnlock()
	if height < 0 || height > best {
		return nil, fmt.Errorf("height %d out of range [0, %d]", height, best)
	}
	return c.store.FetchHashByHeight(height)
}
