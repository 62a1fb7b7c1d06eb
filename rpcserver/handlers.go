package rpcserver

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/utreexo/csnode/accumulator"
	"github.com/utreexo/csnode/chaindb"
	"golang.org/x/exp/slices"
)

// GetRootsCmd defines the getroots JSON-RPC command.
type GetRootsCmd struct{}

// GetAccumulatorInfoCmd defines the getaccumulatorinfo JSON-RPC command.
type GetAccumulatorInfoCmd struct{}

// GetRPCInfoCmd defines the getrpcinfo JSON-RPC command.
type GetRPCInfoCmd struct{}

// GetAccumulatorInfoResult models the data from the getaccumulatorinfo
// command.
type GetAccumulatorInfoResult struct {
	Hash      string   `json:"hash"`
	Height    int32    `json:"height"`
	NumLeaves uint64   `json:"numleaves"`
	Roots     []string `json:"roots"`
	UndoDepth int      `json:"undodepth"`
	State     string   `json:"state"`
}

// RPCCommandInfo is one in flight command in the getrpcinfo result.
// Duration is in microseconds.
type RPCCommandInfo struct {
	Method   string `json:"method"`
	Duration int64  `json:"duration"`
}

// GetRPCInfoResult models the data from the getrpcinfo command.
type GetRPCInfoResult struct {
	ActiveCommands []RPCCommandInfo `json:"active_commands"`
	LogPath        string           `json:"logpath"`
}

func init() {
	registerCmd("getroots", (*GetRootsCmd)(nil))
	registerCmd("getaccumulatorinfo", (*GetAccumulatorInfoCmd)(nil))
	registerCmd("getrpcinfo", (*GetRPCInfoCmd)(nil))
}

// registerCmd registers a command that takes no parameters. A method btcjson
// already knows is left as it is; its handler does not look at the command.
func registerCmd(method string, cmd interface{}) {
	err := btcjson.RegisterCmd(method, cmd, btcjson.UsageFlag(0))
	var jerr btcjson.Error
	if errors.As(err, &jerr) && jerr.ErrorCode == btcjson.ErrDuplicateMethod {
		return
	}
	if err != nil {
		panic(fmt.Sprintf("register %s: %v", method, err))
	}
}

type commandHandler func(*Server, interface{}) (interface{}, error)

// rpcHandlers maps RPC command strings to appropriate handler functions.
var rpcHandlers = map[string]commandHandler{
	"getaccumulatorinfo": handleGetAccumulatorInfo,
	"getbestblockhash":   handleGetBestBlockHash,
	"getblockchaininfo":  handleGetBlockChainInfo,
	"getblockcount":      handleGetBlockCount,
	"getblockhash":       handleGetBlockHash,
	"getblockheader":     handleGetBlockHeader,
	"getroots":           handleGetRoots,
	"getrpcinfo":         handleGetRPCInfo,
	"stop":               handleStop,
}

// handleGetBestBlockHash implements the getbestblockhash command.
func handleGetBestBlockHash(s *Server, cmd interface{}) (interface{}, error) {
	best := s.cfg.Chain.BestSnapshot()
	return best.Hash.String(), nil
}

// handleGetBlockCount implements the getblockcount command.
func handleGetBlockCount(s *Server, cmd interface{}) (interface{}, error) {
	best := s.cfg.Chain.BestSnapshot()
	return int64(best.Height), nil
}

// handleGetBlockHash implements the getblockhash command.
func handleGetBlockHash(s *Server, cmd interface{}) (interface{}, error) {
	c := cmd.(*btcjson.GetBlockHashCmd)
	best := s.cfg.Chain.BestSnapshot()
	if c.Index < 0 || c.Index > int64(best.Height) {
		return nil, &btcjson.RPCError{
			Code:    btcjson.ErrRPCOutOfRange,
			Message: "Block number out of range",
		}
	}
	hash, err := s.cfg.Chain.HashByHeight(int32(c.Index))
	if err != nil {
		return nil, err
	}
	return hash.String(), nil
}

// handleGetBlockHeader implements the getblockheader command.
func handleGetBlockHeader(s *Server, cmd interface{}) (interface{}, error) {
	c := cmd.(*btcjson.GetBlockHeaderCmd)

	hash, err := chainhash.NewHashFromStr(c.Hash)
	if err != nil {
		return nil, rpcDecodeHexError(c.Hash)
	}
	header, height, err := s.cfg.Chain.HeaderByHash(hash)
	if errors.Is(err, chaindb.ErrNotFound) {
		return nil, &btcjson.RPCError{
			Code:    btcjson.ErrRPCBlockNotFound,
			Message: "Block not found",
		}
	}
	if err != nil {
		return nil, err
	}

	// When the verbose flag isn't set, simply return the serialized block
	// header as a hex-encoded string.
	if c.Verbose != nil && !*c.Verbose {
		var headerBuf bytes.Buffer
		err := header.Serialize(&headerBuf)
		if err != nil {
			return nil, err
		}
		return hex.EncodeToString(headerBuf.Bytes()), nil
	}

	best := s.cfg.Chain.BestSnapshot()
	confirmations := int64(-1)
	var nextHash string
	if onMain, err := s.onMainChain(hash, height, best.Height); err != nil {
		return nil, err
	} else if onMain {
		confirmations = int64(1 + best.Height - height)
		if height < best.Height {
			next, err := s.cfg.Chain.HashByHeight(height + 1)
			if err != nil {
				return nil, err
			}
			nextHash = next.String()
		}
	}

	var prevHash string
	if height > 0 {
		prevHash = header.PrevBlock.String()
	}
	return &btcjson.GetBlockHeaderVerboseResult{
		Hash:          hash.String(),
		Confirmations: confirmations,
		Height:        height,
		Version:       header.Version,
		VersionHex:    fmt.Sprintf("%08x", header.Version),
		MerkleRoot:    header.MerkleRoot.String(),
		NextHash:      nextHash,
		PreviousHash:  prevHash,
		Nonce:         uint64(header.Nonce),
		Time:          header.Timestamp.Unix(),
		Bits:          strconv.FormatInt(int64(header.Bits), 16),
		Difficulty:    getDifficultyRatio(header.Bits, s.cfg.Params),
	}, nil
}

// onMainChain says if the header at height is the main chain block there.
func (s *Server) onMainChain(hash *chainhash.Hash, height,
	best int32) (bool, error) {

	if height > best {
		return false, nil
	}
	mainHash, err := s.cfg.Chain.HashByHeight(height)
	if errors.Is(err, chaindb.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return *mainHash == *hash, nil
}

// handleGetBlockChainInfo implements the getblockchaininfo command.
func handleGetBlockChainInfo(s *Server, cmd interface{}) (interface{}, error) {
	best := s.cfg.Chain.BestSnapshot()
	return &btcjson.GetBlockChainInfoResult{
		Chain:         s.cfg.Params.Name,
		Blocks:        best.Height,
		Headers:       best.Height,
		BestBlockHash: best.Hash.String(),
		Difficulty:    getDifficultyRatio(best.Header.Bits, s.cfg.Params),
		Pruned:        true,
	}, nil
}

// hexRoots encodes roots, tallest tree first.
func hexRoots(roots []accumulator.Hash) []string {
	hexes := make([]string, len(roots))
	for i, r := range roots {
		hexes[i] = hex.EncodeToString(r[:])
	}
	return hexes
}

// handleGetRoots implements the getroots command.
func handleGetRoots(s *Server, cmd interface{}) (interface{}, error) {
	best := s.cfg.Chain.BestSnapshot()
	return hexRoots(best.Roots), nil
}

// handleGetAccumulatorInfo implements the getaccumulatorinfo command.
func handleGetAccumulatorInfo(s *Server, cmd interface{}) (interface{}, error) {
	best := s.cfg.Chain.BestSnapshot()
	return &GetAccumulatorInfoResult{
		Hash:      best.Hash.String(),
		Height:    best.Height,
		NumLeaves: best.NumLeaves,
		Roots:     hexRoots(best.Roots),
		UndoDepth: best.UndoDepth,
		State:     best.State.String(),
	}, nil
}

// handleGetRPCInfo implements the getrpcinfo command.
func handleGetRPCInfo(s *Server, cmd interface{}) (interface{}, error) {
	s.activeMtx.Lock()
	ids := make([]uint64, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	now := time.Now()
	active := make([]RPCCommandInfo, len(ids))
	for i, id := range ids {
		c := s.active[id]
		active[i] = RPCCommandInfo{
			Method:   c.method,
			Duration: now.Sub(c.start).Microseconds(),
		}
	}
	s.activeMtx.Unlock()

	return &GetRPCInfoResult{
		ActiveCommands: active,
		LogPath:        s.cfg.LogPath,
	}, nil
}

// handleStop implements the stop command.
func handleStop(s *Server, cmd interface{}) (interface{}, error) {
	if s.cfg.Shutdown == nil {
		return nil, btcjson.NewRPCError(btcjson.ErrRPCMisc,
			"stop is not available")
	}
	log.Infof("stop requested over RPC")
	s.cfg.Shutdown()
	return "csnd stopping", nil
}

// rpcDecodeHexError is a convenience function for returning a nicely
// formatted RPC error which indicates the provided hex string failed to
// decode.
func rpcDecodeHexError(gotHex string) *btcjson.RPCError {
	return btcjson.NewRPCError(btcjson.ErrRPCDecodeHexString,
		fmt.Sprintf("Argument must be hexadecimal string (not %q)",
			gotHex))
}

// getDifficultyRatio returns the proof-of-work difficulty as a multiple of
// the minimum difficulty using the passed bits field from the header of a
// block.
func getDifficultyRatio(bits uint32, params *chaincfg.Params) float64 {
	// The minimum difficulty is the max possible proof-of-work limit bits
	// converted back to a number. Note this is not the same as the proof
	// of work limit directly because the block difficulty is encoded in a
	// block with the compact form which loses precision.
	max := blockchain.CompactToBig(params.PowLimitBits)
	target := blockchain.CompactToBig(bits)
	if target.Sign() <= 0 {
		return 0
	}

	difficulty := new(big.Rat).SetFrac(max, target)
	outString := difficulty.FloatString(8)
	diff, err := strconv.ParseFloat(outString, 64)
	if err != nil {
		log.Errorf("Cannot get difficulty: %v", err)
		return 0
	}
	return diff
}
