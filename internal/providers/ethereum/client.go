package ethereum

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/feral-file/ff-marketplace/internal/adapter"
	"github.com/feral-file/ff-marketplace/internal/block"
	"github.com/feral-file/ff-marketplace/internal/domain"
	"github.com/feral-file/ff-marketplace/internal/ledger"
	"github.com/feral-file/ff-marketplace/internal/logger"
)

// marketplaceABI covers the read surface and the events of the marketplace contract
const marketplaceABI = `[
	{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"ownerOf","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"tokenURI","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"listings","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"event","name":"Transfer","anonymous":false,"inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"tokenId","type":"uint256","indexed":true}]},
	{"type":"event","name":"Listed","anonymous":false,"inputs":[{"name":"tokenId","type":"uint256","indexed":true},{"name":"price","type":"uint256","indexed":false}]},
	{"type":"event","name":"ListingCancelled","anonymous":false,"inputs":[{"name":"tokenId","type":"uint256","indexed":true}]},
	{"type":"event","name":"Bought","anonymous":false,"inputs":[{"name":"tokenId","type":"uint256","indexed":true},{"name":"buyer","type":"address","indexed":false},{"name":"price","type":"uint256","indexed":false}]}
]`

// Event signatures
var (
	transferEventSignature         = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	listedEventSignature           = crypto.Keccak256Hash([]byte("Listed(uint256,uint256)"))
	listingCancelledEventSignature = crypto.Keccak256Hash([]byte("ListingCancelled(uint256)"))
	boughtEventSignature           = crypto.Keccak256Hash([]byte("Bought(uint256,address,uint256)"))
)

// defaultLogStep is the initial block span of one eth_getLogs request
const defaultLogStep = uint64(1_000_000)

// Config holds the deployed contract coordinates
type Config struct {
	ChainID         domain.Chain
	ContractAddress string
}

// Contract reads marketplace state from a deployed contract and decodes its logs
//
//go:generate mockgen -source=client.go -destination=../../mocks/ethereum_contract.go -package=mocks -mock_names=Contract=MockContract
type Contract interface {
	ledger.Reader

	// ParseLog decodes a marketplace log; logs of other contracts or events yield nil
	ParseLog(ctx context.Context, vLog types.Log) (*domain.LedgerEvent, error)

	// FetchEvents returns the decoded marketplace events within [fromBlock, toBlock]
	FetchEvents(ctx context.Context, fromBlock, toBlock uint64) ([]*domain.LedgerEvent, error)

	// FilterQuery returns the log filter for marketplace events starting at fromBlock
	FilterQuery(fromBlock uint64) ethereum.FilterQuery
}

type contract struct {
	chainID domain.Chain
	address common.Address
	abi     abi.ABI
	client  adapter.EthClient
	blocks  block.Provider
}

// NewContract creates a client for the marketplace contract at cfg.ContractAddress
func NewContract(cfg Config, client adapter.EthClient, blocks block.Provider) (Contract, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("%w: contract address %q", domain.ErrInvalidInput, cfg.ContractAddress)
	}

	parsed, err := abi.JSON(strings.NewReader(marketplaceABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}

	chainID := cfg.ChainID
	if chainID == "" {
		chainID = domain.ChainEthereumSepolia
	}

	return &contract{
		chainID: chainID,
		address: common.HexToAddress(cfg.ContractAddress),
		abi:     parsed,
		client:  client,
		blocks:  blocks,
	}, nil
}

// call packs and executes a read-only contract call
func (c *contract) call(ctx context.Context, method string, args ...interface{}) ([]byte, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	result, err := c.client.CallContract(ctx, ethereum.CallMsg{
		To:   &c.address,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, mapCallError(err))
	}
	return result, nil
}

func (c *contract) TotalSupply(ctx context.Context) (uint64, error) {
	result, err := c.call(ctx, "totalSupply")
	if err != nil {
		return 0, err
	}

	values, err := c.abi.Unpack("totalSupply", result)
	if err != nil {
		return 0, fmt.Errorf("failed to unpack totalSupply: %w", err)
	}
	supply, ok := values[0].(*big.Int)
	if !ok || !supply.IsUint64() {
		return 0, fmt.Errorf("%w: totalSupply out of range", domain.ErrMalformedContent)
	}
	return supply.Uint64(), nil
}

func (c *contract) OwnerOf(ctx context.Context, id domain.TokenID) (string, error) {
	result, err := c.call(ctx, "ownerOf", new(big.Int).SetUint64(uint64(id)))
	if err != nil {
		return "", err
	}

	var owner common.Address
	if err := c.abi.UnpackIntoInterface(&owner, "ownerOf", result); err != nil {
		return "", fmt.Errorf("failed to unpack ownerOf: %w", err)
	}
	return owner.Hex(), nil
}

func (c *contract) TokenURI(ctx context.Context, id domain.TokenID) (string, error) {
	result, err := c.call(ctx, "tokenURI", new(big.Int).SetUint64(uint64(id)))
	if err != nil {
		return "", err
	}

	var uri string
	if err := c.abi.UnpackIntoInterface(&uri, "tokenURI", result); err != nil {
		return "", fmt.Errorf("failed to unpack tokenURI: %w", err)
	}
	return uri, nil
}

func (c *contract) Listings(ctx context.Context, id domain.TokenID) (*big.Int, error) {
	result, err := c.call(ctx, "listings", new(big.Int).SetUint64(uint64(id)))
	if err != nil {
		return nil, err
	}

	values, err := c.abi.Unpack("listings", result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack listings: %w", err)
	}
	price, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: listings result", domain.ErrMalformedContent)
	}
	return price, nil
}

func (c *contract) FilterQuery(fromBlock uint64) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		Addresses: []common.Address{c.address},
		Topics: [][]common.Hash{{
			transferEventSignature,
			listedEventSignature,
			listingCancelledEventSignature,
			boughtEventSignature,
		}},
	}
}

func (c *contract) ParseLog(ctx context.Context, vLog types.Log) (*domain.LedgerEvent, error) {
	if vLog.Address != c.address || len(vLog.Topics) == 0 {
		return nil, nil
	}
	if vLog.Removed {
		// reorged out; the replacement log arrives separately
		logger.WarnCtx(ctx, "Skipping removed log",
			zap.String("txHash", vLog.TxHash.Hex()),
			zap.Uint64("block", vLog.BlockNumber))
		return nil, nil
	}

	event := &domain.LedgerEvent{
		Chain:           c.chainID,
		ContractAddress: c.address.Hex(),
		TxHash:          vLog.TxHash.Hex(),
		BlockNumber:     vLog.BlockNumber,
		TxIndex:         uint64(vLog.Index),
	}

	switch vLog.Topics[0] {
	case transferEventSignature:
		// Transfer(address indexed from, address indexed to, uint256 indexed tokenId)
		if len(vLog.Topics) != 4 {
			return nil, fmt.Errorf("invalid Transfer event: expected 4 topics, got %d", len(vLog.Topics))
		}
		from := common.BytesToAddress(vLog.Topics[1].Bytes()).Hex()
		to := common.BytesToAddress(vLog.Topics[2].Bytes()).Hex()
		event.EventType = domain.EventTypeTransfer
		event.FromAddress = &from
		event.ToAddress = &to
		if err := setTokenID(event, vLog.Topics[3]); err != nil {
			return nil, err
		}

	case listedEventSignature:
		// Listed(uint256 indexed tokenId, uint256 price)
		if len(vLog.Topics) != 2 {
			return nil, fmt.Errorf("invalid Listed event: expected 2 topics, got %d", len(vLog.Topics))
		}
		values, err := c.abi.Unpack("Listed", vLog.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to unpack Listed: %w", err)
		}
		event.EventType = domain.EventTypeListed
		event.Price = values[0].(*big.Int).String()
		if err := setTokenID(event, vLog.Topics[1]); err != nil {
			return nil, err
		}

	case listingCancelledEventSignature:
		// ListingCancelled(uint256 indexed tokenId)
		if len(vLog.Topics) != 2 {
			return nil, fmt.Errorf("invalid ListingCancelled event: expected 2 topics, got %d", len(vLog.Topics))
		}
		event.EventType = domain.EventTypeListingCancelled
		if err := setTokenID(event, vLog.Topics[1]); err != nil {
			return nil, err
		}

	case boughtEventSignature:
		// Bought(uint256 indexed tokenId, address buyer, uint256 price)
		if len(vLog.Topics) != 2 {
			return nil, fmt.Errorf("invalid Bought event: expected 2 topics, got %d", len(vLog.Topics))
		}
		values, err := c.abi.Unpack("Bought", vLog.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to unpack Bought: %w", err)
		}
		buyer := values[0].(common.Address).Hex()
		event.EventType = domain.EventTypeBought
		event.Buyer = &buyer
		event.Price = values[1].(*big.Int).String()
		if err := setTokenID(event, vLog.Topics[1]); err != nil {
			return nil, err
		}

	default:
		return nil, nil
	}

	ts, err := c.blocks.BlockTime(ctx, vLog.BlockNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to get block time: %w", err)
	}
	event.Timestamp = ts
	event.ID = logEventID(ts, vLog)

	return event, nil
}

func (c *contract) FetchEvents(ctx context.Context, fromBlock, toBlock uint64) ([]*domain.LedgerEvent, error) {
	if fromBlock > toBlock {
		return nil, nil
	}

	query := c.FilterQuery(fromBlock)
	query.ToBlock = new(big.Int).SetUint64(toBlock)

	logs, err := c.filterLogsWithPagination(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to filter logs: %w", err)
	}

	events := make([]*domain.LedgerEvent, 0, len(logs))
	for _, vLog := range logs {
		event, err := c.ParseLog(ctx, vLog)
		if err != nil {
			logger.WarnCtx(ctx, "Failed to parse event log", zap.Error(err), zap.String("txHash", vLog.TxHash.Hex()))
			continue
		}
		if event != nil {
			events = append(events, event)
		}
	}
	return events, nil
}

// filterLogsWithPagination walks [FromBlock, ToBlock] in steps, halving the
// step whenever the provider rejects a range as too large
func (c *contract) filterLogsWithPagination(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	from := query.FromBlock.Uint64()
	to := query.ToBlock.Uint64()
	step := defaultLogStep

	var all []types.Log
	for from <= to {
		end := from + step - 1
		if end > to || end < from {
			end = to
		}

		rangeQuery := query
		rangeQuery.FromBlock = new(big.Int).SetUint64(from)
		rangeQuery.ToBlock = new(big.Int).SetUint64(end)

		logs, err := c.client.FilterLogs(ctx, rangeQuery)
		if err != nil {
			if !isTooManyResultsError(err) || step == 1 {
				return nil, fmt.Errorf("failed to get logs for range %d-%d: %w", from, end, err)
			}
			step /= 2
			logger.WarnCtx(ctx, "Too many results, reducing step size",
				zap.Uint64("newStepSize", step),
				zap.Uint64("fromBlock", from))
			continue
		}

		all = append(all, logs...)
		if end == to {
			break
		}
		from = end + 1
	}

	return all, nil
}

// isTooManyResultsError checks if the error is related to too many results
func isTooManyResultsError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "query returned more than 10000 results") ||
		strings.Contains(errStr, "query timeout exceeded") ||
		strings.Contains(errStr, "too many results") ||
		strings.Contains(errStr, "exceeded maximum")
}

// mapCallError translates contract reverts into ledger errors
func mapCallError(err error) error {
	msg := strings.ToLower(err.Error())
	if !strings.Contains(msg, "execution reverted") {
		return err
	}

	switch {
	case strings.Contains(msg, "not owner"):
		return fmt.Errorf("%w: %v", domain.ErrNotOwner, err)
	case strings.Contains(msg, "not listed"):
		return fmt.Errorf("%w: %v", domain.ErrNotListed, err)
	case strings.Contains(msg, "wrong value"):
		return fmt.Errorf("%w: %v", domain.ErrWrongValue, err)
	default:
		// view calls only revert for tokens that were never minted
		return fmt.Errorf("%w: %v", domain.ErrNotFound, err)
	}
}

func setTokenID(event *domain.LedgerEvent, topic common.Hash) error {
	id := new(big.Int).SetBytes(topic.Bytes())
	if !id.IsUint64() {
		return fmt.Errorf("%w: token id %s out of range", domain.ErrInvalidInput, id)
	}
	event.TokenID = domain.TokenID(id.Uint64())
	return nil
}

// logEventID derives a stable ULID from the log position so replays reuse ids
func logEventID(ts time.Time, vLog types.Log) string {
	var index [8]byte
	binary.BigEndian.PutUint64(index[:], uint64(vLog.Index))
	seed := crypto.Keccak256(vLog.BlockHash.Bytes(), vLog.TxHash.Bytes(), index[:])

	var id ulid.ULID
	_ = id.SetTime(ulid.Timestamp(ts))
	_ = id.SetEntropy(seed[:10])
	return id.String()
}
