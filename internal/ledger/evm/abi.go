package evm

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/driftgate/solverbot/internal/domain"
)

// orderBookABIJSON covers the source-ledger order contract: the OrderCreated
// event and the settle entry point. Recipient addresses are 32-byte universal
// addresses so non-EVM destination ledgers fit the same event shape.
const orderBookABIJSON = `[
  {
    "type": "event",
    "name": "OrderCreated",
    "inputs": [
      {"name": "orderId", "type": "bytes32", "indexed": true},
      {"name": "depositor", "type": "address", "indexed": true},
      {"name": "recipient", "type": "bytes32", "indexed": false},
      {"name": "inputAmount", "type": "uint256", "indexed": false},
      {"name": "startPrice", "type": "uint256", "indexed": false},
      {"name": "floorPrice", "type": "uint256", "indexed": false},
      {"name": "startTime", "type": "uint64", "indexed": false},
      {"name": "duration", "type": "uint64", "indexed": false}
    ]
  },
  {
    "type": "function",
    "name": "settle",
    "stateMutability": "nonpayable",
    "inputs": [{"name": "encodedVaa", "type": "bytes"}],
    "outputs": []
  }
]`

// fulfillABIJSON covers the destination-ledger fulfillment contract. The
// payment travels as native value on the call.
const fulfillABIJSON = `[
  {
    "type": "function",
    "name": "fulfill",
    "stateMutability": "payable",
    "inputs": [
      {"name": "orderId", "type": "bytes32"},
      {"name": "recipient", "type": "bytes32"},
      {"name": "solver", "type": "bytes32"}
    ],
    "outputs": []
  }
]`

var (
	orderBookABI = mustABI(orderBookABIJSON)
	fulfillABI   = mustABI(fulfillABIJSON)

	orderCreatedTopic = orderBookABI.Events["OrderCreated"].ID
)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("evm: parsing embedded ABI: %v", err))
	}
	return parsed
}

// decodeOrderCreated unpacks one OrderCreated log into a domain order event.
func decodeOrderCreated(lg types.Log) (domain.OrderEvent, error) {
	if len(lg.Topics) != 3 || lg.Topics[0] != orderCreatedTopic {
		return domain.OrderEvent{}, fmt.Errorf("evm: log is not OrderCreated")
	}

	var raw struct {
		Recipient   [32]byte
		InputAmount *big.Int
		StartPrice  *big.Int
		FloorPrice  *big.Int
		StartTime   uint64
		Duration    uint64
	}
	if err := orderBookABI.UnpackIntoInterface(&raw, "OrderCreated", lg.Data); err != nil {
		return domain.OrderEvent{}, fmt.Errorf("evm: unpack OrderCreated: %w", err)
	}

	order := domain.Order{
		ID:           domain.OrderID(lg.Topics[1]),
		Depositor:    common.BytesToAddress(lg.Topics[2].Bytes()).Hex(),
		Recipient:    universalToAddress(raw.Recipient).Hex(),
		InputAmount:  raw.InputAmount,
		StartPrice:   raw.StartPrice,
		FloorPrice:   raw.FloorPrice,
		StartTime:    raw.StartTime,
		Duration:     raw.Duration,
		State:        domain.StateOpen,
		CreatedBlock: lg.BlockNumber,
	}
	if err := order.Validate(); err != nil {
		return domain.OrderEvent{}, err
	}

	return domain.OrderEvent{
		Order:       order,
		BlockNumber: lg.BlockNumber,
		TxHash:      lg.TxHash.Hex(),
	}, nil
}

// addressToUniversal left-pads a 20-byte EVM address to the 32-byte universal
// address form used in cross-chain payloads.
func addressToUniversal(addr common.Address) [32]byte {
	var out [32]byte
	copy(out[12:], addr.Bytes())
	return out
}

// universalToAddress truncates a 32-byte universal address to its EVM form.
func universalToAddress(u [32]byte) common.Address {
	return common.BytesToAddress(u[12:])
}
