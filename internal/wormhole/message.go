// Package wormhole handles the attestation leg of the pipeline: parsing the
// cross-chain message a fulfillment transaction publishes through the core
// bridge, and fetching the guardian-signed proof of it.
package wormhole

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/driftgate/solverbot/internal/domain"
)

// coreBridgeABIJSON covers the only core-bridge surface the solver reads:
// the message publication event.
const coreBridgeABIJSON = `[
  {
    "type": "event",
    "name": "LogMessagePublished",
    "inputs": [
      {"name": "sender", "type": "address", "indexed": true},
      {"name": "sequence", "type": "uint64", "indexed": false},
      {"name": "nonce", "type": "uint32", "indexed": false},
      {"name": "payload", "type": "bytes", "indexed": false},
      {"name": "consistencyLevel", "type": "uint8", "indexed": false}
    ]
  }
]`

var (
	coreBridgeABI       = mustABI(coreBridgeABIJSON)
	messagePublishedTop = coreBridgeABI.Events["LogMessagePublished"].ID
)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("wormhole: parsing embedded ABI: %v", err))
	}
	return parsed
}

// publishedMessage is one decoded LogMessagePublished event.
type publishedMessage struct {
	Sequence uint64
	Payload  []byte
}

func decodePublishedMessage(lg types.Log) (publishedMessage, error) {
	if len(lg.Topics) != 2 || lg.Topics[0] != messagePublishedTop {
		return publishedMessage{}, fmt.Errorf("wormhole: log is not LogMessagePublished")
	}
	var raw struct {
		Sequence         uint64
		Nonce            uint32
		Payload          []byte
		ConsistencyLevel uint8
	}
	if err := coreBridgeABI.UnpackIntoInterface(&raw, "LogMessagePublished", lg.Data); err != nil {
		return publishedMessage{}, fmt.Errorf("wormhole: unpack LogMessagePublished: %w", err)
	}
	return publishedMessage{Sequence: raw.Sequence, Payload: raw.Payload}, nil
}

// PayloadSize is the fixed length of a fulfillment payload.
const PayloadSize = 128

// FulfillmentPayload is the message body published by the fulfillment
// contract. The wire form is four fixed-width big-endian fields:
//
//	[0:32]    order id
//	[32:64]   solver address, universal form
//	[64:96]   recipient address, universal form
//	[96:128]  amount paid, uint256
type FulfillmentPayload struct {
	OrderID   domain.OrderID
	Solver    [32]byte
	Recipient [32]byte
	Amount    *big.Int
}

// Encode serializes the payload into its 128-byte wire form.
func (p FulfillmentPayload) Encode() []byte {
	out := make([]byte, PayloadSize)
	copy(out[0:32], p.OrderID[:])
	copy(out[32:64], p.Solver[:])
	copy(out[64:96], p.Recipient[:])
	p.Amount.FillBytes(out[96:128])
	return out
}

// DecodeFulfillmentPayload parses the 128-byte wire form. Any other length is
// rejected outright.
func DecodeFulfillmentPayload(raw []byte) (FulfillmentPayload, error) {
	var p FulfillmentPayload
	if len(raw) != PayloadSize {
		return p, fmt.Errorf("wormhole: payload must be %d bytes, got %d", PayloadSize, len(raw))
	}
	copy(p.OrderID[:], raw[0:32])
	copy(p.Solver[:], raw[32:64])
	copy(p.Recipient[:], raw[64:96])
	p.Amount = new(big.Int).SetBytes(raw[96:128])
	return p, nil
}

// universalFromHex decodes a 20- or 32-byte hex address into universal
// 32-byte form, EVM addresses left-padded.
func universalFromHex(addr string) ([32]byte, error) {
	var out [32]byte
	raw := common.FromHex(addr)
	switch len(raw) {
	case 20:
		copy(out[12:], raw)
	case 32:
		copy(out[:], raw)
	default:
		return out, fmt.Errorf("wormhole: address %q is neither 20 nor 32 bytes", addr)
	}
	return out, nil
}
