// Package blocks holds the block data handed to indexer handlers and the
// source that pages it in from a node.
package blocks

import (
	"encoding/json"
	"fmt"
)

// BlockData is one block as handlers see it.
type BlockData struct {
	Height       uint64            `json:"height"`
	ID           string            `json:"id"`
	Time         int64             `json:"time"`
	Producer     *string           `json:"producer,omitempty"`
	Header       Header            `json:"header"`
	Consensus    Consensus         `json:"consensus"`
	Transactions []TransactionData `json:"transactions"`
}

// Header carries the block header fields.
type Header struct {
	ID                  string `json:"id"`
	DAHeight            uint64 `json:"da_height"`
	TransactionsCount   uint64 `json:"transactions_count"`
	MessageReceiptCount uint64 `json:"message_receipt_count"`
	TransactionsRoot    string `json:"transactions_root"`
	MessageReceiptRoot  string `json:"message_receipt_root"`
	Height              uint64 `json:"height"`
	PrevRoot            string `json:"prev_root"`
	Time                int64  `json:"time"`
	ApplicationHash     string `json:"application_hash"`
}

// ConsensusKind tags the consensus variant of a block.
type ConsensusKind string

const (
	ConsensusUnknown ConsensusKind = "unknown"
	ConsensusGenesis ConsensusKind = "genesis"
	ConsensusPoA     ConsensusKind = "poa"
)

// Consensus is the block's consensus metadata. Signature is set for PoA
// blocks only.
type Consensus struct {
	Kind      ConsensusKind `json:"kind"`
	Signature string        `json:"signature,omitempty"`
}

// UnmarshalJSON defaults an empty kind to unknown and rejects unknown kinds.
func (c *Consensus) UnmarshalJSON(data []byte) error {
	type plain Consensus
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	switch p.Kind {
	case "":
		p.Kind = ConsensusUnknown
	case ConsensusUnknown, ConsensusGenesis, ConsensusPoA:
	default:
		return fmt.Errorf("unknown consensus kind %q", p.Kind)
	}
	if p.Kind == ConsensusPoA && p.Signature == "" {
		return fmt.Errorf("poa consensus without signature")
	}
	*c = Consensus(p)
	return nil
}

// TransactionData is one transaction with its decoded receipts.
type TransactionData struct {
	ID       string            `json:"id"`
	Status   TransactionStatus `json:"status"`
	Receipts Receipts          `json:"receipts"`
}

// StatusKind tags a transaction status.
type StatusKind string

const (
	StatusSubmitted StatusKind = "submitted"
	StatusSuccess   StatusKind = "success"
	StatusSqueezed  StatusKind = "squeezed_out"
	StatusFailure   StatusKind = "failure"
)

// TransactionStatus records how a transaction ended.
type TransactionStatus struct {
	Kind         StatusKind    `json:"kind"`
	Block        uint64        `json:"block,omitempty"`
	Time         uint64        `json:"time,omitempty"`
	Reason       string        `json:"reason,omitempty"`
	ProgramState *ProgramState `json:"program_state,omitempty"`
}

// ReturnType is how a script finished.
type ReturnType string

const (
	ReturnTypeReturn     ReturnType = "return"
	ReturnTypeReturnData ReturnType = "return_data"
	ReturnTypeRevert     ReturnType = "revert"
)

// ProgramState is the final state of a script transaction. Data is hex.
type ProgramState struct {
	ReturnType ReturnType `json:"return_type"`
	Data       string     `json:"data"`
}

// Heights returns the heights of a batch in order.
func Heights(batch []BlockData) []uint64 {
	out := make([]uint64, len(batch))
	for i, b := range batch {
		out[i] = b.Height
	}
	return out
}
