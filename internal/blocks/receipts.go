package blocks

import (
	"encoding/json"
	"fmt"
)

// ReceiptType is the JSON discriminator of a receipt.
type ReceiptType string

const (
	ReceiptCall         ReceiptType = "call"
	ReceiptReturn       ReceiptType = "return"
	ReceiptReturnData   ReceiptType = "return_data"
	ReceiptPanic        ReceiptType = "panic"
	ReceiptRevert       ReceiptType = "revert"
	ReceiptLog          ReceiptType = "log"
	ReceiptLogData      ReceiptType = "log_data"
	ReceiptTransfer     ReceiptType = "transfer"
	ReceiptTransferOut  ReceiptType = "transfer_out"
	ReceiptScriptResult ReceiptType = "script_result"
	ReceiptMessageOut   ReceiptType = "message_out"
	ReceiptMint         ReceiptType = "mint"
	ReceiptBurn         ReceiptType = "burn"
)

// Receipt is one decoded receipt. The concrete types below are the only
// implementations.
type Receipt interface {
	Type() ReceiptType
}

type Call struct {
	ID      string `json:"id"`
	To      string `json:"to"`
	Amount  uint64 `json:"amount"`
	AssetID string `json:"asset_id"`
	Gas     uint64 `json:"gas"`
	Param1  uint64 `json:"param1"`
	Param2  uint64 `json:"param2"`
	PC      uint64 `json:"pc"`
	IS      uint64 `json:"is"`
}

type Return struct {
	ID  string `json:"id"`
	Val uint64 `json:"val"`
	PC  uint64 `json:"pc"`
	IS  uint64 `json:"is"`
}

type ReturnData struct {
	ID     string `json:"id"`
	Ptr    uint64 `json:"ptr"`
	Len    uint64 `json:"len"`
	Digest string `json:"digest"`
	Data   []byte `json:"data"`
	PC     uint64 `json:"pc"`
	IS     uint64 `json:"is"`
}

type Panic struct {
	ID         string  `json:"id"`
	Reason     uint64  `json:"reason"`
	PC         uint64  `json:"pc"`
	IS         uint64  `json:"is"`
	ContractID *string `json:"contract_id,omitempty"`
}

type Revert struct {
	ID string `json:"id"`
	RA uint64 `json:"ra"`
	PC uint64 `json:"pc"`
	IS uint64 `json:"is"`
}

type Log struct {
	ID string `json:"id"`
	RA uint64 `json:"ra"`
	RB uint64 `json:"rb"`
	RC uint64 `json:"rc"`
	RD uint64 `json:"rd"`
	PC uint64 `json:"pc"`
	IS uint64 `json:"is"`
}

type LogData struct {
	ID     string `json:"id"`
	RA     uint64 `json:"ra"`
	RB     uint64 `json:"rb"`
	Ptr    uint64 `json:"ptr"`
	Len    uint64 `json:"len"`
	Digest string `json:"digest"`
	Data   []byte `json:"data"`
	PC     uint64 `json:"pc"`
	IS     uint64 `json:"is"`
}

// Transfer moves coins to a contract.
type Transfer struct {
	ID      string `json:"id"`
	To      string `json:"to"`
	Amount  uint64 `json:"amount"`
	AssetID string `json:"asset_id"`
	PC      uint64 `json:"pc"`
	IS      uint64 `json:"is"`
}

// TransferOut moves coins to an address.
type TransferOut struct {
	ID      string `json:"id"`
	To      string `json:"to"`
	Amount  uint64 `json:"amount"`
	AssetID string `json:"asset_id"`
	PC      uint64 `json:"pc"`
	IS      uint64 `json:"is"`
}

type ScriptResult struct {
	Result  uint64 `json:"result"`
	GasUsed uint64 `json:"gas_used"`
}

type MessageOut struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Amount    uint64 `json:"amount"`
	Nonce     string `json:"nonce"`
	Len       uint64 `json:"len"`
	Digest    string `json:"digest"`
	Data      []byte `json:"data"`
}

type Mint struct {
	SubID      string `json:"sub_id"`
	ContractID string `json:"contract_id"`
	Val        uint64 `json:"val"`
	PC         uint64 `json:"pc"`
	IS         uint64 `json:"is"`
}

type Burn struct {
	SubID      string `json:"sub_id"`
	ContractID string `json:"contract_id"`
	Val        uint64 `json:"val"`
	PC         uint64 `json:"pc"`
	IS         uint64 `json:"is"`
}

func (Call) Type() ReceiptType         { return ReceiptCall }
func (Return) Type() ReceiptType       { return ReceiptReturn }
func (ReturnData) Type() ReceiptType   { return ReceiptReturnData }
func (Panic) Type() ReceiptType        { return ReceiptPanic }
func (Revert) Type() ReceiptType       { return ReceiptRevert }
func (Log) Type() ReceiptType          { return ReceiptLog }
func (LogData) Type() ReceiptType      { return ReceiptLogData }
func (Transfer) Type() ReceiptType     { return ReceiptTransfer }
func (TransferOut) Type() ReceiptType  { return ReceiptTransferOut }
func (ScriptResult) Type() ReceiptType { return ReceiptScriptResult }
func (MessageOut) Type() ReceiptType   { return ReceiptMessageOut }
func (Mint) Type() ReceiptType         { return ReceiptMint }
func (Burn) Type() ReceiptType         { return ReceiptBurn }

// newReceipt returns a pointer to the zero receipt of a type.
func newReceipt(t ReceiptType) (Receipt, error) {
	switch t {
	case ReceiptCall:
		return &Call{}, nil
	case ReceiptReturn:
		return &Return{}, nil
	case ReceiptReturnData:
		return &ReturnData{}, nil
	case ReceiptPanic:
		return &Panic{}, nil
	case ReceiptRevert:
		return &Revert{}, nil
	case ReceiptLog:
		return &Log{}, nil
	case ReceiptLogData:
		return &LogData{}, nil
	case ReceiptTransfer:
		return &Transfer{}, nil
	case ReceiptTransferOut:
		return &TransferOut{}, nil
	case ReceiptScriptResult:
		return &ScriptResult{}, nil
	case ReceiptMessageOut:
		return &MessageOut{}, nil
	case ReceiptMint:
		return &Mint{}, nil
	case ReceiptBurn:
		return &Burn{}, nil
	default:
		return nil, fmt.Errorf("unknown receipt type %q", t)
	}
}

// Receipts encodes as a JSON array of objects tagged with "type".
type Receipts []Receipt

func (r Receipts) MarshalJSON() ([]byte, error) {
	out := make([]json.RawMessage, len(r))
	for i, receipt := range r {
		raw, err := marshalReceipt(receipt)
		if err != nil {
			return nil, fmt.Errorf("receipt %d: %w", i, err)
		}
		out[i] = raw
	}
	return json.Marshal(out)
}

func (r *Receipts) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	out := make(Receipts, len(raws))
	for i, raw := range raws {
		receipt, err := unmarshalReceipt(raw)
		if err != nil {
			return fmt.Errorf("receipt %d: %w", i, err)
		}
		out[i] = receipt
	}
	*r = out
	return nil
}

func marshalReceipt(r Receipt) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("nil receipt")
	}
	body, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	tag, err := json.Marshal(r.Type())
	if err != nil {
		return nil, err
	}
	fields["type"] = tag
	return json.Marshal(fields)
}

// unmarshalReceipt decodes one tagged receipt into its value type.
func unmarshalReceipt(raw json.RawMessage) (Receipt, error) {
	var tag struct {
		Type ReceiptType `json:"type"`
	}
	if err := json.Unmarshal(raw, &tag); err != nil {
		return nil, err
	}
	ptr, err := newReceipt(tag.Type)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, ptr); err != nil {
		return nil, err
	}
	return deref(ptr), nil
}

func deref(r Receipt) Receipt {
	switch v := r.(type) {
	case *Call:
		return *v
	case *Return:
		return *v
	case *ReturnData:
		return *v
	case *Panic:
		return *v
	case *Revert:
		return *v
	case *Log:
		return *v
	case *LogData:
		return *v
	case *Transfer:
		return *v
	case *TransferOut:
		return *v
	case *ScriptResult:
		return *v
	case *MessageOut:
		return *v
	case *Mint:
		return *v
	case *Burn:
		return *v
	}
	return r
}
