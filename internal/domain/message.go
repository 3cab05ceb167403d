package domain

import "encoding/json"

// MessageType discriminates cross-unit message envelopes.
type MessageType string

const (
	MsgBatchedOrders  MessageType = "batched_orders"
	MsgResolution     MessageType = "resolution"
	MsgTransfer       MessageType = "transfer"
	MsgBatchConfirmed MessageType = "batch_confirmed"
	MsgBatchRejected  MessageType = "batch_rejected"
	MsgCommitteeVote  MessageType = "committee_vote"
)

// Envelope is the wire format for cross-unit messages. The messaging layer
// delivers envelopes at least once; ordering is preserved per sender only.
// Payload holds the JSON encoding of the typed message body.
type Envelope struct {
	Type     MessageType     `json:"type"`
	MarketID string          `json:"market_id"`
	Payload  json.RawMessage `json:"payload"`
}

// BatchedOrdersMsg is the inbound order-batch message body.
type BatchedOrdersMsg struct {
	Sender string     `json:"sender"`
	Orders []OrderMsg `json:"orders"`
	Nonce  uint64     `json:"nonce"`
}

// OrderMsg is the wire form of a single order.
type OrderMsg struct {
	ID     string    `json:"id"`
	Side   OrderSide `json:"side"`
	Amount Amount    `json:"amount"`
}

// ResolutionMsg is the inbound resolution message body. Signatures are
// hex-encoded on the wire.
type ResolutionMsg struct {
	Outcome    bool       `json:"outcome"`
	Timestamp  int64      `json:"timestamp"`
	OracleKind OracleKind `json:"oracle_kind"`
	Signatures []string   `json:"signatures"`
}

// TransferMsg is the outbound payment pull addressed to an order sender.
type TransferMsg struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount Amount `json:"amount"`
}

// BatchConfirmedMsg acknowledges a fully applied batch.
type BatchConfirmedMsg struct {
	Sender    string   `json:"sender"`
	OrderIDs  []string `json:"order_ids"`
	TotalCost Amount   `json:"total_cost"`
}

// BatchRejectedMsg reports a typed rejection back to the sender instead of a
// generic fault.
type BatchRejectedMsg struct {
	Sender string `json:"sender"`
	Nonce  uint64 `json:"nonce"`
	Reason string `json:"reason"`
}

// VoteMsg is one committee member's signed outcome claim on the wire. The
// signature is hex-encoded; the voter identity is recovered from it on the
// oracle side.
type VoteMsg struct {
	Voter     string `json:"voter"`
	Outcome   bool   `json:"outcome"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"`
}

// NewEnvelope marshals body and wraps it in an Envelope.
func NewEnvelope(typ MessageType, marketID string, body any) (Envelope, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: typ, MarketID: marketID, Payload: raw}, nil
}
