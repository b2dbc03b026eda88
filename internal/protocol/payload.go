package protocol

import "encoding/binary"

// Payload sizes in bytes for the fixed-layout payload types.
const (
	FundsInfoSize  = 4
	EscrowInfoSize = 4
	OrderInfoSize  = 8
	CancelInfoSize = 4
	StatusInfoSize = 28
	NotifyInfoSize = 16
)

// FundsInfo is the payload of DEPOSIT and WITHDRAW requests.
type FundsInfo struct {
	Amount uint32
}

func (p FundsInfo) Encode() []byte {
	b := make([]byte, FundsInfoSize)
	binary.BigEndian.PutUint32(b[0:4], p.Amount)
	return b
}

func DecodeFundsInfo(b []byte) (FundsInfo, error) {
	if len(b) != FundsInfoSize {
		return FundsInfo{}, ErrPayloadSize
	}
	return FundsInfo{Amount: binary.BigEndian.Uint32(b[0:4])}, nil
}

// EscrowInfo is the payload of ESCROW and RELEASE requests.
type EscrowInfo struct {
	Quantity uint32
}

func (p EscrowInfo) Encode() []byte {
	b := make([]byte, EscrowInfoSize)
	binary.BigEndian.PutUint32(b[0:4], p.Quantity)
	return b
}

func DecodeEscrowInfo(b []byte) (EscrowInfo, error) {
	if len(b) != EscrowInfoSize {
		return EscrowInfo{}, ErrPayloadSize
	}
	return EscrowInfo{Quantity: binary.BigEndian.Uint32(b[0:4])}, nil
}

// OrderInfo is the payload of BUY and SELL requests.
type OrderInfo struct {
	Quantity uint32
	Price    uint32
}

func (p OrderInfo) Encode() []byte {
	b := make([]byte, OrderInfoSize)
	binary.BigEndian.PutUint32(b[0:4], p.Quantity)
	binary.BigEndian.PutUint32(b[4:8], p.Price)
	return b
}

func DecodeOrderInfo(b []byte) (OrderInfo, error) {
	if len(b) != OrderInfoSize {
		return OrderInfo{}, ErrPayloadSize
	}
	return OrderInfo{
		Quantity: binary.BigEndian.Uint32(b[0:4]),
		Price:    binary.BigEndian.Uint32(b[4:8]),
	}, nil
}

// CancelInfo is the payload of CANCEL requests.
type CancelInfo struct {
	OrderID uint32
}

func (p CancelInfo) Encode() []byte {
	b := make([]byte, CancelInfoSize)
	binary.BigEndian.PutUint32(b[0:4], p.OrderID)
	return b
}

func DecodeCancelInfo(b []byte) (CancelInfo, error) {
	if len(b) != CancelInfoSize {
		return CancelInfo{}, ErrPayloadSize
	}
	return CancelInfo{OrderID: binary.BigEndian.Uint32(b[0:4])}, nil
}

// StatusInfo is the optional payload of an ACK: the account snapshot,
// the top of the book, and, in replies to BUY, SELL, and CANCEL, the
// order id and quantity concerned.
type StatusInfo struct {
	Balance   uint32
	Inventory uint32
	Bid       uint32 // best resting buy price, 0 if none
	Ask       uint32 // best resting sell price, 0 if none
	Last      uint32 // last trade price, 0 if no trade yet
	OrderID   uint32
	Quantity  uint32
}

func (p StatusInfo) Encode() []byte {
	b := make([]byte, StatusInfoSize)
	binary.BigEndian.PutUint32(b[0:4], p.Balance)
	binary.BigEndian.PutUint32(b[4:8], p.Inventory)
	binary.BigEndian.PutUint32(b[8:12], p.Bid)
	binary.BigEndian.PutUint32(b[12:16], p.Ask)
	binary.BigEndian.PutUint32(b[16:20], p.Last)
	binary.BigEndian.PutUint32(b[20:24], p.OrderID)
	binary.BigEndian.PutUint32(b[24:28], p.Quantity)
	return b
}

func DecodeStatusInfo(b []byte) (StatusInfo, error) {
	if len(b) != StatusInfoSize {
		return StatusInfo{}, ErrPayloadSize
	}
	return StatusInfo{
		Balance:   binary.BigEndian.Uint32(b[0:4]),
		Inventory: binary.BigEndian.Uint32(b[4:8]),
		Bid:       binary.BigEndian.Uint32(b[8:12]),
		Ask:       binary.BigEndian.Uint32(b[12:16]),
		Last:      binary.BigEndian.Uint32(b[16:20]),
		OrderID:   binary.BigEndian.Uint32(b[20:24]),
		Quantity:  binary.BigEndian.Uint32(b[24:28]),
	}, nil
}

// NotifyInfo is the payload of POSTED, CANCELED, BOUGHT, SOLD, and
// TRADED notifications. For a POSTED buy, BuyerID carries the new order
// id and SellerID is zero (symmetric for a sell). For CANCELED, only the
// owning side is non-zero and Price is zero.
type NotifyInfo struct {
	BuyerID  uint32
	SellerID uint32
	Quantity uint32
	Price    uint32
}

func (p NotifyInfo) Encode() []byte {
	b := make([]byte, NotifyInfoSize)
	binary.BigEndian.PutUint32(b[0:4], p.BuyerID)
	binary.BigEndian.PutUint32(b[4:8], p.SellerID)
	binary.BigEndian.PutUint32(b[8:12], p.Quantity)
	binary.BigEndian.PutUint32(b[12:16], p.Price)
	return b
}

func DecodeNotifyInfo(b []byte) (NotifyInfo, error) {
	if len(b) != NotifyInfoSize {
		return NotifyInfo{}, ErrPayloadSize
	}
	return NotifyInfo{
		BuyerID:  binary.BigEndian.Uint32(b[0:4]),
		SellerID: binary.BigEndian.Uint32(b[4:8]),
		Quantity: binary.BigEndian.Uint32(b[8:12]),
		Price:    binary.BigEndian.Uint32(b[12:16]),
	}, nil
}
