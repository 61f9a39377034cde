// Package record defines the permission and limit records the engine
// persists, and their wire codec.
//
// Records form a closed set tagged by Kind. Each record is persisted as a
// fixed-width binary blob: one tag byte followed by the record's fields in
// big-endian order. Stores validate the tag on read, so a lookup that hits
// a record of the wrong shape fails loudly instead of misdecoding.
package record

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/mbd888/pullpay/internal/identity"
)

// Kind tags a record type on the wire and in the composite key.
type Kind uint8

const (
	KindGlobalState Kind = iota + 1
	KindMerchantManager
	KindMerchantDebitor
	KindMerchantDestination
	KindUserDelegate
)

func (k Kind) String() string {
	switch k {
	case KindGlobalState:
		return "global_state"
	case KindMerchantManager:
		return "merchant_manager"
	case KindMerchantDebitor:
		return "merchant_debitor"
	case KindMerchantDestination:
		return "merchant_destination"
	case KindUserDelegate:
		return "user_delegate"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

var (
	ErrUnknownKind = errors.New("record: unknown record kind")
	ErrMalformed   = errors.New("record: malformed encoding")
)

// Record is the closed set of persisted record types.
type Record interface {
	Kind() Kind
	MarshalBinary() ([]byte, error)
}

// GlobalState is the singleton configuration record. It holds the
// administrator identity and a version tag bumped on every admin rotation.
type GlobalState struct {
	Admin   identity.Identity
	Version uint8
}

// MerchantManager maps a merchant to the identity allowed to configure its
// debitors and holder limits. Written only by the administrator.
type MerchantManager struct {
	Manager identity.Identity
}

// MerchantDebitor marks whether an identity may initiate debits for a
// (merchant, token) pair. Written only by the merchant's manager.
type MerchantDebitor struct {
	Allowed bool
}

// MerchantDestination marks whether an account may receive debited funds
// for a (merchant, token) pair. Written only by the administrator.
type MerchantDestination struct {
	Allowed bool
}

// UserDelegate holds the spending limits a manager configured for one
// (merchant, token, holder) triple, plus the rolling-window tracking state.
// The three tracking fields are mutated only by the limit tracker during a
// debit; the limits only by the manager.
type UserDelegate struct {
	PerTransferLimit           uint64
	PeriodTransferLimit        uint64
	PeriodTransferredAmount    uint64
	PeriodTimestampLastReset   uint64
	TransferLimitPeriodSeconds uint32
	SlotLastTransferred        uint64
}

func (*GlobalState) Kind() Kind         { return KindGlobalState }
func (*MerchantManager) Kind() Kind     { return KindMerchantManager }
func (*MerchantDebitor) Kind() Kind     { return KindMerchantDebitor }
func (*MerchantDestination) Kind() Kind { return KindMerchantDestination }
func (*UserDelegate) Kind() Kind        { return KindUserDelegate }

// Encoded sizes, tag byte included.
const (
	globalStateSize    = 1 + identity.Size + 1
	managerSize        = 1 + identity.Size
	allowedSize        = 1 + 1
	userDelegateSize   = 1 + 8 + 8 + 8 + 8 + 4 + 8
)

func (r *GlobalState) MarshalBinary() ([]byte, error) {
	buf := make([]byte, globalStateSize)
	buf[0] = byte(KindGlobalState)
	copy(buf[1:], r.Admin[:])
	buf[1+identity.Size] = r.Version
	return buf, nil
}

func (r *MerchantManager) MarshalBinary() ([]byte, error) {
	buf := make([]byte, managerSize)
	buf[0] = byte(KindMerchantManager)
	copy(buf[1:], r.Manager[:])
	return buf, nil
}

func (r *MerchantDebitor) MarshalBinary() ([]byte, error) {
	return marshalAllowed(KindMerchantDebitor, r.Allowed), nil
}

func (r *MerchantDestination) MarshalBinary() ([]byte, error) {
	return marshalAllowed(KindMerchantDestination, r.Allowed), nil
}

func marshalAllowed(k Kind, allowed bool) []byte {
	buf := make([]byte, allowedSize)
	buf[0] = byte(k)
	if allowed {
		buf[1] = 1
	}
	return buf
}

func (r *UserDelegate) MarshalBinary() ([]byte, error) {
	buf := make([]byte, userDelegateSize)
	buf[0] = byte(KindUserDelegate)
	binary.BigEndian.PutUint64(buf[1:], r.PerTransferLimit)
	binary.BigEndian.PutUint64(buf[9:], r.PeriodTransferLimit)
	binary.BigEndian.PutUint64(buf[17:], r.PeriodTransferredAmount)
	binary.BigEndian.PutUint64(buf[25:], r.PeriodTimestampLastReset)
	binary.BigEndian.PutUint32(buf[33:], r.TransferLimitPeriodSeconds)
	binary.BigEndian.PutUint64(buf[37:], r.SlotLastTransferred)
	return buf, nil
}

// Unmarshal decodes any record from its tagged binary form.
func Unmarshal(data []byte) (Record, error) {
	if len(data) == 0 {
		return nil, ErrMalformed
	}
	switch Kind(data[0]) {
	case KindGlobalState:
		if len(data) != globalStateSize {
			return nil, fmt.Errorf("%w: global_state is %d bytes", ErrMalformed, len(data))
		}
		r := &GlobalState{Version: data[1+identity.Size]}
		copy(r.Admin[:], data[1:])
		return r, nil
	case KindMerchantManager:
		if len(data) != managerSize {
			return nil, fmt.Errorf("%w: merchant_manager is %d bytes", ErrMalformed, len(data))
		}
		r := &MerchantManager{}
		copy(r.Manager[:], data[1:])
		return r, nil
	case KindMerchantDebitor:
		allowed, err := unmarshalAllowed(data)
		if err != nil {
			return nil, err
		}
		return &MerchantDebitor{Allowed: allowed}, nil
	case KindMerchantDestination:
		allowed, err := unmarshalAllowed(data)
		if err != nil {
			return nil, err
		}
		return &MerchantDestination{Allowed: allowed}, nil
	case KindUserDelegate:
		if len(data) != userDelegateSize {
			return nil, fmt.Errorf("%w: user_delegate is %d bytes", ErrMalformed, len(data))
		}
		return &UserDelegate{
			PerTransferLimit:           binary.BigEndian.Uint64(data[1:]),
			PeriodTransferLimit:        binary.BigEndian.Uint64(data[9:]),
			PeriodTransferredAmount:    binary.BigEndian.Uint64(data[17:]),
			PeriodTimestampLastReset:   binary.BigEndian.Uint64(data[25:]),
			TransferLimitPeriodSeconds: binary.BigEndian.Uint32(data[33:]),
			SlotLastTransferred:        binary.BigEndian.Uint64(data[37:]),
		}, nil
	}
	return nil, fmt.Errorf("%w: tag %d", ErrUnknownKind, data[0])
}

func unmarshalAllowed(data []byte) (bool, error) {
	if len(data) != allowedSize {
		return false, fmt.Errorf("%w: allow-list record is %d bytes", ErrMalformed, len(data))
	}
	switch data[1] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, fmt.Errorf("%w: allowed byte %d", ErrMalformed, data[1])
}
