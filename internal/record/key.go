package record

import (
	"encoding/binary"
	"fmt"

	"github.com/mbd888/pullpay/internal/identity"
)

// Key addresses one record. GlobalState uses only the Kind; manager records
// use Kind+Merchant; the per-token records use all four fields.
type Key struct {
	Kind     Kind
	Merchant uint64
	Token    identity.Identity
	Entity   identity.Identity
}

// GlobalKey addresses the singleton GlobalState record.
func GlobalKey() Key {
	return Key{Kind: KindGlobalState}
}

// ManagerKey addresses a merchant's manager record.
func ManagerKey(merchant uint64) Key {
	return Key{Kind: KindMerchantManager, Merchant: merchant}
}

// DebitorKey addresses a (merchant, token, debitor) allow-list record.
func DebitorKey(merchant uint64, token, debitor identity.Identity) Key {
	return Key{Kind: KindMerchantDebitor, Merchant: merchant, Token: token, Entity: debitor}
}

// DestinationKey addresses a (merchant, token, destination) allow-list record.
func DestinationKey(merchant uint64, token, destination identity.Identity) Key {
	return Key{Kind: KindMerchantDestination, Merchant: merchant, Token: token, Entity: destination}
}

// DelegateKey addresses a (merchant, token, holder) limit record.
func DelegateKey(merchant uint64, token, holder identity.Identity) Key {
	return Key{Kind: KindUserDelegate, Merchant: merchant, Token: token, Entity: holder}
}

// Encode returns the key's canonical fixed-width form, the input to address
// derivation: tag byte, merchant id, token, entity.
func (k Key) Encode() []byte {
	buf := make([]byte, 1+8+identity.Size+identity.Size)
	buf[0] = byte(k.Kind)
	binary.BigEndian.PutUint64(buf[1:], k.Merchant)
	copy(buf[9:], k.Token[:])
	copy(buf[9+identity.Size:], k.Entity[:])
	return buf
}

func (k Key) String() string {
	switch k.Kind {
	case KindGlobalState:
		return "global_state"
	case KindMerchantManager:
		return fmt.Sprintf("merchant_manager/%d", k.Merchant)
	default:
		return fmt.Sprintf("%s/%d/%s/%s", k.Kind, k.Merchant, k.Token.Short(), k.Entity.Short())
	}
}
