package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// PayoutKind discriminates payout destination variants.
type PayoutKind string

const (
	PayoutKindWallet PayoutKind = "wallet"
	PayoutKindCard   PayoutKind = "card"
)

// PayoutDestination is a closed union: either a wallet address or card
// details, never both. The mutual exclusion the order invariant demands is
// structural, not a runtime check over two optional fields.
type PayoutDestination interface {
	Kind() PayoutKind
	payoutDestination()
}

// WalletPayout pays out to an on-chain address.
type WalletPayout struct {
	Address string `json:"address"`
}

func (WalletPayout) Kind() PayoutKind   { return PayoutKindWallet }
func (WalletPayout) payoutDestination() {}

// CardPayout pays out to a bank card.
type CardPayout struct {
	Number   string `json:"number"`
	BankName string `json:"bankName"`
	Holder   string `json:"holderName"`
}

func (CardPayout) Kind() PayoutKind   { return PayoutKindCard }
func (CardPayout) payoutDestination() {}

// Validate checks the destination carries the fields its variant requires.
func ValidatePayout(dest PayoutDestination) error {
	switch d := dest.(type) {
	case WalletPayout:
		if d.Address == "" {
			return errors.New("wallet payout requires an address")
		}
	case CardPayout:
		if d.Number == "" || d.Holder == "" {
			return errors.New("card payout requires number and holder name")
		}
	case nil:
		return errors.New("payout destination is not set")
	default:
		return fmt.Errorf("unsupported payout destination %T", dest)
	}
	return nil
}

// payoutEnvelope is the wire/storage form of the union.
type payoutEnvelope struct {
	Kind   PayoutKind    `json:"kind"`
	Wallet *WalletPayout `json:"wallet,omitempty"`
	Card   *CardPayout   `json:"card,omitempty"`
}

// MarshalPayout encodes a destination as a tagged JSON envelope.
func MarshalPayout(dest PayoutDestination) ([]byte, error) {
	switch d := dest.(type) {
	case WalletPayout:
		return json.Marshal(payoutEnvelope{Kind: PayoutKindWallet, Wallet: &d})
	case CardPayout:
		return json.Marshal(payoutEnvelope{Kind: PayoutKindCard, Card: &d})
	default:
		return nil, fmt.Errorf("unsupported payout destination %T", dest)
	}
}

// UnmarshalPayout decodes a tagged JSON envelope into the concrete variant.
func UnmarshalPayout(data []byte) (PayoutDestination, error) {
	var env payoutEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	switch env.Kind {
	case PayoutKindWallet:
		if env.Wallet == nil {
			return nil, errors.New("wallet payout envelope missing wallet body")
		}
		return *env.Wallet, nil
	case PayoutKindCard:
		if env.Card == nil {
			return nil, errors.New("card payout envelope missing card body")
		}
		return *env.Card, nil
	default:
		return nil, fmt.Errorf("unknown payout kind %q", env.Kind)
	}
}
