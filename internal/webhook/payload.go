package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"presale-settler/internal/domain"
)

// ErrMalformedBody is returned for a body that is neither an object nor an array.
var ErrMalformedBody = errors.New("body must be a JSON object or array")

// txPayload is one enhanced-transaction notification as delivered.
type txPayload struct {
	Signature        string           `json:"signature"`
	Type             string           `json:"type"`
	TransactionError json.RawMessage  `json:"transactionError"`
	FeePayer         string           `json:"feePayer"`
	Timestamp        int64            `json:"timestamp"`
	NativeTransfers  []nativeTransfer `json:"nativeTransfers"`
	TokenTransfers   []tokenTransfer  `json:"tokenTransfers"`
}

type nativeTransfer struct {
	FromUserAccount string      `json:"fromUserAccount"`
	ToUserAccount   string      `json:"toUserAccount"`
	Amount          json.Number `json:"amount"` // lamports
}

type tokenTransfer struct {
	FromUserAccount string          `json:"fromUserAccount"`
	ToUserAccount   string          `json:"toUserAccount"`
	Mint            string          `json:"mint"`
	TokenAmount     json.Number     `json:"tokenAmount"` // decimals-adjusted
	RawTokenAmount  *rawTokenAmount `json:"rawTokenAmount,omitempty"`
}

type rawTokenAmount struct {
	TokenAmount string `json:"tokenAmount"`
	Decimals    uint8  `json:"decimals"`
}

// splitBody returns the items of an array body, or the object body as a
// single item.
func splitBody(body []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, ErrMalformedBody
	}
	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
		}
		return items, nil
	case '{':
		if !json.Valid(trimmed) {
			return nil, ErrMalformedBody
		}
		return []json.RawMessage{trimmed}, nil
	default:
		return nil, ErrMalformedBody
	}
}

// Parse decodes a notification body. Items that fail validation are
// counted in skipped and dropped; only a body that is not JSON fails.
func Parse(body []byte) (notifications []domain.Notification, received, skipped int, err error) {
	items, err := splitBody(body)
	if err != nil {
		return nil, 0, 0, err
	}

	for _, item := range items {
		n, err := decodeItem(item)
		if err != nil {
			skipped++
			continue
		}
		notifications = append(notifications, n)
	}
	return notifications, len(items), skipped, nil
}

func decodeItem(item json.RawMessage) (domain.Notification, error) {
	var p txPayload
	if err := json.Unmarshal(item, &p); err != nil {
		return domain.Notification{}, err
	}
	return p.validate()
}

// validate converts the payload into a strict notification.
func (p *txPayload) validate() (domain.Notification, error) {
	if _, err := solana.SignatureFromBase58(p.Signature); err != nil {
		return domain.Notification{}, fmt.Errorf("signature %q: %w", p.Signature, err)
	}
	if p.Type == "" {
		return domain.Notification{}, errors.New("missing type")
	}

	n := domain.Notification{
		Signature: p.Signature,
		Type:      p.Type,
		Failed:    len(p.TransactionError) > 0 && string(p.TransactionError) != "null",
		FeePayer:  p.FeePayer,
		Timestamp: p.Timestamp,
	}

	for i, t := range p.NativeTransfers {
		if t.FromUserAccount == "" || t.ToUserAccount == "" {
			return domain.Notification{}, fmt.Errorf("native transfer %d: missing account", i)
		}
		lamports, err := strconv.ParseUint(t.Amount.String(), 10, 64)
		if err != nil {
			return domain.Notification{}, fmt.Errorf("native transfer %d: amount: %w", i, err)
		}
		n.NativeTransfers = append(n.NativeTransfers, domain.TransferEdge{
			Source:      t.FromUserAccount,
			Destination: t.ToUserAccount,
			Raw:         lamports,
			Decimals:    domain.NativeDecimals,
		})
	}

	for i, t := range p.TokenTransfers {
		if t.FromUserAccount == "" || t.ToUserAccount == "" || t.Mint == "" {
			return domain.Notification{}, fmt.Errorf("token transfer %d: missing account or mint", i)
		}
		raw, decimals, err := t.rawAmount()
		if err != nil {
			return domain.Notification{}, fmt.Errorf("token transfer %d: %w", i, err)
		}
		n.TokenTransfers = append(n.TokenTransfers, domain.TransferEdge{
			Source:      t.FromUserAccount,
			Destination: t.ToUserAccount,
			Mint:        t.Mint,
			Raw:         raw,
			Decimals:    decimals,
		})
	}
	return n, nil
}

// rawAmount prefers rawTokenAmount; otherwise the decimal tokenAmount is
// represented exactly with as many decimals as it carries.
func (t *tokenTransfer) rawAmount() (uint64, uint8, error) {
	if t.RawTokenAmount != nil && t.RawTokenAmount.TokenAmount != "" {
		raw, err := strconv.ParseUint(t.RawTokenAmount.TokenAmount, 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("raw amount: %w", err)
		}
		return raw, t.RawTokenAmount.Decimals, nil
	}

	amt, err := decimal.NewFromString(t.TokenAmount.String())
	if err != nil {
		return 0, 0, fmt.Errorf("amount: %w", err)
	}
	if amt.IsNegative() {
		return 0, 0, errors.New("negative amount")
	}
	var decimals int32
	if exp := amt.Exponent(); exp < 0 {
		decimals = -exp
	}
	if decimals > 18 {
		return 0, 0, fmt.Errorf("amount %s has too many decimals", amt)
	}
	scaled := amt.Shift(decimals).BigInt()
	if !scaled.IsUint64() || scaled.Cmp(big.NewInt(0)) < 0 {
		return 0, 0, fmt.Errorf("amount %s out of range", amt)
	}
	return scaled.Uint64(), uint8(decimals), nil
}
