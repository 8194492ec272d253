package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/crystalmix/exchange-core/internal/domain"
	"github.com/crystalmix/exchange-core/pkg"
	"github.com/crystalmix/exchange-core/pkg/database"
	"github.com/crystalmix/exchange-core/pkg/utils"
)

// Postgres persists orders and currencies through pgx pools. Card numbers
// are encrypted with aesKey before they reach the database.
type Postgres struct {
	db     *database.DB
	logger *zap.Logger
	aesKey []byte
}

func NewPostgres(db *database.DB, logger *zap.Logger, aesKey []byte) *Postgres {
	return &Postgres{db: db, logger: logger, aesKey: aesKey}
}

const orderColumns = `id, from_currency, to_currency,
		from_amount::text, to_amount::text, exchange_rate::text, rate_type, status,
		deposit_address, payout_kind, payout_address, card_number, card_bank, card_holder,
		contact_email, platform_fee::text, network_fee::text,
		rate_lock_expiry, tx_hash, payout_tx_hash, created_at, updated_at`

func (p *Postgres) CreateOrder(ctx context.Context, order domain.Order) error {
	kind, address, cardNumber, cardBank, cardHolder, err := p.splitPayout(order.Payout)
	if err != nil {
		return err
	}
	tag, err := p.db.Exec(ctx, `
		INSERT INTO orders (id, from_currency, to_currency, from_amount, to_amount,
			exchange_rate, rate_type, status, deposit_address, payout_kind,
			payout_address, card_number, card_bank, card_holder, contact_email,
			platform_fee, network_fee, rate_lock_expiry, tx_hash, payout_tx_hash,
			created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
		ON CONFLICT (id) DO NOTHING`,
		order.ID, order.FromCurrency, order.ToCurrency,
		order.FromAmount, order.ToAmount, order.ExchangeRate,
		string(order.RateType), string(order.Status), order.DepositAddress,
		string(kind), address, cardNumber, cardBank, cardHolder,
		nullable(order.ContactEmail), order.PlatformFee, order.NetworkFee,
		order.RateLockExpiry, nullable(order.TxHash), nullable(order.PayoutTxHash),
		order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return pkg.HandleSQLError(order.ID, p.logger, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrOrderExists
	}
	return nil
}

func (p *Postgres) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	row := p.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	order, err := p.scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, pkg.HandleSQLError(id, p.logger, err)
	}
	return order, nil
}

func (p *Postgres) UpdateOrder(ctx context.Context, order domain.Order) error {
	tag, err := p.db.Exec(ctx, `
		UPDATE orders SET status = $2, rate_lock_expiry = $3, tx_hash = $4,
			payout_tx_hash = $5, updated_at = $6
		WHERE id = $1`,
		order.ID, string(order.Status), order.RateLockExpiry,
		nullable(order.TxHash), nullable(order.PayoutTxHash), order.UpdatedAt,
	)
	if err != nil {
		return pkg.HandleSQLError(order.ID, p.logger, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (p *Postgres) ListOrdersByStatus(ctx context.Context, status pkg.OrderStatus) ([]domain.Order, error) {
	rows, err := p.db.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE status = $1`, string(status))
	if err != nil {
		return nil, pkg.HandleSQLError("", p.logger, err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		order, err := p.scanOrder(rows)
		if err != nil {
			return nil, pkg.HandleSQLError("", p.logger, err)
		}
		out = append(out, order)
	}
	return out, rows.Err()
}

func (p *Postgres) GetCurrency(ctx context.Context, id string) (domain.Currency, error) {
	var (
		c              domain.Currency
		kind           string
		minStr, maxStr string
	)
	err := p.db.QueryRow(ctx, `
		SELECT id, symbol, kind, network, min_amount::text, max_amount::text, active
		FROM currencies WHERE id = $1 AND active`, id).
		Scan(&c.ID, &c.Symbol, &kind, &c.Network, &minStr, &maxStr, &c.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Currency{}, domain.ErrUnknownCurrency
	}
	if err != nil {
		return domain.Currency{}, pkg.HandleSQLError(id, p.logger, err)
	}
	c.Kind = pkg.CurrencyKind(kind)
	if c.MinAmount, err = decimal.NewFromString(minStr); err != nil {
		return domain.Currency{}, fmt.Errorf("parsing min_amount: %w", err)
	}
	if c.MaxAmount, err = decimal.NewFromString(maxStr); err != nil {
		return domain.Currency{}, fmt.Errorf("parsing max_amount: %w", err)
	}
	return c, nil
}

func (p *Postgres) splitPayout(dest domain.PayoutDestination) (kind domain.PayoutKind, address, number, bank, holder *string, err error) {
	switch d := dest.(type) {
	case domain.WalletPayout:
		return domain.PayoutKindWallet, &d.Address, nil, nil, nil, nil
	case domain.CardPayout:
		sealed, err := utils.EncryptAES([]byte(d.Number), p.aesKey)
		if err != nil {
			return "", nil, nil, nil, nil, fmt.Errorf("encrypting card number: %w", err)
		}
		return domain.PayoutKindCard, nil, &sealed, &d.BankName, &d.Holder, nil
	default:
		return domain.PayoutKindWallet, nil, nil, nil, nil, nil
	}
}

func (p *Postgres) joinPayout(kind string, address, number, bank, holder *string) (domain.PayoutDestination, error) {
	switch domain.PayoutKind(kind) {
	case domain.PayoutKindCard:
		plain, err := utils.DecryptAES(deref(number), p.aesKey)
		if err != nil {
			return nil, fmt.Errorf("decrypting card number: %w", err)
		}
		return domain.CardPayout{Number: string(plain), BankName: deref(bank), Holder: deref(holder)}, nil
	default:
		return domain.WalletPayout{Address: deref(address)}, nil
	}
}

func (p *Postgres) scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		o                                        domain.Order
		fromAmt, toAmt, rate, platform, network  string
		rateType, status, payoutKind             string
		payoutAddr, cardNumber, cardBank, holder *string
		contactEmail, txHash, payoutTxHash       *string
		lockExpiry                               *time.Time
	)
	err := row.Scan(&o.ID, &o.FromCurrency, &o.ToCurrency,
		&fromAmt, &toAmt, &rate, &rateType, &status,
		&o.DepositAddress, &payoutKind, &payoutAddr, &cardNumber, &cardBank, &holder,
		&contactEmail, &platform, &network,
		&lockExpiry, &txHash, &payoutTxHash, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return domain.Order{}, err
	}

	for dst, src := range map[*decimal.Decimal]string{
		&o.FromAmount: fromAmt, &o.ToAmount: toAmt, &o.ExchangeRate: rate,
		&o.PlatformFee: platform, &o.NetworkFee: network,
	} {
		if *dst, err = decimal.NewFromString(src); err != nil {
			return domain.Order{}, fmt.Errorf("parsing numeric column: %w", err)
		}
	}

	o.RateType = pkg.RateType(rateType)
	o.Status = pkg.OrderStatus(status)
	if o.Payout, err = p.joinPayout(payoutKind, payoutAddr, cardNumber, cardBank, holder); err != nil {
		return domain.Order{}, err
	}
	o.ContactEmail = deref(contactEmail)
	o.TxHash = deref(txHash)
	o.PayoutTxHash = deref(payoutTxHash)
	o.RateLockExpiry = lockExpiry
	return o, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
