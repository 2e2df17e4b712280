package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"secmatch/internal/domain"
)

// GormStore is the concrete transactional durable store backing the Store
// interface, grounded on state.rs's update_order/trade/record_cancel and
// migration/src's table definitions (see SPEC_FULL.md's supplemented
// features). It depends on gorm purely for transaction scoping and row
// mapping; the actual storage engine (postgres) is the out-of-scope
// external collaborator named in §1.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// NewGormStore wraps an already-open *gorm.DB. AutoMigrate is run once, as
// a development convenience only (§1 explicitly keeps the schema migrator
// itself out of scope).
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&Account{}, &Security{}, &Request{}, &Order{}, &Trade{}, &Message{}); err != nil {
		return nil, fmt.Errorf("store: automigrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) RecordRequest(ctx context.Context, accountID int64, body json.RawMessage) (int64, error) {
	row := Request{AccountID: accountID, Body: body}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, fmt.Errorf("store: record request: %w", err)
	}
	return row.Seq, nil
}

func (s *GormStore) RecordOrder(ctx context.Context, order *domain.Order) error {
	row := Order{Seq: order.Seq, Code: order.Code, Dir: order.Dir.String(), Price: order.Price, Quantity: order.Quantity}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("store: record order: %w", err)
	}
	return nil
}

// updateOrDelete persists a resting order's new remaining quantity,
// deleting the row outright when it reaches zero (state.rs::update_order).
func updateOrDelete(tx *gorm.DB, seq, remaining int64) error {
	if remaining == 0 {
		return tx.Delete(&Order{}, "seq = ?", seq).Error
	}
	return tx.Model(&Order{}).Where("seq = ?", seq).Update("quantity", remaining).Error
}

func (s *GormStore) ExecuteDeal(ctx context.Context, code string, deal domain.Deal) (domain.TradeRecord, error) {
	var rec domain.TradeRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var buyerReq, sellerReq Request
		if err := tx.First(&buyerReq, "seq = ?", deal.Value.SeqBid).Error; err != nil {
			return fmt.Errorf("lookup buyer request: %w", err)
		}
		if err := tx.First(&sellerReq, "seq = ?", deal.Value.SeqOffer).Error; err != nil {
			return fmt.Errorf("lookup seller request: %w", err)
		}

		var bid, offer Order
		if err := tx.First(&bid, "seq = ?", deal.Value.SeqBid).Error; err != nil {
			return fmt.Errorf("lookup resting bid: %w", err)
		}
		if err := tx.First(&offer, "seq = ?", deal.Value.SeqOffer).Error; err != nil {
			return fmt.Errorf("lookup resting offer: %w", err)
		}

		if err := updateOrDelete(tx, bid.Seq, bid.Quantity-deal.Value.Quantity); err != nil {
			return fmt.Errorf("update bid: %w", err)
		}
		if err := updateOrDelete(tx, offer.Seq, offer.Quantity-deal.Value.Quantity); err != nil {
			return fmt.Errorf("update offer: %w", err)
		}

		trade := Trade{
			Code:     code,
			BuyerID:  buyerReq.AccountID,
			SellerID: sellerReq.AccountID,
			Price:    deal.Price,
			Quantity: deal.Value.Quantity,
		}
		if err := tx.Create(&trade).Error; err != nil {
			return fmt.Errorf("insert trade: %w", err)
		}

		rec = domain.TradeRecord{
			Ack:       trade.Ack,
			Code:      trade.Code,
			BuyerID:   trade.BuyerID,
			SellerID:  trade.SellerID,
			Price:     trade.Price,
			Quantity:  trade.Quantity,
			CreatedAt: trade.CreatedAt,
		}
		return nil
	})
	if err != nil {
		return domain.TradeRecord{}, fmt.Errorf("store: execute deal: %w", err)
	}
	return rec, nil
}

func (s *GormStore) RecordCancel(ctx context.Context, accountID, seq int64, quantity *int64) error {
	body := domain.CancelBody{}
	body.Cancel.Seq = seq
	body.Cancel.Quantity = quantity
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("store: marshal cancel body: %w", err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&Request{AccountID: accountID, Body: data}).Error; err != nil {
			return fmt.Errorf("insert cancel request: %w", err)
		}
		if err := tx.Delete(&Order{}, "seq = ?", seq).Error; err != nil {
			return fmt.Errorf("delete cancelled order: %w", err)
		}
		return nil
	})
}

func (s *GormStore) InsertMessage(ctx context.Context, msg domain.Message) error {
	row := Message{AccountID: msg.AccountID, EventType: msg.EventType, Data: msg.Data}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("store: insert message: %w", err)
	}
	return nil
}

func (s *GormStore) StreamOrders(ctx context.Context, fn func(domain.Order) error) error {
	rows, err := s.db.WithContext(ctx).Model(&Order{}).Order("seq asc").Rows()
	if err != nil {
		return fmt.Errorf("store: stream orders: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var row Order
		if err := s.db.ScanRows(rows, &row); err != nil {
			return fmt.Errorf("store: scan order row: %w", err)
		}
		order, err := toDomainOrder(row)
		if err != nil {
			return err
		}
		if err := fn(order); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *GormStore) StreamMessages(ctx context.Context, fn func(domain.Message) error) error {
	rows, err := s.db.WithContext(ctx).Model(&Message{}).Order("ack asc").Rows()
	if err != nil {
		return fmt.Errorf("store: stream messages: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var row Message
		if err := s.db.ScanRows(rows, &row); err != nil {
			return fmt.Errorf("store: scan message row: %w", err)
		}
		if err := fn(domain.Message{
			Ack:        row.Ack,
			AccountID:  row.AccountID,
			EventType:  row.EventType,
			Data:       row.Data,
			HappenedAt: row.HappenedAt,
		}); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *GormStore) RequestsByAccount(ctx context.Context, accountID int64) ([]domain.Request, error) {
	var rows []Request
	if err := s.db.WithContext(ctx).Where("account_id = ?", accountID).Order("created_at desc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: requests by account: %w", err)
	}
	out := make([]domain.Request, len(rows))
	for i, r := range rows {
		out[i] = domain.Request{Seq: r.Seq, AccountID: r.AccountID, Body: r.Body, CreatedAt: r.CreatedAt}
	}
	return out, nil
}

func (s *GormStore) OrdersByAccount(ctx context.Context, accountID int64) ([]domain.Order, error) {
	var rows []Order
	err := s.db.WithContext(ctx).
		Joins("JOIN request ON request.seq = \"order\".seq").
		Where("request.account_id = ?", accountID).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: orders by account: %w", err)
	}
	out := make([]domain.Order, 0, len(rows))
	for _, r := range rows {
		order, err := toDomainOrder(r)
		if err != nil {
			return nil, err
		}
		out = append(out, order)
	}
	return out, nil
}

func (s *GormStore) OrderBySeq(ctx context.Context, seq int64) (domain.Order, bool, error) {
	var row Order
	err := s.db.WithContext(ctx).First(&row, "seq = ?", seq).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Order{}, false, nil
	}
	if err != nil {
		return domain.Order{}, false, fmt.Errorf("store: order by seq: %w", err)
	}
	order, err := toDomainOrder(row)
	if err != nil {
		return domain.Order{}, false, err
	}
	return order, true, nil
}

func toDomainOrder(row Order) (domain.Order, error) {
	var dir domain.Dir
	switch row.Dir {
	case "Buy":
		dir = domain.Buy
	case "Sell":
		dir = domain.Sell
	default:
		return domain.Order{}, errors.New("store: unknown order direction " + row.Dir)
	}
	return domain.Order{Seq: row.Seq, Code: row.Code, Dir: dir, Price: row.Price, Quantity: row.Quantity}, nil
}
