// Package store provides the durable log and trade recorder of §4.4: every
// accepted request and every executed trade is written transactionally to
// a relational store before the in-memory engine considers it final. The
// storage engine itself (the database) is an external collaborator per
// SPEC_FULL.md's DOMAIN STACK section; this package only depends on it
// through gorm's database/sql abstraction.
package store

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account mirrors migration/src's `account(id, pwd, name)` table. Auth
// itself is out of scope (§1); this model exists so request/order/trade
// rows can carry a real foreign key.
type Account struct {
	ID   int64  `gorm:"primaryKey;autoIncrement"`
	Pwd  string `gorm:"not null"`
	Name string `gorm:"not null"`
}

// Security mirrors `security(code, name)`.
type Security struct {
	Code string `gorm:"primaryKey"`
	Name string `gorm:"not null"`
}

// Request is the durable row behind domain.Request.
type Request struct {
	Seq       int64     `gorm:"primaryKey;autoIncrement"`
	AccountID int64     `gorm:"not null;index"`
	Body      []byte    `gorm:"type:json;not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
}

// Order is the durable row behind a resting domain.Order. Seq is shared
// with the Request that admitted it (§3: "the seq of a placed order equals
// the seq of the request that placed it").
type Order struct {
	Seq      int64           `gorm:"primaryKey"`
	Code     string          `gorm:"not null;index"`
	Dir      string          `gorm:"not null"`
	Price    decimal.Decimal `gorm:"type:numeric(1000,2);not null"`
	Quantity int64           `gorm:"not null"`
}

// Trade is the durable row behind one executed Deal.
type Trade struct {
	Ack       int64           `gorm:"primaryKey;autoIncrement"`
	Code      string          `gorm:"not null;index"`
	BuyerID   int64           `gorm:"not null"`
	SellerID  int64           `gorm:"not null"`
	Price     decimal.Decimal `gorm:"type:numeric(1000,2);not null"`
	Quantity  int64           `gorm:"not null"`
	CreatedAt time.Time       `gorm:"not null;autoCreateTime"`
}

// Message is the durable row behind one outbox entry.
type Message struct {
	Ack        int64     `gorm:"primaryKey;autoIncrement"`
	AccountID  int64     `gorm:"not null;index"`
	EventType  string    `gorm:"not null"`
	Data       []byte    `gorm:"type:json;not null"`
	HappenedAt time.Time `gorm:"not null;autoCreateTime"`
}

func (Account) TableName() string  { return "account" }
func (Security) TableName() string { return "security" }
func (Request) TableName() string  { return "request" }
func (Order) TableName() string    { return "order" }
func (Trade) TableName() string    { return "trade" }
func (Message) TableName() string  { return "message" }
