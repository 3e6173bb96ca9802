package shop

import (
	"context"
	"database/sql"
	"errors"

	"github.com/oligo/txprop"
)

const (
	PayStatusComplete = "complete"
	PayStatusWaiting  = "waiting"
)

var (
	// ErrNotEnoughMoney is an expected outcome: the order is kept as waiting and the customer
	// is asked to pay by other means.
	ErrNotEnoughMoney = txprop.NewFailure(txprop.Business("payment.insufficient_funds"), "shop: not enough money")

	ErrPaymentSystem = errors.New("shop: payment system failure")
)

type Order struct {
	ID        int64  `db:"id"`
	Username  string `db:"username"`
	PayStatus string `db:"pay_status"`
}

type OrderRepository struct {
	tm *Manager
}

func NewOrderRepository(tm *Manager) *OrderRepository {
	return &OrderRepository{tm: tm}
}

func (r *OrderRepository) Save(ctx context.Context, o *Order) error {
	return r.tm.Exec(ctx, func(tx *TxStatus) error {
		id, err := tx.Resource().Insert(tx.Context(), `INSERT INTO orders (username, pay_status) VALUES (:username, :pay_status)`, o)
		if err != nil {
			return err
		}
		o.ID = id
		return nil
	})
}

func (r *OrderRepository) Update(ctx context.Context, o *Order) error {
	return r.tm.Exec(ctx, func(tx *TxStatus) error {
		_, err := tx.Resource().Update(tx.Context(), `UPDATE orders SET pay_status = :pay_status WHERE id = :id`, o)
		return err
	})
}

// FindByID returns the order, or nil when it does not exist.
func (r *OrderRepository) FindByID(ctx context.Context, id int64) (*Order, error) {
	return txprop.Run(ctx, r.tm, func(tx *TxStatus) (*Order, error) {
		var o Order
		err := tx.Resource().GetOne(tx.Context(), &o, `SELECT id, username, pay_status FROM orders WHERE id = ?`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &o, nil
	})
}

type OrderService struct {
	tm     *Manager
	orders *OrderRepository
	logger txprop.Logger
}

func NewOrderService(tm *Manager, orders *OrderRepository, logger txprop.Logger) *OrderService {
	return &OrderService{tm: tm, orders: orders, logger: logger}
}

// Order saves o and runs the payment. The username drives the payment outcome: "exception"
// fails the payment system and nothing is kept, "insufficient" keeps the order as waiting and
// returns ErrNotEnoughMoney.
func (s *OrderService) Order(ctx context.Context, o *Order) error {
	return s.tm.Exec(ctx, func(tx *TxStatus) error {
		if err := s.orders.Save(tx.Context(), o); err != nil {
			return err
		}

		s.logger.Info("payment started", "order", o.ID)
		switch o.Username {
		case "exception":
			s.logger.Info("payment system failure", "order", o.ID)
			return txprop.Wrap(txprop.Fault("payment"), ErrPaymentSystem)
		case "insufficient":
			s.logger.Info("not enough money", "order", o.ID)
			o.PayStatus = PayStatusWaiting
			if err := s.orders.Update(tx.Context(), o); err != nil {
				return err
			}
			return ErrNotEnoughMoney
		default:
			o.PayStatus = PayStatusComplete
		}
		s.logger.Info("payment finished", "order", o.ID)
		return s.orders.Update(tx.Context(), o)
	}, txprop.WithName("OrderService.Order"))
}
