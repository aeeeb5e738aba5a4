package order

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const orderKeyPrefix = "order:"

// BadgerStore stores orders in Badger.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore creates a Badger-backed order store.
func NewBadgerStore(db *badger.DB) (*BadgerStore, error) {
	if db == nil {
		return nil, fmt.Errorf("badger db cannot be nil")
	}
	return &BadgerStore{db: db}, nil
}

// Save persists one order at key "order:{orderID}".
func (s *BadgerStore) Save(ctx context.Context, ord *Order) error {
	if ord == nil {
		return fmt.Errorf("order cannot be nil")
	}
	if ord.ID == "" {
		return fmt.Errorf("order id cannot be empty")
	}
	data, err := json.Marshal(ord)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		return txn.Set([]byte(orderKey(ord.ID)), data)
	})
}

// Get loads one order by id.
func (s *BadgerStore) Get(ctx context.Context, orderID string) (*Order, error) {
	var ord Order
	err := s.db.View(func(txn *badger.Txn) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		item, err := txn.Get([]byte(orderKey(orderID)))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return ErrOrderNotFound
			}
			return err
		}
		return item.Value(func(v []byte) error { return json.Unmarshal(v, &ord) })
	})
	if err != nil {
		return nil, err
	}
	return &ord, nil
}

// UpdateStatus applies a validated status transition in one transaction.
func (s *BadgerStore) UpdateStatus(ctx context.Context, orderID string, status Status) error {
	key := []byte(orderKey(orderID))
	return s.db.Update(func(txn *badger.Txn) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		item, err := txn.Get(key)
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return ErrOrderNotFound
			}
			return err
		}

		var ord Order
		if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &ord) }); err != nil {
			return err
		}
		if err := ValidateTransition(ord.Status, status); err != nil {
			return err
		}
		ord.Status = status
		ord.UpdatedAt = nowUTC()

		data, err := json.Marshal(&ord)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
}

func orderKey(orderID string) string {
	return orderKeyPrefix + orderID
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
