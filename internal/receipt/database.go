package receipt

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"go.etcd.io/bbolt"
)

const (
	receiptsBucket  = "receipts"
	lineItemsBucket = "line_items"      // one nested bucket per receipt
	itemIndexBucket = "line_item_index" // item id -> receipt id
)

// DB defines the interface for database operations
type DB interface {
	// SaveReceipt saves a receipt and replaces its line items
	SaveReceipt(receipt *Receipt) error

	// UpdateReceipt applies edit to a stored receipt in one transaction.
	// Only the receipt row is written; line items are left as they are.
	UpdateReceipt(id string, edit func(*Receipt) error) (*Receipt, error)

	// GetReceipt retrieves a receipt with its line items
	GetReceipt(id string) (*Receipt, error)

	// ListReceipts returns all receipts, newest first
	ListReceipts() ([]*Receipt, error)

	// DeleteReceipt removes a receipt and everything it owns
	DeleteReceipt(id string) error

	// GetLineItem retrieves a line item by ID
	GetLineItem(id string) (*LineItem, error)

	// UpdateLineItem applies edit to a stored line item in one transaction
	UpdateLineItem(id string, edit func(*LineItem) error) (*LineItem, error)

	// DeleteLineItem removes a line item
	DeleteLineItem(id string) error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{receiptsBucket, lineItemsBucket, itemIndexBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// SaveReceipt saves a receipt and replaces its line items in one transaction
func (b *BoltDB) SaveReceipt(receipt *Receipt) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		row := *receipt
		row.Items = nil
		row.FileURL = ""
		data, err := json.Marshal(&row)
		if err != nil {
			return fmt.Errorf("marshaling receipt: %w", err)
		}
		if err := tx.Bucket([]byte(receiptsBucket)).Put([]byte(receipt.ID), data); err != nil {
			return err
		}

		if err := deleteItems(tx, receipt.ID); err != nil {
			return err
		}
		items, err := tx.Bucket([]byte(lineItemsBucket)).CreateBucket([]byte(receipt.ID))
		if err != nil {
			return fmt.Errorf("creating item bucket: %w", err)
		}
		index := tx.Bucket([]byte(itemIndexBucket))
		for _, item := range receipt.Items {
			item.ReceiptID = receipt.ID
			data, err := json.Marshal(item)
			if err != nil {
				return fmt.Errorf("marshaling line item: %w", err)
			}
			if err := items.Put([]byte(item.ID), data); err != nil {
				return err
			}
			if err := index.Put([]byte(item.ID), []byte(receipt.ID)); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateReceipt reads, edits and writes back a receipt row in one transaction
func (b *BoltDB) UpdateReceipt(id string, edit func(*Receipt) error) (*Receipt, error) {
	var receipt *Receipt
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(receiptsBucket))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("receipt %s: %w", id, ErrNotFound)
		}
		var err error
		if receipt, err = loadReceipt(tx, data); err != nil {
			return err
		}
		if err := edit(receipt); err != nil {
			return err
		}

		row := *receipt
		row.Items = nil
		row.FileURL = ""
		data, err = json.Marshal(&row)
		if err != nil {
			return fmt.Errorf("marshaling receipt: %w", err)
		}
		return bucket.Put([]byte(id), data)
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// GetReceipt retrieves a receipt by ID
func (b *BoltDB) GetReceipt(id string) (*Receipt, error) {
	var receipt *Receipt
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(receiptsBucket)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("receipt %s: %w", id, ErrNotFound)
		}
		var err error
		receipt, err = loadReceipt(tx, data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// ListReceipts returns all receipts ordered by creation time, newest first
func (b *BoltDB) ListReceipts() ([]*Receipt, error) {
	receipts := make([]*Receipt, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(receiptsBucket)).ForEach(func(k, v []byte) error {
			receipt, err := loadReceipt(tx, v)
			if err != nil {
				return err
			}
			receipts = append(receipts, receipt)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(receipts, func(a, b *Receipt) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return receipts, nil
}

// DeleteReceipt removes a receipt, its line items and their index entries
func (b *BoltDB) DeleteReceipt(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := deleteItems(tx, id); err != nil {
			return err
		}
		return tx.Bucket([]byte(receiptsBucket)).Delete([]byte(id))
	})
}

// GetLineItem retrieves a line item by ID
func (b *BoltDB) GetLineItem(id string) (*LineItem, error) {
	var item *LineItem
	err := b.db.View(func(tx *bbolt.Tx) error {
		receiptID := tx.Bucket([]byte(itemIndexBucket)).Get([]byte(id))
		if receiptID == nil {
			return fmt.Errorf("line item %s: %w", id, ErrNotFound)
		}
		items := tx.Bucket([]byte(lineItemsBucket)).Bucket(receiptID)
		if items == nil {
			return fmt.Errorf("line item %s: %w", id, ErrNotFound)
		}
		data := items.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("line item %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &item)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// UpdateLineItem reads, edits and writes back a line item in one transaction
func (b *BoltDB) UpdateLineItem(id string, edit func(*LineItem) error) (*LineItem, error) {
	var item *LineItem
	err := b.db.Update(func(tx *bbolt.Tx) error {
		receiptID := tx.Bucket([]byte(itemIndexBucket)).Get([]byte(id))
		if receiptID == nil {
			return fmt.Errorf("line item %s: %w", id, ErrNotFound)
		}
		items := tx.Bucket([]byte(lineItemsBucket)).Bucket(receiptID)
		if items == nil {
			return fmt.Errorf("line item %s: %w", id, ErrNotFound)
		}
		data := items.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("line item %s: %w", id, ErrNotFound)
		}
		if err := json.Unmarshal(data, &item); err != nil {
			return fmt.Errorf("unmarshaling line item: %w", err)
		}
		if err := edit(item); err != nil {
			return err
		}
		item.ID = id
		item.ReceiptID = string(receiptID)

		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("marshaling line item: %w", err)
		}
		return items.Put([]byte(id), data)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// DeleteLineItem removes a line item
func (b *BoltDB) DeleteLineItem(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		index := tx.Bucket([]byte(itemIndexBucket))
		receiptID := index.Get([]byte(id))
		if receiptID == nil {
			return fmt.Errorf("line item %s: %w", id, ErrNotFound)
		}
		if items := tx.Bucket([]byte(lineItemsBucket)).Bucket(receiptID); items != nil {
			if err := items.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return index.Delete([]byte(id))
	})
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}

func loadReceipt(tx *bbolt.Tx, data []byte) (*Receipt, error) {
	var receipt Receipt
	if err := json.Unmarshal(data, &receipt); err != nil {
		return nil, fmt.Errorf("unmarshaling receipt: %w", err)
	}

	receipt.Items = make([]*LineItem, 0)
	items := tx.Bucket([]byte(lineItemsBucket)).Bucket([]byte(receipt.ID))
	if items != nil {
		err := items.ForEach(func(k, v []byte) error {
			var item LineItem
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("unmarshaling line item: %w", err)
			}
			receipt.Items = append(receipt.Items, &item)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	slices.SortFunc(receipt.Items, func(a, b *LineItem) int {
		return cmp.Compare(a.Position, b.Position)
	})

	return &receipt, nil
}

// deleteItems drops the nested item bucket of a receipt and its index entries
func deleteItems(tx *bbolt.Tx, receiptID string) error {
	parent := tx.Bucket([]byte(lineItemsBucket))
	items := parent.Bucket([]byte(receiptID))
	if items == nil {
		return nil
	}

	index := tx.Bucket([]byte(itemIndexBucket))
	err := items.ForEach(func(k, v []byte) error {
		return index.Delete(k)
	})
	if err != nil {
		return err
	}
	return parent.DeleteBucket([]byte(receiptID))
}
