package db

import (
	"context"
	"time"

	"github.com/boltdb/bolt"
	"go.uber.org/zap"
)

var bktRecords = []byte("Records")

// BoltKV stores records in a single bolt bucket on local disk.
type BoltKV struct {
	db *bolt.DB
}

func OpenBoltKV(path string, log *zap.Logger) (*BoltKV, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bktRecords)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	log.Info("bolt store opened", zap.String("path", path))
	return &BoltKV{db: db}, nil
}

func (b *BoltKV) Get(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bktRecords).Get([]byte(key))
		if v != nil {
			// v is only valid inside the transaction
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, err
}

func (b *BoltKV) Put(_ context.Context, key string, value []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bktRecords).Put([]byte(key), value)
	})
}

func (b *BoltKV) Delete(_ context.Context, key string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bktRecords).Delete([]byte(key))
	})
}

func (b *BoltKV) Close() error {
	return b.db.Close()
}
