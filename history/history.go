package history

import (
	"encoding/binary"
	"fmt"
	"slices"
	"time"

	"github.com/goccy/go-json"
	"go.etcd.io/bbolt"

	"github.com/xeptore/tidaldl/tidal/types"
)

var downloadsBucketName = []byte("downloads")

// Record is one finished download.
type Record struct {
	Type         string    `json:"type"`
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	DownloadedAt time.Time `json:"downloaded_at"`
}

// Storage keeps download records in insertion order.
type Storage struct {
	db *bbolt.DB
}

func Open(path string) (*Storage, error) {
	opts := &bbolt.Options{ //nolint:exhaustruct
		NoFreelistSync: true,
		ReadOnly:       false,
		Timeout:        1 * time.Second,
		NoGrowSync:     false,
		FreelistType:   bbolt.FreelistArrayType,
	}
	db, err := bbolt.Open(path, 0o600, opts)
	if nil != err {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	if err := createBuckets(db); nil != err {
		if closeErr := db.Close(); nil != closeErr {
			err = fmt.Errorf("%w; failed to close database: %v", err, closeErr)
		}

		return nil, err
	}

	return &Storage{db: db}, nil
}

func createBuckets(db *bbolt.DB) error {
	err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(downloadsBucketName); nil != err {
			return fmt.Errorf("failed to create downloads bucket: %v", err)
		}

		return nil
	})
	if nil != err {
		return fmt.Errorf("failed to create buckets: %v", err)
	}

	return nil
}

func (s *Storage) Close() error {
	if err := s.db.Close(); nil != err {
		return fmt.Errorf("failed to close database: %v", err)
	}

	return nil
}

// Record appends a record of m having been saved to path.
func (s *Storage) Record(m types.Media, path string) error {
	value, err := json.Marshal(Record{
		Type:         m.Type.String(),
		ID:           m.ID,
		Name:         m.Name(),
		Path:         path,
		DownloadedAt: time.Now().UTC(),
	})
	if nil != err {
		return fmt.Errorf("failed to encode download record: %v", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(downloadsBucketName)

		seq, err := b.NextSequence()
		if nil != err {
			return fmt.Errorf("failed to get next record sequence: %v", err)
		}

		if err := b.Put(sequenceKey(seq), value); nil != err {
			return fmt.Errorf("failed to put download record: %v", err)
		}

		return nil
	})
	if nil != err {
		return fmt.Errorf("failed to store download record: %v", err)
	}

	return nil
}

// List returns up to limit of the most recent records, oldest first. A
// non-positive limit returns every record.
func (s *Storage) List(limit int) ([]Record, error) {
	var records []Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(downloadsBucketName).Cursor()
		for k, v := c.Last(); nil != k; k, v = c.Prev() {
			if limit > 0 && len(records) == limit {
				break
			}

			var r Record
			if err := json.Unmarshal(v, &r); nil != err {
				return fmt.Errorf("failed to decode download record %d: %v", binary.BigEndian.Uint64(k), err)
			}
			records = append(records, r)
		}

		return nil
	})
	if nil != err {
		return nil, fmt.Errorf("failed to list download records: %v", err)
	}

	slices.Reverse(records)

	return records, nil
}

func sequenceKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)

	return k
}
