package tsdb

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v3"
	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"modelmon/config"
	"modelmon/monitoring"
)

// badgerStore is the low-latency key-value engine. Samples are keyed
// by table prefix plus big-endian timestamp, so a range query is a
// single ordered prefix scan.
type badgerStore struct {
	db     *badger.DB
	logger kitlog.Logger

	seq        uint64
	gcInterval time.Duration
	stopChan   chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup
}

// persistedSample is the stored value; the timestamp lives in the key.
type persistedSample struct {
	Value  float64           `json:"value"`
	Labels map[string]string `json:"labels,omitempty"`
}

func newBadgerStore(path string, cfg *config.BadgerConfig, logger kitlog.Logger) (*badgerStore, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(nil).
		WithLoggingLevel(badger.WARNING)
	if cfg != nil && cfg.MaxFileSizeMB > 0 {
		opts = opts.WithValueLogFileSize(int64(cfg.MaxFileSizeMB) * 1024 * 1024)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("error opening badger: %w", err)
	}

	gcInterval := 10 * time.Minute
	if cfg != nil && cfg.GCInterval != "" {
		if d, err := config.ParseDuration(cfg.GCInterval); err == nil {
			gcInterval = d
		}
	}

	store := &badgerStore{
		db:         db,
		logger:     logger,
		gcInterval: gcInterval,
		stopChan:   make(chan struct{}),
	}
	store.startGC()

	return store, nil
}

func (s *badgerStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *badgerStore) WriteSamples(ctx context.Context, samples []sample) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, smp := range samples {
			key := s.sampleKey(smp.Table, smp.Timestamp)
			data, err := json.Marshal(persistedSample{Value: smp.Value, Labels: smp.Labels})
			if err != nil {
				return fmt.Errorf("error marshaling sample: %w", err)
			}
			if err := txn.Set(key, data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("error storing samples: %w", err)
	}
	return nil
}

func (s *badgerStore) Query(ctx context.Context, table monitoring.Table, start, end time.Time, filter labelFilter) ([]sample, error) {
	prefix := tablePrefix(table)
	startKey := append(append([]byte{}, prefix...), timestampBytes(start)...)
	// The end bound is inclusive: pad past every sequence number of
	// the final timestamp.
	endKey := append(append([]byte{}, prefix...), timestampBytes(end)...)
	endKey = append(endKey, 0xff, 0xff, 0xff, 0xff)

	var results []sample
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(startKey); it.Valid(); it.Next() {
			item := it.Item()
			if bytes.Compare(item.Key(), endKey) > 0 {
				break
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			ts := timestampFromKey(item.Key(), len(prefix))
			var ps persistedSample
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &ps)
			}); err != nil {
				return fmt.Errorf("error unmarshaling sample: %w", err)
			}
			if filter != nil && !filter(ps.Labels) {
				continue
			}
			results = append(results, sample{
				Table:     table,
				Timestamp: ts,
				Value:     ps.Value,
				Labels:    ps.Labels,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error querying samples: %w", err)
	}
	return results, nil
}

func (s *badgerStore) EnsureTables(ctx context.Context) error {
	// Prefixed keyspaces need no provisioning; keep a marker per table
	// so an empty store still reflects which collections exist.
	return s.db.Update(func(txn *badger.Txn) error {
		for _, t := range monitoring.Tables() {
			if err := txn.Set([]byte("table!"+string(t)), []byte{1}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *badgerStore) DeleteAll(ctx context.Context) error {
	// The store holds a single project, so dropping everything is the
	// project-scoped delete.
	if err := s.db.DropAll(); err != nil {
		return fmt.Errorf("error deleting project data: %w", err)
	}
	return nil
}

func tablePrefix(table monitoring.Table) []byte {
	return []byte("s!" + string(table) + "!")
}

func timestampBytes(t time.Time) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(t.UnixNano()))
	return buf
}

func timestampFromKey(key []byte, prefixLen int) time.Time {
	if len(key) < prefixLen+8 {
		return time.Time{}
	}
	return time.Unix(0, int64(binary.BigEndian.Uint64(key[prefixLen:prefixLen+8]))).UTC()
}

// sampleKey appends a sequence number so samples sharing a timestamp
// do not overwrite each other.
func (s *badgerStore) sampleKey(table monitoring.Table, ts time.Time) []byte {
	key := append(tablePrefix(table), timestampBytes(ts)...)
	seq := make([]byte, 4)
	binary.BigEndian.PutUint32(seq, uint32(atomic.AddUint64(&s.seq, 1)))
	return append(key, seq...)
}

func (s *badgerStore) startGC() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.gcInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				// Run value log GC if we can reclaim half the space.
				err := s.db.RunValueLogGC(0.5)
				if err != nil && err != badger.ErrNoRewrite {
					level.Warn(s.logger).Log("msg", "badger GC error", "err", err)
				}
			case <-s.stopChan:
				return
			}
		}
	}()
}
