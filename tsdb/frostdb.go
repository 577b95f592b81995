package tsdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/polarsignals/frostdb"
	"github.com/polarsignals/frostdb/dynparquet"
	frostdbquery "github.com/polarsignals/frostdb/query"
	"github.com/polarsignals/frostdb/query/logicalplan"
	"github.com/prometheus/client_golang/prometheus"

	"modelmon/config"
	"modelmon/monitoring"
)

// frostStore is the columnar engine. Writes are batched per table and
// flushed on size or on a background interval.
type frostStore struct {
	path    string
	dbName  string
	cfg     *config.FrostDBConfig
	logger  kitlog.Logger

	mu          sync.Mutex
	columnstore *frostdb.ColumnStore
	database    *frostdb.DB
	tables      map[monitoring.Table]*frostdb.Table
	batches     map[monitoring.Table]dynparquet.Samples
	closed      bool

	batchMaxSize int
	flushTicker  *time.Ticker
	shutdown     chan struct{}
	wg           sync.WaitGroup
}

func newFrostStore(path, project string, cfg *config.FrostDBConfig, logger kitlog.Logger) (*frostStore, error) {
	store := &frostStore{
		path:         path,
		dbName:       project,
		cfg:          cfg,
		logger:       logger,
		batchMaxSize: 1000,
		shutdown:     make(chan struct{}),
	}
	if cfg != nil && cfg.BatchSize > 0 {
		store.batchMaxSize = cfg.BatchSize
	}

	if err := store.open(); err != nil {
		return nil, err
	}

	flushInterval := 30 * time.Second
	if cfg != nil && cfg.FlushInterval != "" {
		if d, err := config.ParseDuration(cfg.FlushInterval); err == nil {
			flushInterval = d
		}
	}
	store.flushTicker = time.NewTicker(flushInterval)
	store.wg.Add(1)
	go store.flushRoutine()

	return store, nil
}

// open creates the column store, database and tables. Caller must not
// hold the lock; open is also the re-initialization path of DeleteAll.
func (s *frostStore) open() error {
	if err := os.MkdirAll(s.path, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	activeMemory := int64(100 * frostdb.MiB)
	if s.cfg != nil && s.cfg.ActiveMemoryMB > 0 {
		activeMemory = int64(s.cfg.ActiveMemoryMB) * 1024 * 1024
	}

	options := []frostdb.Option{
		frostdb.WithLogger(s.logger),
		frostdb.WithStoragePath(s.path),
		frostdb.WithActiveMemorySize(activeMemory),
		frostdb.WithRegistry(prometheus.NewRegistry()),
	}
	if s.cfg == nil || s.cfg.WALEnabled {
		options = append(options, frostdb.WithWAL())
	}

	columnstore, err := frostdb.New(options...)
	if err != nil {
		return fmt.Errorf("failed to create column store: %w", err)
	}

	database, err := columnstore.DB(context.Background(), s.dbName)
	if err != nil {
		columnstore.Close()
		return fmt.Errorf("failed to open database: %w", err)
	}

	tables := make(map[monitoring.Table]*frostdb.Table, len(monitoring.Tables()))
	for _, t := range monitoring.Tables() {
		tableConfig := frostdb.NewTableConfig(dynparquet.SampleDefinition())
		table, err := database.Table(string(t), tableConfig)
		if err != nil {
			columnstore.Close()
			return fmt.Errorf("failed to create table %s: %w", t, err)
		}
		tables[t] = table
	}

	s.mu.Lock()
	s.columnstore = columnstore
	s.database = database
	s.tables = tables
	s.batches = make(map[monitoring.Table]dynparquet.Samples)
	s.closed = false
	s.mu.Unlock()

	return nil
}

func (s *frostStore) WriteSamples(ctx context.Context, samples []sample) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("store is closed")
	}
	full := make(map[monitoring.Table]bool)
	for _, smp := range samples {
		s.batches[smp.Table] = append(s.batches[smp.Table], dynparquet.Sample{
			// The sample value field is an int64; carry the float
			// through its IEEE 754 bits.
			Timestamp:   smp.Timestamp.UnixNano(),
			Value:       int64(math.Float64bits(smp.Value)),
			ExampleType: smp.Labels[labelName],
			Labels:      smp.Labels,
		})
		if len(s.batches[smp.Table]) >= s.batchMaxSize {
			full[smp.Table] = true
		}
	}
	s.mu.Unlock()

	for t := range full {
		if err := s.flushTable(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// flushTable inserts the pending batch of one table.
func (s *frostStore) flushTable(ctx context.Context, t monitoring.Table) error {
	s.mu.Lock()
	batch := s.batches[t]
	if len(batch) == 0 || s.closed {
		s.mu.Unlock()
		return nil
	}
	s.batches[t] = dynparquet.Samples{}
	table := s.tables[t]
	s.mu.Unlock()

	record, err := batch.ToRecord()
	if err != nil {
		return fmt.Errorf("error creating record for table %s: %w", t, err)
	}
	if _, err := table.InsertRecord(ctx, record); err != nil {
		return fmt.Errorf("error inserting record into table %s: %w", t, err)
	}
	return nil
}

func (s *frostStore) flushAll(ctx context.Context) error {
	var errs []error
	for _, t := range monitoring.Tables() {
		if err := s.flushTable(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *frostStore) flushRoutine() {
	defer s.wg.Done()
	for {
		select {
		case <-s.flushTicker.C:
			if err := s.flushAll(context.Background()); err != nil {
				level.Warn(s.logger).Log("msg", "background flush failed", "err", err)
			}
		case <-s.shutdown:
			return
		}
	}
}

func (s *frostStore) Query(ctx context.Context, table monitoring.Table, start, end time.Time, filter labelFilter) ([]sample, error) {
	// Pending writes must be visible to readers.
	if err := s.flushTable(ctx, table); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.New("store is closed")
	}
	database := s.database
	s.mu.Unlock()

	engine := frostdbquery.NewEngine(memory.DefaultAllocator, database.TableProvider())
	scanner := engine.ScanTable(string(table)).
		Filter(
			logicalplan.And(
				logicalplan.Col("timestamp").GtEq(logicalplan.Literal(start.UnixNano())),
				logicalplan.Col("timestamp").LtEq(logicalplan.Literal(end.UnixNano())),
			),
		).
		Project(
			logicalplan.Col("timestamp"),
			logicalplan.Col("value"),
			logicalplan.Col("labels"),
		)

	var results []sample
	err := scanner.Execute(ctx, func(ctx context.Context, r arrow.Record) error {
		timestampCol := r.Column(0).(*array.Int64)
		valueCol := r.Column(1).(*array.Int64)
		labelsCol := r.Column(2)

		for i := int64(0); i < r.NumRows(); i++ {
			labels := decodeLabelsColumn(labelsCol, int(i))
			if filter != nil && !filter(labels) {
				continue
			}
			results = append(results, sample{
				Table:     table,
				Timestamp: time.Unix(0, timestampCol.Value(int(i))).UTC(),
				Value:     math.Float64frombits(uint64(valueCol.Value(int(i)))),
				Labels:    labels,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error executing query: %w", err)
	}
	return results, nil
}

// decodeLabelsColumn extracts the label map from the dictionary-encoded
// labels column.
func decodeLabelsColumn(col arrow.Array, row int) map[string]string {
	labels := make(map[string]string)
	dict, ok := col.(*array.Dictionary)
	if !ok {
		return labels
	}
	idx := dict.GetValueIndex(row)
	if idx < 0 {
		return labels
	}
	values, ok := dict.Dictionary().(*array.String)
	if !ok {
		return labels
	}
	if err := json.Unmarshal([]byte(values.Value(idx)), &labels); err != nil {
		return make(map[string]string)
	}
	return labels
}

func (s *frostStore) EnsureTables(ctx context.Context) error {
	// Tables are provisioned on open; nothing left to do.
	return nil
}

func (s *frostStore) DeleteAll(ctx context.Context) error {
	// The column store has no per-table truncation, so drop the whole
	// project database on disk and re-provision it.
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("store is closed")
	}
	columnstore := s.columnstore
	s.closed = true
	s.mu.Unlock()

	if err := columnstore.Close(); err != nil {
		return fmt.Errorf("error closing column store: %w", err)
	}
	if err := os.RemoveAll(s.path); err != nil {
		return fmt.Errorf("error removing data directory: %w", err)
	}
	return s.open()
}

func (s *frostStore) Close() error {
	s.flushTicker.Stop()
	close(s.shutdown)
	s.wg.Wait()

	if err := s.flushAll(context.Background()); err != nil {
		level.Warn(s.logger).Log("msg", "final flush failed", "err", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.columnstore.Close()
}
