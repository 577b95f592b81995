package tsdb

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/prometheus/prometheus/model/labels"
	promstorage "github.com/prometheus/prometheus/storage"
	"github.com/prometheus/prometheus/tsdb"
	"github.com/prometheus/prometheus/tsdb/chunkenc"

	"modelmon/config"
	"modelmon/monitoring"
)

// labelTable routes samples of all logical tables through a single
// Prometheus TSDB instance.
const labelTable = "__table__"

// promStore is the Prometheus TSDB engine.
type promStore struct {
	path   string
	logger kitlog.Logger

	mu sync.RWMutex
	db *tsdb.DB
}

func newPromStore(path string, cfg *config.PrometheusConfig, logger kitlog.Logger) (*promStore, error) {
	opts := tsdb.DefaultOptions()
	if cfg != nil && cfg.RetentionPeriod != "" {
		retention, err := config.ParseDuration(cfg.RetentionPeriod)
		if err != nil {
			return nil, fmt.Errorf("invalid retention period: %w", err)
		}
		opts.RetentionDuration = retention.Milliseconds()
	}
	if cfg != nil && cfg.BlockSize != "" {
		blockSize, err := config.ParseDuration(cfg.BlockSize)
		if err != nil {
			return nil, fmt.Errorf("invalid block size: %w", err)
		}
		opts.MaxBlockDuration = blockSize.Milliseconds()
	}

	db, err := tsdb.Open(path, nil, nil, opts, nil)
	if err != nil {
		return nil, fmt.Errorf("error opening prometheus tsdb: %w", err)
	}

	return &promStore{path: path, logger: logger, db: db}, nil
}

func (s *promStore) WriteSamples(ctx context.Context, samples []sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	app := s.db.Appender(ctx)
	for _, smp := range samples {
		builder := labels.NewBuilder(labels.EmptyLabels())
		builder.Set(labelTable, string(smp.Table))
		for k, v := range smp.Labels {
			builder.Set(k, v)
		}
		if _, err := app.Append(0, builder.Labels(), smp.Timestamp.UnixMilli(), smp.Value); err != nil {
			app.Rollback()
			return fmt.Errorf("error appending sample: %w", err)
		}
	}
	if err := app.Commit(); err != nil {
		return fmt.Errorf("error committing samples: %w", err)
	}
	return nil
}

func (s *promStore) Query(ctx context.Context, table monitoring.Table, start, end time.Time, filter labelFilter) ([]sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	querier, err := s.db.Querier(start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("error creating querier: %w", err)
	}
	defer querier.Close()

	hints := &promstorage.SelectHints{
		Start: start.UnixMilli(),
		End:   end.UnixMilli(),
	}
	matcher, err := labels.NewMatcher(labels.MatchEqual, labelTable, string(table))
	if err != nil {
		return nil, fmt.Errorf("error creating label matcher: %w", err)
	}

	seriesSet := querier.Select(ctx, false, hints, matcher)

	var results []sample
	for seriesSet.Next() {
		series := seriesSet.At()

		labelMap := make(map[string]string)
		series.Labels().Range(func(l labels.Label) {
			if l.Name != labelTable {
				labelMap[l.Name] = l.Value
			}
		})
		if filter != nil && !filter(labelMap) {
			continue
		}

		iterator := series.Iterator(chunkenc.NewNopIterator())
		for iterator.Next() != chunkenc.ValNone {
			ts, val := iterator.At()
			results = append(results, sample{
				Table:     table,
				Timestamp: time.UnixMilli(ts).UTC(),
				Value:     val,
				Labels:    labelMap,
			})
		}
		if err := iterator.Err(); err != nil {
			return nil, fmt.Errorf("error iterating through samples: %w", err)
		}
	}
	if err := seriesSet.Err(); err != nil {
		return nil, fmt.Errorf("error selecting series: %w", err)
	}

	return results, nil
}

func (s *promStore) EnsureTables(ctx context.Context) error {
	// Series are created on first append; the table label needs no
	// provisioning.
	return nil
}

func (s *promStore) DeleteAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	matcher, err := labels.NewMatcher(labels.MatchRegexp, labelTable, ".+")
	if err != nil {
		return fmt.Errorf("error creating label matcher: %w", err)
	}
	if err := s.db.Delete(ctx, math.MinInt64, math.MaxInt64, matcher); err != nil {
		return fmt.Errorf("error deleting project data: %w", err)
	}
	return nil
}

func (s *promStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
