package storage

import (
	"fmt"
	"os"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// A downsample level is itself a byte-series next to the raw file, holding
// one record per BucketSize raw records: the per-field mean, timestamped
// with the mean of the bucket's timestamps. Levels are caches: never
// authoritative, always rebuildable from the raw log.
type downsampleLevel struct {
	cfg    DownsampleConfig
	series *Series

	accTs   []float64
	accVals [][]float64 // per field
}

func levelPath(rawPath string, bucketSize int) string {
	return fmt.Sprintf("%s.ds%d", rawPath, bucketSize)
}

func (s *Series) openLevels(header []byte, configs []DownsampleConfig) error {
	configs = append([]DownsampleConfig(nil), configs...)
	sort.Slice(configs, func(i, j int) bool {
		return configs[i].BucketSize < configs[j].BucketSize
	})

	for _, cfg := range configs {
		if cfg.BucketSize < 2 {
			return fmt.Errorf("downsample bucket size must be at least 2, got %d", cfg.BucketSize)
		}

		lvl, err := s.openLevel(header, cfg)
		if err != nil {
			return err
		}
		s.levels = append(s.levels, lvl)
	}
	return nil
}

func (s *Series) openLevel(header []byte, cfg DownsampleConfig) (*downsampleLevel, error) {
	path := levelPath(s.path, cfg.BucketSize)
	series, err := OpenOrCreate(path, s.payloadSize, header, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("could not open downsample level %d: %w", cfg.BucketSize, err)
	}

	consumed := series.numRecords * int64(cfg.BucketSize)
	if consumed > s.numRecords {
		// the cache ran ahead of the raw log (raw tail lost in a crash),
		// throw it away and rebuild from scratch
		s.log.Warnw("downsample cache ahead of raw data, rebuilding",
			"bucket_size", cfg.BucketSize)
		series.Close()
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("could not remove stale downsample cache: %w", err)
		}
		series, err = OpenOrCreate(path, s.payloadSize, header, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("could not recreate downsample level %d: %w", cfg.BucketSize, err)
		}
		consumed = 0
	}

	lvl := &downsampleLevel{cfg: cfg, series: series}

	// replay raw records the cache has not aggregated yet
	for i := consumed; i < s.numRecords; i++ {
		ts, payload, err := s.recordAt(i)
		if err != nil {
			series.Close()
			return nil, err
		}
		if err := lvl.add(ts, s.resampler.DecodePayload(payload), s.resampler); err != nil {
			series.Close()
			return nil, err
		}
	}
	return lvl, nil
}

func (l *downsampleLevel) add(ts uint64, values []float32, rs Resampler) error {
	if l.accVals == nil {
		l.accVals = make([][]float64, len(values))
	}

	l.accTs = append(l.accTs, float64(ts))
	for i, v := range values {
		l.accVals[i] = append(l.accVals[i], float64(v))
	}
	if len(l.accTs) < l.cfg.BucketSize {
		return nil
	}

	meanTs := uint64(stat.Mean(l.accTs, nil))
	means := make([]float32, len(l.accVals))
	for i := range l.accVals {
		means[i] = float32(stat.Mean(l.accVals[i], nil))
	}

	line := make([]byte, l.series.payloadSize)
	rs.EncodePayload(means, line)
	if err := l.series.PushLine(meanTs, line); err != nil {
		return err
	}

	l.accTs = l.accTs[:0]
	for i := range l.accVals {
		l.accVals[i] = l.accVals[i][:0]
	}
	return nil
}
