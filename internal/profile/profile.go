// Package profile implements C4: per-pool rolling statistics, hourly/daily
// bucket tables, and anomaly/volatility scoring.
package profile

import (
	"math"
	"sync"
	"time"

	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/sonu96/project-athena-sub001/internal/domain"
	"github.com/sonu96/project-athena-sub001/pkg/logger"
)

// Anomaly is emitted to the Memory Store (C5) when an observed metric is
// at least 2 standard deviations from the current hourly bucket mean.
type Anomaly struct {
	PoolID    string
	Metric    string
	Value     float64
	BucketMean float64
	Sigma     float64
	At        time.Time
}

// Store holds one PoolProfile per pool, keyed by pool id, guarded by a
// single mutex (profile updates are infrequent and short relative to the
// cycle period, so a coarse lock is sufficient — matches the teacher's
// portfolio-snapshot store locking granularity).
type Store struct {
	mu       sync.Mutex
	profiles map[string]*domain.PoolProfile
	log      zerolog.Logger
}

// NewStore returns an empty profile store.
func NewStore(log zerolog.Logger) *Store {
	return &Store{
		profiles: make(map[string]*domain.PoolProfile),
		log:      logger.Scoped(log, "profile.store"),
	}
}

// Get returns the profile for poolID and whether it exists yet.
func (s *Store) Get(poolID string) (domain.PoolProfile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[poolID]
	if !ok {
		return domain.PoolProfile{}, false
	}
	return *p, true
}

// Snapshot returns a copy of every tracked profile, for C10 state queries.
func (s *Store) Snapshot() []domain.PoolProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.PoolProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, *p)
	}
	return out
}

// Update applies one observed PoolMetric to the pool's profile (spec.md
// section 4.4 steps 1-6): creates the profile lazily, appends to the
// sliding window evicting the oldest sample, updates hourly/daily buckets,
// recomputes volatility/gas-correlation/typical-volume-to-tvl, recomputes
// confidence, and returns any anomaly detected against the current hourly
// bucket.
func (s *Store) Update(metric domain.PoolMetric, now time.Time) (domain.PoolProfile, *Anomaly) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[metric.PoolID]
	if !ok {
		p = &domain.PoolProfile{
			PoolID: metric.PoolID,
			Pair:   metric.Pair,
			AprRange: domain.Range{Min: metric.AprTotal, Max: metric.AprTotal},
			TVLRange: domain.Range{Min: metric.TVLUSD, Max: metric.TVLUSD},
			VolumeRange: domain.Range{Min: metric.Volume24hUSD, Max: metric.Volume24hUSD},
		}
		s.profiles[metric.PoolID] = p
	}

	p.AprRange = expand(p.AprRange, metric.AprTotal)
	p.TVLRange = expand(p.TVLRange, metric.TVLUSD)
	p.VolumeRange = expand(p.VolumeRange, metric.Volume24hUSD)

	p.Window = append(p.Window, metric)
	if len(p.Window) > domain.ProfileWindowSize {
		p.Window = p.Window[len(p.Window)-domain.ProfileWindowSize:]
	}

	hour := metric.Timestamp.UTC().Hour()
	weekday := metric.Timestamp.UTC().Weekday()
	updateHourlyBucket(&p.HourlyBuckets[hour], hour, metric)
	updateDailyBucket(&p.DailyBuckets[int(weekday)], weekday, metric)

	recomputeDerivedStats(p)

	p.ObservationCount++
	p.ConfidenceScore = computeConfidence(p, now)
	p.LastUpdated = now

	anomaly := detectAnomaly(p, metric, hour, now)

	return *p, anomaly
}

func expand(r domain.Range, v float64) domain.Range {
	if v < r.Min {
		r.Min = v
	}
	if v > r.Max {
		r.Max = v
	}
	return r
}

func updateHourlyBucket(b *domain.HourlyBucket, hour int, m domain.PoolMetric) {
	b.Hour = hour
	b.MeanApr = runningMean(b.MeanApr, b.Count, m.AprTotal)
	b.MeanTVL = runningMean(b.MeanTVL, b.Count, m.TVLUSD)
	b.MeanVolume = runningMean(b.MeanVolume, b.Count, m.Volume24hUSD)
	b.MeanGasGwei = runningMean(b.MeanGasGwei, b.Count, m.GasPriceGwei)
	b.Count++
}

func updateDailyBucket(b *domain.DailyBucket, weekday time.Weekday, m domain.PoolMetric) {
	b.Weekday = weekday
	b.MeanApr = runningMean(b.MeanApr, b.Count, m.AprTotal)
	b.MeanTVL = runningMean(b.MeanTVL, b.Count, m.TVLUSD)
	b.MeanVolume = runningMean(b.MeanVolume, b.Count, m.Volume24hUSD)
	b.Count++
}

func runningMean(mean float64, count int, sample float64) float64 {
	return mean + (sample-mean)/float64(count+1)
}

// recomputeDerivedStats recomputes volatility, gas correlation, and typical
// volume/tvl ratio over the current window (spec.md section 4.4 step 4).
// go-talib is used as the fast rolling-window path over the raw sample
// arrays; gonum/stat backs the correlation, matching the teacher's own
// optimization package's split between the two libraries.
func recomputeDerivedStats(p *domain.PoolProfile) {
	n := len(p.Window)
	if n == 0 {
		return
	}

	aprs := make([]float64, n)
	gases := make([]float64, n)
	ratioSum := 0.0
	ratioCount := 0
	for i, m := range p.Window {
		aprs[i] = m.AprTotal
		gases[i] = m.GasPriceGwei
		if m.TVLUSD > 0 {
			ratioSum += m.Volume24hUSD / m.TVLUSD
			ratioCount++
		}
	}

	if n >= 2 {
		stddev := talib.Stddev(aprs, n, 1)
		p.VolatilityScore = stddev[len(stddev)-1]
	} else {
		p.VolatilityScore = 0
	}

	if n >= domain.MinSamplesForGasCorrelation {
		p.GasCorrelation = stat.Correlation(aprs, gases, nil)
	}

	if ratioCount > 0 {
		p.TypicalVolumeToTVL = ratioSum / float64(ratioCount)
	}
}

// computeConfidence implements the weighted confidence formula of spec.md
// section 4.4 step 5: 0.4*min(obs/200,1) + 0.3*recency + 0.3*pattern_consistency.
func computeConfidence(p *domain.PoolProfile, now time.Time) float64 {
	obsTerm := 0.4 * math.Min(float64(p.ObservationCount)/200.0, 1.0)

	recency := 0.0
	if !p.LastUpdated.IsZero() {
		hoursSince := now.Sub(p.LastUpdated).Hours()
		recency = math.Max(0, 1.0-hoursSince/24.0)
	} else {
		recency = 1.0
	}
	recencyTerm := 0.3 * recency

	consistencyTerm := 0.3 * patternConsistency(p, now)

	return obsTerm + recencyTerm + consistencyTerm
}

// patternConsistency is the fraction of recent samples within one standard
// deviation of the bucket mean for the current hour.
func patternConsistency(p *domain.PoolProfile, now time.Time) float64 {
	hour := now.UTC().Hour()
	bucket := p.HourlyBuckets[hour]
	if bucket.Count == 0 || p.VolatilityScore == 0 {
		return 0
	}

	within := 0
	total := 0
	for _, m := range p.Window {
		if m.Timestamp.UTC().Hour() != hour {
			continue
		}
		total++
		if math.Abs(m.AprTotal-bucket.MeanApr) <= p.VolatilityScore {
			within++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(within) / float64(total)
}

// detectAnomaly flags a metric at least 2 sigma from the current hourly
// bucket mean (spec.md section 4.4 step 6).
func detectAnomaly(p *domain.PoolProfile, m domain.PoolMetric, hour int, now time.Time) *Anomaly {
	if p.VolatilityScore == 0 {
		return nil
	}
	bucket := p.HourlyBuckets[hour]
	deviation := math.Abs(m.AprTotal - bucket.MeanApr)
	sigma := deviation / p.VolatilityScore
	if sigma < 2.0 {
		return nil
	}
	return &Anomaly{
		PoolID:     m.PoolID,
		Metric:     "apr_total",
		Value:      m.AprTotal,
		BucketMean: bucket.MeanApr,
		Sigma:      sigma,
		At:         now,
	}
}
