package application

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	sensors "greenthread/internal/sensors/domain"
)

type fakeStore struct {
	mu       sync.Mutex
	readings []sensors.Reading
	failType map[sensors.SensorType]error
	failAll  error

	pageCalls  int
	lastFilter sensors.HistoryFilter
	inserts    int
}

func (f *fakeStore) InsertReadings(_ context.Context, readings []sensors.Reading) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return f.failAll
	}
	f.inserts++
	f.readings = append(f.readings, readings...)
	return nil
}

func (f *fakeStore) LatestByType(_ context.Context, sensorType sensors.SensorType) (*sensors.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failType[sensorType]; err != nil {
		return nil, err
	}
	var latest *sensors.Reading
	for i := range f.readings {
		r := f.readings[i]
		if r.Type != sensorType {
			continue
		}
		if latest == nil || r.RecordedAt.After(latest.RecordedAt) {
			latest = &r
		}
	}
	return latest, nil
}

func (f *fakeStore) ListSince(_ context.Context, since time.Time) ([]sensors.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return nil, f.failAll
	}
	var out []sensors.Reading
	for _, r := range f.readings {
		if !r.RecordedAt.Before(since) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RecordedAt.Before(out[j].RecordedAt) })
	return out, nil
}

func (f *fakeStore) ListPage(_ context.Context, filter sensors.HistoryFilter) ([]sensors.Reading, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageCalls++
	f.lastFilter = filter
	if f.failAll != nil {
		return nil, 0, f.failAll
	}
	var matched []sensors.Reading
	for _, r := range f.readings {
		if filter.SensorType != "" && r.Type != filter.SensorType {
			continue
		}
		if filter.Start != nil && r.RecordedAt.Before(*filter.Start) {
			continue
		}
		if filter.End != nil && r.RecordedAt.After(*filter.End) {
			continue
		}
		matched = append(matched, r)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		less := false
		switch filter.SortBy {
		case sensors.SortValue:
			less = matched[i].Value < matched[j].Value
		case sensors.SortType:
			less = matched[i].Type < matched[j].Type
		default:
			less = matched[i].RecordedAt.Before(matched[j].RecordedAt)
		}
		if !filter.Ascending {
			return !less && !equalKey(filter.SortBy, matched[i], matched[j])
		}
		return less
	})
	total := len(matched)
	if filter.Offset >= total {
		return nil, total, nil
	}
	end := filter.Offset + filter.Limit
	if end > total {
		end = total
	}
	return matched[filter.Offset:end], total, nil
}

func (f *fakeStore) AveragesSince(_ context.Context, since time.Time) (map[sensors.SensorType]sensors.Average, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sums := map[sensors.SensorType]float64{}
	counts := map[sensors.SensorType]int{}
	for _, r := range f.readings {
		if r.RecordedAt.Before(since) {
			continue
		}
		sums[r.Type] += r.Value
		counts[r.Type]++
	}
	out := map[sensors.SensorType]sensors.Average{}
	for t, n := range counts {
		out[t] = sensors.Average{Average: sums[t] / float64(n), Count: n}
	}
	return out, nil
}

func equalKey(column sensors.SortColumn, a, b sensors.Reading) bool {
	switch column {
	case sensors.SortValue:
		return a.Value == b.Value
	case sensors.SortType:
		return a.Type == b.Type
	default:
		return a.RecordedAt.Equal(b.RecordedAt)
	}
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var errStorage = errors.New("storage down")
