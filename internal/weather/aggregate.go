package weather

import (
	"math"
	"sort"
)

// bucketStats is the fold state of one rollup bucket.
type bucketStats struct {
	sumTemp     float64
	sumHumidity float64
	minTemp     float64
	maxTemp     float64
	count       int
}

func (b *bucketStats) add(r ObservationRecord) {
	if b.count == 0 {
		b.minTemp = math.Inf(1)
		b.maxTemp = math.Inf(-1)
	}
	b.sumTemp += r.TemperatureC
	b.sumHumidity += r.Humidity
	b.minTemp = math.Min(b.minTemp, r.TemperatureC)
	b.maxTemp = math.Max(b.maxTemp, r.TemperatureC)
	b.count++
}

// SortObservations orders records by city then source timestamp.
// Uniqueness of (city, source timestamp) makes this a total order.
func SortObservations(records []ObservationRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].City != records[j].City {
			return records[i].City < records[j].City
		}
		return records[i].SourceUpdatedAt.Before(records[j].SourceUpdatedAt)
	})
}

// HourlyKey identifies an hourly bucket.
type HourlyKey struct {
	City string
	Date string
	Hour int
}

// DailyKey identifies a daily bucket.
type DailyKey struct {
	City string
	Date string
}

// HourlyKeyOf returns the hourly bucket of a record.
func HourlyKeyOf(r ObservationRecord) HourlyKey {
	return HourlyKey{City: r.City, Date: r.BucketDate(), Hour: r.BucketHour()}
}

// DailyKeyOf returns the daily bucket of a record.
func DailyKeyOf(r ObservationRecord) DailyKey {
	return DailyKey{City: r.City, Date: r.BucketDate()}
}

// AggregateHourly folds records into hourly summaries, sorted by city, date and hour.
// The input slice is not modified. The result only depends on the set of records.
func AggregateHourly(records []ObservationRecord) []HourlySummary {
	sorted := append([]ObservationRecord(nil), records...)
	SortObservations(sorted)

	stats := make(map[HourlyKey]*bucketStats)
	var keys []HourlyKey
	for _, r := range sorted {
		k := HourlyKeyOf(r)
		b, ok := stats[k]
		if !ok {
			b = &bucketStats{}
			stats[k] = b
			keys = append(keys, k)
		}
		b.add(r)
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].City != keys[j].City {
			return keys[i].City < keys[j].City
		}
		if keys[i].Date != keys[j].Date {
			return keys[i].Date < keys[j].Date
		}
		return keys[i].Hour < keys[j].Hour
	})

	out := make([]HourlySummary, 0, len(keys))
	for _, k := range keys {
		b := stats[k]
		n := float64(b.count)
		out = append(out, HourlySummary{
			City:           k.City,
			Date:           k.Date,
			Hour:           k.Hour,
			AvgTemperature: b.sumTemp / n,
			MinTemperature: b.minTemp,
			MaxTemperature: b.maxTemp,
			AvgHumidity:    b.sumHumidity / n,
			RecordCount:    b.count,
		})
	}
	return out
}

// AggregateDaily folds records into daily summaries, sorted by city and date.
func AggregateDaily(records []ObservationRecord) []DailySummary {
	sorted := append([]ObservationRecord(nil), records...)
	SortObservations(sorted)

	stats := make(map[DailyKey]*bucketStats)
	var keys []DailyKey
	for _, r := range sorted {
		k := DailyKeyOf(r)
		b, ok := stats[k]
		if !ok {
			b = &bucketStats{}
			stats[k] = b
			keys = append(keys, k)
		}
		b.add(r)
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].City != keys[j].City {
			return keys[i].City < keys[j].City
		}
		return keys[i].Date < keys[j].Date
	})

	out := make([]DailySummary, 0, len(keys))
	for _, k := range keys {
		b := stats[k]
		n := float64(b.count)
		out = append(out, DailySummary{
			City:           k.City,
			Date:           k.Date,
			AvgTemperature: b.sumTemp / n,
			MinTemperature: b.minTemp,
			MaxTemperature: b.maxTemp,
			AvgHumidity:    b.sumHumidity / n,
			RecordCount:    b.count,
		})
	}
	return out
}
