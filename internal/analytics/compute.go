// Package analytics derives rolling-window statistics for a queue from its event
// log. Compute is pure; Aggregator loads its inputs and caches the result.
package analytics

import (
	"math"
	"sort"
	"time"

	"qms/queue-dashboard/internal/models"
)

const (
	DefaultWindow = 7
	MaxWindow     = 365

	// missingServiceMinutes stands in for served events recorded without a duration.
	missingServiceMinutes = 15
	trendDays             = 7
	peakHourCount         = 5
	dayLabel              = "Jan 02"
)

type Input struct {
	Events []models.QueueEvent
	// Tokens only needs the rows referenced by cancelled events; their status tells
	// older cancellations apart from no-shows.
	Tokens   []models.Token
	Window   int
	Now      time.Time
	Location *time.Location
}

type HourCount struct {
	Hour  int `json:"hour"`
	Count int `json:"count"`
}

type WaitBucket struct {
	Label           string    `json:"label"`
	Start           time.Time `json:"start"`
	AverageWaitTime int       `json:"average_wait_time"`
	Served          int       `json:"served"`
}

type LengthPoint struct {
	Label  string    `json:"label"`
	Start  time.Time `json:"start"`
	Length int       `json:"length"`
}

type Snapshot struct {
	Window             int           `json:"window_days"`
	GeneratedAt        time.Time     `json:"generated_at"`
	AverageWaitTime    int           `json:"average_wait_time"`
	AverageServiceTime int           `json:"average_service_time"`
	TotalServed        int           `json:"total_served"`
	TotalCancelled     int           `json:"total_cancelled"`
	TotalNoShows       int           `json:"total_no_shows"`
	CancellationRate   int           `json:"cancellation_rate"`
	NoShowRate         int           `json:"no_show_rate"`
	PeakHours          []HourCount   `json:"peak_hours"`
	HourlyWaitTimes    []WaitBucket  `json:"hourly_wait_times"`
	DailyWaitTimes     []WaitBucket  `json:"daily_wait_times"`
	WeeklyWaitTimes    []WaitBucket  `json:"weekly_wait_times"`
	QueueLengthTrend   []LengthPoint `json:"queue_length_trend"`
	WaitTimeTrend      []WaitBucket  `json:"wait_time_trend"`
}

// ValidWindow reports whether days is an accepted window length.
func ValidWindow(days int) bool {
	return days >= 1 && days <= MaxWindow
}

// LoadStart is the earliest instant Compute reads for a window ending at now:
// the window itself or the fixed seven-day trends, whichever reaches further back.
func LoadStart(window int, now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	days := window
	if days < trendDays {
		days = trendDays
	}
	return addDays(startOfDay(now, loc), -(days - 1))
}

func Compute(input Input) Snapshot {
	loc := input.Location
	if loc == nil {
		loc = time.UTC
	}
	window := input.Window
	if window <= 0 {
		window = DefaultWindow
	}
	now := input.Now.In(loc)
	today := startOfDay(now, loc)
	windowStart := addDays(today, -(window - 1))

	noShowTokens := make(map[string]bool)
	for _, token := range input.Tokens {
		if token.Status == models.StatusNoShow {
			noShowTokens[token.ID] = true
		}
	}

	snapshot := Snapshot{Window: window, GeneratedAt: input.Now}
	var inWindow, served, recent []models.QueueEvent
	for _, event := range input.Events {
		if event.CreatedAt.After(now) {
			continue
		}
		if !event.CreatedAt.Before(addDays(today, -(trendDays - 1))) {
			recent = append(recent, event)
		}
		if event.CreatedAt.Before(windowStart) {
			continue
		}
		inWindow = append(inWindow, event)
		switch event.EventType {
		case models.EventServed:
			served = append(served, event)
		case models.EventNoShow:
			snapshot.TotalNoShows++
		case models.EventCancelled:
			if noShowTokens[event.TokenID] {
				snapshot.TotalNoShows++
			} else {
				snapshot.TotalCancelled++
			}
		}
	}
	snapshot.TotalServed = len(served)

	processed := snapshot.TotalServed + snapshot.TotalCancelled + snapshot.TotalNoShows
	snapshot.CancellationRate = percent(snapshot.TotalCancelled, processed)
	snapshot.NoShowRate = percent(snapshot.TotalNoShows, processed)
	snapshot.AverageWaitTime = averageWait(served)
	snapshot.AverageServiceTime = averageService(served)
	snapshot.PeakHours = peakHours(inWindow, loc)

	snapshot.HourlyWaitTimes = make([]WaitBucket, 24)
	for hour := range snapshot.HourlyWaitTimes {
		snapshot.HourlyWaitTimes[hour].Label = hourLabel(hour)
		snapshot.HourlyWaitTimes[hour].Start = today.Add(time.Duration(hour) * time.Hour)
	}
	hourly := make([][]models.QueueEvent, 24)
	for _, event := range served {
		hour := event.CreatedAt.In(loc).Hour()
		hourly[hour] = append(hourly[hour], event)
	}
	for hour, events := range hourly {
		fillWait(&snapshot.HourlyWaitTimes[hour], events)
	}

	snapshot.DailyWaitTimes = dailyWait(served, windowStart, window)

	for start := startOfWeek(windowStart); !start.After(today); start = addDays(start, 7) {
		end := addDays(start, 7)
		bucket := WaitBucket{Label: start.Format(dayLabel), Start: start}
		fillWait(&bucket, between(served, start, end))
		snapshot.WeeklyWaitTimes = append(snapshot.WeeklyWaitTimes, bucket)
	}

	trendStart := addDays(today, -(trendDays - 1))
	var recentServed []models.QueueEvent
	for i := 0; i < trendDays; i++ {
		start := addDays(trendStart, i)
		point := LengthPoint{Label: start.Format(dayLabel), Start: start}
		for _, event := range between(recent, start, addDays(start, 1)) {
			if event.EventType == models.EventAdded {
				point.Length++
			}
		}
		snapshot.QueueLengthTrend = append(snapshot.QueueLengthTrend, point)
	}
	for _, event := range recent {
		if event.EventType == models.EventServed {
			recentServed = append(recentServed, event)
		}
	}
	snapshot.WaitTimeTrend = dailyWait(recentServed, trendStart, trendDays)
	return snapshot
}

func dailyWait(served []models.QueueEvent, from time.Time, days int) []WaitBucket {
	buckets := make([]WaitBucket, 0, days)
	for i := 0; i < days; i++ {
		start := addDays(from, i)
		bucket := WaitBucket{Label: start.Format(dayLabel), Start: start}
		fillWait(&bucket, between(served, start, addDays(start, 1)))
		buckets = append(buckets, bucket)
	}
	return buckets
}

func fillWait(bucket *WaitBucket, served []models.QueueEvent) {
	bucket.Served = len(served)
	bucket.AverageWaitTime = averageWait(served)
}

func between(events []models.QueueEvent, from, to time.Time) []models.QueueEvent {
	var out []models.QueueEvent
	for _, event := range events {
		if !event.CreatedAt.Before(from) && event.CreatedAt.Before(to) {
			out = append(out, event)
		}
	}
	return out
}

func averageWait(served []models.QueueEvent) int {
	if len(served) == 0 {
		return 0
	}
	total := 0
	for _, event := range served {
		if event.WaitTimeMinutes != nil {
			total += *event.WaitTimeMinutes
		}
	}
	return roundDiv(total, len(served))
}

func averageService(served []models.QueueEvent) int {
	if len(served) == 0 {
		return 0
	}
	total := 0
	for _, event := range served {
		if event.ServiceDurationMinutes != nil {
			total += *event.ServiceDurationMinutes
		} else {
			total += missingServiceMinutes
		}
	}
	return roundDiv(total, len(served))
}

func peakHours(events []models.QueueEvent, loc *time.Location) []HourCount {
	counts := make(map[int]int)
	for _, event := range events {
		counts[event.CreatedAt.In(loc).Hour()]++
	}
	peaks := make([]HourCount, 0, len(counts))
	for hour, count := range counts {
		peaks = append(peaks, HourCount{Hour: hour, Count: count})
	}
	sort.Slice(peaks, func(i, j int) bool {
		if peaks[i].Count != peaks[j].Count {
			return peaks[i].Count > peaks[j].Count
		}
		return peaks[i].Hour < peaks[j].Hour
	})
	if len(peaks) > peakHourCount {
		peaks = peaks[:peakHourCount]
	}
	return peaks
}

func percent(part, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(part) / float64(total) * 100))
}

func roundDiv(total, n int) int {
	if n == 0 {
		return 0
	}
	return int(math.Round(float64(total) / float64(n)))
}

func hourLabel(hour int) string {
	return time.Date(2000, 1, 1, hour, 0, 0, 0, time.UTC).Format("15:04")
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

func addDays(day time.Time, n int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day()+n, 0, 0, 0, 0, day.Location())
}

func startOfWeek(day time.Time) time.Time {
	return addDays(day, -int(day.Weekday()))
}
