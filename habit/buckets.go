package habit

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DAY BUCKETS - Calendar read model
// =============================================================================

type BucketClass string

const (
	BucketEmpty  BucketClass = "empty"
	BucketLow    BucketClass = "low"
	BucketMid    BucketClass = "mid"
	BucketHigh   BucketClass = "high"
	BucketFuture BucketClass = "future"
)

// Classification thresholds on a day's point sum.
const (
	midDayThreshold  = 45
	highDayThreshold = 60
)

type DayBucket struct {
	Date    Date
	Entries []LogEntry
	Points  int
	Class   BucketClass
}

// ClassifyDay maps a day's entries to its calendar class.
//
//	after today     -> future
//	no entries      -> empty
//	sum < 45        -> low
//	45 <= sum <= 60 -> mid
//	sum > 60        -> high
func ClassifyDay(day, today Date, entries int, points int) BucketClass {
	switch {
	case day.After(today):
		return BucketFuture
	case entries == 0:
		return BucketEmpty
	case points < midDayThreshold:
		return BucketLow
	case points <= highDayThreshold:
		return BucketMid
	default:
		return BucketHigh
	}
}

// GetDayBuckets returns one bucket for every day of the month. Entries in a
// bucket are ordered by OccurredAt.
func (e *Engine) GetDayBuckets(ctx context.Context, user UserID, year int, month time.Month) (map[Date]DayBucket, error) {
	from := StartOfMonth(year, month)
	to := EndOfMonth(year, month)

	entries, err := e.store.ListRange(ctx, user, from, to)
	if err != nil {
		return nil, storageErr("list range", user, err)
	}
	return BuildDayBuckets(entries, from, to, e.Today()), nil
}

// BuildDayBuckets groups entries into one bucket per day in [from, to].
func BuildDayBuckets(entries []LogEntry, from, to, today Date) map[Date]DayBucket {
	byDay := make(map[Date][]LogEntry)
	for _, entry := range entries {
		byDay[entry.CalendarDate] = append(byDay[entry.CalendarDate], entry)
	}

	buckets := make(map[Date]DayBucket)
	for day := from; !day.After(to); day = day.AddDays(1) {
		dayEntries := byDay[day]
		sort.SliceStable(dayEntries, func(i, j int) bool {
			return RecencyLess(dayEntries[i], dayEntries[j])
		})

		points := 0
		for _, entry := range dayEntries {
			points += entry.PointValue
		}
		buckets[day] = DayBucket{
			Date:    day,
			Entries: dayEntries,
			Points:  points,
			Class:   ClassifyDay(day, today, len(dayEntries), points),
		}
	}
	return buckets
}

// =============================================================================
// DAILY BREAKDOWN - Good vs bad habits on one day
// =============================================================================

type Breakdown struct {
	Date      Date
	Good      int
	Bad       int
	Points    int
	GoodShare decimal.Decimal // percentage of entries that were good, 2 dp
}

// DailyBreakdown counts good and bad habits user logged on date. The kind
// comes from the catalog; habits no longer in the catalog fall back to the
// sign of the logged points.
func (e *Engine) DailyBreakdown(ctx context.Context, user UserID, date Date) (Breakdown, error) {
	entries, err := e.store.ListRange(ctx, user, date, date)
	if err != nil {
		return Breakdown{}, storageErr("list range", user, err)
	}

	b := Breakdown{Date: date, GoodShare: decimal.Zero}
	for _, entry := range entries {
		b.Points += entry.PointValue
		kind, err := e.kindOf(ctx, entry)
		if err != nil {
			return Breakdown{}, err
		}
		if kind == KindGood {
			b.Good++
		} else {
			b.Bad++
		}
	}

	if total := b.Good + b.Bad; total > 0 {
		b.GoodShare = decimal.NewFromInt(int64(b.Good)).
			Mul(decimal.NewFromInt(100)).
			Div(decimal.NewFromInt(int64(total))).
			Round(2)
	}
	return b, nil
}

func (e *Engine) kindOf(ctx context.Context, entry LogEntry) (Kind, error) {
	def, err := e.catalog.Lookup(ctx, entry.HabitName)
	switch {
	case err == nil:
		return def.Kind, nil
	case IsNotFound(err):
		if entry.IsPositive() {
			return KindGood, nil
		}
		return KindBad, nil
	default:
		return "", storageErr("lookup habit", entry.Owner, err)
	}
}
