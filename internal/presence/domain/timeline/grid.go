package timeline

import (
	"sort"
	"time"
)

const dateLayout = "2006-01-02"

// Event is one filtered status event as supplied by the loader.
type Event struct {
	ProviderID string
	At         time.Time
	Date       time.Time
	Hour       int
	Status     Status
}

// BucketKey identifies one hour bucket of one provider on one date.
type BucketKey struct {
	ProviderID string
	Date       time.Time
	Hour       int
}

// Start returns the first instant of the bucket.
func (k BucketKey) Start() time.Time {
	return k.Date.Add(time.Duration(k.Hour) * time.Hour)
}

// End returns the first instant after the bucket.
func (k BucketKey) End() time.Time {
	return k.Start().Add(time.Hour)
}

func (k BucketKey) same(other BucketKey) bool {
	return k.ProviderID == other.ProviderID && k.Hour == other.Hour && k.Date.Equal(other.Date)
}

// Row is one grid row: a bucket plus at most one event. Absent rows have a zero
// At and StatusAbsent.
type Row struct {
	Key    BucketKey
	At     time.Time
	Status Status
}

// Cell holds every event that fell into one bucket, ordered by time.
type Cell struct {
	Key    BucketKey
	Events []Event
}

// Grid is the dense provider x date x hour cross product joined with events.
// Cells are stored provider-major, then by date, then by hour.
type Grid struct {
	Providers []string
	Dates     []time.Time
	Hours     []int
	// Unmatched counts events whose date or hour is not part of the grid.
	Unmatched int

	cells []Cell
}

// Len returns the number of cells.
func (g *Grid) Len() int { return len(g.cells) }

// Cells returns all cells in grid order.
func (g *Grid) Cells() []Cell { return g.cells }

// ProviderCells returns the cells of the i-th provider.
func (g *Grid) ProviderCells(i int) []Cell {
	span := len(g.Dates) * len(g.Hours)
	return g.cells[i*span : (i+1)*span]
}

// ProviderRows expands the i-th provider's cells into ordered grid rows. A cell
// without events yields a single absent row.
func (g *Grid) ProviderRows(i int) []Row {
	cells := g.ProviderCells(i)
	rows := make([]Row, 0, len(cells))
	for _, cell := range cells {
		if len(cell.Events) == 0 {
			rows = append(rows, Row{Key: cell.Key, Status: StatusAbsent})
			continue
		}
		for _, ev := range cell.Events {
			rows = append(rows, Row{Key: cell.Key, At: ev.At, Status: ev.Status})
		}
	}
	return rows
}

type eventKey struct {
	providerID string
	at         int64
}

// BuildGrid creates one cell per provider, date and hour and places every
// event into its cell. Providers are the distinct ids found in events.
func BuildGrid(events []Event, dates []time.Time, hours []int) (*Grid, error) {
	days, err := normalizeDates(dates)
	if err != nil {
		return nil, err
	}
	hrs, err := normalizeHours(hours)
	if err != nil {
		return nil, err
	}

	providerSet := make(map[string]struct{})
	for _, ev := range events {
		providerSet[ev.ProviderID] = struct{}{}
	}
	providers := make([]string, 0, len(providerSet))
	for id := range providerSet {
		providers = append(providers, id)
	}
	sort.Strings(providers)

	providerIndex := make(map[string]int, len(providers))
	for i, id := range providers {
		providerIndex[id] = i
	}
	dateIndex := make(map[string]int, len(days))
	for i, day := range days {
		dateIndex[day.Format(dateLayout)] = i
	}
	hourIndex := [24]int{}
	for i := range hourIndex {
		hourIndex[i] = -1
	}
	for i, h := range hrs {
		hourIndex[h] = i
	}

	grid := &Grid{
		Providers: providers,
		Dates:     days,
		Hours:     hrs,
		cells:     make([]Cell, 0, len(providers)*len(days)*len(hrs)),
	}
	for _, id := range providers {
		for _, day := range days {
			for _, h := range hrs {
				grid.cells = append(grid.cells, Cell{Key: BucketKey{ProviderID: id, Date: day, Hour: h}})
			}
		}
	}

	seen := make(map[eventKey]struct{}, len(events))
	for _, ev := range events {
		key := BucketKey{ProviderID: ev.ProviderID, Date: DayOf(ev.Date), Hour: ev.Hour}
		if err := validateEvent(key, ev); err != nil {
			return nil, err
		}
		ek := eventKey{providerID: ev.ProviderID, at: ev.At.UnixNano()}
		if _, dup := seen[ek]; dup {
			return nil, contractErr(key, RuleDuplicateEvent, "second event at %s", ev.At.Format(time.RFC3339Nano))
		}
		seen[ek] = struct{}{}

		di, ok := dateIndex[key.Date.Format(dateLayout)]
		if !ok || hourIndex[ev.Hour] < 0 {
			grid.Unmatched++
			continue
		}
		idx := (providerIndex[ev.ProviderID]*len(days)+di)*len(hrs) + hourIndex[ev.Hour]
		if cellKey := grid.cells[idx].Key; ev.At.Before(cellKey.Start()) || !ev.At.Before(cellKey.End()) {
			return nil, contractErr(cellKey, RuleEventInBucket, "event time %s is outside bucket [%s, %s)",
				ev.At.Format(time.RFC3339Nano), cellKey.Start().Format(time.RFC3339), cellKey.End().Format(time.RFC3339))
		}
		grid.cells[idx].Events = append(grid.cells[idx].Events, ev)
	}

	for i := range grid.cells {
		if len(grid.cells[i].Events) > 1 {
			evs := grid.cells[i].Events
			sort.SliceStable(evs, func(a, b int) bool { return evs[a].At.Before(evs[b].At) })
		}
	}
	return grid, nil
}

func validateEvent(key BucketKey, ev Event) error {
	if ev.ProviderID == "" {
		return contractErr(key, RuleEventPresence, "empty provider id")
	}
	if ev.Status != StatusOnline && ev.Status != StatusOffline {
		return contractErr(key, RuleRawStatus, "event status %q is not online or offline", string(ev.Status))
	}
	if ev.At.IsZero() {
		return contractErr(key, RuleEventPresence, "event without timestamp")
	}
	if ev.Hour < 0 || ev.Hour > 23 {
		return contractErr(key, RuleEventInBucket, "hour %d outside 0-23", ev.Hour)
	}
	if ev.At.Hour() != ev.Hour || DayOf(ev.At).Format(dateLayout) != key.Date.Format(dateLayout) {
		return contractErr(key, RuleEventInBucket, "event time %s is outside its bucket", ev.At.Format(time.RFC3339Nano))
	}
	return nil
}

func normalizeDates(dates []time.Time) ([]time.Time, error) {
	if len(dates) == 0 {
		return nil, ErrNoDates
	}
	days := make([]time.Time, 0, len(dates))
	seen := make(map[string]struct{}, len(dates))
	for _, d := range dates {
		day := DayOf(d)
		key := day.Format(dateLayout)
		if _, dup := seen[key]; dup {
			return nil, ErrDuplicateDate
		}
		seen[key] = struct{}{}
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days, nil
}

func normalizeHours(hours []int) ([]int, error) {
	if len(hours) == 0 {
		return nil, ErrNoHours
	}
	out := append([]int(nil), hours...)
	sort.Ints(out)
	for i, h := range out {
		if h < 0 || h > 23 {
			return nil, ErrInvalidHour
		}
		if i > 0 && out[i-1] == h {
			return nil, ErrDuplicateHour
		}
	}
	return out, nil
}

// DayOf truncates t to midnight in its own location.
func DayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// AllHours returns the buckets 0 through 23.
func AllHours() []int {
	hours := make([]int, 24)
	for i := range hours {
		hours[i] = i
	}
	return hours
}

// DateRange returns every date from first to last inclusive.
func DateRange(first, last time.Time) []time.Time {
	first, last = DayOf(first), DayOf(last)
	var out []time.Time
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(dateLayout)
}
