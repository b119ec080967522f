package timeline

// LabeledRow is a grid row with its resolved transition label.
type LabeledRow struct {
	Row
	Label Label
}

// Step applies one row to the register and returns the new register value and
// the row's label. Hour 0 resets the register to offline before the row is
// evaluated. Absent rows and rows that repeat the current state leave the
// register unchanged.
func Step(reg State, row Row) (State, Label, error) {
	if row.Key.Hour == 0 {
		reg = StateOffline
	}
	if !row.Status.IsValid() {
		return reg, 0, contractErr(row.Key, RuleRawStatus, "unknown status %q", string(row.Status))
	}
	if (row.Status == StatusAbsent) != row.At.IsZero() {
		return reg, 0, contractErr(row.Key, RuleEventPresence, "status %s does not match event presence", row.Status)
	}

	switch row.Status {
	case StatusOnline:
		if reg == StateOffline {
			return StateOnline, LabelOfflineOnline, nil
		}
	case StatusOffline:
		if reg == StateOnline {
			return StateOffline, LabelOnlineOffline, nil
		}
	}
	return reg, steady(reg), nil
}

// ResolveProvider folds Step over one provider's rows, which must be ordered by
// date, hour and event time. The register starts offline and is reset at the
// first row of every date, so dates without an hour 0 bucket still start
// offline.
func ResolveProvider(rows []Row) ([]LabeledRow, error) {
	out := make([]LabeledRow, 0, len(rows))
	reg := StateOffline
	for i, row := range rows {
		if i > 0 {
			prev := rows[i-1]
			if !prev.Key.Date.Equal(row.Key.Date) {
				reg = StateOffline
			}
			if rowBefore(row, prev) {
				return nil, contractErr(row.Key, RuleRowOrder, "row is out of date/hour/time order")
			}
		}
		next, label, err := Step(reg, row)
		if err != nil {
			return nil, err
		}
		reg = next
		out = append(out, LabeledRow{Row: row, Label: label})
	}
	return out, nil
}

func rowBefore(row, prev Row) bool {
	if row.Key.Date.Before(prev.Key.Date) {
		return true
	}
	if !row.Key.Date.Equal(prev.Key.Date) {
		return false
	}
	if row.Key.Hour != prev.Key.Hour {
		return row.Key.Hour < prev.Key.Hour
	}
	return !row.At.IsZero() && !prev.At.IsZero() && row.At.Before(prev.At)
}
