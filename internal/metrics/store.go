package metrics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"marketshare-qaqc/internal/logging"
	"marketshare-qaqc/internal/storage/sqlite"
)

var (
	// ErrSealed is returned when writing to a store that has been read.
	ErrSealed = errors.New("aggregation store sealed")

	// ErrNoColumns is returned when a query names no columns.
	ErrNoColumns = errors.New("query needs at least one column")
)

// Reducer collapses one series of a key into a single value.
type Reducer int

const (
	ReduceCount     Reducer = iota // rows in the series
	ReduceDistinct                 // distinct non-empty text values
	ReduceSum                      // sum of numeric values
	ReduceMean                     // mean of numeric values
	ReduceMin                      // minimum numeric value
	ReduceMax                      // maximum numeric value
	ReduceMedian                   // statistical median of numeric values
	ReduceMinText                  // lexically smallest non-empty text
	ReduceModeCount                // occurrences of the most frequent text
)

func (r Reducer) streamed() bool {
	return r == ReduceMedian || r == ReduceModeCount
}

// Column asks for one reduced value of one series.
type Column struct {
	Series  string
	Reducer Reducer
}

// Value is a reduced result. Valid is false when the series had no usable
// values for the key; counts are always valid.
type Value struct {
	Num   float64
	Text  string
	Valid bool
}

// Or returns Num, or def when the value is missing.
func (v Value) Or(def float64) float64 {
	if !v.Valid {
		return def
	}
	return v.Num
}

// Entry is one (key, value) pair tagged with a series name.
type Entry struct {
	Key    Key
	Series string
	Text   string // empty means no text value
	Num    float64
	HasNum bool
}

// TextEntry builds an entry carrying a text value.
func TextEntry(key Key, series, text string) Entry {
	return Entry{Key: key, Series: series, Text: text}
}

// NumEntry builds an entry carrying a numeric value.
func NumEntry(key Key, series string, v float64) Entry {
	return Entry{Key: key, Series: series, Num: v, HasNum: true}
}

// StoreOptions configures a GroupStore.
type StoreOptions struct {
	CommitEvery int // rows per insert transaction
	Logger      *zap.Logger
}

// GroupStore is a disk-backed scratch table of (key, series, text, number)
// rows reduced per key with SQL. One store serves one stage and is removed
// on Close.
type GroupStore struct {
	db          *sqlite.DB
	path        string
	commitEvery int
	log         *zap.Logger

	tx      *sql.Tx
	stmt    *sql.Stmt
	pending int
	added   int64
	sealed  bool
}

// OpenGroupStore creates a fresh store at path. Leftovers from an
// interrupted run at the same path are discarded first.
func OpenGroupStore(ctx context.Context, path string, opts StoreOptions) (*GroupStore, error) {
	log := logging.OrNop(opts.Logger)
	commitEvery := opts.CommitEvery
	if commitEvery <= 0 {
		commitEvery = 50000
	}

	existed, err := sqlite.RemoveFiles(path)
	if err != nil {
		return nil, err
	}
	if existed {
		log.Warn("discarded leftover aggregation store", zap.String("path", path))
	}

	db, err := sqlite.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	// Scratch data: durability is not needed.
	if _, err := db.ExecContext(ctx, `PRAGMA synchronous=OFF`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure aggregation store: %w", err)
	}
	_, err = db.ExecContext(ctx, `CREATE TABLE pairs (k TEXT NOT NULL, s TEXT NOT NULL, t TEXT, n REAL)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create pairs table: %w", err)
	}

	return &GroupStore{
		db:          db,
		path:        path,
		commitEvery: commitEvery,
		log:         log,
	}, nil
}

// Add appends one entry. Inserts are committed every CommitEvery rows.
func (g *GroupStore) Add(ctx context.Context, e Entry) error {
	if g.sealed {
		return ErrSealed
	}
	if g.tx == nil {
		if err := g.begin(ctx); err != nil {
			return err
		}
	}

	var text sql.NullString
	if e.Text != "" {
		text = sql.NullString{String: e.Text, Valid: true}
	}
	var num sql.NullFloat64
	if e.HasNum {
		num = sql.NullFloat64{Float64: e.Num, Valid: true}
	}
	if _, err := g.stmt.ExecContext(ctx, e.Key.Encode(), e.Series, text, num); err != nil {
		return fmt.Errorf("insert pair: %w", err)
	}

	g.pending++
	g.added++
	if g.pending >= g.commitEvery {
		return g.commit()
	}
	return nil
}

// AddBatch appends entries in order.
func (g *GroupStore) AddBatch(ctx context.Context, entries []Entry) error {
	for _, e := range entries {
		if err := g.Add(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// Added returns the number of entries written.
func (g *GroupStore) Added() int64 {
	return g.added
}

func (g *GroupStore) begin(ctx context.Context) error {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO pairs (k, s, t, n) VALUES (?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare insert: %w", err)
	}
	g.tx = tx
	g.stmt = stmt
	return nil
}

func (g *GroupStore) commit() error {
	if g.tx == nil {
		return nil
	}
	g.stmt.Close()
	err := g.tx.Commit()
	g.tx, g.stmt, g.pending = nil, nil, 0
	if err != nil {
		return fmt.Errorf("commit pairs: %w", err)
	}
	return nil
}

// Seal commits pending writes and builds the read indexes. Further writes
// fail with ErrSealed. Safe to call more than once.
func (g *GroupStore) Seal(ctx context.Context) error {
	if g.sealed {
		return nil
	}
	if err := g.commit(); err != nil {
		return err
	}
	for _, q := range []string{
		`CREATE INDEX idx_pairs_k ON pairs(k)`,
		`CREATE INDEX idx_pairs_s_k_t ON pairs(s, k, t)`,
	} {
		if _, err := g.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	g.sealed = true
	g.log.Debug("aggregation store sealed", zap.String("path", g.path), zap.Int64("rows", g.added))
	return nil
}

// Query reduces every key that has at least one of the requested series and
// calls fn once per key in ascending key order. vals[i] answers cols[i];
// series absent for a key yield zero counts and invalid values.
func (g *GroupStore) Query(ctx context.Context, cols []Column, fn func(Key, []Value) error) error {
	if len(cols) == 0 {
		return ErrNoColumns
	}
	if err := g.Seal(ctx); err != nil {
		return err
	}
	for _, c := range cols {
		if c.Reducer.streamed() {
			return g.queryStreamed(ctx, cols, fn)
		}
	}
	return g.queryPivot(ctx, cols, fn)
}

// Collect runs Query and gathers results into a map keyed by encoded key.
// Only for result sets known to be small.
func (g *GroupStore) Collect(ctx context.Context, cols []Column) (map[string][]Value, error) {
	out := make(map[string][]Value)
	err := g.Query(ctx, cols, func(k Key, vals []Value) error {
		out[k.Encode()] = append([]Value(nil), vals...)
		return nil
	})
	return out, err
}

func seriesFilter(cols []Column) (string, []any) {
	seen := make(map[string]bool)
	var marks []string
	var args []any
	for _, c := range cols {
		if seen[c.Series] {
			continue
		}
		seen[c.Series] = true
		marks = append(marks, "?")
		args = append(args, c.Series)
	}
	return "s IN (" + strings.Join(marks, ", ") + ")", args
}

func pivotExpr(r Reducer) string {
	switch r {
	case ReduceCount:
		return `SUM(CASE WHEN s = ? THEN 1 ELSE 0 END)`
	case ReduceDistinct:
		return `COUNT(DISTINCT CASE WHEN s = ? THEN t END)`
	case ReduceSum:
		return `SUM(CASE WHEN s = ? THEN n END)`
	case ReduceMean:
		return `AVG(CASE WHEN s = ? THEN n END)`
	case ReduceMin:
		return `MIN(CASE WHEN s = ? THEN n END)`
	case ReduceMax:
		return `MAX(CASE WHEN s = ? THEN n END)`
	case ReduceMinText:
		return `MIN(CASE WHEN s = ? THEN t END)`
	}
	return ""
}

func (g *GroupStore) queryPivot(ctx context.Context, cols []Column, fn func(Key, []Value) error) error {
	exprs := make([]string, len(cols))
	var args []any
	for i, c := range cols {
		exprs[i] = pivotExpr(c.Reducer)
		args = append(args, c.Series)
	}
	where, whereArgs := seriesFilter(cols)
	args = append(args, whereArgs...)

	query := `SELECT k, ` + strings.Join(exprs, ", ") + ` FROM pairs WHERE ` + where +
		` GROUP BY k ORDER BY k`
	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query pairs: %w", err)
	}
	defer rows.Close()

	nums := make([]sql.NullFloat64, len(cols))
	texts := make([]sql.NullString, len(cols))
	dest := make([]any, len(cols)+1)
	var rawKey string
	dest[0] = &rawKey
	for i, c := range cols {
		if c.Reducer == ReduceMinText {
			dest[i+1] = &texts[i]
		} else {
			dest[i+1] = &nums[i]
		}
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return fmt.Errorf("scan pairs: %w", err)
		}
		vals := make([]Value, len(cols))
		for i, c := range cols {
			switch c.Reducer {
			case ReduceMinText:
				vals[i] = Value{Text: texts[i].String, Valid: texts[i].Valid}
			case ReduceCount, ReduceDistinct:
				vals[i] = Value{Num: nums[i].Float64, Valid: true}
			default:
				vals[i] = Value{Num: nums[i].Float64, Valid: nums[i].Valid}
			}
		}
		if err := fn(decodeKey(rawKey), vals); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (g *GroupStore) queryStreamed(ctx context.Context, cols []Column, fn func(Key, []Value) error) error {
	where, args := seriesFilter(cols)
	rows, err := g.db.QueryContext(ctx, `SELECT k, s, t, n FROM pairs WHERE `+where+` ORDER BY k`, args...)
	if err != nil {
		return fmt.Errorf("query pairs: %w", err)
	}
	defer rows.Close()

	accs := make([]*accumulator, len(cols))
	for i, c := range cols {
		accs[i] = newAccumulator(c.Reducer)
	}
	emit := func(k string) error {
		vals := make([]Value, len(cols))
		for i, a := range accs {
			vals[i] = a.value()
			a.reset()
		}
		return fn(decodeKey(k), vals)
	}

	var current string
	started := false
	for rows.Next() {
		var (
			k, s string
			t    sql.NullString
			n    sql.NullFloat64
		)
		if err := rows.Scan(&k, &s, &t, &n); err != nil {
			return fmt.Errorf("scan pairs: %w", err)
		}
		if started && k != current {
			if err := emit(current); err != nil {
				return err
			}
		}
		current, started = k, true
		for i, c := range cols {
			if c.Series == s {
				accs[i].add(t, n)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if started {
		return emit(current)
	}
	return nil
}

// Close drops the store and removes its files.
func (g *GroupStore) Close() error {
	if g.tx != nil {
		g.stmt.Close()
		g.tx.Rollback()
		g.tx, g.stmt = nil, nil
	}
	err := g.db.Close()
	if _, rmErr := sqlite.RemoveFiles(g.path); rmErr != nil && err == nil {
		err = rmErr
	}
	return err
}

// accumulator reduces one column for the current key.
type accumulator struct {
	reducer Reducer
	count   int
	nums    []float64
	texts   map[string]int
	sum     float64
	numSeen int
	min     float64
	max     float64
	minText string
	hasText bool
}

func newAccumulator(r Reducer) *accumulator {
	a := &accumulator{reducer: r}
	a.reset()
	return a
}

func (a *accumulator) reset() {
	a.count, a.sum, a.numSeen = 0, 0, 0
	a.min, a.max = 0, 0
	a.minText, a.hasText = "", false
	a.nums = a.nums[:0]
	if a.reducer == ReduceDistinct || a.reducer == ReduceModeCount {
		a.texts = make(map[string]int)
	}
}

func (a *accumulator) add(t sql.NullString, n sql.NullFloat64) {
	a.count++
	if t.Valid {
		if a.texts != nil {
			a.texts[t.String]++
		}
		if !a.hasText || t.String < a.minText {
			a.minText, a.hasText = t.String, true
		}
	}
	if n.Valid {
		v := n.Float64
		if a.numSeen == 0 || v < a.min {
			a.min = v
		}
		if a.numSeen == 0 || v > a.max {
			a.max = v
		}
		a.sum += v
		a.numSeen++
		if a.reducer == ReduceMedian {
			a.nums = append(a.nums, v)
		}
	}
}

func (a *accumulator) value() Value {
	switch a.reducer {
	case ReduceCount:
		return Value{Num: float64(a.count), Valid: true}
	case ReduceDistinct:
		return Value{Num: float64(len(a.texts)), Valid: true}
	case ReduceSum:
		return Value{Num: a.sum, Valid: a.numSeen > 0}
	case ReduceMean:
		if a.numSeen == 0 {
			return Value{}
		}
		return Value{Num: a.sum / float64(a.numSeen), Valid: true}
	case ReduceMin:
		return Value{Num: a.min, Valid: a.numSeen > 0}
	case ReduceMax:
		return Value{Num: a.max, Valid: a.numSeen > 0}
	case ReduceMedian:
		m, ok := Median(a.nums)
		return Value{Num: m, Valid: ok}
	case ReduceMinText:
		return Value{Text: a.minText, Valid: a.hasText}
	case ReduceModeCount:
		best := 0
		for _, c := range a.texts {
			if c > best {
				best = c
			}
		}
		return Value{Num: float64(best), Valid: true}
	}
	return Value{}
}
