package normalization

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"marketshare-qaqc/internal/config"
	"marketshare-qaqc/internal/domain"
	"marketshare-qaqc/internal/idhash"
	"marketshare-qaqc/internal/logging"
	"marketshare-qaqc/internal/reporting"
	"marketshare-qaqc/internal/storage"
	"marketshare-qaqc/internal/storage/sqlite"
)

// ErrNoInput is returned when no input location holds CSV files.
var ErrNoInput = errors.New("no input files found")

// progressEvery controls how often (in chunks) progress is logged.
const progressEvery = 5

// Options configures a Canonicalizer.
type Options struct {
	InputDirs    []string // searched in order, first with CSV files wins
	ChunkSize    int      // rows per committed append
	ManifestPath string
	GroupTypes   config.VendorGroupTypeConfig
	Logger       *zap.Logger
}

// Result describes one canonicalization run.
type Result struct {
	InputDir    string
	SourceFiles []string
	RowCount    int64
	DroppedRows int64
	BadMonths   int64 // subset of DroppedRows with an unparseable month
	Digest      string // SHA256 of admitted rows in insertion order
}

// Canonicalizer turns raw vendor extracts into the canonical table.
type Canonicalizer struct {
	store storage.CanonicalStore
	opts  Options
	log   *zap.Logger
}

// NewCanonicalizer creates a canonicalizer writing into store.
func NewCanonicalizer(store storage.CanonicalStore, opts Options) *Canonicalizer {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 200000
	}
	return &Canonicalizer{
		store: store,
		opts:  opts,
		log:   logging.OrNop(opts.Logger),
	}
}

// Run rebuilds the canonical table from scratch.
// Steps:
//  1. Pick the input directory
//  2. Reset the store and remove the previous manifest
//  3. Stream every file in chunks into the store
//  4. Build indexes and write the manifest
func (c *Canonicalizer) Run(ctx context.Context) (*Result, error) {
	// 1. Input selection
	dir, files, err := pickInput(c.opts.InputDirs)
	if err != nil {
		return nil, err
	}

	// 2. Idempotent rebuild
	if c.opts.ManifestPath != "" {
		if err := reporting.RemoveOutput(c.opts.ManifestPath); err != nil {
			return nil, err
		}
	}
	if err := c.store.Reset(ctx); err != nil {
		return nil, fmt.Errorf("reset canonical store: %w", err)
	}

	// 3. Stream inputs
	res := &Result{InputDir: dir}
	digest := idhash.NewRecordDigest()
	chunks := 0
	for _, path := range files {
		res.SourceFiles = append(res.SourceFiles, filepath.Join(filepath.Base(dir), filepath.Base(path)))
		d, err := c.loadFile(ctx, path, digest, &chunks)
		if err != nil {
			return nil, err
		}
		res.DroppedRows += d.rows
		res.BadMonths += d.badMonths
	}

	// 4. Indexes + manifest
	c.log.Info("building canonical indexes", zap.Int64("rows", digest.Count()))
	if err := c.store.Finalize(ctx); err != nil {
		return nil, fmt.Errorf("finalize canonical store: %w", err)
	}
	res.RowCount = digest.Count()
	res.Digest = digest.Sum()

	if c.opts.ManifestPath != "" {
		if err := c.writeManifest(res); err != nil {
			return nil, err
		}
	}

	c.log.Info("canonicalization complete",
		zap.String("input_dir", dir),
		zap.Int("files", len(files)),
		zap.Int64("rows", res.RowCount),
		zap.Int64("dropped", res.DroppedRows),
		zap.Int64("bad_months", res.BadMonths),
	)
	return res, nil
}

func pickInput(dirs []string) (string, []string, error) {
	for _, d := range dirs {
		info, err := os.Stat(d)
		if err != nil || !info.IsDir() {
			continue
		}
		files, err := reporting.ListCSV(d)
		if err != nil {
			return "", nil, fmt.Errorf("list %s: %w", d, err)
		}
		if len(files) > 0 {
			return d, files, nil
		}
	}
	return "", nil, fmt.Errorf("%w in %s", ErrNoInput, strings.Join(dirs, ", "))
}

// drops counts rows rejected while canonicalizing.
type drops struct {
	rows      int64
	badMonths int64
	sample    string // first unparseable month value
}

func (d *drops) add(o drops) {
	d.rows += o.rows
	d.badMonths += o.badMonths
	if d.sample == "" {
		d.sample = o.sample
	}
}

// loadFile streams one CSV into the store and returns what it dropped.
func (c *Canonicalizer) loadFile(ctx context.Context, path string, digest *idhash.RecordDigest, chunks *int) (drops, error) {
	var dropped drops
	f, err := os.Open(path)
	if err != nil {
		return dropped, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return dropped, &reporting.MissingColumnsError{File: path, Columns: requiredColumns}
		}
		return dropped, fmt.Errorf("read header %s: %w", path, err)
	}
	cols, missing := resolveLayout(reporting.HeaderIndex(header))
	if len(missing) > 0 {
		return dropped, &reporting.MissingColumnsError{File: path, Columns: missing}
	}

	chunk := make([][]string, 0, c.opts.ChunkSize)
	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		records, n := c.canonicalize(cols, chunk)
		dropped.add(n)
		chunk = chunk[:0]
		if err := c.store.AppendBatch(ctx, records); err != nil {
			return fmt.Errorf("append chunk from %s: %w", path, err)
		}
		for _, rec := range records {
			digest.Add(rec)
		}
		*chunks++
		if *chunks%progressEvery == 0 {
			c.log.Info("canonicalization progress", zap.Int64("rows", digest.Count()))
		}
		return nil
	}

	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return dropped, fmt.Errorf("read %s: %w", path, err)
		}
		chunk = append(chunk, rec)
		if len(chunk) >= c.opts.ChunkSize {
			if err := flush(); err != nil {
				return dropped, err
			}
		}
	}
	if err := flush(); err != nil {
		return dropped, err
	}
	if dropped.badMonths > 0 {
		c.log.Warn("rows dropped for unparseable month",
			zap.String("file", filepath.Base(path)),
			zap.Int64("rows", dropped.badMonths),
			zap.String("sample", dropped.sample),
		)
	}
	return dropped, nil
}

// canonicalize converts one chunk. The vendor_group source is chosen per
// chunk: vendor_id when any row carries it, else time_scraped, else the
// single-source sentinel. Rows lacking the chosen value collapse into the
// sentinel group.
func (c *Canonicalizer) canonicalize(cols layout, chunk [][]string) ([]*domain.CanonicalRecord, drops) {
	groupCol, groupType := "", c.opts.GroupTypes.SingleSource
	switch {
	case anyPopulated(cols, chunk, colVendorID):
		groupCol, groupType = colVendorID, c.opts.GroupTypes.VendorID
	case anyPopulated(cols, chunk, colTimeScraped):
		groupCol, groupType = colTimeScraped, c.opts.GroupTypes.TimeScraped
	}

	records := make([]*domain.CanonicalRecord, 0, len(chunk))
	var dropped drops
	for _, rec := range chunk {
		spu := clean(cols.get(rec, colSPUID))
		raw := cols.get(rec, colMonth)
		month, err := domain.ParseMonth(raw)
		if err != nil && clean(raw) != "" {
			dropped.badMonths++
			if dropped.sample == "" {
				dropped.sample = raw
			}
		}
		if spu == "" || err != nil {
			dropped.rows++
			continue
		}

		r := &domain.CanonicalRecord{
			Country:          clean(cols.get(rec, colCountry)),
			Platform:         clean(cols.get(rec, colPlatform)),
			Month:            month,
			SellerID:         clean(cols.get(rec, colSellerID)),
			SellerName:       clean(cols.get(rec, colSellerName)),
			SellerURL:        clean(cols.get(rec, colSellerURL)),
			SPUID:            spu,
			SPUName:          clean(cols.get(rec, colSPUName)),
			SPUURL:           clean(cols.get(rec, colSPUURL)),
			CategoryOrSource: clean(cols.get(rec, colCategory)),
			Price:            numeric(cols.get(rec, colPrice)),
			HistoricalQty:    numeric(cols.get(rec, colHistQty)),
			HistoricalRating: numeric(cols.get(rec, colHistRating)),
		}
		if r.Platform == "" {
			r.Platform = unknownPlatform
		}

		r.VendorGroup, r.VendorGroupType = singleSource, c.opts.GroupTypes.SingleSource
		if groupCol != "" {
			if v := clean(cols.get(rec, groupCol)); v != "" {
				r.VendorGroup, r.VendorGroupType = v, groupType
			}
		}
		records = append(records, r)
	}
	return records, dropped
}

// singleSource is the vendor_group value when no source identifier exists.
const singleSource = "SINGLE_SOURCE"

func anyPopulated(cols layout, chunk [][]string, attr string) bool {
	if cols[attr] < 0 {
		return false
	}
	for _, rec := range chunk {
		if clean(cols.get(rec, attr)) != "" {
			return true
		}
	}
	return false
}

// clean trims whitespace and treats textual nulls as empty.
func clean(s string) string {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "nan", "null", "none", "<na>":
		return ""
	}
	return s
}

func numeric(s string) *float64 {
	v, ok := reporting.ParseFloat(s)
	if !ok {
		return nil
	}
	return &v
}

func (c *Canonicalizer) writeManifest(res *Result) error {
	g := c.opts.GroupTypes
	var sb strings.Builder
	fmt.Fprintf(&sb, "chunk_size=%d\n", c.opts.ChunkSize)
	fmt.Fprintf(&sb, "vendor_group_type=vendor_id:%s,time_scraped:%s,single_source:%s\n",
		g.VendorID, g.TimeScraped, g.SingleSource)
	fmt.Fprintf(&sb, "input_dir=%s\n", filepath.Base(res.InputDir))
	fmt.Fprintf(&sb, "source_files=%s\n", strings.Join(res.SourceFiles, ","))
	sb.WriteString("stored_as=sqlite\n")
	fmt.Fprintf(&sb, "row_count=%d\n", res.RowCount)
	fmt.Fprintf(&sb, "dropped_rows=%d\n", res.DroppedRows)
	fmt.Fprintf(&sb, "bad_month_rows=%d\n", res.BadMonths)
	fmt.Fprintf(&sb, "content_sha256=%s\n", res.Digest)

	if err := os.MkdirAll(filepath.Dir(c.opts.ManifestPath), 0755); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}
	if err := os.WriteFile(c.opts.ManifestPath, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// RemoveArtifacts deletes the canonical store file and the manifest.
func RemoveArtifacts(dbPath, manifestPath string) error {
	if _, err := sqlite.RemoveFiles(dbPath); err != nil {
		return err
	}
	return reporting.RemoveOutput(manifestPath)
}
