package rollup

import (
	"errors"

	"go.uber.org/zap"

	"marketshare-qaqc/internal/metrics"
	"marketshare-qaqc/internal/reporting"
)

// scopeSet is the in-scope entity list of one level. A nil keys map means
// every entity is in scope. When byID is set the list carries entity ids
// only and matches across every (country, platform).
type scopeSet struct {
	keys map[string]struct{}
	byID bool
}

func (s scopeSet) contains(k metrics.Key) bool {
	if s.keys == nil {
		return true
	}
	if s.byID {
		_, ok := s.keys[k.Part(2)]
		return ok
	}
	_, ok := s.keys[k.Encode()]
	return ok
}

// loadScope reads the in-scope list of the level. Rows carrying country and
// platform are matched on the full key; a bare id list (seller_used_id or
// category_url alone) is matched on the id. Without a scope file every
// entity counts toward the rates; a file lacking an id column is a
// configuration error.
func (r *EntityRollup) loadScope(path string) (scopeSet, error) {
	if path == "" {
		return scopeSet{}, nil
	}
	index, err := reporting.ReadHeader(path)
	if errors.Is(err, reporting.ErrOutputMissing) {
		r.log.Warn("scope file missing, all entities in scope",
			zap.String("level", string(r.lvl.name)), zap.String("path", path))
		return scopeSet{}, nil
	}
	if err != nil {
		return scopeSet{}, err
	}

	idCol := ""
	for _, c := range r.lvl.scopeIDs {
		if _, ok := index[c]; ok {
			idCol = c
			break
		}
	}
	if idCol == "" {
		return scopeSet{}, &reporting.MissingColumnsError{File: path, Columns: []string{r.lvl.column}}
	}
	_, hasCountry := index["country"]
	_, hasPlatform := index["platform"]
	set := scopeSet{keys: make(map[string]struct{}), byID: !hasCountry || !hasPlatform}
	if set.byID {
		r.log.Info("scope file has no country/platform, matching on id",
			zap.String("level", string(r.lvl.name)), zap.String("column", idCol))
	}

	err = reporting.ScanCSV(path, []string{idCol}, func(row reporting.Row) error {
		id := row.Get(idCol)
		if id == "" {
			return nil
		}
		if set.byID {
			set.keys[id] = struct{}{}
			return nil
		}
		set.keys[metrics.K(row.Get("country"), row.Get("platform"), id).Encode()] = struct{}{}
		return nil
	})
	if err != nil {
		return scopeSet{}, err
	}
	return set, nil
}
