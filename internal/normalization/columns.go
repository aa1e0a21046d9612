package normalization

// Canonical attribute names.
const (
	colSPUID       = "spu_id"
	colMonth       = "month"
	colSPUName     = "spu_name"
	colSPUURL      = "spu_url"
	colSellerID    = "seller_id"
	colSellerName  = "seller_name"
	colSellerURL   = "seller_url"
	colCategory    = "category_or_source"
	colCountry     = "country"
	colPlatform    = "platform"
	colVendorID    = "vendor_id"
	colTimeScraped = "time_scraped"
	colPrice       = "price"
	colHistQty     = "historical_quantity"
	colHistRating  = "historical_rating"
)

// columnAliases lists accepted input headers per attribute, first match wins.
var columnAliases = map[string][]string{
	colSPUID:       {"spu_used_id", "spu_id"},
	colMonth:       {"month"},
	colSPUName:     {"spu_name"},
	colSPUURL:      {"spu_url"},
	colSellerID:    {"seller_used_id", "seller_id"},
	colSellerName:  {"seller_name"},
	colSellerURL:   {"seller_url"},
	colCategory:    {"source", "category_url", "category_or_source"},
	colCountry:     {"country"},
	colPlatform:    {"platform"},
	colVendorID:    {"vendor_id"},
	colTimeScraped: {"time_scraped"},
	colPrice:       {"asp", "price"},
	colHistQty:     {"historical_quantity"},
	colHistRating:  {"historical_rating", "historical_review"},
}

// requiredColumns must resolve in every input file.
var requiredColumns = []string{colCountry, colPlatform, colMonth, colSellerID, colSPUID, colCategory}

// unknownPlatform replaces an empty platform value.
const unknownPlatform = "UNKNOWN"

// layout maps canonical attributes to column positions of one file.
// Absent attributes map to -1.
type layout map[string]int

func resolveLayout(index map[string]int) (layout, []string) {
	l := make(layout, len(columnAliases))
	for attr, aliases := range columnAliases {
		l[attr] = -1
		for _, alias := range aliases {
			if i, ok := index[alias]; ok {
				l[attr] = i
				break
			}
		}
	}

	var missing []string
	for _, attr := range requiredColumns {
		if l[attr] < 0 {
			missing = append(missing, columnAliases[attr][0])
		}
	}
	return l, missing
}

// get returns the value of attr in rec, or "" when the column is absent.
func (l layout) get(rec []string, attr string) string {
	i := l[attr]
	if i < 0 || i >= len(rec) {
		return ""
	}
	return rec[i]
}
