package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"

	"marketshare-qaqc/internal/domain"
)

// RecordDigest accumulates a SHA256 over canonical records in insertion order.
// Each record contributes one line:
// country|platform|month|seller_id|seller_name|seller_url|spu_id|spu_name|spu_url|category_or_source|vendor_group|vendor_group_type|price|historical_quantity|historical_rating
type RecordDigest struct {
	h hash.Hash
	n int64
}

// NewRecordDigest creates an empty digest.
func NewRecordDigest() *RecordDigest {
	return &RecordDigest{h: sha256.New()}
}

// Add folds one record into the digest.
func (d *RecordDigest) Add(r *domain.CanonicalRecord) {
	fmt.Fprintf(d.h, "%s|%s|%s|%s|%s|%s|%s|%s|%s|%s|%s|%s|%s|%s|%s\n",
		r.Country,
		r.Platform,
		r.Month.String(),
		r.SellerID,
		r.SellerName,
		r.SellerURL,
		r.SPUID,
		r.SPUName,
		r.SPUURL,
		r.CategoryOrSource,
		r.VendorGroup,
		r.VendorGroupType,
		optional(r.Price),
		optional(r.HistoricalQty),
		optional(r.HistoricalRating),
	)
	d.n++
}

// Count returns the number of records folded in.
func (d *RecordDigest) Count() int64 {
	return d.n
}

// Sum returns the hex-encoded digest (64 characters).
func (d *RecordDigest) Sum() string {
	return hex.EncodeToString(d.h.Sum(nil))
}

func optional(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%g", *v)
}
