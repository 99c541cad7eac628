package billing

import (
	"fmt"
	"strings"
	"time"
)

// DefaultInvoicePrefix is used when settings carry an empty prefix.
const DefaultInvoicePrefix = "WC"

// FormatInvoiceNo renders "{prefix}-{year}-{seq:05d}".
func FormatInvoiceNo(prefix string, year int, seq int64) string {
	return fmt.Sprintf("%s-%d-%05d", prefix, year, seq)
}

// ReserveInvoiceNo assigns the next number from settings and advances the
// counter in place. It must run inside the same store transaction that
// writes the finalized invoice; the transaction is what makes the
// read-increment-write exclusive.
func ReserveInvoiceNo(settings *CompanySettings, now time.Time) (string, error) {
	if settings == nil {
		return "", ErrConfiguration
	}
	seq := settings.NextInvoiceSeq
	if seq < 1 {
		seq = 1
	}
	prefix := strings.TrimSpace(settings.InvoicePrefix)
	if prefix == "" {
		prefix = DefaultInvoicePrefix
	}
	no := FormatInvoiceNo(prefix, now.Year(), seq)
	settings.NextInvoiceSeq = seq + 1
	settings.UpdatedAt = now
	return no, nil
}
