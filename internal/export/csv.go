// Package export renders paid orders for accounting, as a semicolon CSV that
// spreadsheet tools open directly, or as an XLSX workbook.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/vasiliy-maslov/nfc-card-store/internal/order"
)

const (
	CSVContentType  = "text/csv; charset=utf-8"
	XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

const isoMillis = "2006-01-02T15:04:05.000Z07:00"

var csvHeader = []string{
	"id", "createdAt", "status", "amount", "currency", "customerName", "customerEmail",
	"address", "cardType", "nfcLink", "nfcNameOnCard", "stripeSessionId",
}

// WriteCSV writes a UTF-8 BOM, a "sep=;" hint line, the header and one row
// per order.
func WriteCSV(w io.Writer, orders []order.Order) error {
	if _, err := io.WriteString(w, "\ufeffsep=;\n"); err != nil {
		return fmt.Errorf("export: failed to write csv preamble: %w", err)
	}

	cw := csv.NewWriter(w)
	cw.Comma = ';'

	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("export: failed to write csv header: %w", err)
	}
	for _, o := range orders {
		record := []string{
			o.ID.String(),
			o.CreatedAt.UTC().Format(isoMillis),
			o.Status.String(),
			o.Amount.StringFixed(2),
			o.Currency,
			o.CustomerName,
			o.CustomerEmail,
			o.Address,
			o.CardType,
			o.NFCLink,
			o.NFCNameOnCard,
			o.StripeSessionID,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("export: failed to write csv row for order %s: %w", o.ID, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("export: failed to flush csv: %w", err)
	}
	return nil
}

// Filename is the attachment name for an export taken at now.
func Filename(now time.Time, ext string) string {
	return fmt.Sprintf("orders-paid-%s.%s", now.UTC().Format("20060102-150405"), ext)
}
