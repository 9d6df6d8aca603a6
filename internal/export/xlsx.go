package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/tealeg/xlsx"
	"github.com/vasiliy-maslov/nfc-card-store/internal/order"
)

const sheetName = "Orders"

var xlsxHeader = []string{
	"ID", "Date", "Status", "Amount", "Currency", "Quantity", "Customer", "Email",
	"Address", "Card type", "Items", "NFC link", "Name on card", "Stripe session",
}

// ItemsSummary lists the order lines as "CARD xN | CARD xN".
func ItemsSummary(items []order.OrderItem) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		parts = append(parts, fmt.Sprintf("%s x%d", item.CardType, item.Quantity))
	}
	return strings.Join(parts, " | ")
}

func WriteXLSX(w io.Writer, orders []order.Order) error {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet(sheetName)
	if err != nil {
		return fmt.Errorf("export: failed to create sheet: %w", err)
	}

	headerRow := sheet.AddRow()
	for _, h := range xlsxHeader {
		headerRow.AddCell().SetValue(h)
	}

	for _, o := range orders {
		row := sheet.AddRow()
		row.AddCell().SetValue(o.ID.String())
		row.AddCell().SetValue(o.CreatedAt.UTC().Format("2006-01-02 15:04:05"))
		row.AddCell().SetValue(o.Status.String())
		row.AddCell().SetFloatWithFormat(o.Amount.InexactFloat64(), "0.00")
		row.AddCell().SetValue(strings.ToUpper(o.Currency))
		row.AddCell().SetInt(o.Quantity)
		row.AddCell().SetValue(o.CustomerName)
		row.AddCell().SetValue(o.CustomerEmail)
		row.AddCell().SetValue(o.Address)
		row.AddCell().SetValue(o.CardType)
		row.AddCell().SetValue(ItemsSummary(o.Items))
		row.AddCell().SetValue(o.NFCLink)
		row.AddCell().SetValue(o.NFCNameOnCard)
		row.AddCell().SetValue(o.StripeSessionID)
	}

	if err := sheet.SetColWidth(0, len(xlsxHeader)-1, 22); err != nil {
		return fmt.Errorf("export: failed to size columns: %w", err)
	}

	if err := file.Write(w); err != nil {
		return fmt.Errorf("export: failed to write workbook: %w", err)
	}
	return nil
}
