package export_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx"
	"github.com/vasiliy-maslov/nfc-card-store/internal/export"
	"github.com/vasiliy-maslov/nfc-card-store/internal/order"
)

var orderID = uuid.Must(uuid.FromString("6f1c2a52-4d0e-4a57-9b8f-0f4b8f0f9e21"))

func sampleOrders() []order.Order {
	return []order.Order{{
		ID:              orderID,
		CreatedAt:       time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC),
		Status:          order.StatusPaid,
		Amount:          decimal.RequireFromString("59.8"),
		Currency:        "eur",
		CustomerName:    `Ada "The Countess" Lovelace`,
		CustomerEmail:   "ada@example.com",
		Address:         "1 rue; Paris",
		CardType:        "PVC_PRO",
		NFCLink:         "https://x.com",
		NFCNameOnCard:   "ADA\nLOVELACE",
		Quantity:        3,
		StripeSessionID: "cs_1",
		Items: []order.OrderItem{
			{CardType: "PVC_PRO", Quantity: 2},
			{CardType: "METAL_PREMIUM", Quantity: 1},
		},
	}}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, export.WriteCSV(&buf, sampleOrders()))

	out := buf.String()
	require.True(t, strings.HasPrefix(out, "\ufeffsep=;\n"), "bom and separator hint first")

	lines := strings.SplitN(strings.TrimPrefix(out, "\ufeffsep=;\n"), "\n", 2)
	assert.Equal(t, "id;createdAt;status;amount;currency;customerName;customerEmail;address;cardType;nfcLink;nfcNameOnCard;stripeSessionId", lines[0])

	want := orderID.String() + `;2025-03-14T09:30:00.000Z;PAID;59.80;eur;"Ada ""The Countess"" Lovelace";ada@example.com;"1 rue; Paris";PVC_PRO;https://x.com;"ADA` +
		"\n" + `LOVELACE";cs_1` + "\n"
	assert.Equal(t, want, lines[1])
}

func TestWriteCSV_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, export.WriteCSV(&buf, nil))

	assert.Equal(t, 2, strings.Count(buf.String(), "\n"), "preamble and header only")
}

func TestItemsSummary(t *testing.T) {
	assert.Equal(t, "PVC_PRO x2 | METAL_PREMIUM x1", export.ItemsSummary(sampleOrders()[0].Items))
	assert.Empty(t, export.ItemsSummary(nil))
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, export.WriteXLSX(&buf, sampleOrders()))

	file, err := xlsx.OpenReaderAt(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, file.Sheets, 1)

	sheet := file.Sheets[0]
	assert.Equal(t, "Orders", sheet.Name)
	require.Len(t, sheet.Rows, 2)

	cell := func(row, col int) string {
		return sheet.Rows[row].Cells[col].String()
	}

	assert.Equal(t, "ID", cell(0, 0))
	assert.Equal(t, "Items", cell(0, 10))
	assert.Equal(t, "Stripe session", cell(0, 13))

	assert.Equal(t, orderID.String(), cell(1, 0))
	assert.Equal(t, "2025-03-14 09:30:00", cell(1, 1))
	assert.Equal(t, "PAID", cell(1, 2))
	assert.Equal(t, "EUR", cell(1, 4))
	assert.Equal(t, "PVC_PRO x2 | METAL_PREMIUM x1", cell(1, 10))
	assert.Equal(t, "cs_1", cell(1, 13))
}

func TestFilename(t *testing.T) {
	at := time.Date(2025, 3, 14, 9, 30, 5, 0, time.UTC)
	assert.Equal(t, "orders-paid-20250314-093005.csv", export.Filename(at, "csv"))
}
