package invoice

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-pdf/fpdf"

	"laneassist/internal/models"
)

const companyName = "Lane Auto Parts Wholesale"

// Renderer writes quotation PDFs into a directory.
type Renderer struct {
	dir string
}

func NewRenderer(dir string) (*Renderer, error) {
	if dir == "" {
		return nil, errors.New("invoice directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create invoice dir: %w", err)
	}
	return &Renderer{dir: dir}, nil
}

// Render writes the invoice for order and returns the file path.
func (r *Renderer) Render(order *models.Order) (string, error) {
	if order == nil || order.QuoteID == "" {
		return "", errors.New("render invoice: order with quote id required")
	}
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Quotation "+order.QuoteID, true)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, companyName, "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(0, 7, "Quotation #"+order.QuoteID, "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 7, "Date: "+order.CreatedAt.Format("2006-01-02"), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 7, "Payment due: "+order.PaymentDate.Format("2006-01-02"), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(0, 7, "Bill to", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	for _, line := range []string{order.Name, order.Location, order.CustomerContact} {
		if line != "" {
			pdf.CellFormat(0, 6, line, "", 1, "L", false, 0, "")
		}
	}
	pdf.Ln(4)

	widths := []float64{90, 20, 35, 35}
	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetFillColor(230, 230, 230)
	for i, h := range []string{"Item", "Qty", "Unit price", "Amount"} {
		align := "R"
		if i == 0 {
			align = "L"
		}
		pdf.CellFormat(widths[i], 8, h, "1", 0, align, true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 10)
	for _, item := range order.Items {
		pdf.CellFormat(widths[0], 7, item.Name, "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[1], 7, strconv.Itoa(item.Quantity), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[2], 7, item.UnitPrice.StringFixed(2), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[3], 7, item.LineTotal.StringFixed(2), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	label := widths[0] + widths[1] + widths[2]
	summary := [][2]string{{"Subtotal", order.Subtotal.StringFixed(2)}}
	if order.Discount.IsPositive() {
		rate := order.DiscountRate.Shift(2).StringFixed(0)
		summary = append(summary, [2]string{"Discount (" + rate + "%)", "-" + order.Discount.StringFixed(2)})
	}
	summary = append(summary, [2]string{"Total (KES)", order.Total.StringFixed(2)})
	for i, row := range summary {
		if i == len(summary)-1 {
			pdf.SetFont("Helvetica", "B", 10)
		}
		pdf.CellFormat(label, 7, row[0], "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[3], 7, row[1], "1", 1, "R", false, 0, "")
	}

	pdf.Ln(6)
	pdf.SetFont("Helvetica", "I", 9)
	pdf.MultiCell(0, 5, "Pay via M-Pesa, Airtel Money or T-Kash using the quote number as the account number.", "", "L", false)

	path := filepath.Join(r.dir, "invoice_"+sanitize(order.QuoteID)+".pdf")
	if err := pdf.OutputFileAndClose(path); err != nil {
		return "", fmt.Errorf("write invoice: %w", err)
	}
	return path, nil
}

func sanitize(id string) string {
	out := make([]rune, 0, len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
