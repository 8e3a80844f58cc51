package service

import (
	"bytes"
	"context"
	"html/template"

	"shopkeeper/backend/internal/domain"
	"shopkeeper/backend/internal/logging"
)

var invoiceHTMLTmpl = template.Must(template.New("invoice").Funcs(template.FuncMap{
	"money": formatCents,
}).Parse(`<!doctype html>
<html lang="{{.Shop.Language}}">
<head>
  <meta charset="utf-8" />
  <title>{{.Sale.InvoiceNumber}}</title>
  <style>
    body { font-family: sans-serif; margin: 16px; max-width: 420px; }
    table { width: 100%; border-collapse: collapse; margin-top: 8px; }
    th, td { border-bottom: 1px solid #ddd; padding: 4px; font-size: 13px; }
    td.num { text-align: right; }
    .muted { color: #666; font-size: 12px; }
  </style>
</head>
<body>
  <h2>{{.Shop.Name}}</h2>
  {{if .Shop.Address}}<p class="muted">{{.Shop.Address}}</p>{{end}}
  {{if .Shop.Phone}}<p class="muted">{{.Shop.Phone}}</p>{{end}}
  <p>{{if eq .Sale.Kind "return"}}Return{{else}}Invoice{{end}} {{.Sale.InvoiceNumber}}<br/>{{.Sale.CreatedAt.Format "2006-01-02 15:04"}}</p>
  {{with .Customer}}<p>Customer: {{.Name}}{{if .Phone}} ({{.Phone}}){{end}}</p>{{end}}
  <table>
    <thead><tr><th>Item</th><th>Qty</th><th>Price</th><th>Total</th></tr></thead>
    <tbody>{{range .Sale.Items}}<tr><td>{{.ProductName}}</td><td class="num">{{.Qty}}</td><td class="num">{{money .UnitPriceCents}}</td><td class="num">{{money .LineTotalCents}}</td></tr>{{end}}</tbody>
  </table>
  <table>
    <tr><td>Subtotal</td><td class="num">{{.Shop.Currency}} {{money .Sale.SubtotalCents}}</td></tr>
    {{if .Sale.DiscountCents}}<tr><td>Discount</td><td class="num">{{money .Sale.DiscountCents}}</td></tr>{{end}}
    {{if .Sale.TaxCents}}<tr><td>Tax{{if .Sale.TaxIncluded}} (incl.){{end}}</td><td class="num">{{money .Sale.TaxCents}}</td></tr>{{end}}
    <tr><th>Total</th><th class="num">{{.Shop.Currency}} {{money .Sale.TotalCents}}</th></tr>
    <tr><td>Paid ({{.Sale.PaymentMethod}})</td><td class="num">{{money .Sale.PaidCents}}</td></tr>
    {{if .Sale.DueCents}}<tr><td>Due</td><td class="num">{{money .Sale.DueCents}}</td></tr>{{end}}
    {{if .Sale.ChangeCents}}<tr><td>Change</td><td class="num">{{money .Sale.ChangeCents}}</td></tr>{{end}}
  </table>
  {{if .Returns}}<h3>Returns</h3>
  <table>
    <tbody>{{range .Returns}}<tr><td>{{.InvoiceNumber}}</td><td>{{.CreatedAt.Format "2006-01-02"}}</td><td class="num">{{money .TotalCents}}</td></tr>{{end}}</tbody>
  </table>{{end}}
  {{if .Sale.Note}}<p class="muted">{{.Sale.Note}}</p>{{end}}
</body>
</html>
`))

// RenderInvoice returns the printable HTML invoice of a sale or return.
func (s *Service) RenderInvoice(ctx context.Context, saleID string) (string, error) {
	view, err := s.Invoice(ctx, saleID)
	if err != nil {
		return "", err
	}
	return renderInvoiceHTML(s, view), nil
}

func renderInvoiceHTML(s *Service, view domain.InvoiceView) string {
	var buf bytes.Buffer
	if err := invoiceHTMLTmpl.Execute(&buf, view); err != nil {
		logging.LogError(s.logger, "service", "renderInvoiceHTML", "execute invoice template", view.Sale.ID, err)
		return "<!doctype html><html><body><p>Invoice rendering error.</p></body></html>"
	}
	return buf.String()
}
