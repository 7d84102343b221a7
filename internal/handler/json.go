package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/discount"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/internal/domain/product"
)

var errBadRequest = errors.New("invalid request body")

// readBody reads at most h.maxBody bytes of the request body.
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		return nil, errors.Wrap(errBadRequest, err.Error())
	}
	return body, nil
}

// decodeObject reads the request body as a JSON object. Unknown fields are
// skipped. An empty body is an empty object.
func (h *Handler) decodeObject(w http.ResponseWriter, r *http.Request, field func(d *jx.Decoder, key string) error) error {
	body, err := h.readBody(w, r)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	if err := jx.DecodeBytes(body).Obj(field); err != nil {
		return errors.Wrap(errBadRequest, err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func money(e *jx.Encoder, d decimal.Decimal) {
	e.Str(d.StringFixed(2))
}

func field(e *jx.Encoder, name string, value func(e *jx.Encoder)) {
	e.FieldStart(name)
	value(e)
}

func strField(e *jx.Encoder, name, value string) {
	e.FieldStart(name)
	e.Str(value)
}

func moneyField(e *jx.Encoder, name string, d decimal.Decimal) {
	e.FieldStart(name)
	money(e, d)
}

func timeField(e *jx.Encoder, name string, t *time.Time) {
	e.FieldStart(name)
	if t == nil || t.IsZero() {
		e.Null()
		return
	}
	e.Str(t.UTC().Format(time.RFC3339))
}

func encodeProduct(e *jx.Encoder, p product.Product) {
	e.ObjStart()
	strField(e, "id", p.ID)
	strField(e, "name", p.Name)
	moneyField(e, "price", p.Price)
	strField(e, "categoryId", p.CategoryID)
	field(e, "stock", func(e *jx.Encoder) { e.Int(p.Stock) })
	field(e, "inStock", func(e *jx.Encoder) { e.Bool(p.Stock > 0) })
	e.ObjEnd()
}

func encodeCart(e *jx.Encoder, lines []cart.Line) {
	subtotal := decimal.Zero
	e.ObjStart()
	e.FieldStart("items")
	e.ArrStart()
	for _, l := range lines {
		lineTotal := l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
		subtotal = subtotal.Add(lineTotal)

		e.ObjStart()
		strField(e, "productId", l.ProductID)
		strField(e, "size", l.Size)
		field(e, "quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
		moneyField(e, "unitPrice", l.UnitPrice)
		moneyField(e, "lineTotal", lineTotal)
		e.ObjEnd()
	}
	e.ArrEnd()
	moneyField(e, "subtotal", subtotal.Round(2))
	e.ObjEnd()
}

func encodeItems(e *jx.Encoder, items []order.Item) {
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range items {
		e.ObjStart()
		strField(e, "productId", it.ProductID)
		strField(e, "name", it.Name)
		if it.Size != "" {
			strField(e, "size", it.Size)
		}
		field(e, "quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
		moneyField(e, "unitPrice", it.UnitPrice)
		e.ObjEnd()
	}
	e.ArrEnd()
}

func encodeDiscount(e *jx.Encoder, d *discount.Applied) {
	e.FieldStart("discount")
	if d == nil {
		e.Null()
		return
	}
	e.ObjStart()
	strField(e, "code", d.Code)
	strField(e, "kind", string(d.Kind))
	field(e, "value", func(e *jx.Encoder) { e.Str(d.Value.String()) })
	moneyField(e, "amount", d.Amount)
	e.ObjEnd()
}

func encodeBreakdown(e *jx.Encoder, b pricing.Breakdown) {
	moneyField(e, "subtotal", b.Subtotal)
	moneyField(e, "discountAmount", b.Discount)
	moneyField(e, "shippingCost", b.Shipping)
	moneyField(e, "taxAmount", b.Tax)
	moneyField(e, "total", b.Total)
}

func encodeAddress(e *jx.Encoder, a pricing.Address) {
	e.FieldStart("shippingAddress")
	e.ObjStart()
	for _, f := range []struct{ name, value string }{
		{"name", a.Name},
		{"line1", a.Line1},
		{"line2", a.Line2},
		{"city", a.City},
		{"region", a.Region},
		{"postalCode", a.PostalCode},
		{"country", a.Country},
	} {
		if f.value != "" {
			strField(e, f.name, f.value)
		}
	}
	e.ObjEnd()
}

func encodeOrderFields(e *jx.Encoder, o *order.Order) {
	strField(e, "id", o.ID)
	strField(e, "status", string(o.Status))
	strField(e, "currency", o.Currency)
	encodeItems(e, o.Items)
	encodeAddress(e, o.ShippingAddress)
	encodeDiscount(e, o.Discount)
	encodeBreakdown(e, pricing.Breakdown{
		Subtotal: o.Subtotal,
		Discount: o.DiscountAmount(),
		Shipping: o.ShippingCost,
		Tax:      o.TaxAmount,
		Total:    o.Total,
	})
	if o.PaymentReference != "" {
		strField(e, "paymentReference", o.PaymentReference)
	}
	timeField(e, "createdAt", &o.CreatedAt)
	timeField(e, "resolvedAt", o.ResolvedAt)
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	encodeOrderFields(e, o)
	e.ObjEnd()
}

// decodeAddress reads a shippingAddress object.
func decodeAddress(d *jx.Decoder, a *pricing.Address) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var dst *string
		switch key {
		case "name":
			dst = &a.Name
		case "line1":
			dst = &a.Line1
		case "line2":
			dst = &a.Line2
		case "city":
			dst = &a.City
		case "region":
			dst = &a.Region
		case "postalCode":
			dst = &a.PostalCode
		case "country":
			dst = &a.Country
		default:
			return d.Skip()
		}
		return decodeString(d, dst)
	})
}

// decodeString reads a string or null into dst.
func decodeString(d *jx.Decoder, dst *string) error {
	if d.Next() == jx.Null {
		return d.Null()
	}
	v, err := d.Str()
	if err != nil {
		return err
	}
	*dst = v
	return nil
}
