package notify

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/pizzacraft/api/internal/database"
	"github.com/pizzacraft/api/internal/pricing"
)

//go:embed templates/*.html templates/*.txt
var templateFS embed.FS

var (
	htmlTemplates = htmltemplate.Must(htmltemplate.ParseFS(templateFS, "templates/*.html"))
	textTemplates = texttemplate.Must(texttemplate.ParseFS(templateFS, "templates/*.txt"))
)

const (
	criticalStockLevel = 5
	resetTokenLifetime = "10 minutes"
)

var statusMessages = map[string]string{
	"confirmed":        "Your order has been confirmed and is being prepared!",
	"preparing":        "Our chefs are now preparing your pizza!",
	"ready":            "Your pizza is ready and will be out for delivery soon!",
	"out_for_delivery": "Your pizza is on its way to you!",
	"delivered":        "Your pizza has been delivered! Enjoy!",
	"cancelled":        "Your order has been cancelled.",
}

// Options configures a Notifier.
type Options struct {
	AdminEmail   string
	FrontendURL  string
	DashboardURL string
	Location     *time.Location
}

// Notifier renders e-mails and hands them to a Mailer.
type Notifier struct {
	mailer Mailer
	opts   Options
	now    func() time.Time
}

func NewNotifier(mailer Mailer, opts Options) *Notifier {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Notifier{mailer: mailer, opts: opts, now: time.Now}
}

type stockLine struct {
	Name      string
	Category  string
	Stock     int32
	Threshold int32
	Unit      string
}

type orderView struct {
	Number            string
	CustomerName      string
	CustomerPhone     string
	Status            string
	StatusLabel       string
	PaymentMethod     string
	PaymentStatus     string
	Total             string
	EstimatedDelivery string
	Address           string
	Lines             []orderLine
}

type orderLine struct {
	Name     string
	Size     string
	Quantity int
	Total    string
}

// LowStockAlert mails the admin a list of items at or below threshold.
func (n *Notifier) LowStockAlert(ctx context.Context, items []database.CatalogItem) error {
	if len(items) == 0 {
		return nil
	}
	if n.opts.AdminEmail == "" {
		return fmt.Errorf("low stock alert: admin email not configured")
	}

	lines := make([]stockLine, len(items))
	critical := 0
	for i, it := range items {
		lines[i] = stockLine{
			Name:      it.Name,
			Category:  it.Category,
			Stock:     it.Stock,
			Threshold: it.Threshold,
			Unit:      it.Unit,
		}
		if it.Stock <= criticalStockLevel {
			critical++
		}
	}

	data := map[string]interface{}{
		"Items":         lines,
		"Critical":      critical,
		"CriticalLevel": criticalStockLevel,
		"DashboardURL":  n.opts.DashboardURL,
		"GeneratedAt":   n.timestamp(),
	}
	return n.send(ctx, []string{n.opts.AdminEmail},
		fmt.Sprintf("PizzaCraft: %d Items Below Stock Threshold", len(items)),
		"low_stock", data)
}

// OrderConfirmation mails the customer a summary of a placed order.
func (n *Notifier) OrderConfirmation(ctx context.Context, o database.Order) error {
	view, err := n.orderView(o)
	if err != nil {
		return err
	}
	data := map[string]interface{}{
		"Order":       view,
		"Currency":    pricing.Currency,
		"TrackURL":    n.trackURL(o.OrderNumber),
		"GeneratedAt": n.timestamp(),
	}
	return n.send(ctx, []string{o.CustomerEmail}, "Order Confirmed - "+o.OrderNumber, "order_confirmation", data)
}

// OrderStatusUpdate mails the customer the order's new status.
func (n *Notifier) OrderStatusUpdate(ctx context.Context, o database.Order) error {
	view, err := n.orderView(o)
	if err != nil {
		return err
	}
	msg, ok := statusMessages[o.Status]
	if !ok {
		msg = "Your order status has been updated."
	}
	data := map[string]interface{}{
		"Order":         view,
		"StatusMessage": msg,
		"TrackURL":      n.trackURL(o.OrderNumber),
		"GeneratedAt":   n.timestamp(),
	}
	return n.send(ctx, []string{o.CustomerEmail},
		fmt.Sprintf("Order %s - %s", o.OrderNumber, view.StatusLabel),
		"order_status", data)
}

// NewOrderAlert tells the admin about a new order.
func (n *Notifier) NewOrderAlert(ctx context.Context, o database.Order) error {
	if n.opts.AdminEmail == "" {
		return nil
	}
	view, err := n.orderView(o)
	if err != nil {
		return err
	}
	data := map[string]interface{}{
		"Order":        view,
		"Currency":     pricing.Currency,
		"DashboardURL": n.opts.DashboardURL,
		"GeneratedAt":  n.timestamp(),
	}
	return n.send(ctx, []string{n.opts.AdminEmail},
		fmt.Sprintf("New Order: %s - %s %s", o.OrderNumber, pricing.Currency, view.Total),
		"new_order", data)
}

// EmailVerification sends the account verification link.
func (n *Notifier) EmailVerification(ctx context.Context, to, name, token string) error {
	data := map[string]interface{}{
		"Name":        name,
		"Link":        strings.TrimRight(n.opts.FrontendURL, "/") + "/verify-email/" + token,
		"GeneratedAt": n.timestamp(),
	}
	return n.send(ctx, []string{to}, "Verify your PizzaCraft account", "verify_email", data)
}

// PasswordReset sends the password reset link.
func (n *Notifier) PasswordReset(ctx context.Context, to, name, token string) error {
	data := map[string]interface{}{
		"Name":        name,
		"Link":        strings.TrimRight(n.opts.FrontendURL, "/") + "/reset-password/" + token,
		"ExpiresIn":   resetTokenLifetime,
		"GeneratedAt": n.timestamp(),
	}
	return n.send(ctx, []string{to}, "Reset your PizzaCraft password", "password_reset", data)
}

func (n *Notifier) send(ctx context.Context, to []string, subject, name string, data interface{}) error {
	var html, text bytes.Buffer
	if err := htmlTemplates.ExecuteTemplate(&html, name+".html", data); err != nil {
		return fmt.Errorf("render %s.html: %w", name, err)
	}
	if err := textTemplates.ExecuteTemplate(&text, name+".txt", data); err != nil {
		return fmt.Errorf("render %s.txt: %w", name, err)
	}
	return n.mailer.Send(ctx, Message{
		To:      to,
		Subject: subject,
		Text:    text.String(),
		HTML:    html.String(),
	})
}

func (n *Notifier) orderView(o database.Order) (orderView, error) {
	items, err := o.LineItems()
	if err != nil {
		return orderView{}, fmt.Errorf("decode items for %s: %w", o.OrderNumber, err)
	}
	addr, err := o.Address()
	if err != nil {
		return orderView{}, fmt.Errorf("decode address for %s: %w", o.OrderNumber, err)
	}

	view := orderView{
		Number:        o.OrderNumber,
		CustomerName:  o.CustomerName,
		CustomerPhone: o.CustomerPhone,
		Status:        o.Status,
		StatusLabel:   StatusLabel(o.Status),
		PaymentMethod: strings.ToUpper(o.PaymentMethod),
		PaymentStatus: strings.ToUpper(o.PaymentStatus),
		Total:         database.NumericString(o.Total),
		Address:       fmt.Sprintf("%s, %s, %s %s", addr.Street, addr.City, addr.State, addr.ZipCode),
	}
	if o.EstimatedDeliveryAt.Valid {
		view.EstimatedDelivery = o.EstimatedDeliveryAt.Time.In(n.opts.Location).Format("15:04")
	}
	for _, it := range items {
		view.Lines = append(view.Lines, orderLine{
			Name:     it.Name,
			Size:     it.Size,
			Quantity: it.Quantity,
			Total:    it.TotalPrice.StringFixed(2),
		})
	}
	return view, nil
}

func (n *Notifier) trackURL(orderNumber string) string {
	return strings.TrimRight(n.opts.FrontendURL, "/") + "/track/" + orderNumber
}

func (n *Notifier) timestamp() string {
	return n.now().In(n.opts.Location).Format("02 Jan 2006 15:04 MST")
}

// StatusLabel renders an order status for humans, e.g. "OUT FOR DELIVERY".
func StatusLabel(status string) string {
	return strings.ToUpper(strings.ReplaceAll(status, "_", " "))
}
