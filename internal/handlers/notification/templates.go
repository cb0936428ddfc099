package notification

import (
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"github.com/spf13/cast"
)

type rendered struct {
	subject string
	text    string
	html    string
}

type orderItem struct {
	Name     string
	Quantity int
	Price    float64
}

func toOrderItem(v any) orderItem {
	m := cast.ToStringMap(v)
	return orderItem{
		Name:     cast.ToString(m["name"]),
		Quantity: cast.ToInt(m["quantity"]),
		Price:    cast.ToFloat64(m["price"]),
	}
}

const welcomeText = `Hi {{.Name}},

Welcome to {{.Brand}}! We're excited to have you join our community of sustainable shoppers and farmers.

As a {{.Role}}, you'll enjoy:
- Fresh, organic produce directly from local farms
- Competitive pricing with no middlemen
- Real-time updates on your orders

Start exploring our marketplace today!

Best regards,
The {{.Brand}} Team
`

const welcomeHTML = `<html>
<body>
  <h2>Welcome to {{.Brand}}!</h2>
  <p>Hi {{.Name}},</p>
  <p>Welcome to {{.Brand}}! We're excited to have you join our community of sustainable shoppers and farmers.</p>
  <p>As a {{.Role}}, you'll enjoy:</p>
  <ul>
    <li>Fresh, organic produce directly from local farms</li>
    <li>Competitive pricing with no middlemen</li>
    <li>Real-time updates on your orders</li>
  </ul>
  <p>Start exploring our marketplace today!</p>
  <p>Best regards,<br/>The {{.Brand}} Team</p>
</body>
</html>
`

const orderText = `Hi {{.Name}},

Thank you for your order! Here are the details:

Order ID: {{.OrderID}}

Items:
{{range .Items}}- {{.Name}} x {{.Quantity}} @ ₹{{printf "%.2f" .Price}}
{{end}}
Total Amount: ₹{{printf "%.2f" .Total}}

Your order is being processed and will be shipped soon. We'll notify you when it's on its way.

Best regards,
The {{.Brand}} Team
`

const orderHTML = `<html>
<body>
  <h2>Order Confirmation</h2>
  <p>Hi {{.Name}},</p>
  <p>Thank you for your order! Here are the details:</p>
  <p><strong>Order ID:</strong> {{.OrderID}}</p>
  <h3>Items:</h3>
  <ul>
  {{range .Items}}<li>{{.Name}} x {{.Quantity}} @ ₹{{printf "%.2f" .Price}}</li>
  {{end}}</ul>
  <p><strong>Total Amount:</strong> ₹{{printf "%.2f" .Total}}</p>
  <p>Your order is being processed and will be shipped soon. We'll notify you when it's on its way.</p>
  <p>Best regards,<br/>The {{.Brand}} Team</p>
</body>
</html>
`

const otpText = `Hi,

Your {{.Brand}} verification code is: {{.Code}}

This code will expire in {{.Minutes}} minutes. If you did not request this, please ignore this email.

Best,
{{.Brand}} Team
`

const otpHTML = `<html>
<body>
  <p>Hi,</p>
  <p>Your {{.Brand}} verification code is: <strong>{{.Code}}</strong></p>
  <p>This code will expire in {{.Minutes}} minutes. If you did not request this, please ignore this email.</p>
  <p>Best,<br/>{{.Brand}} Team</p>
</body>
</html>
`

var (
	textTemplates = texttemplate.Must(texttemplate.New("welcome").Parse(welcomeText))
	htmlTemplates = htmltemplate.Must(htmltemplate.New("welcome").Parse(welcomeHTML))
)

func init() {
	texttemplate.Must(textTemplates.New("order").Parse(orderText))
	texttemplate.Must(textTemplates.New("otp").Parse(otpText))
	htmltemplate.Must(htmlTemplates.New("order").Parse(orderHTML))
	htmltemplate.Must(htmlTemplates.New("otp").Parse(otpHTML))
}

func render(name, subject string, data any) (rendered, error) {
	var text, html strings.Builder
	if err := textTemplates.ExecuteTemplate(&text, name, data); err != nil {
		return rendered{}, err
	}
	if err := htmlTemplates.ExecuteTemplate(&html, name, data); err != nil {
		return rendered{}, err
	}
	return rendered{subject: subject, text: text.String(), html: html.String()}, nil
}

func renderWelcome(brand, email, name string) (rendered, error) {
	role := "customer"
	if strings.Contains(email, "farmer") {
		role = "farmer"
	}
	return render("welcome", "Welcome to "+brand+"!", map[string]any{
		"Brand": brand, "Name": name, "Role": role,
	})
}

func renderOrderConfirmation(brand, name, orderID string, items []orderItem, total float64) (rendered, error) {
	return render("order", "Order Confirmation - #"+orderID, map[string]any{
		"Brand": brand, "Name": name, "OrderID": orderID, "Items": items, "Total": total,
	})
}

func renderOTP(brand, code string, minutes int) (rendered, error) {
	return render("otp", "Your "+brand+" verification code", map[string]any{
		"Brand": brand, "Code": code, "Minutes": minutes,
	})
}
