package llm

import (
	"fmt"
	"strings"

	"ordersight/core/domain"
	"ordersight/core/port/out"
)

const relevanceSystemPrompt = `You are a filter for a purchase-tracking service.
Decide whether an email is purchase-related: an order, payment, shipment,
delivery, return, or refund notification from a retailer.
Newsletters, account notices, social mail, and anything not tied to a
specific purchase are not relevant.
Respond with JSON: {"relevant": true|false}`

const classifySystemPrompt = `You classify purchase-notification emails for a
purchase-tracking service. Pick exactly one type from this list:

%s

Respond with JSON:
{"type": "<one of the types>", "confidence": 0.0-1.0, "secondary_type": "<optional second candidate or null>"}

confidence is your certainty in the chosen type. Use secondary_type only
when a second type is nearly as likely.`

const orderSystemPrompt = `You extract structured order data from an order
confirmation or modification email. All monetary amounts are integer cents.
Respond with JSON:
{"found": true|false, "confidence": 0.0-1.0, "needs_review": true|false,
 "data": {"order_number": "", "currency": "USD",
  "subtotal_cents": null, "shipping_cents": null, "tax_cents": null, "total_cents": null,
  "items": [{"line_number": null, "product_name": "", "sku": null, "quantity": 1, "unit_price_cents": null}]}}
Set found=false with needs_review=true when you cannot identify an order
number or any line item. Never invent values.`

const shipmentSystemPrompt = `You extract structured shipment data from a
shipment confirmation or update email.
Respond with JSON:
{"found": true|false, "confidence": 0.0-1.0, "needs_review": true|false,
 "data": {"order_number": "", "tracking_number": "", "carrier": null,
  "status": "shipped|in_transit|out_for_delivery|delivered",
  "items": [{"product_name": "", "sku": null, "quantity": 1}]}}
Set found=false when there is no tracking number. Never invent values.`

const deliverySystemPrompt = `You extract delivery information from a delivery
confirmation or delivery problem email.
Respond with JSON:
{"found": true|false, "confidence": 0.0-1.0, "needs_review": true|false,
 "data": {"order_number": "", "tracking_number": "", "delivered": true|false,
  "issue": null or "damaged|missing|wrong_item|late|lost_in_transit"}}
delivered=false with an issue set means a delivery problem. Never invent values.`

const returnSystemPrompt = `You extract return information from a return
initiation, label, received, or rejection email.
Respond with JSON:
{"found": true|false, "confidence": 0.0-1.0, "needs_review": true|false,
 "data": {"order_number": "", "rma_number": null, "reason": null,
  "status": "initiated|label_issued|in_transit|received|rejected",
  "items": [{"product_name": "", "sku": null, "quantity": 1}]}}
Never invent values.`

const refundSystemPrompt = `You extract refund information from a refund
confirmation email. Amounts are integer cents.
Respond with JSON:
{"found": true|false, "confidence": 0.0-1.0, "needs_review": true|false,
 "data": {"order_number": "", "rma_number": null, "amount_cents": 0, "method": null}}
Never invent values.`

const cancellationSystemPrompt = `You extract cancellation information from an
order cancellation email. An empty items list means the whole order was
cancelled.
Respond with JSON:
{"found": true|false, "confidence": 0.0-1.0, "needs_review": true|false,
 "data": {"order_number": "", "reason": null,
  "items": [{"product_name": "", "sku": null, "quantity": 1}]}}
Never invent values.`

const paymentSystemPrompt = `You extract payment information from a payment
confirmation email. Amounts are integer cents.
Respond with JSON:
{"found": true|false, "confidence": 0.0-1.0, "needs_review": true|false,
 "data": {"order_number": "", "amount_cents": null, "method": null}}
Never invent values.`

func classifyPrompt() string {
	types := make([]string, len(domain.AllMessageTypes))
	for i, t := range domain.AllMessageTypes {
		types[i] = "- " + string(t)
	}
	return fmt.Sprintf(classifySystemPrompt, strings.Join(types, "\n"))
}

// userPrompt renders the normalized message for any extraction role.
func userPrompt(in *out.ExtractInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sender: %s\n", in.Sender)
	if in.RetailerHint != "" {
		fmt.Fprintf(&b, "Retailer: %s\n", in.RetailerHint)
	}
	fmt.Fprintf(&b, "Subject: %s\n\n%s", in.Subject, in.Body)
	return b.String()
}

// relevancePrompt keeps the cheap pre-filter cheap: subject, sender, and a
// short body preview only.
func relevancePrompt(in *out.ExtractInput) string {
	preview := in.Body
	if runes := []rune(preview); len(runes) > 500 {
		preview = string(runes[:500])
	}
	return fmt.Sprintf("Sender: %s\nSubject: %s\n\n%s", in.Sender, in.Subject, preview)
}
