package domain

// MessageType is the closed set of purchase-notification event types the
// classifier may emit.
type MessageType string

const (
	TypeOrderConfirmation   MessageType = "order_confirmation"
	TypeOrderModification   MessageType = "order_modification"
	TypeOrderCancellation   MessageType = "order_cancellation"
	TypePaymentConfirmation MessageType = "payment_confirmation"
	TypeShipmentConfirmation MessageType = "shipment_confirmation"
	TypeShipmentUpdate      MessageType = "shipment_update"
	TypeDeliveryConfirmation MessageType = "delivery_confirmation"
	TypeDeliveryIssue       MessageType = "delivery_issue"
	TypeReturnInitiated     MessageType = "return_initiated"
	TypeReturnLabel         MessageType = "return_label"
	TypeReturnReceived      MessageType = "return_received"
	TypeReturnRejected      MessageType = "return_rejected"
	TypeRefundConfirmation  MessageType = "refund_confirmation"
	TypePromotional         MessageType = "promotional"
)

// AllMessageTypes lists every valid classification target, in prompt order.
var AllMessageTypes = []MessageType{
	TypeOrderConfirmation,
	TypeOrderModification,
	TypeOrderCancellation,
	TypePaymentConfirmation,
	TypeShipmentConfirmation,
	TypeShipmentUpdate,
	TypeDeliveryConfirmation,
	TypeDeliveryIssue,
	TypeReturnInitiated,
	TypeReturnLabel,
	TypeReturnReceived,
	TypeReturnRejected,
	TypeRefundConfirmation,
	TypePromotional,
}

// ValidMessageType reports whether s is a member of the closed type set.
func ValidMessageType(s string) bool {
	for _, t := range AllMessageTypes {
		if string(t) == s {
			return true
		}
	}
	return false
}

// ParserFamily groups message types by the parser that extracts them.
type ParserFamily string

const (
	FamilyOrder        ParserFamily = "order"
	FamilyShipment     ParserFamily = "shipment"
	FamilyDelivery     ParserFamily = "delivery"
	FamilyReturn       ParserFamily = "return"
	FamilyRefund       ParserFamily = "refund"
	FamilyCancellation ParserFamily = "cancellation"
	FamilyPayment      ParserFamily = "payment"
	FamilyNone         ParserFamily = "" // promotional and other non-parsed types
)

// Family maps a message type to its parser family.
func (t MessageType) Family() ParserFamily {
	switch t {
	case TypeOrderConfirmation, TypeOrderModification:
		return FamilyOrder
	case TypeOrderCancellation:
		return FamilyCancellation
	case TypePaymentConfirmation:
		return FamilyPayment
	case TypeShipmentConfirmation, TypeShipmentUpdate:
		return FamilyShipment
	case TypeDeliveryConfirmation, TypeDeliveryIssue:
		return FamilyDelivery
	case TypeReturnInitiated, TypeReturnLabel, TypeReturnReceived, TypeReturnRejected:
		return FamilyReturn
	case TypeRefundConfirmation:
		return FamilyRefund
	default:
		return FamilyNone
	}
}

// ClassificationResult is the outcome of the full classification stage.
type ClassificationResult struct {
	Type          MessageType  `json:"type"`
	Confidence    float64      `json:"confidence"`
	SecondaryType *MessageType `json:"secondary_type,omitempty"`
}
