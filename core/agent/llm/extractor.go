package llm

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"ordersight/core/domain"
	"ordersight/core/port/out"
)

// Extractor implements the classification and parsing boundary with one
// model call per role. It never mutates state; a returned error always
// means the model endpoint itself failed.
type Extractor struct {
	client *Client
	log    zerolog.Logger
}

func NewExtractor(client *Client, log zerolog.Logger) *Extractor {
	return &Extractor{
		client: client,
		log:    log.With().Str("component", "llm_extractor").Logger(),
	}
}

var _ out.Extractor = (*Extractor)(nil)

func (e *Extractor) IsRelevant(ctx context.Context, in *out.ExtractInput) (bool, error) {
	raw, err := e.client.CompleteJSON(ctx, relevanceSystemPrompt, relevancePrompt(in))
	if err != nil {
		return false, err
	}

	var resp struct {
		Relevant bool `json:"relevant"`
	}
	if err := json.Unmarshal([]byte(stripJSONFence(raw)), &resp); err != nil {
		// An unreadable verdict must not silently drop the message.
		e.log.Warn().Err(err).Msg("unreadable relevance response, treating as relevant")
		return true, nil
	}
	return resp.Relevant, nil
}

func (e *Extractor) Classify(ctx context.Context, in *out.ExtractInput) (*domain.ClassificationResult, error) {
	raw, err := e.client.CompleteJSON(ctx, classifyPrompt(), userPrompt(in))
	if err != nil {
		return nil, err
	}
	return decodeClassification(raw)
}

// decodeClassification validates the model's verdict against the closed
// type set. Malformed or out-of-set output degrades to zero confidence so
// the orchestrator's gate routes the message to review.
func decodeClassification(raw string) (*domain.ClassificationResult, error) {
	var resp struct {
		Type          string  `json:"type"`
		Confidence    float64 `json:"confidence"`
		SecondaryType *string `json:"secondary_type"`
	}
	if err := json.Unmarshal([]byte(stripJSONFence(raw)), &resp); err != nil {
		return &domain.ClassificationResult{Type: domain.TypePromotional, Confidence: 0}, nil
	}
	if !domain.ValidMessageType(resp.Type) {
		return &domain.ClassificationResult{Type: domain.TypePromotional, Confidence: 0}, nil
	}

	result := &domain.ClassificationResult{
		Type:       domain.MessageType(resp.Type),
		Confidence: clamp01(resp.Confidence),
	}
	if resp.SecondaryType != nil && domain.ValidMessageType(*resp.SecondaryType) {
		secondary := domain.MessageType(*resp.SecondaryType)
		result.SecondaryType = &secondary
	}
	return result, nil
}

func (e *Extractor) ParseOrder(ctx context.Context, in *out.ExtractInput) (*out.ParseOutcome[out.OrderData], error) {
	return parseRole[out.OrderData](ctx, e, orderSystemPrompt, in)
}

func (e *Extractor) ParseShipment(ctx context.Context, in *out.ExtractInput) (*out.ParseOutcome[out.ShipmentData], error) {
	return parseRole[out.ShipmentData](ctx, e, shipmentSystemPrompt, in)
}

func (e *Extractor) ParseDelivery(ctx context.Context, in *out.ExtractInput) (*out.ParseOutcome[out.DeliveryData], error) {
	return parseRole[out.DeliveryData](ctx, e, deliverySystemPrompt, in)
}

func (e *Extractor) ParseReturn(ctx context.Context, in *out.ExtractInput) (*out.ParseOutcome[out.ReturnData], error) {
	return parseRole[out.ReturnData](ctx, e, returnSystemPrompt, in)
}

func (e *Extractor) ParseRefund(ctx context.Context, in *out.ExtractInput) (*out.ParseOutcome[out.RefundData], error) {
	return parseRole[out.RefundData](ctx, e, refundSystemPrompt, in)
}

func (e *Extractor) ParseCancellation(ctx context.Context, in *out.ExtractInput) (*out.ParseOutcome[out.CancellationData], error) {
	return parseRole[out.CancellationData](ctx, e, cancellationSystemPrompt, in)
}

func (e *Extractor) ParsePayment(ctx context.Context, in *out.ExtractInput) (*out.ParseOutcome[out.PaymentData], error) {
	return parseRole[out.PaymentData](ctx, e, paymentSystemPrompt, in)
}

func parseRole[T any](ctx context.Context, e *Extractor, system string, in *out.ExtractInput) (*out.ParseOutcome[T], error) {
	raw, err := e.client.CompleteJSON(ctx, system, userPrompt(in))
	if err != nil {
		return nil, err
	}
	outcome := decodeOutcome[T](raw)
	if outcome.Data == nil {
		e.log.Debug().Str("subject", in.Subject).Msg("parser returned no data")
	}
	return outcome, nil
}

type parseEnvelope[T any] struct {
	Found       bool    `json:"found"`
	Confidence  float64 `json:"confidence"`
	NeedsReview bool    `json:"needs_review"`
	Data        *T      `json:"data"`
}

// decodeOutcome treats malformed model output as "nothing extracted", not
// as a failure: absence of data is a normal outcome the orchestrator
// absorbs into manual review.
func decodeOutcome[T any](raw string) *out.ParseOutcome[T] {
	var env parseEnvelope[T]
	if err := json.Unmarshal([]byte(stripJSONFence(raw)), &env); err != nil {
		return &out.ParseOutcome[T]{NeedsReview: true}
	}

	outcome := &out.ParseOutcome[T]{
		Confidence:  clamp01(env.Confidence),
		NeedsReview: env.NeedsReview,
	}
	if env.Found {
		outcome.Data = env.Data
	}
	if outcome.Data == nil {
		outcome.NeedsReview = true
	}
	return outcome
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
