package mongodb

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ordersight/core/port/out"
	"ordersight/pkg/apperr"
)

const (
	collectionMessageBodies = "message_bodies"

	// Compression threshold - only compress if content is larger than this
	compressionThreshold = 1024 // 1KB

	defaultBodyTTL = 90 * 24 * time.Hour
)

// BodyAdapter implements out.MessageBodyStore using MongoDB. Bodies are
// written once at ingest and read by the pipeline; a TTL index expires them.
type BodyAdapter struct {
	collection *mongo.Collection
}

// NewBodyAdapter creates a new MongoDB body adapter.
func NewBodyAdapter(db *mongo.Database) *BodyAdapter {
	return &BodyAdapter{collection: db.Collection(collectionMessageBodies)}
}

var _ out.MessageBodyStore = (*BodyAdapter)(nil)

// EnsureIndexes creates necessary indexes for the collection.
func (a *BodyAdapter) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "tenant_id", Value: 1},
				{Key: "inbound_message_id", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0), // TTL index
		},
	}

	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// =============================================================================
// Document Model
// =============================================================================

type bodyDocument struct {
	TenantID         string `bson:"tenant_id"`
	InboundMessageID int64  `bson:"inbound_message_id"`

	// Content (potentially compressed)
	Text         []byte `bson:"text"`
	HTML         []byte `bson:"html"`
	IsCompressed bool   `bson:"is_compressed"`

	OriginalSize   int64 `bson:"original_size"`
	CompressedSize int64 `bson:"compressed_size"`

	StoredAt  time.Time `bson:"stored_at"`
	ExpiresAt time.Time `bson:"expires_at"`
}

// =============================================================================
// Operations
// =============================================================================

func (a *BodyAdapter) SaveBody(ctx context.Context, tenantID uuid.UUID, body *out.MessageBody) error {
	doc, err := toDocument(tenantID, body)
	if err != nil {
		return apperr.Transient("mongodb", err)
	}

	filter := bson.M{
		"tenant_id":          tenantID.String(),
		"inbound_message_id": body.InboundMessageID,
	}
	opts := options.Replace().SetUpsert(true)

	if _, err := a.collection.ReplaceOne(ctx, filter, doc, opts); err != nil {
		return apperr.Transient("mongodb", err)
	}
	return nil
}

func (a *BodyAdapter) GetBody(ctx context.Context, tenantID uuid.UUID, inboundMessageID int64) (*out.MessageBody, error) {
	filter := bson.M{
		"tenant_id":          tenantID.String(),
		"inbound_message_id": inboundMessageID,
	}

	var doc bodyDocument
	if err := a.collection.FindOne(ctx, filter).Decode(&doc); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, apperr.Transient("mongodb", err)
	}

	return toEntity(&doc)
}

// =============================================================================
// Conversion Helpers
// =============================================================================

func toDocument(tenantID uuid.UUID, body *out.MessageBody) (*bodyDocument, error) {
	textBytes := []byte(body.Text)
	htmlBytes := []byte(body.HTML)
	originalSize := int64(len(textBytes) + len(htmlBytes))

	isCompressed := false
	compressedSize := originalSize

	if originalSize > compressionThreshold {
		compressedText, err := compress(textBytes)
		if err != nil {
			return nil, err
		}
		compressedHTML, err := compress(htmlBytes)
		if err != nil {
			return nil, err
		}

		textBytes = compressedText
		htmlBytes = compressedHTML
		isCompressed = true
		compressedSize = int64(len(textBytes) + len(htmlBytes))
	}

	now := time.Now()
	return &bodyDocument{
		TenantID:         tenantID.String(),
		InboundMessageID: body.InboundMessageID,
		Text:             textBytes,
		HTML:             htmlBytes,
		IsCompressed:     isCompressed,
		OriginalSize:     originalSize,
		CompressedSize:   compressedSize,
		StoredAt:         now,
		ExpiresAt:        now.Add(defaultBodyTTL),
	}, nil
}

func toEntity(doc *bodyDocument) (*out.MessageBody, error) {
	textBytes := doc.Text
	htmlBytes := doc.HTML

	if doc.IsCompressed {
		var err error
		textBytes, err = decompress(doc.Text)
		if err != nil {
			return nil, apperr.Transient("mongodb", err)
		}
		htmlBytes, err = decompress(doc.HTML)
		if err != nil {
			return nil, apperr.Transient("mongodb", err)
		}
	}

	return &out.MessageBody{
		InboundMessageID: doc.InboundMessageID,
		Text:             string(textBytes),
		HTML:             string(htmlBytes),
	}, nil
}

// =============================================================================
// Compression Helpers
// =============================================================================

func compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}

	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)

	if _, err := writer.Write(data); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}

	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	return io.ReadAll(reader)
}
