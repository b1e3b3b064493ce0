package document

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/siteledger/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeS3 struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = params
	if params.Body != nil {
		f.body, _ = io.ReadAll(params.Body)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

type memoryStore struct {
	objects map[string][]byte
	err     error
}

func (m *memoryStore) Put(_ context.Context, key, _ string, body []byte) error {
	if m.err != nil {
		return m.err
	}
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[key] = body
	return nil
}

func sampleInvoice() Invoice {
	due := time.Date(2025, time.March, 31, 0, 0, 0, 0, time.UTC)
	return Invoice{
		Number:     "INV-20250301-000001",
		OrgName:    "Kensetsu",
		AdminEmail: "admin@kensetsu.test",
		IssuedAt:   time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC),
		DueDate:    &due,
		Currency:   "JPY",
		Lines: []Line{
			{Description: "Base fee", Amount: 30000},
			{Description: "First month discount", Amount: -10000},
		},
		Subtotal: 20000,
		Tax:      2000,
		Total:    22000,
	}
}

func TestRenderInvoiceProducesPDF(t *testing.T) {
	body, err := NewRenderer().RenderInvoice(context.Background(), sampleInvoice())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(body, []byte("%PDF")))

	_, err = NewRenderer().RenderInvoice(context.Background(), Invoice{})
	assert.ErrorIs(t, err, ErrInvalidDocument)
}

func TestRenderReceiptProducesPDF(t *testing.T) {
	body, err := NewRenderer().RenderReceipt(context.Background(), Receipt{
		Invoice:   sampleInvoice(),
		PaymentID: "py_1",
		Amount:    22000,
		PaidAt:    time.Date(2025, time.March, 5, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(body, []byte("%PDF")))
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "JPY 0", FormatAmount("jpy", 0))
	assert.Equal(t, "JPY 999", FormatAmount("JPY", 999))
	assert.Equal(t, "JPY 33,333", FormatAmount("JPY", 33333))
	assert.Equal(t, "JPY -1,000,000", FormatAmount("", -1000000))
}

func TestS3StorePutsObject(t *testing.T) {
	client := &fakeS3{}
	store, err := NewS3Store(context.Background(), config.StorageConfig{Bucket: "docs", Region: "ap-northeast-1"}, client)
	require.NoError(t, err)

	require.NoError(t, store.Put(context.Background(), "invoices/1/x.pdf", contentTypePDF, []byte("%PDF-1.3")))
	assert.Equal(t, "docs", aws.ToString(client.input.Bucket))
	assert.Equal(t, "invoices/1/x.pdf", aws.ToString(client.input.Key))
	assert.Equal(t, contentTypePDF, aws.ToString(client.input.ContentType))
	assert.Equal(t, int64(8), aws.ToInt64(client.input.ContentLength))
	assert.Equal(t, []byte("%PDF-1.3"), client.body)

	_, err = NewS3Store(context.Background(), config.StorageConfig{}, client)
	assert.ErrorIs(t, err, ErrInvalidStorageConfig)
}

func TestPublisherNeverFails(t *testing.T) {
	store := &memoryStore{}
	pub := NewPublisher(PublisherParams{Log: zap.NewNop(), Renderer: NewRenderer(), Store: store})
	orgID := snowflake.ID(42)

	key := pub.PublishInvoice(context.Background(), orgID, sampleInvoice())
	require.NotEmpty(t, key)
	assert.True(t, strings.HasPrefix(key, "invoices/42/"))
	assert.True(t, strings.HasSuffix(key, ".pdf"))
	assert.Contains(t, store.objects, key)

	store.err = errors.New("bucket gone")
	assert.Empty(t, pub.PublishInvoice(context.Background(), orgID, sampleInvoice()))
	assert.Empty(t, pub.PublishInvoice(context.Background(), orgID, Invoice{}))

	disabled := NewPublisher(PublisherParams{Log: zap.NewNop(), Renderer: NewRenderer(), Store: DisabledStore{}})
	assert.Empty(t, disabled.PublishReceipt(context.Background(), orgID, Receipt{Invoice: sampleInvoice(), PaymentID: "py_1"}))
}

func TestObjectKeysAreUnique(t *testing.T) {
	a := ObjectKey("invoices", 7)
	b := ObjectKey("invoices", 7)
	assert.NotEqual(t, a, b)
}
