package format

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvoiceNumber(t *testing.T) {
	issued := time.Date(2025, time.February, 28, 23, 0, 0, 0, time.UTC)

	got, err := InvoiceNumber(DefaultInvoiceNumberTemplate, issued, 42)
	require.NoError(t, err)
	assert.Equal(t, "INV-20250228-000042", got)

	got, err = InvoiceNumber("{YY}/{SEQ}", issued, 7)
	require.NoError(t, err)
	assert.Equal(t, "25/7", got)

	_, err = InvoiceNumber("", issued, 1)
	assert.Error(t, err)
	_, err = InvoiceNumber(DefaultInvoiceNumberTemplate, issued, 0)
	assert.Error(t, err)
	_, err = InvoiceNumber("INV-{XX}", issued, 1)
	assert.Error(t, err)
}
