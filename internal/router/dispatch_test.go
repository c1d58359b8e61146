package router

import (
	"testing"

	"facilitator/internal/apierrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_Exact(t *testing.T) {
	req := Request{PaymentPayload: PaymentPayload{
		Accepted: Accepted{Scheme: SchemeExact},
		Payload: Payload{
			Signature:     "0xabc",
			Authorization: &ERC3009Authorization{},
		},
	}}

	s, err := classify(req)
	require.NoError(t, err)
	assert.Equal(t, shapeExact, s)
}

func TestClassify_ExactMissingFieldsIsInvalidPayload(t *testing.T) {
	req := Request{PaymentPayload: PaymentPayload{
		Accepted: Accepted{Scheme: SchemeExact},
		Payload:  Payload{},
	}}

	_, err := classify(req)
	require.Error(t, err)
	apiErr, ok := err.(*apierrors.Error)
	require.True(t, ok)
	assert.Equal(t, apierrors.CodeInvalidPayload, apiErr.Code)
}

func TestClassify_EscrowCreation(t *testing.T) {
	req := Request{PaymentPayload: PaymentPayload{
		Accepted: Accepted{Scheme: SchemeEscrow},
		Payload: Payload{
			Signature:     "0xabc",
			Authorization: &ERC3009Authorization{},
			SessionParams: &SessionParams{},
		},
	}}

	s, err := classify(req)
	require.NoError(t, err)
	assert.Equal(t, shapeEscrowCreation, s)
}

func TestClassify_EscrowUsage(t *testing.T) {
	req := Request{PaymentPayload: PaymentPayload{
		Accepted: Accepted{Scheme: SchemeEscrow},
		Payload: Payload{
			Session: &SessionRef{ID: "0x1", Token: "tok"},
		},
	}}

	s, err := classify(req)
	require.NoError(t, err)
	assert.Equal(t, shapeEscrowUsage, s)
}

func TestClassify_DeprecatedSessionAliasRoutesAsEscrowUsage(t *testing.T) {
	req := Request{PaymentPayload: PaymentPayload{
		Accepted: Accepted{Scheme: SchemeSession},
		Payload: Payload{
			Session: &SessionRef{ID: "0x1", Token: "tok"},
		},
	}}

	s, err := classify(req)
	require.NoError(t, err)
	assert.Equal(t, shapeEscrowUsage, s)
}

func TestClassify_UnknownSchemeIsUnsupported(t *testing.T) {
	req := Request{PaymentPayload: PaymentPayload{
		Accepted: Accepted{Scheme: "wire-transfer"},
	}}

	_, err := classify(req)
	require.Error(t, err)
	apiErr, ok := err.(*apierrors.Error)
	require.True(t, ok)
	assert.Equal(t, apierrors.CodeUnsupportedScheme, apiErr.Code)
}
