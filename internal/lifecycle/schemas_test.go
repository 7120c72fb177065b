package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	stderrors "geneva-listings/internal/common/errors"
	"geneva-listings/internal/domain"
)

func TestSchemaRegistry_CompilesBuiltins(t *testing.T) {
	reg, err := NewSchemaRegistry()
	require.NoError(t, err)
	require.NotNil(t, reg)
}

func TestValidatePayload_Listing(t *testing.T) {
	reg := MustNewSchemaRegistry()

	tests := []struct {
		name    string
		mutate  func(*domain.Payload)
		wantErr bool
	}{
		{"complete payload", func(p *domain.Payload) {}, false},
		{"missing description", func(p *domain.Payload) { p.Description = "" }, true},
		{"short description", func(p *domain.Payload) { p.Description = "tiny" }, true},
		{"missing price", func(p *domain.Payload) { p.Price = 0 }, true},
		{"missing contact", func(p *domain.Payload) { p.Contact = "" }, true},
		{"missing rent term", func(p *domain.Payload) { p.RentTerm = "" }, true},
		{"bad rent term", func(p *domain.Payload) { p.RentTerm = "weekly" }, true},
		{"too many photos", func(p *domain.Payload) {
			p.PhotoRefs = []string{"a", "b", "c", "d", "e", "f"}
		}, true},
		{"no address is fine before publish", func(p *domain.Payload) {
			p.Address = ""
			p.Latitude = 0
			p.Longitude = 0
		}, false},
		{"out of range latitude", func(p *domain.Payload) { p.Latitude = 91 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := validListingPayload()
			tt.mutate(&payload)
			err := reg.ValidatePayload(domain.KindListing, payload)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, stderrors.IsCode(err, stderrors.ErrCodeValidationFailed))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidatePayload_Request(t *testing.T) {
	reg := MustNewSchemaRegistry()

	ok := domain.Payload{
		Description: "Family of three looking for a one-room flat",
		Contact:     "@seeker",
	}
	assert.NoError(t, reg.ValidatePayload(domain.KindRequest, ok))

	// requests do not need price or rent term
	noExtras := ok
	noExtras.Price = 0
	noExtras.RentTerm = ""
	assert.NoError(t, reg.ValidatePayload(domain.KindRequest, noExtras))

	missing := ok
	missing.Contact = ""
	assert.Error(t, reg.ValidatePayload(domain.KindRequest, missing))
}

func TestValidatePayload_UnknownKind(t *testing.T) {
	reg := MustNewSchemaRegistry()
	err := reg.ValidatePayload(domain.Kind("garage"), validListingPayload())
	require.Error(t, err)
	assert.True(t, stderrors.IsCode(err, stderrors.ErrCodeValidationFailed))
}
