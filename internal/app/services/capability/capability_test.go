package capability

import (
	"testing"

	"github.com/rnrlcrm/tradecore/internal/app/domain/party"
	"github.com/stretchr/testify/require"
)

func TestDetectRuleA(t *testing.T) {
	caps := Detect("IN", party.ClassBusinessEntity, VerifiedDocs{DocGST: true, DocNationalID: true})
	require.True(t, caps[party.CapDomesticBuyIndia])
	require.True(t, caps[party.CapDomesticSellIndia])
	require.False(t, caps[party.CapImportAllowed])
}

func TestDetectRuleB(t *testing.T) {
	caps := Detect("IN", party.ClassBusinessEntity, VerifiedDocs{DocIEC: true, DocGST: true, DocNationalID: true})
	require.True(t, caps[party.CapImportAllowed])
	require.True(t, caps[party.CapExportAllowed])
}

func TestDetectRuleCForeignEntity(t *testing.T) {
	caps := Detect("US", party.ClassBusinessEntity, VerifiedDocs{DocForeignTaxID: true})
	require.True(t, caps[party.CapDomesticBuyHome])
	require.True(t, caps[party.CapDomesticSellHome])
	require.False(t, caps[party.CapDomesticBuyIndia])
	require.False(t, caps[party.CapDomesticSellIndia])
}

func TestDetectCDPS1NeverViolated(t *testing.T) {
	// Even with GST+national ID docs (which normally grant india flags),
	// a non-IN home partner must never end up with them true.
	caps := Detect("US", party.ClassBusinessEntity, VerifiedDocs{DocGST: true, DocNationalID: true})
	require.False(t, caps[party.CapDomesticBuyIndia])
	require.False(t, caps[party.CapDomesticSellIndia])
}

func TestDetectRuleEServiceProviderForcedFalse(t *testing.T) {
	caps := Detect("IN", party.ClassServiceProvider, VerifiedDocs{
		DocGST: true, DocNationalID: true, DocIEC: true,
	})
	for _, flag := range party.AllCapabilities {
		require.False(t, caps[flag], "flag %s should be forced false for service provider", flag)
	}
}

func TestValidateDirectionCrossBorderDenial(t *testing.T) {
	caps := Detect("US", party.ClassBusinessEntity, VerifiedDocs{})
	err := ValidateDirection("US", caps, "IN", Sell)
	require.Error(t, err)
	require.Contains(t, err.Error(), "foreign entity may not trade domestically in IN")
}

func TestValidateDirectionHomeCountryAllowed(t *testing.T) {
	caps := Detect("US", party.ClassBusinessEntity, VerifiedDocs{DocForeignTaxID: true})
	err := ValidateDirection("US", caps, "US", Sell)
	require.NoError(t, err)
}

func TestValidateDirectionIndiaPartnerAllowed(t *testing.T) {
	caps := Detect("IN", party.ClassBusinessEntity, VerifiedDocs{DocGST: true, DocNationalID: true})
	err := ValidateDirection("IN", caps, "IN", Sell)
	require.NoError(t, err)
}
