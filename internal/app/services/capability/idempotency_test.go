package capability_test

import (
	"context"
	"testing"

	"github.com/rnrlcrm/tradecore/internal/app/domain/party"
	"github.com/rnrlcrm/tradecore/internal/app/security"
	"github.com/rnrlcrm/tradecore/internal/app/services/capability"
	svcoutbox "github.com/rnrlcrm/tradecore/internal/app/services/outbox"
	"github.com/rnrlcrm/tradecore/internal/app/storage/memory"
	"github.com/stretchr/testify/require"
)

func TestUpdateCapabilitiesIsIdempotent(t *testing.T) {
	partners := memory.NewPartnerStore()
	partners.Put(&party.Partner{ID: "p1", HomeCountry: "IN", EntityClass: party.ClassBusinessEntity})
	partners.PutDocs("p1", capability.VerifiedDocs{capability.DocGST: true, capability.DocNationalID: true})

	uow := svcoutbox.NewUnitOfWork()
	detector := capability.New(partners, uow, nil)

	_, err := detector.UpdateCapabilities(context.Background(), security.System("test"), "p1")
	require.NoError(t, err)
	require.Len(t, uow.Events(), 1, "first run should stage exactly one CAPABILITIES_UPDATED event")

	_, err = detector.UpdateCapabilities(context.Background(), security.System("test"), "p1")
	require.NoError(t, err)
	require.Len(t, uow.Events(), 1, "second run with unchanged inputs must stage no additional event")
}
