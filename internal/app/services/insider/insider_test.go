package insider_test

import (
	"context"
	"testing"

	"github.com/rnrlcrm/tradecore/internal/app/domain/party"
	"github.com/rnrlcrm/tradecore/internal/app/services/insider"
	"github.com/rnrlcrm/tradecore/internal/app/storage/memory"
	"github.com/stretchr/testify/require"
)

func strptr(s string) *string { return &s }

func TestValidateSelfTrade(t *testing.T) {
	store := memory.NewPartnerStore()
	store.Put(&party.Partner{ID: "p1"})
	v := insider.New(store)
	reason, err := v.Validate(context.Background(), "p1", "p1")
	require.NoError(t, err)
	require.Equal(t, insider.ReasonSelf, reason)
}

func TestValidateSharedCorporateGroup(t *testing.T) {
	store := memory.NewPartnerStore()
	store.Put(&party.Partner{ID: "buyer", CorporateGroupID: strptr("grp-1")})
	store.Put(&party.Partner{ID: "seller", CorporateGroupID: strptr("grp-1")})
	v := insider.New(store)
	reason, err := v.Validate(context.Background(), "buyer", "seller")
	require.NoError(t, err)
	require.Equal(t, insider.ReasonCorporateGroup, reason)
}

func TestValidateSharedTaxID(t *testing.T) {
	store := memory.NewPartnerStore()
	store.Put(&party.Partner{ID: "buyer", SharedTaxIDs: []string{"TAX-1"}})
	store.Put(&party.Partner{ID: "seller", SharedTaxIDs: []string{"TAX-1"}})
	v := insider.New(store)
	reason, err := v.Validate(context.Background(), "buyer", "seller")
	require.NoError(t, err)
	require.Equal(t, insider.ReasonSharedTaxID, reason)
}

func TestValidateMasterEntityTransitive(t *testing.T) {
	store := memory.NewPartnerStore()
	store.Put(&party.Partner{ID: "hq"})
	store.Put(&party.Partner{ID: "branch-a", MasterEntityID: strptr("hq")})
	store.Put(&party.Partner{ID: "branch-b", MasterEntityID: strptr("hq")})
	v := insider.New(store)
	reason, err := v.Validate(context.Background(), "branch-a", "branch-b")
	require.NoError(t, err)
	require.Equal(t, insider.ReasonMasterEntity, reason)
}

func TestValidateUnrelatedClear(t *testing.T) {
	store := memory.NewPartnerStore()
	store.Put(&party.Partner{ID: "buyer"})
	store.Put(&party.Partner{ID: "seller"})
	v := insider.New(store)
	reason, err := v.Validate(context.Background(), "buyer", "seller")
	require.NoError(t, err)
	require.Empty(t, reason)
}

func TestBatchValidate(t *testing.T) {
	store := memory.NewPartnerStore()
	store.Put(&party.Partner{ID: "a", CorporateGroupID: strptr("g1")})
	store.Put(&party.Partner{ID: "b", CorporateGroupID: strptr("g1")})
	store.Put(&party.Partner{ID: "c"})
	v := insider.New(store)
	pairs, err := v.BatchValidate(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	require.Equal(t, insider.ReasonCorporateGroup, pairs[0].Reason)
}
