package assets

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/utv-amats/amats/internal/audit"
	"github.com/utv-amats/amats/internal/shared"
)

var (
	admin      = shared.Actor{UserID: 1, Username: "admin", Role: "ADMIN", SourceAddr: "10.1.1.1"}
	technician = shared.Actor{UserID: 7, Username: "t1", Role: "TECHNICIAN"}
	supervisor = shared.Actor{UserID: 9, Username: "sup", Role: "SUPERVISOR"}
	fixedNow   = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
)

func newTestService(t *testing.T) (*Service, *memoryRepo, *countingCache) {
	t.Helper()
	repo := newMemoryRepo()
	cache := &countingCache{}
	svc := NewService(repo, cache, nil)
	svc.now = func() time.Time { return fixedNow }
	svc.intn = func(int) int { return 42 }
	return svc, repo, cache
}

func seedCategory(t *testing.T, svc *Service, name string) Category {
	t.Helper()
	cat, err := svc.CreateCategory(context.Background(), admin, CategoryInput{Name: name})
	require.NoError(t, err)
	return cat
}

func TestCreateAssetGeneratesTagAndAudits(t *testing.T) {
	svc, repo, cache := newTestService(t)
	cat := seedCategory(t, svc, "Cameras")

	asset, err := svc.CreateAsset(context.Background(), admin, CreateAssetInput{
		Name:       "Sony FX6",
		CategoryID: cat.ID,
		MACAddress: "aa-bb-cc-dd-ee-ff",
	})
	require.NoError(t, err)
	require.Equal(t, "UTV-CAM-0042", asset.Tag)
	require.Equal(t, "AA:BB:CC:DD:EE:FF", asset.MACAddress)
	require.Equal(t, StatusAvailable, asset.Status)
	require.Equal(t, ConditionGood, asset.Condition)
	require.Equal(t, 1, cache.bumps)

	require.Len(t, repo.audit, 2)
	last := repo.audit[1]
	require.Equal(t, audit.ActionCreate, last.Action)
	require.Equal(t, "UTV-CAM-0042", last.EntityID)
	require.Equal(t, "10.1.1.1", last.SourceAddr)
}

func TestCreateAssetTagCollisionFallsBack(t *testing.T) {
	svc, _, _ := newTestService(t)
	cat := seedCategory(t, svc, "Audio")
	first, err := svc.CreateAsset(context.Background(), admin, CreateAssetInput{Name: "Mic 1", CategoryID: cat.ID})
	require.NoError(t, err)
	require.Equal(t, "UTV-AUD-0042", first.Tag)

	second, err := svc.CreateAsset(context.Background(), admin, CreateAssetInput{Name: "Mic 2", CategoryID: cat.ID})
	require.NoError(t, err)
	require.NotEqual(t, first.Tag, second.Tag)
	require.Regexp(t, `^UTV-AUD-[0-9A-F]{6}$`, second.Tag)
}

func TestCreateAssetValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	cat := seedCategory(t, svc, "Laptops")

	_, err := svc.CreateAsset(context.Background(), admin, CreateAssetInput{CategoryID: cat.ID})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreateAsset(context.Background(), admin, CreateAssetInput{Name: "X", CategoryID: cat.ID, MACAddress: "zz"})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreateAsset(context.Background(), admin, CreateAssetInput{Name: "X", CategoryID: 999})
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.CreateAsset(context.Background(), technician, CreateAssetInput{Name: "X", CategoryID: cat.ID})
	require.ErrorIs(t, err, shared.ErrUnauthorized)
}

func TestAuditFailureRollsBackCreate(t *testing.T) {
	svc, repo, cache := newTestService(t)
	cat := seedCategory(t, svc, "Lighting")
	repo.auditErr = shared.ErrStorage

	_, err := svc.CreateAsset(context.Background(), admin, CreateAssetInput{Name: "Arri", CategoryID: cat.ID})
	require.ErrorIs(t, err, shared.ErrStorage)
	require.Empty(t, repo.assets)
	require.Zero(t, cache.bumps)
}

func TestRetireIssuedAssetIsInvalid(t *testing.T) {
	svc, repo, _ := newTestService(t)
	cat := seedCategory(t, svc, "Cameras")
	asset, err := svc.CreateAsset(context.Background(), admin, CreateAssetInput{Name: "FX3", CategoryID: cat.ID})
	require.NoError(t, err)

	issued := repo.assets[asset.ID]
	issued.Status = StatusIssued
	holder := int64(7)
	issued.HolderID = &holder
	repo.assets[asset.ID] = issued

	_, err = svc.Retire(context.Background(), admin, asset.ID, "")
	require.ErrorIs(t, err, shared.ErrInvalidState)
	require.Equal(t, StatusIssued, repo.assets[asset.ID].Status)
}

func TestMissingAssetWithOpenAssignmentKeepsItsStatus(t *testing.T) {
	svc, repo, _ := newTestService(t)
	cat := seedCategory(t, svc, "Cameras")
	asset, err := svc.CreateAsset(context.Background(), admin, CreateAssetInput{Name: "FX3", CategoryID: cat.ID})
	require.NoError(t, err)

	missing := repo.assets[asset.ID]
	missing.Status = StatusMissing
	holder := int64(7)
	missing.HolderID = &holder
	repo.assets[asset.ID] = missing
	entries := len(repo.audit)

	_, err = svc.Retire(context.Background(), admin, asset.ID, "")
	require.ErrorIs(t, err, shared.ErrInvalidState)
	_, err = svc.SetMaintenance(context.Background(), admin, asset.ID, "")
	require.ErrorIs(t, err, shared.ErrInvalidState)

	require.Equal(t, StatusMissing, repo.assets[asset.ID].Status)
	require.Len(t, repo.audit, entries)
	require.Empty(t, repo.records)
}

func TestMissingAssetWithoutHolderCanBeRetired(t *testing.T) {
	svc, repo, _ := newTestService(t)
	cat := seedCategory(t, svc, "Cameras")
	asset, err := svc.CreateAsset(context.Background(), admin, CreateAssetInput{Name: "FX3", CategoryID: cat.ID})
	require.NoError(t, err)

	missing := repo.assets[asset.ID]
	missing.Status = StatusMissing
	repo.assets[asset.ID] = missing

	got, err := svc.Retire(context.Background(), admin, asset.ID, "written off")
	require.NoError(t, err)
	require.Equal(t, StatusRetired, got.Status)
}

func TestMaintenanceLifecycle(t *testing.T) {
	svc, repo, _ := newTestService(t)
	cat := seedCategory(t, svc, "Cameras")
	asset, err := svc.CreateAsset(context.Background(), admin, CreateAssetInput{Name: "FX3", CategoryID: cat.ID})
	require.NoError(t, err)

	_, err = svc.CompleteMaintenance(context.Background(), admin, asset.ID, "")
	require.ErrorIs(t, err, shared.ErrInvalidState)

	got, err := svc.SetMaintenance(context.Background(), admin, asset.ID, "lens cleaning")
	require.NoError(t, err)
	require.Equal(t, StatusMaintenance, got.Status)
	require.Equal(t, audit.ActionMaintenance, repo.audit[len(repo.audit)-1].Action)
	require.Contains(t, repo.audit[len(repo.audit)-1].Description, "lens cleaning")

	got, err = svc.CompleteMaintenance(context.Background(), admin, asset.ID, "")
	require.NoError(t, err)
	require.Equal(t, StatusAvailable, got.Status)

	got, err = svc.Retire(context.Background(), admin, asset.ID, "end of life")
	require.NoError(t, err)
	require.Equal(t, StatusRetired, got.Status)

	_, err = svc.SetMaintenance(context.Background(), admin, asset.ID, "")
	require.ErrorIs(t, err, shared.ErrInvalidState)
	_, err = svc.Retire(context.Background(), admin, asset.ID, "")
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestRetireRequiresAdmin(t *testing.T) {
	svc, _, _ := newTestService(t)
	cat := seedCategory(t, svc, "Cameras")
	asset, err := svc.CreateAsset(context.Background(), admin, CreateAssetInput{Name: "FX3", CategoryID: cat.ID})
	require.NoError(t, err)

	_, err = svc.Retire(context.Background(), supervisor, asset.ID, "")
	require.ErrorIs(t, err, shared.ErrUnauthorized)
	_, err = svc.Retire(context.Background(), technician, asset.ID, "")
	require.ErrorIs(t, err, shared.ErrUnauthorized)
}

func TestDeleteCategoryReferencedIsInvalid(t *testing.T) {
	svc, repo, _ := newTestService(t)
	cat := seedCategory(t, svc, "Cameras")
	_, err := svc.CreateAsset(context.Background(), admin, CreateAssetInput{Name: "FX3", CategoryID: cat.ID})
	require.NoError(t, err)

	err = svc.DeleteCategory(context.Background(), admin, cat.ID)
	require.ErrorIs(t, err, shared.ErrInvalidState)
	require.Contains(t, repo.categories, cat.ID)

	empty := seedCategory(t, svc, "Spare")
	require.NoError(t, svc.DeleteCategory(context.Background(), admin, empty.ID))
	require.NotContains(t, repo.categories, empty.ID)
	require.Equal(t, audit.ActionDelete, repo.audit[len(repo.audit)-1].Action)
}

func TestUpdateAssetRecordsChangedFields(t *testing.T) {
	svc, repo, _ := newTestService(t)
	cat := seedCategory(t, svc, "Cameras")
	asset, err := svc.CreateAsset(context.Background(), admin, CreateAssetInput{Name: "FX3", CategoryID: cat.ID, Location: "Studio A"})
	require.NoError(t, err)
	auditCount := len(repo.audit)

	same := "Studio A"
	_, err = svc.UpdateAsset(context.Background(), admin, asset.ID, UpdateAssetInput{Location: &same})
	require.NoError(t, err)
	require.Len(t, repo.audit, auditCount)

	loc := "Studio B"
	mac := "001122334455"
	got, err := svc.UpdateAsset(context.Background(), admin, asset.ID, UpdateAssetInput{Location: &loc, MACAddress: &mac})
	require.NoError(t, err)
	require.Equal(t, "Studio B", got.Location)
	require.Equal(t, "00:11:22:33:44:55", got.MACAddress)
	require.Len(t, repo.audit, auditCount+1)
	require.Contains(t, repo.audit[auditCount].Description, "location, mac_address")
}

func TestTechnicianSeesAvailableOrOwnAssets(t *testing.T) {
	svc, repo, _ := newTestService(t)
	cat := seedCategory(t, svc, "Cameras")
	svc.intn = func(n int) int { return len(repo.assets) }
	a1, err := svc.CreateAsset(context.Background(), admin, CreateAssetInput{Name: "Available", CategoryID: cat.ID})
	require.NoError(t, err)
	a2, err := svc.CreateAsset(context.Background(), admin, CreateAssetInput{Name: "Mine", CategoryID: cat.ID})
	require.NoError(t, err)
	a3, err := svc.CreateAsset(context.Background(), admin, CreateAssetInput{Name: "Theirs", CategoryID: cat.ID})
	require.NoError(t, err)

	mine, theirs := int64(7), int64(8)
	for id, holder := range map[int64]*int64{a2.ID: &mine, a3.ID: &theirs} {
		a := repo.assets[id]
		a.Status = StatusIssued
		a.HolderID = holder
		repo.assets[id] = a
	}

	items, page, err := svc.ListAssets(context.Background(), technician, ListFilter{})
	require.NoError(t, err)
	require.Equal(t, 2, page.Total)
	names := []string{items[0].Name, items[1].Name}
	require.ElementsMatch(t, []string{"Available", "Mine"}, names)

	_, err = svc.GetAsset(context.Background(), technician, a3.ID)
	require.ErrorIs(t, err, shared.ErrUnauthorized)
	_, err = svc.GetAsset(context.Background(), technician, a1.ID)
	require.NoError(t, err)

	items, _, err = svc.ListAssets(context.Background(), supervisor, ListFilter{})
	require.NoError(t, err)
	require.Len(t, items, 3)
}
