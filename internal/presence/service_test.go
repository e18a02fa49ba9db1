package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/utv-amats/amats/internal/assets"
	"github.com/utv-amats/amats/internal/audit"
	"github.com/utv-amats/amats/internal/shared"
)

var (
	admin      = shared.Actor{UserID: 1, Username: "admin", Role: "ADMIN"}
	supervisor = shared.Actor{UserID: 9, Username: "sup", Role: "SUPERVISOR"}
)

func newTestService(t *testing.T, repo *memoryRepo, scanner *fakeScanner) (*Service, *countingMetrics) {
	t.Helper()
	metrics := &countingMetrics{}
	svc := NewService(repo, scanner, Config{Subnet: "192.168.1.0/24", Timeout: time.Second, Threshold: threshold}, metrics, nil, nil)
	return svc, metrics
}

func TestRunScanMissingThenReacquired(t *testing.T) {
	repo := newMemoryRepo(Tracked{AssetID: 200, Tag: "A200", MAC: "AA:BB:CC:00:02:00", Status: assets.StatusAvailable, LastSeen: at(t0)})
	scanner := &fakeScanner{}
	svc, metrics := newTestService(t, repo, scanner)
	ctx := context.Background()

	t1 := t0.Add(threshold + time.Hour)
	svc.now = func() time.Time { return t1 }
	report, err := svc.RunScan(ctx, admin, ScanRequest{})
	require.NoError(t, err)
	require.Equal(t, []string{"A200"}, report.Missing)
	require.Equal(t, "192.168.1.0/24", report.Subnet)
	require.NotEmpty(t, report.RunID)
	require.Equal(t, assets.StatusMissing, repo.get(200).Status)
	require.Len(t, repo.audit, 2)
	require.Equal(t, audit.ActionMissing, repo.audit[0].Action)
	require.Equal(t, "A200", repo.audit[0].EntityID)
	require.Nil(t, repo.audit[0].ActorID)
	require.Equal(t, "presence", repo.audit[0].ActorName)
	require.Equal(t, audit.ActionScan, repo.audit[1].Action)
	require.Equal(t, report.RunID, repo.audit[1].EntityID)
	require.Equal(t, int64(1), *repo.audit[1].ActorID)

	t2 := t1.Add(time.Hour)
	svc.now = func() time.Time { return t2 }
	scanner.obs = []Observation{{MAC: "aa:bb:cc:00:02:00", IP: "192.168.1.20", SeenAt: t2}}
	report, err = svc.RunScan(ctx, admin, ScanRequest{})
	require.NoError(t, err)
	require.Equal(t, []string{"A200"}, report.Reacquired)
	got := repo.get(200)
	require.Equal(t, assets.StatusAvailable, got.Status)
	require.Equal(t, t2, *got.LastSeen)
	require.Len(t, repo.audit, 4)
	require.Equal(t, audit.ActionReacquired, repo.audit[2].Action)

	require.Equal(t, 1, metrics.transitions["MISSING"])
	require.Equal(t, 1, metrics.transitions["AVAILABLE"])
}

func TestRunScanAuthorization(t *testing.T) {
	repo := newMemoryRepo()
	scanner := &fakeScanner{}
	svc, _ := newTestService(t, repo, scanner)

	_, err := svc.RunScan(context.Background(), supervisor, ScanRequest{})
	require.ErrorIs(t, err, shared.ErrUnauthorized)
	require.Zero(t, scanner.calls)

	_, err = svc.RunScan(context.Background(), admin, ScanRequest{})
	require.NoError(t, err)
	require.Equal(t, 1, scanner.calls)

	_, err = svc.RunScan(context.Background(), shared.SystemActor("presence-scan"), ScanRequest{})
	require.NoError(t, err)
}

func TestRunScanRejectsBadSubnet(t *testing.T) {
	svc, _ := newTestService(t, newMemoryRepo(), &fakeScanner{})
	_, err := svc.RunScan(context.Background(), admin, ScanRequest{Subnet: "not-a-subnet"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestRunScanCollaboratorFailureIsScanError(t *testing.T) {
	repo := newMemoryRepo(Tracked{AssetID: 1, Tag: "A1", MAC: "AA:BB:CC:00:00:01", Status: assets.StatusAvailable})
	svc, _ := newTestService(t, repo, &fakeScanner{err: errors.New("socket: operation not permitted")})

	_, err := svc.RunScan(context.Background(), admin, ScanRequest{})
	require.ErrorIs(t, err, shared.ErrScan)
	require.Equal(t, assets.StatusAvailable, repo.get(1).Status)
	require.Empty(t, repo.audit)
}

func TestRunScanSkipsAssetChangedConcurrently(t *testing.T) {
	repo := newMemoryRepo(
		Tracked{AssetID: 1, Tag: "A1", MAC: "AA:BB:CC:00:00:01", Status: assets.StatusAvailable},
		Tracked{AssetID: 2, Tag: "A2", MAC: "AA:BB:CC:00:00:02", Status: assets.StatusAvailable},
	)
	repo.beforeApply = func(r *memoryRepo, u Update) {
		if u.AssetID == 1 {
			cur := r.tracked[1]
			cur.Status = assets.StatusIssued
			r.tracked[1] = cur
		}
	}
	svc, _ := newTestService(t, repo, &fakeScanner{})

	report, err := svc.RunScan(context.Background(), admin, ScanRequest{})
	require.NoError(t, err)
	require.Equal(t, 1, report.Skipped)
	require.Equal(t, []string{"A2"}, report.Missing)
	require.Equal(t, assets.StatusIssued, repo.get(1).Status)
	require.Equal(t, assets.StatusMissing, repo.get(2).Status)
}

func TestRunScanAuditFailureRollsBack(t *testing.T) {
	repo := newMemoryRepo(Tracked{AssetID: 1, Tag: "A1", MAC: "AA:BB:CC:00:00:01", Status: assets.StatusAvailable})
	repo.auditErr = fmt.Errorf("%w: audit insert", shared.ErrStorage)
	svc, _ := newTestService(t, repo, &fakeScanner{})

	_, err := svc.RunScan(context.Background(), admin, ScanRequest{})
	require.ErrorIs(t, err, shared.ErrStorage)
	require.Equal(t, assets.StatusAvailable, repo.get(1).Status)
}

func TestRunScanCollapsesConcurrentPasses(t *testing.T) {
	repo := newMemoryRepo()
	scanner := &fakeScanner{gate: make(chan struct{})}
	svc, _ := newTestService(t, repo, scanner)

	const callers = 4
	var wg sync.WaitGroup
	reports := make([]Report, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reports[i], errs[i] = svc.RunScan(context.Background(), admin, ScanRequest{})
		}()
	}
	require.Eventually(t, func() bool {
		scanner.mu.Lock()
		defer scanner.mu.Unlock()
		return scanner.calls == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(scanner.gate)
	wg.Wait()

	require.Equal(t, 1, scanner.calls)
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, reports[0].RunID, reports[i].RunID)
	}
	scans := 0
	for _, e := range repo.audit {
		if e.Action == audit.ActionScan {
			scans++
		}
	}
	require.Equal(t, callers, scans)
}

func TestRunScanSharedPassOutlivesCancelledCaller(t *testing.T) {
	repo := newMemoryRepo()
	scanner := &fakeScanner{gate: make(chan struct{})}
	svc, _ := newTestService(t, repo, scanner)
	other := shared.Actor{UserID: 2, Username: "admin2", Role: "ADMIN"}

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := svc.RunScan(leaderCtx, admin, ScanRequest{})
		leaderErr <- err
	}()
	require.Eventually(t, func() bool {
		scanner.mu.Lock()
		defer scanner.mu.Unlock()
		return scanner.calls == 1
	}, time.Second, 5*time.Millisecond)

	followerDone := make(chan error, 1)
	go func() {
		_, err := svc.RunScan(context.Background(), other, ScanRequest{})
		followerDone <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	require.ErrorIs(t, <-leaderErr, context.Canceled)
	close(scanner.gate)
	require.NoError(t, <-followerDone)

	require.Equal(t, 1, scanner.calls)
	require.Len(t, repo.audit, 1)
	require.Equal(t, int64(2), *repo.audit[0].ActorID)
}
