package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sort"
	"sync"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"golang.org/x/sync/errgroup"

	"github.com/utv-amats/amats/internal/shared"
)

// MaxHosts caps how many addresses one pass probes.
const MaxHosts = 254

// ScannerConfig tunes the ICMP sweep.
type ScannerConfig struct {
	Concurrency int
	PingTimeout time.Duration
	Privileged  bool
	// ProcRoot is where procfs is mounted; the arp table is read from it.
	ProcRoot string
}

// Scanner sweeps a subnet with ICMP echo and resolves responders to MAC
// addresses through the kernel neighbour table.
type Scanner struct {
	cfg       ScannerConfig
	logger    *slog.Logger
	probe     func(ctx context.Context, addr netip.Addr) (bool, error)
	neighbors func() (map[netip.Addr]string, error)
	now       func() time.Time
}

// NewScanner builds the ICMP scanner.
func NewScanner(cfg ScannerConfig, logger *slog.Logger) *Scanner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 32
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = time.Second
	}
	if cfg.ProcRoot == "" {
		cfg.ProcRoot = defaultProcRoot
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scanner{cfg: cfg, logger: logger, now: time.Now}
	s.probe = s.ping
	s.neighbors = func() (map[netip.Addr]string, error) { return ReadNeighborTable(cfg.ProcRoot) }
	return s
}

// Scan probes the subnet until every host answered or timed out, or until
// timeout elapses. A pass cut short by the timeout returns what it
// collected. Socket failures abort the pass with shared.ErrScan.
func (s *Scanner) Scan(ctx context.Context, subnet netip.Prefix, timeout time.Duration) ([]Observation, error) {
	hosts, err := Hosts(subnet, MaxHosts)
	if err != nil {
		return nil, err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var (
		mu    sync.Mutex
		alive []netip.Addr
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, host := range hosts {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			ok, err := s.probe(gctx, host)
			if err != nil {
				return err
			}
			if ok {
				mu.Lock()
				alive = append(alive, host)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return nil, fmt.Errorf("%w: probe %s: %v", shared.ErrScan, subnet, err)
	}
	if err := ctx.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}

	table, err := s.neighbors()
	if err != nil {
		return nil, fmt.Errorf("%w: read neighbour table: %v", shared.ErrScan, err)
	}
	sort.Slice(alive, func(i, j int) bool { return alive[i].Less(alive[j]) })
	seenAt := s.now().UTC()
	out := make([]Observation, 0, len(alive))
	for _, addr := range alive {
		out = append(out, Observation{MAC: table[addr], IP: addr.String(), SeenAt: seenAt})
	}
	s.logger.Debug("presence sweep finished",
		slog.String("subnet", subnet.String()),
		slog.Int("probed", len(hosts)),
		slog.Int("alive", len(alive)))
	return out, nil
}

func (s *Scanner) ping(ctx context.Context, addr netip.Addr) (bool, error) {
	pinger, err := probing.NewPinger(addr.String())
	if err != nil {
		return false, err
	}
	pinger.Count = 1
	pinger.Timeout = s.cfg.PingTimeout
	pinger.SetPrivileged(s.cfg.Privileged)
	if err := pinger.RunWithContext(ctx); err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		return false, err
	}
	return pinger.Statistics().PacketsRecv > 0, nil
}

// Hosts lists the usable IPv4 host addresses of subnet, at most limit of them.
func Hosts(subnet netip.Prefix, limit int) ([]netip.Addr, error) {
	if !subnet.IsValid() || !subnet.Addr().Is4() {
		return nil, fmt.Errorf("%w: %q is not an IPv4 subnet", shared.ErrScan, subnet)
	}
	subnet = subnet.Masked()
	bits := subnet.Bits()
	if bits >= 31 {
		out := []netip.Addr{subnet.Addr()}
		if bits == 31 {
			out = append(out, subnet.Addr().Next())
		}
		return out, nil
	}
	var out []netip.Addr
	for addr := subnet.Addr().Next(); subnet.Contains(addr) && len(out) < limit; addr = addr.Next() {
		if !subnet.Contains(addr.Next()) {
			break
		}
		out = append(out, addr)
	}
	return out, nil
}
