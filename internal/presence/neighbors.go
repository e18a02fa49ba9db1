package presence

import (
	"net/netip"

	"github.com/prometheus/procfs"

	"github.com/utv-amats/amats/internal/assets"
)

const defaultProcRoot = procfs.DefaultMountPoint

// ReadNeighborTable loads the kernel IPv4 neighbour table from the procfs
// mounted at procRoot. Incomplete entries and zero MACs are dropped; MACs
// come back normalised.
func ReadNeighborTable(procRoot string) (map[netip.Addr]string, error) {
	fs, err := procfs.NewFS(procRoot)
	if err != nil {
		return nil, err
	}
	entries, err := fs.GatherARPEntries()
	if err != nil {
		return nil, err
	}
	return neighborMap(entries), nil
}

func neighborMap(entries []procfs.ARPEntry) map[netip.Addr]string {
	out := make(map[netip.Addr]string, len(entries))
	for _, e := range entries {
		if !e.IsComplete() {
			continue
		}
		addr, ok := netip.AddrFromSlice(e.IPAddr)
		if !ok {
			continue
		}
		mac, err := assets.NormalizeMAC(e.HWAddr.String())
		if err != nil || mac == "" || mac == "00:00:00:00:00:00" {
			continue
		}
		out[addr.Unmap()] = mac
	}
	return out
}
