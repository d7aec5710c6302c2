package enginemodule

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/encore/internal/modules/enginemodule/core/filters"
	"github.com/mantonx/encore/internal/modules/enginemodule/core/registry"
	"github.com/mantonx/encore/internal/modules/enginemodule/core/system"
	"github.com/mantonx/encore/internal/modules/enginemodule/core/works"
	"github.com/mantonx/encore/internal/modules/enginemodule/types"
)

// Process-wide state shared by every Session. globalMu guards the init
// counter, host info and built-in registration.
var (
	globalMu    sync.Mutex
	globalCount int
	hostInfo    system.Info

	instanceSeq atomic.Int64
)

// globalInit runs the one-time setup on the first open Session.
func globalInit(logger hclog.Logger) error {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalCount++
	if globalCount > 1 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	hostInfo = system.Detect(ctx, logger)
	logger.Debug("host detected",
		"os", hostInfo.OS,
		"arch", hostInfo.Arch,
		"cpu", hostInfo.CPUModel,
		"cores", hostInfo.PhysicalCPUs,
		"threads", hostInfo.LogicalCPUs,
		"features", hostInfo.Features,
		"memory", hostInfo.MemoryTotal)

	reg := registry.Default()
	reg.SetLogger(logger)
	for _, obj := range builtins() {
		// a host object registered under a built-in id wins
		info := obj.Info()
		if _, err := reg.Get(info.Kind, info.ID); err == nil {
			continue
		}
		if err := reg.Register(obj); err != nil {
			globalCount--
			return err
		}
	}
	return nil
}

// globalClose undoes globalInit when the last Session closes. Registered
// work objects stay registered.
func globalClose(logger hclog.Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalCount == 0 {
		return
	}
	globalCount--
	if globalCount == 0 {
		hostInfo = system.Info{}
		logger.Debug("global state released")
	}
}

func builtins() []types.WorkObject {
	return append(works.Builtins(), filters.Builtins()...)
}

// HostInfo returns the capabilities detected by the first Init. It is zero
// while no Session is open.
func HostInfo() system.Info {
	globalMu.Lock()
	defer globalMu.Unlock()
	return hostInfo
}

// OpenSessions returns the global init counter.
func OpenSessions() int {
	globalMu.Lock()
	defer globalMu.Unlock()
	return globalCount
}

// RegisterWorkObject adds obj to the process-wide registry, replacing any
// object of the same kind and id, built-ins included. It may be called
// before the first Init. Register before scanning or starting work.
func RegisterWorkObject(obj types.WorkObject) error {
	globalMu.Lock()
	defer globalMu.Unlock()
	return registry.Default().Register(obj)
}
