// Package server owns the process-wide scheduler state (spec §9 "Global
// state" design note): the Allocator, every pinned Worker, the per-tenant
// layout that seeds them, and the boot/signal lifecycle that used to live in
// proxyfsd's Daemon(). There is exactly one Server per process; nothing here
// is a hidden static.
package server

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/NVIDIA/ufssched/alloc"
	"github.com/NVIDIA/ufssched/conf"
	"github.com/NVIDIA/ufssched/logger"
	"github.com/NVIDIA/ufssched/msg"
	"github.com/NVIDIA/ufssched/param"
	"github.com/NVIDIA/ufssched/resrc"
	"github.com/NVIDIA/ufssched/tag"
	"github.com/NVIDIA/ufssched/tenant"
	"github.com/NVIDIA/ufssched/view"
	"github.com/NVIDIA/ufssched/worker"
)

// TenantLayout is one (worker, app) entry parsed from the `-l` flag: the
// initial cache/bandwidth/cpu-ratio this app starts with on this worker.
type TenantLayout struct {
	Wid       uint32
	Aid       uint32
	CacheSize uint64 // blocks
	Bandwidth int64  // blocks/sec
	CpuRatio  float64
}

// Config is the fully-resolved boot configuration a Server is built from,
// after CLI flags have been merged into the file-based ConfMap (§A
// "Configuration").
type Config struct {
	NumWorkers        uint32
	NumApps           uint32
	Cores             []int
	CachePoolBlocks   uint64
	BlockSize         int
	Layout            []TenantLayout
	Policy            []string
	ReadyFile         string
	ExitFile          string
	DevConfigPath     string
	ExitFilePollEvery time.Duration
}

const defaultCachePoolBlocksPerWorker = 262144 // 1 GiB of 4 KiB blocks

// NewConfig resolves a Config from confMap's "Scheduler" section, the way
// every other package in this repo pulls typed options out of a ConfMap
// rather than hand-parsing strings itself.
func NewConfig(confMap conf.ConfMap) (cfg Config, err error) {
	numWorkers, err := confMap.FetchOptionValueUint32("Scheduler", "NumWorkers")
	if err != nil {
		return cfg, fmt.Errorf("server.NewConfig(): Scheduler.NumWorkers: %v", err)
	}
	cfg.NumWorkers = numWorkers

	numApps, err := confMap.FetchOptionValueUint32("Scheduler", "NumApps")
	if err != nil {
		numApps = 0
	}
	cfg.NumApps = numApps

	coreStrs, err := confMap.FetchOptionValueStringSlice("Scheduler", "Cores")
	if err == nil {
		for _, s := range coreStrs {
			if s == "" {
				continue
			}
			c, convErr := strconv.Atoi(s)
			if convErr != nil {
				return cfg, fmt.Errorf("server.NewConfig(): Scheduler.Cores entry %q: %v", s, convErr)
			}
			cfg.Cores = append(cfg.Cores, c)
		}
	}

	layoutStrs, err := confMap.FetchOptionValueStringSlice("Scheduler", "Layout")
	if err == nil {
		cfg.Layout, err = parseLayout(layoutStrs)
		if err != nil {
			return cfg, err
		}
	}

	cfg.Policy, _ = confMap.FetchOptionValueStringSlice("Scheduler", "Policy")

	cfg.ReadyFile, _ = confMap.FetchOptionValueString("Scheduler", "ReadyFile")
	cfg.ExitFile, _ = confMap.FetchOptionValueString("Scheduler", "ExitFile")
	cfg.DevConfigPath, _ = confMap.FetchOptionValueString("Scheduler", "DevConfigPath")

	cfg.CachePoolBlocks, err = confMap.FetchOptionValueUint64("Scheduler", "CachePoolBlocksPerWorker")
	if err != nil {
		cfg.CachePoolBlocks = defaultCachePoolBlocksPerWorker
	}
	cfg.BlockSize = param.BlockSize
	cfg.ExitFilePollEvery = time.Second

	return cfg, nil
}

// parseLayout parses "w<id>-a<id>:c<cacheBlocks>:b<bandwidth>:p<cpuRatio>"
// tokens. Bounds (cpu_ratio in (0,1]) are checked here, up front, resolving
// the §9 design note that the original rejects an out-of-range cpu_ratio
// only after parsing everything else.
func parseLayout(tokens []string) ([]TenantLayout, error) {
	out := make([]TenantLayout, 0, len(tokens))
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		fields := strings.Split(tok, ":")
		if len(fields) != 4 {
			return nil, fmt.Errorf("server.parseLayout(): malformed layout entry %q", tok)
		}
		wid, aid, err := parseWidAid(fields[0])
		if err != nil {
			return nil, fmt.Errorf("server.parseLayout(): %q: %v", tok, err)
		}
		cache, err := parsePrefixedUint(fields[1], 'c')
		if err != nil {
			return nil, fmt.Errorf("server.parseLayout(): %q: %v", tok, err)
		}
		bw, err := parsePrefixedUint(fields[2], 'b')
		if err != nil {
			return nil, fmt.Errorf("server.parseLayout(): %q: %v", tok, err)
		}
		ratioStr := strings.TrimPrefix(fields[3], "p")
		ratio, err := strconv.ParseFloat(ratioStr, 64)
		if err != nil {
			return nil, fmt.Errorf("server.parseLayout(): %q: cpu_ratio: %v", tok, err)
		}
		if ratio <= 0 || ratio > 1 {
			return nil, fmt.Errorf("server.parseLayout(): %q: cpu_ratio %v out of (0,1]", tok, ratio)
		}
		out = append(out, TenantLayout{Wid: wid, Aid: aid, CacheSize: cache, Bandwidth: int64(bw), CpuRatio: ratio})
	}
	return out, nil
}

func parseWidAid(s string) (wid, aid uint32, err error) {
	parts := strings.Split(s, "-")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected \"w<N>-a<N>\", got %q", s)
	}
	w, err := strconv.ParseUint(strings.TrimPrefix(parts[0], "w"), 10, 32)
	if err != nil {
		return 0, 0, err
	}
	a, err := strconv.ParseUint(strings.TrimPrefix(parts[1], "a"), 10, 32)
	if err != nil {
		return 0, 0, err
	}
	return uint32(w), uint32(a), nil
}

func parsePrefixedUint(s string, prefix byte) (uint64, error) {
	if len(s) == 0 || s[0] != prefix {
		return 0, fmt.Errorf("expected prefix %q in %q", string(prefix), s)
	}
	return strconv.ParseUint(s[1:], 10, 64)
}

// policySet turns a policy token list into the alloc.Policy/param.Params the
// rest of the core consumes, per §6's policy-flag list.
func policySet(tokens []string) (alloc.Policy, param.Params) {
	p := alloc.Policy{
		AllocEnabled:   true,
		HarvestEnabled: true,
		CachePartition: true,
		Partition:      alloc.Symmetric,
		MaxTradeRound:  3,
		SoftMinWeight:  param.MaxWeight / 32,
	}
	for _, tok := range tokens {
		switch tok {
		case "NO_ALLOC":
			p.AllocEnabled = false
		case "NO_HARVEST":
			p.HarvestEnabled = false
		case "NO_CACHE_PARTITION":
			p.CachePartition = false
		case "NO_SYMM_PARTITION":
			p.Partition = alloc.AsymmAvoidTiny
		case "NO_AVOID_TINY_WEIGHT":
			p.Partition = alloc.AsymmNaive
		}
	}
	return p, param.Select(tokens)
}

// loopDevice is a trivial in-process stand-in for the real block device
// (SPDK/POSIX drivers are explicitly out of this core's scope, §1). It
// completes every submission immediately with zero latency so a Server can
// boot and run end to end without external hardware.
type loopDevice struct {
	completions chan worker.DeviceCompletion
}

func newLoopDevice() *loopDevice {
	return &loopDevice{completions: make(chan worker.DeviceCompletion, 4096)}
}

func (d *loopDevice) Submit(req worker.DeviceRequest) {
	d.completions <- worker.DeviceCompletion{Req: req}
}

func (d *loopDevice) Completions() <-chan worker.DeviceCompletion {
	return d.completions
}

// Server is the explicit process-wide value: the Allocator, every Worker,
// and the channels wiring them together. Workers own tenants; the Allocator
// owns AppResrcViews referring to tenants structurally by (aid, wid), not by
// pointer, per §9's "Cyclic references" note.
type Server struct {
	cfg    Config
	params param.Params

	allocator *alloc.Allocator
	workers   map[uint32]*worker.Worker
	apps      map[uint32]*alloc.App
	sessions  map[string]uuid.UUID // by "wid-aid", the app-attach handshake identifier

	metrics *Metrics

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func sessionKey(aid, wid uint32) string {
	return fmt.Sprintf("%d-%d", wid, aid)
}

// New builds a Server from cfg but starts nothing yet; call Up to boot it.
func New(cfg Config) (*Server, error) {
	if cfg.NumWorkers == 0 {
		return nil, fmt.Errorf("server.New(): Scheduler.NumWorkers must be > 0")
	}

	policy, params := policySet(cfg.Policy)

	s := &Server{
		cfg:       cfg,
		params:    params,
		allocator: alloc.New(params, policy),
		workers:   make(map[uint32]*worker.Worker, cfg.NumWorkers),
		apps:      make(map[uint32]*alloc.App),
		sessions:  make(map[string]uuid.UUID),
		stopCh:    make(chan struct{}),
	}
	s.metrics = newMetrics()

	cores := splitCores(cfg.Cores, int(cfg.NumWorkers))
	now := func() uint64 { return uint64(time.Now().UnixNano()) }

	for wid := uint32(0); wid < cfg.NumWorkers; wid++ {
		ch := msg.NewChannel(64)
		w := worker.New(wid, cores[wid], cfg.CachePoolBlocks, cfg.BlockSize, params.CyclesPerEpoch, newLoopDevice(), ch, now)
		s.workers[wid] = w
		s.allocator.SetWorkerChannel(wid, ch)
	}
	for srcWid, srcW := range s.workers {
		for dstWid, dstW := range s.workers {
			if srcWid == dstWid {
				continue
			}
			peerCh := msg.NewChannel(16)
			srcW.AddPeer(dstWid, peerCh)
			dstW.AddInbox(srcWid, peerCh)
		}
	}

	if err := s.applyLayout(); err != nil {
		return nil, err
	}

	return s, nil
}

// splitCores divides the flat core list evenly across n workers, earlier
// workers absorbing any remainder, mirroring the rounding rule
// allocator.doSymmPartition already uses for weight shares.
func splitCores(cores []int, n int) [][]int {
	out := make([][]int, n)
	if len(cores) == 0 || n == 0 {
		return out
	}
	base := len(cores) / n
	rem := len(cores) % n
	idx := 0
	for i := 0; i < n; i++ {
		take := base
		if i < rem {
			take++
		}
		out[i] = append(out[i], cores[idx:idx+take]...)
		idx += take
	}
	return out
}

// applyLayout groups the parsed TenantLayout entries by app, attaches a
// Tenant to each (worker, app) pair, and registers one alloc.App/AppResrcView
// per app with the Allocator.
func (s *Server) applyLayout() error {
	byApp := make(map[uint32][]TenantLayout)
	var appOrder []uint32
	for _, l := range s.cfg.Layout {
		if _, ok := byApp[l.Aid]; !ok {
			appOrder = append(appOrder, l.Aid)
		}
		byApp[l.Aid] = append(byApp[l.Aid], l)
	}

	for _, aid := range appOrder {
		entries := byApp[aid]
		v := view.New(aid)
		workers := make([]uint32, 0, len(entries))
		var totalCache uint64
		var totalBw int64
		var totalCpu uint64

		for _, l := range entries {
			w, ok := s.workers[l.Wid]
			if !ok {
				return fmt.Errorf("server.applyLayout(): layout references unknown worker %d", l.Wid)
			}
			cpuCycles := uint64(l.CpuRatio * param.CyclesPerSecond)
			initial := resrc.Alloc{CacheSize: l.CacheSize, Bandwidth: l.Bandwidth, CpuCycles: cpuCycles}
			tn := tenant.New(tag.ForTenant(aid, l.Wid), initial, s.params.Ghost, false)
			w.AttachTenant(aid, tn)
			w.Buffer.AdjustCacheSize(tag.ForTenant(aid, l.Wid), int64(l.CacheSize))

			session := uuid.New()
			s.sessions[sessionKey(aid, l.Wid)] = session
			logger.Tracef("server.Server.applyLayout(): attached aid=%d wid=%d session=%s", aid, l.Wid, session)

			v.AppendTenant(tn)
			workers = append(workers, l.Wid)
			totalCache += l.CacheSize
			totalBw += l.Bandwidth
			totalCpu += cpuCycles
		}

		app := alloc.NewApp(aid, v, workers, 0)
		s.apps[aid] = app
		s.allocator.AppendView(app)
		s.allocator.AddTotalResrc(resrc.Alloc{CacheSize: totalCache, Bandwidth: totalBw, CpuCycles: totalCpu})
	}
	return nil
}

// Up starts the Allocator and every Worker on its own goroutine (each Worker
// pins its OS thread first, per §4.6/§5's "pinned OS thread" model), then
// creates ReadyFile if configured. Grounded on proxyfsd.Daemon()'s startup
// sequence, generalized away from the deleted transitions/httpserver stack.
func (s *Server) Up() error {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.allocator.Run(s.stopCh)
	}()

	for _, w := range s.workers {
		w := w
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := w.PinToCores(); err != nil {
				logger.WarnfWithError(err, "server.Server.Up(): wid=%d PinToCores failed, continuing unpinned", w.Wid)
			}
			w.Run(s.stopCh)
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runMetricsLoop(s.stopCh, time.Second)
	}()

	if s.cfg.ReadyFile != "" {
		if _, err := os.Stat(s.cfg.ReadyFile); err == nil {
			return fmt.Errorf("server.Server.Up(): ready file %q already exists at start", s.cfg.ReadyFile)
		}
		f, err := os.Create(s.cfg.ReadyFile)
		if err != nil {
			return fmt.Errorf("server.Server.Up(): creating ready file: %v", err)
		}
		f.Close()
	}

	logger.Infof("server.Server.Up(): started %d workers", len(s.workers))
	return nil
}

// Down signals every Worker and the Allocator to stop, and waits for them to
// drain. Grounded on proxyfsd.Daemon()'s deferred transitions.Down() call.
func (s *Server) Down() error {
	close(s.stopCh)
	s.wg.Wait()
	if s.cfg.ReadyFile != "" {
		os.Remove(s.cfg.ReadyFile)
	}
	logger.Infof("server.Server.Down(): all workers and allocator stopped")
	return nil
}

// Run blocks until a terminating signal, the exit file appears, or stop is
// closed externally, then tears the Server down. SIGHUP is logged and
// ignored: full dynamic relayout is out of this core's scope (it would
// require live re-partitioning of already-attached tenants), so a real
// reconfig still requires a restart.
func (s *Server) Run(stop <-chan struct{}) error {
	signalChan := make(chan os.Signal, 16)
	signal.Notify(signalChan, unix.SIGINT, unix.SIGTERM, unix.SIGHUP)
	defer signal.Stop(signalChan)

	var exitFilePoll <-chan time.Time
	if s.cfg.ExitFile != "" {
		ticker := time.NewTicker(s.cfg.ExitFilePollEvery)
		defer ticker.Stop()
		exitFilePoll = ticker.C
	}

	for {
		select {
		case <-stop:
			return s.Down()
		case sig := <-signalChan:
			switch sig {
			case unix.SIGHUP:
				logger.Infof("server.Server.Run(): received SIGHUP, dynamic relayout is not supported; ignoring")
				continue
			default:
				logger.Infof("server.Server.Run(): received signal %v, shutting down", sig)
				return s.Down()
			}
		case <-exitFilePoll:
			if _, err := os.Stat(s.cfg.ExitFile); err == nil {
				logger.Infof("server.Server.Run(): exit file %q appeared, shutting down", s.cfg.ExitFile)
				return s.Down()
			}
		}
	}
}
