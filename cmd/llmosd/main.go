// llmosd is the LLMOS Bridge daemon: a local service that exposes a
// structured IML plan execution API to LLMs over HTTP/WebSocket.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/llmos-bridge/daemon/internal/api"
	"github.com/llmos-bridge/daemon/internal/approval"
	"github.com/llmos-bridge/daemon/internal/buildinfo"
	"github.com/llmos-bridge/daemon/internal/config"
	"github.com/llmos-bridge/daemon/internal/eventbus"
	"github.com/llmos-bridge/daemon/internal/executor"
	"github.com/llmos-bridge/daemon/internal/iml"
	"github.com/llmos-bridge/daemon/internal/metrics"
	"github.com/llmos-bridge/daemon/internal/model"
	"github.com/llmos-bridge/daemon/internal/ratelimit"
	"github.com/llmos-bridge/daemon/internal/registry"
	"github.com/llmos-bridge/daemon/internal/resourcemgr"
	"github.com/llmos-bridge/daemon/internal/retention"
	"github.com/llmos-bridge/daemon/internal/security/permission"
	"github.com/llmos-bridge/daemon/internal/security/sanitize"
	"github.com/llmos-bridge/daemon/internal/security/scanner"
	"github.com/llmos-bridge/daemon/internal/session"
	"github.com/llmos-bridge/daemon/internal/statestore"
	"github.com/llmos-bridge/daemon/internal/template"
	"github.com/llmos-bridge/daemon/internal/triggers"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("no %s found, continuing with the existing environment", envPath)
	}

	ctx := context.Background()
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		log.Fatalf("failed to initialize configuration: %v", err)
	}

	gin.SetMode(getEnv("GIN_MODE", "release"))

	m := metrics.New()

	store, err := statestore.Open(cfg.Store.StateDSN)
	if err != nil {
		log.Fatalf("failed to open state store: %v", err)
	}
	defer store.Close()

	if ids, err := store.RecoverNonTerminal(ctx); err != nil {
		log.Fatalf("failed to recover non-terminal plans: %v", err)
	} else if len(ids) > 0 {
		slog.Warn("recovered non-terminal plans from a prior run", "count", len(ids), "plan_ids", ids)
	}

	// The triggers table lives in the same embedded migration as plans and
	// actions, so the Trigger Store shares the State Store's database
	// rather than opening cfg.Store.TriggerDSN as a second connection.
	triggerStore := triggers.NewStore(store.DB())

	wsBus := eventbus.NewWSBus()
	bus := eventbus.NewRouter(wsBus)

	modules := registry.NewModuleRegistry()
	localNode := registry.NewLocalNode(modules)
	nodes := registry.NewNodeRegistry(localNode)

	profile, ok := permission.Get(model.ProfileName(cfg.Permission.Profile))
	if !ok {
		log.Fatalf("unknown permission profile %q", cfg.Permission.Profile)
	}
	guard := permission.NewGuard(profile, nil, cfg.Sandbox.Paths)

	scannerRegistry := scanner.NewRegistry()
	scannerRegistry.Register(scanner.NewHeuristicScanner())
	pipeline := scanner.NewPipeline(scannerRegistry, scannerOptions(cfg.Scanner)...)

	sanitizer := sanitize.New()
	approvalGate := approval.NewGate(cfg.Executor.DefaultApprovalTimeout, cfg.Executor.DefaultApprovalTimeoutBehavior)
	limiter := ratelimit.New()
	resources := resourcemgr.New(cfg.Resources.PerModule, cfg.Resources.DefaultLimit)
	sessions := session.New()

	parser := iml.NewParser(schemaLookup(modules))

	planExecutor := executor.New(executor.Config{
		Modules:                        modules,
		Nodes:                          nodes,
		Guard:                          guard,
		Scanners:                       pipeline,
		Sanitizer:                      sanitizer,
		Approval:                       approvalGate,
		RateLimit:                      limiter,
		Resources:                      resources,
		Store:                          store,
		Events:                         bus,
		Sessions:                       sessions,
		Memory:                         template.MapMemoryStore{},
		Metrics:                        m,
		FallbackChains:                 cfg.Executor.FallbackChains,
		RateLimits:                     rateLimits(cfg.RateLimit),
		CascadeSkipDependents:          cfg.Executor.CascadeSkipDependents,
		AllowEnv:                       cfg.Executor.AllowEnvTemplates,
		DefaultApprovalTimeout:         cfg.Executor.DefaultApprovalTimeout,
		DefaultApprovalTimeoutBehavior: cfg.Executor.DefaultApprovalTimeoutBehavior,
		RollbackTimeout:                cfg.Executor.RollbackTimeout,
	})
	groupExecutor := executor.NewGroupExecutor(planExecutor)

	scheduler := triggers.NewExecutorScheduler(planExecutor, sessions, parser)
	triggerDaemon := triggers.NewDaemon(triggerStore, bus, scheduler)
	triggerDaemon.SetMetrics(m)
	if err := triggerDaemon.Start(ctx); err != nil {
		log.Fatalf("failed to start trigger daemon: %v", err)
	}
	defer triggerDaemon.Stop()

	triggerModule := triggers.NewModule()
	triggerModule.SetDaemon(triggerDaemon)
	modules.Register(triggerModule)

	retentionSvc := retention.NewService(cfg.Retention, store)
	retentionSvc.Start(ctx)
	defer retentionSvc.Stop()

	srv := api.NewServer()
	srv.Parser = parser
	srv.Executor = planExecutor
	srv.Group = groupExecutor
	srv.Store = store
	srv.Approval = approvalGate
	srv.Triggers = triggerModule
	srv.Events = bus
	srv.WS = wsBus
	srv.Metrics = m

	router := srv.Router()

	bindAddress := cfg.Server.BindAddress
	slog.Info("llmosd starting", "version", buildinfo.Full(), "bind_address", bindAddress, "permission_profile", string(profile.Name))
	if err := router.Run(bindAddress); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func scannerOptions(cfg config.ScannerConfig) []scanner.PipelineOption {
	opts := []scanner.PipelineOption{scanner.WithEnabled(cfg.HeuristicEnabled)}
	if cfg.Mode == "warn" {
		// warn mode: every scanner runs and the result surfaces on the
		// event bus; the 1.1 threshold stops the risk-score rejection, but
		// a scanner that returns a REJECT verdict still rejects the plan.
		opts = append(opts, scanner.WithRejectThreshold(1.1))
	}
	return opts
}

func rateLimits(cfg config.RateLimitConfig) map[string]ratelimit.Limits {
	// A window an override leaves unset takes the section default; a
	// resolved value of 0 means no ceiling for that window.
	window := func(override *int, def int) *int {
		if override == nil {
			override = &def
		}
		if *override == 0 {
			return nil
		}
		return override
	}
	limits := make(map[string]ratelimit.Limits, len(cfg.Overrides))
	for key, override := range cfg.Overrides {
		limits[key] = ratelimit.Limits{
			PerMinute: window(override.PerMinute, cfg.DefaultPerMinute),
			PerHour:   window(override.PerHour, cfg.DefaultPerHour),
		}
	}
	return limits
}

// schemaLookup exposes the Module Registry's manifests to the IML parser
// so it can validate required params before a plan ever reaches the
// executor, per spec.md §4.1.
func schemaLookup(modules *registry.ModuleRegistry) iml.ParamSchemaLookup {
	return func(moduleID, action string) (*model.ActionSpec, bool) {
		manifest, err := modules.GetManifest(moduleID)
		if err != nil {
			return nil, false
		}
		spec := manifest.ActionByName(action)
		if spec == nil {
			return nil, false
		}
		return spec, true
	}
}
