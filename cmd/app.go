package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/yousef-elgarch1/secureflow/pkg/engine"
	"github.com/yousef-elgarch1/secureflow/pkg/events"
	"github.com/yousef-elgarch1/secureflow/pkg/generator"
	"github.com/yousef-elgarch1/secureflow/pkg/ledger"
	"github.com/yousef-elgarch1/secureflow/pkg/llm"
	"github.com/yousef-elgarch1/secureflow/pkg/logging"
	"github.com/yousef-elgarch1/secureflow/pkg/orchestrator"
	"github.com/yousef-elgarch1/secureflow/pkg/prober"
	"github.com/yousef-elgarch1/secureflow/pkg/retriever"
	"github.com/yousef-elgarch1/secureflow/pkg/rules"
	"github.com/yousef-elgarch1/secureflow/pkg/storage"
	"github.com/yousef-elgarch1/secureflow/pkg/telemetry"
)

// app holds the components a command needs, built from cfg on demand.
type app struct {
	metrics  *telemetry.Metrics
	broker   *events.Broker
	controls *engine.Catalog
	closers  []io.Closer
}

func newApp() *app {
	return &app{metrics: telemetry.NewMetrics(), broker: events.NewBroker(500)}
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			logging.Warnf("close: %v", err)
		}
	}
	a.broker.Close()
}

// openLedger uses the bbolt file from the config, or memory when no path is set.
func (a *app) openLedger() (*ledger.Ledger, error) {
	var store ledger.Store = ledger.NewMemoryStore()
	if cfg.Ledger.Path != "" {
		bs, err := ledger.NewBoltStore(cfg.Ledger.Path)
		if err != nil {
			return nil, fmt.Errorf("opening ledger %s: %w", cfg.Ledger.Path, err)
		}
		store = bs
	}
	opts := []ledger.Option{ledger.WithMetrics(a.metrics)}
	if catalog, err := a.catalog(); err == nil {
		opts = append(opts, ledger.WithCatalog(catalog))
	} else {
		logging.Warnf("compliance coverage disabled: %v", err)
	}
	l := ledger.New(store, opts...)
	a.closers = append(a.closers, l)
	return l, nil
}

func (a *app) openStore(ctx context.Context) (storage.BlobStore, error) {
	return storage.Open(ctx, cfg.Output.Target(), cfg.Output.S3Region)
}

// catalog loads the built-in frameworks plus the configured knowledge dirs
// once per app.
func (a *app) catalog() (*engine.Catalog, error) {
	if a.controls != nil {
		return a.controls, nil
	}
	catalog, err := engine.DefaultCatalog()
	if err != nil {
		return nil, err
	}
	for _, dir := range cfg.Knowledge.Dirs {
		if err := catalog.LoadDir(dir); err != nil {
			return nil, fmt.Errorf("loading controls from %s: %w", dir, err)
		}
	}
	logging.Debugf("compliance catalog: %d controls across %v", catalog.Size(), catalog.ListFrameworks())
	a.controls = catalog
	return catalog, nil
}

func (a *app) retriever() (*retriever.Retriever, error) {
	catalog, err := a.catalog()
	if err != nil {
		return nil, err
	}
	return retriever.New(retriever.NewKeywordIndex(catalog), cfg.Pipeline.RetrievalTimeout), nil
}

func (a *app) rules() (*rules.Engine, error) {
	if len(cfg.Rules.Include) == 0 && len(cfg.Rules.Priority) == 0 {
		return nil, nil
	}
	return rules.Compile(cfg.Rules.Include, cfg.Rules.Priority)
}

// completer builds the client for one backend profile.
func (a *app) completer(ctx context.Context, p generator.BackendProfile) (llm.Completer, error) {
	provider := cfg.Providers[p.Provider]
	c, err := llm.NewCompleter(ctx, llm.Options{
		Provider: p.Provider,
		APIKey:   provider.APIKey,
		Model:    p.Model,
		Endpoint: provider.Endpoint,
	})
	if err != nil {
		return nil, err
	}
	if closer, ok := c.(io.Closer); ok {
		a.closers = append(a.closers, closer)
	}
	return c, nil
}

// generator builds clients only for the backends the route table uses.
func (a *app) generator(ctx context.Context, eng *rules.Engine) (*generator.Generator, error) {
	routes, err := generator.NewRouteTable(cfg.Routing)
	if err != nil {
		return nil, err
	}
	backends := make(map[string]generator.Backend)
	for _, name := range routes.Backends() {
		profile, ok := cfg.Backends[name]
		if !ok {
			return nil, fmt.Errorf("%w: backend %s is routed but not configured", generator.ErrNoRoute, name)
		}
		client, err := a.completer(ctx, profile)
		if err != nil {
			return nil, fmt.Errorf("backend %s: %w", name, err)
		}
		backends[name] = generator.Backend{Profile: profile, Client: client}
	}
	return generator.New(generator.Options{
		Backends: backends,
		Routes:   routes,
		Rules:    eng,
		Metrics:  a.metrics,
	})
}

func (a *app) prober() *prober.Prober {
	checker := prober.NewHTTPChecker(cfg.Prober.LivenessTimeout)
	var deployer *prober.Deployer
	if cfg.Prober.LocalDeploy {
		deployer = prober.NewDeployer(prober.ExecRunner{}, checker)
	}
	return prober.New(checker, deployer, prober.WithPublisher(a.broker), prober.WithMetrics(a.metrics))
}

func (a *app) orchestrator(ctx context.Context) (*orchestrator.Orchestrator, *ledger.Ledger, error) {
	l, err := a.openLedger()
	if err != nil {
		return nil, nil, err
	}
	// the ledger is returned even when later wiring fails
	eng, err := a.rules()
	if err != nil {
		return nil, l, err
	}
	gen, err := a.generator(ctx, eng)
	if err != nil {
		return nil, l, err
	}
	ret, err := a.retriever()
	if err != nil {
		return nil, l, err
	}
	store, err := a.openStore(ctx)
	if err != nil {
		return nil, l, err
	}

	o, err := orchestrator.New(orchestrator.Options{
		Retriever:    ret,
		Catalog:      a.controls,
		Generator:    gen,
		Ledger:       l,
		Prober:       a.prober(),
		Rules:        eng,
		Store:        store,
		Publisher:    a.broker,
		Metrics:      a.metrics,
		Concurrency:  cfg.Pipeline.Concurrency,
		TopK:         cfg.Pipeline.TopK,
		BatchTimeout: cfg.Pipeline.BatchTimeout,
	})
	return o, l, err
}
