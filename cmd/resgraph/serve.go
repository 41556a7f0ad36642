package main

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-resgraph/internal/api"
	"github.com/nerrad567/gray-logic-resgraph/internal/audit"
	"github.com/nerrad567/gray-logic-resgraph/internal/auth"
	"github.com/nerrad567/gray-logic-resgraph/internal/channel"
	"github.com/nerrad567/gray-logic-resgraph/internal/history"
	"github.com/nerrad567/gray-logic-resgraph/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-resgraph/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-resgraph/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-resgraph/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-resgraph/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-resgraph/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-resgraph/internal/pattern"
	"github.com/nerrad567/gray-logic-resgraph/internal/resource"
	"github.com/nerrad567/gray-logic-resgraph/internal/schema"
)

// run is the service, separated from the command for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context, configPath string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting resgraph",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "site", cfg.Site.ID)

	// SQLite holds the audit log, and the resources unless Badger is selected.
	var db *database.DB
	if cfg.Database.Driver != config.DriverBadger || cfg.Database.Path != "" {
		db, err = openSQLite(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
	}

	var repo resource.Repository
	if cfg.Database.Driver == config.DriverBadger {
		kv, openErr := database.OpenBadger(database.BadgerConfigFrom(cfg.Database.Badger, log.Logger))
		if openErr != nil {
			return fmt.Errorf("opening badger store: %w", openErr)
		}
		defer func() {
			if closeErr := kv.Close(); closeErr != nil {
				log.Error("error closing badger store", "error", closeErr)
			}
		}()
		repo = resource.NewBadgerRepository(kv)
		log.Info("resource store: badger", "path", cfg.Database.Badger.Path, "in_memory", cfg.Database.Badger.InMemory)
	} else {
		repo = resource.NewSQLiteRepository(db.DB)
		log.Info("resource store: sqlite", "path", cfg.Database.Path)
	}

	// Types must be registered before stored resources are loaded.
	types := resource.NewTypes()
	catalog := pattern.NewCatalog()
	var watcher *schema.Watcher
	if len(cfg.Schema.Files) > 0 {
		watcher, err = schema.NewWatcher(cfg.Schema.Files, types, catalog)
		if err != nil {
			return fmt.Errorf("creating schema watcher: %w", err)
		}
		watcher.SetLogger(log.Component("schema"))
		res, loadErr := watcher.Reload()
		if loadErr != nil {
			return fmt.Errorf("loading schema: %w", loadErr)
		}
		log.Info("schema loaded", "types", len(res.Types), "patterns", len(res.Patterns))
	}

	gate, err := auth.NewGate(cfg.Security.Consumers)
	if err != nil {
		return fmt.Errorf("creating permission gate: %w", err)
	}
	gate.SetLogger(log.Component("auth"))
	var auditRepo audit.Repository
	if db != nil {
		auditRepo = audit.NewSQLiteRepository(db.DB)
		gate.SetAudit(auditRepo)
	}

	graph := resource.NewGraph(types, resource.Options{
		Repository:        repo,
		Gate:              gate,
		MaxReferenceDepth: cfg.Graph.MaxReferenceDepth,
		PersistTimeout:    cfg.GetPersistTimeout(),
	})
	graph.SetLogger(log.Component("resource"))
	if loadErr := graph.Load(ctx); loadErr != nil {
		return fmt.Errorf("loading resources: %w", loadErr)
	}
	log.Info("resource graph loaded", "resources", graph.Stats().Nodes)

	m := metrics.New()
	m.ObserveGraph(graph.Stats)

	patterns := pattern.NewManager(graph, catalog)
	patterns.SetLogger(log.Component("pattern"))
	patterns.SetRecorder(m)
	defer patterns.Close()
	m.ObserveDemands(patterns.DemandCount)

	g, gctx := errgroup.WithContext(ctx)

	// MQTT is only needed by the channels.
	var mqttClient *mqtt.Client
	if cfg.Channels.Enabled || len(cfg.Channels.Patterns) > 0 {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	}

	if cfg.Channels.Enabled {
		bridge, bridgeErr := newValueChannel(cfg, graph, mqttClient)
		if bridgeErr != nil {
			return bridgeErr
		}
		bridge.SetLogger(log.Component("channel"))
		bridge.SetRecorder(m)
		g.Go(func() error { return bridge.Run(gctx) })
	}

	if len(cfg.Channels.Patterns) > 0 {
		feed, feedErr := channel.NewPatternFeed(patterns, mqttClient, cfg.Channels.Patterns, byte(cfg.MQTT.QoS))
		if feedErr != nil {
			return fmt.Errorf("creating pattern feed: %w", feedErr)
		}
		feed.SetLogger(log.Component("channel"))
		feed.SetRecorder(m)
		g.Go(func() error { return feed.Run(gctx) })
	}

	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})

		recorder := history.NewRecorder(graph, influxClient)
		recorder.SetCounter(m)
		recorder.SetLogger(log.Component("history"))
		recorder.Start()
		defer recorder.Stop()
		log.Info("value history enabled", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	if watcher != nil && cfg.Schema.Watch {
		watcher.OnReload(func(res schema.Result, err error) {
			if err != nil {
				log.Warn("schema reload incomplete", "error", err)
			}
			if !res.Empty() {
				log.Info("schema reloaded", "types", res.Types, "patterns", res.Patterns, "replaced", res.Replaced)
			}
		})
		g.Go(func() error { return watcher.Run(gctx) })
	}

	deps := api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Security:   cfg.Security,
		MetricsCfg: cfg.Metrics,
		Logger:     log.Component("api"),
		Graph:      graph,
		Patterns:   patterns,
		Gate:       gate,
		Audit:      auditRepo,
		Metrics:    m,
		MQTT:       mqttClient,
		Version:    version,
	}
	// Leave the interfaces nil rather than holding typed nils.
	if watcher != nil {
		deps.Schema = watcher
	}
	if db != nil {
		deps.DB = db
	}
	srv, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(gctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	g.Go(func() error {
		<-gctx.Done()
		return srv.Close()
	})

	log.Info("resgraph started")
	err = g.Wait()
	log.Info("shutting down")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// openSQLite opens and migrates the SQLite database.
func openSQLite(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(database.ConfigFrom(cfg.Database))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // Already failing
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path)
	return db, nil
}

// newValueChannel creates the MQTT value bridge from the mapping file.
func newValueChannel(cfg *config.Config, graph *resource.Graph, client *mqtt.Client) (*channel.Bridge, error) {
	mappings, err := channel.LoadMappings(cfg.Channels.MappingFile)
	if err != nil {
		return nil, fmt.Errorf("loading channel mappings: %w", err)
	}
	prio, err := resource.ParsePriority(cfg.Channels.Priority)
	if err != nil {
		return nil, fmt.Errorf("channels.priority: %w", err)
	}
	bridge, err := channel.NewBridge(channel.Options{
		Graph:    graph,
		Client:   client,
		Mappings: mappings,
		Writer:   resource.Writer{Owner: cfg.Channels.Owner, Priority: prio},
		QoS:      byte(cfg.MQTT.QoS),
	})
	if err != nil {
		return nil, fmt.Errorf("creating value channel: %w", err)
	}
	return bridge, nil
}
