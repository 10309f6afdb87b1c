// Copyright (C) 2024 SampleDB Authors.
// See LICENSE for copying information.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	yaml "gopkg.in/yaml.v2"

	"sampledb.io/sampledb/fedb"
	"sampledb.io/sampledb/pkg/component"
	"sampledb.io/sampledb/pkg/componentauth"
	"sampledb.io/sampledb/pkg/federation"
	"sampledb.io/sampledb/pkg/fedserver"
	"sampledb.io/sampledb/pkg/process"
	"sampledb.io/sampledb/pkg/share"
	"sampledb.io/sampledb/pkg/topology"
	"sampledb.io/sampledb/pkg/transport"
	"sampledb.io/sampledb/storage"
	"sampledb.io/sampledb/storage/boltdb"
	"sampledb.io/sampledb/storage/redis"
	"sampledb.io/sampledb/storage/teststore"
)

// CacheConfig selects the backing store for the component existence cache.
type CacheConfig struct {
	Driver        string `yaml:"driver"`
	BoltPath      string `yaml:"bolt-path"`
	RedisAddress  string `yaml:"redis-address"`
	RedisPassword string `yaml:"redis-password"`
	RedisDB       int    `yaml:"redis-db"`
}

// Config aggregates the configuration of all subsystems.
type Config struct {
	Component  component.Config  `yaml:"component"`
	Federation federation.Config `yaml:"federation"`
	Transport  transport.Config  `yaml:"transport"`
	Server     fedserver.Config  `yaml:"server"`
	Database   fedb.Config       `yaml:"database"`
	Cache      CacheConfig       `yaml:"cache"`
}

func defaultConfig() Config {
	var cfg Config
	cfg.Component.Name = "SampleDB"
	cfg.Federation.ServiceName = "SampleDB"
	cfg.Federation.EnableAutomaticUserLinking = true
	cfg.Federation.Discoverable = true
	cfg.Federation.SyncInterval = time.Hour
	cfg.Federation.OutboxInterval = time.Minute
	cfg.Server.Address = ":8443"
	cfg.Database.Path = "sampledb.db"
	cfg.Cache.Driver = "bolt"
	cfg.Cache.BoltPath = "cache.db"
	return cfg
}

var (
	rootCmd = &cobra.Command{
		Use:   "sampledb",
		Short: "SampleDB federation service",
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the federation service",
		RunE:  cmdRun,
	}
	setupCmd = &cobra.Command{
		Use:   "setup",
		Short: "Create a configuration with a fresh federation uuid",
		RunE:  cmdSetup,
	}
	addComponentCmd = &cobra.Command{
		Use:   "add-component <uuid> <name> [address]",
		Short: "Register a peer component",
		Args:  cobra.RangeArgs(2, 3),
		RunE:  cmdAddComponent,
	}
	tokenCmd = &cobra.Command{
		Use:   "token",
		Short: "Manage federation tokens",
	}
	tokenCreateCmd = &cobra.Command{
		Use:   "create <component-name>",
		Short: "Create a token the component may present to us",
		Args:  cobra.ExactArgs(1),
		RunE:  cmdTokenCreate,
	}
	tokenImportCmd = &cobra.Command{
		Use:   "import <component-name> <token>",
		Short: "Store a token we present to the component",
		Args:  cobra.ExactArgs(2),
		RunE:  cmdTokenImport,
	}
	syncCmd = &cobra.Command{
		Use:   "sync [component-name]",
		Short: "Run a sync pass against one or all components",
		Args:  cobra.MaximumNArgs(1),
		RunE:  cmdSync,
	}
	topologyCmd = &cobra.Command{
		Use:   "topology",
		Short: "Print the known federation graph",
		RunE:  cmdTopology,
	}

	configDir          string
	syncIgnoreLastSync bool
)

func init() {
	// accept both --log.level and --log-level spellings
	rootCmd.PersistentFlags().SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, ".", "-"))
	})
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", ".", "directory holding config.yaml and databases")
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	syncCmd.Flags().BoolVar(&syncIgnoreLastSync, "ignore-last-sync", false, "request a full export instead of a delta")

	tokenCmd.AddCommand(tokenCreateCmd, tokenImportCmd)
	rootCmd.AddCommand(runCmd, setupCmd, addComponentCmd, tokenCmd, syncCmd, topologyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (Config, error) {
	cfg := defaultConfig()

	vip := viper.New()
	vip.SetConfigFile(filepath.Join(configDir, "config.yaml"))
	vip.SetEnvPrefix("sampledb")
	vip.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	vip.AutomaticEnv()
	if err := vip.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return cfg, errs.New("reading config: %v", err)
		}
	}

	raw, err := os.ReadFile(filepath.Join(configDir, "config.yaml"))
	if err == nil {
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, errs.New("parsing config: %v", err)
		}
	}
	if !filepath.IsAbs(cfg.Database.Path) {
		cfg.Database.Path = filepath.Join(configDir, cfg.Database.Path)
	}
	if cfg.Cache.BoltPath != "" && !filepath.IsAbs(cfg.Cache.BoltPath) {
		cfg.Cache.BoltPath = filepath.Join(configDir, cfg.Cache.BoltPath)
	}
	return cfg, nil
}

func openCache(log *zap.Logger, cfg CacheConfig) (*component.Cache, error) {
	var store storage.KeyValueStore
	var err error
	switch cfg.Driver {
	case "bolt", "":
		store, err = boltdb.New(log.Named("boltdb"), cfg.BoltPath, component.CacheBucket)
	case "redis":
		store, err = redis.NewClient(cfg.RedisAddress, cfg.RedisPassword, cfg.RedisDB)
	case "memory":
		store = teststore.New()
	default:
		return nil, errs.New("unknown cache driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return component.NewCache(log.Named("cache"), store), nil
}

// peer wires all subsystems together.
type peer struct {
	log   *zap.Logger
	db    *fedb.DB
	cache *component.Cache

	components *component.Registry
	auth       *componentauth.Service
	shares     *share.Registry
	federation *federation.Service
	topology   *topology.Service
}

func newPeer(ctx context.Context, log *zap.Logger, cfg Config) (_ *peer, err error) {
	db, err := fedb.Open(ctx, log.Named("fedb"), cfg.Database)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = db.Close()
		}
	}()

	cache, err := openCache(log, cfg.Cache)
	if err != nil {
		return nil, err
	}

	cfg.Component.UUID = cfg.Federation.UUID
	components, err := component.NewRegistry(log.Named("component"), db.Components(), cache, cfg.Component)
	if err != nil {
		return nil, err
	}
	auth := componentauth.NewService(log.Named("componentauth"), db.Auth(), components)
	notifier := &logNotifier{log: log.Named("notify")}
	shares := share.NewRegistry(log.Named("share"), db.Shares(), components, db.Objects(), notifier)
	client := transport.NewClient(log.Named("transport"), cfg.Transport)

	fed, err := federation.NewService(log.Named("federation"), cfg.Federation,
		components, auth, shares,
		db.Entities(), db.Users(), db.Languages(), db.Images(),
		db.Outbox(), notifier, client)
	if err != nil {
		return nil, err
	}

	return &peer{
		log:        log,
		db:         db,
		cache:      cache,
		components: components,
		auth:       auth,
		shares:     shares,
		federation: fed,
		topology:   topology.NewService(log.Named("topology"), components),
	}, nil
}

func (peer *peer) close() {
	if err := peer.cache.Close(); err != nil {
		peer.log.Warn("closing cache failed", zap.Error(err))
	}
	if err := peer.db.Close(); err != nil {
		peer.log.Warn("closing database failed", zap.Error(err))
	}
}

// logNotifier surfaces federation events in the log. A full deployment
// replaces this with the notification system of the surrounding application.
type logNotifier struct {
	log *zap.Logger
}

func (notifier *logNotifier) ShareImportFailed(ctx context.Context, userID, objectID, componentID int64) {
	notifier.log.Warn("object import failed at peer",
		zap.Int64("user_id", userID), zap.Int64("object_id", objectID), zap.Int64("component_id", componentID))
}

func (notifier *logNotifier) ShareImportNotes(ctx context.Context, userID, objectID, componentID int64, notes []string) {
	notifier.log.Info("object import reported notes",
		zap.Int64("user_id", userID), zap.Int64("object_id", objectID),
		zap.Int64("component_id", componentID), zap.Strings("notes", notes))
}

func (notifier *logNotifier) UserLinked(ctx context.Context, userID, componentID, fedUserID int64) {
	notifier.log.Info("user linked to federated identity",
		zap.Int64("user_id", userID), zap.Int64("component_id", componentID), zap.Int64("fed_user_id", fedUserID))
}

func runContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		cancel()
	}()
	return ctx, cancel
}

func cmdSetup(cmd *cobra.Command, args []string) error {
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return errs.Wrap(err)
	}
	path := filepath.Join(configDir, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return errs.New("%s already exists", path)
	}

	cfg := defaultConfig()
	cfg.Federation.UUID = uuid.New().String()
	cfg.Component.UUID = cfg.Federation.UUID

	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return errs.Wrap(err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return errs.Wrap(err)
	}
	fmt.Printf("wrote %s with federation uuid %s\n", path, cfg.Federation.UUID)
	return nil
}

func cmdRun(cmd *cobra.Command, args []string) error {
	log, err := process.NewLogger()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := runContext()
	defer cancel()

	peer, err := newPeer(ctx, log, cfg)
	if err != nil {
		return err
	}
	defer peer.close()

	listener, err := net.Listen("tcp", cfg.Server.Address)
	if err != nil {
		return errs.Wrap(err)
	}

	syncWorker := federation.NewSyncWorker(log.Named("sync"), peer.federation)
	outboxWorker := federation.NewOutboxWorker(log.Named("outbox"), peer.federation)
	server := fedserver.NewServer(log.Named("fedserver"), listener,
		peer.federation, peer.shares, peer.auth, peer.db.Files(), syncWorker.Trigger)

	log.Info("starting federation service",
		zap.String("address", cfg.Server.Address),
		zap.String("uuid", cfg.Federation.UUID))

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return server.Run(groupCtx) })
	group.Go(func() error { return ignoreCanceled(syncWorker.Run(groupCtx)) })
	group.Go(func() error { return ignoreCanceled(outboxWorker.Run(groupCtx)) })
	return group.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func cmdAddComponent(cmd *cobra.Command, args []string) error {
	ctx, cancel, peer, err := commandPeer()
	if err != nil {
		return err
	}
	defer cancel()
	defer peer.close()

	address := ""
	if len(args) == 3 {
		address = args[2]
	}
	comp, err := peer.components.Add(ctx, args[0], args[1], address, "")
	if err != nil {
		return err
	}
	fmt.Printf("added component %d: %s (%s)\n", comp.ID, comp.Name, comp.UUID)
	return nil
}

func cmdTokenCreate(cmd *cobra.Command, args []string) error {
	ctx, cancel, peer, err := commandPeer()
	if err != nil {
		return err
	}
	defer cancel()
	defer peer.close()

	comp, err := componentByName(ctx, peer, args[0])
	if err != nil {
		return err
	}
	token, err := componentauth.GenerateToken()
	if err != nil {
		return err
	}
	if _, err := peer.auth.AddTokenAuth(ctx, comp.ID, token, "created via cli"); err != nil {
		return err
	}
	fmt.Printf("token for %s: %s\n", comp.Name, token)
	return nil
}

func cmdTokenImport(cmd *cobra.Command, args []string) error {
	ctx, cancel, peer, err := commandPeer()
	if err != nil {
		return err
	}
	defer cancel()
	defer peer.close()

	comp, err := componentByName(ctx, peer, args[0])
	if err != nil {
		return err
	}
	if _, err := peer.auth.AddOwnTokenAuth(ctx, comp.ID, args[1], "imported via cli"); err != nil {
		return err
	}
	fmt.Printf("stored token for %s\n", comp.Name)
	return nil
}

func cmdSync(cmd *cobra.Command, args []string) error {
	ctx, cancel, peer, err := commandPeer()
	if err != nil {
		return err
	}
	defer cancel()
	defer peer.close()

	opts := federation.SyncOptions{IgnoreLastSyncTime: syncIgnoreLastSync}
	if len(args) == 1 {
		comp, err := componentByName(ctx, peer, args[0])
		if err != nil {
			return err
		}
		return peer.federation.ImportUpdates(ctx, comp, opts)
	}

	components, err := peer.components.All(ctx)
	if err != nil {
		return err
	}
	var group errs.Group
	for i := range components {
		if components[i].Address == "" {
			continue
		}
		group.Add(peer.federation.ImportUpdates(ctx, &components[i], opts))
	}
	return group.Err()
}

func cmdTopology(cmd *cobra.Command, args []string) error {
	ctx, cancel, peer, err := commandPeer()
	if err != nil {
		return err
	}
	defer cancel()
	defer peer.close()

	nodes, err := peer.topology.Map(ctx)
	if err != nil {
		return err
	}
	for _, node := range nodes {
		reachable := " "
		if node.Reachable {
			reachable = "*"
		}
		fmt.Printf("%s %-36s distance=%-2d %s\n", reachable, node.UUID, node.Distance, node.Name)
	}
	return nil
}

func commandPeer() (context.Context, context.CancelFunc, *peer, error) {
	log, err := process.NewLogger()
	if err != nil {
		return nil, nil, nil, err
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	ctx, cancel := runContext()
	peer, err := newPeer(ctx, log, cfg)
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	return ctx, cancel, peer, nil
}

func componentByName(ctx context.Context, peer *peer, name string) (*component.Component, error) {
	components, err := peer.components.All(ctx)
	if err != nil {
		return nil, err
	}
	for i := range components {
		if components[i].Name == name {
			return &components[i], nil
		}
	}
	return nil, component.ErrNotFound.New("component %q", name)
}
