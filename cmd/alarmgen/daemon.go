package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/alarmgen/internal/admin"
	"github.com/oriys/alarmgen/internal/aggregator"
	"github.com/oriys/alarmgen/internal/alarm"
	"github.com/oriys/alarmgen/internal/bus"
	"github.com/oriys/alarmgen/internal/config"
	"github.com/oriys/alarmgen/internal/configfeed"
	"github.com/oriys/alarmgen/internal/logging"
	"github.com/oriys/alarmgen/internal/metrics"
	"github.com/oriys/alarmgen/internal/observability"
	"github.com/oriys/alarmgen/internal/partition"
	"github.com/oriys/alarmgen/internal/partmgr"
	"github.com/oriys/alarmgen/internal/store"
	"github.com/oriys/alarmgen/internal/uve"
)

func daemonCmd() *cobra.Command {
	var (
		busBrokers string
		grpcAddr   string
		httpAddr   string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the alarmgen daemon",
		Long:  "Run alarmgen as a partition-owning daemon: consume the bus, aggregate UVEs, evaluate alarms, publish to the aggregate store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if configFile != "" {
				var err error
				cfg, err = config.LoadFromFile(configFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
			}
			config.LoadFromEnv(cfg)

			if cmd.Flags().Changed("bus-brokers") {
				cfg.BusBrokers = splitCSV(busBrokers)
			}
			if cmd.Flags().Changed("grpc") {
				cfg.Admin.GRPCAddr = grpcAddr
			}
			if cmd.Flags().Changed("http") {
				cfg.Admin.HTTPAddr = httpAddr
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Observability.Logging.Level = logLevel
			}

			if cfg.InstanceID == "" {
				cfg.InstanceID = fmt.Sprintf("alarmgen-%d", os.Getpid())
			}
			memberID := cfg.HostIP + ":" + cfg.InstanceID

			logging.SetLevelFromString(cfg.Observability.Logging.Level)
			logging.InitStructured(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)

			if err := observability.Init(context.Background(), observability.Config{
				Enabled:     cfg.Observability.Tracing.Enabled,
				Exporter:    cfg.Observability.Tracing.Exporter,
				Endpoint:    cfg.Observability.Tracing.Endpoint,
				ServiceName: cfg.Observability.Tracing.ServiceName,
				SampleRate:  cfg.Observability.Tracing.SampleRate,
			}); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer observability.Shutdown(context.Background())

			if cfg.Observability.Metrics.Enabled {
				metrics.InitPrometheus(cfg.Observability.Metrics.Namespace, cfg.Observability.Metrics.HistogramBuckets)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			storeClient, err := store.NewClient(ctx, store.Config{
				Replicas: cfg.StoreReplicas,
				Password: cfg.StoreCredentials.Password,
				DB:       cfg.StoreDB,
				ModuleID: "alarmgen",
				Instance: cfg.InstanceID,
			})
			if err != nil {
				return fmt.Errorf("connect to aggregate store: %w", err)
			}
			defer storeClient.Close()

			// notifyAlarm publishes an alarm's asserted Info (or its removal when
			// info is nil) to the UVEAlarms type of the owning key, per spec.md's
			// worked scenario 1: "{key:..., type:'UVEAlarms'}".
			notifyAlarm := func(table, key, name string, info *alarm.Info) {
				p := partition.PartitionOf(key, cfg.PartitionCount)
				epochUs, err := storeClient.Epoch(ctx, p)
				if err != nil {
					logging.Op().Warn("daemon: epoch lookup for alarm publish failed", "partition", p, "error", err)
					return
				}
				row := store.Row{Key: key, Type: "UVEAlarms"}
				if info != nil {
					row.Value = map[string]*alarm.Info{name: info}
				}
				if err := storeClient.PublishBatch(ctx, p, epochUs, []store.Row{row}, cfg.MaxOutRows); err != nil {
					logging.Op().Error("daemon: alarm publish failed", "key", key, "alarm", name, "error", err)
				}
			}

			alarmEngine := alarm.NewEngine(notifyAlarm)
			cycle := aggregator.NewCycle(storeClient, alarmEngine, cfg.MaxOutRows)

			mgr := partmgr.NewManager(storeClient, kafkaBusFactory(cfg), cycle.DropPartition)

			assigner := partmgr.NewConsistentHashAssigner(partmgr.MemberID(memberID), cfg.PartitionCount, []string{memberID})
			assigner.OnMembershipChange(func(owned map[int]bool) { mgr.Reconcile(ctx, owned) })
			mgr.Reconcile(ctx, assigner.Owned())

			clusterID := cfg.ClusterID
			if clusterID == "" {
				clusterID = "default"
			}

			keyLister := func(table string) []uve.Key {
				var out []uve.Key
				for _, p := range partitionsOf(mgr) {
					cons := mgr.Consumer(p)
					if cons == nil {
						continue
					}
					for _, k := range cons.Index.Keys() {
						if k.Table() == table {
							out = append(out, k)
						}
					}
				}
				return out
			}
			viewLookup := func(key uve.Key) (*uve.Value, bool) {
				p := partition.PartitionOf(string(key), cfg.PartitionCount)
				cons := mgr.Consumer(p)
				if cons == nil {
					return nil, false
				}
				ks := cons.Index.Get(key)
				if ks == nil {
					return nil, false
				}
				return aggregator.ObjectOfKeyState(ks), true
			}
			feed := configfeed.NewAdapter(cfg.RuleSourceEndpoint, alarmEngine, keyLister, viewLookup)

			adminSrv := admin.NewServer(cfg.InstanceID, mgr, alarmEngine, cycle)

			var wg waitGroup
			wg.goCtx(ctx, func(ctx context.Context) {
				if err := adminSrv.ServeHTTP(ctx, cfg.Admin.HTTPAddr); err != nil {
					logging.Op().Error("daemon: admin http server exited", "error", err)
				}
			})
			wg.goCtx(ctx, func(ctx context.Context) {
				if err := adminSrv.ServeGRPC(ctx, cfg.Admin.GRPCAddr); err != nil {
					logging.Op().Error("daemon: admin grpc server exited", "error", err)
				}
			})
			wg.goCtx(ctx, func(ctx context.Context) { runAggregationLoop(ctx, mgr, cycle) })
			wg.goCtx(ctx, func(ctx context.Context) { runTimerScanner(ctx, alarmEngine) })
			wg.goCtx(ctx, func(ctx context.Context) { runConfigFeed(ctx, feed, cfg.RuleSourceEndpoint) })
			wg.goCtx(ctx, func(ctx context.Context) { runMembershipWatcher(ctx, storeClient, assigner, clusterID, memberID) })
			wg.goCtx(ctx, func(ctx context.Context) {
				runHealthProbe(ctx, cfg.BusBrokers, cfg.HealthProbeFirstInterval, cfg.HealthProbeInterval)
			})

			sigHup := make(chan os.Signal, 1)
			signal.Notify(sigHup, syscall.SIGHUP)
			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case <-sigHup:
						logging.Op().Info("daemon: SIGHUP received, reloading bus bootstrap")
						cfg.ReloadBootstrap()
					}
				}
			}()

			logging.Op().Info("daemon: alarmgen started", "instance", cfg.InstanceID, "partitions", cfg.PartitionCount)

			<-ctx.Done()
			logging.Op().Info("daemon: shutdown signal received")

			releaseCtx, cancel := context.WithTimeout(context.Background(), 65*time.Second)
			defer cancel()
			for p := range mgr.Status() {
				mgr.Release(releaseCtx, p)
			}
			wg.wait()
			return nil
		},
	}

	cmd.Flags().StringVar(&busBrokers, "bus-brokers", "", "Comma-separated bus broker list")
	cmd.Flags().StringVar(&grpcAddr, "grpc", ":9090", "Admin gRPC health address")
	cmd.Flags().StringVar(&httpAddr, "http", ":9091", "Admin HTTP JSON address")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level")

	return cmd
}

// kafkaBusFactory returns a partmgr.BusFactory that opens one Kafka
// consumer group per partition, topic-scoped per spec.md §6's
// "<prefix>-uve-topic-<partition>" naming.
func kafkaBusFactory(cfg *config.Config) partmgr.BusFactory {
	return func(p int) (bus.Consumer, error) {
		return bus.NewKafkaConsumer(bus.KafkaConfig{
			Brokers: cfg.BusBrokers,
			GroupID: fmt.Sprintf("%s-alarmgen-%d", cfg.TopicPrefix, p),
			Topics:  []string{fmt.Sprintf("%s-uve-topic-%d", cfg.TopicPrefix, p)},
		})
	}
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return out
}

func partitionsOf(mgr *partmgr.Manager) []int {
	status := mgr.Status()
	out := make([]int, 0, len(status))
	for p := range status {
		out = append(out, p)
	}
	return out
}
