// aegisd is the autonomic action daemon: it watches a tenant's signals,
// plans interventions, and works the priority queue that carries them.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/jordanhubbard/aegis/internal/autonomic"
	"github.com/jordanhubbard/aegis/internal/config"
	"github.com/jordanhubbard/aegis/internal/consensus"
	"github.com/jordanhubbard/aegis/internal/database"
	"github.com/jordanhubbard/aegis/internal/dispatch"
	"github.com/jordanhubbard/aegis/internal/executor"
	"github.com/jordanhubbard/aegis/internal/feedback"
	"github.com/jordanhubbard/aegis/internal/logging"
	"github.com/jordanhubbard/aegis/internal/messagebus"
	"github.com/jordanhubbard/aegis/internal/monitor"
	"github.com/jordanhubbard/aegis/internal/permission"
	"github.com/jordanhubbard/aegis/internal/queue"
	"github.com/jordanhubbard/aegis/pkg/models"
)

const version = "1.0.0"

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:     "aegisd",
		Short:   "Aegis autonomic action daemon",
		Version: version,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "aegis.yaml", "Path to the configuration file")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newMigrateCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			db, err := database.New(cfg.Database.URL)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer db.Close()
			log.Println("[Aegisd] schema is up to date")
			return nil
		},
	}
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the full autonomic loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
}

func serve(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := database.New(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	logManager := logging.NewManager(db.DB())
	logManager.InstallLogInterceptor()
	log.Printf("[Aegisd] starting v%s", version)

	bus, err := messagebus.New(messagebus.Config{URL: cfg.NATS.URL})
	if err != nil {
		return fmt.Errorf("failed to connect message bus: %w", err)
	}
	defer bus.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	var grantCache *permission.GrantCache
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("[Aegisd] redis unavailable, grant caching disabled: %v", err)
	} else {
		grantCache = permission.NewGrantCache(redisClient)
	}
	defer redisClient.Close()

	respSub, err := bus.SubscribeUserResponses(func(tenantID string) {
		if err := db.RecordUserResponse(ctx, tenantID); err != nil {
			log.Printf("[Aegisd] failed to record user response: %v", err)
		}
	})
	if err != nil {
		log.Printf("[Aegisd] user response subscription disabled: %v", err)
	} else {
		defer respSub.Unsubscribe()
	}

	q := queue.NewPostgresQueue(db.DB(), cfg.Queue.CooldownWindow, cfg.Queue.MaxAttempts)

	validators := make([]consensus.Validator, 0, cfg.Consensus.ValidatorCount)
	for i := 0; i < cfg.Consensus.ValidatorCount; i++ {
		name := fmt.Sprintf("judge-%d", i+1)
		validators = append(validators, consensus.NewNATSValidator(name, bus.Conn()))
	}

	mon := monitor.New(monitor.DefaultCollectors(db), 5*time.Second)
	cycle := autonomic.New(mon, q, db, cfg.Cycle.InterventionCap)

	handlers := &dispatch.Handlers{
		Queue:       q,
		Cycle:       cycle,
		Permissions: permission.NewModel(db, grantCache),
		Gate:        consensus.NewGate(validators, cfg.Consensus.ValidatorTimeout, db),
		Executor:    executor.New(executor.DefaultEffectors(db, executor.NewNATSDeliverer(bus.Conn())), db),
		Feedback:    feedback.NewController(db, cfg.Feedback.Window),
		Outcomes:    db,
		Emergency:   bus,
		Consensus:   bus,
		Responses:   db,
		Retention:   cfg.Queue.Retention,
	}
	registry, err := dispatch.DefaultRegistry(handlers)
	if err != nil {
		return fmt.Errorf("failed to build handler registry: %w", err)
	}

	// Workers and schedulers read the tunables through this snapshot, so
	// a reload never races them. Connection targets, worker count, the
	// cycle cap, and the feedback window still need a restart.
	live := config.NewLive(cfg)
	watcher, err := config.Watch(configPath, func(next *config.Config) {
		live.Update(next)
	})
	if err != nil {
		log.Printf("[Aegisd] config watching disabled: %v", err)
	} else {
		defer watcher.Close()
	}

	var wg sync.WaitGroup
	for i := 0; i < cfg.Worker.Count; i++ {
		worker := dispatch.NewWorker(fmt.Sprintf("worker-%d", i+1), q, registry, cfg.Worker, live, bus)
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Run(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		runSchedulers(ctx, live, db, q)
	}()

	metricsServer := &http.Server{Addr: cfg.Metrics.Addr, Handler: promhttp.Handler()}
	go func() {
		log.Printf("[Aegisd] metrics listening on %s", cfg.Metrics.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[Aegisd] metrics server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("[Aegisd] shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Aegisd] metrics shutdown failed: %v", err)
	}
	wg.Wait()
	return nil
}

// runSchedulers emits the periodic work that drives the loop: observation
// cycles, feedback reviews, and maintenance sweeps. All of it flows
// through the queue so the same dedup, retry, and lease rules apply.
func runSchedulers(ctx context.Context, live *config.Live, db *database.Database, q queue.Queue) {
	tun := live.Snapshot()
	cycleInterval := tun.Cycle.Interval
	feedbackInterval := tun.Feedback.Interval

	cycleTicker := time.NewTicker(cycleInterval)
	feedbackTicker := time.NewTicker(feedbackInterval)
	sweepTicker := time.NewTicker(time.Minute)
	defer cycleTicker.Stop()
	defer feedbackTicker.Stop()
	defer sweepTicker.Stop()

	// Prime an observation pass at startup instead of waiting a full
	// interval.
	emitPerTenant(ctx, db, q, models.SubLoopObservation, "run_cycle", cycleInterval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-cycleTicker.C:
			// A reloaded interval takes effect after the in-flight tick.
			if next := live.Snapshot().Cycle.Interval; next != cycleInterval {
				cycleInterval = next
				cycleTicker.Reset(next)
			}
			emitPerTenant(ctx, db, q, models.SubLoopObservation, "run_cycle", cycleInterval)
		case <-feedbackTicker.C:
			if next := live.Snapshot().Feedback.Interval; next != feedbackInterval {
				feedbackInterval = next
				feedbackTicker.Reset(next)
			}
			emitPerTenant(ctx, db, q, models.SubLoopOptimization, "feedback_review", feedbackInterval)
		case <-sweepTicker.C:
			if _, err := q.Emit(ctx, queue.EmitParams{
				TenantID: "system",
				SubLoop:  models.SubLoopMaintenance,
				Handler:  "sweep_queue",
				DedupKey: bucketKey("sweep", time.Minute),
			}); err != nil {
				log.Printf("[Aegisd] failed to emit sweep: %v", err)
			}
		}
	}
}

// bucketKey dedups periodic emissions within one interval without the
// completed-item cooldown suppressing the next tick. Multiple daemon
// instances emitting in the same bucket collapse to one item.
func bucketKey(handler string, interval time.Duration) string {
	bucket := time.Now().Unix() / int64(interval.Seconds())
	return fmt.Sprintf("%s:%d", handler, bucket)
}

func emitPerTenant(ctx context.Context, db *database.Database, q queue.Queue, subLoop models.SubLoop, handler string, interval time.Duration) {
	tenants, err := db.ListTenants(ctx)
	if err != nil {
		log.Printf("[Aegisd] failed to list tenants: %v", err)
		return
	}
	for _, tenantID := range tenants {
		if _, err := q.Emit(ctx, queue.EmitParams{
			TenantID: tenantID,
			SubLoop:  subLoop,
			Handler:  handler,
			DedupKey: bucketKey(handler, interval),
		}); err != nil {
			log.Printf("[Aegisd] failed to emit %s for %s: %v", handler, tenantID, err)
		}
	}
}
