// Command flowdesk runs the workflow-coordination backend: an HTTP API
// plus the mailbox-to-ticket sync pipeline.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/flowdesk-io/flowdesk/internal/api"
	"github.com/flowdesk-io/flowdesk/internal/clients"
	"github.com/flowdesk-io/flowdesk/internal/config"
	"github.com/flowdesk-io/flowdesk/internal/database"
	"github.com/flowdesk-io/flowdesk/internal/jobid"
	"github.com/flowdesk-io/flowdesk/internal/mailbox"
	"github.com/flowdesk-io/flowdesk/internal/middleware"
	"github.com/flowdesk-io/flowdesk/internal/notifications"
	"github.com/flowdesk-io/flowdesk/internal/repository"
	syncengine "github.com/flowdesk-io/flowdesk/internal/sync"
	"github.com/flowdesk-io/flowdesk/internal/tickets"
)

func main() {
	root := &cobra.Command{
		Use:   "flowdesk",
		Short: "Workflow-coordination backend: starred mail in, tickets out",
	}
	root.AddCommand(serveCmd(), migrateCmd(), syncCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and, if enabled, the sync scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			deps := buildDeps(cfg, db)

			if cfg.Scheduler.Enabled {
				c := cron.New()
				_, err := c.AddFunc(cfg.Scheduler.Spec, func() {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
					defer cancel()
					if _, err := deps.engine.Sync(ctx, cfg.App.WorkspaceID); err != nil {
						log.Printf("scheduler: sync: %v", err)
					}
				})
				if err != nil {
					return fmt.Errorf("scheduler: %w", err)
				}
				c.Start()
				defer c.Stop()
				log.Printf("scheduler: sync every %q", cfg.Scheduler.Spec)
			}

			addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
			log.Printf("serving on %s", addr)
			return deps.server.Router().Run(addr)
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(*cobra.Command, []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := database.Migrate(db); err != nil {
				return err
			}
			if err := database.EnsureIndexes(db); err != nil {
				return err
			}
			log.Println("schema up to date")
			return nil
		},
	}
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			deps := buildDeps(cfg, db)
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			report, err := deps.engine.Sync(ctx, cfg.App.WorkspaceID)
			if err != nil {
				return err
			}
			log.Printf("fetched=%d created=%d duplicates=%d",
				report.EmailsFetched, report.TicketsCreated, report.DuplicatesSkipped)
			return nil
		},
	}
}

func openDatabase(cfg *config.Config) (*sqlx.DB, error) {
	return database.Connect(database.Config{
		Driver:   cfg.Database.Driver,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Name:     cfg.Database.Name,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
	})
}

type deps struct {
	engine *syncengine.Engine
	server *api.Server
}

func buildDeps(cfg *config.Config, db *sqlx.DB) deps {
	account := mailbox.Account{
		Host:        cfg.Mailbox.Host,
		Port:        cfg.Mailbox.Port,
		Address:     cfg.Mailbox.Address,
		AppPassword: cfg.Mailbox.AppPassword,
		Folder:      cfg.Mailbox.Folder,
	}
	poller := mailbox.NewIMAPPoller(
		mailbox.WithWindow(time.Duration(cfg.Sync.WindowDays)*24*time.Hour),
		mailbox.WithPollBudget(cfg.Sync.PollBudget),
	)

	messageRepo := repository.NewMessageRepository(db, nil)
	ticketRepo := repository.NewTicketRepository(db)
	clientRepo := repository.NewClientRepository(db)
	lookup := clients.NewLookup(clientRepo, nil)
	alloc := jobid.NewAllocator(jobid.NewDBStore(db), jobid.WithWidth(cfg.Sync.JobIDWidth))

	var lock syncengine.Locker
	if cfg.Redis.Enabled {
		lock = syncengine.NewRedisLock(redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}))
	} else {
		lock = syncengine.NewMemoryLock(syncengine.WithCooldown(cfg.Sync.Cooldown))
	}

	engine := syncengine.NewEngine(account, poller, messageRepo, ticketRepo, lookup, alloc, lock)

	notifier := notifications.NewSMTPSender(notifications.Config{
		Host:     cfg.Notifications.Host,
		Port:     cfg.Notifications.Port,
		Username: cfg.Notifications.Username,
		Password: cfg.Notifications.Password,
		From:     cfg.Notifications.From,
		Enabled:  cfg.Notifications.Enabled,
	})
	ticketSvc := tickets.NewService(ticketRepo, messageRepo, notifier)

	jwt := middleware.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	server := api.NewServer(engine, ticketSvc, messageRepo, alloc, poller, account,
		jwt, cfg.App.WorkspaceID, api.WithDB(db))

	return deps{engine: engine, server: server}
}
