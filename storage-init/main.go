package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"slotboard/domain"
	"slotboard/storage"
)

const (
	backendAzure  = "azure"
	backendSQLite = "sqlite"
)

type options struct {
	backend          string
	connStr          string
	initiativesTable string
	eventsQueue      string
	sqlitePath       string
	seedPath         string
	tenant           string
	totalSlots       int
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOr(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func newRootCmd(fs afero.Fs) *cobra.Command {
	o := &options{}
	cmd := &cobra.Command{
		Use:   "storage-init",
		Short: "Provision slot board storage and seed initiatives",
		Long: `storage-init creates the initiatives table and the slot events queue
(Azure backend) or migrates the database (SQLite backend), then optionally
seeds one tenant's initiatives from a YAML file.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), fs, o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.backend, "backend", envOr("STORAGE_BACKEND", backendAzure), "storage backend: azure or sqlite")
	f.StringVar(&o.connStr, "connection-string", os.Getenv("STORAGE_CONNECTION_STRING"), "Azure storage connection string")
	f.StringVar(&o.initiativesTable, "initiatives-table", envOr("INITIATIVES_TABLE", "Initiatives"), "initiatives table name")
	f.StringVar(&o.eventsQueue, "events-queue", envOr("SLOT_EVENTS_QUEUE", "slot-events"), "slot events queue name")
	f.StringVar(&o.sqlitePath, "sqlite-path", envOr("SQLITE_PATH", "slotboard.db"), "SQLite database file")
	f.StringVar(&o.seedPath, "seed", os.Getenv("SEED_FILE"), "YAML seed file")
	f.StringVar(&o.tenant, "tenant", os.Getenv("SEED_TENANT"), "tenant to seed, overrides the seed file")
	f.IntVar(&o.totalSlots, "slots", envIntOr("BOARD_TOTAL_SLOTS", 0), "board size used to validate seeded slots")
	return cmd
}

func run(ctx context.Context, fs afero.Fs, o *options) error {
	log.Info("storage init starting")

	var seed seedFile
	var initiatives []domain.Initiative
	if o.seedPath != "" {
		var err error
		if seed, err = loadSeed(fs, o.seedPath); err != nil {
			return err
		}
		if o.tenant != "" {
			seed.Tenant = o.tenant
		}
		if seed.Tenant == "" {
			return errors.New("seed tenant is required")
		}
		if initiatives, err = seed.initiatives(boardSize(o.totalSlots, seed.TotalSlots)); err != nil {
			return err
		}
	}

	var target seedTarget
	switch o.backend {
	case backendAzure:
		if o.connStr == "" {
			return errors.New("missing STORAGE_CONNECTION_STRING")
		}
		if err := createTables(ctx, o.connStr, []string{o.initiativesTable}); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
		if err := createQueues(ctx, o.connStr, []string{o.eventsQueue}); err != nil {
			return fmt.Errorf("create queues: %w", err)
		}
		if o.seedPath != "" {
			svc, err := aztables.NewServiceClientFromConnectionString(o.connStr, nil)
			if err != nil {
				return err
			}
			target = tableTarget{table: svc.NewClient(o.initiativesTable)}
		}
	case backendSQLite:
		db, err := storage.OpenSQLite(o.sqlitePath, boardSize(o.totalSlots, seed.TotalSlots))
		if err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
		defer db.Close()
		target = sqliteTarget{db: db}
	default:
		return fmt.Errorf("unknown backend %q", o.backend)
	}

	if o.seedPath != "" {
		if err := applySeed(ctx, target, seed.Tenant, initiatives); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}
	log.Info("storage init complete")
	return nil
}

func boardSize(flag, file int) int {
	switch {
	case flag > 0:
		return flag
	case file > 0:
		return file
	}
	return domain.DefaultTotalSlots
}

func createTables(ctx context.Context, connStr string, names []string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == "" {
			continue
		}
		c := svc.NewClient(name)
		_, err := c.CreateTable(ctx, nil)
		if err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists)) {
				return err
			}
		}
		log.Debugf("table %s ready", name)
	}
	return nil
}

func createQueues(ctx context.Context, connStr string, names []string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
		if err != nil {
			return err
		}
		_, err = q.Create(ctx, nil)
		if err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == "QueueAlreadyExists") {
				return err
			}
		}
		log.Debugf("queue %s ready", name)
	}
	return nil
}

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	if err := newRootCmd(afero.NewOsFs()).ExecuteContext(context.Background()); err != nil {
		log.Fatal(err)
	}
}
