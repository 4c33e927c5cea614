package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/semaphore"

	"hotel_channel/internal/adapters/observability"
	"hotel_channel/internal/app"
	"hotel_channel/internal/bootstrap"
	"hotel_channel/internal/domain"
	"hotel_channel/internal/shared"
)

type cli struct {
	cfg   shared.Config
	stack *bootstrap.Stack
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "syncctl",
		Short:         "Operate the hotel channel sync engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			c.cfg = shared.Load()
			log.Logger = observability.NewLogger(c.cfg.AppEnv, c.cfg.LogLevel)
			st, err := bootstrap.Build(cmd.Context(), c.cfg)
			if err != nil {
				return err
			}
			c.stack = st
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.stack != nil {
				c.stack.Close()
			}
		},
	}
	root.AddCommand(
		c.flushCmd(),
		c.reconcileCmd(),
		c.productsCmd(),
		c.otasCmd(),
		c.connectCmd(),
		c.purgeCmd(),
	)
	return root
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) flushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Run one queue flush tick",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rep, err := c.stack.Processor.Tick(cmd.Context())
			if err != nil {
				return err
			}
			errs := make([]string, 0, len(rep.Errors))
			for _, e := range rep.Errors {
				errs = append(errs, e.Error())
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"claimed": rep.Claimed, "connections": rep.Connections, "synced": rep.Synced,
				"retried": rep.Retried, "failed": rep.Failed, "discarded": rep.Discarded, "errors": errs,
			})
		},
	}
}

func (c *cli) reconcileCmd() *cobra.Command {
	var connID int64
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Pull and apply reservations for one or all connections",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if connID > 0 {
				res, err := c.stack.Reconciler.Trigger(ctx, connID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), pollView(res))
			}
			return c.reconcileAll(ctx, cmd.OutOrStdout())
		},
	}
	cmd.Flags().Int64Var(&connID, "connection", 0, "connection id (all syncable connections when omitted)")
	return cmd
}

// reconcileAll fans out over connections, bounded by RECONCILE_WORKERS.
func (c *cli) reconcileAll(ctx context.Context, out io.Writer) error {
	conns, err := c.stack.Registry.ListSyncable(ctx)
	if err != nil {
		return err
	}
	workers := c.cfg.ReconcileWorkers
	if workers <= 0 {
		workers = 1
	}
	sem := semaphore.NewWeighted(int64(workers))
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []map[string]any
	)
	for _, conn := range conns {
		// acquire before launching the goroutine; release inside it
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(conn domain.ChannelConnection) {
			defer wg.Done()
			defer sem.Release(1)
			res, err := c.stack.Reconciler.Poll(ctx, conn)
			if err != nil {
				log.Warn().Int64("connection_id", conn.ID).Err(err).Msg("reconcile failed")
				res.Errors = append(res.Errors, err)
			}
			mu.Lock()
			results = append(results, pollView(res))
			mu.Unlock()
		}(conn)
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}
	return printJSON(out, results)
}

func pollView(r app.PollResult) map[string]any {
	errs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		errs = append(errs, e.Error())
	}
	return map[string]any{
		"connection": r.ConnectionID, "fetched": r.Fetched, "created": r.Created, "modified": r.Modified,
		"cancelled": r.Cancelled, "unchanged": r.Unchanged, "skipped": r.Skipped, "confirmed": r.Confirmed,
		"errors": errs,
	}
}

// connection loads a connection and its decrypted login.
func (c *cli) connection(ctx context.Context, id int64) (domain.ChannelConnection, domain.Endpoint, error) {
	if id <= 0 {
		return domain.ChannelConnection{}, domain.Endpoint{}, errors.New("--connection is required")
	}
	conn, err := c.stack.Registry.Get(ctx, id)
	if err != nil {
		return domain.ChannelConnection{}, domain.Endpoint{}, fmt.Errorf("connection %d: %w", id, err)
	}
	ep, err := c.stack.Registry.Endpoint(ctx, conn)
	return conn, ep, err
}

func (c *cli) productsCmd() *cobra.Command {
	var connID int64
	cmd := &cobra.Command{
		Use:   "products",
		Short: "List the gateway's rooms and rates for a connection",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			conn, ep, err := c.connection(ctx, connID)
			if err != nil {
				return err
			}
			ps, err := c.stack.Gateway.FetchProducts(ctx, ep)
			if err != nil {
				return err
			}
			if err := c.stack.Registry.MarkSynced(ctx, conn, domain.SyncProducts); err != nil {
				log.Warn().Err(err).Int64("connection_id", connID).Msg("mark products synced failed")
			}
			return printJSON(cmd.OutOrStdout(), ps)
		},
	}
	cmd.Flags().Int64Var(&connID, "connection", 0, "connection id")
	return cmd
}

func (c *cli) otasCmd() *cobra.Command {
	var (
		connID int64
		otaID  string
	)
	cmd := &cobra.Command{
		Use:   "otas",
		Short: "List the OTAs behind a connection, or one OTA's product mapping",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			_, ep, err := c.connection(ctx, connID)
			if err != nil {
				return err
			}
			if otaID != "" {
				ps, err := c.stack.Gateway.FetchOTAProducts(ctx, ep, otaID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), ps)
			}
			otas, err := c.stack.Gateway.FetchOTAs(ctx, ep)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), otas)
		},
	}
	cmd.Flags().Int64Var(&connID, "connection", 0, "connection id")
	cmd.Flags().StringVar(&otaID, "ota", "", "OTA id for its product mapping")
	return cmd
}

func (c *cli) connectCmd() *cobra.Command {
	var (
		in           app.NewConnection
		mode         string
		mappingsPath string
	)
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Create a connection with sealed credentials",
		RunE: func(cmd *cobra.Command, _ []string) error {
			in.Mode = domain.IntegrationMode(mode)
			if in.Credentials.Password == "" {
				in.Credentials.Password = os.Getenv("GATEWAY_PASSWORD")
			}
			if mappingsPath != "" {
				raw, err := os.ReadFile(mappingsPath)
				if err != nil {
					return err
				}
				if err := json.Unmarshal(raw, &in.RoomMappings); err != nil {
					return fmt.Errorf("mappings %s: %w", mappingsPath, err)
				}
			}
			conn, err := c.stack.Registry.Create(cmd.Context(), in)
			if err != nil {
				return err
			}
			log.Info().Int64("connection_id", conn.ID).Int64("hotel_id", conn.HotelID).Msg("connection created")
			return printJSON(cmd.OutOrStdout(), map[string]any{"id": conn.ID, "propertyKey": conn.PropertyKey, "status": conn.Status})
		},
	}
	f := cmd.Flags()
	f.Int64Var(&in.HotelID, "hotel", 0, "local hotel id")
	f.StringVar(&in.Provider, "provider", "otagw", "gateway provider name")
	f.StringVar(&mode, "mode", string(domain.ModeTwoWay), "one_way or two_way")
	f.StringVar(&in.Credentials.UserID, "user", "", "gateway user id")
	f.StringVar(&in.Credentials.Password, "password", "", "gateway password (default $GATEWAY_PASSWORD)")
	f.StringVar(&in.Credentials.PropertyID, "property", "", "gateway-side hotel id")
	f.StringVar(&in.Credentials.BaseURL, "base-url", "", "gateway base URL")
	f.StringVar(&mappingsPath, "mappings", "", "JSON file with room mappings")
	return cmd
}

func (c *cli) purgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Drop expired failed items and audit entries, recover stale claims",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rep, err := c.stack.Retention.Purge(cmd.Context())
			if perr := printJSON(cmd.OutOrStdout(), rep); perr != nil {
				return perr
			}
			return err
		},
	}
}
