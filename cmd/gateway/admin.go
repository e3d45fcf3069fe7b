package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"admission-gateway/middleware/admission/application"
	"admission-gateway/middleware/admission/domain"

	"github.com/spf13/cobra"
)

// open conecta os backends para comandos administrativos (sem métricas).
func (a *app) open(ctx context.Context) (*components, error) {
	return openComponents(ctx, a.cfg, a.log, nil, a.dbOptions...)
}

func syncCmd(a *app) *cobra.Command {
	var (
		watch    bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Rebuild the cached blacklist mirror from the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			c, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			if watch {
				if interval > 0 {
					c.reconciler.Interval = interval
				}
				a.log.Info("blacklist sync loop started", "interval", c.reconciler.Interval)
				return c.reconciler.Run(ctx)
			}

			res, err := c.reconciler.Reconcile(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "synced %d blocked ips in %s\n", res.Size, res.Duration)
			return nil
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "keep reconciling until interrupted")
	cmd.Flags().DurationVar(&interval, "interval", 0, "reconcile interval for --watch (default RECONCILE_INTERVAL)")
	return cmd
}

const blockLong = `Block an IP in the database and the cache mirror.

IPv6 addresses are reduced to the IPV6_PREFIX network. CIDR ranges wider than a
single key (IPv4 below /32, IPv6 below /IPV6_PREFIX) are rejected.`

func blockCmd(a *app) *cobra.Command {
	var (
		reason   string
		duration time.Duration
		typ      string
		users    []int64
	)
	cmd := &cobra.Command{
		Use:   "block <ip>",
		Short: "Block an IP in the database and the cache mirror",
		Long:  blockLong,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bt, err := domain.ParseBlockType(typ)
			if err != nil {
				return err
			}
			c, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			entry, err := c.blacklist.Block(cmd.Context(), application.BlockRequest{
				IP:             args[0],
				Reason:         reason,
				Type:           bt,
				Duration:       duration,
				RelatedUserIDs: users,
			})
			if err != nil {
				return err
			}
			printEntry(cmd.OutOrStdout(), entry, time.Now())
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason stored with the block")
	cmd.Flags().DurationVar(&duration, "duration", 0, "block duration (0 = permanent)")
	cmd.Flags().StringVar(&typ, "type", string(domain.BlockManual), "block type: manual or auto")
	cmd.Flags().Int64SliceVar(&users, "users", nil, "related user ids")
	return cmd
}

func unblockCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unblock <ip>",
		Short: "Deactivate an IP block",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.blacklist.Unblock(cmd.Context(), args[0]); err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					return fmt.Errorf("%s is not in the blacklist", args[0])
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "unblocked %s\n", args[0])
			return nil
		},
	}
}

func statusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <ip>",
		Short: "Show the blacklist row, mirror membership and recent violations of an IP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			ip, err := c.blacklist.Key(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			now := time.Now()

			entry, err := c.blacklist.Info(ctx, ip)
			switch {
			case err == nil:
				printEntry(out, entry, now)
			case errors.Is(err, domain.ErrNotFound):
				fmt.Fprintf(out, "%s: no blacklist entry\n", ip)
			default:
				return err
			}

			blocked, degraded := c.blacklist.IsBlocked(ctx, ip)
			if degraded {
				fmt.Fprintln(out, "mirror:     unavailable")
			} else {
				fmt.Fprintf(out, "mirror:     %v\n", blocked)
			}

			tracker := application.ViolationTracker{Store: c.store, Policies: c.policies, Keys: c.keys}
			if n, err := tracker.Count(ctx, ip); err == nil {
				fmt.Fprintf(out, "violations: %d in the last %s\n", n, c.policies.Policy().AutoBan.Window)
			}

			if at, ok, err := c.blacklist.LastSync(ctx); err == nil && ok {
				fmt.Fprintf(out, "last sync:  %s\n", at.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func listCmd(a *app) *cobra.Command {
	var (
		active bool
		page   int
		size   int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List blacklist entries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if page < 1 || size < 1 {
				return errors.New("--page and --size must be >= 1")
			}
			c, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			f := domain.ListFilter{Offset: (page - 1) * size, Limit: size}
			if cmd.Flags().Changed("active") {
				f.Active = &active
			}
			entries, total, err := c.blacklist.List(cmd.Context(), f)
			if err != nil {
				return err
			}
			printTable(cmd.OutOrStdout(), entries)
			fmt.Fprintf(cmd.OutOrStdout(), "page %d, %d of %d entries\n", page, len(entries), total)
			return nil
		},
	}
	cmd.Flags().BoolVar(&active, "active", true, "filter by active flag (omit to list all)")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&size, "size", 20, "page size")
	return cmd
}

func expiryLabel(e domain.BlacklistEntry) string {
	if e.Permanent() {
		return "never"
	}
	return e.ExpiresAt.UTC().Format(time.RFC3339)
}

func printEntry(w io.Writer, e domain.BlacklistEntry, now time.Time) {
	fmt.Fprintf(w, "ip:         %s\n", e.IP)
	fmt.Fprintf(w, "type:       %s\n", e.Type)
	fmt.Fprintf(w, "reason:     %s\n", e.Reason)
	fmt.Fprintf(w, "blocked at: %s\n", e.BlockedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "expires:    %s\n", expiryLabel(e))
	fmt.Fprintf(w, "active:     %v (blocking now: %v)\n", e.Active, e.Blocks(now))
	if len(e.RelatedUserIDs) > 0 {
		ids := make([]string, len(e.RelatedUserIDs))
		for i, id := range e.RelatedUserIDs {
			ids[i] = fmt.Sprint(id)
		}
		fmt.Fprintf(w, "users:      %s\n", strings.Join(ids, ","))
	}
}

func printTable(w io.Writer, entries []domain.BlacklistEntry) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "IP\tTYPE\tACTIVE\tBLOCKED AT\tEXPIRES\tREASON")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%v\t%s\t%s\t%s\n",
			e.IP, e.Type, e.Active, e.BlockedAt.UTC().Format(time.RFC3339), expiryLabel(e), e.Reason)
	}
	_ = tw.Flush()
}
