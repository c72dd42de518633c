package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"cowechat/internal/domain"
	"cowechat/internal/history"

	"github.com/spf13/cobra"
)

func historyCmd() *cobra.Command {
	var (
		status string
		limit  int
		since  time.Duration
		prune  bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent deliveries",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup()
			if err != nil {
				return err
			}
			defer rt.Close()

			store, err := rt.openHistory()
			if err != nil {
				return err
			}

			if prune {
				cutoff := time.Now().AddDate(0, 0, -rt.cfg.History.RetentionDays)
				n, err := store.Prune(cmd.Context(), cutoff)
				if err != nil {
					return err
				}
				fmt.Printf("pruned %d deliveries older than %s\n", n, cutoff.Format(time.DateOnly))
				return nil
			}

			f := history.Filter{Status: domain.DeliveryStatus(status), Limit: limit}
			if since > 0 {
				f.Since = time.Now().Add(-since)
			}
			rows, err := store.List(cmd.Context(), f)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tKIND\tSTATUS\tATTEMPTS\tLATENCY\tTO\tMSGID\tDETAIL")
			for _, d := range rows {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
					d.CreatedAt.Local().Format(time.DateTime), d.Kind, d.Status, d.Attempts,
					d.Latency.Round(time.Millisecond), recipients(d), d.MsgID, d.Detail)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only show sent, rejected or failed")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum rows")
	cmd.Flags().DurationVar(&since, "since", 0, "only show deliveries newer than this (e.g. 24h)")
	cmd.Flags().BoolVar(&prune, "prune", false, "delete deliveries older than history.retentionDays")
	return cmd
}

func recipients(d domain.Delivery) string {
	var out string
	add := func(label, v string) {
		if v == "" {
			return
		}
		if out != "" {
			out += " "
		}
		out += label + ":" + v
	}
	add("user", d.ToUser)
	add("party", d.ToParty)
	add("tag", d.ToTag)
	return out
}
