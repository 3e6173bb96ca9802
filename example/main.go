// Command example runs the shop demos against a sqlite file, showing what propagation keeps
// when a nested call fails.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oligo/txprop"
	"github.com/oligo/txprop/example/shop"
	"github.com/oligo/txprop/sqlxpool"
)

type app struct {
	tm     *shop.Manager
	logger txprop.Logger
	close  func() error
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "example",
		Short:         "Transaction propagation demos",
		Long:          "Runs member and order flows on a sqlite database. Manager defaults come from TXPROP_* environment variables.",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().String("db", "shop.db", "Path of the sqlite database file")

	cmd.AddCommand(memberCmd(), orderCmd())
	return cmd
}

func memberCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "member",
		Short: "Member join flows",
	}
	cmd.AddCommand(joinCmd())
	return cmd
}

func joinCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "join USERNAME",
		Short: "Join a member and write its log entry",
		Long: "Join a member and write its log entry. A username containing \"" + shop.LogFailureMarker +
			"\" makes the log write fail.",
		Args: cobra.ExactArgs(1),
		RunE: runJoin,
	}
	cmd.Flags().Bool("outer", false, "Run the whole join in one transaction")
	cmd.Flags().Bool("recover", false, "Recover from a log failure (join v2)")
	cmd.Flags().String("log-propagation", "required", "Propagation of the log write")
	return cmd
}

func orderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "order USERNAME",
		Short: "Place and pay an order",
		Long:  "Place and pay an order. Username \"exception\" fails the payment system, \"insufficient\" leaves the order waiting.",
		Args:  cobra.ExactArgs(1),
		RunE:  runOrder,
	}
}

func setup(cmd *cobra.Command) (*app, error) {
	cfg, err := txprop.LoadConfig()
	if err != nil {
		return nil, err
	}
	opts, err := cfg.ManagerOptions()
	if err != nil {
		return nil, err
	}
	logger, err := txprop.NewLogger(cmd.ErrOrStderr(), cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	path, err := cmd.Flags().GetString("db")
	if err != nil {
		return nil, err
	}
	db, err := shop.Open(cmd.Context(), path)
	if err != nil {
		return nil, err
	}
	return &app{
		tm:     sqlxpool.NewTxManager(db, opts...),
		logger: logger,
		close:  db.Close,
	}, nil
}

func runJoin(cmd *cobra.Command, args []string) error {
	outer, _ := cmd.Flags().GetBool("outer")
	recoverLog, _ := cmd.Flags().GetBool("recover")
	name, _ := cmd.Flags().GetString("log-propagation")
	propagation, err := txprop.ParsePropagation(name)
	if err != nil {
		return err
	}

	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	members := shop.NewMemberRepository(a.tm)
	logs := shop.NewLogRepository(a.tm, propagation)
	svc := shop.NewMemberService(a.tm, members, logs, a.logger, outer)

	join := svc.JoinV1
	if recoverLog {
		join = svc.JoinV2
	}
	joinErr := join(cmd.Context(), args[0])

	m, err := members.Find(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	e, err := logs.Find(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "member saved: %t, log saved: %t\n", m != nil, e != nil)
	return joinErr
}

func runOrder(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	orders := shop.NewOrderRepository(a.tm)
	svc := shop.NewOrderService(a.tm, orders, a.logger)

	o := &shop.Order{Username: args[0]}
	orderErr := svc.Order(cmd.Context(), o)

	found, err := orders.FindByID(cmd.Context(), o.ID)
	if err != nil {
		return err
	}
	if found == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "order discarded")
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "order %d: %s\n", found.ID, found.PayStatus)
	}
	return orderErr
}
