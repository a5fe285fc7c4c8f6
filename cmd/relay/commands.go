package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mirkobrombin/go-relay/v1/lock"
)

var (
	execCmd = &cobra.Command{
		Use:   "exec [command] [args...]",
		Short: "Run a store command",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runExec,
	}

	pingCmd = &cobra.Command{
		Use:   "ping",
		Short: "Check that the store answers",
		Args:  cobra.NoArgs,
		RunE:  runPing,
	}

	lockCmd = &cobra.Command{
		Use:   "lock [key]",
		Short: "Take a lock",
		Long:  "Take a lock by setting key only if it does not exist. The lock is released by unlock or when it expires.",
		Args:  cobra.ExactArgs(1),
		RunE:  runLock,
	}

	unlockCmd = &cobra.Command{
		Use:   "unlock [key]",
		Short: "Release a lock",
		Args:  cobra.ExactArgs(1),
		RunE:  runUnlock,
	}
)

func init() {
	lockCmd.Flags().Duration("wait", 0, "keep trying for this long (0 tries once)")
	lockCmd.Flags().Duration("expire", lock.DefaultExpire, "lock lifetime, at least 5s")
	lockCmd.Flags().Duration("poll", lock.DefaultPollInterval, "wait between attempts")
}

func runExec(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	cmdArgs := make([]any, len(args)-1)
	for i, a := range args[1:] {
		cmdArgs[i] = a
	}
	res, err := c.Execute(cmd.Context(), args[0], cmdArgs...)
	if err != nil {
		return err
	}
	printReply(cmd.OutOrStdout(), res, "")
	return nil
}

func runPing(cmd *cobra.Command, _ []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	start := time.Now()
	if err := c.Ping(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "PONG from %s in %s\n", cfg.Addr(), time.Since(start).Round(time.Microsecond))
	return nil
}

func runLock(cmd *cobra.Command, args []string) error {
	wait, _ := cmd.Flags().GetDuration("wait")
	expire, _ := cmd.Flags().GetDuration("expire")
	poll, _ := cmd.Flags().GetDuration("poll")

	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	ok, err := c.Lock(cmd.Context(), args[0], lock.WithTimeout(wait), lock.WithExpire(expire), lock.WithPollInterval(poll))
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "acquired=%v\n", ok)
	return nil
}

func runUnlock(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	n, err := c.Unlock(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "released=%d\n", n)
	return nil
}

// printReply writes res the way redis-cli does.
func printReply(w io.Writer, res any, indent string) {
	switch v := res.(type) {
	case nil:
		fmt.Fprintln(w, "(nil)")
	case int64:
		fmt.Fprintf(w, "(integer) %d\n", v)
	case string:
		fmt.Fprintf(w, "%q\n", v)
	case []any:
		if len(v) == 0 {
			fmt.Fprintln(w, "(empty array)")
			return
		}
		width := len(fmt.Sprint(len(v)))
		for i, item := range v {
			prefix := fmt.Sprintf("%*d) ", width, i+1)
			if i > 0 {
				fmt.Fprint(w, indent)
			}
			fmt.Fprint(w, prefix)
			printReply(w, item, indent+strings.Repeat(" ", len(prefix)))
		}
	default:
		fmt.Fprintf(w, "%v\n", v)
	}
}
