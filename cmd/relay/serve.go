package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	relayerrors "github.com/mirkobrombin/go-relay/v1/errors"
	"github.com/mirkobrombin/go-relay/v1/metrics"
	"github.com/mirkobrombin/go-relay/v1/relay"
	"github.com/mirkobrombin/go-relay/v1/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a RESP sidecar forwarding commands to the store",
	Long: `Listen for Redis clients and forward every command to the configured store
through a resilient connection, one per client. Prometheus metrics are served
on /metrics when --metrics is set.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("listen", ":6380", "address to accept clients on")
	serveCmd.Flags().String("metrics", ":2112", "address of the metrics endpoint (empty disables it)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	listen, _ := cmd.Flags().GetString("listen")
	metricsAddr, _ := cmd.Flags().GetString("metrics")

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return err
	}
	srv := &sidecar{newClient: newClient, logger: logger}

	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error { return srv.Serve(ctx, ln) })
	if metricsAddr != "" {
		reg := metrics.NewRegistry()
		metrics.RegisterCoreMetrics(reg)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		hs := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := hs.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return hs.Shutdown(sctx)
		})
	}
	logger.Info("relay: sidecar listening", "addr", ln.Addr().String(), "store", cfg.Addr(), "metrics", metricsAddr)
	err = g.Wait()
	if cerr := store.ClosePersistent(); cerr != nil {
		logger.Warn("relay: closing shared pools", "error", cerr)
	}
	return err
}

// sidecar serves RESP clients, giving each its own relay.Client.
type sidecar struct {
	newClient func() (*relay.Client, error)
	logger    *slog.Logger
}

// Serve accepts connections on ln until ctx is done.
func (s *sidecar) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	g, gctx := errgroup.WithContext(ctx)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				_ = g.Wait()
				return nil
			}
			s.logger.Warn("relay: accept failed", "error", err)
			_ = g.Wait()
			return err
		}
		g.Go(func() error {
			s.handle(gctx, conn)
			return nil
		})
	}
}

func (s *sidecar) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	client, err := s.newClient()
	if err != nil {
		s.logger.Error("relay: cannot create client", "error", err)
		return
	}
	defer client.Close()

	reader := bufio.NewReader(conn)
	respReader := NewRESPReader(reader)
	respWriter := NewRESPWriter(bufio.NewWriter(conn))
	tx := &transaction{}

	for {
		args, err := respReader.ReadCommand()
		if err != nil {
			if err != io.EOF && ctx.Err() == nil {
				s.logger.Debug("relay: read error", "remote", conn.RemoteAddr().String(), "error", err)
			}
			return
		}
		if quit := s.execute(ctx, client, respWriter, tx, args); quit {
			_ = respWriter.Flush()
			return
		}
		// answer pipelined commands in one write
		for reader.Buffered() > 0 {
			args, err := respReader.ReadCommand()
			if err != nil {
				_ = respWriter.Flush()
				return
			}
			if quit := s.execute(ctx, client, respWriter, tx, args); quit {
				_ = respWriter.Flush()
				return
			}
		}
		if err := respWriter.Flush(); err != nil {
			return
		}
	}
}

// transaction tracks an open MULTI block so queued commands and the EXEC
// array keep their reply types.
type transaction struct {
	open   bool
	status []bool
}

func (tx *transaction) reset() {
	tx.open = false
	tx.status = nil
}

// statusCommands answer with a status reply when they answer with a string.
var statusCommands = map[string]bool{
	"AUTH": true, "BGREWRITEAOF": true, "BGSAVE": true, "CONFIG": true, "DISCARD": true,
	"FLUSHALL": true, "FLUSHDB": true, "HMSET": true, "LSET": true, "LTRIM": true,
	"MIGRATE": true, "MSET": true, "MULTI": true, "PSETEX": true, "RENAME": true,
	"RESET": true, "RESTORE": true, "SAVE": true, "SELECT": true, "SETEX": true,
	"SWAPDB": true, "TYPE": true, "UNWATCH": true, "WATCH": true,
}

// statusReply reports whether a string reply to args is a status reply.
// Everything else, GET of a key holding "OK" included, is a bulk string.
func statusReply(name string, args [][]byte) bool {
	switch name {
	case "PING":
		return len(args) == 1
	case "SET":
		for i := 3; i < len(args); i++ {
			if strings.EqualFold(string(args[i]), "GET") {
				return false
			}
		}
		return true
	}
	return statusCommands[name]
}

// execute runs one command and reports whether the client asked to quit.
func (s *sidecar) execute(ctx context.Context, client *relay.Client, w *RESPWriter, tx *transaction, args [][]byte) bool {
	if len(args) == 0 {
		return false
	}
	name := strings.ToUpper(string(args[0]))
	switch name {
	case "QUIT":
		w.WriteSimpleString("OK")
		return true
	case "COMMAND", "CLIENT":
		w.WriteSimpleString("OK")
		return false
	case "HELLO":
		// RESP3 is not spoken; clients fall back to RESP2.
		w.WriteError("ERR unknown command 'hello'")
		return false
	}

	cmdArgs := make([]any, len(args)-1)
	for i, a := range args[1:] {
		cmdArgs[i] = a
	}
	res, err := client.Execute(ctx, name, cmdArgs...)
	if err != nil {
		if name == "EXEC" || name == "DISCARD" {
			tx.reset()
		}
		w.WriteError(replyError(err))
		return false
	}
	switch {
	case name == "MULTI":
		tx.reset()
		tx.open = true
		w.WriteStatus(res)
	case name == "EXEC":
		writeExec(w, res, tx.status)
		tx.reset()
	case name == "DISCARD":
		tx.reset()
		w.WriteStatus(res)
	case tx.open:
		// QUEUED
		tx.status = append(tx.status, statusReply(name, args))
		w.WriteStatus(res)
	case statusReply(name, args):
		w.WriteStatus(res)
	default:
		w.WriteValue(res)
	}
	return false
}

func writeExec(w *RESPWriter, res any, status []bool) {
	items, ok := res.([]any)
	if !ok {
		w.WriteValue(res)
		return
	}
	w.WriteArray(len(items))
	for i, item := range items {
		if i < len(status) && status[i] {
			w.WriteStatus(item)
		} else {
			w.WriteValue(item)
		}
	}
}

// replyError renders err as a RESP error line. Store rejections are passed
// through verbatim.
func replyError(err error) string {
	var ce *relayerrors.CommandError
	if errors.As(err, &ce) {
		return firstLine(ce.Err.Error())
	}
	return "ERR " + firstLine(err.Error())
}

func firstLine(s string) string {
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		return s[:i]
	}
	return s
}
