// Command execution for CLI commands.
//
// Information Hiding:
// - HTTP server lifecycle and shutdown hidden
// - Event stream encoding hidden
// - Output formatting hidden

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/richinex/vdirector/agent"
	"github.com/richinex/vdirector/ledger"
	"github.com/richinex/vdirector/model"
	"github.com/richinex/vdirector/server"
	"github.com/richinex/vdirector/tools"
)

// ShutdownTimeout bounds graceful shutdown of the HTTP server.
const ShutdownTimeout = 30 * time.Second

// Serve runs the HTTP API until ctx is cancelled, then drains in-flight
// requests.
func Serve(ctx context.Context, app *App) error {
	settings := app.Settings
	srv := server.New(app.Orchestrator, app.Ledger, server.Config{
		Info: server.Info{
			Version:       Version,
			Model:         settings.LLM.Model,
			RouterEnabled: app.Orchestrator.RouterEnabled(),
			MaxIterations: settings.Director.MaxIterations,
		},
		CORSOrigins: settings.Server.CORSOrigins,
		Metrics:     app.Metrics.Handler(),
		Logger:      app.Logger.Named("http"),
	})
	httpServer := &http.Server{
		Addr:              settings.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		app.Logger.Info("listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		app.Logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// RunRequest is one instruction submitted from the command line.
type RunRequest struct {
	JobID       string
	Instruction string
	UserID      string
	// Context is a JSON object of extra identifiers.
	Context string
}

// Run executes one instruction and writes every event to w as a JSON line.
// It returns an error when the session ends with status error.
func Run(ctx context.Context, app *App, req RunRequest, w io.Writer) error {
	var extra map[string]any
	if strings.TrimSpace(req.Context) != "" {
		if err := json.Unmarshal([]byte(req.Context), &extra); err != nil {
			return fmt.Errorf("invalid --context: %w", err)
		}
	}

	enc := json.NewEncoder(w)
	res := app.Orchestrator.Execute(ctx, agent.Request{
		JobID:       req.JobID,
		Instruction: req.Instruction,
		UserID:      req.UserID,
		Context:     extra,
	}, func(e agent.Event) {
		if err := enc.Encode(e); err != nil {
			app.Logger.Warn("failed to write event", zap.Error(err))
		}
	})

	if res.Status == model.StatusError {
		return fmt.Errorf("session %s failed: %s", res.SessionID, res.Text)
	}
	return nil
}

// ListSessions prints a page of sessions as a table.
func ListSessions(ctx context.Context, l ledger.Ledger, limit, offset int, w io.Writer) error {
	sessions, total, err := l.ListSessions(ctx, limit, offset)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tJOB\tROUTE\tSTATUS\tITER\tTOOLS\tCOST\tSTARTED")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t$%.4f\t%s\n",
			s.ID, s.JobID, orDash(string(s.Route)), s.Status, s.Iterations, s.ToolCalls, s.CostUSD,
			s.StartedAt.Format(time.RFC3339))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%d of %d sessions\n", len(sessions), total)
	return nil
}

// ShowSession prints one session and its actions as indented JSON.
func ShowSession(ctx context.Context, l ledger.Ledger, id string, w io.Writer) error {
	session, err := l.GetSession(ctx, id)
	if err != nil {
		return fmt.Errorf("session %s: %w", id, err)
	}
	actions, err := l.ListActions(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to list actions: %w", err)
	}
	if actions == nil {
		actions = []model.Action{}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{"session": session, "actions": actions})
}

// ListTools prints the tools of a capability group.
func ListTools(registry *tools.Registry, groupName string, w io.Writer) error {
	group, err := tools.GroupByName(groupName)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Tools in group %q:\n\n%s\n", group.Name, registry.Description(group.Tools))
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
