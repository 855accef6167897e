package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/garyagent/dashboard/internal/config"
	"github.com/garyagent/dashboard/internal/domain"
	"github.com/garyagent/dashboard/internal/httpx"
)

const shutdownTimeout = 30 * time.Second

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.LoadWorker()
	if err != nil {
		slog.Error("load worker config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := httpx.New()
	client.MaxRetries = cfg.HTTPMaxRetries
	client.BackoffBase = cfg.HTTPBackoffBase
	client.Timeout = cfg.HTTPTimeout

	w := &worker{cfg: cfg, client: client}
	w.run(ctx)
}

type worker struct {
	cfg    config.WorkerConfig
	client *httpx.Client
}

// run polls the queue until the context is cancelled, executing claimed units
// with bounded concurrency, then waits for in-flight units to finish.
func (w *worker) run(ctx context.Context) {
	sem := make(chan struct{}, w.cfg.Concurrency)
	var wg sync.WaitGroup

	slog.Info("worker started",
		"server", w.cfg.ServerURL,
		"concurrency", w.cfg.Concurrency,
		"poll_interval", w.cfg.PollInterval)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

pollLoop:
	for {
		unit, err := w.claimNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break pollLoop
			}
			slog.Error("claim next unit", "error", err)
		}

		if unit != nil {
			select {
			case <-ctx.Done():
				break pollLoop
			case sem <- struct{}{}:
			}
			wg.Add(1)
			go func(u *domain.WorkUnit) {
				defer wg.Done()
				defer func() { <-sem }()
				w.process(ctx, u)
			}(unit)
			// A claimed unit means the queue may not be empty; skip the
			// poll delay.
			continue
		}

		select {
		case <-ctx.Done():
			break pollLoop
		case <-ticker.C:
		}
	}

	slog.Info("shutdown requested, waiting for in-flight units", "timeout", shutdownTimeout)
	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
		slog.Info("worker stopped")
	case <-time.After(shutdownTimeout):
		slog.Warn("shutdown timeout reached, exiting with in-flight units")
	}
}

func (w *worker) headers() http.Header {
	h := http.Header{}
	h.Set("X-API-Key", w.cfg.APIKey)
	return h
}

// claimNext asks the server for the next pending unit. A 204 response means
// the queue is empty.
func (w *worker) claimNext(ctx context.Context) (*domain.WorkUnit, error) {
	resp, err := w.client.Do(ctx, http.MethodGet, w.cfg.ServerURL+"/api/queue/next",
		httpx.Options{Headers: w.headers()})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return nil, nil
	case http.StatusOK:
		var envelope struct {
			Data domain.WorkUnit `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			return nil, fmt.Errorf("decode work unit: %w", err)
		}
		return &envelope.Data, nil
	default:
		return nil, fmt.Errorf("claim next returned status %d", resp.StatusCode)
	}
}

// process runs the agent command for one unit and reports the outcome back.
// The reporting context is detached so a shutdown signal does not lose the
// result of work already done.
func (w *worker) process(ctx context.Context, unit *domain.WorkUnit) {
	slog.Info("processing unit", "unit_id", unit.ID, "issue_id", unit.IssueID)

	runCtx, cancel := context.WithTimeout(ctx, w.cfg.TaskTimeout)
	output, runErr := w.runAgent(runCtx, unit)
	cancel()

	status := domain.WorkUnitCompleted
	result := output
	if runErr != nil {
		status = domain.WorkUnitFailed
		result = fmt.Sprintf("%v\n%s", runErr, output)
	}

	reportCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := w.report(reportCtx, unit.ID, status, result); err != nil {
		slog.Error("report unit result", "unit_id", unit.ID, "error", err)
		return
	}

	slog.Info("unit finished", "unit_id", unit.ID, "status", status)
}

// runAgent executes the configured command with the unit exposed through the
// environment and returns its combined output.
func (w *worker) runAgent(ctx context.Context, unit *domain.WorkUnit) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", w.cfg.AgentCommand)
	cmd.Env = append(os.Environ(),
		"WORK_UNIT_ID="+strconv.FormatInt(unit.ID, 10),
		"WORK_UNIT_ISSUE_ID="+strconv.FormatInt(unit.IssueID, 10),
		"WORK_UNIT_PRIORITY="+strconv.Itoa(unit.Priority),
	)

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	return buf.String(), err
}

func (w *worker) report(ctx context.Context, unitID int64, status domain.WorkUnitStatus, result string) error {
	payload, err := json.Marshal(map[string]any{
		"status": status,
		"result": result,
	})
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/queue/%d", w.cfg.ServerURL, unitID)
	resp, err := w.client.DoJSON(ctx, http.MethodPatch, endpoint,
		func() io.Reader { return bytes.NewReader(payload) }, w.headers())
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := httpx.ReadBody(resp)
		return fmt.Errorf("report returned status %d: %s", resp.StatusCode, body)
	}
	resp.Body.Close()
	return nil
}
