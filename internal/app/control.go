package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oddslab/predarb/internal/domain"
	"github.com/oddslab/predarb/internal/engine"
	"github.com/oddslab/predarb/internal/risk"
)

// riskLimitRequest is the body of POST /control/risk-limit.
type riskLimitRequest struct {
	MinNetEdge             float64 `json:"min_net_edge"`
	MinLiquidityUSD        float64 `json:"min_liquidity_usd"`
	MaxAllocationPerMarket float64 `json:"max_allocation_per_market"`
	MaxOpenPositions       int     `json:"max_open_positions"`
	KillSwitchDrawdown     float64 `json:"kill_switch_drawdown"`
}

// startControlServer adds the control-plane HTTP server to the errgroup.
// Commands are enqueued on the engine's bounded queue and take effect
// between cycles; a full queue returns 429 rather than blocking.
func (a *App) startControlServer(ctx context.Context, g *errgroup.Group, eng *engine.Engine) {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	enqueue := func(w http.ResponseWriter, cmd engine.Command) {
		if err := eng.Enqueue(cmd); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, domain.ErrQueueFull) {
				status = http.StatusTooManyRequests
			}
			http.Error(w, err.Error(), status)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}

	mux.HandleFunc("POST /control/pause", func(w http.ResponseWriter, _ *http.Request) {
		enqueue(w, engine.Command{Kind: engine.CmdPause})
	})
	mux.HandleFunc("POST /control/resume", func(w http.ResponseWriter, _ *http.Request) {
		enqueue(w, engine.Command{Kind: engine.CmdResume})
	})
	mux.HandleFunc("POST /control/freeze", func(w http.ResponseWriter, _ *http.Request) {
		enqueue(w, engine.Command{Kind: engine.CmdFreeze})
	})
	mux.HandleFunc("POST /control/risk-limit", func(w http.ResponseWriter, r *http.Request) {
		var req riskLimitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("decode body: %v", err), http.StatusBadRequest)
			return
		}
		enqueue(w, engine.Command{
			Kind: engine.CmdSetRiskLimit,
			Limits: risk.Limits{
				MinNetEdge:             req.MinNetEdge,
				MinLiquidityUSD:        req.MinLiquidityUSD,
				MaxAllocationPerMarket: req.MaxAllocationPerMarket,
				MaxOpenPositions:       req.MaxOpenPositions,
				KillSwitchDrawdown:     req.KillSwitchDrawdown,
			},
		})
	})

	srv := &http.Server{
		Addr:              a.cfg.Engine.ControlAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g.Go(func() error {
		a.logger.InfoContext(ctx, "control server listening",
			slog.String("addr", a.cfg.Engine.ControlAddr),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("control server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.logger.InfoContext(ctx, "control server shutting down")
		return srv.Shutdown(shutCtx)
	})
}
