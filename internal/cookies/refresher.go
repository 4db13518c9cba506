package cookies

import (
	"context"
	"log/slog"
	"time"

	"akash-router/internal/logging"
	"akash-router/internal/models"
)

// Refresher runs the refresh chain: session probe, then automated challenge
// solve (followed by one more probe), then operator sources. The first tier
// that produces a complete set wins and the result is persisted.
type Refresher struct {
	files        *FileStore
	prober       Prober
	solver       Solver
	manual       []Source
	landingURL   string
	solveTimeout time.Duration
}

// RefresherOptions configures the optional tiers.
type RefresherOptions struct {
	Solver       Solver
	Manual       []Source
	LandingURL   string
	SolveTimeout time.Duration
}

// NewRefresher builds a chain around files and prober.
func NewRefresher(files *FileStore, prober Prober, opts RefresherOptions) *Refresher {
	return &Refresher{
		files:        files,
		prober:       prober,
		solver:       opts.Solver,
		manual:       opts.Manual,
		landingURL:   opts.LandingURL,
		solveTimeout: opts.SolveTimeout,
	}
}

// Refresh runs the chain once.
func (r *Refresher) Refresh(ctx context.Context) (models.CookieSet, bool) {
	var existing models.CookieSet
	if snap, err := r.files.Read(); err == nil {
		existing = snap.Cookies
	}

	if set, ok := r.probe(ctx, existing); ok {
		return set, true
	}

	if set, ok := r.solve(ctx); ok {
		return set, true
	}

	for _, src := range r.manual {
		set, err := src.Cookies(ctx)
		if err != nil {
			slog.Info("manual cookie source yielded nothing", "source", src.Name(), "err", err)
			continue
		}
		if !set.Complete() {
			continue
		}
		slog.Info("using operator-supplied cookies", "source", src.Name())
		r.persist(set)
		return set, true
	}

	slog.Error("unable to obtain valid cookies")
	return nil, false
}

func (r *Refresher) probe(ctx context.Context, existing models.CookieSet) (models.CookieSet, bool) {
	if r.prober == nil || existing[models.CookieClearance] == "" {
		slog.Info("session probe skipped: no clearance token on file")
		return nil, false
	}

	token, err := r.prober.Probe(ctx, existing)
	if err == nil && token == "" {
		err = ErrNoSessionToken
	}
	if err != nil {
		slog.Warn("session probe failed", "err", err)
		return nil, false
	}

	set := existing.Merge(models.CookieSet{models.CookieSession: token})
	slog.Info("session token refreshed", "session_token", logging.Mask(token))
	r.persist(set)
	return set, true
}

func (r *Refresher) solve(ctx context.Context) (models.CookieSet, bool) {
	if r.solver == nil {
		return nil, false
	}

	slog.Info("attempting automated challenge solve", "url", r.landingURL, "timeout", r.solveTimeout)
	solved, err := r.solver.Solve(ctx, r.landingURL, r.solveTimeout)
	if err != nil || solved[models.CookieClearance] == "" {
		slog.Warn("automated challenge solve failed", "err", err)
		return nil, false
	}
	r.persist(solved)

	if set, ok := r.probe(ctx, solved); ok {
		return set, true
	}
	if solved.Complete() {
		return solved, true
	}
	return nil, false
}

func (r *Refresher) persist(set models.CookieSet) {
	if err := r.files.Save(set); err != nil {
		slog.Error("persist cookies", "err", err)
	}
}

// Bootstrap seeds the manager from a fresh cookie file, running the refresh
// chain only when the file is unusable.
func Bootstrap(ctx context.Context, m *Manager, files *FileStore) error {
	if snap, ok := files.Load(); ok {
		m.Adopt(snap.Cookies, snap.UpdatedAt)
		slog.Info("loaded cookies from file", "path", files.Path())
		return nil
	}
	_, err := m.EnsureValid(ctx)
	return err
}
