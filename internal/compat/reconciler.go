// Package compat brings clips to the exact composition format before they are
// concatenated. A clip that already conforms is left untouched; any other
// clip is re-encoded beside itself and atomically swapped into place.
package compat

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"reelsmith/internal/fileutil"
	"reelsmith/internal/logging"
	"reelsmith/internal/media"
	"reelsmith/internal/services"
)

// MediaTool is the slice of the media adapter the reconciler needs.
type MediaTool interface {
	Probe(ctx context.Context, path string) (media.Spec, error)
	Transcode(ctx context.Context, in, out string, target media.Target, source media.Spec) error
}

// Result describes what Reconcile did to one file.
type Result struct {
	Path       string
	Changed    bool
	Mismatches []string
	Before     media.Spec
	After      media.Spec
}

// Reconciler normalizes files to a single target format.
type Reconciler struct {
	tool    MediaTool
	target  media.Target
	workers int
	logger  *slog.Logger
}

// NewReconciler builds a reconciler running at most workers transcodes at a
// time.
func NewReconciler(tool MediaTool, target media.Target, workers int, logger *slog.Logger) *Reconciler {
	if workers <= 0 {
		workers = 1
	}
	return &Reconciler{
		tool:    tool,
		target:  target,
		workers: workers,
		logger:  logging.NewComponentLogger(logger, "compat"),
	}
}

// TempPath is where a re-encode of path is written before it replaces path.
func TempPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".reconcile.tmp.mp4"
}

// Reconcile probes path and, when any property differs from the target,
// re-encodes it in place. A conforming file is not rewritten.
func (r *Reconciler) Reconcile(ctx context.Context, path string) (Result, error) {
	before, err := r.tool.Probe(ctx, path)
	if err != nil {
		return Result{Path: path}, services.Wrap(services.ErrExternalTool, "", "reconcile", "probe clip", err)
	}
	result := Result{Path: path, Before: before, After: before, Mismatches: r.target.Mismatches(before)}
	if len(result.Mismatches) == 0 {
		r.logger.Debug("clip already conforms", logging.String("path", path))
		return result, nil
	}

	tmp := TempPath(path)
	if err := r.tool.Transcode(ctx, path, tmp, r.target, before); err != nil {
		_ = fileutil.RemoveFiles(tmp)
		return result, services.Wrap(services.ErrExternalTool, "", "reconcile", "re-encode clip", err)
	}
	after, err := r.tool.Probe(ctx, tmp)
	if err != nil {
		_ = fileutil.RemoveFiles(tmp)
		return result, services.Wrap(services.ErrExternalTool, "", "reconcile", "probe re-encoded clip", err)
	}
	if remaining := r.target.Mismatches(after); len(remaining) > 0 {
		_ = fileutil.RemoveFiles(tmp)
		return result, services.Errorf(services.ErrExternalTool, "", "reconcile",
			"re-encoded clip still differs from target: %s", strings.Join(remaining, "; "))
	}
	if err := fileutil.AtomicReplace(tmp, path); err != nil {
		return result, services.Wrap(services.ErrTransient, "", "reconcile", "swap re-encoded clip", err)
	}
	result.Changed = true
	result.After = after
	r.logger.Info("clip reconciled",
		logging.String("path", path),
		logging.String("mismatches", strings.Join(result.Mismatches, "; ")),
	)
	return result, nil
}

// ReconcileAll reconciles every path on the bounded worker pool. Results are
// returned in input order; the first failure cancels the remaining work.
func (r *Reconciler) ReconcileAll(ctx context.Context, paths []string) ([]Result, error) {
	results := make([]Result, len(paths))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(r.workers)
	for i, path := range paths {
		group.Go(func() error {
			res, err := r.Reconcile(groupCtx, path)
			results[i] = res
			return err
		})
	}
	if err := group.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
