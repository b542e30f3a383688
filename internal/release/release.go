// Package release decides whether a new gateway resource version is needed
// and releases the right one to the requested stages.
package release

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kubot64/apigw-release/internal/definition"
	"github.com/kubot64/apigw-release/internal/gateway"
	"github.com/kubot64/apigw-release/internal/logging"
	"github.com/kubot64/apigw-release/internal/version"
)

// Fetcher reads the latest resource version of a gateway.
type Fetcher interface {
	LatestResourceVersion(ctx context.Context) (*gateway.ResourceVersion, error)
}

// Releaser creates resource versions and releases them.
type Releaser interface {
	CreateResourceVersion(ctx context.Context, version string) (gateway.ResourceVersion, error)
	Release(ctx context.Context, resourceVersionName string, stageNames []string) (gateway.ReleaseResult, error)
}

// DirtyTracker reports whether resources changed since the last resource
// version was created.
type DirtyTracker interface {
	IsDirty(ctx context.Context) (bool, error)
	MarkClean(ctx context.Context) error
}

var (
	errNoStages          = errors.New("at least one stage is required")
	errMissingLatestName = errors.New("latest resource version has no name")
)

// Plan is the outcome of comparing the declared and latest versions.
type Plan struct {
	CurrentVersion version.Version `json:"current_version"`
	LatestVersion  version.Version `json:"latest_version"`
	Changed        bool            `json:"changed"`
	Dirty          bool            `json:"dirty"`
	// CreateVersion is the version to create; empty means release
	// ResourceVersionName as is.
	CreateVersion       string   `json:"create_version,omitempty"`
	ResourceVersionName string   `json:"resource_version_name,omitempty"`
	StageNames          []string `json:"stage_names"`
}

// Creates reports whether applying the plan creates a resource version.
func (p Plan) Creates() bool {
	return p.CreateVersion != ""
}

// Result describes what Apply did.
type Result struct {
	Plan    Plan                     `json:"plan"`
	Created *gateway.ResourceVersion `json:"created,omitempty"`
	Release gateway.ReleaseResult    `json:"release"`
}

// Handler runs the create-and-release routine against injected collaborators.
type Handler struct {
	Fetcher  Fetcher
	Releaser Releaser
	Tracker  DirtyTracker
	Now      func() time.Time
	Logger   *slog.Logger
}

// Handle plans and applies a release.
func (h *Handler) Handle(ctx context.Context, def definition.Definition, stageNames []string) (Result, error) {
	plan, err := h.Plan(ctx, def, stageNames)
	if err != nil {
		return Result{}, err
	}

	return h.Apply(ctx, plan)
}

// Plan fetches the latest resource version and decides what to do.
func (h *Handler) Plan(ctx context.Context, def definition.Definition, stageNames []string) (Plan, error) {
	if len(stageNames) == 0 {
		return Plan{}, errNoStages
	}

	latest, err := h.Fetcher.LatestResourceVersion(ctx)
	if err != nil {
		return Plan{}, fmt.Errorf("fetch latest resource version: %w", err)
	}

	declared, err := version.FromDefinition(def)
	if err != nil {
		return Plan{}, fmt.Errorf("definition version: %w", err)
	}

	remote, err := version.FromResourceVersion(latest)
	if err != nil {
		return Plan{}, fmt.Errorf("latest resource version: %w", err)
	}

	current, latestVersion := version.Fix(declared, remote, h.now())
	h.logger().Info("comparing versions", "current", current.String(), "latest", latestVersion.String())

	plan := Plan{
		CurrentVersion: current,
		LatestVersion:  latestVersion,
		Changed:        !current.Equal(latestVersion),
		StageNames:     stageNames,
	}

	if plan.Changed {
		if current.LessThan(latestVersion) {
			h.logger().Warn("declared version is lower than the latest resource version",
				"current", current.String(), "latest", latestVersion.String())
		}
		plan.CreateVersion = current.String()

		return plan, nil
	}

	dirty, err := h.Tracker.IsDirty(ctx)
	if err != nil {
		return Plan{}, fmt.Errorf("check resource signature: %w", err)
	}
	plan.Dirty = dirty

	if dirty {
		plan.CreateVersion = current.String()

		return plan, nil
	}

	// Equal versions imply latest is set, so the record exists.
	if latest.Name == "" {
		return Plan{}, errMissingLatestName
	}
	plan.ResourceVersionName = latest.Name

	return plan, nil
}

// Apply creates the planned resource version, if any, and releases it.
func (h *Handler) Apply(ctx context.Context, plan Plan) (Result, error) {
	res := Result{Plan: plan}
	name := plan.ResourceVersionName

	if plan.Creates() {
		h.logger().Info("creating resource version", "version", plan.CreateVersion, "changed", plan.Changed, "dirty", plan.Dirty)

		created, err := h.Releaser.CreateResourceVersion(ctx, plan.CreateVersion)
		if err != nil {
			return Result{}, fmt.Errorf("create resource version %s: %w", plan.CreateVersion, err)
		}
		res.Created = &created
		name = created.Name

		if err := h.Tracker.MarkClean(ctx); err != nil {
			return Result{}, fmt.Errorf("mark resource signature clean: %w", err)
		}
	}

	h.logger().Info("releasing resource version", "name", name, "stages", plan.StageNames)

	released, err := h.Releaser.Release(ctx, name, plan.StageNames)
	if err != nil {
		return Result{}, fmt.Errorf("release %s: %w", name, err)
	}
	res.Release = released

	return res, nil
}

func (h *Handler) now() time.Time {
	if h.Now == nil {
		return time.Now()
	}

	return h.Now()
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return logging.Discard()
	}

	return h.Logger
}
