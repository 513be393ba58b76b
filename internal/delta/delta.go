// Package delta computes what SDKs need to change to go from one revision of the flag configuration
// to the current one.
package delta

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"

	"github.com/flagpole-io/flagpole/internal/flags"
	"github.com/flagpole-io/flagpole/internal/metrics"
	"github.com/flagpole-io/flagpole/internal/model"
	"github.com/flagpole-io/flagpole/internal/store"
)

// Result is the outcome of GetDelta.
type Result struct {
	// NotModified is true if the client is already at the current revision. No other field is set.
	NotModified bool
	// Full is true if Updated is the complete set of features rather than a set of changes.
	Full     bool
	Revision int64
	Updated  []model.ClientFeature
	Removed  []model.RemovedFeature
}

// Payload is the JSON representation of a Result.
type Payload struct {
	Updated    []model.ClientFeature  `json:"updated"`
	Removed    []model.RemovedFeature `json:"removed"`
	RevisionID int64                  `json:"revisionId"`
}

// Payload returns the JSON representation of the result.
func (r Result) Payload() Payload {
	return Payload{Updated: r.Updated, Removed: r.Removed, RevisionID: r.Revision}
}

// computeTimeout bounds a shared computation. It does not end with any one caller's context.
const computeTimeout = 30 * time.Second

// Service computes deltas. Concurrent requests for the same scope and cursor share one computation.
type Service struct {
	store   store.Store
	group   singleflight.Group
	loggers ldlog.Loggers
}

// NewService creates a Service.
func NewService(s store.Store, loggers ldlog.Loggers) *Service {
	return &Service{store: s, loggers: loggers}
}

// GetDelta returns the changes between clientRevision and the current revision for the features in
// scope. A nil clientRevision, or one the event log can no longer answer for, produces a full result.
func (s *Service) GetDelta(ctx context.Context, scope flags.Scope, clientRevision *int64) (Result, error) {
	flight := s.group.DoChan(flightKey(scope, clientRevision), func() (interface{}, error) {
		computeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), computeTimeout)
		defer cancel()
		return s.compute(computeCtx, scope, clientRevision)
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case res = <-flight:
	}
	if res.Err != nil {
		return Result{}, res.Err
	}
	result := res.Val.(Result)
	kind := metrics.DeltaIncremental
	switch {
	case result.NotModified:
		kind = metrics.DeltaNotModified
	case result.Full:
		kind = metrics.DeltaFull
	}
	metrics.RecordDelta(ctx, scope.Environment, kind)
	return result, nil
}

// CurrentRevision returns the revision of the latest client-visible change.
func (s *Service) CurrentRevision(ctx context.Context) (int64, error) {
	var current int64
	err := s.store.View(ctx, func(tx store.Tx) (err error) {
		current, err = tx.CurrentRevision(ctx)
		return
	})
	return current, err
}

// Snapshot reads every feature in scope, with the segments they reference, at the current revision.
func (s *Service) Snapshot(ctx context.Context, scope flags.Scope) (flags.Snapshot, error) {
	var snapshot flags.Snapshot
	err := s.store.View(ctx, func(tx store.Tx) (err error) {
		snapshot, err = flags.Load(ctx, tx, scope)
		return
	})
	return snapshot, err
}

func flightKey(scope flags.Scope, clientRevision *int64) string {
	projects := append([]string(nil), scope.Projects...)
	sort.Strings(projects)
	rev := "none"
	if clientRevision != nil {
		rev = fmt.Sprint(*clientRevision)
	}
	return scope.Environment + "|" + strings.Join(projects, ",") + "|" + rev
}

func (s *Service) compute(ctx context.Context, scope flags.Scope, clientRevision *int64) (Result, error) {
	var result Result
	err := s.store.View(ctx, func(tx store.Tx) error {
		current, err := tx.CurrentRevision(ctx)
		if err != nil {
			return err
		}
		if clientRevision != nil && *clientRevision == current {
			result = Result{NotModified: true, Revision: current}
			return nil
		}
		floor, err := tx.HistoryFloor(ctx)
		if err != nil {
			return err
		}
		if clientRevision == nil || *clientRevision > current || *clientRevision < floor {
			if clientRevision != nil {
				s.loggers.Debugf("Client revision %d is outside the retained history [%d, %d], sending all features",
					*clientRevision, floor, current)
			}
			features, err := resolveInlined(ctx, tx, scope, nil)
			if err != nil {
				return err
			}
			result = Result{Full: true, Revision: current, Updated: features, Removed: []model.RemovedFeature{}}
			return nil
		}
		result, err = incremental(ctx, tx, scope, *clientRevision, current)
		return err
	})
	return result, err
}

func incremental(ctx context.Context, tx store.Tx, scope flags.Scope, after, current int64) (Result, error) {
	events, err := tx.EventsSinceRevision(ctx, after)
	if err != nil {
		return Result{}, err
	}
	// the first relevant event seen for each feature
	first := make(map[string]model.EventType)
	var affected []string
	touch := func(name string, t model.EventType) {
		if _, ok := first[name]; !ok {
			first[name] = t
			affected = append(affected, name)
		}
	}
	for _, e := range events {
		if e.Revision > current {
			break
		}
		if e.Environment != "" && e.Environment != scope.Environment {
			continue
		}
		switch {
		case e.Type.IsFeatureEvent():
			if e.FeatureName == "" || (e.Project != "" && !scope.IncludesProject(e.Project)) {
				continue
			}
			touch(e.FeatureName, e.Type)
		case e.SegmentID != nil:
			segmentID := *e.SegmentID
			strategies, err := tx.ListFeatureStrategies(ctx, store.StrategyQuery{
				Environment: scope.Environment,
				SegmentID:   &segmentID,
			})
			if err != nil {
				return Result{}, err
			}
			for _, st := range strategies {
				if scope.IncludesProject(st.ProjectID) {
					touch(st.FeatureName, e.Type)
				}
			}
		}
	}

	result := Result{Revision: current, Updated: []model.ClientFeature{}, Removed: []model.RemovedFeature{}}
	if len(affected) == 0 {
		return result, nil
	}
	present, err := resolveInlined(ctx, tx, scope, affected)
	if err != nil {
		return Result{}, err
	}
	result.Updated = present
	found := make(map[string]bool, len(present))
	for _, f := range present {
		found[f.Name] = true
	}
	sort.Strings(affected)
	for _, name := range affected {
		if found[name] {
			continue
		}
		switch first[name] {
		case model.EventFeatureCreated, model.EventFeatureRevived:
			// absent at the cursor, so the client has nothing to remove
			continue
		}
		result.Removed = append(result.Removed, model.RemovedFeature{Name: name})
	}
	return result, nil
}

// resolveInlined resolves features with the constraints of their segments inlined.
func resolveInlined(ctx context.Context, tx store.Tx, scope flags.Scope, names []string) ([]model.ClientFeature, error) {
	features, err := flags.Resolve(ctx, tx, scope, names)
	if err != nil {
		return nil, err
	}
	segments, err := flags.ReferencedSegments(ctx, tx, features)
	if err != nil {
		return nil, err
	}
	return flags.InlineSegments(features, segments), nil
}

// ParseRevision reads a revision from an If-None-Match header value. Quotes and a W/ prefix are
// tolerated. It returns nil if the value is empty or not a revision, which callers treat as having
// no cursor.
func ParseRevision(header string) *int64 {
	v := strings.TrimSpace(header)
	v = strings.TrimPrefix(v, "W/")
	v = strings.Trim(v, `"`)
	if v == "" {
		return nil
	}
	rev, err := strconv.ParseInt(v, 10, 64)
	if err != nil || rev < 0 {
		return nil
	}
	return &rev
}

// ETag formats a revision as an entity tag.
func ETag(revision int64) string {
	return `"` + strconv.FormatInt(revision, 10) + `"`
}
