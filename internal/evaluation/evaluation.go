// Package evaluation decides whether a feature is enabled for a context, the same way the SDKs do.
//
// It is used by the playground and by the frontend API, which evaluate on the server on behalf of
// callers that cannot run the strategies themselves.
package evaluation

import (
	"hash/fnv"
	"math/rand"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/flagpole-io/flagpole/internal/model"
)

// Stickiness values for the flexibleRollout strategy that are not context field names.
const (
	StickinessDefault = "default"
	StickinessRandom  = "random"
)

// StrategyResult is the outcome of one strategy.
type StrategyResult struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// FeatureResult is the outcome of evaluating one feature.
type FeatureResult struct {
	Name                          string           `json:"name"`
	Project                       string           `json:"projectId"`
	IsEnabled                     bool             `json:"isEnabled"`
	IsEnabledInCurrentEnvironment bool             `json:"isEnabledInCurrentEnvironment"`
	Strategies                    []StrategyResult `json:"strategies"`
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithHostname sets the hostname used by the applicationHostname strategy when the context has no
// "hostname" property. It defaults to the host's name.
func WithHostname(hostname string) Option {
	return func(e *Evaluator) { e.hostname = hostname }
}

// WithClock sets the time source for currentTime constraints.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

// WithRandom sets the source of the 1-100 value used by random rollouts.
func WithRandom(random func() int) Option {
	return func(e *Evaluator) { e.random = random }
}

// Evaluator evaluates features. It is safe for concurrent use.
type Evaluator struct {
	hostname string
	now      func() time.Time
	random   func() int
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(options ...Option) *Evaluator {
	e := &Evaluator{
		now:    time.Now,
		random: func() int { return rand.Intn(100) + 1 }, //nolint:gosec
	}
	if hostname, err := os.Hostname(); err == nil {
		e.hostname = hostname
	}
	for _, o := range options {
		o(e)
	}
	return e
}

// Evaluate evaluates a feature. The segments map must contain every segment its strategies reference;
// a strategy that references a missing segment is not enabled.
func (e *Evaluator) Evaluate(f model.ClientFeature, segments map[int64]model.Segment, ctx Context) FeatureResult {
	result := FeatureResult{
		Name:       f.Name,
		Project:    f.Project,
		Strategies: make([]StrategyResult, 0, len(f.Strategies)),
	}
	anyEnabled := len(f.Strategies) == 0
	for _, s := range f.Strategies {
		enabled := e.strategyEnabled(s, segments, ctx)
		result.Strategies = append(result.Strategies, StrategyResult{ID: s.ID, Name: s.Name, Enabled: enabled})
		anyEnabled = anyEnabled || enabled
	}
	result.IsEnabledInCurrentEnvironment = f.Enabled
	result.IsEnabled = f.Enabled && anyEnabled
	return result
}

// IsEnabled is a shortcut for Evaluate(...).IsEnabled.
func (e *Evaluator) IsEnabled(f model.ClientFeature, segments map[int64]model.Segment, ctx Context) bool {
	return e.Evaluate(f, segments, ctx).IsEnabled
}

func (e *Evaluator) strategyEnabled(s model.ClientStrategy, segments map[int64]model.Segment, ctx Context) bool {
	for _, id := range s.Segments {
		seg, ok := segments[id]
		if !ok || !e.constraintsMatch(seg.Constraints, ctx) {
			return false
		}
	}
	if !e.constraintsMatch(s.Constraints, ctx) {
		return false
	}
	switch s.Name {
	case model.StrategyDefault:
		return true
	case model.StrategyUserWithID:
		return ctx.UserID != "" && containsString(splitList(s.Parameters["userIds"]), ctx.UserID)
	case model.StrategyFlexibleRollout:
		return e.flexibleRollout(s.Parameters, ctx)
	case model.StrategyRemoteAddress:
		return remoteAddressMatches(splitList(s.Parameters["IPs"]), ctx.RemoteAddress)
	case model.StrategyApplicationHostname:
		return e.hostnameMatches(splitList(s.Parameters["hostNames"]), ctx)
	}
	// custom strategies can only be evaluated by the SDKs that implement them
	return false
}

func (e *Evaluator) flexibleRollout(params map[string]string, ctx Context) bool {
	rollout, err := strconv.Atoi(strings.TrimSpace(params["rollout"]))
	if err != nil || rollout <= 0 {
		return false
	}
	var value int
	switch stickiness := params["stickiness"]; stickiness {
	case "", StickinessDefault:
		id := ctx.UserID
		if id == "" {
			id = ctx.SessionID
		}
		if id == "" {
			value = e.random()
		} else {
			value = NormalizedValue(id, params["groupId"])
		}
	case StickinessRandom:
		value = e.random()
	default:
		id, ok := ctx.Field(stickiness)
		if !ok {
			return false
		}
		value = NormalizedValue(id, params["groupId"])
	}
	return value <= rollout
}

// NormalizedValue maps an identifier and group to a stable number from 1 to 100.
func NormalizedValue(id, groupID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(groupID + ":" + id))
	return int(h.Sum32()%100) + 1
}

func remoteAddressMatches(ips []string, address string) bool {
	remote := net.ParseIP(address)
	if remote == nil {
		return false
	}
	for _, ip := range ips {
		if strings.Contains(ip, "/") {
			if _, network, err := net.ParseCIDR(ip); err == nil && network.Contains(remote) {
				return true
			}
			continue
		}
		if parsed := net.ParseIP(ip); parsed != nil && parsed.Equal(remote) {
			return true
		}
	}
	return false
}

func (e *Evaluator) hostnameMatches(hostnames []string, ctx Context) bool {
	hostname := ctx.Properties["hostname"]
	if hostname == "" {
		hostname = e.hostname
	}
	if hostname == "" {
		return false
	}
	for _, h := range hostnames {
		if strings.EqualFold(h, hostname) {
			return true
		}
	}
	return false
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	ret := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			ret = append(ret, p)
		}
	}
	return ret
}
