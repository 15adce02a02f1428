package migrate

import (
	"github.com/datagovtools/porter/internal/core"
	"strings"
)

// Decision is the classification of a single resource.
type Decision string

const (
	// DecisionSkip marks a resource that already resides in the object store.
	DecisionSkip Decision = "skip"
	// DecisionExclude marks a resource whose format the policy excludes.
	DecisionExclude Decision = "exclude"
	// DecisionMigrate marks a resource that must be migrated.
	DecisionMigrate Decision = "migrate"
)

// Classifier decides what to do with each resource of a run.
type Classifier struct {
	policy  *ExclusionPolicy
	tracker *Tracker
	force   bool
}

// NewClassifier constructs a Classifier.
//
// Parameters:
//   - policy: The exclusion policy for the run.
//   - tracker: The tracker that receives the formats observed.
//   - force: When true, resources already in the object store are migrated
//     again instead of skipped.
func NewClassifier(policy *ExclusionPolicy, tracker *Tracker, force bool) *Classifier {
	return &Classifier{policy: policy, tracker: tracker, force: force}
}

// Classify returns the decision for a resource together with its lowercased
// format. The format is recorded as seen before any decision is made, so the
// run report covers every resource visited regardless of its decision.
//
// Decision order, first match wins:
//  1. The resource is already in the object store and force is off: skip.
//  2. The resource's format is excluded by the policy: exclude.
//  3. Otherwise: migrate.
func (c *Classifier) Classify(res *core.Resource) (Decision, string) {
	format := strings.ToLower(res.Format)
	c.tracker.RecordExtension(format)

	if !c.force && res.URLType == core.URLTypeObjectStore {
		return DecisionSkip, format
	}
	if c.policy.IsExcluded(format) {
		return DecisionExclude, format
	}
	return DecisionMigrate, format
}
