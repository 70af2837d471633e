package domain

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sort"
	"strings"
)

// LabelFilter selects work items that must / must not carry certain labels.
// Include entries may be comma-joined AND-groups ("api,backend" matches items
// carrying both). Matching is case-insensitive; the sets are stored lowercase.
type LabelFilter struct {
	Include map[string]struct{}
	Exclude map[string]struct{}
}

// NewLabelFilter builds a LabelFilter from raw include/exclude lists.
func NewLabelFilter(include, exclude []string) LabelFilter {
	return LabelFilter{
		Include: lowerSet(include),
		Exclude: lowerSet(exclude),
	}
}

// EmptyLabelFilter imposes no label restriction.
func EmptyLabelFilter() LabelFilter {
	return LabelFilter{Include: map[string]struct{}{}, Exclude: map[string]struct{}{}}
}

// IsEmpty reports whether the filter is an identity.
func (f LabelFilter) IsEmpty() bool {
	return len(f.Include) == 0 && len(f.Exclude) == 0
}

func (f LabelFilter) String() string {
	return fmt.Sprintf("[%v, %v]", sortedKeys(f.Include), sortedKeys(f.Exclude))
}

// CompatibleWith reports whether items filtered by f can serve a request
// filtered by other: f's include set must be a superset of other's and f's
// exclude set a subset of other's.
func (f LabelFilter) CompatibleWith(other LabelFilter) bool {
	if len(f.Include) > 0 {
		if len(other.Include) == 0 || !isSuperset(f.Include, other.Include) {
			return false
		}
	}

	if len(f.Exclude) > 0 {
		if len(other.Exclude) == 0 || !isSuperset(other.Exclude, f.Exclude) {
			return false
		}
	}

	return true
}

// Singletons splits the include set into single labels and AND-groups.
// The second return value holds the groups, each already split on commas.
func (f LabelFilter) Singletons() (map[string]struct{}, [][]string) {
	singles := make(map[string]struct{}, len(f.Include))

	var groups [][]string

	for label := range f.Include {
		if strings.Contains(label, ",") {
			group := strings.Split(label, ",")
			for i := range group {
				group[i] = strings.TrimSpace(group[i])
			}

			groups = append(groups, group)

			continue
		}

		singles[label] = struct{}{}
	}

	return singles, groups
}

// IssueFilter selects work items by the issue-tracker issues linked to them.
type IssueFilter struct {
	Labels     LabelFilter
	Epics      map[string]struct{}
	IssueTypes map[string]struct{}
}

// NewIssueFilter builds an IssueFilter from raw lists; epics and issue types
// are matched case-insensitively.
func NewIssueFilter(labels LabelFilter, epics, issueTypes []string) IssueFilter {
	return IssueFilter{
		Labels:     labels,
		Epics:      lowerSet(epics),
		IssueTypes: lowerSet(issueTypes),
	}
}

// EmptyIssueFilter imposes no issue-tracker restriction.
func EmptyIssueFilter() IssueFilter {
	return IssueFilter{
		Labels:     EmptyLabelFilter(),
		Epics:      map[string]struct{}{},
		IssueTypes: map[string]struct{}{},
	}
}

// IsEmpty reports whether the filter is an identity.
func (f IssueFilter) IsEmpty() bool {
	return f.Labels.IsEmpty() && len(f.Epics) == 0 && len(f.IssueTypes) == 0
}

func (f IssueFilter) String() string {
	return fmt.Sprintf("[%s, %v, %v]", f.Labels, sortedKeys(f.Epics), sortedKeys(f.IssueTypes))
}

// CompatibleWith reports whether items filtered by f can serve a request
// filtered by other, per-component superset checks as in LabelFilter.
func (f IssueFilter) CompatibleWith(other IssueFilter) bool {
	if !f.Labels.CompatibleWith(other.Labels) {
		return false
	}

	if len(f.Epics) > 0 {
		if len(other.Epics) == 0 || !isSuperset(f.Epics, other.Epics) {
			return false
		}
	}

	if len(f.IssueTypes) > 0 {
		if len(other.IssueTypes) == 0 || !isSuperset(f.IssueTypes, other.IssueTypes) {
			return false
		}
	}

	return true
}

// labelFilterWire is the wire form of a LabelFilter; gob cannot encode the
// empty-struct set values directly.
type labelFilterWire struct {
	Include []string
	Exclude []string
}

func (f LabelFilter) GobEncode() ([]byte, error) {
	wire := labelFilterWire{
		Include: sortedKeys(f.Include),
		Exclude: sortedKeys(f.Exclude),
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(wire); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func (f *LabelFilter) GobDecode(data []byte) error {
	var wire labelFilterWire
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&wire); err != nil {
		return err
	}

	*f = NewLabelFilter(wire.Include, wire.Exclude)

	return nil
}

type issueFilterWire struct {
	Labels     LabelFilter
	Epics      []string
	IssueTypes []string
}

func (f IssueFilter) GobEncode() ([]byte, error) {
	wire := issueFilterWire{
		Labels:     f.Labels,
		Epics:      sortedKeys(f.Epics),
		IssueTypes: sortedKeys(f.IssueTypes),
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(wire); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func (f *IssueFilter) GobDecode(data []byte) error {
	var wire issueFilterWire
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&wire); err != nil {
		return err
	}

	*f = NewIssueFilter(wire.Labels, wire.Epics, wire.IssueTypes)

	return nil
}

func lowerSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[strings.ToLower(strings.TrimSpace(v))] = struct{}{}
	}

	delete(set, "")

	return set
}

func isSuperset(super, sub map[string]struct{}) bool {
	for v := range sub {
		if _, ok := super[v]; !ok {
			return false
		}
	}

	return true
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// CanonicalString renders the filter deterministically, for cache keys.
func (f LabelFilter) CanonicalString() string {
	return strings.Join(sortedKeys(f.Include), ",") + "|" + strings.Join(sortedKeys(f.Exclude), ",")
}

// CanonicalString renders the filter deterministically, for cache keys.
func (f IssueFilter) CanonicalString() string {
	return f.Labels.CanonicalString() + "|" +
		strings.Join(sortedKeys(f.Epics), ",") + "|" +
		strings.Join(sortedKeys(f.IssueTypes), ",")
}
