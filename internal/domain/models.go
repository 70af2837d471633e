package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// WorkItem is a pull request as stored in the metadata DB.
// NodeID is the stable identity; every sub-entity table is keyed by it.
type WorkItem struct {
	NodeID       string     `db:"node_id"`
	Repository   string     `db:"repository_full_name"`
	Number       int        `db:"number"`
	Title        string     `db:"title"`
	AuthorID     string     `db:"author_id"`
	AuthorLogin  string     `db:"author_login"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
	ClosedAt     *time.Time `db:"closed_at"`
	MergedAt     *time.Time `db:"merged_at"`
	MergedBy     string     `db:"merged_by"`
	Additions    int        `db:"additions"`
	Deletions    int        `db:"deletions"`
	ChangedFiles int        `db:"changed_files"`
	Hidden       bool       `db:"hidden"`
}

type ReviewState string

const (
	ReviewStateApproved         ReviewState = "APPROVED"
	ReviewStateChangesRequested ReviewState = "CHANGES_REQUESTED"
	ReviewStateCommented        ReviewState = "COMMENTED"
)

// Review is one submitted review row, keyed by (WorkItemID, NodeID).
type Review struct {
	WorkItemID  string      `db:"work_item_id"`
	NodeID      string      `db:"node_id"`
	SubmittedAt *time.Time  `db:"submitted_at"`
	State       ReviewState `db:"state"`
	UserID      string      `db:"user_id"`
	UserLogin   string      `db:"user_login"`
}

type ReviewComment struct {
	WorkItemID string     `db:"work_item_id"`
	NodeID     string     `db:"node_id"`
	CreatedAt  *time.Time `db:"created_at"`
	UserID     string     `db:"user_id"`
}

type ReviewRequest struct {
	WorkItemID string     `db:"work_item_id"`
	NodeID     string     `db:"node_id"`
	CreatedAt  *time.Time `db:"created_at"`
}

type IssueComment struct {
	WorkItemID string     `db:"work_item_id"`
	NodeID     string     `db:"node_id"`
	CreatedAt  *time.Time `db:"created_at"`
	UserID     string     `db:"user_id"`
	UserLogin  string     `db:"user_login"`
}

type Commit struct {
	WorkItemID     string     `db:"work_item_id"`
	NodeID         string     `db:"node_id"`
	AuthoredAt     *time.Time `db:"authored_at"`
	CommittedAt    *time.Time `db:"committed_at"`
	AuthorLogin    string     `db:"author_login"`
	CommitterLogin string     `db:"committer_login"`
}

// Release is the single release row matched to a merged work item
// by the repository's release matching policy.
type Release struct {
	WorkItemID  string     `db:"work_item_id"`
	NodeID      string     `db:"node_id"`
	PublishedAt *time.Time `db:"published_at"`
	URL         string     `db:"url"`
	Author      string     `db:"author"`
}

type WorkItemLabel struct {
	WorkItemID string `db:"work_item_id"`
	Name       string `db:"name"`
}

// IssueLink ties a work item to an issue-tracker issue.
type IssueLink struct {
	WorkItemID string `db:"work_item_id"`
	IssueKey   string `db:"issue_key"`
	EpicKey    string `db:"epic_key"`
	IssueType  string `db:"issue_type"`
	Labels     string `db:"labels"` // comma-separated issue labels/components
}

// ParticipationKind is a role a user can play in a work item's lifecycle.
type ParticipationKind int

const (
	ParticipationKindAuthor ParticipationKind = iota + 1
	ParticipationKindReviewer
	ParticipationKindCommenter
	ParticipationKindCommitAuthor
	ParticipationKindCommitCommitter
	ParticipationKindMerger
	ParticipationKindReleaser
)

func (k ParticipationKind) String() string {
	switch k {
	case ParticipationKindAuthor:
		return "author"
	case ParticipationKindReviewer:
		return "reviewer"
	case ParticipationKindCommenter:
		return "commenter"
	case ParticipationKindCommitAuthor:
		return "commit_author"
	case ParticipationKindCommitCommitter:
		return "commit_committer"
	case ParticipationKindMerger:
		return "merger"
	case ParticipationKindReleaser:
		return "releaser"
	}

	return fmt.Sprintf("participation_kind(%d)", int(k))
}

// ParseParticipationKind is the inverse of String. Unknown names return
// zero and false.
func ParseParticipationKind(name string) (ParticipationKind, bool) {
	for k := ParticipationKindAuthor; k <= ParticipationKindReleaser; k++ {
		if k.String() == name {
			return k, true
		}
	}

	return 0, false
}

// Participants maps a role to the user identities requested for it.
// An empty map means "keep everything".
type Participants map[ParticipationKind][]string

// CanonicalString renders the participants deterministically, for cache keys.
func (p Participants) CanonicalString() string {
	kinds := make([]int, 0, len(p))
	for k := range p {
		kinds = append(kinds, int(k))
	}

	sort.Ints(kinds)

	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		ids := append([]string(nil), p[ParticipationKind(k)]...)
		sort.Strings(ids)
		parts = append(parts, ParticipationKind(k).String()+":"+strings.Join(ids, ","))
	}

	return strings.Join(parts, ";")
}

// CompatibleWith reports whether a snapshot built for p can serve a request
// filtered by other. An empty p imposed no participant restriction and serves
// anything; otherwise every role requested by other must be a subset of p's.
func (p Participants) CompatibleWith(other Participants) bool {
	if len(p) == 0 {
		return true
	}

	if len(other) == 0 {
		return false
	}

	for kind, otherIDs := range other {
		ids, ok := p[kind]
		if !ok {
			return false
		}

		cached := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			cached[id] = struct{}{}
		}

		for _, id := range otherIDs {
			if _, ok := cached[id]; !ok {
				return false
			}
		}
	}

	return true
}

type ReleaseMatch string

const (
	ReleaseMatchBranch      ReleaseMatch = "branch"
	ReleaseMatchTag         ReleaseMatch = "tag"
	ReleaseMatchTagOrBranch ReleaseMatch = "tag_or_branch"
)

// ReleaseMatchSetting is the per-repository release matching policy.
// The core does not interpret it beyond passing it to the release query
// and mixing it into cache keys.
type ReleaseMatchSetting struct {
	BranchPattern string       `yaml:"branch_pattern"`
	TagPattern    string       `yaml:"tag_pattern"`
	Match         ReleaseMatch `yaml:"match"`
}

func (s ReleaseMatchSetting) String() string {
	return fmt.Sprintf("ReleaseMatchSetting(branch=%s, tag=%s, match=%s)",
		s.BranchPattern, s.TagPattern, s.Match)
}

// ReleaseSettings maps repository full names to their matching policy.
type ReleaseSettings map[string]ReleaseMatchSetting

// CanonicalString renders the settings deterministically, for cache keys.
func (s ReleaseSettings) CanonicalString() string {
	repos := make([]string, 0, len(s))
	for repo := range s {
		repos = append(repos, repo)
	}

	sort.Strings(repos)

	parts := make([]string, 0, len(repos))
	for _, repo := range repos {
		parts = append(parts, repo+"="+s[repo].String())
	}

	return strings.Join(parts, ";")
}
