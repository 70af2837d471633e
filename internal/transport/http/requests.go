package http

import (
	"fmt"
	"time"

	"github.com/prmetrics/pr-history-service/internal/apperrors"
	"github.com/prmetrics/pr-history-service/internal/domain"
	"github.com/prmetrics/pr-history-service/internal/facts"
	"github.com/prmetrics/pr-history-service/internal/service"
)

type filterFactsRequest struct {
	TimeFrom time.Time `json:"time_from" validate:"required"`
	TimeTo   time.Time `json:"time_to" validate:"required,gtfield=TimeFrom"`

	Repositories []string `json:"repositories" validate:"required,min=1,dive,repo_name"`

	// Participants maps role names (author, reviewer, commenter,
	// commit_author, commit_committer, merger, releaser) to user identities.
	Participants map[string][]string `json:"participants"`

	Labels struct {
		Include []string `json:"include"`
		Exclude []string `json:"exclude"`
	} `json:"labels"`

	Issues struct {
		LabelsInclude []string `json:"labels_include"`
		LabelsExclude []string `json:"labels_exclude"`
		Epics         []string `json:"epics"`
		IssueTypes    []string `json:"issue_types"`
	} `json:"issues"`

	ExcludeInactive bool `json:"exclude_inactive"`

	ReleaseSettings map[string]releaseSettingRequest `json:"release_settings" validate:"omitempty,dive"`

	Blacklist []string `json:"blacklist"`
}

type releaseSettingRequest struct {
	Match         string `json:"match" validate:"omitempty,oneof=branch tag tag_or_branch"`
	BranchPattern string `json:"branch_pattern"`
	TagPattern    string `json:"tag_pattern"`
}

// toServiceRequest maps the wire shape onto the service request. Unknown
// participant role names are a client error, not something to guess around.
func (r filterFactsRequest) toServiceRequest() (service.FilterRequest, error) {
	participants := make(domain.Participants, len(r.Participants))

	for name, ids := range r.Participants {
		kind, ok := domain.ParseParticipationKind(name)
		if !ok {
			return service.FilterRequest{},
				fmt.Errorf("%w: unknown participant role '%s'", apperrors.ErrInvalidRequest, name)
		}

		participants[kind] = ids
	}

	settings := make(domain.ReleaseSettings, len(r.ReleaseSettings))
	for repo, setting := range r.ReleaseSettings {
		settings[repo] = domain.ReleaseMatchSetting{
			BranchPattern: setting.BranchPattern,
			TagPattern:    setting.TagPattern,
			Match:         domain.ReleaseMatch(setting.Match),
		}
	}

	return service.FilterRequest{
		TimeFrom:     r.TimeFrom,
		TimeTo:       r.TimeTo,
		Repositories: r.Repositories,
		Participants: participants,
		Labels:       domain.NewLabelFilter(r.Labels.Include, r.Labels.Exclude),
		IssueFilter: domain.NewIssueFilter(
			domain.NewLabelFilter(r.Issues.LabelsInclude, r.Issues.LabelsExclude),
			r.Issues.Epics,
			r.Issues.IssueTypes,
		),
		ExcludeInactive: r.ExcludeInactive,
		ReleaseSettings: settings,
		Blacklist:       r.Blacklist,
	}, nil
}

// factView is the wire shape of one fact record. Fallback fields surface as
// their resolved timestamps; absent stays null.
type factView struct {
	WorkItemID string `json:"work_item_id"`
	Repository string `json:"repository"`
	Number     int    `json:"number"`
	Title      string `json:"title"`

	Created                     *time.Time `json:"created"`
	WorkBegan                   *time.Time `json:"work_began"`
	FirstCommit                 *time.Time `json:"first_commit"`
	LastCommitBeforeFirstReview *time.Time `json:"last_commit_before_first_review"`
	LastCommit                  *time.Time `json:"last_commit"`
	FirstCommentOnFirstReview   *time.Time `json:"first_comment_on_first_review"`
	FirstReviewRequest          *time.Time `json:"first_review_request"`
	LastReview                  *time.Time `json:"last_review"`
	Approved                    *time.Time `json:"approved"`
	Merged                      *time.Time `json:"merged"`
	Released                    *time.Time `json:"released"`
	Closed                      *time.Time `json:"closed"`

	ChangeSize       int  `json:"change_size"`
	ForcePushDropped bool `json:"force_push_dropped"`
}

type filterFactsResponse struct {
	Facts []factView `json:"facts"`
}

func newFilterFactsResponse(result *service.FilterResult) filterFactsResponse {
	views := make([]factView, 0, len(result.Facts))

	for _, record := range result.Facts {
		views = append(views, newFactView(record, result))
	}

	return filterFactsResponse{Facts: views}
}

func newFactView(record facts.Facts, result *service.FilterResult) factView {
	item := result.Snapshot.WorkItems[record.WorkItemID]

	return factView{
		WorkItemID:                  record.WorkItemID,
		Repository:                  item.Repository,
		Number:                      item.Number,
		Title:                       item.Title,
		Created:                     record.Created.Best(),
		WorkBegan:                   record.WorkBegan().Best(),
		FirstCommit:                 record.FirstCommit.Best(),
		LastCommitBeforeFirstReview: record.LastCommitBeforeFirstReview.Best(),
		LastCommit:                  record.LastCommit.Best(),
		FirstCommentOnFirstReview:   record.FirstCommentOnFirstReview.Best(),
		FirstReviewRequest:          record.FirstReviewRequest.Best(),
		LastReview:                  record.LastReview.Best(),
		Approved:                    record.Approved.Best(),
		Merged:                      record.Merged.Best(),
		Released:                    record.Released.Best(),
		Closed:                      record.Closed.Best(),
		ChangeSize:                  record.ChangeSize,
		ForcePushDropped:            record.ForcePushDropped,
	}
}
