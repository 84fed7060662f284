// Package core defines the essential interfaces and data structures that form the
// backbone of the application. These components are designed to be abstract,
// allowing for flexible and decoupled implementations of the application's logic.
package core

import (
	"fmt"
	"slices"

	"github.com/google/go-github/v73/github"
)

// IngestPolicy decides which webhook events may create commit jobs. Automatic
// test runs are only started for allow-listed repositories and authors.
type IngestPolicy struct {
	TrustedAuthors []string
	Repos          []string
	DefaultBranch  string
}

func (p IngestPolicy) trusted(login string) bool {
	return login != "" && slices.Contains(p.TrustedAuthors, login)
}

func (p IngestPolicy) allowedRepo(fullName string) bool {
	return slices.Contains(p.Repos, fullName)
}

// CommitJobFromPush transforms a raw GitHub PushEvent into a new CommitJob. It
// acts as an anti-corruption layer: the returned error explains why the event
// is ignored (untrusted committer, repository not allowed, non-default branch).
func CommitJobFromPush(event *github.PushEvent, policy IngestPolicy) (*CommitJob, error) {
	repo := event.GetRepo()
	if repo == nil || repo.GetName() == "" || repo.GetFullName() == "" {
		return nil, fmt.Errorf("repository name is missing from the event")
	}

	committer := event.GetHeadCommit().GetCommitter().GetLogin()
	if !policy.trusted(committer) {
		return nil, fmt.Errorf("untrusted committer %q", committer)
	}
	if !policy.allowedRepo(repo.GetFullName()) {
		return nil, fmt.Errorf("repository %s is not allowed", repo.GetFullName())
	}

	branch := repo.GetDefaultBranch()
	if branch == "" {
		branch = policy.DefaultBranch
	}
	if branch == "" {
		branch = "master"
	}
	if event.GetRef() != "refs/heads/"+branch {
		return nil, fmt.Errorf("ref %s is not the default branch", event.GetRef())
	}
	if event.GetDeleted() {
		return nil, fmt.Errorf("branch deletion")
	}

	if event.GetAfter() == "" {
		return nil, fmt.Errorf("commit hash is missing from the event")
	}
	if repo.GetCloneURL() == "" {
		return nil, fmt.Errorf("clone URL is missing from the event")
	}

	return &CommitJob{
		Repo:     repo.GetName(),
		RepoFull: repo.GetFullName(),
		CloneURL: repo.GetCloneURL(),
		SHA:      event.GetAfter(),
		Author:   committer,
		Runs:     []Run{},
	}, nil
}

// CommitJobFromPullRequest transforms a raw GitHub PullRequestEvent into a new
// CommitJob for the pull request head. Only "opened" and "synchronize" actions
// are accepted, and both the sender and the pull request author must be trusted.
func CommitJobFromPullRequest(event *github.PullRequestEvent, policy IngestPolicy) (*CommitJob, error) {
	action := event.GetAction()
	if action != "opened" && action != "synchronize" {
		return nil, fmt.Errorf("pull request action %q is not handled", action)
	}
	if event.Number == nil {
		return nil, fmt.Errorf("pull request number is missing from the event")
	}

	sender := event.GetSender().GetLogin()
	if sender == "" {
		return nil, fmt.Errorf("sender is missing from the event")
	}
	author := event.GetPullRequest().GetUser().GetLogin()
	if author == "" {
		return nil, fmt.Errorf("pull request user is missing from the event")
	}

	repo := event.GetRepo()
	if repo == nil || repo.GetName() == "" || repo.GetFullName() == "" {
		return nil, fmt.Errorf("repository name is missing from the event")
	}
	if !policy.trusted(sender) || !policy.trusted(author) {
		return nil, fmt.Errorf("untrusted source %s;%s", sender, author)
	}
	if !policy.allowedRepo(repo.GetFullName()) {
		return nil, fmt.Errorf("repository %s is not allowed", repo.GetFullName())
	}

	sha := event.GetPullRequest().GetHead().GetSHA()
	if sha == "" {
		return nil, fmt.Errorf("head commit hash is missing from the event")
	}
	if repo.GetCloneURL() == "" {
		return nil, fmt.Errorf("clone URL is missing from the event")
	}

	return &CommitJob{
		Repo:     repo.GetName(),
		RepoFull: repo.GetFullName(),
		CloneURL: repo.GetCloneURL(),
		SHA:      sha,
		FetchRef: fmt.Sprintf("+refs/pull/%d/head", event.GetNumber()),
		Author:   author,
		Sender:   sender,
		Runs:     []Run{},
	}, nil
}
