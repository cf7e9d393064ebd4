package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnalyzeURL(t *testing.T) {
	tests := []struct {
		name string
		page string
		want URLContext
	}{
		{
			name: "homepage",
			page: testBaseURL,
			want: URLContext{Type: ContextHomepage},
		},
		{
			name: "dashboard",
			page: testBaseURL + "/dashboard",
			want: URLContext{Type: ContextHomepage},
		},
		{
			name: "project",
			page: testBaseURL + "/acme/widgets",
			want: URLContext{Type: ContextProject, ProjectPath: "acme/widgets"},
		},
		{
			name: "issue with query and fragment",
			page: testBaseURL + "/acme/widgets/-/issues/17?tab=notes#note_3",
			want: URLContext{Type: ContextIssue, ProjectPath: "acme/widgets", ResourceID: "gid://gitlab/Issue/17"},
		},
		{
			name: "merge request",
			page: testBaseURL + "/acme/widgets/-/merge_requests/5/diffs",
			want: URLContext{Type: ContextMergeRequest, ProjectPath: "acme/widgets", ResourceID: "gid://gitlab/MergeRequest/5"},
		},
		{
			name: "pipeline",
			page: testBaseURL + "/acme/widgets/-/pipelines/900",
			want: URLContext{Type: ContextPipeline, ProjectPath: "acme/widgets", ResourceID: "gid://gitlab/Pipeline/900"},
		},
		{
			name: "repository blob",
			page: testBaseURL + "/acme/widgets/-/blob/main/README.md",
			want: URLContext{Type: ContextRepository, ProjectPath: "acme/widgets"},
		},
		{
			name: "wiki",
			page: testBaseURL + "/acme/widgets/-/wikis/home",
			want: URLContext{Type: ContextWiki, ProjectPath: "acme/widgets"},
		},
		{
			name: "relative path",
			page: "/acme/widgets/-/issues/2",
			want: URLContext{Type: ContextIssue, ProjectPath: "acme/widgets", ResourceID: "gid://gitlab/Issue/2"},
		},
		{
			name: "percent encoded namespace",
			page: testBaseURL + "/my%20group/widgets",
			want: URLContext{Type: ContextProject, ProjectPath: "my group/widgets"},
		},
		{
			name: "system path is not a project",
			page: testBaseURL + "/admin/users",
			want: URLContext{Type: ContextProject},
		},
		{
			name: "other host",
			page: "https://evil.example.org/acme/widgets",
			want: URLContext{Type: ContextUnknown},
		},
		{
			name: "host prefix lookalike",
			page: testBaseURL + ".evil.org/acme/widgets",
			want: URLContext{Type: ContextUnknown},
		},
		{
			name: "unknown project page",
			page: testBaseURL + "/acme/widgets/-/settings",
			want: URLContext{Type: ContextUnknown, ProjectPath: "acme/widgets"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.want.URL = tt.page
			assert.Equal(t, tt.want, AnalyzeURL(testBaseURL+"/", tt.page))
		})
	}
}

func TestAnalyzeURLWithoutBase(t *testing.T) {
	got := AnalyzeURL("", "https://gitlab.com/a/b")
	assert.Equal(t, ContextHomepage, got.Type)
	assert.Empty(t, got.ProjectPath)
}

func TestSetContextURLUpdatesSnapshot(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	ctx := s.SetContextURL(testBaseURL + "/acme/widgets/-/merge_requests/8")

	assert.Equal(t, ContextMergeRequest, ctx.Type)
	assert.Equal(t, ctx, s.Snapshot().Context)

	s.InitializeDefaultContext()
	assert.Equal(t, ContextMergeRequest, s.Snapshot().Context.Type, "explicit page survives default initialisation")
}
