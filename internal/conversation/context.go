package conversation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// systemPaths are top-level GitLab routes that are never a namespace.
var systemPaths = map[string]bool{
	"admin":     true,
	"help":      true,
	"explore":   true,
	"dashboard": true,
	"profile":   true,
	"users":     true,
	"groups":    true,
	"api":       true,
	"assets":    true,
}

var (
	issuePattern        = regexp.MustCompile(`/-/issues/(\d+)`)
	mergeRequestPattern = regexp.MustCompile(`/-/merge_requests/(\d+)`)
	pipelinePattern     = regexp.MustCompile(`/-/pipelines/(\d+)`)
)

// AnalyzeURL classifies pageURL relative to the GitLab instance at baseURL.
// Relative URLs are resolved against baseURL; URLs on another host are
// Unknown.
func AnalyzeURL(baseURL, pageURL string) URLContext {
	baseURL = strings.TrimRight(baseURL, "/")
	ctx := URLContext{URL: pageURL, Type: ContextHomepage}
	if baseURL == "" || pageURL == "" {
		return ctx
	}

	var full string
	switch {
	case strings.HasPrefix(pageURL, "http"):
		full = pageURL
	case strings.HasPrefix(pageURL, "/"):
		full = baseURL + pageURL
	default:
		full = baseURL + "/" + pageURL
	}

	path, ok := strings.CutPrefix(full, baseURL)
	if !ok || (path != "" && !strings.ContainsRune("/?#", rune(path[0]))) {
		ctx.Type = ContextUnknown
		return ctx
	}
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}

	ctx.ProjectPath = projectPath(path)
	ctx.Type, ctx.ResourceID = classifyPath(path)
	return ctx
}

func pathComponents(path string) []string {
	var out []string
	for _, c := range strings.Split(path, "/") {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

func projectPath(path string) string {
	components := pathComponents(path)
	if len(components) < 2 {
		return ""
	}
	namespace, project := components[0], components[1]
	if systemPaths[strings.ToLower(namespace)] || namespace == "-" || project == "-" {
		return ""
	}
	if decoded, err := url.PathUnescape(namespace); err == nil {
		namespace = decoded
	}
	if decoded, err := url.PathUnescape(project); err == nil {
		project = decoded
	}
	return namespace + "/" + project
}

func classifyPath(path string) (ContextType, string) {
	components := pathComponents(path)
	if len(components) == 0 || (len(components) == 1 && components[0] == "dashboard") {
		return ContextHomepage, ""
	}

	if m := issuePattern.FindStringSubmatch(path); m != nil {
		return ContextIssue, resourceGID("Issue", m[1])
	}
	if m := mergeRequestPattern.FindStringSubmatch(path); m != nil {
		return ContextMergeRequest, resourceGID("MergeRequest", m[1])
	}
	if strings.Contains(path, "/-/pipelines/") {
		if m := pipelinePattern.FindStringSubmatch(path); m != nil {
			return ContextPipeline, resourceGID("Pipeline", m[1])
		}
		return ContextPipeline, ""
	}
	if strings.Contains(path, "/-/tree/") || strings.Contains(path, "/-/blob/") || strings.Contains(path, "/-/commits/") {
		return ContextRepository, ""
	}
	if strings.Contains(path, "/-/wikis/") {
		return ContextWiki, ""
	}
	if len(components) >= 2 && !strings.Contains(path, "/-/") {
		return ContextProject, ""
	}
	return ContextUnknown, ""
}

func resourceGID(kind, number string) string {
	return fmt.Sprintf("gid://gitlab/%s/%s", kind, number)
}
