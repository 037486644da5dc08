// Package giturl parses a configured code-hosting base URL and builds
// the per-repository clone URLs a resolver hands to vcs.Runner.
package giturl

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// The repository name can contain
	// ASCII letters, digits, and the characters ., -, and _.

	// user@host.xz:path/to/repo.git
	scpURLRgx = regexp.MustCompile(`^(?P<user>[\w\-\.]+)@(?P<host>([\w\-]+\.?[\w\-]+)+(\:\d+)?):(?P<path>([\w\-\.]+\/)*)(?P<repo>[\w\-\.]+(\.git)?)$`)

	// ssh://user@host.xz[:port]/path/to/repo.git
	sshURLRgx = regexp.MustCompile(`^ssh://(?P<user>[\w\-\.]+)@(?P<host>([\w\-]+\.?[\w\-]+)+(\:\d+)??)/(?P<path>([\w\-\.]+\/)*)(?P<repo>[\w\-\.]+(\.git)?)$`)

	// https://host.xz[:port]/path/to/repo.git
	httpsURLRgx = regexp.MustCompile(`^https://(?P<host>([\w\-]+\.?[\w\-]+)+(\:\d+)?)/(?P<path>([\w\-\.]+\/)*)(?P<repo>[\w\-\.]+(\.git)?)$`)

	// file:///path/to/repo.git
	localURLRgx = regexp.MustCompile(`^file:///(?P<path>([\w\-\.]+\/)*)(?P<repo>[\w\-\.]+(\.git)?)$`)
)

// URL is a parsed git host URL: either a concrete remote, or (via
// ParseHost) a base that Remote builds concrete remotes from.
type URL struct {
	Scheme string // 'scp', 'ssh', 'https' or 'local'
	User   string // empty for https and local urls
	Host   string // host or host:port, empty for local urls
	Path   string // path to the repo minus the repo name (includes the owner/org)
	Repo   string // repository name from the path, includes .git
}

// NormaliseURL lowercases and trims a raw URL for matching.
func NormaliseURL(rawURL string) string {
	nURL := strings.ToLower(strings.TrimSpace(rawURL))
	nURL = strings.TrimRight(nURL, "/")

	return nURL
}

// Parse parses a raw url into a URL structure.
// valid git urls are...
//   - user@host.xz:path/to/repo.git
//   - ssh://user@host.xz[:port]/path/to/repo.git
//   - https://host.xz[:port]/path/to/repo.git
//   - file:///path/to/repo.git
func Parse(rawURL string) (*URL, error) {
	gURL := &URL{}

	rawURL = NormaliseURL(rawURL)

	var sections []string

	switch {
	case IsSCPURL(rawURL):
		sections = scpURLRgx.FindStringSubmatch(rawURL)
		gURL.Scheme = "scp"
		gURL.User = sections[scpURLRgx.SubexpIndex("user")]
		gURL.Host = sections[scpURLRgx.SubexpIndex("host")]
		gURL.Path = sections[scpURLRgx.SubexpIndex("path")]
		gURL.Repo = sections[scpURLRgx.SubexpIndex("repo")]
	case IsSSHURL(rawURL):
		sections = sshURLRgx.FindStringSubmatch(rawURL)
		gURL.Scheme = "ssh"
		gURL.User = sections[sshURLRgx.SubexpIndex("user")]
		gURL.Host = sections[sshURLRgx.SubexpIndex("host")]
		gURL.Path = sections[sshURLRgx.SubexpIndex("path")]
		gURL.Repo = sections[sshURLRgx.SubexpIndex("repo")]
	case IsHTTPSURL(rawURL):
		sections = httpsURLRgx.FindStringSubmatch(rawURL)
		gURL.Scheme = "https"
		gURL.Host = sections[httpsURLRgx.SubexpIndex("host")]
		gURL.Path = sections[httpsURLRgx.SubexpIndex("path")]
		gURL.Repo = sections[httpsURLRgx.SubexpIndex("repo")]
	case IsLocalURL(rawURL):
		sections = localURLRgx.FindStringSubmatch(rawURL)
		gURL.Scheme = "local"
		gURL.Path = sections[localURLRgx.SubexpIndex("path")]
		gURL.Repo = sections[localURLRgx.SubexpIndex("repo")]
	default:
		return nil, fmt.Errorf(
			"provided '%s' remote url is invalid, supported urls are 'user@host.xz:path/to/repo.git','ssh://user@host.xz/path/to/repo.git', 'https://host.xz/path/to/repo.git' or 'file:///path/to/repo.git'",
			rawURL)
	}

	// scp path doesn't have leading "/"
	// also removing training "/" for consistency
	gURL.Path = strings.Trim(gURL.Path, "/")

	if gURL.Path == "" {
		return nil, fmt.Errorf("repo path (org) cannot be empty")
	}
	if gURL.Repo == "" || gURL.Repo == ".git" {
		return nil, fmt.Errorf("repo name is invalid")
	}

	return gURL, nil
}

// ParseHost parses a configured code-hosting base URL (no owner/repo
// path yet) into the scheme/user/host a resolver builds every clone
// URL from. It reuses Parse by probing with a placeholder owner/repo,
// since the underlying syntax always requires one, then discards the
// parsed Path/Repo. Any path rawHost itself carries is discarded along
// with the placeholder, so Remote places owner/repo directly under the
// host (directly under / for a file:/// host). scp-style hosts (user@host, no scheme) take
// their path after a ':' rather than a '/'; every other syntax places
// the scheme before the host, so a '/' separator is always safe there.
func ParseHost(rawHost string) (*URL, error) {
	normalised := strings.TrimRight(NormaliseURL(rawHost), "/")
	sep := "/"
	if !strings.Contains(normalised, "://") && strings.Contains(normalised, "@") {
		sep = ":"
	}
	probe := normalised + sep + "placeholder/placeholder.git"
	u, err := Parse(probe)
	if err != nil {
		return nil, fmt.Errorf("host %q does not parse as a git remote base: %w", rawHost, err)
	}
	u.Path = ""
	u.Repo = ""
	return u, nil
}

// Remote builds the concrete clone URL for owner/repo rooted at this
// host, in whichever syntax the host was configured with, so an
// ssh:// or scp-style host produces ssh/scp remotes rather than
// silently falling back to https.
func (u *URL) Remote(owner, repo string) string {
	switch u.Scheme {
	case "scp":
		return fmt.Sprintf("%s@%s:%s/%s.git", u.User, u.Host, owner, repo)
	case "ssh":
		return fmt.Sprintf("ssh://%s@%s/%s/%s.git", u.User, u.Host, owner, repo)
	case "local":
		return fmt.Sprintf("file:///%s/%s.git", owner, repo)
	default: // https
		return fmt.Sprintf("https://%s/%s/%s.git", u.Host, owner, repo)
	}
}

// IsSCPURL returns true if supplied URL is scp-like syntax
func IsSCPURL(rawURL string) bool {
	return scpURLRgx.MatchString(rawURL)
}

// IsSSHURL returns true if supplied URL is SSH URL
func IsSSHURL(rawURL string) bool {
	return sshURLRgx.MatchString(rawURL)
}

// IsHTTPSURL returns true if supplied URL is HTTPS URL
func IsHTTPSURL(rawURL string) bool {
	return httpsURLRgx.MatchString(rawURL)
}

// IsLocalURL returns true if supplied URL is a local file:/// URL
func IsLocalURL(rawURL string) bool {
	return localURLRgx.MatchString(rawURL)
}
