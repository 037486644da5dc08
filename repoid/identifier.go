package repoid

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// nameRgx matches the host's owner/repo naming rules: 1-39 characters,
// starting with a letter or digit, containing letters, digits, hyphens,
// underscores and dots.
var nameRgx = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,38}$`)

// ErrInvalidIdentifier is returned when an owner or repo name fails
// validation.
var ErrInvalidIdentifier = errors.New("invalid identifier")

// ValidateName validates an owner or repo name against the host's naming
// rules. It rejects leading dots, ".." components and path separators even
// though the base regexp would otherwise allow some of them as interior
// characters.
func ValidateName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%w: %s name cannot be empty", ErrInvalidIdentifier, kind)
	}
	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("%w: %s %q contains a path separator", ErrInvalidIdentifier, kind, name)
	}
	if name == "." || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %s %q is not allowed", ErrInvalidIdentifier, kind, name)
	}
	if !nameRgx.MatchString(name) {
		return fmt.Errorf("%w: %s %q does not match naming rules", ErrInvalidIdentifier, kind, name)
	}
	return nil
}

// Owner is a validated, display-preserving owner name. Equality and
// hashing must go through RepoKey, which normalises case.
type Owner string

// Repo is a validated, display-preserving repository name.
type Repo string

// ParseOwner validates and wraps an owner name.
func ParseOwner(name string) (Owner, error) {
	if err := ValidateName("owner", name); err != nil {
		return "", err
	}
	return Owner(name), nil
}

// ParseRepo validates and wraps a repository name.
func ParseRepo(name string) (Repo, error) {
	if err := ValidateName("repo", name); err != nil {
		return "", err
	}
	return Repo(name), nil
}

// RepoKey is the pair (Owner, Repo) that identifies a mirrored repository.
// Equality and hashing are case-insensitive on both fields; the canonical
// on-disk form (Lower) lowercases both, preserving the originally supplied
// case for display via Owner/Repo.
type RepoKey struct {
	Owner Owner
	Repo  Repo
}

// NewRepoKey validates owner and repo and returns the resulting key.
func NewRepoKey(owner, repo string) (RepoKey, error) {
	o, err := ParseOwner(owner)
	if err != nil {
		return RepoKey{}, err
	}
	r, err := ParseRepo(repo)
	if err != nil {
		return RepoKey{}, err
	}
	return RepoKey{Owner: o, Repo: r}, nil
}

// Canonical returns the lowercase on-disk form used for path construction
// and map keys.
func (k RepoKey) Canonical() RepoKey {
	return RepoKey{
		Owner: Owner(strings.ToLower(string(k.Owner))),
		Repo:  Repo(strings.ToLower(string(k.Repo))),
	}
}

// Equal reports whether two keys identify the same repository,
// case-insensitively.
func (k RepoKey) Equal(other RepoKey) bool {
	return k.Canonical() == other.Canonical()
}

// MapKey returns a value suitable for use as a map key that implements the
// case-insensitive equality semantics of RepoKey.
func (k RepoKey) MapKey() string {
	return string(k.Canonical().Owner) + "/" + string(k.Canonical().Repo)
}

func (k RepoKey) String() string {
	return string(k.Owner) + "/" + string(k.Repo)
}

// GenerationId is a monotonic, zero-padded generation number. Zero is
// reserved for "no generation published"; the minimum valid id is 1.
type GenerationId uint32

// GenerationWidth is the fixed width of the zero-padded decimal encoding.
const GenerationWidth = 6

// NoGeneration is the sentinel value meaning "nothing published yet".
const NoGeneration GenerationId = 0

// dirNameRgx matches "gen-NNNNNN" directory names.
var dirNameRgx = regexp.MustCompile(`^gen-(\d{` + strconv.Itoa(GenerationWidth) + `,})$`)

// DirName returns the "gen-NNNNNN" directory name for this generation.
func (g GenerationId) DirName() string {
	return fmt.Sprintf("gen-%0*d", GenerationWidth, uint32(g))
}

// Next returns the next generation id in sequence.
func (g GenerationId) Next() GenerationId {
	return g + 1
}

// Valid reports whether g is a materialized generation (not the "no
// generation" sentinel).
func (g GenerationId) Valid() bool {
	return g != NoGeneration
}

// ParseGenerationDirName parses a "gen-NNNNNN" directory name back into a
// GenerationId. It returns ok=false for anything that doesn't match,
// including the literal "current" pointer file.
func ParseGenerationDirName(name string) (id GenerationId, ok bool) {
	m := dirNameRgx.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseUint(m[1], 10, 32)
	if err != nil {
		return 0, false
	}
	return GenerationId(n), true
}
