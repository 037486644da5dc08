package main

import (
	"context"
	"fmt"
	"os"

	"github.com/utilitywarehouse/repo-mount/giturl"
	"github.com/utilitywarehouse/repo-mount/repoid"
	"github.com/utilitywarehouse/repo-mount/vcs"
)

// configResolver turns a RepoKey into a clone URL rooted at Config.Host
// and the credentials named by Config.Auth. It never acquires a
// credential itself: TokenEnvVar/SSHKeyPath name where one has already
// been placed by whatever runs this process.
type configResolver struct {
	host *giturl.URL
	auth AuthConfig
}

// newConfigResolver parses host up front so a typo, or an unsupported
// scheme, surfaces at startup instead of on the first Lookup. The
// parsed scheme/user/host drive every Remote call below.
func newConfigResolver(cfg *Config) (*configResolver, error) {
	host, err := giturl.ParseHost(cfg.Host)
	if err != nil {
		return nil, fmt.Errorf("resolver: %w", err)
	}
	return &configResolver{host: host, auth: cfg.Auth}, nil
}

func (r *configResolver) Resolve(_ context.Context, key repoid.RepoKey) (string, vcs.Credentials, error) {
	remote := r.host.Remote(string(key.Owner), string(key.Repo))

	creds := vcs.Credentials{
		SSHKeyPath:        r.auth.SSHKeyPath,
		SSHKnownHostsPath: r.auth.SSHKnownHostsPath,
	}
	if r.auth.TokenEnvVar != "" {
		if token, ok := os.LookupEnv(r.auth.TokenEnvVar); ok {
			creds.Password = token
		}
	}
	return remote, creds, nil
}
