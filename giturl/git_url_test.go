package giturl

import "testing"

func TestParseHostAndRemote(t *testing.T) {
	cases := []struct {
		name string
		host string
		want string
	}{
		{"https", "https://github.com", "https://github.com/acme/widgets.git"},
		{"ssh", "ssh://git@github.com", "ssh://git@github.com/acme/widgets.git"},
		{"scp", "git@github.com", "git@github.com:acme/widgets.git"},
		{"local", "file:///srv/repos", "file:///acme/widgets.git"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			u, err := ParseHost(tc.host)
			if err != nil {
				t.Fatalf("ParseHost(%q): %v", tc.host, err)
			}
			if got := u.Remote("acme", "widgets"); got != tc.want {
				t.Fatalf("Remote: got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestParseHostRejectsInvalid(t *testing.T) {
	if _, err := ParseHost("not a host at all"); err == nil {
		t.Fatal("expected an error for an unparseable host")
	}
}

func TestParseHostDiscardsPlaceholderPath(t *testing.T) {
	u, err := ParseHost("https://github.com")
	if err != nil {
		t.Fatalf("ParseHost: %v", err)
	}
	if u.Path != "" || u.Repo != "" {
		t.Fatalf("expected placeholder path/repo discarded, got Path=%q Repo=%q", u.Path, u.Repo)
	}
}
