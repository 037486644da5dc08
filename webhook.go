package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/utilitywarehouse/repo-mount/repoid"
	"github.com/utilitywarehouse/repo-mount/reposcache"
)

// GitHubEvent is the subset of a GitHub push webhook payload needed to
// identify which repository changed.
type GitHubEvent struct {
	Repository struct {
		Name  string `json:"name"`
		Owner struct {
			Login string `json:"login"`
		} `json:"owner"`
	} `json:"repository"`
	Ref string `json:"ref"`
}

// GithubWebhookHandler lets the code-hosting service push cache
// invalidations instead of every lookup waiting out the TTL: a push
// event triggers an immediate ForceRefresh of the affected repository,
// which fetches and publishes a new generation regardless of the TTL.
type GithubWebhookHandler struct {
	cache             *reposcache.Cache
	secret            string
	skipSigValidation bool
	log               *slog.Logger
}

func (wh *GithubWebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		wh.log.Error("cannot read request body", "err", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if !wh.skipSigValidation && !wh.isValidSignature(body, r.Header.Get("X-Hub-Signature-256")) {
		wh.log.Error("invalid signature")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	event := r.Header.Get("X-GitHub-Event")

	var payload GitHubEvent
	if err := json.Unmarshal(body, &payload); err != nil {
		wh.log.Error("cannot unmarshal json payload", "err", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	// The ping event is a confirmation from GitHub that the webhook is
	// configured correctly.
	if event == "ping" {
		w.Write([]byte("pong"))
		return
	}

	// only process 'push' event but return ok for all events, to mark
	// successful delivery either way
	if event == "push" {
		go wh.processPushEvent(payload)
	}
}

func (wh *GithubWebhookHandler) isValidSignature(message []byte, signature string) bool {
	return hmac.Equal([]byte(signature), []byte(wh.computeHMAC(message)))
}

func (wh *GithubWebhookHandler) computeHMAC(message []byte) string {
	mac := hmac.New(sha256.New, []byte(wh.secret))
	if _, err := mac.Write(message); err != nil {
		wh.log.Error("cannot compute hmac for request", "err", err)
		return ""
	}
	// GitHub prefixes the header value with "sha256="
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (wh *GithubWebhookHandler) processPushEvent(event GitHubEvent) {
	key, err := repoid.NewRepoKey(event.Repository.Owner.Login, event.Repository.Name)
	if err != nil {
		wh.log.Warn("push event named an invalid repository, ignoring", "owner", event.Repository.Owner.Login, "repo", event.Repository.Name, "err", err)
		return
	}

	if _, err := wh.cache.ForceRefresh(context.Background(), key); err != nil {
		wh.log.Error("unable to process push event", "repo", key.String(), "err", err)
	}
}
