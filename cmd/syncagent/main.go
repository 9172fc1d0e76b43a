// Command syncagent is a runnable demo wiring Client, Bucket, and the
// in-memory/bbolt stores together against a configured endpoint, the
// analogue of the teacher's agent/main.go demo binary.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wezm/node-simperium/internal/bucket"
	"github.com/wezm/node-simperium/internal/bucketstore"
	"github.com/wezm/node-simperium/internal/channel"
	"github.com/wezm/node-simperium/internal/client"
	"github.com/wezm/node-simperium/internal/ghost"
	"github.com/wezm/node-simperium/internal/jsondiff"
)

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	log.Logger = log.Output(zerolog.NewConsoleWriter())

	endpoint := envOrDefault("SYNC_ENDPOINT", "ws://localhost:8080/sock")
	appID := envOrDefault("SYNC_APP_ID", "demo-app")
	token := envOrDefault("SYNC_TOKEN", "demo-token")
	bucketName := envOrDefault("SYNC_BUCKET", "notes")
	dataDir := envOrDefault("SYNC_DATA_DIR", "")

	clientID := uuid.NewString()
	cli := client.New(client.Config{
		Endpoint: endpoint,
		ClientID: clientID,
		Library:  "node-simperium-go",
		Version:  "1.0.0",
	})
	cli.Events.Authorize.Subscribe(func(ev client.AuthorizeEvent) {
		log.Info().Str("user", ev.User).Msg("authorized")
	})

	if user := os.Getenv("SYNC_USER"); user != "" {
		token = acquireToken(cli, appID, user, os.Getenv("SYNC_PASSWORD"))
	}

	ghosts, store, err := openStores(dataDir, bucketName)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open local stores")
	}

	notes := bucket.Open(bucketName, store, ghosts, cli, channel.Config{
		AppID: appID,
		Token: token,
	})
	wireBucketLogging(notes, bucketName)

	// A second bucket on the same Client demonstrates the channel-index
	// fan-out a real application exercises with multiple buckets (§9
	// supplemented feature).
	tagsGhosts, tagsStore, err := openStores(dataDir, "tags")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open tags store")
	}
	tags := bucket.Open("tags", tagsStore, tagsGhosts, cli, channel.Config{
		AppID: appID,
		Token: token,
	})
	wireBucketLogging(tags, "tags")

	cli.Events.Reconnect.Subscribe(func(ev client.ReconnectEvent) {
		log.Warn().Int("attempt", ev.Attempt).Msg("reconnecting")
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		time.Sleep(2 * time.Second)
		id, _, err := notes.Add(ctx, jsondiff.Object(map[string]jsondiff.Value{
			"title": jsondiff.String("hello"),
			"body":  jsondiff.String("from syncagent"),
		}))
		if err != nil {
			log.Error().Err(err).Msg("add failed")
			return
		}
		log.Info().Str("id", id).Msg("created note")
	}()

	if err := cli.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("client loop exited")
	}
}

// acquireToken exchanges a username/password for an access token via the
// Authorizer collaborator (§6), falling back to the static SYNC_TOKEN if
// the exchange fails so a misconfigured auth endpoint doesn't block the
// demo from dialing at all.
func acquireToken(cli *client.Client, appID, user, password string) string {
	authorizer := &client.HTTPAuthorizer{
		Endpoint: envOrDefault("SYNC_AUTH_ENDPOINT", "https://auth.simperium.com/1/"+appID+"/authorize/"),
		AppID:    appID,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	creds, err := authorizer.Authorize(ctx, user, password)
	if err != nil {
		log.Warn().Err(err).Str("user", user).Msg("authorize failed, falling back to SYNC_TOKEN")
		return envOrDefault("SYNC_TOKEN", "demo-token")
	}
	cli.Events.Authorize.Publish(client.AuthorizeEvent{User: user})
	return creds.AccessToken
}

func openStores(dataDir, name string) (ghost.Store, bucketstore.Store, error) {
	if dataDir == "" {
		return ghost.NewMemory(), bucketstore.NewMemory(), nil
	}
	g, err := ghost.OpenBbolt(dataDir + "/" + name + ".ghosts.db")
	if err != nil {
		return nil, nil, err
	}
	s, err := bucketstore.OpenBbolt(dataDir+"/"+name+".objects.db", name)
	if err != nil {
		return nil, nil, err
	}
	return g, s, nil
}

func wireBucketLogging(b *bucket.Bucket, name string) {
	b.Events.Index.Subscribe(func(struct{}) {
		log.Info().Str("bucket", name).Msg("index complete")
	})
	b.Events.Indexing.Subscribe(func(struct{}) {
		log.Info().Str("bucket", name).Msg("indexing")
	})
	b.Events.Update.Subscribe(func(ev bucket.UpdateEvent) {
		log.Info().Str("bucket", name).Str("id", ev.ID).Bool("isIndexing", ev.Remote.IsIndexing).Msg("update")
	})
	b.Events.Remove.Subscribe(func(id string) {
		log.Info().Str("bucket", name).Str("id", id).Msg("remove")
	})
	b.Events.Error.Subscribe(func(err error) {
		log.Error().Str("bucket", name).Err(err).Msg("error")
	})
}
