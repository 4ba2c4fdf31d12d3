package cli

import (
	"github.com/okineo/ripple/internal/api"
	"github.com/okineo/ripple/internal/channel"
	"github.com/okineo/ripple/internal/config"
	"github.com/okineo/ripple/internal/db"
	"github.com/okineo/ripple/internal/lifecycle"
	"github.com/okineo/ripple/internal/presence"
	"github.com/okineo/ripple/internal/session"
	"github.com/okineo/ripple/internal/unread"
)

// engine bundles the sync-engine components for a CLI invocation.
type engine struct {
	cfg        *config.Config
	db         *db.DB
	sessions   *db.SessionRepository
	data       *api.Client
	channel    *channel.Client
	store      *session.Store
	tracker    *presence.Tracker
	aggregator *unread.Aggregator
	controller *lifecycle.Controller
}

// newEngine constructs the full component graph from configuration.
// Nothing connects until the controller starts.
func newEngine(cfg *config.Config) (*engine, error) {
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	sessions := db.NewSessionRepository(database)
	data := api.NewClient(api.Config{BaseURL: cfg.Server.APIURL, Timeout: cfg.Server.Timeout})
	ch := channel.New(channel.Config{
		URL:        cfg.Channel.URL,
		MinBackoff: cfg.Channel.MinBackoff,
		MaxBackoff: cfg.Channel.MaxBackoff,
	})
	store := session.NewStore()
	tracker := presence.NewTracker()
	aggregator := unread.NewAggregator(data)
	controller := lifecycle.NewController(store, ch, tracker, aggregator, data, sessions)

	return &engine{
		cfg:        cfg,
		db:         database,
		sessions:   sessions,
		data:       data,
		channel:    ch,
		store:      store,
		tracker:    tracker,
		aggregator: aggregator,
		controller: controller,
	}, nil
}

// Close releases the engine's resources.
func (e *engine) Close() {
	e.controller.Stop()
	_ = e.db.Close()
}
