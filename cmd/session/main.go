package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"tracklab/internal/bus"
	"tracklab/internal/composition"
	"tracklab/internal/platform/config"
	"tracklab/internal/platform/logger"
	"tracklab/internal/studio"
)

// wsURL derives the relay endpoint for a composition from the API base URL.
func wsURL(serverURL string, id composition.CompositionID) string {
	ws := strings.Replace(serverURL, "http://", "ws://", 1)
	ws = strings.Replace(ws, "https://", "wss://", 1)
	return strings.TrimRight(ws, "/") + "/ws/compositions/" + string(id)
}

func main() {
	_ = config.Load()

	serverURL := config.GetEnv("SERVER_URL", "http://localhost:8080")
	compositionID := config.GetEnv("COMPOSITION_ID", "")
	statePath := config.GetEnv("STATE_PATH", "")
	interval := config.GetEnvDuration("AUTOSAVE_INTERVAL", studio.DefaultAutosaveInterval)
	initialDelay := config.GetEnvDuration("AUTOSAVE_INITIAL_DELAY", studio.DefaultAutosaveInitialDelay)
	log := logger.New(os.Stdout, config.GetEnv("LOG_LEVEL", "info"), config.GetEnv("LOG_FORMAT", "text"))

	if statePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			log.Error("resolving home directory", "error", err)
			os.Exit(1)
		}
		dir := filepath.Join(home, ".tracklab")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Error("creating state directory", "error", err)
			os.Exit(1)
		}
		statePath = filepath.Join(dir, "session.db")
	}

	local, err := studio.OpenLocalState(statePath)
	if err != nil {
		log.Error("opening local state", "error", err)
		os.Exit(1)
	}
	defer local.Close()

	ctx := context.Background()
	client := composition.NewClient(serverURL, nil)

	// Pick a composition: explicit id, then the last-open one, then the
	// newest on the server, then a fresh one.
	id := composition.CompositionID(compositionID)
	if id == "" {
		if saved, err := local.ActiveComposition(); err == nil {
			id = composition.CompositionID(saved)
		}
	}
	if id == "" {
		list, err := client.ListCompositions(ctx)
		if err != nil {
			log.Error("listing compositions", "error", err)
			os.Exit(1)
		}
		if len(list) > 0 {
			id = list[0].ID
		}
	}
	if id == "" {
		meta, err := client.CreateComposition(ctx, "Untitled", composition.DefaultTempo)
		if err != nil {
			log.Error("creating composition", "error", err)
			os.Exit(1)
		}
		id = meta.ID
		log.Info("created composition", "composition_id", string(id))
	}

	b, err := bus.Dial(ctx, wsURL(serverURL, id), log)
	if err != nil {
		log.Error("connecting to relay", "error", err)
		os.Exit(1)
	}

	sess := studio.NewSession(studio.SessionConfig{
		Bus:                  b,
		Service:              client,
		Logger:               log,
		LocalState:           local,
		AutosaveInterval:     interval,
		AutosaveInitialDelay: initialDelay,
	})

	if err := sess.Coordinator.LoadComposition(ctx, id); err != nil {
		log.Error("loading composition", "composition_id", string(id), "error", err)
		sess.Close()
		os.Exit(1)
	}

	log.Info("session ready",
		"session_id", sess.ID,
		"composition_id", string(id),
		"autosave_interval", interval.String(),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("closing session")
	if err := sess.Close(); err != nil {
		log.Warn("session close", "error", err)
	}
}
