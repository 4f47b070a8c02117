package main

import (
	"bufio"
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/openmic/showrunner/go/clients/showapi"
	"github.com/openmic/showrunner/go/internal/cable"
	"github.com/openmic/showrunner/go/internal/show"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	config, err := loadConfig(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(config.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	showID := getEnvAsInt("SHOW_ID", 0)
	if showID == 0 {
		log.Fatal().Msg("SHOW_ID environment variable is required")
	}

	clock := clockwork.NewRealClock()
	api := showapi.NewClient(config.Backend.BaseURL)
	cableClient := cable.NewClient(config.Backend.CableURL, clock)
	store := show.NewStore()
	session := show.NewSession(clock, api, cableClient, store)
	dispatcher := show.NewDispatcher(api, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := session.Start(ctx, showID); err != nil {
		log.Fatal().Err(err).Int("show_id", showID).Msg("failed to start show session")
	}

	updates, cancelWatch := store.Watch()
	defer cancelWatch()
	go func() {
		for snap := range updates {
			log.Debug().
				Str("phase", string(snap.Phase)).
				Int("performer_id", snap.ActivePerformerID).
				Int("audience", snap.AudienceCount).
				Msg("show state changed")
		}
	}()

	go commandLoop(ctx, dispatcher, showID)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	session.End()
	cableClient.Disconnect()
}

// commandLoop reads state-transition commands from stdin, one per line:
//
//	state <phase> [performer_id]
//	reset_picks
func commandLoop(ctx context.Context, dispatcher *show.Dispatcher, showID int) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "state":
			if len(fields) < 2 {
				log.Warn().Msg("usage: state <phase> [performer_id]")
				continue
			}
			extraParams := map[string]any{}
			if len(fields) > 2 {
				performerID, err := strconv.Atoi(fields[2])
				if err != nil {
					log.Warn().Str("value", fields[2]).Msg("performer id must be an integer")
					continue
				}
				extraParams["performer_id"] = performerID
			}
			if err := dispatcher.SetState(ctx, showID, show.Phase(fields[1]), extraParams); err != nil {
				log.Error().Err(err).Msg("command failed")
			}
		case "reset_picks":
			if err := dispatcher.ResetPicks(ctx, showID); err != nil {
				log.Error().Err(err).Msg("command failed")
			}
		default:
			log.Warn().Str("command", fields[0]).Msg("unknown command")
		}
	}
}
