package cmd

import (
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/boxoffice-crawler/internal/boxoffice"
)

// newEventCmd creates the 'event' subcommand for injecting envelopes by hand.
func newEventCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "event <type> [date... | movie-id]",
		Short: "Publishes one event envelope onto the bus",
		Long: `Publishes an event to the topic its type belongs on.

  event RESET
  event prepare_ranking
  event crawl_ranking 2023-08-17 2023-08-18
  event crawl_movie_detail rl1077904129`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			env, err := envelopeFromArgs(args)
			if err != nil {
				return err
			}
			id, err := appInstance.Publish(cmd.Context(), env)
			if err != nil {
				return err
			}
			appInstance.Logger().Info("event published",
				zap.String("event_type", string(env.EventType)),
				zap.String("message_id", id),
			)
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}

func envelopeFromArgs(args []string) (boxoffice.Envelope, error) {
	// Control events are upper case on the wire, work events lower case.
	et := boxoffice.EventType(strings.ToLower(args[0]))
	if upper := boxoffice.EventType(strings.ToUpper(args[0])); upper == boxoffice.EventReset || upper == boxoffice.EventDebug {
		et = upper
	}
	env := boxoffice.Envelope{EventType: et}
	rest := args[1:]

	switch et {
	case boxoffice.EventCrawlMovieDetail:
		if len(rest) != 1 {
			return env, fmt.Errorf("%s takes exactly one movie id", et)
		}
		env.ID = rest[0]
	case boxoffice.EventCrawlRanking, boxoffice.EventValidateRanking:
		for _, raw := range rest {
			d, err := civil.ParseDate(raw)
			if err != nil {
				return env, fmt.Errorf("date %q must be YYYY-MM-DD: %w", raw, err)
			}
			env.Dates = append(env.Dates, d)
		}
	default:
		if len(rest) > 0 {
			return env, fmt.Errorf("%s takes no arguments", et)
		}
	}
	if err := env.Validate(); err != nil {
		return env, err
	}
	return env, nil
}
