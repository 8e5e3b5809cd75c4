package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"assistant-voice-loop/config"
	"assistant-voice-loop/listener"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func newListenCmd() *cobra.Command {
	var playbackType string

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Run one listening session until it expires or is interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			playback, err := a.playback(playbackType)
			if err != nil {
				return err
			}

			ended := make(chan listener.EndReason, 1)
			var answered atomic.Int32

			ctrl, err := listener.New(&listener.Config{
				Capture:  a.capture(),
				Playback: playback,
				Answerer: a.engine,
				OnAnswered: func() {
					color.Green("answered %d", answered.Add(1))
				},
				OnSessionEnd: func(reason listener.EndReason) {
					select {
					case ended <- reason:
					default:
					}
				},
				Logger:         a.log,
				Timing:         a.timing(),
				FallbackAnswer: a.cfg.Listener.FallbackAnswer,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := ctrl.Start(); err != nil {
				return err
			}

			session := ctrl.Session()
			color.Cyan("listening, session %s ends at %s", session.ID, session.Deadline.Format(time.Kitchen))

			select {
			case reason := <-ended:
				color.Yellow("session ended: %s", reason)
			case <-ctx.Done():
				ctrl.Stop()
				color.Yellow("session ended: %s", listener.EndStopped)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&playbackType, "playback", "", "override playback type (command or silent)")

	return cmd
}

func newAskCmd() *cobra.Command {
	var (
		speak   bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Look up the answer to a typed question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			question := listener.NormalizeTranscript(strings.Join(args, " "))

			answer, err := a.engine.Answer(ctx, question)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), answer)

			if !speak {
				return nil
			}

			playback, err := a.playback("")
			if err != nil {
				return err
			}

			if err := playback.Speak(answer); err != nil {
				return err
			}

			for playback.IsSpeaking() {
				time.Sleep(a.cfg.Listener.PlaybackPollInterval)
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&speak, "speak", false, "also say the answer out loud")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "lookup timeout")

	return cmd
}

func newTeachCmd() *cobra.Command {
	var (
		question string
		answer   string
		tags     []string
	)

	cmd := &cobra.Command{
		Use:   "teach",
		Short: "Store a question and its answer",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			id, err := a.engine.Teach(cmd.Context(), question, answer, tags)
			if err != nil {
				return err
			}

			color.Green("saved answer #%d", id)

			return nil
		},
	}

	cmd.Flags().StringVarP(&question, "question", "q", "", "question text")
	cmd.Flags().StringVarP(&answer, "answer", "a", "", "answer text")
	cmd.Flags().StringSliceVarP(&tags, "tag", "t", nil, "tag (repeatable)")

	return cmd
}

func newAnswersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "answers",
		Short: "List stored answers",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			records := a.store.GetAll(cmd.Context())
			if len(records) == 0 {
				color.Yellow("no answers stored")
				return nil
			}

			id := color.New(color.FgCyan).SprintFunc()
			tag := color.New(color.FgMagenta).SprintFunc()

			out := cmd.OutOrStdout()
			for _, r := range records {
				fmt.Fprintf(out, "%s %s\n", id(fmt.Sprintf("#%d", r.ID)), r.Question)
				fmt.Fprintf(out, "    %s\n", r.Answer)
				if len(r.Tags) > 0 {
					fmt.Fprintf(out, "    %s\n", tag(strings.Join(r.Tags, ", ")))
				}
			}

			return nil
		},
	}
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(afero.NewOsFs())
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), string(out))

			return nil
		},
	}
}
