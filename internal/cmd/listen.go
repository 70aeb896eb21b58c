package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/slush-dev/pushrelay/fcm"
	"github.com/spf13/cobra"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Receive push messages over FCM and print them as notifications (Ctrl+C to stop)",
	Long: `Registers with FCM for the configured sender (once; credentials are kept in
the session directory) and keeps an MCS connection open. Every data message
runs through the pipeline and renderable ones are printed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		showActivation, _ := cmd.Flags().GetBool("show-activation")
		reg := registrationFromFlags(cmd)
		if reg.SenderID == "" {
			return fmt.Errorf("no FCM sender configured: pass --sender-id or set fcm.sender_id")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sink := newConsoleSink(os.Stdout, useYAML, showActivation)
		pipeline, release, err := buildPipeline(ctx, cfg, sink, logger)
		if err != nil {
			return err
		}
		defer release()

		var opts []fcm.Option
		opts = append(opts, fcm.WithLogger(logger))
		if cfg.FCM.MCSAddr != "" {
			opts = append(opts, fcm.WithMCSAddr(cfg.FCM.MCSAddr))
		}
		client := fcm.NewClient(cfg.SessionDir, opts...)

		fmt.Fprintln(os.Stderr, "Registering with FCM...")
		token, err := client.Register(ctx, reg)
		if err != nil {
			return err
		}
		if useYAML {
			yamlOut(os.Stdout, map[string]string{"fcm_token": token})
		} else {
			fmt.Fprintf(os.Stderr, "FCM token: %s\n", token)
		}

		client.OnMessage(func(ctx context.Context, msg fcm.Message) {
			outcome := pipeline.HandleMessage(ctx, msg.Data)
			logger.Debug("push message handled", "persistent_id", msg.PersistentID, "from", msg.From, "outcome", outcome)
		})
		client.OnConnected(func() {
			fmt.Fprintln(os.Stderr, "MCS connected.")
		})
		client.OnDisconnected(func() {
			fmt.Fprintln(os.Stderr, "MCS disconnected.")
		})
		client.OnError(func(err error) {
			fmt.Fprintf(os.Stderr, "FCM error: %v\n", err)
		})

		fmt.Fprintln(os.Stderr, "Listening for push messages (Ctrl+C to stop) ...")
		err = reconnectLoop(ctx, client.Listen, time.Second, time.Minute, logger)
		fmt.Fprintln(os.Stderr, "\nShutting down ...")
		return err
	},
}

func init() {
	listenCmd.Flags().String("sender-id", "", "FCM sender id (project number) to register for")
	listenCmd.Flags().String("app-package", "", "Android package name the registration is made for")
	listenCmd.Flags().String("cert", "", "SHA-1 of the app signing certificate")
	listenCmd.Flags().Bool("show-activation", false, "Print the activation payload of every notification")
	rootCmd.AddCommand(listenCmd)
}

// registrationFromFlags merges the fcm config section with flag overrides.
func registrationFromFlags(cmd *cobra.Command) fcm.Registration {
	var reg fcm.Registration
	if cfg != nil {
		reg = fcm.Registration{
			SenderID:   cfg.FCM.SenderID,
			AppPackage: cfg.FCM.AppPackage,
			CertSHA1:   cfg.FCM.CertSHA1,
		}
	}
	if v, _ := cmd.Flags().GetString("sender-id"); v != "" {
		reg.SenderID = v
	}
	if v, _ := cmd.Flags().GetString("app-package"); v != "" {
		reg.AppPackage = v
	}
	if v, _ := cmd.Flags().GetString("cert"); v != "" {
		reg.CertSHA1 = v
	}
	return reg
}

// reconnectLoop runs listen until ctx is done, waiting between attempts with
// a doubling delay capped at maxDelay. A run that lasted longer than maxDelay
// resets the delay. Missing credentials end the loop.
func reconnectLoop(ctx context.Context, listen func(context.Context) error, minDelay, maxDelay time.Duration, log *slog.Logger) error {
	delay := minDelay
	for {
		started := time.Now()
		err := listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, fcm.ErrNoCredentials) {
			return err
		}
		if time.Since(started) > maxDelay {
			delay = minDelay
		}
		log.Warn("push connection lost, reconnecting", "error", err, "delay", delay)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
