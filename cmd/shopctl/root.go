package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/angelmondragon/packfinderz-storefront/internal/storefront"
	"github.com/angelmondragon/packfinderz-storefront/pkg/config"
	pkgerrors "github.com/angelmondragon/packfinderz-storefront/pkg/errors"
	"github.com/angelmondragon/packfinderz-storefront/pkg/logger"
)

// app carries the per-invocation client. Commands resolve it in PersistentPreRunE.
type app struct {
	cfg         config.Config
	logg        *logger.Logger
	opts        []storefront.Option
	client      *storefront.Client
	dumpMetrics bool
}

func newRootCommand(cfg *config.Config, logg *logger.Logger, opts ...storefront.Option) *cobra.Command {
	a := &app{cfg: *cfg, logg: logg, opts: opts}

	root := &cobra.Command{
		Use:           "shopctl",
		Short:         "Drive a storefront cart and wishlist from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.close(cmd.ErrOrStderr())
		},
	}
	root.PersistentFlags().StringVar(&a.cfg.Identity.Profile, "profile", a.cfg.Identity.Profile, "identity profile to act as")
	root.PersistentFlags().StringVar(&a.cfg.API.BaseURL, "api", a.cfg.API.BaseURL, "commerce API base url")
	root.PersistentFlags().BoolVar(&a.dumpMetrics, "metrics", false, "print client metrics to stderr on exit")

	root.AddCommand(
		newCartCommand(a),
		newWishlistCommand(a),
		newProductCommand(a),
		newLoginCommand(a),
		newRegisterCommand(a),
		newLogoutCommand(a),
		newWhoamiCommand(a),
	)

	for _, cmd := range root.Commands() {
		wrapErrors(cmd)
	}
	return root
}

func (a *app) open(cmd *cobra.Command) error {
	if a.client != nil {
		return nil
	}
	if a.dumpMetrics {
		a.cfg.Metrics.Enabled = true
	}
	if err := a.cfg.Validate(); err != nil {
		return err
	}
	opts := append([]storefront.Option{storefront.WithLogger(a.logg)}, a.opts...)
	client, err := storefront.New(cmd.Context(), a.cfg, opts...)
	if err != nil {
		return fmt.Errorf("start client: %w", err)
	}
	a.client = client
	return nil
}

func (a *app) close(stderr io.Writer) error {
	if a.client == nil {
		return nil
	}
	defer func() { a.client = nil }()
	if a.dumpMetrics {
		if gatherer := a.client.Metrics(); gatherer != nil {
			families, err := gatherer.Gather()
			if err == nil {
				for _, mf := range families {
					if _, err := expfmt.MetricFamilyToText(stderr, mf); err != nil {
						break
					}
				}
			}
		}
	}
	return a.client.Close()
}

// wrapErrors prints failures the way a shopper would see them, with the code
// for scripting, and closes the client even when the command failed.
func wrapErrors(cmd *cobra.Command) {
	for _, child := range cmd.Commands() {
		wrapErrors(child)
	}
	run := cmd.RunE
	if run == nil {
		return
	}
	cmd.RunE = func(c *cobra.Command, args []string) error {
		err := run(c, args)
		if err == nil {
			return nil
		}
		fmt.Fprintln(c.ErrOrStderr(), describeError(err))
		if root := c.Root(); root.PersistentPostRunE != nil {
			_ = root.PersistentPostRunE(c, args)
		}
		return err
	}
}

func describeError(err error) string {
	if pkgerrors.As(err) == nil {
		return "error: " + err.Error()
	}
	code := pkgerrors.CodeOf(err)
	msg := pkgerrors.PublicMessage(err)
	if status := pkgerrors.StatusOf(err); status != 0 {
		return fmt.Sprintf("error [%s %d]: %s", strings.ToLower(string(code)), status, msg)
	}
	return fmt.Sprintf("error [%s]: %s", strings.ToLower(string(code)), msg)
}
