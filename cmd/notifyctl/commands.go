package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/notifysync/notifysync/internal/notification"
	"github.com/notifysync/notifysync/internal/notify"
	"github.com/notifysync/notifysync/internal/registration"
)

func newRegisterCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Register this device for push notifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := o.open(cmd, sessionOptions{})
			if err != nil {
				return err
			}
			defer s.Close()

			reg, err := s.agg.Register(cmd.Context())
			if reg != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "registered endpoint %s (%s)\n", reg.RegistrationID, reg.Platform)
			}
			return err
		},
	}
}

func newUnregisterCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "unregister",
		Short: "Stop push notifications to this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := o.open(cmd, sessionOptions{})
			if err != nil {
				return err
			}
			defer s.Close()

			out := cmd.OutOrStdout()
			if !s.agg.Snapshot().Registration.IsRegistered() {
				fmt.Fprintln(out, "not registered")
				return nil
			}

			if err := s.agg.Unregister(cmd.Context()); err != nil {
				return err
			}
			if lastErr := s.agg.Snapshot().Registration.LastError; lastErr != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: backend did not confirm: %v\n", lastErr)
			}
			fmt.Fprintln(out, "unregistered")
			return nil
		},
	}
}

func newStatusCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show registration state, unread count and backend health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := o.open(cmd, sessionOptions{})
			if err != nil {
				return err
			}
			defer s.Close()

			printStatus(cmd.OutOrStdout(), s.agg)
			return nil
		},
	}
}

func printStatus(w io.Writer, agg *notify.Aggregator) {
	snap := agg.Snapshot()
	reg := snap.Registration

	fmt.Fprintf(w, "registration: %s\n", reg.Status)
	fmt.Fprintf(w, "permission:   %s\n", reg.Permission)
	if reg.Registration != nil {
		fmt.Fprintf(w, "endpoint:     %s\n", reg.Registration.RegistrationID)
	}
	if reg.LastError != nil {
		fmt.Fprintf(w, "last error:   %v\n", reg.LastError)
	}

	if snap.Feed.LastError != nil {
		fmt.Fprintf(w, "feed:         unavailable (%v)\n", snap.Feed.LastError)
	} else {
		fmt.Fprintf(w, "unread:       %d of %d\n", snap.Feed.UnreadCount, snap.Feed.TotalCount)
	}

	if h := agg.TransportHealth(); h != nil {
		fmt.Fprintf(w, "backend:      %s\n", h.State)
	}
}

func newFeedCmd(o *options) *cobra.Command {
	var (
		rawCategory string
		unreadOnly  bool
		pages       int
	)

	cmd := &cobra.Command{
		Use:   "feed",
		Short: "List notifications, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			category, err := parseCategory(rawCategory)
			if err != nil {
				return err
			}
			if pages < 1 {
				return errors.New("--pages must be at least 1")
			}

			s, err := o.open(cmd, sessionOptions{})
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			if err := s.requireFeed(); err != nil {
				return err
			}
			if err := s.agg.FilterByCategory(ctx, category); err != nil {
				return err
			}
			if err := s.agg.FilterUnreadOnly(ctx, unreadOnly); err != nil {
				return err
			}
			for i := 1; i < pages && s.agg.Snapshot().Feed.HasMore; i++ {
				if err := s.agg.LoadMore(ctx); err != nil {
					return err
				}
			}

			printFeed(cmd.OutOrStdout(), s.agg.Snapshot())
			return nil
		},
	}

	cmd.Flags().StringVar(&rawCategory, "category", "", "only show this category")
	cmd.Flags().BoolVar(&unreadOnly, "unread", false, "only show unread notifications")
	cmd.Flags().IntVar(&pages, "pages", 1, "number of pages to load")

	return cmd
}

func printFeed(w io.Writer, snap notify.Snapshot) {
	feed := snap.Feed

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCATEGORY\tPRIORITY\tREAD\tCREATED\tTITLE")
	for _, item := range feed.Items {
		read := ""
		if item.Read {
			read = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			item.ID, item.Category, item.Priority, read,
			item.CreatedAt.Local().Format("2006-01-02 15:04"), item.Title)
	}
	_ = tw.Flush() //nolint:errcheck // writing to the command output

	more := ""
	if feed.HasMore {
		more = ", more available"
	}
	fmt.Fprintf(w, "showing %d of %d, %d unread%s\n", len(feed.Items), feed.TotalCount, feed.UnreadCount, more)
}

func newReadCmd(o *options) *cobra.Command {
	var (
		all         bool
		rawCategory string
	)

	cmd := &cobra.Command{
		Use:   "read [id]",
		Short: "Mark one notification, or all with --all, as read",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			category, err := parseCategory(rawCategory)
			if err != nil {
				return err
			}
			if err := exactlyOneTarget(all, args); err != nil {
				return err
			}

			s, err := o.open(cmd, sessionOptions{})
			if err != nil {
				return err
			}
			defer s.Close()

			out := cmd.OutOrStdout()
			if all {
				n, err := s.agg.MarkAllAsRead(cmd.Context(), category)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "marked %d read\n", n)
				return nil
			}

			if err := s.agg.MarkAsRead(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(out, "marked %s read\n", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "mark every notification read")
	cmd.Flags().StringVar(&rawCategory, "category", "", "with --all, only this category")

	return cmd
}

func newDeleteCmd(o *options) *cobra.Command {
	var (
		all         bool
		rawCategory string
	)

	cmd := &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete one notification, or all with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			category, err := parseCategory(rawCategory)
			if err != nil {
				return err
			}
			if err := exactlyOneTarget(all, args); err != nil {
				return err
			}

			s, err := o.open(cmd, sessionOptions{})
			if err != nil {
				return err
			}
			defer s.Close()

			out := cmd.OutOrStdout()
			if all {
				n, err := s.agg.ClearAll(cmd.Context(), category)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "deleted %d\n", n)
				return nil
			}

			if err := s.agg.DeleteNotification(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(out, "deleted %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "delete every notification")
	cmd.Flags().StringVar(&rawCategory, "category", "", "with --all, only this category")

	return cmd
}

func exactlyOneTarget(all bool, args []string) error {
	switch {
	case all && len(args) > 0:
		return errors.New("pass either an id or --all, not both")
	case !all && len(args) == 0:
		return errors.New("pass a notification id or --all")
	default:
		return nil
	}
}

func newPrefsCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Show notification preferences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := o.open(cmd, sessionOptions{})
			if err != nil {
				return err
			}
			defer s.Close()

			prefs, err := s.agg.GetPreferences(cmd.Context())
			if err != nil {
				return err
			}
			printPrefs(cmd.OutOrStdout(), prefs)
			return nil
		},
	}

	cmd.AddCommand(newPrefsSetCmd(o))
	return cmd
}

func newPrefsSetCmd(o *options) *cobra.Command {
	var (
		push, email     bool
		enable, disable []string
		quietStart      string
		quietEnd        string
		clearQuietHours bool
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change notification preferences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := o.open(cmd, sessionOptions{})
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			prefs, err := s.agg.GetPreferences(ctx)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("push") {
				prefs.PushEnabled = push
			}
			if flags.Changed("email") {
				prefs.EmailEnabled = email
			}
			if err := setCategories(prefs, enable, true); err != nil {
				return err
			}
			if err := setCategories(prefs, disable, false); err != nil {
				return err
			}
			if flags.Changed("quiet-start") {
				prefs.QuietHoursStart = &quietStart
			}
			if flags.Changed("quiet-end") {
				prefs.QuietHoursEnd = &quietEnd
			}
			if clearQuietHours {
				prefs.QuietHoursStart = nil
				prefs.QuietHoursEnd = nil
			}

			updated, err := s.agg.UpdatePreferences(ctx, *prefs)
			if err != nil {
				return err
			}
			printPrefs(cmd.OutOrStdout(), updated)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&push, "push", true, "enable push notifications")
	flags.BoolVar(&email, "email", false, "enable email notifications")
	flags.StringSliceVar(&enable, "enable", nil, "categories to enable")
	flags.StringSliceVar(&disable, "disable", nil, "categories to disable")
	flags.StringVar(&quietStart, "quiet-start", "", "start of quiet hours, HH:MM")
	flags.StringVar(&quietEnd, "quiet-end", "", "end of quiet hours, HH:MM")
	flags.BoolVar(&clearQuietHours, "clear-quiet-hours", false, "remove quiet hours")

	return cmd
}

func setCategories(prefs *notification.Preferences, raw []string, enabled bool) error {
	for _, r := range raw {
		c, err := parseCategory(r)
		if err != nil {
			return err
		}
		if prefs.Categories == nil {
			prefs.Categories = make(map[notification.Category]bool)
		}
		prefs.Categories[*c] = enabled
	}
	return nil
}

func printPrefs(w io.Writer, prefs *notification.Preferences) {
	fmt.Fprintf(w, "push:  %t\n", prefs.PushEnabled)
	fmt.Fprintf(w, "email: %t\n", prefs.EmailEnabled)
	if prefs.QuietHoursStart != nil && prefs.QuietHoursEnd != nil {
		fmt.Fprintf(w, "quiet: %s-%s\n", *prefs.QuietHoursStart, *prefs.QuietHoursEnd)
	}
	for _, c := range notification.Categories {
		state := "on"
		if !prefs.CategoryEnabled(c) {
			state = "off"
		}
		fmt.Fprintf(w, "  %-12s %s\n", c, state)
	}
}

func newWatchCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Register automatically and print unread count changes until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := o.open(cmd, sessionOptions{autoRegister: true})
			if err != nil {
				return err
			}
			defer s.Close()

			out := cmd.OutOrStdout()
			printStatus(out, s.agg)

			lastUnread := s.agg.Snapshot().Feed.UnreadCount
			lastStatus := s.agg.Snapshot().Registration.Status
			changes := make(chan notify.Snapshot, 16)
			unsubscribe := s.agg.Subscribe(func(snap notify.Snapshot) {
				select {
				case changes <- snap:
				default:
				}
			})
			defer unsubscribe()

			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case snap := <-changes:
					if snap.Feed.UnreadCount != lastUnread {
						lastUnread = snap.Feed.UnreadCount
						fmt.Fprintf(out, "unread: %d\n", lastUnread)
					}
					if status := snap.Registration.Status; status != lastStatus && !isTransient(status) {
						lastStatus = status
						fmt.Fprintf(out, "registration: %s\n", status)
					}
				}
			}
		},
	}
}

func isTransient(s registration.Status) bool {
	return registration.State{Status: s}.IsLoading()
}
