package app

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/hitoshi/blogdigest/internal/classifier"
	"github.com/hitoshi/blogdigest/internal/post"
	"github.com/hitoshi/blogdigest/internal/publisher"
	"github.com/hitoshi/blogdigest/internal/subscription"
)

func newPublisherCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publisher",
		Short: "Manage publishers",
	}

	var pubType string
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a publisher",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.publisherService(cmd)
			if err != nil {
				return err
			}
			pub, created, err := svc.Register(cmd.Context(), args[0], pubType)
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "Registered %s (%s)\n", pub.Name, pub.Type)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Already registered: %s (%s)\n", pub.Name, pub.Type)
			}
			return nil
		},
	}
	add.Flags().StringVar(&pubType, "type", "techteam", "Publisher type: techteam, individual or community")

	var listType, search string
	list := &cobra.Command{
		Use:   "list",
		Short: "List publishers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.publisherService(cmd)
			if err != nil {
				return err
			}
			pubs, err := svc.List(cmd.Context(), listType, search)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(pubs))
			for _, p := range pubs {
				rows = append(rows, []string{p.Name, string(p.Type), formatTime(p.LastScrapedAt)})
			}
			writeTable(cmd.OutOrStdout(), []string{"NAME", "TYPE", "LAST SCRAPED"}, rows)
			return nil
		},
	}
	list.Flags().StringVar(&listType, "type", "", "Filter by publisher type")
	list.Flags().StringVar(&search, "search", "", "Filter by name substring")

	sync := &cobra.Command{
		Use:   "sync",
		Short: "Register every publisher defined in the sources file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.publisherService(cmd)
			if err != nil {
				return err
			}
			scfg, err := ctx.sourceConfig()
			if err != nil {
				return err
			}
			created := 0
			for _, src := range scfg.Sources {
				_, ok, err := svc.Register(cmd.Context(), src.Name, string(src.PublisherType()))
				if err != nil {
					return err
				}
				if ok {
					created++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %d of %d sources\n", created, len(scfg.Sources))
			return nil
		},
	}

	cmd.AddCommand(add, list, sync)
	return cmd
}

func newSubscriptionCommands(ctx *commandContext) []*cobra.Command {
	var topic string
	var frequency int

	subscribe := &cobra.Command{
		Use:   "subscribe <email> <publisher>...",
		Short: "Subscribe a recipient to publishers for a topic",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.subscriptionService(cmd)
			if err != nil {
				return err
			}
			freq := frequency
			if !cmd.Flags().Changed("frequency") {
				freq = ctx.cfg.DefaultFrequencyDays
			}
			for _, name := range args[1:] {
				sub, err := svc.Subscribe(cmd.Context(), subscription.SubscribeRequest{
					Email:           args[0],
					Publisher:       name,
					Topic:           topic,
					FrequencyInDays: freq,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Subscribed %s to %s / %s every %d day(s)\n",
					sub.Email, name, sub.Topic, sub.FrequencyInDays)
			}
			return nil
		},
	}
	subscribe.Flags().StringVar(&topic, "topic", "", "Topic to subscribe to")
	subscribe.Flags().IntVar(&frequency, "frequency", 0, "Digest frequency in days (default DEFAULT_FREQUENCY_DAYS)")
	_ = subscribe.MarkFlagRequired("topic")

	var unsubTopic string
	unsubscribe := &cobra.Command{
		Use:   "unsubscribe <email> <publisher>",
		Short: "Deactivate a subscription",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.subscriptionService(cmd)
			if err != nil {
				return err
			}
			if err := svc.Unsubscribe(cmd.Context(), args[0], args[1], unsubTopic); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Unsubscribed %s from %s / %s\n", args[0], args[1], unsubTopic)
			return nil
		},
	}
	unsubscribe.Flags().StringVar(&unsubTopic, "topic", "", "Topic of the subscription")
	_ = unsubscribe.MarkFlagRequired("topic")

	var resumeTopic string
	resume := &cobra.Command{
		Use:   "resume <email> <publisher>",
		Short: "Reactivate a subscription from now on",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.subscriptionService(cmd)
			if err != nil {
				return err
			}
			sub, err := svc.Resume(cmd.Context(), args[0], args[1], resumeTopic)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Resumed %s / %s / %s\n", sub.Email, args[1], sub.Topic)
			return nil
		},
	}
	resume.Flags().StringVar(&resumeTopic, "topic", "", "Topic of the subscription")
	_ = resume.MarkFlagRequired("topic")

	var freqTopic string
	setFrequency := &cobra.Command{
		Use:   "set-frequency <email> <publisher> <days>",
		Short: "Change the digest frequency of a subscription",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			days, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("invalid days %q: %w", args[2], err)
			}
			svc, err := ctx.subscriptionService(cmd)
			if err != nil {
				return err
			}
			sub, err := svc.UpdateFrequency(cmd.Context(), args[0], args[1], freqTopic, days)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s / %s / %s now every %d day(s)\n", sub.Email, args[1], sub.Topic, sub.FrequencyInDays)
			return nil
		},
	}
	setFrequency.Flags().StringVar(&freqTopic, "topic", "", "Topic of the subscription")
	_ = setFrequency.MarkFlagRequired("topic")

	list := &cobra.Command{
		Use:   "subscriptions <email>",
		Short: "List a recipient's subscriptions grouped by topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.subscriptionService(cmd)
			if err != nil {
				return err
			}
			groups, err := svc.ListByEmail(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			var rows [][]string
			for _, g := range groups {
				for _, p := range g.Publishers {
					rows = append(rows, []string{
						g.Topic.String(),
						p.Publisher,
						strconv.Itoa(p.FrequencyInDays),
						strconv.FormatBool(p.Active),
						formatTime(p.LastNotifiedAt),
					})
				}
			}
			writeTable(cmd.OutOrStdout(), []string{"TOPIC", "PUBLISHER", "FREQUENCY", "ACTIVE", "LAST NOTIFIED"}, rows)
			return nil
		},
	}

	return []*cobra.Command{subscribe, unsubscribe, resume, setFrequency, list}
}

func newPostCommands(ctx *commandContext) []*cobra.Command {
	label := &cobra.Command{
		Use:   "label <post-id> <topic>",
		Short: "Confirm the topic of a post",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.postService(cmd, nil)
			if err != nil {
				return err
			}
			p, err := svc.Relabel(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Labelled %s as %s\n", p.URL, p.Topic)
			return nil
		},
	}

	var autoLimit int
	autolabel := &cobra.Command{
		Use:   "autolabel",
		Short: "Confirm topics of pending posts the classifier is certain about",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cls, err := classifier.New(ctx.cfg.Classifier, ctx.cfg.ModelPath, ctx.logger)
			if err != nil {
				return err
			}
			svc, err := ctx.postService(cmd, cls)
			if err != nil {
				return err
			}
			res, err := svc.AutoLabel(cmd.Context(), autoLimit)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "examined=%d labelled=%d uncertain=%d failed=%d\n",
				res.Examined, res.Labelled, res.Uncertain, res.Failed)
			return nil
		},
	}
	autolabel.Flags().IntVar(&autoLimit, "limit", post.DefaultPendingLimit, "Maximum number of posts to examine")

	var pendingLimit int
	pending := &cobra.Command{
		Use:   "pending",
		Short: "List posts awaiting a confirmed topic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.postService(cmd, nil)
			if err != nil {
				return err
			}
			posts, err := svc.ListPending(cmd.Context(), pendingLimit)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(posts))
			for _, p := range posts {
				rows = append(rows, []string{p.ID, string(p.Topic), p.Title, p.URL})
			}
			writeTable(cmd.OutOrStdout(), []string{"ID", "GUESS", "TITLE", "URL"}, rows)
			return nil
		},
	}
	pending.Flags().IntVar(&pendingLimit, "limit", post.DefaultPendingLimit, "Maximum number of posts to list")

	return []*cobra.Command{label, autolabel, pending}
}

func (c *commandContext) publisherService(cmd *cobra.Command) (*publisher.Service, error) {
	b, err := c.ensureBackend(cmd.Context())
	if err != nil {
		return nil, err
	}
	return publisher.NewService(b.Store.Repos().Publishers), nil
}

func (c *commandContext) subscriptionService(cmd *cobra.Command) (*subscription.Service, error) {
	b, err := c.ensureBackend(cmd.Context())
	if err != nil {
		return nil, err
	}
	repos := b.Store.Repos()
	return subscription.NewService(repos.Subscriptions, repos.Publishers).WithClock(c.opts.Now), nil
}

func (c *commandContext) postService(cmd *cobra.Command, cls classifier.Classifier) (*post.Service, error) {
	b, err := c.ensureBackend(cmd.Context())
	if err != nil {
		return nil, err
	}
	return post.NewService(b.Store.Repos().Posts, cls, c.logger).WithClock(c.opts.Now), nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
