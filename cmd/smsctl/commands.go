package main

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/matheus3301/smsdesk/internal/attach"
	"github.com/matheus3301/smsdesk/internal/model"
	"github.com/matheus3301/smsdesk/internal/remote"
)

func newStatusCmd(c *ctl) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context(cmd)
			defer cancel()

			st, err := c.store.Status(ctx)
			if err != nil {
				return fmt.Errorf("cannot reach daemon for profile %q: %w", c.profile, err)
			}
			if c.json {
				return c.outputJSON(st)
			}
			fmt.Fprintf(c.out, "Profile:       %s\n", st.Profile)
			fmt.Fprintf(c.out, "Uptime:        %s\n", (time.Duration(st.UptimeMS) * time.Millisecond).Truncate(time.Second))
			fmt.Fprintf(c.out, "Conversations: %d\n", st.Conversations)
			fmt.Fprintf(c.out, "Messages:      %d\n", st.Messages)
			fmt.Fprintf(c.out, "Queued sends:  %d\n", st.QueuedSends)
			return nil
		},
	}
}

func newConversationsCmd(c *ctl) *cobra.Command {
	var (
		search string
		offset int
		limit  int
	)
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"ls"},
		Short:   "List conversations, most recent first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context(cmd)
			defer cancel()

			resp, err := c.store.ListConversations(ctx, remote.ListConversationsRequest{
				Offset:   offset,
				PageSize: limit,
				Search:   search,
			})
			if err != nil {
				return err
			}
			if c.json {
				return c.outputJSON(resp)
			}

			tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PHONE\tUNREAD\tMSGS\tLAST\tPREVIEW")
			for _, conv := range resp.Conversations {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n",
					conv.Phone, conv.UnreadCount, conv.MessageCount,
					formatTime(conv.LastMessageAt), oneLine(conv.LastMessagePreview))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "%d of %d\n", len(resp.Conversations), resp.TotalCount)
			return nil
		},
	}
	cmd.Flags().StringVar(&search, "search", "", "only conversations whose phone contains this text")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of conversations to skip")
	cmd.Flags().IntVar(&limit, "limit", 25, "page size")
	return cmd
}

func newMessagesCmd(c *ctl) *cobra.Command {
	var (
		grep   string
		offset int
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "messages <phone>",
		Short: "Show a page of a conversation, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			phone, err := c.phone(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := c.context(cmd)
			defer cancel()

			resp, err := c.store.ListMessages(ctx, remote.ListMessagesRequest{
				Conversation: phone,
				Offset:       offset,
				PageSize:     limit,
				Query:        grep,
			})
			if err != nil {
				return err
			}
			if c.json {
				return c.outputJSON(resp)
			}

			for _, m := range resp.Messages {
				arrow := "<"
				if m.Direction == model.Outbound {
					arrow = ">"
				}
				state := ""
				if m.Direction == model.Inbound && !m.Read {
					state = " (unread)"
				} else if m.Delivery != model.DeliveryNone {
					state = " (" + string(m.Delivery) + ")"
				}
				fmt.Fprintf(c.out, "%s %s [%s]%s\n", arrow, formatTime(m.CreatedAt), m.ID, state)
				if m.Body != "" {
					fmt.Fprintf(c.out, "  %s\n", strings.ReplaceAll(m.Body, "\n", "\n  "))
				}
				for _, a := range m.Attachments {
					fmt.Fprintf(c.out, "  + %s %s\n", a.Filename, a.URL)
				}
			}
			if resp.HasMore {
				fmt.Fprintf(c.out, "more: --offset %d\n", offset+limit)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&grep, "grep", "", "only messages whose body contains this text")
	cmd.Flags().IntVar(&offset, "offset", 0, "messages to skip back from the newest")
	cmd.Flags().IntVar(&limit, "limit", 30, "page size")
	return cmd
}

func newSendCmd(c *ctl) *cobra.Command {
	var files []string
	cmd := &cobra.Command{
		Use:   "send <phone> [text...]",
		Short: "Queue an outbound message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			phone, err := c.phone(args[0])
			if err != nil {
				return err
			}
			req := remote.SendRequest{
				Conversation: phone,
				ClientMsgID:  uuid.NewString(),
				Text:         strings.Join(args[1:], " "),
			}
			for _, path := range files {
				att, err := readAttachment(path)
				if err != nil {
					return err
				}
				req.Attachments = append(req.Attachments, att)
			}
			if strings.TrimSpace(req.Text) == "" && len(req.Attachments) == 0 {
				return errors.New("nothing to send")
			}

			ctx, cancel := c.context(cmd)
			defer cancel()
			resp, err := c.store.Send(ctx, req)
			if err != nil {
				return err
			}
			if c.json {
				return c.outputJSON(resp)
			}
			fmt.Fprintf(c.out, "queued %s\n", resp.ClientMsgID)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&files, "attach", nil, "file to attach (repeatable)")
	return cmd
}

func newMarkCmd(c *ctl, read bool) *cobra.Command {
	use, short := "mark-unread <phone> [message-id...]", "Mark inbound messages unread"
	if read {
		use, short = "mark-read <phone> [message-id...]", "Mark inbound messages read"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Long:  short + ". Without message ids every inbound message of the conversation is marked.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			phone, err := c.phone(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := c.context(cmd)
			defer cancel()

			req := remote.MarkRequest{Conversation: phone, MessageIDs: args[1:]}
			if read {
				err = c.store.MarkRead(ctx, req)
			} else {
				err = c.store.MarkUnread(ctx, req)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, "ok")
			return nil
		},
	}
}

func newDeleteCmd(c *ctl) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <phone> [message-id...]",
		Short: "Delete messages, or the whole conversation when no ids are given",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			phone, err := c.phone(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := c.context(cmd)
			defer cancel()

			if len(args) == 1 {
				if !yes {
					return fmt.Errorf("deleting every message with %s requires --yes", phone)
				}
				if err := c.store.DeleteConversation(ctx, phone); err != nil {
					return err
				}
				fmt.Fprintf(c.out, "deleted conversation %s\n", phone)
				return nil
			}

			if err := c.store.DeleteMessages(ctx, remote.DeleteRequest{Conversation: phone, MessageIDs: args[1:]}); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "deleted %d message(s)\n", len(args)-1)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm deleting a whole conversation")
	return cmd
}

func readAttachment(path string) (remote.OutgoingAttachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return remote.OutgoingAttachment{}, fmt.Errorf("attach: %w", err)
	}
	ct := mime.TypeByExtension(filepath.Ext(path))
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	return remote.OutgoingAttachment{
		Filename:    attach.SanitizeFilename(filepath.Base(path)),
		ContentType: ct,
		Data:        data,
	}, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
