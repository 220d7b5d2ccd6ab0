package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/eloquent-ai/operator-client/internal/model"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <email> <password>",
		Short: "Sign in and refresh the conversation list",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			userID, err := a.auth.Login(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("Signed in as %s (%s)\n", a.auth.DisplayName(), userID)
			return nil
		},
	}
}

func newSignupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "signup <name> <email> <password>",
		Short: "Create an account and sign in",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			userID, err := a.auth.Signup(cmd.Context(), args[0], args[1], args[2])
			if err != nil {
				return err
			}
			fmt.Printf("Account created, signed in as %s (%s)\n", a.auth.DisplayName(), userID)
			return nil
		},
	}
}

func newGuestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "guest",
		Short: "Switch to an anonymous guest session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			a.auth.LoginAsGuest()
			fmt.Println("Guest session started.")
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and clear local state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			a.auth.Logout()
			fmt.Println("Signed out.")
			return nil
		},
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current session identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			switch {
			case a.auth.UserID() != "":
				status := "valid"
				if a.auth.TokenExpired() {
					status = "expired"
				}
				fmt.Printf("User: %s (%s), token %s\n", a.auth.DisplayName(), a.auth.UserID(), status)
			case a.auth.Guest():
				fmt.Println("Guest session.")
			default:
				fmt.Println("Anonymous (not signed in).")
			}
			return nil
		},
	}
}

func newListCmd() *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cached conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			items := a.chat.Summaries()
			if refresh {
				if items, err = a.chat.RefreshConversations(cmd.Context()); err != nil {
					fmt.Fprintln(os.Stderr, "refresh failed, showing cached list")
				}
			}

			if len(items) == 0 {
				fmt.Println("No conversations yet.")
				return nil
			}
			current := a.chat.CurrentConversationID()
			for _, c := range items {
				marker := " "
				if c.ID == current {
					marker = "*"
				}
				fmt.Printf("%s %s  %s\n", marker, c.ID, c.Title)
				if c.LastMessagePreview != "" {
					fmt.Printf("    %s\n", c.LastMessagePreview)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "fetch the list from the backend first")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <conversation-id>",
		Short: "Show a conversation's messages and make it current",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			messages, err := a.chat.SelectConversation(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printMessages(messages)
			return nil
		},
	}
}

func newSendCmd() *cobra.Command {
	var newChat bool
	cmd := &cobra.Command{
		Use:   "send <message>",
		Short: "Send one message and stream the response",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			if newChat {
				a.chat.NewChat()
			} else if id := a.chat.CurrentConversationID(); id != "" {
				// Continuing a conversation needs its history in memory so
				// the refreshed summary reflects the full thread.
				if _, err := a.chat.SelectConversation(cmd.Context(), id); err != nil {
					fmt.Fprintln(os.Stderr, "could not load history, starting fresh")
					a.chat.NewChat()
				}
			}

			a.chat.OnDelta(func(delta string) { fmt.Print(delta) })

			messages, err := a.chat.Send(cmd.Context(), strings.Join(args, " "))
			fmt.Println()
			if err != nil {
				// The failure is already reflected as an assistant message.
				if len(messages) > 0 {
					fmt.Println(messages[len(messages)-1].Content)
				}
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&newChat, "new", false, "start a new conversation")
	return cmd
}

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			if id := a.chat.CurrentConversationID(); id != "" {
				if messages, err := a.chat.SelectConversation(cmd.Context(), id); err == nil {
					printMessages(messages)
				}
			}

			a.chat.OnDelta(func(delta string) { fmt.Print(delta) })

			fmt.Println("Type a message, or /new, /quit.")
			scanner := bufio.NewScanner(os.Stdin)
			for {
				fmt.Print("> ")
				if !scanner.Scan() {
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				switch {
				case line == "":
					continue
				case line == "/quit":
					return nil
				case line == "/new":
					a.chat.NewChat()
					fmt.Println("Started a new conversation.")
					continue
				}

				if _, err := a.chat.Send(cmd.Context(), line); err != nil {
					messages := a.chat.Messages()
					if len(messages) > 0 {
						fmt.Println(messages[len(messages)-1].Content)
					}
				}
				fmt.Println()
			}
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <conversation-id>",
		Short: "Delete a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			a.chat.DeleteConversation(cmd.Context(), args[0])
			fmt.Println("Deleted.")
			return nil
		},
	}
}

func newSummarizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summarize [conversation-id]",
		Short: "Summarize a conversation (default: current)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			id := a.chat.CurrentConversationID()
			if len(args) == 1 {
				id = args[0]
			}
			if id == "" {
				return fmt.Errorf("no conversation selected")
			}

			text, err := a.chat.Summarize(cmd.Context(), id)
			if err != nil {
				return err
			}
			if text == "" {
				text = "No summary available."
			}
			fmt.Println(text)
			return nil
		},
	}
}

func printMessages(messages []model.Message) {
	for _, m := range messages {
		fmt.Printf("[%s] %s\n", m.Role, m.Content)
	}
}
