/*
Copyright © 2025 Katie Mulliken <katie@mulliken.net>
*/

// The action commands do what the application's buttons and forms do: load a
// page, find the element that carries the action, confirm with the user, call
// the backend and apply the result to the page.
//
// Example usage:
//
//	librarian delete-book 42
//	librarian borrow --field user_id=5 --field book_id=9
//	librarian return 5 9 --yes
//	librarian pay-fine 5 9
//	librarian send-notifications
//	librarian submit-form '#add-book-form' --field title=Dune --page /books/add
package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/seckatie/librarian/internal/core/controller"
	"github.com/seckatie/librarian/internal/core/page"
	"github.com/spf13/cobra"
)

var deleteBookCmd = &cobra.Command{
	Use:   "delete-book <book-id>",
	Short: "Delete a book from the catalogue",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runDeleteBook(cmd, args[0]); err != nil {
			log.Fatalf("Delete failed: %v", err)
		}
	},
}

func runDeleteBook(cmd *cobra.Command, bookID string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx, cmd, "")
	if err != nil {
		return err
	}
	defer s.Close()

	outcome, err := s.ctrl.DeleteBook(ctx, bookID)
	return outcomeError("delete-book", outcome, err)
}

var borrowCmd = &cobra.Command{
	Use:   "borrow",
	Short: "Submit the borrow form",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runBorrow(cmd); err != nil {
			log.Fatalf("Borrow failed: %v", err)
		}
	},
}

func runBorrow(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pairs, err := cmd.Flags().GetStringArray("field")
	if err != nil {
		return fmt.Errorf("failed to read --field: %w", err)
	}
	fields, err := parseFields(pairs)
	if err != nil {
		return err
	}

	s, err := openSession(ctx, cmd, "")
	if err != nil {
		return err
	}
	defer s.Close()

	outcome, err := s.ctrl.Borrow(ctx, fields)
	if text := s.ctrl.Page().PanelText(page.BorrowResultID); text != "" {
		fmt.Fprintln(cmd.OutOrStdout(), text)
	}
	return outcomeError("borrow", outcome, err)
}

var returnCmd = &cobra.Command{
	Use:   "return <user-id> <book-id>",
	Short: "Return a book a user has borrowed",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runReturn(cmd, args[0], args[1]); err != nil {
			log.Fatalf("Return failed: %v", err)
		}
	},
}

func runReturn(cmd *cobra.Command, userID, bookID string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx, cmd, "/users/"+userID)
	if err != nil {
		return err
	}
	defer s.Close()

	outcome, err := s.ctrl.ReturnBook(ctx, userID, bookID)
	if err := outcomeError("return", outcome, err); err != nil {
		return err
	}
	if n, ok := s.ctrl.Page().BorrowedCount(); ok && outcome == controller.OutcomeSucceeded {
		fmt.Fprintf(cmd.OutOrStdout(), "Books still borrowed: %d\n", n)
	}
	return nil
}

var payFineCmd = &cobra.Command{
	Use:   "pay-fine <user-id> <book-id>",
	Short: "Mark a user's fine for a book as paid",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runPayFine(cmd, args[0], args[1]); err != nil {
			log.Fatalf("Payment failed: %v", err)
		}
	},
}

func runPayFine(cmd *cobra.Command, userID, bookID string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx, cmd, "/users/"+userID+"/fines")
	if err != nil {
		return err
	}
	defer s.Close()

	outcome, err := s.ctrl.PayFine(ctx, userID, bookID)
	return outcomeError("pay-fine", outcome, err)
}

var sendNotificationsCmd = &cobra.Command{
	Use:   "send-notifications",
	Short: "Send overdue notices and due-date reminders",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runSendNotifications(cmd); err != nil {
			log.Fatalf("Sending notifications failed: %v", err)
		}
	},
}

func runSendNotifications(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx, cmd, "")
	if err != nil {
		return err
	}
	defer s.Close()

	outcome, err := s.ctrl.SendNotifications(ctx)
	if text := s.ctrl.Page().PanelText(page.NotificationResultID); text != "" {
		fmt.Fprintln(cmd.OutOrStdout(), text)
	}
	return outcomeError("send-notifications", outcome, err)
}

var submitFormCmd = &cobra.Command{
	Use:   "submit-form <form-selector>",
	Short: "Submit a form on a page, confirming first when it asks to",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runSubmitForm(cmd, args[0]); err != nil {
			log.Fatalf("Form submission failed: %v", err)
		}
	},
}

func runSubmitForm(cmd *cobra.Command, selector string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pairs, err := cmd.Flags().GetStringArray("field")
	if err != nil {
		return fmt.Errorf("failed to read --field: %w", err)
	}
	fields, err := parseFields(pairs)
	if err != nil {
		return err
	}

	s, err := openSession(ctx, cmd, "")
	if err != nil {
		return err
	}
	defer s.Close()

	outcome, err := s.ctrl.SubmitForm(ctx, selector, fields)
	if err := outcomeError("submit-form", outcome, err); err != nil {
		return err
	}
	if outcome == controller.OutcomeSucceeded {
		fmt.Fprintf(cmd.OutOrStdout(), "Now on %s: %s\n", s.ctrl.Page().Path(), s.ctrl.Page().Title())
	}
	return nil
}

func init() {
	rootCmd.AddCommand(deleteBookCmd, borrowCmd, returnCmd, payFineCmd, sendNotificationsCmd, submitFormCmd)

	addSessionFlags(deleteBookCmd, "/books")
	addSessionFlags(borrowCmd, "/borrow")
	addSessionFlags(returnCmd, "")
	addSessionFlags(payFineCmd, "")
	addSessionFlags(sendNotificationsCmd, "/admin/send-notifications")
	addSessionFlags(submitFormCmd, "/")

	borrowCmd.Flags().StringArray("field", nil, "Form field override as key=value (repeatable)")
	submitFormCmd.Flags().StringArray("field", nil, "Form field override as key=value (repeatable)")
}
