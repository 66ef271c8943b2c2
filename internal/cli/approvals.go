package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/remedian/remedian/internal/approval"
)

var approvalReason string

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "List and resolve pending approval requests",
}

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending approvals",
	Run:   runApprovalsList,
}

var approvalsApproveCmd = &cobra.Command{
	Use:   "approve <request-id>",
	Short: "Approve a pending request",
	Args:  cobra.ExactArgs(1),
	Run:   func(cmd *cobra.Command, args []string) { resolveApproval(args[0], true) },
}

var approvalsDenyCmd = &cobra.Command{
	Use:   "deny <request-id>",
	Short: "Deny a pending request",
	Args:  cobra.ExactArgs(1),
	Run:   func(cmd *cobra.Command, args []string) { resolveApproval(args[0], false) },
}

func init() {
	approvalsDenyCmd.Flags().StringVar(&approvalReason, "reason", "", "Reason for the denial")
	approvalsCmd.AddCommand(approvalsListCmd)
	approvalsCmd.AddCommand(approvalsApproveCmd)
	approvalsCmd.AddCommand(approvalsDenyCmd)
}

func runApprovalsList(cmd *cobra.Command, args []string) {
	rt, err := newRuntime()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer rt.close()

	pending := rt.control.PendingApprovals()
	if len(pending) == 0 {
		fmt.Println("No pending approvals")
		return
	}
	for _, req := range pending {
		argsJSON, _ := json.Marshal(req.Arguments)
		color.Yellow("%s  %s %s", req.ID, req.Tool, argsJSON)
		fmt.Printf("    origin %s (%s), reason %s, expires %s\n",
			req.Origin, req.OriginKind, req.Reason, req.ExpiresAt.Format("15:04:05"))
	}
}

func resolveApproval(id string, approve bool) {
	rt, err := newRuntime()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer rt.close()

	responder := os.Getenv("USER")
	if responder == "" {
		responder = "cli"
	}
	err = rt.control.RespondApproval(id, approve, responder, approvalReason)
	if errors.Is(err, approval.ErrNotFound) {
		// The waiting process owns the in-memory gate; update the durable
		// record so its store-guarded resolution observes the conflict.
		status := approval.StatusApproved
		if !approve {
			status = approval.StatusDenied
		}
		err = rt.store.UpdateApprovalStatus(id, status, responder, approvalReason)
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if approve {
		color.Green("approved %s", id)
	} else {
		color.Red("denied %s", id)
	}
}
