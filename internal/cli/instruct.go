package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/remedian/remedian/internal/control"
)

var (
	instructMessage   string
	instructSessionID string
	instructProfile   string
)

var instructCmd = &cobra.Command{
	Use:   "instruct",
	Short: "Send one instruction to the agent and wait for the result",
	Run:   runInstruct,
}

func init() {
	instructCmd.Flags().StringVarP(&instructMessage, "message", "m", "", "Instruction to send")
	instructCmd.Flags().StringVarP(&instructSessionID, "session", "s", "cli:default", "Session ID")
	instructCmd.Flags().StringVarP(&instructProfile, "profile", "p", "", "Policy profile (default from config)")
}

func runInstruct(cmd *cobra.Command, args []string) {
	if instructMessage == "" {
		fmt.Println("Error: --message is required")
		os.Exit(1)
	}

	printHeader("Remedian agent")

	rt, err := newRuntime()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer rt.close()

	if rt.cfg.OpenAI.APIKey == "" {
		fmt.Println("Error: API key not found. Set REMEDIAN_OPENAI_API_KEY or use config.json")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rt.bus.Subscribe(printEvent)
	go rt.bus.DispatchEvents(ctx)
	go rt.gate.Run(ctx)

	fmt.Println("Thinking...")
	err = rt.control.SubmitMessage(ctx, instructSessionID, instructMessage, control.Meta{
		Profile: instructProfile,
		Actor:   "cli",
	})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	rt.pools.Agent.Wait()
}
