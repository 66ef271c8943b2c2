package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/remedian/remedian/internal/bus"
	"github.com/remedian/remedian/internal/monitor"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent core until interrupted",
	Run:   runServe,
}

func runServe(cmd *cobra.Command, args []string) {
	printHeader("Remedian core")

	rt, err := newRuntime()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer rt.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt.bus.Subscribe(printEvent)
	go rt.bus.DispatchEvents(ctx)
	go rt.gate.Run(ctx)
	go consumeInstructions(ctx, rt)

	if len(rt.cfg.Kafka.Brokers) > 0 && len(rt.cfg.Kafka.IncidentTopics) > 0 {
		group := rt.cfg.Kafka.ConsumerGroup
		if group == "" {
			group = "remedian"
		}
		consumer := monitor.NewKafkaConsumer(rt.cfg.Kafka.Brokers, group, rt.cfg.Kafka.IncidentTopics)
		intake := monitor.NewIntake(consumer, rt.control)
		go intake.Run(ctx)
		defer consumer.Close()
		fmt.Printf("incident intake on %v\n", rt.cfg.Kafka.IncidentTopics)
	}

	fmt.Printf("remedian %s serving (profile %s, db %s)\n", version, rt.cfg.Policy.DefaultProfile, rt.cfg.DatabasePath())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	fmt.Println("\nshutting down...")
	cancel()
}

// consumeInstructions drains bus instructions onto the agent pool, the
// path transports submit work through.
func consumeInstructions(ctx context.Context, rt *runtime) {
	for {
		ins, err := rt.bus.ConsumeInstruction(ctx)
		if err != nil {
			return
		}
		instruction := ins
		if err := rt.pools.Agent.Submit(ctx, func() {
			rt.loop.HandleInstruction(context.Background(), instruction)
		}); err != nil {
			return
		}
	}
}

func printEvent(ev *bus.Event) {
	switch ev.Kind {
	case bus.EventApprovalPrompt:
		color.Yellow("[%s] %s: %s", ev.Timestamp.Format("15:04:05"), ev.Origin, ev.Content)
	case bus.EventResponse:
		color.Green("[%s] %s: %s", ev.Timestamp.Format("15:04:05"), ev.Origin, ev.Content)
	default:
		fmt.Printf("[%s] %s %s: %s\n", ev.Timestamp.Format("15:04:05"), ev.Kind, ev.Origin, ev.Content)
	}
}
