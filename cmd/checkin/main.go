package main

import (
	"context"
	"os"

	"forum-checkin/cmd/checkin/commands"
	"forum-checkin/lib/serviceutil"
	"forum-checkin/lib/telemetry"
)

func main() {
	ctx := serviceutil.SignalContext()

	// telemetry is optional, a missing telemetry.json5 just runs bare
	tel, err := telemetry.SetupFromEnv(ctx, "checkin")
	if err == nil {
		defer tel.Shutdown(context.Background())
	} else if !os.IsNotExist(err) {
		serviceutil.Fatal("setup telemetry", err)
	}

	commands.ExecuteContext(ctx)
}
