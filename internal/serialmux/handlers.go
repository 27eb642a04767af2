package serialmux

import (
	"context"
	"fmt"
	"log"
)

// Command log directions.
const (
	DirectionTx = "tx"
	DirectionRx = "rx"
)

// CommandLog records every line exchanged with the actuator.
type CommandLog interface {
	LogCommand(ctx context.Context, direction, message string, ok bool) error
}

// HandleReply logs one line read from the actuator. A nil cmdLog only logs
// to the process log.
func HandleReply(ctx context.Context, cmdLog CommandLog, line string) error {
	kind := ClassifyReply(line)
	switch kind {
	case ReplyError:
		log.Printf("actuator reported error: %s", line)
	case ReplyUnknown:
		logf("unrecognised actuator reply: %q", line)
	}
	if cmdLog == nil {
		return nil
	}
	if err := cmdLog.LogCommand(ctx, DirectionRx, line, kind != ReplyError); err != nil {
		return fmt.Errorf("failed to log actuator reply: %w", err)
	}
	return nil
}
