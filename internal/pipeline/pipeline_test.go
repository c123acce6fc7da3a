package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubwire/hubwire/internal/transport"
)

func recordingStage(name string, order *[]string) Stage {
	return func(next Handler) Handler {
		return func(ctx context.Context, conn transport.Conn) error {
			*order = append(*order, name)
			return next(ctx, conn)
		}
	}
}

func TestBuilder_StagesRunInAppendOrder(t *testing.T) {
	var order []string

	pipe := NewBuilder().
		Use(recordingStage("first", &order)).
		Use(recordingStage("second", &order)).
		Run(func(ctx context.Context, conn transport.Conn) error {
			order = append(order, "terminal")
			return nil
		}).
		Build()

	require.NoError(t, pipe(context.Background(), nil))
	assert.Equal(t, []string{"first", "second", "terminal"}, order)
}

func TestBuilder_EmptyPipelineIsNoop(t *testing.T) {
	pipe := NewBuilder().Build()
	assert.NoError(t, pipe(context.Background(), nil))
}

func TestBuilder_StageMayShortCircuit(t *testing.T) {
	terminalRan := false
	wantErr := errors.New("rejected")

	pipe := NewBuilder().
		Use(func(next Handler) Handler {
			return func(ctx context.Context, conn transport.Conn) error {
				return wantErr
			}
		}).
		Run(func(ctx context.Context, conn transport.Conn) error {
			terminalRan = true
			return nil
		}).
		Build()

	err := pipe(context.Background(), nil)
	assert.ErrorIs(t, err, wantErr)
	assert.False(t, terminalRan)
}

func TestBuilder_TerminalErrorSurfaces(t *testing.T) {
	wantErr := errors.New("pipeline fault")

	pipe := NewBuilder().
		Run(func(ctx context.Context, conn transport.Conn) error {
			return wantErr
		}).
		Build()

	assert.ErrorIs(t, pipe(context.Background(), nil), wantErr)
}
