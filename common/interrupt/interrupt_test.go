// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package interrupt

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestIsCancelled_ReflectsContextState(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	if IsCancelled(ctx) {
		t.Fatalf("fresh context should not be cancelled")
	}
	cancel()
	if !IsCancelled(ctx) {
		t.Errorf("context should be cancelled")
	}
}

func TestRegister_CancellingParentCancelsChild(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	ctx, stop := Register(parent, zap.NewNop())
	defer stop()
	if IsCancelled(ctx) {
		t.Fatalf("registered context should not be cancelled")
	}
	cancel()
	<-ctx.Done()
}

func TestRegister_StopCancelsContext(t *testing.T) {
	ctx, stop := Register(context.Background(), zap.NewNop())
	stop()
	if !IsCancelled(ctx) {
		t.Errorf("stopped context should be cancelled")
	}
}

func TestRegister_SignalCancelsContextAndIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	ctx, stop := Register(context.Background(), zap.New(core))
	defer stop()
	if err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("failed to send signal: %v", err)
	}
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("context was not cancelled")
	}
	if logs.Len() != 1 {
		t.Errorf("unexpected number of log messages: got %d, want 1", logs.Len())
	}
}

func TestErrCanceled_CanBeWrapped(t *testing.T) {
	err := fmt.Errorf("export failed: %w", ErrCanceled)
	if !errors.Is(err, ErrCanceled) {
		t.Errorf("wrapped error should be detected")
	}
}
