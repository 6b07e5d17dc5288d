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
	"os"
	"os/signal"
	"syscall"

	"github.com/Sin7Y/ola-os-sub000/common"
	"go.uber.org/zap"
)

// ErrCanceled is reported by operations stopped through an interrupt. The
// database is left in a consistent state and the operation can be resumed.
const ErrCanceled = common.ConstError("interrupted")

// IsCancelled reports whether ctx is done without blocking.
func IsCancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// Register returns a context cancelled on SIGTERM or SIGINT, so that
// long-running tree operations stop at a point where the database is
// consistent. The returned stop function releases the signal handler.
func Register(parent context.Context, log *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(signals)
		select {
		case sig := <-signals:
			log.Warn("closing, please wait until proper shutdown to prevent database corruption",
				zap.Stringer("signal", sig))
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
