// Package hostax is the seam for the host accessibility API adapter that
// transport.AXTransport drives. The real adapter is platform-specific glue
// code (on macOS, a cgo bridge over ApplicationServices/AXUIElement) that
// this module does not implement; Stub satisfies transport.HostAX so the
// daemon still starts and reports a clear, tagged error for every snapshot
// or action request rather than failing to build.
package hostax

import (
	"context"
	"fmt"
)

// Stub is a HostAX implementation that declines every call. A real build
// substitutes a platform adapter at this seam.
type Stub struct{}

func NewStub() *Stub { return &Stub{} }

func (s *Stub) Snapshot(ctx context.Context, app string, maxDepth int) (string, error) {
	return "", fmt.Errorf("hostax: no accessibility adapter wired for this platform")
}

func (s *Stub) PerformAction(ctx context.Context, handle, action, value string) error {
	return fmt.Errorf("hostax: no accessibility adapter wired for this platform")
}
