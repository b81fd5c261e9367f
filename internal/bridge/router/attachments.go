package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/discode/discode/internal/platform"
)

// MarkerEnricher returns an Enricher that appends one marker line per
// attachment so the agent sees what was attached and where to fetch it.
// Downloading and validating attachment content stays with the caller.
func MarkerEnricher() Enricher {
	return func(ctx context.Context, msg platform.InboundMessage) (string, error) {
		if len(msg.Attachments) == 0 {
			return "", nil
		}
		var b strings.Builder
		for i, a := range msg.Attachments {
			if i > 0 {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "[attachment: %s (%d bytes) %s]", a.Filename, a.Size, a.URL)
		}
		return b.String(), nil
	}
}
