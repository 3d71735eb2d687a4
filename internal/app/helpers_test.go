package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/skyvaultex/chrono-license-service/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordedNotice struct {
	kind   string
	notice domain.LicenseNotice
}

// recordingNotifier captures notices; fail makes every call return an error.
type recordingNotifier struct {
	mu      sync.Mutex
	notices []recordedNotice
	fail    bool
}

func (n *recordingNotifier) record(kind string, notice domain.LicenseNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, recordedNotice{kind: kind, notice: notice})
	if n.fail {
		return errors.New("smtp exploded")
	}
	return nil
}

func (n *recordingNotifier) LicenseIssued(_ context.Context, notice domain.LicenseNotice) error {
	return n.record("issued", notice)
}

func (n *recordingNotifier) LicenseRevoked(_ context.Context, notice domain.LicenseNotice) error {
	return n.record("revoked", notice)
}

func (n *recordingNotifier) LicenseExpiring(_ context.Context, notice domain.LicenseNotice) error {
	return n.record("expiring", notice)
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.notices))
	for _, r := range n.notices {
		out = append(out, r.kind)
	}
	return out
}
