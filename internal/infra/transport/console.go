package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/boddenberg/wa-commerce-bot/internal/domain"
	"github.com/boddenberg/wa-commerce-bot/internal/port"
)

// Console prints outbound messages to a writer. Media references are local
// file paths.
type Console struct {
	mu  sync.Mutex
	out io.Writer
}

var _ port.Transport = (*Console)(nil)

// NewConsole writes to out, or stdout when out is nil.
func NewConsole(out io.Writer) *Console {
	if out == nil {
		out = os.Stdout
	}
	return &Console{out: out}
}

func (c *Console) SendText(_ context.Context, to, text, _ string) error {
	return c.printf("[bot → %s]\n%s\n\n", to, text)
}

func (c *Console) SendImage(_ context.Context, to, url, _ string) error {
	return c.printf("[bot → %s] 🖼  %s\n\n", to, url)
}

func (c *Console) SendDocument(_ context.Context, to, url, filename, caption, _ string) error {
	line := fmt.Sprintf("[bot → %s] 📄 %s (%s)", to, filename, url)
	if caption != "" {
		line += "\n" + caption
	}
	return c.printf("%s\n\n", line)
}

// DownloadMedia reads ref from disk.
func (c *Console) DownloadMedia(_ context.Context, ref string) ([]byte, error) {
	b, err := os.ReadFile(strings.TrimPrefix(ref, "file://"))
	if err != nil {
		return nil, &domain.ErrNotFound{Resource: "media", ID: ref}
	}
	return b, nil
}

func (c *Console) Status(context.Context) domain.TransportStatus {
	return domain.TransportStatus{Connected: true, Transport: "console", Account: "local"}
}

func (c *Console) printf(format string, args ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.out, format, args...)
	return err
}
