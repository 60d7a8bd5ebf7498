package deploy

import (
	"context"
	"fmt"
)

// Publisher turns a staged site directory into a public URL. Real
// implementations would hand the directory to a hosting backend; the
// static publisher only fabricates the address.
type Publisher interface {
	Publish(ctx context.Context, name, dir string) (string, error)
}

// StaticPublisher issues URLs under a fixed domain without shipping the
// directory anywhere.
type StaticPublisher struct {
	Domain string
}

// Publish returns the deployment URL for a site name.
func (p StaticPublisher) Publish(_ context.Context, name, _ string) (string, error) {
	return fmt.Sprintf("https://%s.%s", name, p.Domain), nil
}
