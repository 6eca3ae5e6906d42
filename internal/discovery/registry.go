// Package discovery resolves backend service names to base URLs.
//
// Every service carries a local and a cloud URL; the registry mode picks
// which one Resolve returns, so the same route table serves a laptop and
// a hosted deployment. URLs can be replaced at runtime with Update.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"
)

// Mode selects which URL set a registry resolves to.
type Mode string

// Registry modes.
const (
	ModeLocal Mode = "local"
	ModeCloud Mode = "cloud"
)

// Errors returned by registries.
var (
	ErrUnknownService = errors.New("unknown service")
	ErrNoURL          = errors.New("service has no url for mode")
	ErrInvalidMode    = errors.New("invalid discovery mode")
)

// Service describes one backend.
type Service struct {
	Name     string
	LocalURL string
	CloudURL string
}

// Resolver maps a service name to its base URL.
type Resolver interface {
	Resolve(ctx context.Context, service string) (*url.URL, error)
}

type endpoints struct {
	local *url.URL
	cloud *url.URL
}

// StaticRegistry resolves from an in-memory service table.
type StaticRegistry struct {
	mu       sync.RWMutex
	mode     Mode
	services map[string]endpoints
}

// NewStaticRegistry builds a registry from services.
func NewStaticRegistry(mode Mode, services []Service) (*StaticRegistry, error) {
	r := &StaticRegistry{}
	if err := r.Update(mode, services); err != nil {
		return nil, err
	}
	return r, nil
}

// Update atomically replaces the mode and service table.
func (r *StaticRegistry) Update(mode Mode, services []Service) error {
	if mode == "" {
		mode = ModeLocal
	}
	if mode != ModeLocal && mode != ModeCloud {
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}

	table := make(map[string]endpoints, len(services))
	for _, svc := range services {
		if svc.Name == "" {
			return errors.New("service name is required")
		}
		var ep endpoints
		var err error
		if ep.local, err = parseBase(svc.LocalURL); err != nil {
			return fmt.Errorf("service %s local url: %w", svc.Name, err)
		}
		if ep.cloud, err = parseBase(svc.CloudURL); err != nil {
			return fmt.Errorf("service %s cloud url: %w", svc.Name, err)
		}
		table[svc.Name] = ep
	}

	r.mu.Lock()
	r.mode = mode
	r.services = table
	r.mu.Unlock()
	return nil
}

// Resolve returns the base URL of service for the current mode, falling
// back to the other mode's URL when only one is configured. The returned
// URL is a copy the caller may modify.
func (r *StaticRegistry) Resolve(_ context.Context, service string) (*url.URL, error) {
	r.mu.RLock()
	ep, ok := r.services[service]
	mode := r.mode
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownService, service)
	}

	primary, secondary := ep.local, ep.cloud
	if mode == ModeCloud {
		primary, secondary = ep.cloud, ep.local
	}
	switch {
	case primary != nil:
		u := *primary
		return &u, nil
	case secondary != nil:
		u := *secondary
		return &u, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrNoURL, service)
	}
}

// Mode returns the active mode.
func (r *StaticRegistry) Mode() Mode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mode
}

// Services returns the registered service names, sorted.
func (r *StaticRegistry) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func parseBase(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("missing host")
	}
	return u, nil
}
