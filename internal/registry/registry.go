// Package registry manages the set of known access terminals.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"

	"gopkg.in/yaml.v3"

	"terminal-log-sync/internal/storage"
)

var (
	ErrInvalidName    = errors.New("device name must not be empty")
	ErrInvalidAddress = errors.New("device address must be host or host:port")
)

// Registry validates devices before handing them to the storage layer.
type Registry struct {
	store  storage.Provider
	logger *slog.Logger
}

func NewRegistry(store storage.Provider) *Registry {
	return &Registry{
		store:  store,
		logger: slog.With("component", "registry"),
	}
}

// Register validates and persists a device, returning it with its assigned id.
func (r *Registry) Register(ctx context.Context, device storage.Device) (*storage.Device, error) {
	if err := validate(device); err != nil {
		return nil, err
	}

	id, err := r.store.CreateDevice(ctx, device)
	if err != nil {
		return nil, err
	}
	device.ID = id

	r.logger.Info("Registered device", "device_id", id, "device", device.Name, "address", device.Address)
	return &device, nil
}

func (r *Registry) Get(ctx context.Context, deviceID int64) (*storage.Device, error) {
	return r.store.GetDevice(ctx, deviceID)
}

func (r *Registry) List(ctx context.Context) ([]storage.Device, error) {
	return r.store.ListDevices(ctx)
}

func (r *Registry) Remove(ctx context.Context, deviceID int64) error {
	if err := r.store.DeleteDevice(ctx, deviceID); err != nil {
		return err
	}
	r.logger.Info("Removed device", "device_id", deviceID)
	return nil
}

type seedFile struct {
	Devices []seedDevice `yaml:"devices"`
}

type seedDevice struct {
	Name     string `yaml:"name"`
	Address  string `yaml:"address"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Import reads a YAML seed document and registers every device in it.
// The whole document is validated before anything is written.
func (r *Registry) Import(ctx context.Context, src io.Reader) ([]storage.Device, error) {
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}

	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse device seed: %w", err)
	}

	for i, entry := range seed.Devices {
		device := storage.Device{
			Name:     entry.Name,
			Address:  entry.Address,
			Username: entry.Username,
			Password: entry.Password,
		}
		if err := validate(device); err != nil {
			return nil, fmt.Errorf("device %d in seed: %w", i+1, err)
		}
	}

	registered := make([]storage.Device, 0, len(seed.Devices))
	for _, entry := range seed.Devices {
		device, err := r.Register(ctx, storage.Device{
			Name:     entry.Name,
			Address:  entry.Address,
			Username: entry.Username,
			Password: entry.Password,
		})
		if err != nil {
			return registered, err
		}
		registered = append(registered, *device)
	}

	return registered, nil
}

func validate(device storage.Device) error {
	if strings.TrimSpace(device.Name) == "" {
		return ErrInvalidName
	}

	address := strings.TrimSpace(device.Address)
	if address == "" || strings.Contains(address, "/") {
		return ErrInvalidAddress
	}
	if host, port, err := net.SplitHostPort(address); err == nil {
		if host == "" || port == "" {
			return ErrInvalidAddress
		}
	}

	return nil
}
