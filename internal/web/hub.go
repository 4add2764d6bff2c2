package web

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/talentexcel/accountd/internal/linkkit"
)

// ErrMissingDeviceID indicates a request arrived without a device identifier.
var ErrMissingDeviceID = errors.New("web.missing_device_id")

// DeviceContext couples one device's manager with the collaborators the HTTP
// layer reads operation outcomes from.
type DeviceContext struct {
	Manager   *linkkit.Manager
	Navigator *linkkit.RecordingNavigator
	Notifier  *linkkit.CollectingNotifier
}

// ManagerHub hands out one linking manager per device profile. Each manager
// sees the shared storage backend through a device-scoped namespace, so the
// registry key shapes stay identical to what a single device would store.
type ManagerHub struct {
	mutex    sync.Mutex
	devices  map[string]*DeviceContext
	identity linkkit.IdentityProvider
	profiles linkkit.ProfileStore
	backend  linkkit.KVStore
	logger   *zap.Logger
	metrics  linkkit.MetricsRecorder
}

// NewManagerHub constructs a hub over the shared collaborators.
func NewManagerHub(identity linkkit.IdentityProvider, profileStore linkkit.ProfileStore, backend linkkit.KVStore, logger *zap.Logger, metrics linkkit.MetricsRecorder) *ManagerHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ManagerHub{
		devices:  make(map[string]*DeviceContext),
		identity: identity,
		profiles: profileStore,
		backend:  backend,
		logger:   logger,
		metrics:  metrics,
	}
}

// Device returns the manager context for the given device id, creating it on
// first use.
func (hub *ManagerHub) Device(deviceID string) (*DeviceContext, error) {
	if deviceID == "" {
		return nil, ErrMissingDeviceID
	}
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	if device, ok := hub.devices[deviceID]; ok {
		return device, nil
	}

	navigator := &linkkit.RecordingNavigator{}
	notifier := &linkkit.CollectingNotifier{}
	manager, managerErr := linkkit.NewManager(linkkit.ManagerConfig{
		Identity:  hub.identity,
		Profiles:  hub.profiles,
		Store:     linkkit.NewNamespacedStore(hub.backend, "device:"+deviceID),
		Navigator: navigator,
		Notifier:  notifier,
		Logger:    hub.logger.With(zap.String("device_id", deviceID)),
		Metrics:   hub.metrics,
	})
	if managerErr != nil {
		return nil, managerErr
	}
	device := &DeviceContext{
		Manager:   manager,
		Navigator: navigator,
		Notifier:  notifier,
	}
	hub.devices[deviceID] = device
	return device, nil
}
