package linkkit

import "sync"

// Routes the manager navigates to. Paths mirror the portal's page layout.
const (
	RouteHome            = "/"
	RouteLogin           = "/login"
	RouteRegister        = "/register"
	RouteSwitchAccount   = "/switch-account"
	RouteCompleteProfile = "/auth/complete-profile"
	RouteDashboard       = "/dashboard"
	RouteSuperAdminHome  = "/superadmin/dashboard"
)

// DashboardRoute maps a role to its landing dashboard.
func DashboardRoute(role Role) string {
	switch role {
	case RoleStudent:
		return RouteDashboard + "/student"
	case RoleEmployer:
		return RouteDashboard + "/employer"
	case RoleTPO:
		return RouteDashboard + "/tpo"
	case RoleAdmin:
		return RouteDashboard + "/admin"
	case RoleSuperAdmin:
		return RouteSuperAdminHome
	default:
		return RouteDashboard
	}
}

// Navigator receives the route the user should land on after an operation.
type Navigator interface {
	NavigateTo(path string)
}

// Notifier surfaces user-visible outcome messages.
type Notifier interface {
	Success(message string)
	Error(message string)
}

// RecordingNavigator remembers the most recent navigation target.
type RecordingNavigator struct {
	mutex sync.Mutex
	last  string
}

// NavigateTo records the path.
func (navigator *RecordingNavigator) NavigateTo(path string) {
	navigator.mutex.Lock()
	defer navigator.mutex.Unlock()
	navigator.last = path
}

// Last returns the most recently recorded path.
func (navigator *RecordingNavigator) Last() string {
	navigator.mutex.Lock()
	defer navigator.mutex.Unlock()
	return navigator.last
}

// CollectingNotifier accumulates notification messages.
type CollectingNotifier struct {
	mutex    sync.Mutex
	messages []Notification
}

// Notification is one user-visible message.
type Notification struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Success records a success message.
func (notifier *CollectingNotifier) Success(message string) {
	notifier.append(Notification{Level: "success", Message: message})
}

// Error records an error message.
func (notifier *CollectingNotifier) Error(message string) {
	notifier.append(Notification{Level: "error", Message: message})
}

// Drain returns all collected notifications and resets the collector.
func (notifier *CollectingNotifier) Drain() []Notification {
	notifier.mutex.Lock()
	defer notifier.mutex.Unlock()
	drained := notifier.messages
	notifier.messages = nil
	return drained
}

func (notifier *CollectingNotifier) append(notification Notification) {
	notifier.mutex.Lock()
	defer notifier.mutex.Unlock()
	notifier.messages = append(notifier.messages, notification)
}
