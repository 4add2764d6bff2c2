package linkkit

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// CurrentSession is the single active identity for the device.
type CurrentSession struct {
	User   Identity
	Tokens TokenPair
	Role   Role
}

// ManagerConfig carries the collaborators a Manager is built from.
type ManagerConfig struct {
	Identity  IdentityProvider
	Profiles  ProfileStore
	Store     KVStore
	Navigator Navigator
	Notifier  Notifier
	Logger    *zap.Logger
	Metrics   MetricsRecorder
}

// Manager owns the mapping from one device profile to its authenticated
// identities: it maintains the current session, the per-owner linked-account
// registries, and the single in-flight link request, and exposes the
// sign-in/link/switch/sign-out operations over them.
//
// Public operations serialize on an internal guard, so overlapping calls
// (double-clicked switch, sign-in racing a link) execute one at a time.
// Registry storage itself stays last-writer-wins across devices.
type Manager struct {
	identity  IdentityProvider
	profiles  ProfileStore
	store     KVStore
	navigator Navigator
	notifier  Notifier
	logger    *zap.Logger
	metrics   MetricsRecorder

	guard sync.Mutex

	stateMutex     sync.Mutex
	session        *CurrentSession
	linkedAccounts []LinkedAccount
}

// NewManager constructs a Manager. Identity, Profiles, and Store are
// required; the remaining collaborators default to no-ops.
func NewManager(config ManagerConfig) (*Manager, error) {
	if config.Identity == nil {
		return nil, errors.New("link.manager.missing_identity_provider")
	}
	if config.Profiles == nil {
		return nil, errors.New("link.manager.missing_profile_store")
	}
	if config.Store == nil {
		return nil, errors.New("link.manager.missing_store")
	}
	manager := &Manager{
		identity:  config.Identity,
		profiles:  config.Profiles,
		store:     config.Store,
		navigator: config.Navigator,
		notifier:  config.Notifier,
		logger:    config.Logger,
		metrics:   config.Metrics,
	}
	if manager.navigator == nil {
		manager.navigator = nopNavigator{}
	}
	if manager.notifier == nil {
		manager.notifier = nopNotifier{}
	}
	if manager.logger == nil {
		manager.logger = zap.NewNop()
	}
	if manager.metrics == nil {
		manager.metrics = nopMetrics{}
	}
	return manager, nil
}

// CurrentSession returns a copy of the active session, if any.
func (manager *Manager) CurrentSession() (CurrentSession, bool) {
	manager.stateMutex.Lock()
	defer manager.stateMutex.Unlock()
	if manager.session == nil {
		return CurrentSession{}, false
	}
	return *manager.session, true
}

// LinkedAccounts returns a snapshot of the current owner's registry list.
func (manager *Manager) LinkedAccounts() []LinkedAccount {
	manager.stateMutex.Lock()
	defer manager.stateMutex.Unlock()
	snapshot := make([]LinkedAccount, len(manager.linkedAccounts))
	copy(snapshot, manager.linkedAccounts)
	return snapshot
}

// SignIn authenticates with email and password, completing a pending link
// when one is in flight and performing an ordinary sign-in otherwise.
func (manager *Manager) SignIn(ctx context.Context, email string, password string) error {
	manager.guard.Lock()
	defer manager.guard.Unlock()

	pending, pendingErr := manager.loadPendingLink(ctx)
	if pendingErr != nil {
		return manager.failOp(pendingErr, "link.signin.pending_load", signInGenericMessage)
	}

	session, authErr := manager.identity.AuthenticateWithPassword(ctx, email, password)
	if authErr != nil {
		if pending != nil {
			manager.clearPendingLink(ctx)
		}
		if errors.Is(authErr, ErrProviderInvalidLogin) {
			manager.metrics.Increment(MetricSignInInvalid)
			manager.notifier.Error("Invalid email or password")
			manager.logger.Info("sign-in rejected",
				zap.String("code", "link.signin.invalid_credentials"),
				zap.String("email", email))
			return fmt.Errorf("link.signin: %w", ErrInvalidCredentials)
		}
		return manager.failOp(authErr, "link.signin.provider_error", signInGenericMessage)
	}

	return manager.completeAuthenticatedLocked(ctx, session, pending, false)
}

// BeginOAuth starts a redirect-based OAuth flow and returns the redirect URL.
func (manager *Manager) BeginOAuth(ctx context.Context, provider string, redirectTarget string) (string, error) {
	redirectURL, err := manager.identity.BeginOAuth(ctx, provider, redirectTarget)
	if err != nil {
		return "", manager.failOp(err, "link.oauth.begin", "An error occurred during sign in")
	}
	return redirectURL, nil
}

// CompleteOAuthSignIn resumes after an OAuth redirect with the delivered
// session. Mirrors SignIn's post-authentication path, except a missing
// profile routes to profile completion instead of failing, because OAuth
// signups do not pre-register a role.
func (manager *Manager) CompleteOAuthSignIn(ctx context.Context, session Session) error {
	manager.guard.Lock()
	defer manager.guard.Unlock()

	pending, pendingErr := manager.loadPendingLink(ctx)
	if pendingErr != nil {
		return manager.failOp(pendingErr, "link.oauth.pending_load", signInGenericMessage)
	}
	return manager.completeAuthenticatedLocked(ctx, session, pending, true)
}

const signInGenericMessage = "An error occurred during sign in"

// completeAuthenticatedLocked is the shared post-authentication path: role
// lookup, then either the linking branch or an ordinary sign-in. Callers hold
// the guard.
func (manager *Manager) completeAuthenticatedLocked(ctx context.Context, session Session, pending *PendingLinkRequest, oauthFlow bool) error {
	role, roleErr := manager.profiles.GetRole(ctx, session.Identity.ID)
	if roleErr != nil {
		if pending != nil {
			manager.clearPendingLink(ctx)
		}
		if errors.Is(roleErr, ErrProfileNotFound) {
			if oauthFlow {
				// Brand-new OAuth identity: no profile row yet.
				manager.navigator.NavigateTo(RouteCompleteProfile)
				return nil
			}
			manager.metrics.Increment(MetricSignInNoProfile)
			manager.notifier.Error("Account not found. Please sign up first.")
			manager.navigator.NavigateTo(RouteRegister)
			return fmt.Errorf("link.signin: %w", ErrAccountNotFound)
		}
		return manager.failOp(roleErr, "link.signin.role_lookup", signInGenericMessage)
	}

	current := LinkedAccount{
		ID:           session.Identity.ID,
		Email:        session.Identity.Email,
		FullName:     session.Identity.FullName,
		AvatarURL:    session.Identity.AvatarURL,
		AccessToken:  session.Tokens.AccessToken,
		RefreshToken: session.Tokens.RefreshToken,
	}

	if pending != nil && pending.Previous.ID != "" && pending.Previous.ID != current.ID {
		return manager.completeLinkLocked(ctx, current, *pending)
	}
	if pending != nil {
		// Re-authenticated the same account mid-link; the link intent is spent.
		manager.clearPendingLink(ctx)
	}

	registry, found, loadErr := manager.loadRegistry(ctx, current.ID)
	if loadErr != nil {
		return manager.failOp(loadErr, "link.signin.registry_load", signInGenericMessage)
	}
	if !found {
		registry = []LinkedAccount{current}
	} else {
		registry = registryUpsert(registry, current)
	}
	if saveErr := manager.saveRegistry(ctx, current.ID, registry); saveErr != nil {
		return manager.failOp(saveErr, "link.signin.registry_save", signInGenericMessage)
	}

	manager.setState(&CurrentSession{User: session.Identity, Tokens: session.Tokens, Role: role}, registry)
	manager.metrics.Increment(MetricSignInSuccess)
	manager.notifier.Success("Signed in successfully!")
	if role == RoleSuperAdmin {
		manager.navigator.NavigateTo(RouteSuperAdminHome)
	} else {
		manager.navigator.NavigateTo(RouteHome)
	}
	return nil
}

// completeLinkLocked performs the two-sided registry update and switches back
// to the account that initiated the link.
func (manager *Manager) completeLinkLocked(ctx context.Context, current LinkedAccount, pending PendingLinkRequest) error {
	if registryContainsID(pending.PreviousRegistry, current.ID) {
		manager.clearPendingLink(ctx)
		manager.metrics.Increment(MetricLinkAlreadyLinked)
		manager.notifier.Error("This account is already linked")
		manager.navigator.NavigateTo(RouteSwitchAccount)
		return fmt.Errorf("link.signin: %w", ErrAlreadyLinked)
	}

	previousRegistry := append(registryWithoutID(pending.PreviousRegistry, current.ID), current)

	// The new owner's registry is seeded with itself plus only the account
	// that initiated the link; unrelated third accounts are not carried over.
	currentRegistry := []LinkedAccount{current}
	for _, account := range pending.PreviousRegistry {
		if account.ID == pending.Previous.ID {
			currentRegistry = append(currentRegistry, account)
		}
	}

	if saveErr := manager.saveRegistry(ctx, pending.Previous.ID, previousRegistry); saveErr != nil {
		manager.clearPendingLink(ctx)
		return manager.failOp(saveErr, "link.link.save_previous", signInGenericMessage)
	}
	if saveErr := manager.saveRegistry(ctx, current.ID, currentRegistry); saveErr != nil {
		manager.clearPendingLink(ctx)
		return manager.failOp(saveErr, "link.link.save_current", signInGenericMessage)
	}

	manager.clearPendingLink(ctx)
	manager.metrics.Increment(MetricLinkSuccess)
	manager.notifier.Success("Account linked successfully!")
	manager.logger.Info("linked account",
		zap.String("code", "link.link.success"),
		zap.String("previous_id", pending.Previous.ID),
		zap.String("new_id", current.ID))

	return manager.switchLocked(ctx, pending.Previous.Email)
}

// SwitchAccount activates the linked account with the given email.
func (manager *Manager) SwitchAccount(ctx context.Context, email string) error {
	manager.guard.Lock()
	defer manager.guard.Unlock()
	return manager.switchLocked(ctx, email)
}

func (manager *Manager) switchLocked(ctx context.Context, email string) error {
	manager.stateMutex.Lock()
	cached := make([]LinkedAccount, len(manager.linkedAccounts))
	copy(cached, manager.linkedAccounts)
	currentSession := manager.session
	manager.stateMutex.Unlock()

	account, found := registryFindByEmail(cached, email)
	if !found {
		manager.notifier.Error("Account not found")
		return fmt.Errorf("link.switch: %w", ErrAccountNotFound)
	}

	session, activateErr := manager.identity.ActivateSession(ctx, TokenPair{
		AccessToken:  account.AccessToken,
		RefreshToken: account.RefreshToken,
	})
	if activateErr != nil {
		refreshed, refreshErr := manager.identity.RefreshSession(ctx, account.RefreshToken)
		if refreshErr != nil {
			// Cached credentials are permanently invalid; prune the account
			// from the current owner's registry only.
			if currentSession != nil {
				pruned := registryWithoutEmail(cached, email)
				if saveErr := manager.saveRegistry(ctx, currentSession.User.ID, pruned); saveErr != nil {
					manager.logger.Error("failed to prune expired account",
						zap.String("code", "link.switch.prune"),
						zap.Error(saveErr))
				} else {
					manager.setLinkedAccounts(pruned)
				}
			}
			manager.metrics.Increment(MetricSwitchExpired)
			manager.notifier.Error("Session expired. Please log in again.")
			manager.navigator.NavigateTo(RouteLogin)
			return fmt.Errorf("link.switch: %w", ErrSessionExpired)
		}
		session = refreshed
	}

	role, roleErr := manager.profiles.GetRole(ctx, session.Identity.ID)
	if roleErr != nil {
		if errors.Is(roleErr, ErrProfileNotFound) {
			manager.metrics.Increment(MetricSwitchRemoved)
			manager.notifier.Error("Account no longer exists")
			manager.navigator.NavigateTo(RouteLogin)
			return fmt.Errorf("link.switch: %w", ErrAccountRemoved)
		}
		return manager.failOp(roleErr, "link.switch.role_lookup", "Failed to switch account")
	}

	updatedAccount := account
	updatedAccount.AccessToken = session.Tokens.AccessToken
	updatedAccount.RefreshToken = session.Tokens.RefreshToken

	targetRegistry, foundTarget, loadErr := manager.loadRegistry(ctx, session.Identity.ID)
	if loadErr != nil {
		return manager.failOp(loadErr, "link.switch.registry_load", "Failed to switch account")
	}
	if !foundTarget {
		targetRegistry = []LinkedAccount{updatedAccount}
	} else {
		targetRegistry = registryUpsert(targetRegistry, updatedAccount)
	}
	if saveErr := manager.saveRegistry(ctx, session.Identity.ID, targetRegistry); saveErr != nil {
		return manager.failOp(saveErr, "link.switch.registry_save", "Failed to switch account")
	}

	manager.setState(&CurrentSession{User: session.Identity, Tokens: session.Tokens, Role: role}, targetRegistry)
	manager.metrics.Increment(MetricSwitchSuccess)
	manager.notifier.Success("Switched account successfully!")
	manager.navigator.NavigateTo(DashboardRoute(role))
	return nil
}

// AddLinkedAccount snapshots the current identity and registry as a pending
// link request and routes to the authentication entry point. No registry
// mutation happens until the new account authenticates.
func (manager *Manager) AddLinkedAccount(ctx context.Context) error {
	manager.guard.Lock()
	defer manager.guard.Unlock()

	manager.stateMutex.Lock()
	currentSession := manager.session
	registry := make([]LinkedAccount, len(manager.linkedAccounts))
	copy(registry, manager.linkedAccounts)
	manager.stateMutex.Unlock()

	if currentSession == nil {
		manager.notifier.Error("Failed to prepare account linking")
		return fmt.Errorf("link.add: %w", ErrNoCurrentSession)
	}

	pending := PendingLinkRequest{
		Previous: LinkedAccount{
			ID:           currentSession.User.ID,
			Email:        currentSession.User.Email,
			FullName:     currentSession.User.FullName,
			AvatarURL:    currentSession.User.AvatarURL,
			AccessToken:  currentSession.Tokens.AccessToken,
			RefreshToken: currentSession.Tokens.RefreshToken,
		},
		PreviousRegistry: registry,
	}
	if saveErr := manager.savePendingLink(ctx, pending); saveErr != nil {
		return manager.failOp(saveErr, "link.add.save_pending", "Failed to prepare account linking")
	}

	manager.navigator.NavigateTo(RouteLogin)
	return nil
}

// SignOut invalidates the current session, unlinks this identity from every
// other linked account's registry, and removes its own registry entry.
func (manager *Manager) SignOut(ctx context.Context) error {
	manager.guard.Lock()
	defer manager.guard.Unlock()

	manager.stateMutex.Lock()
	currentSession := manager.session
	accounts := make([]LinkedAccount, len(manager.linkedAccounts))
	copy(accounts, manager.linkedAccounts)
	manager.stateMutex.Unlock()

	if currentSession == nil {
		manager.navigator.NavigateTo(RouteHome)
		return nil
	}

	if err := manager.identity.InvalidateSession(ctx, currentSession.Tokens); err != nil {
		return manager.failOp(err, "link.signout.invalidate", "An error occurred during sign out")
	}

	currentID := currentSession.User.ID
	currentEmail := currentSession.User.Email
	manager.setState(nil, nil)

	for _, account := range accounts {
		if account.Email == currentEmail {
			continue
		}
		otherRegistry, found, loadErr := manager.loadRegistry(ctx, account.ID)
		if loadErr != nil || !found {
			if loadErr != nil {
				manager.logger.Warn("failed to load linked registry during sign-out",
					zap.String("code", "link.signout.unlink_load"),
					zap.String("owner_id", account.ID),
					zap.Error(loadErr))
			}
			continue
		}
		remaining := registryWithoutID(otherRegistry, currentID)
		var updateErr error
		if len(remaining) > 0 {
			updateErr = manager.saveRegistry(ctx, account.ID, remaining)
		} else {
			updateErr = manager.store.Delete(ctx, RegistryKey(account.ID))
		}
		if updateErr != nil {
			manager.logger.Warn("failed to unlink account during sign-out",
				zap.String("code", "link.signout.unlink_save"),
				zap.String("owner_id", account.ID),
				zap.Error(updateErr))
		}
	}

	if deleteErr := manager.store.Delete(ctx, RegistryKey(currentID)); deleteErr != nil {
		manager.logger.Warn("failed to delete own registry during sign-out",
			zap.String("code", "link.signout.delete_own"),
			zap.Error(deleteErr))
	}

	manager.metrics.Increment(MetricSignOut)
	manager.notifier.Success("Signed out successfully")
	manager.navigator.NavigateTo(RouteHome)
	return nil
}

// SignOutAllAccounts invalidates the session and deletes the registry entry
// of every account linked to the current owner. Destructive superset of
// SignOut.
func (manager *Manager) SignOutAllAccounts(ctx context.Context) error {
	manager.guard.Lock()
	defer manager.guard.Unlock()

	manager.stateMutex.Lock()
	currentSession := manager.session
	accounts := make([]LinkedAccount, len(manager.linkedAccounts))
	copy(accounts, manager.linkedAccounts)
	manager.stateMutex.Unlock()

	if currentSession == nil {
		manager.navigator.NavigateTo(RouteHome)
		return nil
	}

	if err := manager.identity.InvalidateSession(ctx, currentSession.Tokens); err != nil {
		return manager.failOp(err, "link.signout_all.invalidate", "An error occurred during sign out")
	}

	manager.setState(nil, nil)

	for _, account := range accounts {
		if deleteErr := manager.store.Delete(ctx, RegistryKey(account.ID)); deleteErr != nil {
			manager.logger.Warn("failed to delete registry during sign-out-all",
				zap.String("code", "link.signout_all.delete"),
				zap.String("owner_id", account.ID),
				zap.Error(deleteErr))
		}
	}

	manager.metrics.Increment(MetricSignOutAll)
	manager.notifier.Success("Signed out from all accounts successfully")
	manager.navigator.NavigateTo(RouteHome)
	return nil
}

// loadRegistry fetches and decodes an owner's registry. Absent keys report
// found=false. Undecodable blobs also report found=false: the stored policy
// is to re-initialize rather than fail, and the branch is metered so it
// stays observable.
func (manager *Manager) loadRegistry(ctx context.Context, ownerID string) ([]LinkedAccount, bool, error) {
	raw, getErr := manager.store.Get(ctx, RegistryKey(ownerID))
	if getErr != nil {
		if errors.Is(getErr, ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("link.registry.load: %w", getErr)
	}
	registry, decodeErr := DecodeRegistry(raw)
	if decodeErr != nil {
		manager.metrics.Increment(MetricRegistryParseFailure)
		manager.logger.Warn("re-initializing undecodable registry",
			zap.String("code", "link.registry.parse_failure"),
			zap.String("owner_id", ownerID),
			zap.Error(decodeErr))
		return nil, false, nil
	}
	return registry, true, nil
}

func (manager *Manager) saveRegistry(ctx context.Context, ownerID string, registry []LinkedAccount) error {
	encoded, encodeErr := EncodeRegistry(registry)
	if encodeErr != nil {
		return encodeErr
	}
	if setErr := manager.store.Set(ctx, RegistryKey(ownerID), encoded); setErr != nil {
		return fmt.Errorf("link.registry.save: %w", setErr)
	}
	return nil
}

func (manager *Manager) setState(session *CurrentSession, registry []LinkedAccount) {
	manager.stateMutex.Lock()
	defer manager.stateMutex.Unlock()
	manager.session = session
	manager.linkedAccounts = registry
}

func (manager *Manager) setLinkedAccounts(registry []LinkedAccount) {
	manager.stateMutex.Lock()
	defer manager.stateMutex.Unlock()
	manager.linkedAccounts = registry
}

// failOp logs an unexpected collaborator failure, surfaces a generic
// notification, and returns the wrapped error.
func (manager *Manager) failOp(err error, code string, message string) error {
	manager.logger.Error("operation failed",
		zap.String("code", code),
		zap.Error(err))
	manager.notifier.Error(message)
	return fmt.Errorf("%s: %w", code, err)
}

type nopNavigator struct{}

func (nopNavigator) NavigateTo(string) {}

type nopNotifier struct{}

func (nopNotifier) Success(string) {}
func (nopNotifier) Error(string)  {}

type nopMetrics struct{}

func (nopMetrics) Increment(string) {}
