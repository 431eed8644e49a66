package resilience

import (
	"context"

	"go.uber.org/zap"

	gwerrors "github.com/finkor/brokergate/pkg/errors"
)

// RecoveryAction is what the manager decides to do about a classified error.
type RecoveryAction string

const (
	ActionNone      RecoveryAction = "none"
	ActionReauth    RecoveryAction = "re-authenticate"
	ActionReconnect RecoveryAction = "reconnect-transport"
)

// RecoveryHooks are the provider-supplied operations the manager can run.
// Either hook may be nil when the provider cannot perform that action.
type RecoveryHooks struct {
	Reauthenticate func(context.Context) error
	Reconnect      func(context.Context) error
}

// RecoveryManager selects and executes a recovery action for a failed call.
// Callers that receive recovered=true re-issue the original call exactly once.
type RecoveryManager struct {
	hooks  RecoveryHooks
	logger *zap.Logger
}

func NewRecoveryManager(hooks RecoveryHooks, logger *zap.Logger) *RecoveryManager {
	return &RecoveryManager{hooks: hooks, logger: logger}
}

// Classify maps an error kind to the recovery action worth attempting.
func (m *RecoveryManager) Classify(err error) RecoveryAction {
	switch gwerrors.KindOf(err) {
	case gwerrors.KindAuthentication:
		return ActionReauth
	case gwerrors.KindNetwork, gwerrors.KindTimeout:
		return ActionReconnect
	default:
		return ActionNone
	}
}

// Recover attempts the action selected for err and reports whether it
// succeeded. A failed recovery never masks the original error.
func (m *RecoveryManager) Recover(ctx context.Context, err error) bool {
	action := m.Classify(err)

	var hook func(context.Context) error
	switch action {
	case ActionReauth:
		hook = m.hooks.Reauthenticate
	case ActionReconnect:
		hook = m.hooks.Reconnect
	default:
		return false
	}
	if hook == nil {
		return false
	}

	m.logger.Info("attempting error recovery",
		zap.String("action", string(action)),
		zap.Error(err))

	if recoverErr := hook(ctx); recoverErr != nil {
		m.logger.Warn("recovery failed",
			zap.String("action", string(action)),
			zap.Error(recoverErr))
		return false
	}

	m.logger.Info("recovery succeeded", zap.String("action", string(action)))
	return true
}
