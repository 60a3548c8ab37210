package config

import (
	"github.com/spf13/viper"

	"github.com/openagents/openagents/internal/constants"
)

// setDefaults registers built-in defaults on the viper instance.
// Every key the Project struct exposes has a default so a bare
// project.json with only projectId is usable.
func setDefaults(v *viper.Viper) {
	v.SetDefault("defaultBranch", "main")
	v.SetDefault("allowPush", false)
	v.SetDefault("allowForcePush", false)

	v.SetDefault("healer.enabled", true)
	v.SetDefault("healer.maxInvocationsPerSession", constants.DefaultSessionHealLimit)
	v.SetDefault("healer.maxInvocationsPerSubtask", constants.DefaultSubtaskHealLimit)
	v.SetDefault("healer.mode", string(ModeConservative))
	v.SetDefault("healer.stuckThresholdHours", constants.DefaultStuckThreshold.Hours())
	v.SetDefault("healer.minConsecutiveFailures", constants.DefaultMinConsecutiveFailures)
	v.SetDefault("healer.greenCommitSource", string(GreenFromHealth))
	v.SetDefault("healer.scenarios.onInitFailure", true)
	v.SetDefault("healer.scenarios.onVerificationFailure", true)
	v.SetDefault("healer.scenarios.onSubtaskFailure", true)
	v.SetDefault("healer.scenarios.onRuntimeError", true)
	v.SetDefault("healer.scenarios.onStuckSubtask", true)

	v.SetDefault("worker.command", "openagents-worker")
	v.SetDefault("worker.timeout", constants.DefaultWorkerTimeout)
	v.SetDefault("worker.gracePeriod", constants.DefaultGracePeriod)

	v.SetDefault("health.timeout", constants.DefaultHealthTimeout)

	v.SetDefault("session.lockStaleAfter", constants.DefaultLockStaleAfter)
}
