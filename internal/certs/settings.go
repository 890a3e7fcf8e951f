package certs

import (
	"go.uber.org/zap"

	"github.com/josystem/webhost/internal/config"
	"github.com/josystem/webhost/internal/logging"
)

// FromSettings builds a Provisioner over file stores for the configured
// directories, machine scope first. Empty directories fall back to
// DefaultStoreDirs under configDir.
func FromSettings(s config.CertificateSettings, configDir string, sink logging.Sink) *Provisioner {
	machineDir, userDir := DefaultStoreDirs(configDir)
	if s.MachineStoreDir != "" {
		machineDir = s.MachineStoreDir
	}
	if s.UserStoreDir != "" {
		userDir = s.UserStoreDir
	}

	var trust *SystemTrust
	if s.SystemTrustDir != "" {
		trust = &SystemTrust{Dir: s.SystemTrustDir}
	}

	logging.Debug("Certificate stores",
		zap.String("machine", machineDir),
		zap.String("user", userDir),
		zap.String("system_trust", s.SystemTrustDir))

	return NewProvisioner(Options{
		Stores: []CertStore{
			NewFileStore(ScopeMachine, machineDir),
			NewFileStore(ScopeUser, userDir),
		},
		ExtraHosts:                s.ExtraHosts,
		RegenerateOnAddressChange: s.RegenerateOnAddressChange,
		Trust:                     trust,
		Sink:                      sink,
	})
}

// Stores returns the stores the provisioner searches, in order.
func (p *Provisioner) Stores() []CertStore {
	return append([]CertStore(nil), p.opts.Stores...)
}
