// Package security defines sandbox isolation profiles and the restricted
// identities sandboxed processes run as.
package security

// DefaultScratchDirs are the world-writable directories a sandboxed process
// could otherwise leave files in for a later session.
var DefaultScratchDirs = []string{"/tmp", "/var/tmp", "/dev/shm"}

// IsolationProfile describes namespace and seccomp settings.
type IsolationProfile struct {
	SeccompProfile string `yaml:"seccompProfile"`
	DisableNetwork bool   `yaml:"disableNetwork"`
	// ScratchDirs get a private tmpfs inside the mount namespace.
	ScratchDirs []string `yaml:"scratchDirs"`
}

// WithDefaults fills unset fields.
func (p IsolationProfile) WithDefaults() IsolationProfile {
	if len(p.ScratchDirs) == 0 {
		p.ScratchDirs = append([]string(nil), DefaultScratchDirs...)
	}
	return p
}
