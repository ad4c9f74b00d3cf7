// Package spec defines the execution specification and resource limits.
package spec

// ResourceLimit describes hard limits enforced by the sandbox. Zero means unlimited.
type ResourceLimit struct {
	CPUTimeMs      int64 `yaml:"cpuTimeMs"`
	WallTimeMs     int64 `yaml:"wallTimeMs"`
	MemoryMB       int64 `yaml:"memoryMB"`
	AddressSpaceMB int64 `yaml:"addressSpaceMB"`
	StackMB        int64 `yaml:"stackMB"`
	OutputMB       int64 `yaml:"outputMB"`
	PIDs           int64 `yaml:"pids"`
}

// Merge fills every unset field of l from defaults.
func (l ResourceLimit) Merge(defaults ResourceLimit) ResourceLimit {
	pick := func(v, d int64) int64 {
		if v > 0 {
			return v
		}
		return d
	}
	return ResourceLimit{
		CPUTimeMs:      pick(l.CPUTimeMs, defaults.CPUTimeMs),
		WallTimeMs:     pick(l.WallTimeMs, defaults.WallTimeMs),
		MemoryMB:       pick(l.MemoryMB, defaults.MemoryMB),
		AddressSpaceMB: pick(l.AddressSpaceMB, defaults.AddressSpaceMB),
		StackMB:        pick(l.StackMB, defaults.StackMB),
		OutputMB:       pick(l.OutputMB, defaults.OutputMB),
		PIDs:           pick(l.PIDs, defaults.PIDs),
	}
}

// Credential is the identity the sandboxed process runs as. A nil
// Credential keeps the service's own identity.
type Credential struct {
	UID uint32
	GID uint32
}

// RunSpec is the unified execution specification for one process.
type RunSpec struct {
	SessionID  string
	Name       string
	WorkDir    string
	Cmd        []string
	Env        []string
	StdinPath  string
	StdoutPath string
	StderrPath string
	Credential *Credential
	Limits     ResourceLimit
}
