package tasks

import "sync"

// InstanceLocks hands out at most one lease per instance identity, so a
// provisioning and a deprovisioning workflow never interleave on the same
// instance. Leases are in-memory; a single engine process owns its instances.
type InstanceLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewInstanceLocks() *InstanceLocks {
	return &InstanceLocks{held: make(map[string]struct{})}
}

// TryAcquire takes the lease for key if it is free and returns an idempotent
// release function. ok is false when another holder has it.
func (l *InstanceLocks) TryAcquire(key string) (release func(), ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, taken := l.held[key]; taken {
		return nil, false
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, true
}

// Held reports whether key's lease is currently taken.
func (l *InstanceLocks) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, taken := l.held[key]
	return taken
}

func leaseKey(tenantID, serviceID, instanceName string) string {
	return tenantID + "/" + serviceID + "/" + instanceName
}
