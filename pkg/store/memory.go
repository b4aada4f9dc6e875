package store

import (
	"context"
	"sync"

	"github.com/attestry/attestry/pkg/contracts"
)

// Memory is the in-process reference backend. It implements every store
// contract and is the default for tests and ephemeral deployments.
type Memory struct {
	mu          sync.RWMutex
	receipts    []contracts.StoredReceipt
	receiptByID map[string]int

	events      []contracts.AuditEvent
	checkpoints []contracts.Checkpoint

	keys       map[string]contracts.KeyEntry
	keyOrder   []string
	issuers    map[string]bool
	issuerList []string

	flags map[string]string
}

var _ Backend = (*Memory)(nil)

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		receiptByID: make(map[string]int),
		keys:        make(map[string]contracts.KeyEntry),
		issuers:     make(map[string]bool),
		flags:       make(map[string]string),
	}
}

// --- ReceiptStore ---

func (m *Memory) AppendReceipt(ctx context.Context, rec contracts.StoredReceipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.receiptByID[rec.Capsule.ReceiptID]; exists {
		return ErrDuplicate
	}
	m.receipts = append(m.receipts, rec)
	m.receiptByID[rec.Capsule.ReceiptID] = len(m.receipts) - 1
	return nil
}

func (m *Memory) GetReceipt(ctx context.Context, receiptID string) (contracts.StoredReceipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.receiptByID[receiptID]
	if !ok {
		return contracts.StoredReceipt{}, ErrNotFound
	}
	return m.receipts[idx], nil
}

func (m *Memory) ListReceipts(ctx context.Context) ([]contracts.StoredReceipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]contracts.StoredReceipt, len(m.receipts))
	copy(out, m.receipts)
	return out, nil
}

func (m *Memory) FindByCoreHash(ctx context.Context, coreHash string) ([]contracts.StoredReceipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	// Full scan in insertion order keeps duplicate resolution deterministic.
	var out []contracts.StoredReceipt
	for _, r := range m.receipts {
		if r.CoreHash == coreHash {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) CountReceipts(ctx context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.receipts)), nil
}

// --- AuditEventStore ---

func (m *Memory) AppendEvent(ctx context.Context, ev contracts.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		if ev.PrevHash != contracts.GenesisHash {
			return ErrHeadConflict
		}
	} else if m.events[len(m.events)-1].EventHash != ev.PrevHash {
		return ErrHeadConflict
	}
	if ev.Sequence != uint64(len(m.events))+1 {
		return ErrHeadConflict
	}
	m.events = append(m.events, ev)
	return nil
}

func (m *Memory) GetEvent(ctx context.Context, seq uint64) (contracts.AuditEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if seq == 0 || seq > uint64(len(m.events)) {
		return contracts.AuditEvent{}, ErrNotFound
	}
	return m.events[seq-1], nil
}

func (m *Memory) RangeEvents(ctx context.Context, from, to uint64) ([]contracts.AuditEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if from == 0 {
		from = 1
	}
	if to == 0 || to > uint64(len(m.events)) {
		to = uint64(len(m.events))
	}
	if from > to {
		return nil, nil
	}
	out := make([]contracts.AuditEvent, to-from+1)
	copy(out, m.events[from-1:to])
	return out, nil
}

func (m *Memory) LastEvent(ctx context.Context) (contracts.AuditEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.events) == 0 {
		return contracts.AuditEvent{}, ErrNotFound
	}
	return m.events[len(m.events)-1], nil
}

func (m *Memory) CountEvents(ctx context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.events)), nil
}

// --- CheckpointStore ---

func (m *Memory) AppendCheckpoint(ctx context.Context, cp contracts.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.checkpoints {
		if existing.CheckpointID == cp.CheckpointID {
			return ErrDuplicate
		}
	}
	m.checkpoints = append(m.checkpoints, cp)
	return nil
}

func (m *Memory) GetCheckpoint(ctx context.Context, checkpointID string) (contracts.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, cp := range m.checkpoints {
		if cp.CheckpointID == checkpointID {
			return cp, nil
		}
	}
	return contracts.Checkpoint{}, ErrNotFound
}

func (m *Memory) ListCheckpoints(ctx context.Context) ([]contracts.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]contracts.Checkpoint, len(m.checkpoints))
	copy(out, m.checkpoints)
	return out, nil
}

func (m *Memory) LastCheckpoint(ctx context.Context) (contracts.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.checkpoints) == 0 {
		return contracts.Checkpoint{}, ErrNotFound
	}
	return m.checkpoints[len(m.checkpoints)-1], nil
}

// --- KeyStore ---

func (m *Memory) PutKey(ctx context.Context, entry contracts.KeyEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.keys[entry.KeyID]; exists {
		return ErrDuplicate
	}
	m.keys[entry.KeyID] = entry
	m.keyOrder = append(m.keyOrder, entry.KeyID)
	return nil
}

func (m *Memory) GetKey(ctx context.Context, keyID string) (contracts.KeyEntry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.keys[keyID]
	return entry, ok, nil
}

func (m *Memory) ListKeys(ctx context.Context) ([]contracts.KeyEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]contracts.KeyEntry, 0, len(m.keyOrder))
	for _, id := range m.keyOrder {
		out = append(out, m.keys[id])
	}
	return out, nil
}

func (m *Memory) SetKeyStatus(ctx context.Context, keyID string, status contracts.KeyStatus, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.keys[keyID]
	if !ok {
		return ErrNotFound
	}
	entry.Status = status
	if status == contracts.KeyStatusRevoked {
		entry.RevocationReason = reason
	}
	m.keys[keyID] = entry
	return nil
}

func (m *Memory) TrustIssuer(ctx context.Context, issuerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.issuers[issuerID] {
		m.issuers[issuerID] = true
		m.issuerList = append(m.issuerList, issuerID)
	}
	return nil
}

func (m *Memory) IsIssuerTrusted(ctx context.Context, issuerID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.issuers[issuerID], nil
}

func (m *Memory) TrustedIssuers(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.issuerList))
	copy(out, m.issuerList)
	return out, nil
}

// --- FlagStore ---

func (m *Memory) SetOnce(ctx context.Context, name, receiptID, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := name + "\x00" + receiptID
	if _, exists := m.flags[key]; exists {
		return false, nil
	}
	m.flags[key] = value
	return true, nil
}

func (m *Memory) GetFlag(ctx context.Context, name, receiptID string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.flags[name+"\x00"+receiptID]
	return v, ok, nil
}
